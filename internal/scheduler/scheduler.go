// Package scheduler drives the per-segment download loop: consult the MPD
// provider and ABR selector, hand segment URLs to the download manager,
// honor buffer high-water, and react to the BETA governor's drop-and-
// replace decisions by re-entering the same index at the lowest quality.
// This is spec.md section 4.E.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"dashgov/internal/abr"
	"dashgov/internal/download"
	"dashgov/internal/logger"
	"dashgov/internal/models"
)

// BufferGauge is the buffer-occupancy capability the scheduler reads and
// fills (Enqueue after each completed segment); owned by the player, per
// spec.md section 3.
type BufferGauge interface {
	BufferLevel() float64
	Enqueue(d time.Duration)
}

// BandwidthEstimator is the read-only bandwidth capability the scheduler
// passes through to the ABR selector; satisfied by bandwidth.Meter.
type BandwidthEstimator interface {
	Estimate() float64
}

// Observer is the SchedulerObserver capability: the scheduler reports its
// segment lifecycle so the governor and analyzer can track it without the
// scheduler depending on either directly.
type Observer interface {
	OnSegmentDownloadStart(index int, selections []Selection)
	OnSegmentDownloadComplete(index int)
}

// PresentationSource supplies the current presentation view. The scheduler
// re-reads it on every loop iteration rather than caching one snapshot, so
// a dynamic manifest's background refresh (internal/mpdprovider, spec.md
// section 4.C) is picked up without restarting the scheduler. A static
// *models.Presentation satisfies this trivially (see its Presentation
// method) for fixed manifests and tests.
type PresentationSource interface {
	Presentation() *models.Presentation
}

// Selection is one (adaptation set, representation) pair chosen for a
// segment; mirrors beta.Selection without importing the governor package.
type Selection struct {
	AdaptationSetID  string
	RepresentationID string
	URL              string
}

// Scheduler is the single long-running per-segment download loop.
type Scheduler struct {
	source    PresentationSource
	selector  *abr.BetaSelector
	manager   download.Manager
	buffer    BufferGauge
	bandwidth BandwidthEstimator
	log       logger.Logger
	observers []Observer

	maxBufferDuration time.Duration
	updateInterval    time.Duration

	index             int
	droppedIndex      int // -1 when no forced-lowest re-selection is pending
	initialized       map[string]bool
	cancelRequested   map[int]bool
	currentSelections map[string]string // adaptation set id -> representation id, for the in-flight index

	slope *SlopeAdjuster
}

// New creates a Scheduler over source, selecting representations via
// selector and fetching through manager. source is re-read on every loop
// iteration, not snapshotted once, so it may be a live mpdprovider.Provider.
func New(source PresentationSource, selector *abr.BetaSelector, manager download.Manager, buffer BufferGauge, bandwidth BandwidthEstimator, log logger.Logger, maxBufferDuration, updateInterval time.Duration) *Scheduler {
	return &Scheduler{
		source:            source,
		selector:          selector,
		manager:           manager,
		buffer:            buffer,
		bandwidth:         bandwidth,
		log:               log,
		maxBufferDuration: maxBufferDuration,
		updateInterval:    updateInterval,
		droppedIndex:      -1,
		initialized:       make(map[string]bool),
		cancelRequested:   make(map[int]bool),
		currentSelections: make(map[string]string),
	}
}

// AddObserver registers a lifecycle observer.
func (s *Scheduler) AddObserver(o Observer) {
	s.observers = append(s.observers, o)
}

// SetSlopeAdjuster attaches the experimental post-ABR quality-level
// adjustment (spec.md section 9's open question); nil (the default)
// disables it entirely.
func (s *Scheduler) SetSlopeAdjuster(sa *SlopeAdjuster) {
	s.slope = sa
}

// OnBandwidthUpdate implements bandwidth.UpdateSink, feeding bandwidth
// samples into the slope adjuster (a no-op when none is attached or it is
// disabled).
func (s *Scheduler) OnBandwidthUpdate(bwBitsPerSecond float64) {
	if s.slope != nil {
		s.slope.Observe(bwBitsPerSecond)
	}
}

// presentation re-reads the current presentation view from source. Calling
// this fresh on every use (rather than once at construction) is what lets a
// dynamic manifest's refresh reach the scheduler's loop.
func (s *Scheduler) presentation() *models.Presentation {
	return s.source.Presentation()
}

// DropIndex externally primes the lowest-quality re-selection for the next
// loop iteration, matching the governor's drop-and-replace contract: the
// scheduler's own loop also sets this internally when wait_complete yields
// nil, but external callers (tests, the CLI harness) can prime it too.
func (s *Scheduler) DropIndex(index int) {
	s.droppedIndex = index
}

// CancelTask stops all representations of the given index if it is still
// the current selection and index > 0, per spec.md section 4.E's
// "reserved for future use" contract.
func (s *Scheduler) CancelTask(index int) {
	if index <= 0 || index != s.index {
		return
	}
	s.cancelRequested[index] = true
	presentation := s.presentation()
	for asID, repID := range s.currentSelections {
		as := presentation.AdaptationSets[asID]
		rep, ok := as.Representations[repID]
		if !ok || index >= len(rep.Segments) {
			continue
		}
		s.manager.Stop(rep.Segments[index].URL)
	}
}

// Run executes the scheduler's main loop until every representation's
// segments are exhausted or ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if s.buffer.BufferLevel() > s.maxBufferDuration.Seconds() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.updateInterval):
			}
			continue
		}

		chooseLowest := s.index == s.droppedIndex
		selections, segDuration, end, err := s.selectAndDownload(chooseLowest)
		if err != nil {
			return err
		}
		if end {
			return nil
		}

		s.notifyStart(selections)

		results, dropped, err := s.awaitCompletion(ctx, selections)
		if err != nil {
			return err
		}
		if dropped {
			s.droppedIndex = s.index
			continue
		}
		_ = results

		s.notifyComplete(s.index)
		s.buffer.Enqueue(segDuration)
		s.index++
		s.droppedIndex = -1
	}
}

func (s *Scheduler) selectAndDownload(chooseLowest bool) (selections []Selection, segDuration time.Duration, end bool, err error) {
	presentation := s.presentation()
	for _, asID := range presentation.AdaptationSetOrder {
		as := presentation.AdaptationSets[asID]

		repID := s.selector.Select(as, chooseLowest, s.bandwidth.Estimate(), s.buffer.BufferLevel())
		if !chooseLowest && s.slope != nil {
			if reduce := s.slope.ReduceQualityLevels(); reduce > 0 {
				repID = reduceQualityLevels(as, repID, reduce)
			}
		}
		rep, ok := as.Representations[repID]
		if !ok {
			return nil, 0, false, fmt.Errorf("scheduler: abr selected unknown representation %q in adaptation set %s", repID, asID)
		}

		initKey := asID + "/" + rep.ID
		if !s.initialized[initKey] {
			s.manager.Download(rep.InitURL)
			if _, err := s.manager.WaitComplete(context.Background(), rep.InitURL); err != nil {
				return nil, 0, false, fmt.Errorf("scheduler: fetching init segment for %s: %w", initKey, err)
			}
			s.initialized[initKey] = true
		}

		if s.index >= len(rep.Segments) {
			return nil, 0, true, nil
		}
		seg := rep.Segments[s.index]
		segDuration = seg.Duration
		s.currentSelections[asID] = rep.ID

		s.manager.Download(seg.URL)
		selections = append(selections, Selection{
			AdaptationSetID:  asID,
			RepresentationID: rep.ID,
			URL:              seg.URL,
		})
	}
	return selections, segDuration, false, nil
}

func (s *Scheduler) awaitCompletion(ctx context.Context, selections []Selection) ([]*download.Result, bool, error) {
	results := make([]*download.Result, 0, len(selections))
	for _, sel := range selections {
		res, err := s.manager.WaitComplete(ctx, sel.URL)
		if err != nil {
			return nil, false, fmt.Errorf("scheduler: waiting on %s: %w", sel.URL, err)
		}
		if res == nil {
			return nil, true, nil
		}
		results = append(results, res)
	}
	return results, false, nil
}

// reduceQualityLevels steps repID down by levels positions in as's
// representations ordered by ascending bandwidth, floored at the lowest
// representation. Used by the slope adjuster to pull the ABR selection
// down ahead of the governor's reactive stop/drop path.
func reduceQualityLevels(as *models.AdaptationSet, repID string, levels int) string {
	ordered := make([]string, len(as.RepresentationOrder))
	copy(ordered, as.RepresentationOrder)
	sort.Slice(ordered, func(i, j int) bool {
		return as.Representations[ordered[i]].Bandwidth < as.Representations[ordered[j]].Bandwidth
	})

	current := -1
	for i, id := range ordered {
		if id == repID {
			current = i
			break
		}
	}
	if current < 0 {
		return repID
	}

	target := current - levels
	if target < 0 {
		target = 0
	}
	return ordered[target]
}

func (s *Scheduler) notifyStart(selections []Selection) {
	for _, o := range s.observers {
		o.OnSegmentDownloadStart(s.index, selections)
	}
}

func (s *Scheduler) notifyComplete(index int) {
	for _, o := range s.observers {
		o.OnSegmentDownloadComplete(index)
	}
}
