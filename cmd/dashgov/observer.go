package main

import (
	"sync"
	"time"

	"dashgov/internal/analyzer"
	"dashgov/internal/beta"
	"dashgov/internal/models"
	"dashgov/internal/player"
	"dashgov/internal/scheduler"
)

// presentationSource mirrors scheduler.PresentationSource: telemetry reads
// the current presentation fresh on every segment start instead of
// snapshotting one at construction, so it reports correct bitrate/duration
// for segments added by a live manifest refresh the same way the scheduler
// now does.
type presentationSource interface {
	Presentation() *models.Presentation
}

// telemetry is the CLI's wiring adapter: it implements every capability
// interface the core components report events to (scheduler.Observer,
// download.ProgressSink, bandwidth.UpdateSink, player.StateSink) and fans
// each event out to the governor and the analyzer, translating between
// their differing event shapes (the governor's tagged beta.Event union,
// the analyzer's per-call method signatures keyed by segment index rather
// than URL).
type telemetry struct {
	gov    *beta.Governor
	an     *analyzer.Analyzer
	source presentationSource
	buffer *player.Player

	mu         sync.Mutex
	urlIndex   map[string]int
	segSeconds map[int]float64
}

func newTelemetry(gov *beta.Governor, an *analyzer.Analyzer, source presentationSource, buffer *player.Player) *telemetry {
	return &telemetry{
		gov:        gov,
		an:         an,
		source:     source,
		buffer:     buffer,
		urlIndex:   make(map[string]int),
		segSeconds: make(map[int]float64),
	}
}

// submit forwards an event to the governor when one is attached; with
// --beta unset, gov is nil and the scheduler's baseline ABR-only
// selections run without the early-abort/drop-replace feedback loop.
func (t *telemetry) submit(e beta.Event) {
	if t.gov != nil {
		t.gov.Submit(e)
	}
}

// OnSegmentDownloadStart implements scheduler.Observer.
func (t *telemetry) OnSegmentDownloadStart(index int, selections []scheduler.Selection) {
	betaSelections := make([]beta.Selection, len(selections))
	for i, s := range selections {
		betaSelections[i] = beta.Selection{
			AdaptationSetID:  s.AdaptationSetID,
			RepresentationID: s.RepresentationID,
			URL:              s.URL,
		}
	}
	t.submit(beta.Event{Kind: beta.EventSegmentDownloadStart, Index: index, Selections: betaSelections})

	if len(selections) == 0 {
		return
	}
	primary := selections[0]

	var bitrate int
	var duration float64
	if as, ok := t.source.Presentation().AdaptationSets[primary.AdaptationSetID]; ok {
		if rep, ok := as.Representations[primary.RepresentationID]; ok {
			bitrate = rep.Bandwidth
			if index < len(rep.Segments) {
				duration = rep.Segments[index].Duration.Seconds()
			}
		}
	}

	t.mu.Lock()
	t.urlIndex[primary.URL] = index
	t.segSeconds[index] = duration
	t.mu.Unlock()

	t.an.OnSegmentDownloadStart(index, primary.URL, primary.RepresentationID, bitrate)
	t.an.Sample(t.buffer.BufferLevel())
}

// OnSegmentDownloadComplete implements scheduler.Observer.
func (t *telemetry) OnSegmentDownloadComplete(index int) {
	t.submit(beta.Event{Kind: beta.EventSegmentDownloadComplete, Index: index})

	t.mu.Lock()
	duration := t.segSeconds[index]
	delete(t.segSeconds, index)
	t.mu.Unlock()

	t.an.OnSegmentDownloadComplete(index, duration)
}

// OnTransferStart implements download.ProgressSink.
func (t *telemetry) OnTransferStart(url string) {
	t.submit(beta.Event{Kind: beta.EventTransferStart, URL: url})
}

// OnBytesTransferred implements download.ProgressSink.
func (t *telemetry) OnBytesTransferred(length int, url string, position, size int) {
	t.submit(beta.Event{Kind: beta.EventBytesTransferred, URL: url, Length: length, Position: position, Size: size})

	t.mu.Lock()
	index, ok := t.urlIndex[url]
	t.mu.Unlock()
	if ok {
		t.an.OnBytesTransferred(index, length, position, size)
	}
}

// OnTransferEnd implements download.ProgressSink. The governor retires its
// view of the segment on SegmentDownloadComplete instead, so there is
// nothing further to forward here.
func (t *telemetry) OnTransferEnd(size int, url string) {}

// OnTransferCanceled implements download.ProgressSink; cancellation is
// already driven by the governor's own stop/drop calls, so no event needs
// to be synthesized back to it.
func (t *telemetry) OnTransferCanceled(url string, position, size int) {}

// OnBandwidthUpdate implements bandwidth.UpdateSink.
func (t *telemetry) OnBandwidthUpdate(bwBitsPerSecond float64) {
	t.submit(beta.Event{Kind: beta.EventBandwidthUpdate, Bandwidth: bwBitsPerSecond})
	t.an.OnBandwidthUpdate(bwBitsPerSecond)
}

// OnStateChange implements player.StateSink.
func (t *telemetry) OnStateChange(buffering bool) {
	state := beta.StateReady
	if buffering {
		state = beta.StateBuffering
	}
	t.submit(beta.Event{Kind: beta.EventStateChange, State: state})
	t.an.OnStateChange(buffering)
}

// pollBufferLevel periodically reports the player's buffer occupancy to the
// governor, standing in for the original's continuous on_buffer_level_change
// callback from the decoded-frame buffer clock.
func (t *telemetry) pollBufferLevel(done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			t.submit(beta.Event{Kind: beta.EventBufferLevelChange, BufferLevel: t.buffer.BufferLevel()})
		}
	}
}
