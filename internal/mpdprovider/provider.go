// Package mpdprovider fetches, parses, and (for dynamic manifests)
// periodically refreshes a DASH MPD, per spec.md section 4.C. The parser
// itself is an external collaborator (internal/dash); this package's
// contract is the refresh lifecycle and a single in-flight refresh
// guarantee.
package mpdprovider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dashgov/internal/dash"
	"dashgov/internal/download"
	"dashgov/internal/logger"
	"dashgov/internal/models"
)

// minRefreshInterval mirrors the teacher's floor on dynamic-manifest
// refresh frequency: never refresh more than once every two seconds, even
// if minimumUpdatePeriod asks for tighter polling.
const minRefreshInterval = 2 * time.Second

// defaultRefreshInterval is used when a dynamic manifest omits
// minimumUpdatePeriod or the attribute fails to parse.
const defaultRefreshInterval = 5 * time.Second

// Provider fetches an MPD over a download.Manager, exposes a read-through
// accessor for the flattened presentation, and for type="dynamic"
// manifests runs a periodic refresh loop that merges newly-advertised
// segments into the existing timeline rather than discarding what the
// scheduler has already walked.
type Provider struct {
	manifestURL string
	manager     download.Manager
	log         logger.Logger

	mu           sync.RWMutex
	mpd          *dash.MPD
	presentation *models.Presentation

	refreshMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a provider bound to manifestURL, using manager to fetch both
// the initial manifest and subsequent refreshes.
func New(manifestURL string, manager download.Manager, log logger.Logger) *Provider {
	return &Provider{
		manifestURL: manifestURL,
		manager:     manager,
		log:         log,
	}
}

// Fetch performs the initial manifest fetch and parse. If the manifest is
// dynamic, it starts the background refresh loop; if static, it closes the
// download manager, since no further fetches over it are expected.
func (p *Provider) Fetch(ctx context.Context) error {
	mpd, err := p.fetchAndParse(ctx)
	if err != nil {
		return err
	}

	presentation, err := dash.BuildPresentation(p.manifestURL, mpd)
	if err != nil {
		return fmt.Errorf("mpd provider: building presentation: %w", err)
	}

	p.mu.Lock()
	p.mpd = mpd
	p.presentation = presentation
	p.mu.Unlock()

	if mpd.Type == "dynamic" {
		p.ctx, p.cancel = context.WithCancel(context.Background())
		p.done = make(chan struct{})
		go p.refreshLoop()
	} else {
		if err := p.manager.Close(); err != nil {
			p.log.Warnf("mpd provider: closing manifest download manager: %v", err)
		}
	}

	return nil
}

func (p *Provider) fetchAndParse(ctx context.Context) (*dash.MPD, error) {
	p.manager.Download(p.manifestURL)
	res, err := p.manager.WaitComplete(ctx, p.manifestURL)
	if err != nil {
		return nil, fmt.Errorf("mpd provider: fetching %s: %w", p.manifestURL, err)
	}
	if res == nil {
		return nil, fmt.Errorf("mpd provider: fetch of %s was dropped", p.manifestURL)
	}
	mpd, err := dash.Parse(res.Body)
	if err != nil {
		return nil, fmt.Errorf("mpd provider: parsing %s: %w", p.manifestURL, err)
	}
	return mpd, nil
}

// MPD is a read-through accessor for the most recently fetched manifest.
func (p *Provider) MPD() *dash.MPD {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.mpd
}

// Presentation is a read-through accessor for the flattened, segment-
// addressable view the scheduler and ABR selector consume.
func (p *Provider) Presentation() *models.Presentation {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.presentation
}

func (p *Provider) refreshLoop() {
	defer close(p.done)

	interval := p.refreshInterval()
	p.log.Infof("mpd provider: starting refresh loop with interval %v", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			p.log.Infof("mpd provider: refresh loop stopped")
			return
		case <-ticker.C:
			p.refresh()
		}
	}
}

func (p *Provider) refreshInterval() time.Duration {
	p.mu.RLock()
	mpd := p.mpd
	p.mu.RUnlock()

	interval := defaultRefreshInterval
	if mpd.MinimumUpdatePeriod == "" {
		return interval
	}
	d, err := mpd.GetMinimumUpdatePeriod()
	if err != nil {
		p.log.Warnf("mpd provider: could not parse minimumUpdatePeriod %q, using default %v", mpd.MinimumUpdatePeriod, interval)
		return interval
	}
	if d < minRefreshInterval {
		return minRefreshInterval
	}
	return d
}

// refresh performs a single refresh cycle. It guarantees at most one
// refresh is in flight at a time: an overlapping tick (a slow fetch outliving
// the ticker interval) is skipped rather than queued.
func (p *Provider) refresh() {
	if !p.refreshMu.TryLock() {
		p.log.Debugf("mpd provider: refresh already in flight, skipping tick")
		return
	}
	defer p.refreshMu.Unlock()

	ctx, cancel := context.WithTimeout(p.ctx, 10*time.Second)
	defer cancel()

	newMPD, err := p.fetchAndParse(ctx)
	if err != nil {
		p.log.Warnf("mpd provider: refresh failed: %v", err)
		return
	}

	p.mu.Lock()
	mergeTimelines(p.mpd, newMPD, p.log)
	p.mpd.MinimumUpdatePeriod = newMPD.MinimumUpdatePeriod

	presentation, err := dash.BuildPresentation(p.manifestURL, p.mpd)
	if err != nil {
		p.log.Warnf("mpd provider: rebuilding presentation after refresh: %v", err)
		p.mu.Unlock()
		return
	}
	p.presentation = presentation
	p.mu.Unlock()

	p.log.Infof("mpd provider: refreshed and merged manifest")
}

// mergeTimelines folds newMPD's per-adaptation-set SegmentTimeline into
// oldMPD in place, extending what the scheduler has already seen instead of
// replacing it outright.
func mergeTimelines(oldMPD, newMPD *dash.MPD, log logger.Logger) {
	for i := range newMPD.Periods {
		newPeriod := &newMPD.Periods[i]
		var oldPeriod *dash.Period
		for j := range oldMPD.Periods {
			if oldMPD.Periods[j].ID == newPeriod.ID {
				oldPeriod = &oldMPD.Periods[j]
				break
			}
		}
		if oldPeriod == nil {
			log.Infof("mpd provider: new period %s in refreshed manifest not yet merged", newPeriod.ID)
			continue
		}

		for k := range newPeriod.Sets {
			newAS := &newPeriod.Sets[k]
			var oldAS *dash.AdaptationSet
			for l := range oldPeriod.Sets {
				if oldPeriod.Sets[l].ID == newAS.ID {
					oldAS = &oldPeriod.Sets[l]
					break
				}
			}
			if oldAS == nil {
				log.Infof("mpd provider: new adaptation set %s in refreshed manifest not yet merged", newAS.ID)
				continue
			}
			oldAS.SegmentTemplate.Timeline = dash.MergeTimelines(oldAS.SegmentTemplate.Timeline, newAS.SegmentTemplate.Timeline)
		}
	}
}

// Close stops the refresh loop (if running) and waits for it to exit.
func (p *Provider) Close() error {
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}
	return nil
}
