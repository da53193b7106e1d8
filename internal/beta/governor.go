package beta

import (
	"sync"
	"time"

	"dashgov/internal/clock"
	"dashgov/internal/logger"
)

// DownloadController is the subset of download.Manager the governor acts
// on. Declared locally (rather than importing internal/download) so the
// governor's dependency surface is exactly the three cancellation
// primitives spec.md section 5 names, independent of transport.
type DownloadController interface {
	Stop(url string)
	DropURL(url string)
	CancelRead(url string)
}

// Governor is the BETA download governor. Events are processed strictly
// serially in arrival order on one goroutine pinned to its event channel,
// per spec.md section 9's "cooperative event loop -> task-based
// concurrency" note: rather than guarding every field with a mutex, all
// mutable state is owned exclusively by the run loop and only touched
// between channel receives.
type Governor struct {
	downloads DownloadController
	clock     clock.Clock
	log       logger.Logger
	policy    Policy

	events chan Event
	done   chan struct{}

	vqMu        sync.Mutex
	vqThreshold map[int]float64 // per-segment override; absent = policy.VQThreshold, or DefaultVQThreshold when that is zero

	// run-loop-owned state; never touched outside the loop goroutine.
	bw             float64
	bufferLevel    float64
	state          PlayerState
	currentSegment *SegmentRequest
	pendingSegment *SegmentRequest
	timeout        time.Time
	maxTimeout     time.Time
	droppedURLs    map[string]struct{}
	droppedIndices map[int]struct{}
}

// New creates a Governor. Start must be called before any events are
// submitted.
func New(downloads DownloadController, c clock.Clock, log logger.Logger, policy Policy) *Governor {
	return &Governor{
		downloads:      downloads,
		clock:          c,
		log:            log,
		policy:         policy,
		events:         make(chan Event, 256),
		done:           make(chan struct{}),
		vqThreshold:    make(map[int]float64),
		droppedURLs:    make(map[string]struct{}),
		droppedIndices: make(map[int]struct{}),
	}
}

// Start launches the serial event-processing goroutine.
func (g *Governor) Start() {
	go g.run()
}

// Close stops accepting events and waits for the run loop to drain.
func (g *Governor) Close() {
	close(g.events)
	<-g.done
}

// Submit enqueues an event. Safe to call from any goroutine; events are
// processed in the order they are submitted.
func (g *Governor) Submit(e Event) {
	g.events <- e
}

// SetVQThreshold overrides the per-segment VQ threshold used at decision
// step 9. Must be called before the corresponding SegmentDownloadStart
// event to take effect for that segment.
func (g *Governor) SetVQThreshold(index int, threshold float64) {
	g.vqMu.Lock()
	defer g.vqMu.Unlock()
	g.vqThreshold[index] = threshold
}

func (g *Governor) vqThresholdFor(index int) float64 {
	g.vqMu.Lock()
	defer g.vqMu.Unlock()
	if t, ok := g.vqThreshold[index]; ok {
		return t
	}
	if g.policy.VQThreshold > 0 {
		return g.policy.VQThreshold
	}
	return DefaultVQThreshold
}

func (g *Governor) run() {
	defer close(g.done)
	for e := range g.events {
		g.handle(e)
	}
}

func (g *Governor) handle(e Event) {
	switch e.Kind {
	case EventBandwidthUpdate:
		g.bw = e.Bandwidth
	case EventBufferLevelChange:
		g.bufferLevel = e.BufferLevel
	case EventStateChange:
		g.state = e.State
	case EventSegmentDownloadStart:
		g.currentSegment = &SegmentRequest{Index: e.Index}
		if len(e.Selections) > 0 {
			g.currentSegment.URL = e.Selections[0].URL
		}
	case EventTransferStart:
		// No state transition of its own; first-byte initialization
		// happens on the first BytesTransferred for this segment.
	case EventSegmentDownloadComplete:
		if g.currentSegment != nil && g.currentSegment.Index == e.Index {
			g.currentSegment = nil
		}
	case EventBytesTransferred:
		g.handleBytesTransferred(e)
	}
}

// handleBytesTransferred implements the twelve-step decision ladder from
// spec.md section 4.F, in order.
func (g *Governor) handleBytesTransferred(e Event) {
	now := g.clock.Now()

	// Step 1: reconcile pending stream.
	if g.pendingSegment != nil {
		if g.pendingSegment.URL != e.URL {
			g.downloads.CancelRead(g.pendingSegment.URL)
			g.pendingSegment = nil
		} else {
			return
		}
	}

	if g.currentSegment == nil {
		return
	}

	// Step 2: fast path, buffer healthy.
	if g.bufferLevel > g.policy.SafeBufferLevel {
		return
	}

	// Step 3: filter dropped identities.
	if _, dropped := g.droppedURLs[e.URL]; dropped {
		return
	}
	if _, dropped := g.droppedIndices[g.currentSegment.Index]; dropped && e.URL != g.currentSegment.URL {
		return
	}

	// Step 4: first-byte initialization.
	if !g.currentSegment.FirstBytesReceived {
		g.currentSegment.FirstBytesReceived = true
		g.currentSegment.URL = e.URL

		var t time.Duration
		if g.bw == 0 {
			t = FallbackTimeout * time.Second
		} else {
			remaining := e.Size - e.Length
			if remaining < 0 {
				remaining = 0
			}
			seconds := float64(remaining) * 8 / g.bw
			t = time.Duration(seconds * float64(time.Second))
		}
		g.timeout = now.Add(t)
		g.maxTimeout = now.Add(2 * t)
		return
	}

	// Step 5: computed ratio.
	var ratio float64
	if e.Size > 0 {
		ratio = float64(e.Position) / float64(e.Size)
	}

	// Step 6: stall recovery rule.
	if g.currentSegment.Index != 0 && e.URL == g.currentSegment.URL && g.state == StateBuffering && ratio > MinRefRatio {
		g.stopDownload(g.currentSegment.URL)
		return
	}

	// Step 7: panic rule.
	if ratio > MinRefRatio && g.bufferLevel < g.policy.PanicBufferLevel {
		g.stopDownload(g.currentSegment.URL)
		return
	}

	// Step 8: pre-timeout.
	if now.Before(g.timeout) {
		return
	}

	// Step 9: VQ-threshold rule.
	if ratio > g.vqThresholdFor(g.currentSegment.Index) {
		g.stopDownload(g.currentSegment.URL)
		return
	}

	// Step 10: panic after timeout.
	if g.bufferLevel < g.policy.PanicBufferLevel {
		g.stopDownload(g.currentSegment.URL)
		return
	}

	// Step 11: max-timeout rule.
	if now.After(g.maxTimeout) && ratio < MinRefRatio {
		if g.policy.MaxTimeoutAction == MaxTimeoutDropAndReplace {
			g.dropAndReplace(g.currentSegment.URL, g.currentSegment.Index)
		} else {
			g.stopDownload(g.currentSegment.URL)
		}
		return
	}

	// Step 12: default.
	g.stopDownload(g.currentSegment.URL)
}

// stopDownload is the _stop_download primitive: idempotent per URL, and
// promotes currentSegment to pendingSegment so the next BytesTransferred
// for a different URL can clean it up via cancel_read.
func (g *Governor) stopDownload(url string) {
	if g.pendingSegment != nil && g.pendingSegment.URL == url {
		return
	}
	g.downloads.Stop(url)
	g.pendingSegment = g.currentSegment
}

// dropAndReplace marks url/index as dropped, discards the prefix via
// DropURL, and releases the reader via CancelRead, per spec.md section
// 4.F's dropped-replacement protocol. The scheduler observes wait_complete
// returning nil and re-enters the same index with choose_lowest=true.
func (g *Governor) dropAndReplace(url string, index int) {
	g.droppedURLs[url] = struct{}{}
	g.droppedIndices[index] = struct{}{}
	g.downloads.DropURL(url)
	g.downloads.CancelRead(url)
	if g.pendingSegment != nil && g.pendingSegment.URL == url {
		g.pendingSegment = nil
	}
}
