// Package bandwidth smooths raw byte-throughput samples from the download
// manager's progress events into a bandwidth estimate, per spec.md section
// 4.B. The estimator itself is intentionally simple: the core only depends
// on its event contract (BandwidthUpdate), not its internals.
package bandwidth

import (
	"sync"
	"time"

	"github.com/VividCortex/ewma"

	"dashgov/internal/clock"
	"dashgov/internal/download"
)

// UpdateSink receives smoothed bandwidth estimates, in bits per second.
type UpdateSink interface {
	OnBandwidthUpdate(bwBitsPerSecond float64)
}

// Meter implements download.ProgressSink, turning OnBytesTransferred
// samples into a decaying moving average of throughput. A window closes
// (and an update fires) once at least WindowDuration has elapsed since the
// last emitted sample, matching the source's periodic on_bandwidth_update
// cadence rather than firing on every single byte event.
type Meter struct {
	mu            sync.Mutex
	avg           ewma.MovingAverage
	clock         clock.Clock
	listeners     []UpdateSink
	initial       float64
	windowStart   time.Time
	windowBytes   int64
	windowOpened  bool
	windowSeconds float64
	primed        bool
}

// WindowDuration is the sampling window used to convert accumulated bytes
// into a bits-per-second sample before feeding the EWMA.
const WindowDuration = 1 * time.Second

// New creates a bandwidth meter. initialBitsPerSecond is reported until the
// first window closes, per spec.md section 4.B ("Initial bandwidth is a
// configured constant until the first window closes").
func New(c clock.Clock, initialBitsPerSecond float64) *Meter {
	return &Meter{
		avg:           ewma.NewMovingAverage(),
		clock:         c,
		initial:       initialBitsPerSecond,
		windowSeconds: WindowDuration.Seconds(),
	}
}

// AddListener registers a bandwidth update sink.
func (m *Meter) AddListener(sink UpdateSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, sink)
}

// Estimate returns the current smoothed bandwidth estimate in bits/s.
func (m *Meter) Estimate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.primed {
		return m.initial
	}
	return m.avg.Value()
}

// OnTransferStart resets the accumulation window for a fresh stream.
func (m *Meter) OnTransferStart(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windowStart = m.clock.Now()
	m.windowBytes = 0
	m.windowOpened = true
}

// OnBytesTransferred accumulates bytes and, once a full window has elapsed,
// folds a bits-per-second sample into the EWMA and fires a bandwidth update.
func (m *Meter) OnBytesTransferred(length int, url string, position, size int) {
	m.mu.Lock()
	if !m.windowOpened {
		m.windowStart = m.clock.Now()
		m.windowOpened = true
	}
	m.windowBytes += int64(length)

	elapsed := m.clock.Now().Sub(m.windowStart)
	if elapsed < WindowDuration {
		m.mu.Unlock()
		return
	}

	sample := float64(m.windowBytes*8) / elapsed.Seconds()
	m.avg.Add(sample)
	m.primed = true
	estimate := m.avg.Value()

	m.windowStart = m.clock.Now()
	m.windowBytes = 0

	listeners := append([]UpdateSink(nil), m.listeners...)
	m.mu.Unlock()

	for _, l := range listeners {
		l.OnBandwidthUpdate(estimate)
	}
}

// OnTransferEnd folds any remaining partial window into the estimate so a
// short-lived stream still contributes a sample.
func (m *Meter) OnTransferEnd(size int, url string) {
	m.flushPartialWindow()
}

// OnTransferCanceled is a no-op: a cancelled stream's partial bytes were
// already reflected through OnBytesTransferred, and folding a truncated
// tail into the average would bias it downward.
func (m *Meter) OnTransferCanceled(url string, position, size int) {}

var _ download.ProgressSink = (*Meter)(nil)

func (m *Meter) flushPartialWindow() {
	m.mu.Lock()
	if !m.windowOpened || m.windowBytes == 0 {
		m.mu.Unlock()
		return
	}
	elapsed := m.clock.Now().Sub(m.windowStart)
	if elapsed <= 0 {
		m.mu.Unlock()
		return
	}
	sample := float64(m.windowBytes*8) / elapsed.Seconds()
	m.avg.Add(sample)
	m.primed = true
	estimate := m.avg.Value()
	m.windowBytes = 0
	m.windowOpened = false

	listeners := append([]UpdateSink(nil), m.listeners...)
	m.mu.Unlock()

	for _, l := range listeners {
		l.OnBandwidthUpdate(estimate)
	}
}
