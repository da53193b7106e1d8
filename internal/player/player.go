// Package player is the minimal decoded-frame buffer clock the scheduler
// and governor treat as an external collaborator (spec.md section 1 lists
// it as out of scope beyond its interface). Since dashgov is headless
// there is no decoder to drive the drain, so this package simulates one:
// buffer occupancy depletes at wall-clock rate and is replenished by
// Enqueue when the scheduler finishes a segment, the same pull-based
// drain-on-read shape as bandwidth.Meter's window accounting.
package player

import (
	"sync"
	"time"

	"dashgov/internal/clock"
)

// StateSink receives playback Ready/Buffering transitions; satisfied by
// beta.Governor (via an adapter) and analyzer.Analyzer.
type StateSink interface {
	OnStateChange(buffering bool)
}

// Player tracks seconds-of-decoded-media buffered ahead of the play-head
// and the Ready/Buffering playback state derived from it.
type Player struct {
	mu        sync.Mutex
	clock     clock.Clock
	listeners []StateSink

	maxBuffer   time.Duration
	minStart    time.Duration
	minRebuffer time.Duration

	level      time.Duration
	lastDrain  time.Time
	started    bool
	buffering  bool
	stallStart time.Time
}

// New creates a Player. maxBuffer caps occupancy (segments already queued
// past this are still accepted; it only governs the scheduler's
// high-water sleep via BufferLevel, not a hard Enqueue rejection).
// minStart is the occupancy required before playback is considered
// started; minRebuffer is the minimum duration a rebuffer event must last
// before Ready is reported again, matching the configured
// min_rebuffer_duration floor.
func New(c clock.Clock, maxBuffer, minStart, minRebuffer time.Duration) *Player {
	return &Player{
		clock:       c,
		maxBuffer:   maxBuffer,
		minStart:    minStart,
		minRebuffer: minRebuffer,
	}
}

// AddListener registers a state-change observer.
func (p *Player) AddListener(s StateSink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, s)
}

// MaxBufferDuration returns the configured high-water mark.
func (p *Player) MaxBufferDuration() time.Duration {
	return p.maxBuffer
}

// BufferLevel drains the buffer by the wall-clock time elapsed since the
// last read, then returns the remaining occupancy in seconds. Implements
// scheduler.BufferGauge.
func (p *Player) BufferLevel() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drainLocked()
	return p.level.Seconds()
}

// Enqueue adds d of freshly downloaded media to the buffer, draining first
// so the added duration reflects the current play-head position.
func (p *Player) Enqueue(d time.Duration) {
	p.mu.Lock()
	p.drainLocked()
	p.level += d
	if !p.started && p.level >= p.minStart {
		p.started = true
	}
	if p.buffering && p.level >= p.minStart {
		p.endStallLocked()
	}
	listeners := append([]StateSink(nil), p.listeners...)
	buffering := p.buffering
	p.mu.Unlock()

	for _, l := range listeners {
		l.OnStateChange(buffering)
	}
}

func (p *Player) drainLocked() {
	now := p.clock.Now()
	if p.lastDrain.IsZero() {
		p.lastDrain = now
		return
	}
	if !p.started {
		p.lastDrain = now
		return
	}
	elapsed := now.Sub(p.lastDrain)
	p.lastDrain = now
	if elapsed <= 0 {
		return
	}
	p.level -= elapsed
	if p.level < 0 {
		p.level = 0
	}
	if p.level == 0 && !p.buffering {
		p.beginStallLocked(now)
	}
}

func (p *Player) beginStallLocked(now time.Time) {
	p.buffering = true
	p.stallStart = now
}

func (p *Player) endStallLocked() {
	if p.clock.Now().Sub(p.stallStart) < p.minRebuffer {
		return
	}
	p.buffering = false
}
