// Package download implements the per-URL fetch contract shared by the
// HTTP/3 (QUIC) and HTTP/1.1 (TCP) transports: enqueue a GET, wait for
// completion, and support surgical cancellation of a single in-flight
// response (stop / drop / cancel-read) without tearing down any other
// concurrent transfer. Adapted from the teacher's internal/dash/client.go
// and internal/dash/downloader.go, generalized behind one Manager
// interface with two concrete transports instead of a single worker pool
// tied to net/http.
package download

import (
	"context"
	"fmt"
	"sync"

	"dashgov/internal/logger"
)

// Result is the outcome of a completed or stopped download: the bytes
// received so far (the full body on Completed, a prefix on Stopped) and
// the declared total size.
type Result struct {
	Body []byte
	Size int
}

// ProgressSink receives the download manager's per-URL event stream, in
// strict order: OnTransferStart, zero or more OnBytesTransferred (with
// monotonic position), then exactly one of OnTransferEnd or
// OnTransferCanceled.
type ProgressSink interface {
	OnTransferStart(url string)
	OnBytesTransferred(length int, url string, position, size int)
	OnTransferEnd(size int, url string)
	OnTransferCanceled(url string, position, size int)
}

// Manager is the uniform download contract regardless of transport.
type Manager interface {
	// Download enqueues a GET and returns immediately.
	Download(url string)
	// WaitComplete blocks until url reaches a terminal state. It returns a
	// non-nil *Result on Completed or Stopped (the latter yielding the
	// prefix that was received so far); it returns (nil, nil) on Dropped.
	WaitComplete(ctx context.Context, url string) (*Result, error)
	// Stop forces an early terminal on url's stream. The prefix already
	// received remains available to the waiter.
	Stop(url string)
	// DropURL is stronger than Stop: the waiter observes (nil, nil), and
	// subsequent bytes for this URL are suppressed.
	DropURL(url string)
	// CancelRead releases the reader side of url's stream without
	// signalling a drop to the waiter.
	CancelRead(url string)
	// AddListener registers a progress sink. Safe to call before or after
	// Download.
	AddListener(sink ProgressSink)
	// Close shuts the manager's connection down cleanly.
	Close() error
}

// urlPhase is DownloadState's finite state automaton (spec.md section 3):
// Idle -> Opening -> Streaming -> {Completed | Stopped | Dropped}.
type urlPhase int

const (
	phaseIdle urlPhase = iota
	phaseOpening
	phaseStreaming
	phaseCompleted
	phaseStopped
	phaseDropped
)

func (p urlPhase) terminal() bool {
	return p == phaseCompleted || p == phaseStopped || p == phaseDropped
}

// urlState is the single per-URL state record. It collapses the source's
// parallel _headers/_content/_waiting_urls/_completed_urls/
// _partially_accepted_urls/_cancelled_urls sets into one tagged record per
// spec.md section 9's redesign note, eliminating the ambiguity of a URL
// appearing in several of those sets at once.
type urlState struct {
	phase    urlPhase
	body     []byte
	size     int
	position int
	cancel   context.CancelFunc
	done     chan struct{}
	readGone bool // CancelRead has released the reader without resolving done
}

// registry is the shared per-manager bookkeeping both transports use: one
// mutex guarding a map[url]*urlState, plus listener fan-out. It is not
// exported; H3Manager and TCPManager each embed one.
type registry struct {
	mu        sync.Mutex
	states    map[string]*urlState
	listeners []ProgressSink
	log       logger.Logger
}

func newRegistry(log logger.Logger) *registry {
	return &registry{
		states: make(map[string]*urlState),
		log:    log,
	}
}

func (r *registry) AddListener(sink ProgressSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, sink)
}

func (r *registry) emitStart(url string) {
	r.mu.Lock()
	listeners := append([]ProgressSink(nil), r.listeners...)
	r.mu.Unlock()
	for _, l := range listeners {
		l.OnTransferStart(url)
	}
}

func (r *registry) emitBytes(url string, length, position, size int) {
	r.mu.Lock()
	listeners := append([]ProgressSink(nil), r.listeners...)
	r.mu.Unlock()
	for _, l := range listeners {
		l.OnBytesTransferred(length, url, position, size)
	}
}

func (r *registry) emitEnd(url string, size int) {
	r.mu.Lock()
	listeners := append([]ProgressSink(nil), r.listeners...)
	r.mu.Unlock()
	for _, l := range listeners {
		l.OnTransferEnd(size, url)
	}
}

func (r *registry) emitCanceled(url string, position, size int) {
	r.mu.Lock()
	listeners := append([]ProgressSink(nil), r.listeners...)
	r.mu.Unlock()
	for _, l := range listeners {
		l.OnTransferCanceled(url, position, size)
	}
}

// begin transitions a URL to Opening, creating its state if absent, and
// returns a context scoped to the transfer plus the done channel the
// eventual terminal transition will close.
func (r *registry) begin(ctx context.Context, url string) (context.Context, context.CancelFunc, *urlState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := &urlState{phase: phaseOpening, done: make(chan struct{})}
	transferCtx, cancel := context.WithCancel(ctx)
	st.cancel = cancel
	r.states[url] = st
	return transferCtx, cancel, st
}

// onBytes records a progress sample for url and reports whether the event
// should still be emitted (it is suppressed once a URL has reached a
// terminal state: stopped, dropped or completed).
func (r *registry) onBytes(url string, length, position, size int) bool {
	r.mu.Lock()
	st, ok := r.states[url]
	if !ok || st.phase.terminal() {
		r.mu.Unlock()
		return false
	}
	st.phase = phaseStreaming
	st.size = size
	st.position = position
	r.mu.Unlock()
	return true
}

// complete marks a URL Completed with its full body.
func (r *registry) complete(url string, body []byte, size int) {
	r.mu.Lock()
	st, ok := r.states[url]
	if !ok {
		r.mu.Unlock()
		return
	}
	if st.phase.terminal() {
		r.mu.Unlock()
		return
	}
	st.phase = phaseCompleted
	st.body = body
	st.size = size
	done := st.done
	r.mu.Unlock()
	close(done)
}

// stop marks a URL Stopped, preserving the prefix already received. It is
// idempotent: a second call on an already-terminal URL is a no-op, per
// spec.md section 5's cancellation semantics.
func (r *registry) stop(url string) {
	r.mu.Lock()
	st, ok := r.states[url]
	if !ok || st.phase.terminal() {
		r.mu.Unlock()
		return
	}
	st.phase = phaseStopped
	if st.cancel != nil {
		st.cancel()
	}
	done := st.done
	position, size := st.position, st.size
	r.mu.Unlock()
	close(done)
	r.emitCanceled(url, position, size)
}

// drop marks a URL Dropped: the waiter observes (nil, nil) and further
// bytes are suppressed. Idempotent.
func (r *registry) drop(url string) {
	r.mu.Lock()
	st, ok := r.states[url]
	if !ok {
		st = &urlState{done: make(chan struct{})}
		r.states[url] = st
	}
	if st.phase.terminal() {
		r.mu.Unlock()
		return
	}
	st.phase = phaseDropped
	if st.cancel != nil {
		st.cancel()
	}
	done := st.done
	r.mu.Unlock()
	close(done)
}

// cancelRead releases the reader side without resolving the waiter.
// Idempotent.
func (r *registry) cancelRead(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[url]
	if !ok || st.readGone {
		return
	}
	st.readGone = true
	if st.cancel != nil {
		st.cancel()
	}
}

// wait blocks until url's terminal state is reached and returns the
// spec-mandated (*Result, error) triple.
func (r *registry) wait(ctx context.Context, url string) (*Result, error) {
	r.mu.Lock()
	st, ok := r.states[url]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("wait_complete on unknown url %q", url)
	}

	select {
	case <-st.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	switch st.phase {
	case phaseDropped:
		return nil, nil
	case phaseCompleted, phaseStopped:
		return &Result{Body: st.body, Size: st.size}, nil
	default:
		return nil, fmt.Errorf("wait_complete on url %q in unexpected phase %d", url, st.phase)
	}
}
