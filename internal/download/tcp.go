package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"dashgov/internal/logger"
)

const chunkSize = 16 * 1024

// TCPManager fetches over HTTP/1.1, reusing one keep-alive session and
// serializing GETs the way a single aiohttp.ClientSession does in the
// original source's TCP client: one in-flight download at a time, fed by
// an internal queue, as required by spec.md section 4.A ("issues one GET
// at a time per session").
type TCPManager struct {
	*registry
	client        *http.Client
	userAgent     string
	authorization string
	queue         chan string
	closeCh       chan struct{}
}

// NewTCPManager creates a TCP (HTTP/1.1) download manager and starts its
// single download worker goroutine.
func NewTCPManager(client *http.Client, log logger.Logger, userAgent string) *TCPManager {
	m := &TCPManager{
		registry:  newRegistry(log),
		client:    client,
		userAgent: userAgent,
		queue:     make(chan string, 256),
		closeCh:   make(chan struct{}),
	}
	go m.worker()
	return m
}

// SetAuthorization sets the Authorization header value (e.g. "Bearer ...")
// attached to every subsequent request this manager issues, per the origin
// credential originauth.Service resolves for the manifest's origin.
func (m *TCPManager) SetAuthorization(value string) {
	m.authorization = value
}

func (m *TCPManager) worker() {
	for {
		select {
		case <-m.closeCh:
			return
		case url := <-m.queue:
			m.fetch(url)
		}
	}
}

func (m *TCPManager) Download(url string) {
	m.mu.Lock()
	if _, exists := m.states[url]; exists {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	_, _, st := m.begin(context.Background(), url)
	m.mu.Lock()
	m.states[url] = st
	m.mu.Unlock()

	m.emitStart(url)
	select {
	case m.queue <- url:
	default:
		// The buffered queue is sized generously (see design notes on
		// unbounded, kernel-recv-bounded event rates); fall back to a
		// blocking send in a goroutine rather than dropping the request.
		go func() { m.queue <- url }()
	}
}

func (m *TCPManager) fetch(url string) {
	m.mu.Lock()
	st, ok := m.states[url]
	reqCtx := context.Background()
	if ok && st.cancel != nil {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithCancel(reqCtx)
		st.cancel = cancel
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		m.log.Errorf("tcp download: failed to build request for %s: %v", url, err)
		m.emitCanceled(url, 0, 0)
		m.drop(url)
		return
	}
	if m.userAgent != "" {
		req.Header.Set("User-Agent", m.userAgent)
	}
	if m.authorization != "" {
		req.Header.Set("Authorization", m.authorization)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		if reqCtx.Err() != nil {
			// Cancelled via Stop/DropURL; those paths already drove the
			// terminal transition, so there is nothing more to emit here.
			return
		}
		m.log.Warnf("tcp download: request failed for %s: %v", url, err)
		m.emitCanceled(url, 0, 0)
		m.drop(url)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		m.log.Warnf("tcp download: non-200 status %d for %s", resp.StatusCode, url)
		m.emitCanceled(url, 0, 0)
		m.drop(url)
		return
	}

	size := int(resp.ContentLength)
	cap0 := chunkSize
	if size > cap0 {
		cap0 = size
	}
	buf := make([]byte, 0, cap0)
	chunk := make([]byte, chunkSize)

	for {
		n, readErr := resp.Body.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if m.onBytes(url, n, len(buf), size) {
				m.emitBytes(url, n, len(buf), size)
			}
		}
		if readErr != nil {
			break
		}
	}

	if reqCtx.Err() != nil {
		// Stopped or dropped mid-stream; the cancellation path already
		// drove the terminal transition and emitted its own event.
		return
	}

	m.complete(url, buf, len(buf))
	m.emitEnd(url, len(buf))
}

func (m *TCPManager) WaitComplete(ctx context.Context, url string) (*Result, error) {
	return m.wait(ctx, url)
}

func (m *TCPManager) Stop(url string) {
	m.stop(url)
}

func (m *TCPManager) DropURL(url string) {
	m.drop(url)
	m.emitCanceled(url, 0, 0)
}

func (m *TCPManager) CancelRead(url string) {
	m.cancelRead(url)
}

func (m *TCPManager) Close() error {
	close(m.closeCh)
	return nil
}

var _ Manager = (*TCPManager)(nil)

// RequestTimeout is the teacher's downloader's 10s per-GET bound, exported
// for callers that want a context deadline on top of Stop/Drop-based
// cancellation; neither manager in this package applies it.
const RequestTimeout = 10 * time.Second

// drainBody is a defensive helper kept for symmetry with the teacher's
// io.ReadAll-based downloader; nothing in this package calls it, since the
// streaming path above reads the body chunk by chunk.
func drainBody(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return data, nil
}
