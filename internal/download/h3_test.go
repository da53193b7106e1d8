package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quic-go/quic-go/http3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestH3Manager builds an H3Manager whose client talks to an httptest
// server instead of a real QUIC endpoint, so Download/fetch's concurrency
// and cancellation behavior can be exercised without a live QUIC listener.
// transport is still a real (unused) *http3.Transport so Close() behaves
// the same as a manager built via NewH3Manager.
func newTestH3Manager(client *http.Client) *H3Manager {
	return &H3Manager{
		registry:  newRegistry(noopLogger{}),
		client:    client,
		transport: &http3.Transport{},
		userAgent: "test-agent",
	}
}

// TestH3Manager_ConcurrentDownloadsOverlap asserts that two Download calls
// run as independent goroutines multiplexed over one manager, not serialized
// behind a single worker: both handlers must be in-flight at the same time.
func TestH3Manager_ConcurrentDownloadsOverlap(t *testing.T) {
	var inFlight, maxInFlight int32
	release := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&maxInFlight)
			if n <= old || atomic.CompareAndSwapInt32(&maxInFlight, old, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&inFlight, -1)
		w.Write([]byte("data"))
	}))
	defer server.Close()

	m := newTestH3Manager(server.Client())

	m.Download(server.URL + "/a")
	m.Download(server.URL + "/b")

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&inFlight) == 2
	}, 2*time.Second, 10*time.Millisecond, "both downloads should be in flight concurrently")

	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := m.WaitComplete(ctx, server.URL+"/a")
	require.NoError(t, err)
	_, err = m.WaitComplete(ctx, server.URL+"/b")
	require.NoError(t, err)

	assert.EqualValues(t, 2, atomic.LoadInt32(&maxInFlight))
}

// TestH3Manager_StopOneLeavesOthersRunning exercises spec.md section 1's
// "hard part (a)": stopping one in-flight transfer must not disturb any
// other overlapping one on the same manager.
func TestH3Manager_StopOneLeavesOthersRunning(t *testing.T) {
	releaseB := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			w.Write([]byte("partial-"))
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
			<-releaseB
			return
		}
		w.Write([]byte("fast-data"))
	}))
	defer server.Close()
	defer close(releaseB)

	m := newTestH3Manager(server.Client())

	m.Download(server.URL + "/slow")
	time.Sleep(50 * time.Millisecond)
	m.Download(server.URL + "/fast")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	fastRes, err := m.WaitComplete(ctx, server.URL+"/fast")
	require.NoError(t, err)
	require.NotNil(t, fastRes)
	assert.Equal(t, "fast-data", string(fastRes.Body))

	m.Stop(server.URL + "/slow")
	slowRes, err := m.WaitComplete(ctx, server.URL+"/slow")
	require.NoError(t, err)
	require.NotNil(t, slowRes)
}
