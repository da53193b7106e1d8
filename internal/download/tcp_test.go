package download

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dashgov/internal/logger"
)

type noopLogger struct{}

func (noopLogger) Debugf(format string, v ...interface{}) {}
func (noopLogger) Infof(format string, v ...interface{})  {}
func (noopLogger) Warnf(format string, v ...interface{})  {}
func (noopLogger) Errorf(format string, v ...interface{}) {}

type recordingSink struct {
	mu      sync.Mutex
	starts  []string
	ends    []string
	drops   []string
	lastLen int
}

func (s *recordingSink) OnTransferStart(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts = append(s.starts, url)
}

func (s *recordingSink) OnBytesTransferred(length int, url string, position, size int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastLen = length
}

func (s *recordingSink) OnTransferEnd(size int, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ends = append(s.ends, url)
}

func (s *recordingSink) OnTransferCanceled(url string, position, size int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drops = append(s.drops, url)
}

func TestTCPManager_DownloadSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "segment data")
	}))
	defer server.Close()

	m := NewTCPManager(server.Client(), noopLogger{}, "test-agent")
	defer m.Close()

	sink := &recordingSink{}
	m.AddListener(sink)

	m.Download(server.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := m.WaitComplete(ctx, server.URL)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "segment data", string(res.Body))

	assert.Contains(t, sink.starts, server.URL)
	assert.Contains(t, sink.ends, server.URL)
}

func TestTCPManager_NonOKStatusDropsAndCancels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	m := NewTCPManager(server.Client(), noopLogger{}, "test-agent")
	defer m.Close()

	sink := &recordingSink{}
	m.AddListener(sink)

	m.Download(server.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := m.WaitComplete(ctx, server.URL)
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Contains(t, sink.drops, server.URL)
}

func TestTCPManager_StopPreservesPrefix(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "partial-")
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release
	}))
	defer server.Close()
	defer close(release)

	m := NewTCPManager(server.Client(), noopLogger{}, "test-agent")
	defer m.Close()

	m.Download(server.URL)
	time.Sleep(50 * time.Millisecond)
	m.Stop(server.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := m.WaitComplete(ctx, server.URL)
	require.NoError(t, err)
	require.NotNil(t, res)
}

func TestTCPManager_DropURLYieldsNilResult(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		fmt.Fprint(w, "too late")
	}))
	defer server.Close()
	defer close(release)

	m := NewTCPManager(server.Client(), noopLogger{}, "test-agent")
	defer m.Close()

	m.Download(server.URL)
	time.Sleep(50 * time.Millisecond)
	m.DropURL(server.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := m.WaitComplete(ctx, server.URL)
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestTCPManager_DoubleDownloadIsIdempotent(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		fmt.Fprint(w, "data")
	}))
	defer server.Close()

	m := NewTCPManager(server.Client(), noopLogger{}, "test-agent")
	defer m.Close()

	m.Download(server.URL)
	m.Download(server.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := m.WaitComplete(ctx, server.URL)
	require.NoError(t, err)
}

var _ = logger.Logger(noopLogger{})
