package bandwidth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"dashgov/internal/clock"
)

type capturingSink struct {
	updates []float64
}

func (s *capturingSink) OnBandwidthUpdate(bw float64) {
	s.updates = append(s.updates, bw)
}

func TestMeter_ReportsInitialBeforeFirstWindow(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	m := New(c, 1_000_000)

	assert.Equal(t, float64(1_000_000), m.Estimate())
}

func TestMeter_FirstWindowReplacesInitialEstimate(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	m := New(c, 500_000)
	sink := &capturingSink{}
	m.AddListener(sink)

	m.OnTransferStart("u")
	c.Advance(1200 * time.Millisecond)
	m.OnBytesTransferred(150_000, "u", 150_000, 150_000)

	assert.Len(t, sink.updates, 1)
	assert.NotEqual(t, float64(500_000), m.Estimate())
}

func TestMeter_NoUpdateBeforeWindowCloses(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	m := New(c, 500_000)
	sink := &capturingSink{}
	m.AddListener(sink)

	m.OnTransferStart("u")
	c.Advance(200 * time.Millisecond)
	m.OnBytesTransferred(1000, "u", 1000, 10000)

	assert.Empty(t, sink.updates)
	assert.Equal(t, float64(500_000), m.Estimate())
}

func TestMeter_TransferEndFlushesPartialWindow(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	m := New(c, 500_000)
	sink := &capturingSink{}
	m.AddListener(sink)

	m.OnTransferStart("u")
	c.Advance(300 * time.Millisecond)
	m.OnBytesTransferred(5000, "u", 5000, 5000)
	m.OnTransferEnd(5000, "u")

	assert.Len(t, sink.updates, 1)
}

func TestMeter_CanceledDoesNotFlush(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	m := New(c, 500_000)
	sink := &capturingSink{}
	m.AddListener(sink)

	m.OnTransferStart("u")
	c.Advance(300 * time.Millisecond)
	m.OnBytesTransferred(5000, "u", 5000, 10000)
	m.OnTransferCanceled("u", 5000, 10000)

	assert.Empty(t, sink.updates)
}
