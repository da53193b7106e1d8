package scheduler

import (
	"gonum.org/v1/gonum/stat"
)

// SlopeAdjuster is the experimental post-ABR quality-level adjustment the
// source gated behind a hard-coded logic flag (true in some copies, false
// in others). Per spec.md section 9's open question, it is treated here as
// an explicitly configured feature: disabled unless an
// appconfig.SchedulerConfig turns it on, never silently enabled.
//
// It regresses the slope of the last NumPreviousSamples bandwidth
// estimates; a sufficiently negative slope (below -SlopeThreshold,
// indicating a sustained bandwidth decline) signals the caller to reduce
// the quality level by ReduceQL steps on the next ABR selection, ahead of
// the governor's reactive stop/drop path.
type SlopeAdjuster struct {
	enabled             bool
	numPreviousSamples  int
	slopeThreshold      float64
	reduceQL            int
	samples             []float64

	samplesObserved int
	lastSlope       float64
	reductionCount  int
}

// SlopeDiagnostics summarizes one run's slope-adjuster behavior, surfaced on
// analyzer.Report.SlopeDiagnostics when the adjuster is enabled (spec.md
// section 9's open question on the source's divergent slope-diagnostics
// save variants).
type SlopeDiagnostics struct {
	Enabled         bool    `json:"enabled"`
	SamplesObserved int     `json:"samples_observed"`
	LastSlope       float64 `json:"last_slope"`
	ReductionCount  int     `json:"reduction_count"`
}

// Diagnostics returns a snapshot of this adjuster's observed behavior so
// far. Safe to call whether or not the adjuster is enabled; Enabled is
// false and every other field is zero when it is not.
func (s *SlopeAdjuster) Diagnostics() SlopeDiagnostics {
	return SlopeDiagnostics{
		Enabled:         s.enabled,
		SamplesObserved: s.samplesObserved,
		LastSlope:       s.lastSlope,
		ReductionCount:  s.reductionCount,
	}
}

// NewSlopeAdjuster creates a SlopeAdjuster. enabled must be explicitly set
// true by configuration; the zero value is disabled.
func NewSlopeAdjuster(enabled bool, numPreviousSamples int, slopeThreshold float64, reduceQL int) *SlopeAdjuster {
	return &SlopeAdjuster{
		enabled:            enabled,
		numPreviousSamples: numPreviousSamples,
		slopeThreshold:     slopeThreshold,
		reduceQL:           reduceQL,
	}
}

// Observe records a new bandwidth sample, keeping only the trailing window
// NumPreviousSamples requires.
func (s *SlopeAdjuster) Observe(bwBitsPerSecond float64) {
	if !s.enabled {
		return
	}
	s.samples = append(s.samples, bwBitsPerSecond)
	s.samplesObserved++
	if len(s.samples) > s.numPreviousSamples {
		s.samples = s.samples[len(s.samples)-s.numPreviousSamples:]
	}
}

// ReduceQualityLevels returns the number of quality levels (0 if none) the
// next ABR selection should be pulled down by, based on the trailing
// bandwidth slope. Returns 0 when disabled or when too few samples have
// been observed to regress a slope.
func (s *SlopeAdjuster) ReduceQualityLevels() int {
	if !s.enabled || len(s.samples) < s.numPreviousSamples {
		return 0
	}

	xs := make([]float64, len(s.samples))
	for i := range xs {
		xs[i] = float64(i)
	}
	_, slope := stat.LinearRegression(xs, s.samples, nil, false)
	s.lastSlope = slope

	if slope < -s.slopeThreshold {
		s.reductionCount++
		return s.reduceQL
	}
	return 0
}
