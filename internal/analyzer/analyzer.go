// Package analyzer aggregates playback events into a textual and optional
// JSON report: a segment table, a stalls table, and a summary, per
// spec.md section 4.G. It implements the capability sinks the scheduler,
// download manager, and bandwidth meter emit events to as plain methods on
// one struct (no multiple-inheritance stand-in), per spec.md section 9's
// composition-over-inheritance redesign note.
package analyzer

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"dashgov/internal/clock"
	"dashgov/internal/scheduler"
)

// Config groups the CLI's reporting flags: where to write the optional
// throughput/buffer-level series and the optional JSON dump. New does not
// take a Config; cmd/dashgov passes the --plot and --dump-results values
// directly to its writePlot and to Report.DumpJSON.
type Config struct {
	PlotDir         string
	DumpResultsPath string
}

// SegmentRecord is one row of the textual segment table.
type SegmentRecord struct {
	Index      int     `json:"index"`
	Start      float64 `json:"start_seconds"`
	End        float64 `json:"end_seconds"`
	Quality    string  `json:"quality"`
	BitrateBps int     `json:"bitrate_bps"`
	Throughput float64 `json:"throughput_bps"`
	Ratio      float64 `json:"ratio"`
	URL        string  `json:"url"`
}

// Stall is one rebuffering event.
type Stall struct {
	StartSeconds float64 `json:"start_seconds"`
	Duration     float64 `json:"duration_seconds"`
}

// Summary is the aggregate playback summary.
type Summary struct {
	StallCount        int     `json:"stall_count"`
	TotalStallSeconds float64 `json:"total_stall_seconds"`
	AverageBitrateBps float64 `json:"average_bitrate_bps"`
	QualitySwitchCount int    `json:"quality_switch_count"`
}

// Report is the full aggregation: segment table, stalls table, summary.
// This is the one JSON dump schema this implementation picks, per the
// open question noted in DESIGN.md — the source's three divergent
// `save` variants (slope diagnostics, selection-before/after-logic lists)
// are not merged.
type Report struct {
	Segments []SegmentRecord `json:"segments"`
	Stalls   []Stall         `json:"stalls"`
	Summary  Summary         `json:"summary"`
	// SlopeDiagnostics is nil unless the scheduler's slope adjuster was
	// enabled for this run (appconfig.SchedulerConfig.SlopeAdjustmentEnabled),
	// so the dump schema is stable whether or not the experimental feature
	// is on rather than always carrying a zero-valued block.
	SlopeDiagnostics *scheduler.SlopeDiagnostics `json:"slope_diagnostics,omitempty"`
}

// WriteText renders the report as plain text, styled after the corpus's
// preference for direct fmt.Fprintf string assembly over a templating
// engine for small, fixed report formats.
func (r *Report) WriteText(w *strings.Builder) {
	fmt.Fprintf(w, "%-6s %-10s %-10s %-10s %-12s %-14s %-8s %s\n",
		"INDEX", "START", "END", "QUALITY", "BITRATE", "THROUGHPUT", "RATIO", "URL")
	for _, s := range r.Segments {
		fmt.Fprintf(w, "%-6d %-10.2f %-10.2f %-10s %-12d %-14.0f %-8.2f %s\n",
			s.Index, s.Start, s.End, s.Quality, s.BitrateBps, s.Throughput, s.Ratio, s.URL)
	}

	fmt.Fprintf(w, "\n%-10s %s\n", "STALL AT", "DURATION")
	for _, st := range r.Stalls {
		fmt.Fprintf(w, "%-10.2f %.2f\n", st.StartSeconds, st.Duration)
	}

	fmt.Fprintf(w, "\nSummary: %d stalls, %.2fs total stall time, avg bitrate %.0f bps, %d quality switches\n",
		r.Summary.StallCount, r.Summary.TotalStallSeconds, r.Summary.AverageBitrateBps, r.Summary.QualitySwitchCount)

	if d := r.SlopeDiagnostics; d != nil && d.Enabled {
		fmt.Fprintf(w, "Slope adjuster: %d samples observed, last slope %.2f, reduced quality %d times\n",
			d.SamplesObserved, d.LastSlope, d.ReductionCount)
	}
}

// DumpJSON marshals the report to path, appending "-N" before the
// extension to avoid overwriting an existing dump, scanning candidate
// paths the way the original's dump_results does: an os.Stat loop, not
// os.O_EXCL. This is intentionally not hardened against a concurrent
// writer racing the same path — the ambiguity is preserved, not silently
// fixed, per spec.md section 9.
func (r *Report) DumpJSON(path string) (string, error) {
	dir, base, ext := splitDumpPath(path)

	n := 1
	candidate := fmt.Sprintf("%s-%d%s", base, n, ext)
	full := joinDumpPath(dir, candidate)
	for {
		if _, err := os.Stat(full); os.IsNotExist(err) {
			break
		}
		n++
		candidate = fmt.Sprintf("%s-%d%s", base, n, ext)
		full = joinDumpPath(dir, candidate)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("analyzer: marshaling report: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("analyzer: writing dump to %s: %w", full, err)
	}
	return full, nil
}

func splitDumpPath(path string) (dir, base, ext string) {
	dir = ""
	rest := path
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		dir = path[:idx]
		rest = path[idx+1:]
	}
	ext = ".json"
	base = strings.TrimSuffix(rest, ".json")
	return dir, base, ext
}

func joinDumpPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

// Analyzer accumulates events from the scheduler, download manager, and
// bandwidth meter into a Report. Wall-clock reads go through an injected
// clock.Clock for deterministic tests, per spec.md section 9.
type Analyzer struct {
	mu    sync.Mutex
	clock clock.Clock

	segments []SegmentRecord
	stalls   []Stall

	inFlight      map[int]*inFlightSegment
	lastQuality   string
	switchCount   int
	stallStart    time.Time
	stalling      bool
	bandwidthBps  float64

	start  time.Time
	series []SeriesPoint

	slopeDiagnostics *scheduler.SlopeDiagnostics
}

// SeriesPoint is one throughput/buffer-level sample, written as a row of
// the --plot DIR output (status.csv), standing in for the original's
// matplotlib PDF plot per DESIGN.md's documented divergence.
type SeriesPoint struct {
	OffsetSeconds float64
	BandwidthBps  float64
	BufferLevel   float64
}

type inFlightSegment struct {
	startWall time.Time
	url       string
	quality   string
	bandwidth int
	position  int
	size      int
}

// New creates an Analyzer.
func New(c clock.Clock) *Analyzer {
	return &Analyzer{
		clock:    c,
		inFlight: make(map[int]*inFlightSegment),
		start:    c.Now(),
	}
}

// Sample records one throughput/buffer-level point for the --plot series,
// at the current bandwidth estimate and the given buffer level.
func (a *Analyzer) Sample(bufferLevelSeconds float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.series = append(a.series, SeriesPoint{
		OffsetSeconds: a.clock.Now().Sub(a.start).Seconds(),
		BandwidthBps:  a.bandwidthBps,
		BufferLevel:   bufferLevelSeconds,
	})
}

// WriteSeriesCSV writes the recorded throughput/buffer-level series as CSV
// (offset_seconds, bandwidth_bps, buffer_level_seconds).
func (a *Analyzer) WriteSeriesCSV(w io.Writer) error {
	a.mu.Lock()
	series := append([]SeriesPoint(nil), a.series...)
	a.mu.Unlock()

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"offset_seconds", "bandwidth_bps", "buffer_level_seconds"}); err != nil {
		return fmt.Errorf("analyzer: writing csv header: %w", err)
	}
	for _, p := range series {
		row := []string{
			strconv.FormatFloat(p.OffsetSeconds, 'f', 3, 64),
			strconv.FormatFloat(p.BandwidthBps, 'f', 0, 64),
			strconv.FormatFloat(p.BufferLevel, 'f', 3, 64),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("analyzer: writing csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// SetSlopeDiagnostics attaches a snapshot of the scheduler's slope adjuster
// to be included in the next Report. Called once after the scheduler's run
// completes, not wired as a live observer, since the adjuster's running
// stats are only meaningful as an end-of-run summary.
func (a *Analyzer) SetSlopeDiagnostics(d scheduler.SlopeDiagnostics) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.slopeDiagnostics = &d
}

// OnBandwidthUpdate implements bandwidth.UpdateSink.
func (a *Analyzer) OnBandwidthUpdate(bw float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bandwidthBps = bw
}

// OnSegmentDownloadStart is the analyzer's index-keyed counterpart of
// scheduler.Observer's start call, invoked by cmd/dashgov's telemetry
// adapter; quality and bitrate for the first selection are recorded as the segment's
// record (the scheduler fetches every adaptation set in parallel, but the
// textual report is keyed on the primary, first, selection per segment).
func (a *Analyzer) OnSegmentDownloadStart(index int, url string, quality string, bitrateBps int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inFlight[index] = &inFlightSegment{
		startWall: a.clock.Now(),
		url:       url,
		quality:   quality,
		bandwidth: bitrateBps,
	}
	if a.lastQuality != "" && a.lastQuality != quality {
		a.switchCount++
	}
	a.lastQuality = quality
}

// OnBytesTransferred is the analyzer's segment-index-keyed counterpart of
// download.ProgressSink's progress call, invoked by cmd/dashgov's telemetry
// adapter, for the purpose of computing per-segment throughput and ratio.
func (a *Analyzer) OnBytesTransferred(index int, length int, position, size int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	seg, ok := a.inFlight[index]
	if !ok {
		return
	}
	seg.position = position
	seg.size = size
}

// OnSegmentDownloadComplete is the analyzer's index-keyed counterpart of
// scheduler.Observer's complete call, invoked by cmd/dashgov's telemetry
// adapter, finalizing the segment's record.
func (a *Analyzer) OnSegmentDownloadComplete(index int, segmentDurationSeconds float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	seg, ok := a.inFlight[index]
	if !ok {
		return
	}
	delete(a.inFlight, index)

	elapsed := a.clock.Now().Sub(seg.startWall).Seconds()
	var throughput float64
	if elapsed > 0 {
		throughput = float64(seg.position*8) / elapsed
	}
	var ratio float64
	if seg.size > 0 {
		ratio = float64(seg.position) / float64(seg.size)
	}

	var start float64
	if len(a.segments) > 0 {
		start = a.segments[len(a.segments)-1].End
	}

	a.segments = append(a.segments, SegmentRecord{
		Index:      index,
		Start:      start,
		End:        start + segmentDurationSeconds,
		Quality:    seg.quality,
		BitrateBps: seg.bandwidth,
		Throughput: throughput,
		Ratio:      ratio,
		URL:        seg.url,
	})
}

// OnStateChange records player Buffering/Ready transitions as stalls.
func (a *Analyzer) OnStateChange(buffering bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.clock.Now()
	if buffering && !a.stalling {
		a.stalling = true
		a.stallStart = now
		return
	}
	if !buffering && a.stalling {
		a.stalling = false
		duration := now.Sub(a.stallStart).Seconds()
		var start float64
		if len(a.segments) > 0 {
			start = a.segments[len(a.segments)-1].End
		}
		a.stalls = append(a.stalls, Stall{StartSeconds: start, Duration: duration})
	}
}

// Report builds the final Report from everything observed so far.
func (a *Analyzer) Report() *Report {
	a.mu.Lock()
	defer a.mu.Unlock()

	var totalStall float64
	for _, s := range a.stalls {
		totalStall += s.Duration
	}

	var totalBitrate float64
	for _, s := range a.segments {
		totalBitrate += float64(s.BitrateBps)
	}
	avgBitrate := 0.0
	if len(a.segments) > 0 {
		avgBitrate = totalBitrate / float64(len(a.segments))
	}

	return &Report{
		Segments: append([]SegmentRecord(nil), a.segments...),
		Stalls:   append([]Stall(nil), a.stalls...),
		Summary: Summary{
			StallCount:         len(a.stalls),
			TotalStallSeconds:  totalStall,
			AverageBitrateBps:  avgBitrate,
			QualitySwitchCount: a.switchCount,
		},
		SlopeDiagnostics: a.slopeDiagnostics,
	}
}
