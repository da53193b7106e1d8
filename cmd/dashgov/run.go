package main

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/quic-go/quic-go"

	"dashgov/internal/abr"
	"dashgov/internal/analyzer"
	"dashgov/internal/appconfig"
	"dashgov/internal/bandwidth"
	"dashgov/internal/beta"
	"dashgov/internal/clock"
	"dashgov/internal/download"
	"dashgov/internal/logger"
	"dashgov/internal/mpdprovider"
	"dashgov/internal/originauth"
	"dashgov/internal/player"
	"dashgov/internal/scheduler"
)

// runOptions bundles one run's CLI-resolved parameters, threaded through
// from main.go's flag parsing.
type runOptions struct {
	targetURL       string
	cfg             *appconfig.Config
	beta            bool
	abrName         string
	plotDir         string
	dumpResultsPath string
	autoConfirm     bool
	authEntries     []string
	userAgent       string
}

// abrRegistry is the set of ABR algorithm names dashgov recognises. The
// original ships exactly one concrete controller; --abr is kept as a
// forward-looking selector validated against this registry rather than
// inventing algorithms the original never had.
var abrRegistry = map[string]func() abr.Controller{
	"bandwidth-based": func() abr.Controller { return abr.NewBandwidthBased() },
}

func resolveABR(name string) (abr.Controller, error) {
	if name == "" {
		name = "bandwidth-based"
	}
	factory, ok := abrRegistry[name]
	if !ok {
		return nil, fmt.Errorf("unknown --abr algorithm %q", name)
	}
	return factory(), nil
}

// runOnce drives a single playback of opts.targetURL to completion,
// wiring together every core component (download manager, bandwidth
// meter, MPD provider, ABR selector, BETA governor, scheduler, player
// buffer, analyzer) and returning the final report.
func runOnce(ctx context.Context, opts runOptions, sessionCache tls.ClientSessionCache, log logger.Logger) (*analyzer.Report, error) {
	target, err := url.Parse(opts.targetURL)
	if err != nil {
		return nil, fmt.Errorf("dashgov: parsing target URL: %w", err)
	}

	authSvc, err := originauth.NewService(opts.authEntries)
	if err != nil {
		return nil, fmt.Errorf("dashgov: parsing --auth entries: %w", err)
	}
	var authHeader string
	if cred, ok := authSvc.CredentialFor(target.Host); ok {
		authHeader = cred.AuthorizationHeader()
	}

	mgr, err := newManager(opts.cfg.Player.Downloader, target.Host, sessionCache, log, opts.userAgent, authHeader)
	if err != nil {
		return nil, err
	}
	defer mgr.Close()

	// The provider gets its own manager: it closes it itself once a static
	// manifest is parsed, which must not stop the segment downloads on mgr.
	mpdMgr, err := newManager(opts.cfg.Player.Downloader, target.Host, sessionCache, log, opts.userAgent, authHeader)
	if err != nil {
		return nil, err
	}
	provider := mpdprovider.New(opts.targetURL, mpdMgr, log)
	if err := provider.Fetch(ctx); err != nil {
		mpdMgr.Close()
		return nil, fmt.Errorf("dashgov: fetching manifest: %w", err)
	}
	if provider.MPD().Type == "dynamic" {
		defer mpdMgr.Close()
	}
	defer provider.Close()

	bwMeter := bandwidth.New(clock.Real(), 1_000_000)
	mgr.AddListener(bwMeter)

	buf := player.New(
		clock.Real(),
		durationSeconds(opts.cfg.Player.BufferSettings.BufferDuration),
		durationSeconds(opts.cfg.Player.BufferSettings.MinStartDuration),
		durationSeconds(opts.cfg.Player.BufferSettings.MinRebufferDuration),
	)

	abrController, err := resolveABR(opts.abrName)
	if err != nil {
		return nil, err
	}
	selector := abr.NewBetaSelector(abrController)

	// gov stays nil unless --beta is set: without it, the scheduler runs
	// its baseline ABR-only selections with no early-abort/drop-replace
	// feedback loop, matching the original's "if not beta" baseline build.
	var gov *beta.Governor
	if opts.beta {
		policy := beta.DefaultPolicy()
		policy.SafeBufferLevel = opts.cfg.Player.BufferSettings.SafeBufferLevel
		policy.PanicBufferLevel = opts.cfg.Player.BufferSettings.PanicBufferLevel
		gov = beta.New(mgr, clock.Real(), log, policy)
		gov.Start()
		defer gov.Close()
	}

	an := analyzer.New(clock.Real())

	tel := newTelemetry(gov, an, provider, buf)
	mgr.AddListener(tel)
	bwMeter.AddListener(tel)
	buf.AddListener(tel)

	pollDone := make(chan struct{})
	go tel.pollBufferLevel(pollDone, 200*time.Millisecond)
	defer close(pollDone)

	sched := scheduler.New(provider, selector, mgr, buf, bwMeter, log, buf.MaxBufferDuration(), 200*time.Millisecond)
	sched.AddObserver(tel)
	var slopeAdjuster *scheduler.SlopeAdjuster
	if opts.cfg.Scheduler.SlopeAdjustmentEnabled {
		slopeAdjuster = scheduler.NewSlopeAdjuster(
			true,
			opts.cfg.Scheduler.NumPreviousSamples,
			opts.cfg.Scheduler.SlopeThreshold,
			opts.cfg.Scheduler.ReduceQL,
		)
		sched.SetSlopeAdjuster(slopeAdjuster)
		bwMeter.AddListener(sched)
	}

	if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return nil, fmt.Errorf("dashgov: scheduler: %w", err)
	}

	if slopeAdjuster != nil {
		an.SetSlopeDiagnostics(slopeAdjuster.Diagnostics())
	}

	report := an.Report()

	if opts.plotDir != "" {
		if err := writePlot(opts.plotDir, opts.autoConfirm, an); err != nil {
			log.Warnf("dashgov: writing plot series: %v", err)
		}
	}
	if opts.dumpResultsPath != "" {
		path, err := report.DumpJSON(opts.dumpResultsPath)
		if err != nil {
			log.Warnf("dashgov: dumping JSON results: %v", err)
		} else {
			log.Infof("dashgov: wrote results to %s", path)
		}
	}

	return report, nil
}

func durationSeconds(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

func newManager(downloaderKind, host string, sessionCache tls.ClientSessionCache, log logger.Logger, userAgent, authHeader string) (download.Manager, error) {
	switch downloaderKind {
	case "tcp":
		m := download.NewTCPManager(&http.Client{}, log, userAgent)
		if authHeader != "" {
			m.SetAuthorization(authHeader)
		}
		return m, nil
	case "quic":
		tlsConf := &tls.Config{
			ServerName:         host,
			NextProtos:         []string{"h3"},
			ClientSessionCache: sessionCache,
		}
		m := download.NewH3Manager(tlsConf, &quic.Config{}, log, userAgent)
		if authHeader != "" {
			m.SetAuthorization(authHeader)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("dashgov: unknown player.downloader %q", downloaderKind)
	}
}

// writePlot writes the recorded throughput/buffer-level series to
// <dir>/status.csv, standing in for the original's matplotlib PDF plot
// (DESIGN.md documents this as a deliberate divergence, not a dropped
// feature). autoConfirm suppresses the prompt before overwriting a
// pre-existing status.csv, mirroring the original's exist_ok semantics
// when set.
func writePlot(dir string, autoConfirm bool, an *analyzer.Analyzer) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating plot directory: %w", err)
	}

	path := filepath.Join(dir, "status.csv")
	if _, err := os.Stat(path); err == nil && !autoConfirm {
		fmt.Printf("%s already exists. Overwrite? [y/N]: ", path)
		reader := bufio.NewReader(os.Stdin)
		response, _ := reader.ReadString('\n')
		response = strings.ToLower(strings.TrimSpace(response))
		if response != "y" && response != "yes" {
			return fmt.Errorf("not overwriting existing %s", path)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	return an.WriteSeriesCSV(f)
}
