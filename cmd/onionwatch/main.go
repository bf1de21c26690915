// onionwatch is the threat-intelligence scanner daemon: it serves the HTTP
// API, runs the monitor scheduler and exposes Prometheus metrics. The scan
// subcommand runs the pipeline once for a single target.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/onionwatch/onionwatch/internal/alerting"
	"github.com/onionwatch/onionwatch/internal/analysis"
	"github.com/onionwatch/onionwatch/internal/api"
	"github.com/onionwatch/onionwatch/internal/config"
	"github.com/onionwatch/onionwatch/internal/correlate"
	"github.com/onionwatch/onionwatch/internal/download"
	"github.com/onionwatch/onionwatch/internal/fetch"
	"github.com/onionwatch/onionwatch/internal/fileanalysis"
	"github.com/onionwatch/onionwatch/internal/logging"
	"github.com/onionwatch/onionwatch/internal/metricsrv"
	"github.com/onionwatch/onionwatch/internal/monitoring"
	"github.com/onionwatch/onionwatch/internal/scan"
	"github.com/onionwatch/onionwatch/internal/store"
)

// Populated via -ldflags at release time.
var (
	version = "dev"
	commit  = "unknown"
)

// Exit codes.
const (
	exitConfig = 2
	exitStore  = 3
)

func main() {
	root := &cobra.Command{
		Use:          "onionwatch",
		Short:        "Hidden-service threat intelligence scanner",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}

	root.AddCommand(
		&cobra.Command{
			Use:          "serve",
			Short:        "Run the API server and monitor scheduler",
			SilenceUsage: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe()
			},
		},
		&cobra.Command{
			Use:          "scan <url>",
			Short:        "Scan one target and print the record as JSON",
			Args:         cobra.ExactArgs(1),
			SilenceUsage: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runScan(args[0])
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("onionwatch %s (%s)\n", version, commit)
			},
		},
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// pipeline holds the wired scan pipeline and its store.
type pipeline struct {
	store        *store.Store
	analyzer     *analysis.Analyzer
	orchestrator *scan.Orchestrator
}

func buildPipeline(cfg *config.Config) (*pipeline, error) {
	st, err := store.Open(store.Config{Path: cfg.StoreURI})
	if err != nil {
		log.Error().Err(err).Str("path", cfg.StoreURI).Msg("Store unreachable")
		os.Exit(exitStore)
	}

	fetcher, err := fetch.New(fetch.Config{
		ProxyAddr: cfg.AnonProxyAddr,
		Timeout:   cfg.RequestTimeout,
		MaxBytes:  cfg.FetchMaxBytes,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	rules := analysis.DefaultRules()
	if cfg.RulesPath != "" {
		if loaded, err := analysis.LoadRules(cfg.RulesPath); err != nil {
			log.Warn().Err(err).Str("path", cfg.RulesPath).Msg("Rules file rejected, using defaults")
		} else {
			rules = loaded
		}
	}
	analyzer := analysis.New(rules)

	downloader := download.New(fetcher, download.Config{
		Timeout:    cfg.DownloadTimeout,
		MaxBytes:   cfg.DownloadMaxBytes,
		MaxPerScan: cfg.MaxFilesPerScan,
	})
	files := fileanalysis.New(fileanalysis.Config{Timeout: cfg.AnalysisTimeout})

	orchestrator := scan.New(fetcher, analyzer, downloader, files, st,
		correlate.New(st), alerting.New(st, nil))

	return &pipeline{store: st, analyzer: analyzer, orchestrator: orchestrator}, nil
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(exitConfig)
	}
	logging.Init(logging.Config{
		Level:     cfg.LogLevel,
		Format:    cfg.LogFormat,
		Component: "onionwatch",
		Dir:       cfg.LogDir,
	})
	defer logging.Shutdown()

	log.Info().Str("version", version).Msg("Starting onionwatch")

	p, err := buildPipeline(cfg)
	if err != nil {
		log.Error().Err(err).Msg("Pipeline setup failed")
		os.Exit(exitConfig)
	}
	defer p.store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.RulesPath != "" {
		go func() {
			if err := analysis.WatchRules(ctx, cfg.RulesPath, p.analyzer); err != nil {
				log.Warn().Err(err).Msg("Rules watcher stopped")
			}
		}()
	}

	metricsrv.Start(ctx, cfg.MetricsAddr)

	scheduler := monitoring.New(p.store, p.orchestrator, monitoring.Config{
		Tick:     cfg.SchedulerTick,
		PoolSize: cfg.MonitorPoolSize,
	})
	schedulerDone := make(chan struct{})
	go func() {
		scheduler.Run(ctx)
		close(schedulerDone)
	}()

	srv := api.New(p.store, p.orchestrator, api.Config{
		ListenAddr: cfg.ListenAddr,
		MonitorCap: cfg.MonitorCapPerOwner,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("API server shutdown incomplete")
		}
	}()

	if err := srv.Start(); err != nil {
		log.Error().Err(err).Msg("API server failed")
		return err
	}

	// Let in-flight monitor scans drain before closing the store.
	<-schedulerDone
	log.Info().Msg("Shutdown complete")
	return nil
}

func runScan(target string) error {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(exitConfig)
	}
	logging.Init(logging.Config{
		Level:     cfg.LogLevel,
		Format:    cfg.LogFormat,
		Component: "onionwatch",
		Dir:       cfg.LogDir,
	})
	defer logging.Shutdown()

	p, err := buildPipeline(cfg)
	if err != nil {
		log.Error().Err(err).Msg("Pipeline setup failed")
		os.Exit(exitConfig)
	}
	defer p.store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec, err := p.orchestrator.Scan(ctx, target)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	out, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
