// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/starford/vaultlog/internal/apperr"
	"github.com/starford/vaultlog/internal/index"
	"github.com/starford/vaultlog/internal/metrics"
	"github.com/starford/vaultlog/internal/orchestrator"
	"github.com/starford/vaultlog/internal/sink"
	"github.com/starford/vaultlog/internal/state"
	"github.com/starford/vaultlog/internal/vault"
)

func newApplication(opts []Option) (*application, error) {
	app := &application{stdout: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, apperr.Configuration("config is required")
	}
	return app, nil
}

// newLogger builds the structured JSON logger. When log_file is set, output
// is duplicated into a size-rotated file.
func (a *application) newLogger() (*slog.Logger, io.Closer) {
	cfg := a.config
	var w io.Writer = a.stdout
	var closer io.Closer = nopCloser{}
	if cfg.LogFile != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    64,
			MaxBackups: 5,
			MaxAge:     30,
		}
		w = io.MultiWriter(a.stdout, file)
		closer = file
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: cfg.LogLevel})), closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type pipeline struct {
	orch *orchestrator.Orchestrator
	sink *sink.File
	agg  *metrics.Aggregator
	fs   *vault.FS
	db   *index.DB
}

func (p *pipeline) Close() error {
	var errs []error
	errs = append(errs, p.sink.Close())
	if p.db != nil {
		errs = append(errs, p.db.Close())
	}
	return errors.Join(errs...)
}

// buildPipeline validates the vault root before anything is opened, so a
// configuration error leaves no trace on disk.
func buildPipeline(cfg *Config, logger *slog.Logger) (*pipeline, error) {
	fs, err := vault.NewFS(cfg.VaultPath, cfg.NoteExtension)
	if err != nil {
		return nil, err
	}

	p := &pipeline{
		fs:   fs,
		sink: sink.New(cfg.OutputFile, cfg.RotateBytes),
		agg:  metrics.New(fs.Name()),
	}
	opts := []orchestrator.Option{
		orchestrator.WithExtension(cfg.NoteExtension),
		orchestrator.WithLabelFields(cfg.LabelFields),
		orchestrator.WithLogger(logger),
	}
	if cfg.IndexPath != "" {
		db, err := index.Open(cfg.IndexPath)
		if err != nil {
			return nil, apperr.IO("open index", err)
		}
		p.db = db
		opts = append(opts, orchestrator.WithIndex(db))
	}

	tracker := state.NewTracker(cfg.WatermarkPath(), logger)
	p.orch = orchestrator.New(fs.Root(), tracker, p.sink, p.agg, opts...)
	return p, nil
}

func logConfig(logger *slog.Logger, cfg *Config) {
	logger.Info("Configuration loaded",
		slog.String("vault_path", cfg.VaultPath),
		slog.String("output_file", cfg.OutputFile),
		slog.String("state_file", cfg.WatermarkPath()),
		slog.String("index_path", cfg.IndexPath),
		slog.String("log_level", cfg.LogLevel.String()))
}

// Run performs a single pipeline run and exits.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger, closer := app.newLogger()
	defer closer.Close()
	slog.SetDefault(logger)
	logConfig(logger, cfg)

	p, err := buildPipeline(cfg, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	if _, err := p.orch.Run(ctx); err != nil {
		return err
	}

	if cfg.Metrics.File != "" {
		if err := p.agg.WriteFile(cfg.Metrics.File); err != nil {
			return apperr.IO("write metrics file", err)
		}
	}
	return nil
}

// Serve runs the pipeline on a schedule and whenever the vault changes, one
// run at a time, optionally serving metrics until interrupted.
func Serve(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger, closer := app.newLogger()
	defer closer.Close()
	slog.SetDefault(logger)
	logConfig(logger, cfg)

	p, err := buildPipeline(cfg, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	trigger := make(chan struct{}, 1)
	poke := func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}
	var ready atomic.Bool

	// Runner: the only goroutine that touches the pipeline.
	g.Go(func() error {
		ticker := time.NewTicker(cfg.ScanInterval)
		defer ticker.Stop()
		poke()
		for {
			select {
			case <-gCtx.Done():
				return nil
			case <-ticker.C:
			case <-trigger:
			}
			rep, err := p.orch.Run(gCtx)
			if err != nil {
				// The watermark was not advanced; the next run retries.
				continue
			}
			ready.Store(true)
			if cfg.Metrics.File != "" {
				if err := p.agg.WriteFile(cfg.Metrics.File); err != nil {
					logger.Warn("write metrics file failed", slog.String("error", err.Error()))
				}
			}
			logger.Debug("serve: run finished", slog.String("run_id", rep.RunID))
		}
	})

	g.Go(func() error {
		if err := p.fs.Watch(gCtx, vault.DefaultDebounce, logger, poke); err != nil {
			return fmt.Errorf("watcher: %w", err)
		}
		return nil
	})

	if cfg.Metrics.StartServer {
		httpServer := &http.Server{
			Addr:              cfg.Metrics.Address(),
			Handler:           newRouter(p.agg, &ready),
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			logger.Info("Starting metrics server", slog.String("address", cfg.Metrics.Address()))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server error: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-gCtx.Done()
			logger.Info("Shutting down metrics server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("metrics server shutdown error", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Stopped successfully")
	return nil
}

// newRouter serves the passive metrics listener. It only renders the last
// snapshot and never triggers a run.
func newRouter(agg *metrics.Aggregator, ready *atomic.Bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, "ok")
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		if !ready.Load() {
			writeStatus(w, http.StatusServiceUnavailable, "pending")
			return
		}
		writeStatus(w, http.StatusOK, "ok")
	})
	r.Method(http.MethodGet, "/metrics", agg.Handler())
	return r
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = fmt.Fprintf(w, `{"status":%q}`, status)
}

// Backlinks prints the notes that reference target, one relative path per
// line, from the note catalog.
func Backlinks(_ context.Context, target string, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	if cfg.IndexPath == "" {
		return apperr.Configuration("index_path must be set to query backlinks")
	}
	if _, err := os.Stat(cfg.IndexPath); err != nil {
		return apperr.Configuration("index %s: %v", cfg.IndexPath, err)
	}
	db, err := index.Open(cfg.IndexPath)
	if err != nil {
		return apperr.IO("open index", err)
	}
	defer db.Close()

	sources, err := db.Backlinks(target)
	if err != nil {
		return apperr.IO("query backlinks", err)
	}
	for _, s := range sources {
		if _, err := fmt.Fprintln(app.stdout, filepath.FromSlash(s)); err != nil {
			return err
		}
	}
	return nil
}
