package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof" // Enable pprof
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yzhangec/mavic-qrscan/internal/app"
	"github.com/yzhangec/mavic-qrscan/internal/config"
	"github.com/yzhangec/mavic-qrscan/internal/logger"
	"github.com/yzhangec/mavic-qrscan/internal/monitor"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.FromArgs(os.Args[0], os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize logger
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, cfg.Log.Color)

	session, err := app.NewSession(cfg)
	if err != nil {
		log.Fatalf("Failed to create session: %v", err)
	}

	logger.Info("Main", "QR scanner starting (session %s)", session.ID)
	logger.Info("Main", "Log level: %s", level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = run(ctx, cfg, session)

	// The result log is the program's output; print it even after a failure.
	if _, werr := session.Results.WriteTo(os.Stdout); werr != nil {
		logger.Error("Main", "Failed to write results: %v", werr)
	}
	if err != nil {
		logger.Error("Main", "%v", err)
		os.Exit(1)
	}
	logger.Info("Main", "Stopped")
}

// run serves the HTTP endpoints alongside the session. Everything stops when
// ctx is cancelled, a server fails, or the session's source ends.
func run(ctx context.Context, cfg config.Config, session *app.Session) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	if cfg.MetricsAddr != "" {
		serve(gctx, g, "Metrics", session.Metrics.HTTPServer(cfg.MetricsAddr), nil)
	}

	if cfg.PprofAddr != "" {
		pprofServer := &http.Server{
			Addr:              cfg.PprofAddr,
			Handler:           http.DefaultServeMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		serve(gctx, g, "pprof", pprofServer, nil)
	}

	if cfg.HTTPAddr != "" {
		mon := monitor.NewServer(monitor.Config{
			Addr:           cfg.HTTPAddr,
			RenderInterval: cfg.Display.RenderInterval,
			StatusInterval: monitor.DefaultConfig().StatusInterval,
			JPEGQuality:    cfg.Display.JPEGQuality,
			MaxWidth:       cfg.Display.MaxWidth,
			ControlEnabled: cfg.Control.Enabled,
		}, monitor.Deps{
			SessionID: session.ID,
			Period:    cfg.Scan.Period,
			Frames:    session.Slot,
			Results:   session.Results,
			Metrics:   session.Metrics,
			Joystick:  session.Joystick,
		})
		mon.Start()

		httpServer := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           mon.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		// Streaming clients must be released before Shutdown can finish.
		serve(gctx, g, "Monitor", httpServer, mon.Stop)
	}

	g.Go(func() error {
		defer cancel()
		return session.Run(gctx)
	})

	return g.Wait()
}

// serve runs srv until ctx is done, then shuts it down gracefully.
func serve(ctx context.Context, g *errgroup.Group, name string, srv *http.Server, beforeShutdown func()) {
	g.Go(func() error {
		logger.Info("Main", "%s server listening on %s", name, srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s server: %w", name, err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		if beforeShutdown != nil {
			beforeShutdown()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Main", "%s server shutdown: %v", name, err)
		}
		return nil
	})
}
