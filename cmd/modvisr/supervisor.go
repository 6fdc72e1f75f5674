package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/modvisr/internal/config"
	"github.com/loykin/modvisr/internal/discovery"
	"github.com/loykin/modvisr/internal/history"
	"github.com/loykin/modvisr/internal/history/factory"
	"github.com/loykin/modvisr/internal/manager"
	"github.com/loykin/modvisr/internal/metrics"
	"github.com/loykin/modvisr/internal/server"
)

// shutdownGrace is added to the stop timeout when waiting for modules and
// listeners to close.
const shutdownGrace = 5 * time.Second

type supervisor struct {
	cfg    *config.Config
	log    *slog.Logger
	reg    prometheus.Registerer
	gather prometheus.Gatherer

	// ready, when set, is called once autostart has finished. apiAddr is nil
	// without [server].listen.
	ready func(mgr *manager.Manager, apiAddr net.Addr)
}

// run discovers modules, autostarts the configured ones and supervises them
// until ctx is done.
func (s *supervisor) run(ctx context.Context) error {
	if err := metrics.Register(s.reg); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	mods, err := discoverModules(ctx, s.cfg, s.log)
	if err != nil {
		return err
	}

	sinks, closeSinks, err := openSinks(s.cfg.History.DSN)
	if err != nil {
		return err
	}
	defer closeSinks()

	moduleEnv, err := s.cfg.ModuleEnv()
	if err != nil {
		return err
	}

	mgr := manager.New(manager.Options{
		Testing:      s.cfg.Testing,
		Env:          moduleEnv,
		ServerMarker: s.cfg.Discovery.ServerMarker,
		StopTimeout:  s.cfg.StopTimeout,
		Output:       s.cfg.ProcessOutput(),
		Logger:       s.log,
		Sinks:        sinks,
	})
	if err := mgr.Init(mods); err != nil {
		return err
	}
	if err := s.reg.Register(metrics.NewResourceCollector(mgr.RunningPIDs)); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return fmt.Errorf("register resource collector: %w", err)
		}
	}

	var servers []*http.Server
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		for _, srv := range servers {
			_ = srv.Shutdown(sctx)
		}
	}()

	var apiAddr net.Addr
	if s.cfg.Server.Listen != "" {
		router := server.NewRouter(mgr, s.cfg.Server.BasePath).WithLogger(s.log)
		if s.cfg.Metrics.Listen == "" {
			router.WithMetrics(metrics.HandlerFor(s.gather))
		}
		srv, addr, err := server.NewServer(s.cfg.Server.Listen, router.Handler(), s.log)
		if err != nil {
			_ = mgr.Shutdown(context.Background())
			return fmt.Errorf("listen %s: %w", s.cfg.Server.Listen, err)
		}
		servers = append(servers, srv)
		apiAddr = addr
		s.log.Info("api listening", "addr", addr.String(), "base_path", s.cfg.Server.BasePath)
	}
	if s.cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.HandlerFor(s.gather))
		srv, addr, err := server.NewServer(s.cfg.Metrics.Listen, mux, s.log)
		if err != nil {
			_ = mgr.Shutdown(context.Background())
			return fmt.Errorf("listen %s: %w", s.cfg.Metrics.Listen, err)
		}
		servers = append(servers, srv)
		s.log.Info("metrics listening", "addr", addr.String())
	}

	results := mgr.Autostart(ctx, s.cfg.Autostart)
	started := 0
	for _, r := range results {
		if r.Err == nil {
			started++
		}
	}
	s.log.Info("autostart finished", "requested", len(results), "started", started)
	if s.ready != nil {
		s.ready(mgr, apiAddr)
	}

	<-ctx.Done()
	s.log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), s.cfg.StopTimeout+shutdownGrace)
	defer cancel()
	if err := mgr.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// discoverModules runs one discovery pass with the configured deadline.
func discoverModules(ctx context.Context, cfg *config.Config, log *slog.Logger) ([]discovery.Module, error) {
	if cfg.Discovery.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Discovery.Timeout)
		defer cancel()
	}
	mods, err := discovery.Discover(ctx, discovery.Options{
		BundledRoot: bundledRoot(cfg),
		SearchPath:  cfg.SearchPath(),
		Matcher:     cfg.Matcher(),
		Concurrency: cfg.Discovery.Concurrency,
		Logger:      log,
	})
	if err != nil {
		return nil, fmt.Errorf("discover modules: %w", err)
	}
	log.Info("modules discovered", "count", len(mods))
	return mods, nil
}

// bundledRoot is [discovery].bundled_dir, or the directory holding the
// modvisr executable.
func bundledRoot(cfg *config.Config) string {
	if cfg.Discovery.BundledDir != "" {
		return cfg.Discovery.BundledDir
	}
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe)
}

func openSinks(dsn string) ([]history.Sink, func(), error) {
	if dsn == "" {
		return nil, func() {}, nil
	}
	sink, err := factory.NewSinkFromDSN(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("history sink: %w", err)
	}
	closeFn := func() {
		if c, ok := sink.(io.Closer); ok {
			_ = c.Close()
		}
	}
	return []history.Sink{sink}, closeFn, nil
}
