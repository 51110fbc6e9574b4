package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/postpulse/postpulse/internal/api"
	"github.com/postpulse/postpulse/internal/config"
	"github.com/postpulse/postpulse/internal/engine"
	"github.com/postpulse/postpulse/internal/metrics"
	"github.com/postpulse/postpulse/internal/profile"
	"github.com/postpulse/postpulse/internal/refresh"
	"github.com/postpulse/postpulse/internal/store"
	"github.com/postpulse/postpulse/internal/timeline"
	"github.com/postpulse/postpulse/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, WebSocket stream and background refresher",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), opts.configPath)
		},
	}
}

// buildEngine wires the timeline client into a distribution engine.
func buildEngine(cfg *config.Config, m *metrics.Collectors) (*engine.Engine, error) {
	client, err := timeline.New(cfg.Timeline)
	if err != nil {
		return nil, err
	}
	return engine.New(client, cfg.Engine, engine.WithMetrics(m))
}

func serve(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	m := metrics.New()
	eng, err := buildEngine(cfg, m)
	if err != nil {
		return err
	}

	ec := eng.Config()
	slog.Info("postpulse starting",
		"version", version,
		"config", configPath,
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"page_count", ec.PageCount,
		"page_size", ec.PageSize,
		"timezone", ec.Timezone,
		"max_attempts", ec.Retry.MaxAttempts,
		"tracked", len(cfg.Accounts.Tracked),
	)

	st := store.New(cfg.Accounts.CacheTTL)
	profiles := profile.New(eng, st, m)

	// WebSocket hub; stored profiles are pushed without waiting for a tick.
	hub := ws.New(st, cfg.Server.BroadcastInterval)
	profiles.OnStore(hub.Notify)

	refresher := refresh.New(profiles, cfg.Accounts.Tracked, cfg.Accounts.RefreshInterval)

	var accounts atomic.Pointer[config.AccountsConfig]
	accounts.Store(&cfg.Accounts)

	httpSrv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: api.New(api.Config{
			Profiles: profiles,
			Accounts: func() config.AccountsConfig { return *accounts.Load() },
			Auth:     cfg.Server.Auth,
			Metrics:  m.Handler(),
			Stream:   hub,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		checkUpstream(gctx, cfg.Timeline)
		return nil
	})
	g.Go(func() error { st.Run(gctx); return nil })
	g.Go(func() error { hub.Run(gctx); return nil })
	g.Go(func() error { refresher.Run(gctx); return nil })

	if configPath != "" {
		g.Go(func() error {
			err := config.Watch(gctx, configPath, func(next *config.Config) {
				logLevel.Set(next.Log.SlogLevel())
				st.SetTTL(next.Accounts.CacheTTL)
				accounts.Store(&next.Accounts)
				refresher.Update(next.Accounts.Tracked, next.Accounts.RefreshInterval)
				slog.Info("config: applied",
					"default_account", next.Accounts.Default,
					"tracked", len(next.Accounts.Tracked),
					"refresh_interval", next.Accounts.RefreshInterval,
					"cache_ttl", next.Accounts.CacheTTL,
				)
			})
			if err != nil {
				// Hot reload is optional; keep serving the loaded config.
				slog.Warn("config: watch disabled", "path", configPath, "err", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("postpulse shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// checkUpstream logs the state of the timeline API's TLS certificate.
func checkUpstream(ctx context.Context, cfg config.TimelineConfig) {
	cs, err := timeline.CheckCertificate(ctx, cfg)
	switch {
	case err != nil:
		slog.Warn("timeline: certificate check failed", "base_url", cfg.BaseURL, "err", err)
	case cs == nil:
		slog.Warn("timeline: base url is not https", "base_url", cfg.BaseURL)
	case cs.Status != "valid":
		slog.Warn("timeline: certificate "+cs.Status,
			"host", cs.Host, "issuer", cs.Issuer, "not_after", cs.NotAfter, "days_left", cs.DaysLeft)
	default:
		slog.Info("timeline: certificate valid",
			"host", cs.Host, "issuer", cs.Issuer, "days_left", cs.DaysLeft)
	}
}
