// Package hub is the main orchestrator that ties all hub components together.
package hub

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vaenkat/health-ecosystem-hub/internal/api"
	"github.com/vaenkat/health-ecosystem-hub/internal/auth"
	"github.com/vaenkat/health-ecosystem-hub/internal/config"
	"github.com/vaenkat/health-ecosystem-hub/internal/limiter"
	"github.com/vaenkat/health-ecosystem-hub/internal/metrics"
	"github.com/vaenkat/health-ecosystem-hub/internal/realtime"
	"github.com/vaenkat/health-ecosystem-hub/internal/store"
	"github.com/vaenkat/health-ecosystem-hub/pkg/protocol"
)

// wsAuth adapts the auth provider to the gateway's token check.
type wsAuth struct {
	provider auth.Provider
}

func (a wsAuth) Verify(ctx context.Context, token string) (string, protocol.Role, error) {
	identity, err := a.provider.Verify(ctx, token)
	if err != nil {
		return "", "", err
	}
	return identity.UserID, protocol.Role(identity.Role), nil
}

// Hub is the main hub process.
type Hub struct {
	cfg      *config.Config
	store    store.Store
	provider auth.Provider
	limiter  *limiter.Limiter
	redis    *redis.Client
	registry *realtime.Registry
	api      *api.Server
	logger   *slog.Logger
}

// New creates a hub from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Hub, error) {
	db, err := store.New(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	provider, err := auth.NewProvider(cfg.Auth, db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init auth provider: %w", err)
	}

	// Creates the initial admin for the builtin provider.
	if err := provider.Bootstrap(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap auth: %w", err)
	}

	// Register and login routes only exist when credentials live here.
	builtin, _ := provider.(*auth.Service)

	lim, err := limiter.New(limiter.Options{
		Strategy:          cfg.RateLimit.Strategy,
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		BurstSize:         cfg.RateLimit.BurstSize,
		RequestsPerHour:   cfg.RateLimit.RequestsPerHour,
		RequestsPerDay:    cfg.RateLimit.RequestsPerDay,
		Logger:            logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init rate limiter: %w", err)
	}

	var recorder limiter.Recorder
	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb = redis.NewClient(opts)
		recorder = limiter.NewRedisRecorder(rdb, cfg.Redis.StatsPrefix)
	} else {
		recorder = limiter.NewMemoryRecorder()
	}

	metrics.Register()

	registry := realtime.NewRegistry(logger, protocol.Role(cfg.Realtime.PresenceRole))
	dispatcher := realtime.NewDispatcher(registry, logger)
	gateway := realtime.NewGateway(registry, wsAuth{provider}, logger, realtime.GatewayOptions{
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		SendTimeout:     cfg.Realtime.SendTimeout.Duration,
		PingInterval:    cfg.Realtime.PingInterval.Duration,
		PongWait:        cfg.Realtime.PongWait.Duration,
		MaxMessageBytes: cfg.Realtime.MaxMessageBytes,
		FrameRate:       cfg.Realtime.FrameRate,
		FrameBurst:      cfg.Realtime.FrameBurst,
	})

	apiSrv := api.NewServer(api.Options{
		Store:      db,
		Auth:       provider,
		Builtin:    builtin,
		Limiter:    lim,
		Recorder:   recorder,
		Registry:   registry,
		Dispatcher: dispatcher,
		Gateway:    gateway,
		Config:     cfg,
		Logger:     logger,
	})

	h := &Hub{
		cfg:      cfg,
		store:    db,
		provider: provider,
		limiter:  lim,
		redis:    rdb,
		registry: registry,
		api:      apiSrv,
		logger:   logger.With("component", "hub"),
	}

	// Startup validation warnings.
	if provider.Mode() == "builtin" && cfg.Auth.InitialAdmin != nil && len(cfg.Auth.InitialAdmin.Password) < 12 {
		logger.Warn("initial admin password is shorter than 12 characters, use a stronger one in production")
	}
	for _, origin := range cfg.Server.AllowedOrigins {
		if origin == "*" {
			logger.Warn("CORS allowed_origins contains wildcard '*', restrict to specific origins in production")
			break
		}
	}

	return h, nil
}

// Run starts the hub HTTP server and blocks until the context is canceled.
func (h *Hub) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    h.cfg.Server.Addr,
		Handler: h.api.Handler(),
	}

	h.limiter.StartJanitor(ctx,
		h.cfg.RateLimit.CleanupInterval.Duration,
		h.cfg.RateLimit.IdleTTL.Duration)

	if h.cfg.Retention.AuditMaxAge.Duration > 0 {
		go h.runAuditPurger(ctx, h.cfg.Retention.PurgeInterval.Duration, h.cfg.Retention.AuditMaxAge.Duration)
	}

	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("hub listening", "addr", h.cfg.Server.Addr)
		if h.cfg.Server.TLSCert != "" && h.cfg.Server.TLSKey != "" {
			errCh <- srv.ListenAndServeTLS(h.cfg.Server.TLSCert, h.cfg.Server.TLSKey)
		} else {
			h.logger.Warn("TLS not configured, running without encryption (development only)")
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		h.logger.Info("shutting down hub gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			h.logger.Warn("graceful shutdown failed, forcing close", "error", err)
			_ = srv.Close()
		} else {
			h.logger.Info("http server stopped gracefully")
		}

		h.registry.DisconnectAll()
		h.close()
		h.logger.Info("shutdown complete")
		return ctx.Err()

	case err := <-errCh:
		h.close()
		return err
	}
}

func (h *Hub) close() {
	if h.redis != nil {
		_ = h.redis.Close()
	}
	_ = h.store.Close()
}

// runAuditPurger deletes audit entries older than maxAge on each tick.
func (h *Hub) runAuditPurger(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-maxAge)
			if n, err := h.store.PurgeAuditBefore(ctx, cutoff); err != nil {
				h.logger.Warn("audit purge failed", "error", err)
			} else if n > 0 {
				h.logger.Info("audit purge deleted old entries", "count", n)
			}
		}
	}
}
