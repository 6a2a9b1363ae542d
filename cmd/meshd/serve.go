package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/backend"
	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/config"
	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/dispatch"
	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/domain"
	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/events"
	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/logging"
	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/metrics"
	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/observability"
	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/ratelimit"
	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/tenant"
	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/tools"
)

func serveCmd() *cobra.Command {
	var (
		httpAddr string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway on stdio",
		Long: "Serves the tool-call protocol on stdin/stdout for a single authenticated " +
			"session. Identity comes from MESH_TENANT_ID and MESH_USER_ID.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if devMode {
				cfg.Daemon.DevMode = true
			}
			if httpAddr != "" {
				cfg.Daemon.HTTPAddr = httpAddr
			}
			if logLevel != "" {
				cfg.Daemon.LogLevel = logLevel
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http", "", "Metrics/health HTTP address")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logging.SetLevelFromString(cfg.Daemon.LogLevel)
	logging.InitStructured(cfg.Daemon.LogFormat, cfg.Daemon.LogLevel)

	if cfg.Daemon.AuditLogPath != "" {
		if err := logging.Audit().SetOutput(cfg.Daemon.AuditLogPath); err != nil {
			return fmt.Errorf("open audit log: %w", err)
		}
	}
	defer logging.Audit().Close()

	metrics.InitPrometheus("mesh", nil)

	if err := observability.Init(ctx, observability.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Exporter:    cfg.Telemetry.Exporter,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: "meshd",
		SampleRate:  cfg.Telemetry.SampleRate,
	}); err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer observability.Shutdown(context.Background())

	tiers := domain.DefaultTierTable()
	if cfg.Daemon.TierFile != "" {
		t, err := config.LoadTierTable(cfg.Daemon.TierFile)
		if err != nil {
			return fmt.Errorf("load tier table: %w", err)
		}
		tiers = t
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	manager := tenant.NewManager(store, tiers, cfg.Daemon.DevMode)
	manager.Start()
	defer manager.Stop()

	limiter := ratelimit.New(ratelimit.Config{
		Shards:       cfg.RateLimit.Shards,
		IdleTTL:      cfg.RateLimit.IdleTTL,
		ReapInterval: cfg.RateLimit.ReapInterval,
		Unmetered:    unmeteredServices(cfg.RateLimit.Unmetered),
	})
	limiter.Start()
	defer limiter.Stop()

	invoker, bus, err := buildBackend(ctx, cfg)
	if err != nil {
		return err
	}

	publisher := events.New(bus, events.Config{
		QueueSize:      cfg.Events.QueueSize,
		PublishTimeout: cfg.Events.PublishTimeout,
	})
	publisher.Start()
	defer publisher.Stop()

	dispatcher := dispatch.New(dispatch.Config{
		Limiter: limiter,
		Invoker: invoker,
		Emitter: publisher,
		Retry: dispatch.RetryPolicy{
			MaxRetries:      cfg.Retry.MaxRetries,
			InitialInterval: cfg.Retry.InitialInterval,
			MaxInterval:     cfg.Retry.MaxInterval,
			AttemptTimeout:  cfg.Retry.AttemptTimeout,
		},
	})

	sess, err := authenticateSession(ctx, manager)
	if err != nil {
		return err
	}
	logging.Op().Info("session established",
		"tenant", sess.Context.TenantID,
		"user", sess.Context.UserID,
		"role", string(sess.Context.Role),
		"tier", sess.Context.Limits.Tier)

	var httpServer *http.Server
	if cfg.Daemon.HTTPAddr != "" {
		httpServer = startHTTPServer(cfg.Daemon.HTTPAddr, manager, limiter)
	}

	serverCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = runMCPServer(serverCtx, dispatcher, tools.BuiltinRegistry(), sess)

	// Drain: give in-flight requests a moment before workers stop.
	drainDeadline := time.Now().Add(10 * time.Second)
	for manager.ActiveRequests() > 0 && time.Now().Before(drainDeadline) {
		time.Sleep(50 * time.Millisecond)
	}

	if httpServer != nil {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		httpServer.Shutdown(shutCtx)
		cancel()
	}
	return err
}

// buildStore assembles the tenant directory: Postgres behind an optional
// Redis cache, or a bare in-memory store in dev mode.
func buildStore(ctx context.Context, cfg *config.Config) (tenant.Store, error) {
	if cfg.Daemon.DevMode || cfg.Postgres.URL == "" {
		if !cfg.Daemon.DevMode {
			logging.Op().Warn("no postgres url configured, using in-memory tenant store")
		}
		return tenant.NewMemoryStore(), nil
	}

	pg, err := tenant.NewPostgresStore(ctx, cfg.Postgres.URL)
	if err != nil {
		return nil, fmt.Errorf("connect tenant store: %w", err)
	}

	if cfg.Redis.Addr == "" {
		return pg, nil
	}
	cached, err := tenant.NewCachedStore(pg, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, 0)
	if err != nil {
		logging.Op().Warn("tenant cache unavailable, serving from postgres", "error", err)
		return pg, nil
	}
	return cached, nil
}

// buildBackend returns the tool invoker and the audit event bus client.
// Dev mode swaps in the in-memory stub for both.
func buildBackend(ctx context.Context, cfg *config.Config) (backend.Invoker, events.BusClient, error) {
	if cfg.Daemon.DevMode {
		stub := backend.NewStub()
		return stub, stub, nil
	}
	aws, err := backend.NewAWS(ctx, backend.DefaultAWSConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("init aws backend: %w", err)
	}
	return aws, aws, nil
}

func authenticateSession(ctx context.Context, manager *tenant.Manager) (*tenant.Session, error) {
	creds := tenant.Credentials{
		TenantID:     os.Getenv("MESH_TENANT_ID"),
		UserID:       os.Getenv("MESH_USER_ID"),
		SessionToken: os.Getenv("MESH_SESSION_TOKEN"),
	}
	sess, err := manager.CreateSession(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	return sess, nil
}

func unmeteredServices(names []string) []domain.Service {
	out := make([]domain.Service, 0, len(names))
	for _, n := range names {
		out = append(out, domain.Service(n))
	}
	return out
}

// startHTTPServer exposes /metrics and /healthz. Tool traffic never
// touches this listener.
func startHTTPServer(addr string, manager *tenant.Manager, limiter *ratelimit.Limiter) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		metrics.SetActiveSessions(len(manager.Sessions()))
		metrics.SetBucketCount(limiter.Len())
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","sessions":%d,"buckets":%d}`,
			len(manager.Sessions()), limiter.Len())
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Op().Error("http server failed", "error", err)
		}
	}()
	logging.Op().Info("http server listening", "addr", addr)
	return srv
}
