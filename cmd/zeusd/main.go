// Command zeusd runs the interactive agent server: it wires the sandbox
// manager, tool registry, model client tiers, orchestrator, task queue,
// connection manager, background worker pool, and websocket session
// handler into one running process.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zeusagent/zeus/internal/appconfig"
	"github.com/zeusagent/zeus/internal/auth"
	"github.com/zeusagent/zeus/internal/connmgr"
	"github.com/zeusagent/zeus/internal/infra"
	"github.com/zeusagent/zeus/internal/memory"
	"github.com/zeusagent/zeus/internal/modelclient"
	"github.com/zeusagent/zeus/internal/orchestrator"
	"github.com/zeusagent/zeus/internal/queue"
	"github.com/zeusagent/zeus/internal/ratelimit"
	"github.com/zeusagent/zeus/internal/sandbox"
	"github.com/zeusagent/zeus/internal/session"
	"github.com/zeusagent/zeus/internal/toolkit"
	"github.com/zeusagent/zeus/internal/worker"
	"github.com/zeusagent/zeus/pkg/models"
)

func main() {
	configPath := flag.String("config", "zeus.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := appconfig.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "zeusd:", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("zeusd exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *appconfig.Config, log *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sandboxMgr := sandbox.NewManager(sandbox.Config{
		Image:              cfg.Sandbox.Image,
		HostDataDir:        cfg.Sandbox.HostDataDir,
		DefaultTimeout:     cfg.Sandbox.DefaultTimeout,
		MaxConcurrentExecs: cfg.Sandbox.MaxConcurrentExecs,
		Logger:             log,
	})

	policy := toolkit.DefaultPolicy()
	if cfg.Sandbox.HostDataDir != "" {
		policy.AllowedRoots = []string{cfg.Sandbox.HostDataDir}
	}
	registry := toolkit.New(policy, log)
	registry.Register(toolkit.NewReadFileTool(cfg.Sandbox.HostDataDir, 0))
	registry.Register(toolkit.NewWriteFileTool(cfg.Sandbox.HostDataDir))
	registry.Register(toolkit.NewShellTool(sandboxMgr))
	registry.Register(toolkit.NewScriptTool(sandboxMgr))
	registry.Register(toolkit.NewMediaTool(sandboxMgr))
	registry.Register(toolkit.FinishTool{})

	tiers, err := buildTiers(cfg, registry)
	if err != nil {
		return fmt.Errorf("build model tiers: %w", err)
	}
	if cfg.LLM.VeniceAPIKey != "" {
		venice := modelclient.NewVeniceProvider(cfg.LLM.VeniceAPIKey)
		registry.Register(toolkit.NewWebSearchTool(venice, cfg.LLM.VeniceModel))
	}
	if cfg.LLM.DelegateAPIKey != "" {
		delegate := modelclient.NewAnthropicProvider(cfg.LLM.DelegateAPIKey)
		registry.Register(toolkit.NewDelegateTool(delegate, cfg.LLM.DelegateModel))
	}

	mem, err := memory.New(ctx, "zeus-memory.db")
	if err != nil {
		return fmt.Errorf("open memory store: %w", err)
	}
	registry.Register(toolkit.NewRetrievalTool(mem))

	orch := orchestrator.New(sandboxMgr, registry, mem, orchestrator.Config{Logger: log})

	store, err := queue.NewSQLiteStore(ctx, cfg.Queue.SQLitePath, nil)
	if err != nil {
		return fmt.Errorf("open task queue: %w", err)
	}

	conns := connmgr.New(log)

	tierResolver := func(models.ModelSelection) orchestrator.Tiers { return tiers }
	pool := worker.New(store, orch, tierResolver, conns, worker.Config{
		Concurrency:     cfg.Worker.Concurrency,
		PollInterval:    cfg.Worker.PollInterval,
		CleanupSchedule: cfg.Worker.CleanupSchedule,
		StuckAfter:      cfg.Worker.StuckAfter,
		RetainCompleted: cfg.Worker.RetainCompleted,
		Logger:          log,
	})
	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}

	apiKeys := make([]auth.APIKeyConfig, 0, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		apiKeys = append(apiKeys, auth.APIKeyConfig{Key: k.Key, UserID: k.UserID, Email: k.Email, Name: k.Name})
	}
	authSvc := auth.NewService(auth.Config{JWTSecret: cfg.Auth.JWTSecret, TokenExpiry: cfg.Auth.TokenTTL, APIKeys: apiKeys})
	limiter := ratelimit.NewLimiter(ratelimit.DefaultConfig())
	handler := session.New(conns, store, orch, tiers, limiter, log)

	health := infra.NewHealthCheckRegistry()
	health.RegisterSimple("queue", func(ctx context.Context) error {
		_, err := store.ListPending(ctx, 1)
		return err
	})
	for _, p := range []modelclient.Provider{tiers.Primary, tiers.Secondary, tiers.Tertiary} {
		if p == nil {
			continue
		}
		health.Register(infra.HealthCheckConfig{
			Name:     "model:" + p.Name(),
			Critical: false,
			Checker: func(ctx context.Context) infra.HealthCheckResult {
				status := infra.ServiceHealthHealthy
				if !p.Health(ctx) {
					status = infra.ServiceHealthUnhealthy
				}
				return infra.HealthCheckResult{Status: status, Timestamp: time.Now()}
			},
		})
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", auth.HTTPMiddleware(authSvc, log, handler))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/usage", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(orch.Usage()); err != nil {
			log.Error("usage: encode failed", "err", err)
		}
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		report := health.CheckAll(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if report.Status != infra.ServiceHealthHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(report); err != nil {
			log.Error("health: encode failed", "err", err)
		}
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		log.Info("zeusd listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdown := infra.NewShutdownCoordinator(10*time.Second, log)
	shutdown.RegisterFunc("http server", infra.PhasePreShutdown, func(ctx context.Context) error {
		return srv.Shutdown(ctx)
	})
	shutdown.RegisterService("worker pool", func(ctx context.Context) error {
		pool.Stop()
		return nil
	})
	shutdown.RegisterConnection("memory store", func(ctx context.Context) error {
		return mem.Close()
	})

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	for _, result := range shutdown.Shutdown(shutdownCtx) {
		if result.Error != nil {
			log.Error("shutdown handler failed", "name", result.Name, "err", result.Error)
		}
	}
	return nil
}

func buildTiers(cfg *appconfig.Config, registry *toolkit.Registry) (orchestrator.Tiers, error) {
	var tiers orchestrator.Tiers

	if cfg.LLM.AnthropicAPIKey != "" {
		tiers.Primary = modelclient.NewAnthropicProvider(cfg.LLM.AnthropicAPIKey)
		tiers.PrimaryModel = cfg.LLM.AnthropicModel
		tiers.PrimaryTimeout = cfg.LLM.PrimaryTimeout
		tiers.PrimaryNativeTools = true
	}

	if cfg.LLM.OpenAIAPIKey != "" {
		p := modelclient.NewOpenAIProvider(cfg.LLM.OpenAIAPIKey)
		tiers.Secondary = p
		tiers.SecondaryModel = cfg.LLM.OpenAIModel
		tiers.SecondaryTimeout = cfg.LLM.SecondaryTimeout
		tiers.SecondaryNativeTools = true
	}

	if cfg.LLM.BedrockRegion != "" {
		p, err := modelclient.NewBedrockProvider(context.Background(), cfg.LLM.BedrockRegion)
		if err != nil {
			return tiers, err
		}
		tiers.Tertiary = p
		tiers.TertiaryModel = cfg.LLM.BedrockModel
		tiers.TertiaryTimeout = cfg.LLM.TertiaryTimeout
		tiers.TertiaryNativeTools = true
	}

	return tiers, nil
}
