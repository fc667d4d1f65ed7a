// Package main is the entry point for the unigate gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/howard-nolan/unigate/internal/breaker"
	"github.com/howard-nolan/unigate/internal/cache"
	"github.com/howard-nolan/unigate/internal/config"
	"github.com/howard-nolan/unigate/internal/health"
	"github.com/howard-nolan/unigate/internal/metrics"
	"github.com/howard-nolan/unigate/internal/model"
	"github.com/howard-nolan/unigate/internal/pipeline"
	"github.com/howard-nolan/unigate/internal/provider"
	"github.com/howard-nolan/unigate/internal/ratelimit"
	"github.com/howard-nolan/unigate/internal/retry"
	"github.com/howard-nolan/unigate/internal/router"
	"github.com/howard-nolan/unigate/internal/server"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the gateway config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	registry, err := provider.NewRegistry(cfg.Providers)
	if err != nil {
		log.Fatalf("building provider registry: %v", err)
	}

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Circuit.FailureThreshold,
		SuccessThreshold: cfg.Circuit.SuccessThreshold,
		MinRequests:      cfg.Circuit.MinRequests,
		RecoveryTimeout:  cfg.Circuit.RecoveryTimeout,
		WindowSize:       cfg.Circuit.WindowSize,
	})

	monitor := health.New(health.Config{
		FailureThreshold:  cfg.Router.FailureThreshold,
		RecoveryThreshold: cfg.Router.RecoveryThreshold,
		ProbeInterval:     cfg.Router.ProbeInterval,
	})
	registerProbers(monitor, cfg.Providers, registry)

	strategy, err := router.NewStrategy(cfg.Router.Strategy, cfg.Router.ScriptPath)
	if err != nil {
		log.Fatalf("building router strategy: %v", err)
	}
	r := router.New(registry, breakers, monitor, strategy)
	r.RegisterWeights(cfg.Providers)

	// No adapter in this gateway speaks the embeddings API yet, so the
	// semantic cache tier stays disabled regardless of cfg.Cache.SemanticEnabled
	// (cache.New treats a nil Embedder as "semantic tier off").
	cacheMgr, err := cache.New(cfg.Cache, nil)
	if err != nil {
		log.Fatalf("building cache manager: %v", err)
	}
	defer cacheMgr.Close()

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerMinute: cfg.RateLimit.DefaultRPM,
		TokensPerMinute:   cfg.RateLimit.DefaultTPM,
		RequestsPerDay:    cfg.RateLimit.DefaultRPD,
		MaxConcurrent:     cfg.RateLimit.DefaultConcurrent,
		Burst:             cfg.RateLimit.Burst,
	})

	retryCfg := retry.Config{
		MaxAttempts:       cfg.Retry.MaxAttempts,
		BaseDelay:         cfg.Retry.BaseDelay,
		MaxDelay:          cfg.Retry.MaxDelay,
		BackoffMultiplier: cfg.Retry.BackoffMultiplier,
		JitterFactor:      cfg.Retry.JitterFactor,
	}

	pl := pipeline.New(registry, r, cacheMgr, limiter, retryCfg)
	srv := server.New(cfg, pl)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go monitor.Run(ctx)
	go reportGauges(ctx, breakers, monitor, cfg.Providers)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Printf("metrics: %v (continuing without fresh registration)", err)
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("graceful shutdown: %v", err)
		}
	}()

	log.Printf("unigate listening on :%d (strategy=%s, %d providers)", cfg.Server.Port, cfg.Router.Strategy, len(registry.All()))

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

// registerProbers builds a liveness Prober for every configured provider: a
// minimal ChatCompletion call against the first model it serves, the
// "provider-specific liveness endpoint or a minimal real call" spec §4.5
// allows in place of a dedicated health-check API most of these backends
// don't expose.
func registerProbers(monitor *health.Monitor, entries []config.ProviderConfig, registry *provider.Registry) {
	for _, pc := range entries {
		if len(pc.Models) == 0 {
			continue
		}
		p, ok := registry.ByName(pc.Name)
		if !ok {
			continue
		}
		probeModel := pc.Models[0]
		monitor.Register(pc.Name, func(ctx context.Context) error {
			req := &model.ChatRequest{
				Model:    probeModel,
				Messages: []model.ChatMessage{{Role: model.RoleUser, Content: model.NewTextContent("ping")}},
				MaxTokens: uint32Ptr(1),
			}
			_, err := p.ChatCompletion(ctx, req)
			return err
		})
	}
}

func uint32Ptr(v uint32) *uint32 { return &v }

// reportGauges copies breaker/health state into the Prometheus gauges on a
// short interval, since neither component pushes to metrics itself (they
// don't import internal/metrics, keeping the dependency one-directional).
func reportGauges(ctx context.Context, breakers *breaker.Registry, monitor *health.Monitor, entries []config.ProviderConfig) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, pc := range entries {
				metrics.BreakerState.WithLabelValues(pc.Name).Set(metrics.BreakerStateValue(string(breakers.For(pc.Name).State())))
				metrics.HealthStatus.WithLabelValues(pc.Name).Set(metrics.HealthStatusValue(string(monitor.Status(pc.Name))))
			}
		}
	}
}
