package main

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fedprobe/internal/anomaly"
	"github.com/sells-group/fedprobe/internal/cache"
	"github.com/sells-group/fedprobe/internal/federation"
	"github.com/sells-group/fedprobe/internal/fraud"
	"github.com/sells-group/fedprobe/internal/investigation"
	"github.com/sells-group/fedprobe/internal/monitoring"
	"github.com/sells-group/fedprobe/internal/planner"
	"github.com/sells-group/fedprobe/internal/registry"
	"github.com/sells-group/fedprobe/internal/resilience"
	"github.com/sells-group/fedprobe/internal/source"
)

// core holds the wired application graph shared by the CLI commands.
type core struct {
	Registry  *registry.Registry
	Clients   *source.Clients
	Breakers  *resilience.SourceBreakers
	Collector *monitoring.Collector
	Manager   *investigation.Manager

	cache cache.Cache
}

// initCore wires the registry, adapters, cache, executor, detection engines,
// and the investigation manager from config.
func initCore(ctx context.Context) (*core, error) {
	reg := registry.New()
	if path := cfg.Registry.CatalogPath; path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := reg.LoadCatalog(path); err != nil {
				return nil, err
			}
		} else {
			zap.L().Warn("source catalog not found, starting with empty registry",
				zap.String("path", path))
		}
	}

	clients := source.NewClients()
	for _, desc := range reg.All() {
		if desc.Endpoint == "" {
			zap.L().Warn("catalog source has no endpoint, skipping adapter",
				zap.String("source", desc.ID))
			continue
		}
		clients.Add(source.NewHTTP(desc, cfg.Executor.StageTimeout()))
	}

	// The collector observes breaker transitions; the hook closes over it
	// so both can reference each other.
	var collector *monitoring.Collector
	breakers := resilience.NewSourceBreakers(resilience.BreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		CoolDown:         cfg.Breaker.CoolDown(),
		OnStateChange: func(src string, from, to resilience.CircuitState) {
			collector.RecordBreakerTransition(src, from, to)
		},
	})
	collector = monitoring.NewCollector(breakers)

	respCache, err := buildCache(ctx)
	if err != nil {
		return nil, err
	}

	executor := federation.New(clients, breakers, federation.Options{
		MaxConcurrent: cfg.Executor.MaxConcurrent,
		Retry:         resilience.RetryConfig{MaxAttempts: cfg.Executor.RetryAttempts},
		Cache:         respCache,
		Collector:     collector,
	})

	manager := investigation.NewManager(
		planner.New(reg, planner.Options{StageTimeout: cfg.Executor.StageTimeout()}),
		executor,
		anomaly.New(anomaly.Config{
			DeviationSigma:      cfg.Anomaly.DeviationSigma,
			ConcentrationShare:  cfg.Anomaly.ConcentrationShare,
			BenfordAlpha:        cfg.Anomaly.BenfordAlpha,
			BenfordMinSample:    cfg.Anomaly.BenfordMinSample,
			DuplicateSimilarity: cfg.Anomaly.DuplicateSimilarity,
		}),
		fraud.New(fraud.Config{
			CartelMinMembers:   cfg.Fraud.CartelMinMembers,
			CartelSuspicion:    cfg.Fraud.CartelSuspicion,
			ReportingThreshold: cfg.Fraud.ReportingThreshold,
			LayeringHopWindow:  time.Duration(cfg.Fraud.LayeringHopHours) * time.Hour,
		}),
		investigation.Options{
			OverallTimeout: cfg.Executor.OverallTimeout(),
			Collector:      collector,
		},
	)

	return &core{
		Registry:  reg,
		Clients:   clients,
		Breakers:  breakers,
		Collector: collector,
		Manager:   manager,
		cache:     respCache,
	}, nil
}

func buildCache(ctx context.Context) (cache.Cache, error) {
	ttls := cache.TTLs{
		Fast:     time.Duration(cfg.Cache.FastSecs) * time.Second,
		Standard: time.Duration(cfg.Cache.StandardSec) * time.Second,
		Durable:  time.Duration(cfg.Cache.DurableSecs) * time.Second,
	}
	switch cfg.Cache.Backend {
	case "off":
		return nil, nil
	case "memory":
		return cache.NewMemory(ttls), nil
	case "sqlite":
		c, err := cache.NewSQLite(cfg.Cache.Path, ttls)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "postgres":
		c, err := cache.NewPostgres(ctx, cfg.Cache.DatabaseURL, ttls)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, eris.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

// Close releases backend resources.
func (c *core) Close() {
	if c.cache != nil {
		if err := c.cache.Close(); err != nil {
			zap.L().Warn("cache close failed", zap.Error(err))
		}
	}
}
