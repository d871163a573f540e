package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/ingest"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("indexd stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("indexd stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	m := metrics.New(prometheus.DefaultRegisterer)
	eng, err := engine.Open(ctx, cfg, corpus.FromConfig(cfg), engine.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("opening engine: %w", err)
	}
	defer func() {
		if err := eng.Close(); err != nil {
			slog.Error("closing engine", "error", err)
		}
	}()

	if cfg.Metrics.Enabled {
		checker := health.NewChecker()
		registerChecks(checker, eng, cfg.Index.CompactThreshold)
		srv, err := metrics.StartServer(cfg.Metrics.Port, map[string]http.Handler{
			"/readyz": checker.ReadyHandler(),
		})
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Warn("metrics server shutdown", "error", err)
			}
		}()
	}

	g, ctx := errgroup.WithContext(ctx)
	if cfg.Index.CompactInterval > 0 {
		g.Go(func() error {
			compactLoop(ctx, eng, cfg.Index.CompactInterval)
			return nil
		})
	}
	if cfg.Kafka.Enabled {
		consumer := kafka.NewConsumer(cfg.Kafka, ingest.Handler(eng))
		slog.Info("consuming ingest feed",
			"topic", cfg.Kafka.IngestTopic,
			"group", cfg.Kafka.ConsumerGroup,
		)
		g.Go(func() error { return consumer.Start(ctx) })
	}

	stats := eng.Stats()
	slog.Info("indexd ready",
		"static_docs", stats.StaticDocuments,
		"delta_docs", stats.DeltaDocuments,
		"terms", stats.Terms,
		"generation", stats.Generation,
	)
	<-ctx.Done()
	return g.Wait()
}

// registerChecks reports the engine down once closed and degraded while the
// delta holds more than twice the compaction threshold, which means scheduled
// compactions are failing.
func registerChecks(checker *health.Checker, eng *engine.Engine, threshold int) {
	checker.Register("engine", func(context.Context) health.ComponentHealth {
		if eng.Closed() {
			return health.ComponentHealth{Status: health.StatusDown, Message: "engine closed"}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	checker.Register("delta", func(context.Context) health.ComponentHealth {
		n := eng.Stats().DeltaDocuments
		if threshold > 0 && n > 2*threshold {
			return health.ComponentHealth{
				Status:  health.StatusDegraded,
				Message: fmt.Sprintf("%d delta documents awaiting compaction", n),
			}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
}

func compactLoop(ctx context.Context, eng *engine.Engine, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := eng.Compact(); err != nil {
				slog.Error("scheduled compaction failed", "error", err)
			}
		}
	}
}
