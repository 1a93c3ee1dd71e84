package di

import (
	"context"

	"github.com/aristath/truthspine/internal/agents"
	"github.com/aristath/truthspine/internal/alerts"
	"github.com/aristath/truthspine/internal/config"
	"github.com/aristath/truthspine/internal/domain"
	"github.com/aristath/truthspine/internal/freshness"
	"github.com/aristath/truthspine/internal/ledger"
	"github.com/aristath/truthspine/internal/metrics"
	"github.com/aristath/truthspine/internal/notify"
	"github.com/aristath/truthspine/internal/orchestrator"
	"github.com/aristath/truthspine/internal/pattern"
	"github.com/aristath/truthspine/internal/pricingpack"
	"github.com/aristath/truthspine/internal/providers/cache"
	"github.com/aristath/truthspine/internal/providers/macro"
	"github.com/aristath/truthspine/internal/providers/prices"
	"github.com/aristath/truthspine/internal/ratings"
	"github.com/aristath/truthspine/internal/runtime"
	"github.com/rs/zerolog"
)

// Wire builds a fully-wired Container: the five databases, every domain
// service on top of them, and the nightly pipeline and DLQ replay job that
// drive them. Callers are responsible for calling Close on the returned
// Container, including on the error path if the caller itself fails after
// Wire succeeds.
func Wire(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Container, error) {
	c, err := InitializeDatabases(cfg)
	if err != nil {
		return nil, err
	}

	cacheRepo := cache.NewRepository(c.CacheDB.Conn())
	primary := prices.NewPrimary(cfg.PrimaryProviderAPIKey, cacheRepo, log)
	secondary := prices.NewSecondary(cfg.SecondaryProviderAPIKey, cacheRepo, log)
	fx := macro.NewFXClient(cfg.MacroProviderAPIKey, cacheRepo, log)

	var archiver *pricingpack.Archiver
	if cfg.ArchiveEnabled() {
		archiver, err = pricingpack.NewArchiver(ctx, cfg.S3Bucket, cfg.S3Region, log)
		if err != nil {
			c.Close()
			return nil, err
		}
	}

	c.Builder = pricingpack.NewBuilder(c.PricingDB.Conn(), primary, secondary, fx, archiver, log)
	c.Reconciler = ledger.NewReconciler(c.PortfolioDB.Conn(), c.PricingDB.Conn(), c.LedgerDB.Conn(), log)
	c.MetricsEngine = metrics.NewEngine(c.PortfolioDB.Conn(), c.PricingDB.Conn(), cfg.RiskFreeSeries, log)
	c.FactorPrewarmer = metrics.NewFactorPrewarmer(c.PortfolioDB.Conn(), c.PricingDB.Conn(), log)
	c.RatingsPrewarmer = ratings.NewPrewarmer(c.PricingDB.Conn(), c.PortfolioDB.Conn(), log)
	c.Gate = freshness.NewGate(c.PricingDB.Conn(), c.LedgerDB.Conn())

	c.Registry = runtime.NewRegistry(log)
	c.Registry.Register(agents.NewPortfolioAgent(c.PricingDB.Conn(), c.PortfolioDB.Conn()))
	c.Invoker = runtime.NewInvoker(c.Registry, log)
	c.PatternOrch = pattern.NewOrchestrator(c.Invoker, log)

	readers := map[domain.ConditionType]alerts.ValueReader{
		domain.ConditionMetric:        alerts.NewMetricReader(c.PortfolioDB.Conn()),
		domain.ConditionPrice:         alerts.NewPriceReader(c.PricingDB.Conn()),
		domain.ConditionRating:        alerts.NewRatingReader(c.PortfolioDB.Conn()),
		domain.ConditionMacro:         alerts.NewMacroReader(c.PricingDB.Conn()),
		domain.ConditionNewsSentiment: alerts.NewNewsSentimentReader(c.PricingDB.Conn()),
	}
	c.Evaluator = alerts.NewEvaluator(c.AlertsDB.Conn(), readers, log)

	c.DLQ = notify.NewDLQ(c.AlertsDB.Conn(), log)
	channels := map[string]notify.Channel{
		"in_app": notify.NewInAppChannel(c.AlertsDB.Conn()),
		"email":  notify.NewEmailChannel(cfg),
	}
	c.Dispatcher = notify.NewDispatcher(channels, c.DLQ, log)
	c.Replayer = notify.NewReplayer(c.DLQ, channels, log)

	c.Broadcaster = orchestrator.NewBroadcaster()
	c.Pipeline = orchestrator.NewPipeline(orchestrator.Config{
		Log:                  log,
		Builder:              c.Builder,
		Reconciler:           c.Reconciler,
		MetricsEngine:        c.MetricsEngine,
		FactorPrewarmer:      c.FactorPrewarmer,
		RatingsPrewarmer:     c.RatingsPrewarmer,
		Evaluator:            c.Evaluator,
		Dispatcher:           c.Dispatcher,
		LedgerPath:           cfg.LedgerPath,
		PricingPolicy:        cfg.PricingPolicy,
		BenchmarkPortfolioID: cfg.BenchmarkPortfolioID,
		Broadcaster:          c.Broadcaster,
	})
	c.ReplayJob = orchestrator.NewReplayJob(c.Replayer, log)

	return c, nil
}
