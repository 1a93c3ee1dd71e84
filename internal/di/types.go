// Package di wires every Truth Spine service from a single entry point:
// a Container holding the open databases and services, built by Wire.
package di

import (
	"github.com/aristath/truthspine/internal/alerts"
	"github.com/aristath/truthspine/internal/database"
	"github.com/aristath/truthspine/internal/freshness"
	"github.com/aristath/truthspine/internal/ledger"
	"github.com/aristath/truthspine/internal/metrics"
	"github.com/aristath/truthspine/internal/notify"
	"github.com/aristath/truthspine/internal/orchestrator"
	"github.com/aristath/truthspine/internal/pattern"
	"github.com/aristath/truthspine/internal/pricingpack"
	"github.com/aristath/truthspine/internal/ratings"
	"github.com/aristath/truthspine/internal/runtime"
)

// Container owns every long-lived dependency the process needs: the five
// physical databases and the services built on top of them.
type Container struct {
	PricingDB   *database.DB
	LedgerDB    *database.DB
	PortfolioDB *database.DB
	AlertsDB    *database.DB
	CacheDB     *database.DB

	Builder          *pricingpack.Builder
	Reconciler       *ledger.Reconciler
	MetricsEngine    *metrics.Engine
	FactorPrewarmer  *metrics.FactorPrewarmer
	RatingsPrewarmer *ratings.Prewarmer
	Gate             *freshness.Gate
	Registry         *runtime.Registry
	Invoker          *runtime.Invoker
	PatternOrch      *pattern.Orchestrator
	Evaluator        *alerts.Evaluator
	DLQ              *notify.DLQ
	Dispatcher       *notify.Dispatcher
	Replayer         *notify.Replayer

	Pipeline    *orchestrator.Pipeline
	ReplayJob   *orchestrator.ReplayJob
	Broadcaster *orchestrator.Broadcaster
}

// Close shuts down every database connection the container opened. Close
// errors are discarded, not returned - a best-effort shutdown.
func (c *Container) Close() {
	for _, db := range []*database.DB{c.PricingDB, c.LedgerDB, c.PortfolioDB, c.AlertsDB, c.CacheDB} {
		if db != nil {
			_ = db.Close()
		}
	}
}
