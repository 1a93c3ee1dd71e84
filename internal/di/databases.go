package di

import (
	"fmt"

	"github.com/aristath/truthspine/internal/config"
	"github.com/aristath/truthspine/internal/database"
)

// InitializeDatabases opens and migrates the five physical databases,
// closing whatever already opened if a later one fails.
func InitializeDatabases(cfg *config.Config) (*Container, error) {
	c := &Container{}

	pricingDB, err := openAndMigrate(cfg.DataDir+"/pricing.db", database.ProfileStandard, "pricing")
	if err != nil {
		return nil, fmt.Errorf("failed to initialize pricing database: %w", err)
	}
	c.PricingDB = pricingDB

	ledgerDB, err := openAndMigrate(cfg.DataDir+"/ledger.db", database.ProfileLedger, "ledger")
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize ledger database: %w", err)
	}
	c.LedgerDB = ledgerDB

	portfolioDB, err := openAndMigrate(cfg.DataDir+"/portfolio.db", database.ProfileStandard, "portfolio")
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize portfolio database: %w", err)
	}
	c.PortfolioDB = portfolioDB

	alertsDB, err := openAndMigrate(cfg.DataDir+"/alerts.db", database.ProfileStandard, "alerts")
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize alerts database: %w", err)
	}
	c.AlertsDB = alertsDB

	cacheDB, err := openAndMigrate(cfg.DataDir+"/cache.db", database.ProfileCache, "cache")
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize cache database: %w", err)
	}
	c.CacheDB = cacheDB

	return c, nil
}

func openAndMigrate(path string, profile database.DatabaseProfile, name string) (*database.DB, error) {
	db, err := database.New(database.Config{Path: path, Profile: profile, Name: name})
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate %s database: %w", name, err)
	}
	return db, nil
}
