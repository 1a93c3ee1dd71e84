// Package macro implements the macro/FX provider used to fix currency
// pairs at a pricing policy's fixing window.
package macro

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/aristath/truthspine/internal/apperrors"
	"github.com/aristath/truthspine/internal/providers"
	"github.com/aristath/truthspine/internal/providers/cache"
	"github.com/rs/zerolog"
)

// FXClient fetches currency pair rates, cache-first with a stale-cache
// fallback when the upstream provider is unreachable.
type FXClient struct {
	baseURL   string
	apiKey    string
	http      *http.Client
	guard     *providers.Guard
	cacheRepo *cache.Repository
	log       zerolog.Logger
}

// NewFXClient creates the macro provider client, rate-limited to 60
// requests/minute (a typical free-tier FX API allowance).
func NewFXClient(apiKey string, cacheRepo *cache.Repository, log zerolog.Logger) *FXClient {
	log = log.With().Str("client", "macro_fx_provider").Logger()
	return &FXClient{
		baseURL:   "https://macro-fx.example.invalid/v4/latest",
		apiKey:    apiKey,
		http:      &http.Client{Timeout: 10 * time.Second},
		guard:     providers.NewGuard("macro_fx_provider", 60, time.Minute, 10*time.Second, log),
		cacheRepo: cacheRepo,
		log:       log,
	}
}

type cachedRate struct {
	Rate float64 `json:"rate"`
}

// GetRate returns the base->quote rate. Identity pairs always return 1.0
// without touching the network or cache.
func (c *FXClient) GetRate(ctx context.Context, baseCcy, quoteCcy string) (float64, error) {
	if baseCcy == quoteCcy {
		return 1.0, nil
	}

	cacheKey := baseCcy + ":" + quoteCcy

	if c.cacheRepo != nil {
		if data, err := c.cacheRepo.GetIfFresh("fx_quotes", cacheKey); err == nil && data != nil {
			var cached cachedRate
			if err := json.Unmarshal(data, &cached); err == nil {
				c.log.Debug().Str("pair", cacheKey).Float64("rate", cached.Rate).Msg("cache hit")
				return cached.Rate, nil
			}
		}
	}

	var rate float64
	err := c.guard.Do(ctx, func(ctx context.Context) error {
		r, fetchErr := c.fetch(ctx, baseCcy, quoteCcy)
		if fetchErr != nil {
			return fetchErr
		}
		rate = r
		return nil
	})

	if err == nil {
		if c.cacheRepo != nil {
			if storeErr := c.cacheRepo.Store("fx_quotes", cacheKey, cachedRate{Rate: rate}, cache.TTLFXQuote); storeErr != nil {
				c.log.Warn().Err(storeErr).Str("pair", cacheKey).Msg("failed to cache fx rate")
			}
		}
		return rate, nil
	}

	if stale, ok := c.staleFromCache(cacheKey); ok {
		c.log.Warn().Err(err).Str("pair", cacheKey).Float64("rate", stale).Msg("provider failed, using stale cached rate")
		return stale, nil
	}
	return 0, err
}

func (c *FXClient) staleFromCache(cacheKey string) (float64, bool) {
	if c.cacheRepo == nil {
		return 0, false
	}
	data, err := c.cacheRepo.Get("fx_quotes", cacheKey)
	if err != nil || data == nil {
		return 0, false
	}
	var cached cachedRate
	if err := json.Unmarshal(data, &cached); err != nil {
		return 0, false
	}
	return cached.Rate, true
}

func (c *FXClient) fetch(ctx context.Context, baseCcy, quoteCcy string) (float64, error) {
	url := fmt.Sprintf("%s/%s", c.baseURL, baseCcy)
	if c.apiKey != "" {
		url += "?apikey=" + c.apiKey
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, apperrors.Fatal("macro_fx_provider", "fetch", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, apperrors.Transient("macro_fx_provider", "fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return 0, apperrors.Transient("macro_fx_provider", "fetch", fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return 0, apperrors.Validation("macro_fx_provider", "fetch", fmt.Errorf("status %d", resp.StatusCode))
	}

	var result struct {
		Rates map[string]float64 `json:"rates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, apperrors.Transient("macro_fx_provider", "fetch", err)
	}

	rate, exists := result.Rates[quoteCcy]
	if !exists {
		return 0, apperrors.Validation("macro_fx_provider", "fetch", fmt.Errorf("rate not found for %s->%s", baseCcy, quoteCcy))
	}
	return rate, nil
}
