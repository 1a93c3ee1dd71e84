// Package prices implements the primary and secondary security price
// clients used by the pricing pack builder. Both satisfy the same Client
// interface so the builder can fall back from primary to secondary without
// knowing which vendor is behind either one.
package prices

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

// Quote is a single security's close as reported by a provider.
type Quote struct {
	SecurityID string
	Close      float64
	Currency   string
}

// Client fetches a close price for one security.
type Client interface {
	Name() string
	GetClose(ctx context.Context, securityID string) (Quote, error)
}

type cachedQuote struct {
	Close    float64 `json:"close"`
	Currency string  `json:"currency"`
}

// httpClient is the shared implementation behind both the primary and the
// secondary provider: cache-first reads, a guarded HTTP round trip, and a
// stale-cache fallback when the provider itself is unreachable.
type httpClient struct {
	name      string
	baseURL   string
	apiKey    string
	http      *http.Client
	guard     *providers.Guard
	cacheRepo *cache.Repository
	log       zerolog.Logger
}

func newHTTPClient(name, baseURL, apiKey string, rate float64, window time.Duration, cacheRepo *cache.Repository, log zerolog.Logger) *httpClient {
	log = log.With().Str("client", name).Logger()
	return &httpClient{
		name:      name,
		baseURL:   baseURL,
		apiKey:    apiKey,
		http:      &http.Client{Timeout: 10 * time.Second},
		guard:     providers.NewGuard(name, rate, window, 10*time.Second, log),
		cacheRepo: cacheRepo,
		log:       log,
	}
}

func (c *httpClient) Name() string { return c.name }

func (c *httpClient) GetClose(ctx context.Context, securityID string) (Quote, error) {
	if c.cacheRepo != nil {
		if data, err := c.cacheRepo.GetIfFresh("price_quotes", securityID); err == nil && data != nil {
			var cached cachedQuote
			if err := json.Unmarshal(data, &cached); err == nil {
				return Quote{SecurityID: securityID, Close: cached.Close, Currency: cached.Currency}, nil
			}
		}
	}

	var result Quote
	err := c.guard.Do(ctx, func(ctx context.Context) error {
		q, fetchErr := c.fetch(ctx, securityID)
		if fetchErr != nil {
			return fetchErr
		}
		result = q
		return nil
	})
	if err == nil {
		if c.cacheRepo != nil {
			cached := cachedQuote{Close: result.Close, Currency: result.Currency}
			if storeErr := c.cacheRepo.Store("price_quotes", securityID, cached, cache.TTLPriceQuote); storeErr != nil {
				c.log.Warn().Err(storeErr).Str("security_id", securityID).Msg("failed to cache price quote")
			}
		}
		return result, nil
	}

	if stale, ok := c.staleFromCache(securityID); ok {
		c.log.Warn().Err(err).Str("security_id", securityID).Msg("provider failed, using stale cached price")
		return stale, nil
	}
	return Quote{}, err
}

func (c *httpClient) staleFromCache(securityID string) (Quote, bool) {
	if c.cacheRepo == nil {
		return Quote{}, false
	}
	data, err := c.cacheRepo.Get("price_quotes", securityID)
	if err != nil || data == nil {
		return Quote{}, false
	}
	var cached cachedQuote
	if err := json.Unmarshal(data, &cached); err != nil {
		return Quote{}, false
	}
	return Quote{SecurityID: securityID, Close: cached.Close, Currency: cached.Currency}, true
}

func (c *httpClient) fetch(ctx context.Context, securityID string) (Quote, error) {
	url := fmt.Sprintf("%s/quote?symbol=%s", c.baseURL, securityID)
	if c.apiKey != "" {
		url += "&apikey=" + c.apiKey
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Quote{}, apperrors.Fatal(c.name, "fetch", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Quote{}, apperrors.Transient(c.name, "fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return Quote{}, apperrors.Transient(c.name, "fetch", fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return Quote{}, apperrors.Validation(c.name, "fetch", fmt.Errorf("status %d", resp.StatusCode))
	}

	var body struct {
		Close    float64 `json:"close"`
		Currency string  `json:"currency"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Quote{}, apperrors.Transient(c.name, "fetch", err)
	}
	if body.Close <= 0 {
		return Quote{}, apperrors.Validation(c.name, "fetch", fmt.Errorf("non-positive close for %s", securityID))
	}

	return Quote{SecurityID: securityID, Close: body.Close, Currency: body.Currency}, nil
}

// NewPrimary builds the primary price provider client: 300 requests/minute,
// the policy default for most quote vendors.
func NewPrimary(apiKey string, cacheRepo *cache.Repository, log zerolog.Logger) Client {
	return newHTTPClient("primary_price_provider", "https://primary-quotes.example.invalid/v1", apiKey, 300, time.Minute, cacheRepo, log)
}

// NewSecondary builds the secondary (fallback) price provider client, held
// to a tighter rate limit typical of a free-tier API key.
func NewSecondary(apiKey string, cacheRepo *cache.Repository, log zerolog.Logger) Client {
	return newHTTPClient("secondary_price_provider", "https://secondary-quotes.example.invalid/v1", apiKey, 60, time.Minute, cacheRepo, log)
}
