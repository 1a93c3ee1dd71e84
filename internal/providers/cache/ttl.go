package cache

import "time"

// TTL constants for provider response caching. Added to time.Now() when
// storing, to calculate expires_at.
const (
	// TTLFXQuote - intraday FX moves are small relative to a reconciliation
	// window; an hour of staleness is acceptable between pack builds.
	TTLFXQuote = time.Hour

	// TTLPriceQuote - used only to avoid duplicate provider calls within a
	// single pack build; the build itself runs in minutes.
	TTLPriceQuote = 10 * time.Minute
)
