package runtime

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/aristath/truthspine/internal/apperrors"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// maxAttempts and the fixed backoff ladder are the retry contract: at most
// three attempts, with 1s and then 2s between them, applied only to errors
// marked transient.
const maxAttempts = 3

var retryDelays = [maxAttempts - 1]time.Duration{time.Second, 2 * time.Second}

// Cache is the request-scoped result cache: one instance per pattern
// execution, discarded when the pattern finishes. Never shared across
// requests.
type Cache struct {
	entries map[string]Result
}

// NewCache builds an empty request-scoped cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]Result)}
}

// cacheKey builds sha256(capability_name || msgpack(args)), truncated to
// 16 bytes (32 hex chars): plenty of collision resistance at a fraction of
// the length.
func cacheKey(capabilityName string, args map[string]any) (string, error) {
	encoded, err := msgpack.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode capability args: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(capabilityName))
	h.Write(encoded)
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16]), nil
}

// Invoker dispatches capability invocations through a Registry, applying
// the retry contract and request-scoped caching.
type Invoker struct {
	registry *Registry
	log      zerolog.Logger
}

// NewInvoker builds an Invoker bound to a Registry.
func NewInvoker(registry *Registry, log zerolog.Logger) *Invoker {
	return &Invoker{registry: registry, log: log.With().Str("component", "capability_invoker").Logger()}
}

// Invoke calls capabilityName with args, consulting and populating cache
// for this request. Non-transient errors (validation, programming errors)
// are returned on the first failure without retrying; transient errors are
// retried up to maxAttempts with the fixed backoff ladder.
func (inv *Invoker) Invoke(ctx context.Context, rc RequestContext, cache *Cache, capabilityName string, state map[string]any, args map[string]any) (Result, error) {
	fn, ok := inv.registry.Lookup(capabilityName)
	if !ok {
		return Result{}, apperrors.Fatal("runtime", "invoke", fmt.Errorf("unknown capability %q", capabilityName))
	}

	key, err := cacheKey(capabilityName, args)
	if err != nil {
		return Result{}, apperrors.Fatal("runtime", "invoke", err)
	}
	if cached, hit := cache.entries[key]; hit {
		return cached, nil
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(retryDelays[attempt-1]):
			}
		}

		result, err := fn(ctx, rc, state, args)
		if err == nil {
			if result.Provenance == "" {
				result.Provenance = ProvenanceReal
			}
			cache.entries[key] = result
			return result, nil
		}

		lastErr = err
		inv.log.Warn().Err(err).Str("capability", capabilityName).Int("attempt", attempt+1).Msg("capability invocation failed")

		if !apperrors.IsTransient(err) {
			break
		}
	}

	errResult := Result{Provenance: ProvenanceError, Source: capabilityName}
	cache.entries[key] = errResult
	return errResult, lastErr
}
