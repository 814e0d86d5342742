// Package auth validates bearer credentials issued by the external identity
// provider. It holds the process-wide key verification cache and the token
// validator built on top of it.
package auth

import (
	"context"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/chronoflow/timetracker/internal/idp"
	"github.com/chronoflow/timetracker/internal/metrics"
)

// KeyCache caches the identity provider's signature-verification keys.
// Bounded size, time-limited entries. Concurrent misses may both fetch; the
// population is idempotent so no locking is needed beyond the cache's own.
type KeyCache struct {
	cache   *ttlcache.Cache[string, *rsa.PublicKey]
	fetcher idp.Client
	logger  *slog.Logger
}

// NewKeyCache creates a key cache with the given entry TTL and capacity.
func NewKeyCache(fetcher idp.Client, ttl time.Duration, capacity int, logger *slog.Logger) *KeyCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if capacity <= 0 {
		capacity = 5
	}
	if logger == nil {
		logger = slog.Default()
	}

	cache := ttlcache.New(
		ttlcache.WithTTL[string, *rsa.PublicKey](ttl),
		ttlcache.WithCapacity[string, *rsa.PublicKey](uint64(capacity)),
		ttlcache.WithDisableTouchOnHit[string, *rsa.PublicKey](),
	)
	go cache.Start()

	return &KeyCache{
		cache:   cache,
		fetcher: fetcher,
		logger:  logger,
	}
}

// Get returns the verification key for the given key id. On a miss it
// performs one fetch from the identity provider and populates the cache with
// every key in the returned set.
func (kc *KeyCache) Get(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if item := kc.cache.Get(kid); item != nil {
		metrics.KeyCacheFetchesTotal.WithLabelValues("hit").Inc()
		return item.Value(), nil
	}

	jwks, err := kc.fetcher.FetchSigningKeys(ctx)
	if err != nil {
		metrics.KeyCacheFetchesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("fetch verification keys: %w", err)
	}
	metrics.KeyCacheFetchesTotal.WithLabelValues("miss").Inc()

	var wanted *rsa.PublicKey
	for _, key := range jwks.Keys {
		pub, err := key.RSAPublicKey()
		if err != nil {
			kc.logger.Warn("skipping unusable verification key",
				slog.String("kid", key.Kid),
				slog.String("error", err.Error()))
			continue
		}
		kc.cache.Set(key.Kid, pub, ttlcache.DefaultTTL)
		if key.Kid == kid {
			wanted = pub
		}
	}

	if wanted == nil {
		return nil, fmt.Errorf("verification key %q not published by identity provider", kid)
	}
	return wanted, nil
}

// Len reports the number of cached keys.
func (kc *KeyCache) Len() int {
	return kc.cache.Len()
}

// Close stops the cache's expiry goroutine.
func (kc *KeyCache) Close() {
	kc.cache.Stop()
}
