// Package cache memoizes assembled truth bundles keyed by an input
// fingerprint, with single-flight semantics: concurrent requests for the
// same key join one in-flight computation instead of duplicating it.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/geotruth/engine/internal/bundle"
	"github.com/geotruth/engine/internal/timeutil"
)

// DefaultTTL is how long a cached bundle stays fresh.
const DefaultTTL = 24 * time.Hour

// Fingerprint derives the cache key for one point verification.
// Coordinates are rounded to four decimals (~11 m) so GPS jitter between
// re-runs of the same footage still hits the cache; everything that can
// change the output is folded in.
func Fingerprint(lat, lon float64, ts time.Time, radiusM float64, categories []string, mode string, fovDeg, headingDeg float64, occlusion bool) string {
	sorted := append([]string(nil), categories...)
	sort.Strings(sorted)

	h := sha256.New()
	fmt.Fprintf(h, "%.4f|%.4f|%d|%.0f|%s|%s|%.1f|%.1f|%t",
		lat, lon, ts.UTC().Unix(), radiusM,
		strings.Join(sorted, ","), mode, fovDeg, headingDeg, occlusion)
	return hex.EncodeToString(h.Sum(nil))
}

type entry struct {
	bundle   bundle.TruthBundle
	storedAt time.Time
}

// BundleCache is the engine's only mutable shared state. Entries expire
// after the TTL; eviction is lazy on read plus an optional background
// sweep, and never blocks a read.
type BundleCache struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	clock   timeutil.Clock
	group   singleflight.Group
}

// New creates a BundleCache. ttl <= 0 selects DefaultTTL; a nil clock
// selects the real one.
func New(ttl time.Duration, clock timeutil.Clock) *BundleCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &BundleCache{
		entries: make(map[string]entry),
		ttl:     ttl,
		clock:   clock,
	}
}

// GetOrCompute returns the cached bundle for key, or runs compute and
// caches its result. Concurrent callers with the same key join the single
// in-flight computation; a compute failure propagates to every joined
// waiter and is not cached. The second return reports whether the value
// came from cache. A waiter whose ctx expires stops waiting without
// disturbing the flight, but the computation runs under the initiating
// caller's ctx: cancelling the initiator fails the flight, and that
// error reaches every joined waiter.
func (c *BundleCache) GetOrCompute(ctx context.Context, key string, compute func(ctx context.Context) (bundle.TruthBundle, error)) (bundle.TruthBundle, bool, error) {
	if b, ok := c.lookup(key); ok {
		return b, true, nil
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		if b, ok := c.lookup(key); ok {
			return b, nil
		}
		b, err := compute(ctx)
		if err != nil {
			return bundle.TruthBundle{}, fmt.Errorf("cache: compute for %s: %w", key[:min(8, len(key))], err)
		}
		c.store(key, b)
		return b, nil
	})

	select {
	case <-ctx.Done():
		return bundle.TruthBundle{}, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return bundle.TruthBundle{}, false, res.Err
		}
		return res.Val.(bundle.TruthBundle), res.Shared, nil
	}
}

// lookup returns a fresh entry, evicting it lazily when expired.
func (c *BundleCache) lookup(key string) (bundle.TruthBundle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return bundle.TruthBundle{}, false
	}
	if c.clock.Since(e.storedAt) > c.ttl {
		delete(c.entries, key)
		return bundle.TruthBundle{}, false
	}
	return e.bundle, true
}

func (c *BundleCache) store(key string, b bundle.TruthBundle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{bundle: b, storedAt: c.clock.Now()}
}

// Len returns the number of resident entries, expired or not.
func (c *BundleCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep removes every expired entry and returns how many were evicted.
func (c *BundleCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var evicted int
	for k, e := range c.entries {
		if c.clock.Since(e.storedAt) > c.ttl {
			delete(c.entries, k)
			evicted++
		}
	}
	return evicted
}

// StartSweeper runs Sweep at the given interval until ctx is cancelled.
func (c *BundleCache) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Sweep()
			}
		}
	}()
}
