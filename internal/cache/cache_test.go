package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geotruth/engine/internal/bundle"
	"github.com/geotruth/engine/internal/testutil"
	"github.com/geotruth/engine/internal/timeutil"
)

func testBundle(id string) bundle.TruthBundle {
	return bundle.TruthBundle{
		EventID:           id,
		GeneratedAt:       testutil.BaseTime,
		VerificationMode:  bundle.ModeOffline,
		OverallConfidence: 0.8,
	}
}

func TestFingerprintStability(t *testing.T) {
	ts := testutil.BaseTime

	a := Fingerprint(36.10691, -112.11289, ts, 500, []string{"natural", "tourism"}, "auto", 120, 90, false)
	b := Fingerprint(36.10694, -112.11291, ts, 500, []string{"tourism", "natural"}, "auto", 120, 90, false)
	assert.Equal(t, a, b, "sub-11m jitter and category order must not change the key")

	c := Fingerprint(36.10691, -112.11289, ts, 500, []string{"natural", "tourism"}, "offline", 120, 90, false)
	assert.NotEqual(t, a, c, "mode is part of the key")

	d := Fingerprint(36.1075, -112.1129, ts, 500, []string{"natural", "tourism"}, "auto", 120, 90, false)
	assert.NotEqual(t, a, d, "a genuinely different coordinate changes the key")
}

func TestGetOrComputeMissThenHit(t *testing.T) {
	c := New(0, nil)

	var calls int32
	compute := func(context.Context) (bundle.TruthBundle, error) {
		atomic.AddInt32(&calls, 1)
		return testBundle("ev-1"), nil
	}

	b, hit, err := c.GetOrCompute(context.Background(), "key-a", compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "ev-1", b.EventID)

	b, hit, err = c.GetOrCompute(context.Background(), "key-a", compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "ev-1", b.EventID)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestTTLExpiry(t *testing.T) {
	clock := timeutil.NewFakeClock(testutil.BaseTime)
	c := New(DefaultTTL, clock)

	var calls int32
	compute := func(context.Context) (bundle.TruthBundle, error) {
		atomic.AddInt32(&calls, 1)
		return testBundle("ev-1"), nil
	}

	_, _, err := c.GetOrCompute(context.Background(), "key-a", compute)
	require.NoError(t, err)

	clock.Advance(23 * time.Hour)
	_, hit, err := c.GetOrCompute(context.Background(), "key-a", compute)
	require.NoError(t, err)
	assert.True(t, hit, "still fresh inside the TTL")

	clock.Advance(2 * time.Hour)
	_, hit, err = c.GetOrCompute(context.Background(), "key-a", compute)
	require.NoError(t, err)
	assert.False(t, hit, "expired entries recompute")
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestSingleFlightCollapsesConcurrentCallers(t *testing.T) {
	c := New(0, nil)

	var calls int32
	release := make(chan struct{})
	compute := func(context.Context) (bundle.TruthBundle, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return testBundle("ev-1"), nil
	}

	const callers = 50
	var wg sync.WaitGroup
	var started sync.WaitGroup
	errs := make([]error, callers)
	bundles := make([]bundle.TruthBundle, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		started.Add(1)
		go func(i int) {
			defer wg.Done()
			started.Done()
			bundles[i], _, errs[i] = c.GetOrCompute(context.Background(), "shared-key", compute)
		}(i)
	}
	started.Wait()
	time.Sleep(10 * time.Millisecond) // let the goroutines join the flight
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "exactly one underlying computation")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "ev-1", bundles[i].EventID)
	}
}

func TestComputeErrorPropagatesAndIsNotCached(t *testing.T) {
	c := New(0, nil)
	boom := errors.New("backend exploded")

	var calls int32
	_, _, err := c.GetOrCompute(context.Background(), "key-a", func(context.Context) (bundle.TruthBundle, error) {
		atomic.AddInt32(&calls, 1)
		return bundle.TruthBundle{}, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len(), "failures are not cached")

	_, hit, err := c.GetOrCompute(context.Background(), "key-a", func(context.Context) (bundle.TruthBundle, error) {
		atomic.AddInt32(&calls, 2)
		return testBundle("ev-2"), nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "next caller retries the computation")
}

func TestWaiterCancellationLeavesFlightRunning(t *testing.T) {
	c := New(0, nil)

	release := make(chan struct{})
	entered := make(chan struct{})
	compute := func(context.Context) (bundle.TruthBundle, error) {
		close(entered)
		<-release
		return testBundle("ev-1"), nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, err := c.GetOrCompute(context.Background(), "key-a", compute)
		assert.NoError(t, err)
	}()
	<-entered

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := c.GetOrCompute(ctx, "key-a", func(context.Context) (bundle.TruthBundle, error) {
		t.Fatal("joined waiter must not start a second computation")
		return bundle.TruthBundle{}, nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	<-done
	assert.Equal(t, 1, c.Len(), "the original flight still completes and caches")
}

func TestInitiatorCancellationFailsJoinedWaiters(t *testing.T) {
	c := New(0, nil)

	entered := make(chan struct{})
	compute := func(cctx context.Context) (bundle.TruthBundle, error) {
		close(entered)
		<-cctx.Done()
		return bundle.TruthBundle{}, cctx.Err()
	}

	initCtx, cancelInitiator := context.WithCancel(context.Background())
	initErr := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrCompute(initCtx, "key-a", compute)
		initErr <- err
	}()
	<-entered

	waiterErr := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrCompute(context.Background(), "key-a", func(context.Context) (bundle.TruthBundle, error) {
			t.Error("joined waiter must not start a second computation")
			return bundle.TruthBundle{}, nil
		})
		waiterErr <- err
	}()
	time.Sleep(10 * time.Millisecond) // let the waiter join the flight

	cancelInitiator()
	assert.ErrorIs(t, <-initErr, context.Canceled)
	assert.ErrorIs(t, <-waiterErr, context.Canceled, "the flight runs under the initiator's ctx")
	assert.Equal(t, 0, c.Len(), "a cancelled flight caches nothing")

	_, hit, err := c.GetOrCompute(context.Background(), "key-a", func(context.Context) (bundle.TruthBundle, error) {
		return testBundle("ev-1"), nil
	})
	require.NoError(t, err)
	assert.False(t, hit, "next caller recomputes")
}

func TestSweep(t *testing.T) {
	clock := timeutil.NewFakeClock(testutil.BaseTime)
	c := New(time.Hour, clock)

	for _, key := range []string{"a", "b", "c"} {
		_, _, err := c.GetOrCompute(context.Background(), key, func(context.Context) (bundle.TruthBundle, error) {
			return testBundle("ev-" + key), nil
		})
		require.NoError(t, err)
	}
	require.Equal(t, 3, c.Len())

	clock.Advance(30 * time.Minute)
	assert.Equal(t, 0, c.Sweep())

	clock.Advance(31 * time.Minute)
	assert.Equal(t, 3, c.Sweep())
	assert.Equal(t, 0, c.Len())
}
