// Package arbiter decides which backend set serves a verification request:
// online when reachable and healthy, offline otherwise. It enforces online
// attempt timeouts, falls back transparently, and tags every result with
// the mode that actually produced it — offline data is never presented as
// online-verified.
package arbiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/geotruth/engine/internal/ambient"
	"github.com/geotruth/engine/internal/bundle"
	"github.com/geotruth/engine/internal/match"
	"github.com/geotruth/engine/internal/monitoring"
	"github.com/geotruth/engine/internal/spatial"
)

// DefaultOnlineTimeout bounds one online verification attempt.
const DefaultOnlineTimeout = 5 * time.Second

// RequestMode is the caller's mode preference.
type RequestMode string

const (
	ModeAuto    RequestMode = "auto"
	ModeOnline  RequestMode = "online"
	ModeOffline RequestMode = "offline"
)

// Valid reports whether m is a recognized mode.
func (m RequestMode) Valid() bool {
	switch m {
	case ModeAuto, ModeOnline, ModeOffline:
		return true
	}
	return false
}

// Sentinel errors for the backend failure taxonomy.
var (
	ErrBackendTimeout     = errors.New("arbiter: backend timed out")
	ErrBackendUnavailable = errors.New("arbiter: backend unavailable")
	ErrNoBackend          = errors.New("arbiter: no backend configured for requested mode")
)

// ConnectivityOracle reports whether the online backend is reachable at
// all. Known-unreachable skips the online attempt entirely.
type ConnectivityOracle interface {
	Online(ctx context.Context) bool
}

// AlwaysOnline is a ConnectivityOracle that never vetoes online attempts.
type AlwaysOnline struct{}

// Online implements ConnectivityOracle.
func (AlwaysOnline) Online(context.Context) bool { return true }

// Pinger is anything that can probe its own reachability. The postgis
// store satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingOracle reports online when a probe ping succeeds within its timeout.
type PingOracle struct {
	Pinger  Pinger
	Timeout time.Duration
}

// Online implements ConnectivityOracle.
func (o PingOracle) Online(ctx context.Context) bool {
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return o.Pinger.Ping(probeCtx) == nil
}

// Backends is one mode's capability set. Matcher, when set, overrides the
// engine's local matcher for this mode. Mode is stamped by the arbiter so
// downstream assembly can record which backend actually served the request.
type Backends struct {
	Spatial spatial.Backend
	Ambient ambient.Provider
	Matcher match.SegmentMatcher
	Mode    bundle.Mode
}

// Arbiter owns the online/offline backend pair for the engine's lifetime.
type Arbiter struct {
	online        *Backends // nil when no online backend is configured
	offline       *Backends // nil when no offline data is installed
	oracle        ConnectivityOracle
	onlineTimeout time.Duration
}

// New creates an Arbiter. Either backend set may be nil; oracle nil means
// AlwaysOnline; timeout <= 0 selects DefaultOnlineTimeout.
func New(online, offline *Backends, oracle ConnectivityOracle, onlineTimeout time.Duration) *Arbiter {
	if oracle == nil {
		oracle = AlwaysOnline{}
	}
	if onlineTimeout <= 0 {
		onlineTimeout = DefaultOnlineTimeout
	}
	if online != nil {
		tagged := *online
		tagged.Mode = bundle.ModeOnline
		online = &tagged
	}
	if offline != nil {
		tagged := *offline
		tagged.Mode = bundle.ModeOffline
		offline = &tagged
	}
	return &Arbiter{
		online:        online,
		offline:       offline,
		oracle:        oracle,
		onlineTimeout: onlineTimeout,
	}
}

// Run executes fn against the backend set chosen for the requested mode
// and returns the mode that actually served it. Auto tries online first
// (unless the oracle reports unreachable) under the attempt timeout, then
// falls back to offline. A caller cancellation aborts immediately without
// fallback.
func (a *Arbiter) Run(ctx context.Context, requested RequestMode, fn func(ctx context.Context, b Backends) error) (bundle.Mode, error) {
	switch requested {
	case ModeOnline:
		if a.online == nil {
			return "", ErrNoBackend
		}
		if err := a.runOnline(ctx, fn); err != nil {
			return "", err
		}
		return bundle.ModeOnline, nil

	case ModeOffline:
		if a.offline == nil {
			return "", ErrNoBackend
		}
		if err := fn(ctx, *a.offline); err != nil {
			return "", err
		}
		return bundle.ModeOffline, nil

	case ModeAuto:
		if a.online != nil && a.oracle.Online(ctx) {
			err := a.runOnline(ctx, fn)
			if err == nil {
				return bundle.ModeOnline, nil
			}
			if ctx.Err() != nil {
				// Caller gave up; don't burn time on a fallback nobody
				// will read.
				return "", err
			}
			monitoring.Debugf("arbiter: online attempt failed, falling back to offline: %v", err)
		}
		if a.offline == nil {
			return "", ErrNoBackend
		}
		if err := fn(ctx, *a.offline); err != nil {
			return "", err
		}
		return bundle.ModeOffline, nil

	default:
		return "", fmt.Errorf("arbiter: unrecognized mode %q", requested)
	}
}

// runOnline executes fn against the online backends under the attempt
// timeout, mapping deadline expiry onto the taxonomy.
func (a *Arbiter) runOnline(ctx context.Context, fn func(ctx context.Context, b Backends) error) error {
	attemptCtx, cancel := context.WithTimeout(ctx, a.onlineTimeout)
	defer cancel()

	err := fn(attemptCtx, *a.online)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}

// HasOffline reports whether offline backends are installed.
func (a *Arbiter) HasOffline() bool { return a.offline != nil }

// HasOnline reports whether online backends are configured.
func (a *Arbiter) HasOnline() bool { return a.online != nil }
