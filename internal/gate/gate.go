package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/AlexKimmel/PageGate/internal/cache"
	"github.com/AlexKimmel/PageGate/internal/identity"
	"github.com/AlexKimmel/PageGate/internal/ratelimit"
)

// ErrPipeline marks produce failures so callers can tell them apart from
// limiter storage failures. Quota is already spent when this is returned.
var ErrPipeline = errors.New("gate: pipeline failed")

// ErrLimiter marks a rate-limit storage failure. The request is denied
// rather than letting quota be silently bypassed.
var ErrLimiter = errors.New("gate: rate limit state unavailable")

// Produce computes the artifact for one request. It is the expensive
// external collaborator (crawl + summarize) and runs without any store
// lock held.
type Produce func(ctx context.Context) (string, error)

// Outcome is the gate's answer. Cached means the value came straight from
// the cache and Decision was never consulted; otherwise Decision carries
// the limiter verdict, and Value is set only when it is Allowed.
type Outcome struct {
	Value    string
	Cached   bool
	Decision ratelimit.Result
}

// Hooks let the caller observe gate traffic without coupling this package
// to a metrics backend. Any hook may be nil.
type Hooks struct {
	OnCacheHit   func()
	OnCacheMiss  func()
	OnDenied     func(kind ratelimit.Kind)
	OnProduced   func(d time.Duration, err error)
	OnCacheWrite func(err error)
}

// Gate composes the result cache and the rate limiter in front of the
// expensive pipeline: cache hits bypass the limiter entirely, everything
// else must win a limiter slot first.
type Gate struct {
	cache   *cache.Cache
	limiter *ratelimit.Limiter
	log     zerolog.Logger
	hooks   Hooks
	group   singleflight.Group
}

func New(c *cache.Cache, l *ratelimit.Limiter, log zerolog.Logger, hooks Hooks) *Gate {
	return &Gate{cache: c, limiter: l, log: log, hooks: hooks}
}

// Handle runs the full flow for one request. Denials come back as an
// Outcome with a non-Allowed Decision and a nil error; errors are reserved
// for bad input (cache.ErrBadURL), limiter storage failure (ErrLimiter)
// and pipeline failure (ErrPipeline).
//
// Concurrent misses for the same key collapse into one produce call; every
// caller still pays quota individually, only the upstream work is shared.
// A failed produce is not rolled back: retry storms should drain the
// caller's quota, not the upstream's wallet.
func (g *Gate) Handle(ctx context.Context, id identity.Identity, rawURL string, produce Produce) (Outcome, error) {
	key, err := cache.NormalizeKey(rawURL)
	if err != nil {
		return Outcome{}, err
	}

	if v, ok := g.cache.Get(ctx, key); ok {
		call(g.hooks.OnCacheHit)
		g.log.Debug().Str("key", key).Msg("cache hit")
		return Outcome{Value: v, Cached: true}, nil
	}
	call(g.hooks.OnCacheMiss)

	dec, err := g.limiter.Check(ctx, id)
	if err != nil {
		g.log.Error().Err(err).Str("identity", string(id)).Msg("limiter unavailable, denying")
		return Outcome{}, fmt.Errorf("%w: %v", ErrLimiter, err)
	}
	if dec.Kind != ratelimit.Allowed {
		if g.hooks.OnDenied != nil {
			g.hooks.OnDenied(dec.Kind)
		}
		g.log.Info().
			Str("identity", string(id)).
			Stringer("reason", dec.Kind).
			Dur("retry_after", dec.RetryAfter).
			Msg("rate limited")
		return Outcome{Decision: dec}, nil
	}

	start := time.Now()
	v, err, _ := g.group.Do(key, func() (any, error) {
		val, perr := produce(ctx)
		if perr != nil {
			return nil, perr
		}
		// cache failure is fail-open: the value still goes back to the caller
		if werr := g.cache.Put(ctx, key, val); werr != nil {
			if g.hooks.OnCacheWrite != nil {
				g.hooks.OnCacheWrite(werr)
			}
			g.log.Warn().Err(werr).Str("key", key).Msg("cache write failed")
		}
		return val, nil
	})
	if g.hooks.OnProduced != nil {
		g.hooks.OnProduced(time.Since(start), err)
	}
	if err != nil {
		return Outcome{Decision: dec}, fmt.Errorf("%w: %v", ErrPipeline, err)
	}
	return Outcome{Value: v.(string), Decision: dec}, nil
}

func call(fn func()) {
	if fn != nil {
		fn()
	}
}
