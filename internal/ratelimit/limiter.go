package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/AlexKimmel/PageGate/internal/identity"
	"github.com/AlexKimmel/PageGate/internal/store"
)

const (
	hourlyWindow = time.Hour
	dailyWindow  = 24 * time.Hour
)

// Kind is the closed set of outcomes a check can produce. Exactly one kind
// is active per decision.
type Kind int

const (
	Allowed Kind = iota
	Cooldown
	HourlyLimit
	DailyLimit
)

func (k Kind) String() string {
	switch k {
	case Allowed:
		return "allowed"
	case Cooldown:
		return "cooldown"
	case HourlyLimit:
		return "hourly_limit"
	case DailyLimit:
		return "daily_limit"
	}
	return "unknown"
}

type Policy struct {
	Cooldown    time.Duration // minimum spacing between allowed requests
	HourlyLimit int
	DailyLimit  int
}

func DefaultPolicy() Policy {
	return Policy{Cooldown: 60 * time.Second, HourlyLimit: 10, DailyLimit: 25}
}

type Result struct {
	Kind            Kind
	RetryAfter      time.Duration // set when denied
	RemainingHourly int
	RemainingDaily  int
}

// state is the durable per-identity record. Windows are fixed: they reset
// wholesale once start+duration has elapsed.
type state struct {
	LastRequestUnix int64 `json:"last_request"`
	HourlyStartUnix int64 `json:"hourly_window_start"`
	HourlyCount     int   `json:"hourly_count"`
	DailyStartUnix  int64 `json:"daily_window_start"`
	DailyCount      int   `json:"daily_count"`
}

// Limiter enforces cooldown + hourly + daily quotas per identity. Every
// check is a single atomic check-and-update through store.Update, so two
// concurrent checks for one identity can never both take the last slot.
type Limiter struct {
	store  store.Store
	policy Policy
	now    func() time.Time
}

func New(st store.Store, p Policy) *Limiter {
	return &Limiter{store: st, policy: p, now: time.Now}
}

// Check evaluates identity against its current state. Denial precedence is
// cooldown, then daily, then hourly. Denials never touch counters or the
// stored record. A storage failure is returned as an error; callers treat
// that as a denial (fail closed) rather than letting quota slip by.
func (l *Limiter) Check(ctx context.Context, id identity.Identity) (Result, error) {
	var res Result
	err := l.store.Update(ctx, string(id), func(old []byte) ([]byte, error) {
		now := l.now()
		st := decode(old, now)

		if st.LastRequestUnix > 0 {
			since := now.Unix() - st.LastRequestUnix
			if cd := int64(l.policy.Cooldown / time.Second); since < cd {
				res = Result{
					Kind:            Cooldown,
					RetryAfter:      time.Duration(cd-since) * time.Second,
					RemainingHourly: remaining(l.policy.HourlyLimit, st.HourlyCount),
					RemainingDaily:  remaining(l.policy.DailyLimit, st.DailyCount),
				}
				return nil, nil
			}
		}

		if now.Unix()-st.HourlyStartUnix >= int64(hourlyWindow/time.Second) {
			st.HourlyStartUnix = now.Unix()
			st.HourlyCount = 0
		}
		if now.Unix()-st.DailyStartUnix >= int64(dailyWindow/time.Second) {
			st.DailyStartUnix = now.Unix()
			st.DailyCount = 0
		}

		if st.DailyCount >= l.policy.DailyLimit {
			res = Result{
				Kind:            DailyLimit,
				RetryAfter:      untilReset(st.DailyStartUnix, dailyWindow, now),
				RemainingHourly: remaining(l.policy.HourlyLimit, st.HourlyCount),
			}
			return nil, nil
		}
		if st.HourlyCount >= l.policy.HourlyLimit {
			res = Result{
				Kind:           HourlyLimit,
				RetryAfter:     untilReset(st.HourlyStartUnix, hourlyWindow, now),
				RemainingDaily: remaining(l.policy.DailyLimit, st.DailyCount),
			}
			return nil, nil
		}

		st.HourlyCount++
		st.DailyCount++
		st.LastRequestUnix = now.Unix()
		res = Result{
			Kind:            Allowed,
			RemainingHourly: remaining(l.policy.HourlyLimit, st.HourlyCount),
			RemainingDaily:  remaining(l.policy.DailyLimit, st.DailyCount),
		}
		return json.Marshal(st)
	})
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit: check %q: %w", id, err)
	}
	return res, nil
}

// Sweep deletes records for identities idle past the daily window; their
// state no longer influences any decision. Returns how many were removed.
func (l *Limiter) Sweep(ctx context.Context) (int, error) {
	keys, err := l.store.Keys(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, key := range keys {
		dead := false
		err := l.store.Update(ctx, key, func(old []byte) ([]byte, error) {
			if old == nil {
				return nil, nil
			}
			var st state
			if err := json.Unmarshal(old, &st); err == nil &&
				l.now().Unix()-st.LastRequestUnix < int64(dailyWindow/time.Second) {
				return nil, nil
			}
			dead = true
			return nil, store.Tombstone
		})
		if err == nil && dead {
			removed++
		}
	}
	return removed, nil
}

// decode tolerates absent or corrupt records by starting fresh: a record
// that cannot be read is treated as a first-ever request.
func decode(b []byte, now time.Time) state {
	if b == nil {
		return freshState(now)
	}
	var st state
	if err := json.Unmarshal(b, &st); err != nil {
		return freshState(now)
	}
	return st
}

func freshState(now time.Time) state {
	return state{HourlyStartUnix: now.Unix(), DailyStartUnix: now.Unix()}
}

func untilReset(startUnix int64, window time.Duration, now time.Time) time.Duration {
	return time.Duration(startUnix+int64(window/time.Second)-now.Unix()) * time.Second
}

func remaining(limit, count int) int {
	if r := limit - count; r > 0 {
		return r
	}
	return 0
}
