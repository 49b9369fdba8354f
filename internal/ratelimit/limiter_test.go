package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlexKimmel/PageGate/internal/identity"
	"github.com/AlexKimmel/PageGate/internal/store"
	"github.com/AlexKimmel/PageGate/internal/store/memory"
)

const testID = identity.Identity("203.0.113.5")

// clock drives a limiter deterministically in tests.
type clock struct {
	t time.Time
}

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(p Policy) (*Limiter, *clock) {
	l := New(memory.New(), p)
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	l.now = c.now
	return l, c
}

func TestCheckCooldown(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(DefaultPolicy())

	first, err := l.Check(ctx, testID)
	require.NoError(t, err)
	assert.Equal(t, Allowed, first.Kind)

	second, err := l.Check(ctx, testID)
	require.NoError(t, err)
	assert.Equal(t, Cooldown, second.Kind)
	assert.Equal(t, 60*time.Second, second.RetryAfter)
}

func TestCheckHourlyLimit(t *testing.T) {
	ctx := context.Background()
	l, c := newTestLimiter(Policy{Cooldown: 0, HourlyLimit: 10, DailyLimit: 25})

	for i := 0; i < 10; i++ {
		res, err := l.Check(ctx, testID)
		require.NoError(t, err)
		require.Equal(t, Allowed, res.Kind, "request %d", i+1)
	}

	res, err := l.Check(ctx, testID)
	require.NoError(t, err)
	assert.Equal(t, HourlyLimit, res.Kind)
	assert.Equal(t, 0, res.RemainingHourly)
	assert.Equal(t, 15, res.RemainingDaily)
	assert.Equal(t, time.Hour, res.RetryAfter)

	t.Run("window reset frees the quota", func(t *testing.T) {
		c.advance(time.Hour)
		res, err := l.Check(ctx, testID)
		require.NoError(t, err)
		assert.Equal(t, Allowed, res.Kind)
		assert.Equal(t, 9, res.RemainingHourly)
	})
}

func TestCheckDailyLimit(t *testing.T) {
	ctx := context.Background()
	l, c := newTestLimiter(Policy{Cooldown: 0, HourlyLimit: 10, DailyLimit: 25})

	// 25 allowed requests spread so the hourly cap never trips
	for _, batch := range []int{10, 10, 5} {
		for i := 0; i < batch; i++ {
			res, err := l.Check(ctx, testID)
			require.NoError(t, err)
			require.Equal(t, Allowed, res.Kind)
		}
		c.advance(time.Hour)
	}

	// hourly window just reset, so only the daily cap can deny
	res, err := l.Check(ctx, testID)
	require.NoError(t, err)
	assert.Equal(t, DailyLimit, res.Kind)
	assert.Equal(t, 21*time.Hour, res.RetryAfter)

	t.Run("daily reset frees the quota", func(t *testing.T) {
		c.advance(21 * time.Hour)
		res, err := l.Check(ctx, testID)
		require.NoError(t, err)
		assert.Equal(t, Allowed, res.Kind)
		assert.Equal(t, 24, res.RemainingDaily)
	})
}

func TestDenialPrecedence(t *testing.T) {
	ctx := context.Background()

	t.Run("cooldown before daily", func(t *testing.T) {
		l, _ := newTestLimiter(Policy{Cooldown: 60 * time.Second, HourlyLimit: 1, DailyLimit: 1})

		res, err := l.Check(ctx, testID)
		require.NoError(t, err)
		require.Equal(t, Allowed, res.Kind)

		// both caps are exhausted AND we are inside the cooldown;
		// cooldown is the tightest constraint and must win
		res, err = l.Check(ctx, testID)
		require.NoError(t, err)
		assert.Equal(t, Cooldown, res.Kind)
	})

	t.Run("daily before hourly", func(t *testing.T) {
		l, c := newTestLimiter(Policy{Cooldown: 0, HourlyLimit: 5, DailyLimit: 5})

		for i := 0; i < 5; i++ {
			res, err := l.Check(ctx, testID)
			require.NoError(t, err)
			require.Equal(t, Allowed, res.Kind)
		}
		c.advance(time.Minute)

		res, err := l.Check(ctx, testID)
		require.NoError(t, err)
		assert.Equal(t, DailyLimit, res.Kind)
	})
}

func TestEndToEndScenario(t *testing.T) {
	ctx := context.Background()
	l, c := newTestLimiter(DefaultPolicy())

	res, err := l.Check(ctx, testID)
	require.NoError(t, err)
	assert.Equal(t, Allowed, res.Kind)
	assert.Equal(t, 9, res.RemainingHourly)
	assert.Equal(t, 24, res.RemainingDaily)

	res, err = l.Check(ctx, testID)
	require.NoError(t, err)
	assert.Equal(t, Cooldown, res.Kind)
	assert.Equal(t, 60*time.Second, res.RetryAfter)

	c.advance(61 * time.Second)

	res, err = l.Check(ctx, testID)
	require.NoError(t, err)
	assert.Equal(t, Allowed, res.Kind)
	assert.Equal(t, 8, res.RemainingHourly)
	assert.Equal(t, 23, res.RemainingDaily)
}

func TestCheckIsAtomicUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	const slots = 3
	const callers = 20

	l := New(memory.New(), Policy{Cooldown: 0, HourlyLimit: slots, DailyLimit: 100})

	results := make(chan Kind, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Check(ctx, testID)
			assert.NoError(t, err)
			results <- res.Kind
		}()
	}
	wg.Wait()
	close(results)

	allowed, denied := 0, 0
	for k := range results {
		if k == Allowed {
			allowed++
		} else {
			denied++
		}
	}
	assert.Equal(t, slots, allowed, "no lost-update race: exactly the remaining slots succeed")
	assert.Equal(t, callers-slots, denied)
}

func TestCorruptStateStartsFresh(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	l := New(st, DefaultPolicy())

	require.NoError(t, st.Put(ctx, string(testID), []byte("not json at all")))

	res, err := l.Check(ctx, testID)
	require.NoError(t, err)
	assert.Equal(t, Allowed, res.Kind)
	assert.Equal(t, 9, res.RemainingHourly)
	assert.Equal(t, 24, res.RemainingDaily)
}

func TestStorageFailureIsFailClosed(t *testing.T) {
	ctx := context.Background()
	l := New(&brokenStore{}, DefaultPolicy())

	_, err := l.Check(ctx, testID)
	assert.Error(t, err)
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	l, c := newTestLimiter(Policy{Cooldown: 0, HourlyLimit: 10, DailyLimit: 25})

	_, err := l.Check(ctx, identity.Identity("198.51.100.1"))
	require.NoError(t, err)

	c.advance(23 * time.Hour)
	_, err = l.Check(ctx, identity.Identity("198.51.100.2"))
	require.NoError(t, err)

	c.advance(2 * time.Hour) // first identity is now idle past the daily window

	removed, err := l.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

// brokenStore fails every operation, simulating a full or unwritable disk.
type brokenStore struct{}

var errDisk = errors.New("disk on fire")

func (b *brokenStore) Get(context.Context, string) ([]byte, error) { return nil, errDisk }
func (b *brokenStore) Put(context.Context, string, []byte) error   { return errDisk }
func (b *brokenStore) Update(context.Context, string, store.UpdateFunc) error {
	return errDisk
}
func (b *brokenStore) Delete(context.Context, string) error   { return errDisk }
func (b *brokenStore) Keys(context.Context) ([]string, error) { return nil, errDisk }
func (b *brokenStore) Close() error                           { return nil }
