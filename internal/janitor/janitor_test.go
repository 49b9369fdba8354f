package janitor

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type fakeSweeper struct {
	removed int
	err     error
	calls   int
}

func (f *fakeSweeper) Sweep(context.Context) (int, error) {
	f.calls++
	return f.removed, f.err
}

func TestRunOnce(t *testing.T) {
	a := &fakeSweeper{removed: 3}
	b := &fakeSweeper{removed: 2}

	var reported int
	j := New(zerolog.Nop(), []Sweeper{a, b}, WithOnSweep(func(n int) { reported = n }))

	total := j.RunOnce(context.Background())

	assert.Equal(t, 5, total)
	assert.Equal(t, 5, reported)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}

func TestRunOnceToleratesFailingSweeper(t *testing.T) {
	bad := &fakeSweeper{err: errors.New("store offline")}
	good := &fakeSweeper{removed: 4}

	j := New(zerolog.Nop(), []Sweeper{bad, good})

	total := j.RunOnce(context.Background())

	assert.Equal(t, 4, total, "one failing sweeper must not stop the others")
	assert.Equal(t, 1, good.calls)
}
