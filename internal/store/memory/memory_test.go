package memory

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlexKimmel/PageGate/internal/store"
)

func TestRoundtrip(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.Put(ctx, "k", []byte("v")))

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, s.Delete(ctx, "k"))
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestReturnedValueIsACopy(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.Put(ctx, "k", []byte("abc")))

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	got[0] = 'x'

	again, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
}

func TestKeys(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.Put(ctx, "a", []byte("1")))
	require.NoError(t, s.Put(ctx, "b", []byte("2")))

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, keys)
}

func TestUpdateTombstoneDeletes(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.Put(ctx, "k", []byte("v")))

	err := s.Update(ctx, "k", func(old []byte) ([]byte, error) {
		require.Equal(t, []byte("v"), old)
		return nil, store.Tombstone
	})
	require.NoError(t, err)

	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// deleting an absent record is not an error
	err = s.Update(ctx, "gone", func([]byte) ([]byte, error) {
		return nil, store.Tombstone
	})
	assert.NoError(t, err)
}

func TestUpdateIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := New()

	const workers = 100
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Update(ctx, "counter", func(old []byte) ([]byte, error) {
				n := 0
				if old != nil {
					n, _ = strconv.Atoi(string(old))
				}
				return []byte(strconv.Itoa(n + 1)), nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(workers), string(got))
}
