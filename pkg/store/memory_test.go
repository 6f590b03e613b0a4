package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStoreGetSet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("test:")

	val, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	require.Nil(t, val)

	require.NoError(t, s.SetWithTTL(ctx, "k", []byte("v"), 0))
	val, err = s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), val)

	// Overwrite.
	require.NoError(t, s.SetWithTTL(ctx, "k", []byte("v2"), 0))
	val, err = s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), val)
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("")

	require.NoError(t, s.SetWithTTL(ctx, "ephemeral", []byte("x"), 10*time.Millisecond))
	require.NoError(t, s.SetWithTTL(ctx, "durable", []byte("y"), 0))

	val, err := s.Get(ctx, "ephemeral")
	require.NoError(t, err)
	require.Equal(t, []byte("x"), val)

	time.Sleep(30 * time.Millisecond)

	val, err = s.Get(ctx, "ephemeral")
	require.NoError(t, err)
	require.Nil(t, val, "expired key must read as absent")

	val, err = s.Get(ctx, "durable")
	require.NoError(t, err)
	require.Equal(t, []byte("y"), val, "ttl 0 must never expire")
}

func TestMemoryStoreDeleteCount(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("")

	n, err := s.Delete(ctx, "missing")
	require.NoError(t, err)
	require.EqualValues(t, 0, n)

	require.NoError(t, s.SetWithTTL(ctx, "k", []byte("v"), 0))
	n, err = s.Delete(ctx, "k")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	n, err = s.Delete(ctx, "k")
	require.NoError(t, err)
	require.EqualValues(t, 0, n)

	// An expired key deletes as absent.
	require.NoError(t, s.SetWithTTL(ctx, "gone", []byte("v"), 5*time.Millisecond))
	time.Sleep(20 * time.Millisecond)
	n, err = s.Delete(ctx, "gone")
	require.NoError(t, err)
	require.EqualValues(t, 0, n)
}

func TestMemoryStoreMGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("")

	require.NoError(t, s.SetWithTTL(ctx, "a", []byte("1"), 0))
	require.NoError(t, s.SetWithTTL(ctx, "c", []byte("3"), 0))

	vals, err := s.MGet(ctx, "a", "b", "c")
	require.NoError(t, err)
	require.Len(t, vals, 3)
	require.Equal(t, []byte("1"), vals[0])
	require.Nil(t, vals[1])
	require.Equal(t, []byte("3"), vals[2])
}

func TestMemoryStoreIncrDecr(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("")

	v, err := s.IncrBy(ctx, "n", 1)
	require.NoError(t, err)
	require.EqualValues(t, 1, v, "increment creates absent key")

	v, err = s.IncrBy(ctx, "n", 2)
	require.NoError(t, err)
	require.EqualValues(t, 3, v)

	v, err = s.DecrByFloor(ctx, "n", 1)
	require.NoError(t, err)
	require.EqualValues(t, 2, v)

	v, err = s.DecrByFloor(ctx, "n", 10)
	require.NoError(t, err)
	require.EqualValues(t, 0, v, "decrement floors at zero")

	v, err = s.DecrByFloor(ctx, "other", 1)
	require.NoError(t, err)
	require.EqualValues(t, 0, v, "decrementing an absent key yields zero")
}

func TestMemoryStoreIncrNonInteger(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("")

	require.NoError(t, s.SetWithTTL(ctx, "k", []byte("not a number"), 0))
	_, err := s.IncrBy(ctx, "k", 1)
	require.Error(t, err)
}

func TestMemoryStoreConcurrentArithmetic(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("")

	const workers = 50
	errs := make(chan error, 2*workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := s.IncrBy(ctx, "n", 1)
			errs <- err
		}()
	}
	wg.Wait()

	val, err := s.Get(ctx, "n")
	require.NoError(t, err)
	require.Equal(t, []byte("50"), val, "no increment may be lost")

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := s.DecrByFloor(ctx, "n", 2)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	v, err := s.DecrByFloor(ctx, "n", 0)
	require.NoError(t, err)
	require.EqualValues(t, 0, v, "over-decrement must clamp at zero")
}
