package dedup

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallbiznis/acquiring/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyIsStable(t *testing.T) {
	a := Key("234567890123", "CONFIRMED")
	b := Key("234567890123", "CONFIRMED")
	assert.Equal(t, a, b)
	assert.Contains(t, a, keyPrefix)
	assert.NotEqual(t, a, Key("234567890123", "REFUNDED"))
	assert.NotEqual(t, Key("12|3", "X"), Key("12", "3|X"))
}

func TestMemoryStoreMarkOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)
	key := Key("ref", "CONFIRMED")

	seen, err := s.Seen(ctx, key)
	require.NoError(t, err)
	assert.False(t, seen)

	ok, err := s.Mark(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Mark(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	seen, err = s.Seen(ctx, key)
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	fake := clock.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	s := NewMemoryStore(fake)

	_, err := s.Mark(ctx, "k", 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())

	fake.Advance(10 * time.Minute)
	seen, err := s.Seen(ctx, "k")
	require.NoError(t, err)
	assert.False(t, seen)
	assert.Equal(t, 0, s.Len())
}

func TestKeySeparatesAmbiguousPairs(t *testing.T) {
	assert.NotEqual(t, Key("12|3", "X"), Key("12", "3|X"))
	assert.NotEqual(t, Key("1:2", "X"), Key("1", "2:X"))
	assert.NotEqual(t, Key("", "a|b"), Key("a", "b"))
}

func TestMemoryStoreReclaimsExpiredMarks(t *testing.T) {
	ctx := context.Background()
	fake := clock.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	s := NewMemoryStore(fake)

	for i := 0; i < 3*sweepEvery; i++ {
		_, err := s.Mark(ctx, Key(strconv.Itoa(i), "CONFIRMED"), time.Minute)
		require.NoError(t, err)
	}
	fake.Advance(time.Hour)

	for i := 0; i < sweepEvery; i++ {
		_, err := s.Mark(ctx, Key("fresh-"+strconv.Itoa(i), "CONFIRMED"), time.Minute)
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, s.Len(), sweepEvery)

	fake.Advance(time.Hour)
	assert.Equal(t, s.Len(), s.Sweep())
	assert.Zero(t, s.Len())
}

func TestMemoryStoreRejectsBadInput(t *testing.T) {
	s := NewMemoryStore(nil)
	_, err := s.Mark(context.Background(), "", time.Minute)
	assert.ErrorIs(t, err, ErrEmptyKey)
	_, err = s.Mark(context.Background(), "k", 0)
	assert.ErrorIs(t, err, ErrInvalidTTL)
	_, err = s.Seen(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func TestMemoryStoreConcurrentMark(t *testing.T) {
	s := NewMemoryStore(nil)
	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Mark(context.Background(), "same", time.Minute)
			if err == nil && ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}
