package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDeduper_ClaimOnce(t *testing.T) {
	d := NewMemoryDeduper(time.Minute, 10)
	ctx := context.Background()

	ok, err := d.Claim(ctx, "d-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.Claim(ctx, "d-1")
	require.NoError(t, err)
	assert.False(t, ok, "second claim of the same id must fail")
}

func TestMemoryDeduper_ReleaseAllowsRetry(t *testing.T) {
	d := NewMemoryDeduper(time.Minute, 10)
	ctx := context.Background()

	_, _ = d.Claim(ctx, "d-1")
	require.NoError(t, d.Release(ctx, "d-1"))

	ok, err := d.Claim(ctx, "d-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryDeduper_Expires(t *testing.T) {
	d := NewMemoryDeduper(time.Minute, 10)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }
	ctx := context.Background()

	_, _ = d.Claim(ctx, "d-1")
	now = now.Add(2 * time.Minute)

	ok, err := d.Claim(ctx, "d-1")
	require.NoError(t, err)
	assert.True(t, ok, "expired ids can be claimed again")
	assert.Equal(t, 1, d.Len())
}

func TestMemoryDeduper_BoundedSize(t *testing.T) {
	d := NewMemoryDeduper(time.Hour, 3)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d"} {
		_, _ = d.Claim(ctx, id)
	}
	assert.Equal(t, 3, d.Len())

	ok, _ := d.Claim(ctx, "a")
	assert.True(t, ok, "oldest id is evicted first")
	ok, _ = d.Claim(ctx, "d")
	assert.False(t, ok)
}

func TestMemoryDeduper_ConcurrentClaimsSingleWinner(t *testing.T) {
	d := NewMemoryDeduper(time.Minute, 100)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := d.Claim(context.Background(), "same"); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}
