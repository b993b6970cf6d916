package orchestrator

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func repeat(value float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = value
	}
	return out
}

func TestMemoryHistoryStore_AppendEvictsOldest(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryHistoryStore()

	for i := 0; i < 150; i++ {
		require.NoError(t, store.Append(ctx, "a1", float64(i)))
	}

	got, err := store.Get(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, got, MaxHistory)
	assert.Equal(t, 50.0, got[0])
	assert.Equal(t, 149.0, got[len(got)-1])
}

func TestMemoryHistoryStore_Reset(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryHistoryStore()
	require.NoError(t, store.Append(ctx, "a1", 10))
	require.NoError(t, store.Append(ctx, "a1", 20))

	require.NoError(t, store.Reset(ctx, "a1", 85))

	got, err := store.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, []float64{85}, got)
}

func TestMemoryHistoryStore_GetUnknown(t *testing.T) {
	got, err := NewMemoryHistoryStore().Get(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryHistoryStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryHistoryStore()
	require.NoError(t, store.Reset(ctx, "a1", 85))

	got, _ := store.Get(ctx, "a1")
	got[0] = 0

	again, _ := store.Get(ctx, "a1")
	assert.Equal(t, []float64{85}, again)
}

func TestMemoryHistoryStore_ConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryHistoryStore()
	require.NoError(t, store.Reset(ctx, "a1", 85))

	var wg sync.WaitGroup
	for g := 0; g < 5; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				_ = store.Append(ctx, "a1", 90)
			}
		}()
	}
	wg.Wait()

	got, err := store.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Len(t, got, 51)
}

func TestCalculateTrend(t *testing.T) {
	tests := []struct {
		name    string
		history []float64
		want    Trend
	}{
		{"empty", nil, TrendStable},
		{"too few points", []float64{10, 90}, TrendStable},
		{"no older window", []float64{10, 50, 90, 95, 99}, TrendStable},
		{"improving", append(repeat(50, 10), repeat(70, 10)...), TrendImproving},
		{"declining", append(repeat(70, 10), repeat(50, 10)...), TrendDeclining},
		{"short older window", append(repeat(50, 5), repeat(60, 10)...), TrendImproving},
		{"difference of exactly five", append(repeat(50, 10), repeat(55, 10)...), TrendStable},
		{"only last twenty count", append(repeat(0, 30), append(repeat(60, 10), repeat(60, 10)...)...), TrendStable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CalculateTrend(tt.history))
		})
	}
}
