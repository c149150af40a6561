package core

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3cpo-dev/shardfleet/pkg/api"
)

func TestPartitionStridedScenarios(t *testing.T) {
	tests := []struct {
		n    int64
		k    int
		want []WorkItem
	}{
		{100, 4, []WorkItem{{2, 27}, {27, 52}, {52, 77}, {77, 100}}},
		{10, 3, []WorkItem{{2, 5}, {5, 8}, {8, 10}}},
		{3, 1, []WorkItem{{2, 3}}},
		{12, 10, []WorkItem{{2, 3}, {3, 4}, {4, 5}, {5, 6}, {6, 7}, {7, 8}, {8, 9}, {9, 10}, {10, 11}, {11, 12}}},
	}
	for _, tt := range tests {
		got, err := Partition(tt.n, tt.k, Strided)
		require.NoError(t, err, "n=%d k=%d", tt.n, tt.k)
		assert.Equal(t, tt.want, got, "n=%d k=%d", tt.n, tt.k)
	}
}

func TestPartitionRejectsInvalidInput(t *testing.T) {
	for _, tc := range []struct {
		n int64
		k int
	}{
		{100, 0},
		{100, -1},
		{2, 1},
		{0, 1},
		{5, 4},
		{7, 4}, // stride 2 covers only 3 workers
	} {
		_, err := Partition(tc.n, tc.k, Strided)
		assert.ErrorIs(t, err, ErrInvalidPartition, "n=%d k=%d", tc.n, tc.k)
	}
}

func TestPartitionStridedSuggestsBalanced(t *testing.T) {
	_, err := Partition(7, 4, Strided)
	require.ErrorIs(t, err, ErrInvalidPartition)
	assert.Contains(t, err.Error(), "balanced")

	items, err := Partition(7, 4, Balanced)
	require.NoError(t, err)
	assert.Equal(t, []WorkItem{{2, 4}, {4, 5}, {5, 6}, {6, 7}}, items)
}

// coverage checks the properties every partition must have: k non-empty,
// contiguous ranges covering [2, n).
func coverage(t *testing.T, items []WorkItem, n int64, k int) {
	t.Helper()
	require.Len(t, items, k)
	assert.Equal(t, int64(2), items[0].Left)
	assert.Equal(t, n, items[len(items)-1].Right)
	for i, it := range items {
		assert.Greater(t, it.Size(), int64(0), "item %d empty", i)
		if i > 0 {
			assert.Equal(t, items[i-1].Right, it.Left, "gap before item %d", i)
		}
	}
}

func TestPartitionProperties(t *testing.T) {
	for n := int64(3); n <= 60; n++ {
		for k := 1; int64(k) <= n-2; k++ {
			b, err := Partition(n, k, Balanced)
			require.NoError(t, err)
			coverage(t, b, n, k)
			minSize, maxSize := b[0].Size(), b[0].Size()
			for _, it := range b {
				minSize = min(minSize, it.Size())
				maxSize = max(maxSize, it.Size())
			}
			assert.LessOrEqual(t, maxSize-minSize, int64(1))

			s, err := Partition(n, k, Strided)
			if err != nil {
				assert.ErrorIs(t, err, ErrInvalidPartition)
				continue
			}
			coverage(t, s, n, k)
		}
	}
}

func TestPartitionStridedNearMaxInt64(t *testing.T) {
	cases := []struct {
		n int64
		k int
	}{
		{math.MaxInt64, 1},
		{math.MaxInt64, 2},
		{math.MaxInt64, 3},
		{math.MaxInt64 - 10, 2},
	}
	for _, tc := range cases {
		items, err := Partition(tc.n, tc.k, Strided)
		require.NoError(t, err, "n=%d k=%d", tc.n, tc.k)
		require.Len(t, items, tc.k)
		cursor := int64(2)
		for _, it := range items {
			assert.Equal(t, cursor, it.Left)
			assert.Greater(t, it.Size(), int64(0))
			cursor = it.Right
		}
		assert.Equal(t, tc.n, cursor)
	}
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, Strided, s)
	s, err = ParseStrategy("Balanced")
	require.NoError(t, err)
	assert.Equal(t, Balanced, s)
	_, err = ParseStrategy("random")
	assert.ErrorIs(t, err, ErrInvalidPartition)
}

func TestWriteShardConfigs(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "configs")
	items, err := Partition(100, 4, Strided)
	require.NoError(t, err)

	paths, err := WriteShardConfigs(dir, items)
	require.NoError(t, err)
	require.Len(t, paths, 4)
	assert.Equal(t, filepath.Join(dir, "config-0.json"), paths[0])

	b, err := os.ReadFile(paths[3])
	require.NoError(t, err)
	assert.Contains(t, string(b), "\n    \"left\": 77,")
	var cfg api.ShardConfig
	require.NoError(t, json.Unmarshal(b, &cfg))
	assert.Equal(t, api.ShardConfig{Left: 77, Right: 100, Worker: 3, Workers: 4}, cfg)
}
