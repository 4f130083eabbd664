package services

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartition(t *testing.T) {
	tests := []struct {
		name  string
		n     int
		size  int
		sizes []int
	}{
		{"empty input", 0, 10, nil},
		{"smaller than size", 3, 10, []int{3}},
		{"exact multiple", 20, 10, []int{10, 10}},
		{"remainder", 250, 100, []int{100, 100, 50}},
		{"size one", 3, 1, []int{1, 1, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := make([]int, tt.n)
			batches := Partition(items, tt.size)
			sizes := make([]int, 0, len(batches))
			for _, b := range batches {
				sizes = append(sizes, len(b))
			}
			if tt.sizes == nil {
				assert.Empty(t, batches)
				return
			}
			assert.Equal(t, tt.sizes, sizes)
		})
	}
}

func TestPartition_InvalidSize(t *testing.T) {
	assert.Nil(t, Partition([]int{1, 2}, 0))
	assert.Nil(t, Partition([]int{1, 2}, -1))
	assert.Equal(t, 0, SubBatchCount(5, 0))
}

// TestPartition_Randomised checks ceil(n/k) batches whose concatenation
// reproduces the input exactly.
func TestPartition_Randomised(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 500; i++ {
		n := rng.Intn(400)
		k := rng.Intn(50) + 1
		items := make([]int, n)
		for j := range items {
			items[j] = rng.Int()
		}

		batches := Partition(items, k)
		require.Len(t, batches, (n+k-1)/k, "n=%d k=%d", n, k)
		require.Equal(t, SubBatchCount(n, k), len(batches))

		var joined []int
		for _, b := range batches {
			require.LessOrEqual(t, len(b), k)
			require.NotEmpty(t, b)
			joined = append(joined, b...)
		}
		if n == 0 {
			assert.Empty(t, joined)
			continue
		}
		assert.Equal(t, items, joined)
	}
}

func TestPartition_BatchesDoNotAlias(t *testing.T) {
	items := []int{1, 2, 3, 4}
	batches := Partition(items, 2)
	batches[0] = append(batches[0], 99)
	assert.Equal(t, []int{3, 4}, batches[1])
}
