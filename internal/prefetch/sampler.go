package prefetch

import (
	"math/rand/v2"
	"slices"

	"github.com/jittakal/diskreplay/pkg/record"
)

// SampleIndices draws k unique integers uniformly from [0, n) and returns
// them ascending. It uses Floyd's algorithm, so the cost is O(k) regardless
// of n. k must not exceed n.
func SampleIndices(rng *rand.Rand, n, k int) record.IndexSet {
	if k <= 0 || n <= 0 {
		return record.IndexSet{}
	}
	if k > n {
		k = n
	}

	selected := make(map[int]struct{}, k)
	out := make(record.IndexSet, 0, k)
	for j := n - k; j < n; j++ {
		t := rng.IntN(j + 1)
		if _, dup := selected[t]; dup {
			t = j
		}
		selected[t] = struct{}{}
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

func newRand(seed uint64, stream uint64) *rand.Rand {
	if seed == 0 {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(seed, stream))
}
