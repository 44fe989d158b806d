package ml

import (
	"math"
	"math/rand"
	"sort"
)

// StratifiedSplit shuffles each class with the given seed and holds out
// ceil(testSize * n) rows, allocated to classes in proportion to their
// size. A class never gives up its last training row.
func StratifiedSplit(y []int, testSize float64, seed int64) (train, test []int) {
	n := len(y)
	byClass := groupByClass(y)
	rng := rand.New(rand.NewSource(seed))
	for _, members := range byClass {
		rng.Shuffle(len(members), func(i, j int) { members[i], members[j] = members[j], members[i] })
	}

	nTest := int(math.Ceil(testSize * float64(n)))
	if nTest > n-1 {
		nTest = n - 1
	}
	if nTest < 0 {
		nTest = 0
	}

	alloc := allocate(byClass, nTest, n)
	for c, members := range byClass {
		test = append(test, members[:alloc[c]]...)
		train = append(train, members[alloc[c]:]...)
	}
	sort.Ints(train)
	sort.Ints(test)
	return train, test
}

func allocate(byClass [2][]int, nTest, n int) [2]int {
	var alloc [2]int
	var frac [2]float64
	capacity := func(c int) int {
		return max(len(byClass[c])-1, 0)
	}

	assigned := 0
	for c, members := range byClass {
		exact := float64(len(members)) * float64(nTest) / float64(max(n, 1))
		alloc[c] = min(int(math.Floor(exact)), capacity(c))
		frac[c] = exact - math.Floor(exact)
		assigned += alloc[c]
	}

	order := []int{0, 1}
	sort.SliceStable(order, func(a, b int) bool { return frac[order[a]] > frac[order[b]] })
	for assigned < nTest {
		progressed := false
		for _, c := range order {
			if assigned < nTest && alloc[c] < capacity(c) {
				alloc[c]++
				assigned++
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	return alloc
}

// StratifiedKFold partitions row indices into k folds without shuffling.
// Each class is cut into k contiguous chunks, the first ones one row larger.
// It returns the held-out indices of each fold.
func StratifiedKFold(y []int, k int) [][]int {
	if k < 2 {
		k = 2
	}
	folds := make([][]int, k)
	for _, members := range groupByClass(y) {
		size, extra := len(members)/k, len(members)%k
		start := 0
		for f := 0; f < k; f++ {
			end := start + size
			if f < extra {
				end++
			}
			folds[f] = append(folds[f], members[start:end]...)
			start = end
		}
	}
	for _, fold := range folds {
		sort.Ints(fold)
	}
	return folds
}

// Complement returns the indices in [0, n) that are not in held.
func Complement(n int, held []int) []int {
	skip := make(map[int]struct{}, len(held))
	for _, i := range held {
		skip[i] = struct{}{}
	}
	out := make([]int, 0, n-len(held))
	for i := 0; i < n; i++ {
		if _, ok := skip[i]; !ok {
			out = append(out, i)
		}
	}
	return out
}

func groupByClass(y []int) [2][]int {
	var out [2][]int
	for i, label := range y {
		out[label] = append(out[label], i)
	}
	return out
}

// Rows selects rows of X and y by index.
func Rows(X [][]float64, y []int, idx []int) ([][]float64, []int) {
	xs := make([][]float64, len(idx))
	ys := make([]int, len(idx))
	for i, j := range idx {
		xs[i], ys[i] = X[j], y[j]
	}
	return xs, ys
}
