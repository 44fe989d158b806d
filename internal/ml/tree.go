package ml

import (
	"math/rand"
	"sort"
)

const minGain = 1e-12

// Node is one entry of a flattened binary tree. Leaves have Feature == -1.
type Node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Value     float64
}

// Tree is a fitted CART tree stored as a flat node slice rooted at 0.
type Tree struct {
	Nodes []Node
}

// Predict walks x down to a leaf and returns the leaf value.
func (t Tree) Predict(x []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Feature < 0 {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

type treeParams struct {
	maxDepth        int
	minSamplesSplit int
	minSamplesLeaf  int
	// maxFeatures <= 0 considers every feature at each split.
	maxFeatures int
}

// grower builds one tree with a weighted variance criterion. For 0/1
// targets the variance p(1-p) is half the Gini impurity, so the same
// grower serves classification and gradient-boosting regression trees.
type grower struct {
	params     treeParams
	x          [][]float64
	target     []float64
	weight     []float64
	rng        *rand.Rand
	leaf       func(idx []int) float64
	nodes      []Node
	importance []float64
}

type nodeStats struct {
	w, s, ss float64
}

func (st *nodeStats) add(w, y float64) {
	st.w += w
	st.s += w * y
	st.ss += w * y * y
}

// impurity is the weighted sum of squared deviations, w * variance.
func (st nodeStats) impurity() float64 {
	if st.w <= 0 {
		return 0
	}
	v := st.ss - st.s*st.s/st.w
	if v < 0 {
		return 0
	}
	return v
}

func newGrower(params treeParams, x [][]float64, target, weight []float64, rng *rand.Rand, leaf func([]int) float64) *grower {
	g := &grower{
		params:     params,
		x:          x,
		target:     target,
		weight:     weight,
		rng:        rng,
		leaf:       leaf,
		importance: make([]float64, len(x[0])),
	}
	if g.leaf == nil {
		g.leaf = g.weightedMean
	}
	return g
}

func (g *grower) build(idx []int) (Tree, []float64) {
	g.grow(idx, 0)
	return Tree{Nodes: g.nodes}, normalize(g.importance)
}

func (g *grower) weightedMean(idx []int) float64 {
	var st nodeStats
	for _, i := range idx {
		st.add(g.weight[i], g.target[i])
	}
	if st.w <= 0 {
		return 0
	}
	return st.s / st.w
}

func (g *grower) grow(idx []int, depth int) int {
	id := len(g.nodes)
	g.nodes = append(g.nodes, Node{Feature: -1})

	var st nodeStats
	for _, i := range idx {
		st.add(g.weight[i], g.target[i])
	}

	p := g.params
	if depth >= p.maxDepth || len(idx) < p.minSamplesSplit || len(idx) < 2*p.minSamplesLeaf || st.impurity() <= minGain {
		g.nodes[id].Value = g.leaf(idx)
		return id
	}

	feature, threshold, gain := g.bestSplit(idx, st)
	if feature < 0 {
		g.nodes[id].Value = g.leaf(idx)
		return id
	}
	g.importance[feature] += gain

	left := make([]int, 0, len(idx))
	right := make([]int, 0, len(idx))
	for _, i := range idx {
		if g.x[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := g.grow(left, depth+1)
	r := g.grow(right, depth+1)
	g.nodes[id] = Node{Feature: feature, Threshold: threshold, Left: l, Right: r}
	return id
}

func (g *grower) candidates() []int {
	n := len(g.x[0])
	k := g.params.maxFeatures
	if k <= 0 || k >= n || g.rng == nil {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}
	return g.rng.Perm(n)[:k]
}

func (g *grower) bestSplit(idx []int, parent nodeStats) (int, float64, float64) {
	bestFeature, bestThreshold, bestGain := -1, 0.0, minGain
	parentImpurity := parent.impurity()
	order := make([]int, len(idx))
	minLeaf := g.params.minSamplesLeaf

	for _, f := range g.candidates() {
		copy(order, idx)
		sort.SliceStable(order, func(a, b int) bool {
			return g.x[order[a]][f] < g.x[order[b]][f]
		})

		var left nodeStats
		for pos := 0; pos < len(order)-1; pos++ {
			i := order[pos]
			left.add(g.weight[i], g.target[i])

			nLeft := pos + 1
			if nLeft < minLeaf || len(order)-nLeft < minLeaf {
				continue
			}
			cur, next := g.x[i][f], g.x[order[pos+1]][f]
			if cur == next {
				continue
			}
			right := nodeStats{w: parent.w - left.w, s: parent.s - left.s, ss: parent.ss - left.ss}
			gain := parentImpurity - left.impurity() - right.impurity()
			if gain > bestGain {
				bestFeature, bestThreshold, bestGain = f, (cur+next)/2, gain
			}
		}
	}
	return bestFeature, bestThreshold, bestGain
}

func normalize(v []float64) []float64 {
	out := make([]float64, len(v))
	var total float64
	for _, x := range v {
		total += x
	}
	if total <= 0 {
		return out
	}
	for i, x := range v {
		out[i] = x / total
	}
	return out
}
