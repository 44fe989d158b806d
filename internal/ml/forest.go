package ml

import (
	"fmt"
	"math"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/Skufu/postop-risk/internal/errorx"
)

// RandomForest is a bagged ensemble of CART trees with optional balanced
// class weighting. Each tree draws from its own seed, so a fit is
// reproducible no matter how the trees are scheduled.
type RandomForest struct {
	NTrees          int
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	// MaxFeatures <= 0 means sqrt(n_features).
	MaxFeatures int
	Balanced    bool
	Seed        int64

	Trees       []Tree
	Importances []float64
}

func NewRandomForest(seed int64) *RandomForest {
	return &RandomForest{
		NTrees:          200,
		MaxDepth:        10,
		MinSamplesSplit: 10,
		MinSamplesLeaf:  5,
		Balanced:        true,
		Seed:            seed,
	}
}

func (f *RandomForest) Family() Family { return TreeEnsemble }

func (f *RandomForest) Fitted() bool { return len(f.Trees) > 0 }

func (f *RandomForest) FeatureImportances() []float64 {
	out := make([]float64, len(f.Importances))
	copy(out, f.Importances)
	return out
}

func (f *RandomForest) Fit(X [][]float64, y []int) error {
	if err := checkTrainingSet(X, y); err != nil {
		return err
	}
	n, nFeatures := len(X), len(X[0])

	maxFeatures := f.MaxFeatures
	if maxFeatures <= 0 {
		maxFeatures = int(math.Max(1, math.Floor(math.Sqrt(float64(nFeatures)))))
	}
	params := treeParams{
		maxDepth:        f.MaxDepth,
		minSamplesSplit: max(f.MinSamplesSplit, 2),
		minSamplesLeaf:  max(f.MinSamplesLeaf, 1),
		maxFeatures:     maxFeatures,
	}

	target := make([]float64, n)
	for i, label := range y {
		target[i] = float64(label)
	}
	classWeight := [2]float64{1, 1}
	if f.Balanced {
		classWeight = balancedWeights(y)
	}

	trees := make([]Tree, f.NTrees)
	importances := make([][]float64, f.NTrees)

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for t := range trees {
		g.Go(func() error {
			rng := rand.New(rand.NewSource(f.Seed + int64(t)))
			weight := make([]float64, n)
			for range n {
				weight[rng.Intn(n)]++
			}
			idx := make([]int, 0, n)
			for i := range weight {
				if weight[i] > 0 {
					weight[i] *= classWeight[y[i]]
					idx = append(idx, i)
				}
			}
			trees[t], importances[t] = newGrower(params, X, target, weight, rng, nil).build(idx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("fit random forest: %w", err)
	}

	f.Trees = trees
	f.Importances = meanImportances(importances, nFeatures)
	return nil
}

func (f *RandomForest) PredictProba(x []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	var sum float64
	for _, t := range f.Trees {
		sum += t.Predict(x)
	}
	return sum / float64(len(f.Trees))
}

// balancedWeights gives each class n / (2 * n_class).
func balancedWeights(y []int) [2]float64 {
	var counts [2]float64
	for _, label := range y {
		counts[label]++
	}
	out := [2]float64{1, 1}
	for c, count := range counts {
		if count > 0 {
			out[c] = float64(len(y)) / (2 * count)
		}
	}
	return out
}

func meanImportances(perTree [][]float64, nFeatures int) []float64 {
	sum := make([]float64, nFeatures)
	for _, imp := range perTree {
		for i, v := range imp {
			sum[i] += v
		}
	}
	return normalize(sum)
}

func checkTrainingSet(X [][]float64, y []int) error {
	if len(X) == 0 {
		return fmt.Errorf("%w: empty training set", errorx.ErrData)
	}
	if len(X) != len(y) {
		return fmt.Errorf("%w: %d rows but %d labels", errorx.ErrData, len(X), len(y))
	}
	width := len(X[0])
	if width == 0 {
		return fmt.Errorf("%w: rows have no features", errorx.ErrData)
	}
	for i, row := range X {
		if len(row) != width {
			return fmt.Errorf("%w: row %d has %d features, want %d", errorx.ErrData, i, len(row), width)
		}
		if y[i] != 0 && y[i] != 1 {
			return fmt.Errorf("%w: label %d at row %d is not binary", errorx.ErrData, y[i], i)
		}
	}
	return nil
}
