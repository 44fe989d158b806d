package ml

import "math"

const probEpsilon = 1e-15

// GradientBoosting fits regression trees to the log-loss gradient, one
// stage at a time, with Newton-step leaf values.
type GradientBoosting struct {
	NEstimators     int
	MaxDepth        int
	LearningRate    float64
	MinSamplesSplit int
	MinSamplesLeaf  int

	Init        float64
	Trees       []Tree
	Importances []float64
}

func NewGradientBoosting() *GradientBoosting {
	return &GradientBoosting{
		NEstimators:     100,
		MaxDepth:        5,
		LearningRate:    0.1,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
	}
}

func (b *GradientBoosting) Family() Family { return BoostedEnsemble }

func (b *GradientBoosting) Fitted() bool { return len(b.Trees) > 0 }

func (b *GradientBoosting) FeatureImportances() []float64 {
	out := make([]float64, len(b.Importances))
	copy(out, b.Importances)
	return out
}

func (b *GradientBoosting) Fit(X [][]float64, y []int) error {
	if err := checkTrainingSet(X, y); err != nil {
		return err
	}
	n, nFeatures := len(X), len(X[0])
	params := treeParams{
		maxDepth:        b.MaxDepth,
		minSamplesSplit: max(b.MinSamplesSplit, 2),
		minSamplesLeaf:  max(b.MinSamplesLeaf, 1),
	}

	var positives float64
	for _, label := range y {
		positives += float64(label)
	}
	prior := clamp(positives/float64(n), probEpsilon, 1-probEpsilon)
	b.Init = math.Log(prior / (1 - prior))

	raw := make([]float64, n)
	for i := range raw {
		raw[i] = b.Init
	}
	weight := make([]float64, n)
	idx := make([]int, n)
	for i := range idx {
		weight[i] = 1
		idx[i] = i
	}

	trees := make([]Tree, 0, b.NEstimators)
	importances := make([][]float64, 0, b.NEstimators)
	prob := make([]float64, n)
	residual := make([]float64, n)

	for range b.NEstimators {
		for i := range raw {
			prob[i] = sigmoid(raw[i])
			residual[i] = float64(y[i]) - prob[i]
		}
		newton := func(members []int) float64 {
			var num, den float64
			for _, i := range members {
				num += residual[i]
				den += prob[i] * (1 - prob[i])
			}
			if den < probEpsilon {
				return 0
			}
			return num / den
		}

		tree, imp := newGrower(params, X, residual, weight, nil, newton).build(idx)
		for i, row := range X {
			raw[i] += b.LearningRate * tree.Predict(row)
		}
		trees = append(trees, tree)
		importances = append(importances, imp)
	}

	b.Trees = trees
	b.Importances = meanImportances(importances, nFeatures)
	return nil
}

func (b *GradientBoosting) PredictProba(x []float64) float64 {
	if len(b.Trees) == 0 {
		return 0
	}
	raw := b.Init
	for _, t := range b.Trees {
		raw += b.LearningRate * t.Predict(x)
	}
	return sigmoid(raw)
}

func sigmoid(v float64) float64 {
	return 1 / (1 + math.Exp(-v))
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
