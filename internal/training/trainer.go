// Package training fits, evaluates and compares complication classifiers
// on a tabular frame. It produces bundles but never persists them.
package training

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Skufu/postop-risk/internal/bundle"
	"github.com/Skufu/postop-risk/internal/dataset"
	"github.com/Skufu/postop-risk/internal/errorx"
	"github.com/Skufu/postop-risk/internal/features"
	"github.com/Skufu/postop-risk/internal/ml"
)

// Options controls one training run.
type Options struct {
	Family     ml.Family
	Seed       int64
	TestSize   float64
	Folds      int
	MinSamples int
	// AllowSmallSample trains below MinSamples instead of failing.
	AllowSmallSample bool
}

func DefaultOptions() Options {
	return Options{
		Family:     ml.TreeEnsemble,
		Seed:       42,
		TestSize:   0.2,
		Folds:      5,
		MinSamples: 30,
	}
}

type Trainer struct {
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

func New(opts Options, logger *zap.Logger) *Trainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trainer{opts: opts, logger: logger, now: time.Now}
}

// Train fits the configured family on frame with labelColumn as outcome.
func (t *Trainer) Train(frame *dataset.Frame, labelColumn string) (*bundle.Bundle, error) {
	set, err := t.prepare(frame, labelColumn)
	if err != nil {
		return nil, err
	}
	return t.fit(set, t.opts.Family)
}

// trainingSet is a derived, split and scaled frame shared by every family
// trained on it.
type trainingSet struct {
	xTrain, xTest [][]float64
	yTrain, yTest []int
	scaler        *ml.Scaler
}

func (t *Trainer) prepare(frame *dataset.Frame, labelColumn string) (*trainingSet, error) {
	if frame == nil {
		return nil, fmt.Errorf("%w: no training frame", errorx.ErrData)
	}
	y, err := frame.Labels(labelColumn)
	if err != nil {
		return nil, err
	}

	summary := dataset.Summarize(frame, y)
	if summary.Positives == 0 || summary.Positives == summary.Rows {
		return nil, fmt.Errorf("%w: %s has a single class over %d rows", errorx.ErrData, labelColumn, summary.Rows)
	}

	if n := frame.Len(); n < t.opts.MinSamples {
		if !t.opts.AllowSmallSample {
			t.logger.Warn("too few samples for training",
				zap.Int("rows", n), zap.Int("minimum", t.opts.MinSamples))
			return nil, fmt.Errorf("%w: have %d rows, need %d", errorx.ErrInsufficientData, n, t.opts.MinSamples)
		}
		t.logger.Warn("training below the recommended sample size",
			zap.Int("rows", n), zap.Int("minimum", t.opts.MinSamples))
	}

	t.logger.Info("training data",
		zap.Int("rows", summary.Rows),
		zap.Int("complications", summary.Positives),
		zap.Float64("complication_rate", summary.PositiveRate()),
		zap.Float64("age_mean", summary.AgeMean),
		zap.Float64("age_std", summary.AgeStd),
		zap.Float64("pain_d1_mean", summary.PainMean),
		zap.Float64("pain_d1_std", summary.PainStd),
		zap.Any("by_surgery", summary.BySurgery),
		zap.Any("by_sex", summary.BySex),
	)

	X := make([][]float64, frame.Len())
	for i, rec := range frame.Records() {
		X[i] = features.Derive(rec)
	}

	trainIdx, testIdx := ml.StratifiedSplit(y, t.opts.TestSize, t.opts.Seed)
	xTrain, yTrain := ml.Rows(X, y, trainIdx)
	xTest, yTest := ml.Rows(X, y, testIdx)

	scaler, err := ml.FitScaler(xTrain)
	if err != nil {
		return nil, err
	}
	return &trainingSet{
		xTrain: scaler.TransformAll(xTrain),
		xTest:  scaler.TransformAll(xTest),
		yTrain: yTrain,
		yTest:  yTest,
		scaler: scaler,
	}, nil
}

func (t *Trainer) fit(set *trainingSet, family ml.Family) (*bundle.Bundle, error) {
	clf, err := family.New(t.opts.Seed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errorx.ErrData, err)
	}
	start := time.Now()
	if err := clf.Fit(set.xTrain, set.yTrain); err != nil {
		return nil, fmt.Errorf("fit %s: %w", family, err)
	}

	scores := make([]float64, len(set.xTest))
	for i, x := range set.xTest {
		scores[i] = clf.PredictProba(x)
	}
	metrics := ml.Evaluate(set.yTest, scores)
	metrics.TrainSize = len(set.yTrain)

	cv, err := t.crossValidate(set, family)
	if err != nil {
		return nil, err
	}
	metrics.CVROCAUCMean, metrics.CVROCAUCStd = ml.MeanStd(cv)

	names := features.Names()
	b := &bundle.Bundle{
		ID:           uuid.New(),
		Family:       family,
		Classifier:   clf,
		Scaler:       set.scaler,
		FeatureNames: names,
		Importances:  bundle.RankImportances(names, clf.FeatureImportances()),
		Metrics:      metrics,
		TrainedAt:    t.now().UTC(),
	}

	t.logger.Info("model trained",
		zap.Stringer("family", family),
		zap.Stringer("id", b.ID),
		zap.Duration("elapsed", time.Since(start)),
		zap.Float64("accuracy", metrics.Accuracy),
		zap.Float64("precision", metrics.Precision),
		zap.Float64("recall", metrics.Recall),
		zap.Float64("f1_score", metrics.F1Score),
		zap.Float64("roc_auc", metrics.ROCAUC),
		zap.Float64("cv_roc_auc_mean", metrics.CVROCAUCMean),
		zap.Float64("cv_roc_auc_std", metrics.CVROCAUCStd),
		zap.Int("train_size", metrics.TrainSize),
		zap.Int("test_size", metrics.TestSize),
	)
	for rank, imp := range b.Top(10) {
		t.logger.Debug("feature importance",
			zap.Int("rank", rank+1), zap.String("feature", imp.Name), zap.Float64("importance", imp.Weight))
	}
	return b, nil
}

// crossValidate scores the family with stratified k-fold ROC-AUC on the
// scaled training split. Empty folds are skipped.
func (t *Trainer) crossValidate(set *trainingSet, family ml.Family) ([]float64, error) {
	k := min(t.opts.Folds, len(set.yTrain))
	if k < 2 {
		return nil, nil
	}
	var scores []float64
	for _, held := range ml.StratifiedKFold(set.yTrain, k) {
		if len(held) == 0 {
			continue
		}
		xFit, yFit := ml.Rows(set.xTrain, set.yTrain, ml.Complement(len(set.yTrain), held))
		xVal, yVal := ml.Rows(set.xTrain, set.yTrain, held)

		clf, err := family.New(t.opts.Seed)
		if err != nil {
			return nil, err
		}
		if err := clf.Fit(xFit, yFit); err != nil {
			return nil, fmt.Errorf("cross-validate %s: %w", family, err)
		}
		pred := make([]float64, len(xVal))
		for i, x := range xVal {
			pred[i] = clf.PredictProba(x)
		}
		scores = append(scores, ml.ROCAUC(yVal, pred))
	}
	return scores, nil
}
