// Package predict turns a raw patient record into a risk estimate using a
// trained bundle.
package predict

import (
	"fmt"
	"sort"

	"github.com/Skufu/postop-risk/internal/bundle"
	"github.com/Skufu/postop-risk/internal/errorx"
	"github.com/Skufu/postop-risk/internal/features"
	"github.com/Skufu/postop-risk/internal/ml"
)

// MaxFactors caps the risk factors reported per prediction.
const MaxFactors = 3

// Factor is a feature present in the record, weighted by its importance in
// the bundle.
type Factor struct {
	Name         string  `json:"name"`
	Contribution float64 `json:"contribution"`
}

type Result struct {
	Probability    float64   `json:"probability"`
	Prediction     int       `json:"prediction"`
	RiskLevel      RiskLevel `json:"risk_level"`
	RiskLabel      string    `json:"risk_label"`
	Recommendation string    `json:"recommendation"`
	TopRiskFactors []Factor  `json:"top_risk_factors"`
}

// Predict scores rec with b. It fails with errorx.ErrUntrainedModel when b
// cannot serve predictions.
func Predict(b *bundle.Bundle, rec features.RawRecord) (Result, error) {
	if !b.Trained() {
		return Result{}, errorx.ErrUntrainedModel
	}

	vec := features.Derive(rec)
	x, err := vec.Project(b.FeatureNames)
	if err != nil {
		return Result{}, err
	}
	if b.Scaler.Width() != len(x) {
		return Result{}, fmt.Errorf("%w: scaler expects %d features, got %d",
			errorx.ErrArtifactCorrupt, b.Scaler.Width(), len(x))
	}

	p := b.Classifier.PredictProba(b.Scaler.Transform(x))
	level := RiskLevelFromProbability(p)
	return Result{
		Probability:    p,
		Prediction:     ml.Predict(p),
		RiskLevel:      level,
		RiskLabel:      level.Label(),
		Recommendation: level.Recommendation(),
		TopRiskFactors: topFactors(b, x),
	}, nil
}

// topFactors ranks the features with a positive raw value by importance.
// Ties keep the bundle's feature order and the list is never padded.
func topFactors(b *bundle.Bundle, x []float64) []Factor {
	factors := make([]Factor, 0, MaxFactors)
	for i, name := range b.FeatureNames {
		if x[i] <= 0 {
			continue
		}
		weight, ok := b.ImportanceOf(name)
		if !ok {
			continue
		}
		factors = append(factors, Factor{Name: name, Contribution: weight})
	}
	sort.SliceStable(factors, func(i, j int) bool {
		return factors[i].Contribution > factors[j].Contribution
	})
	if len(factors) > MaxFactors {
		factors = factors[:MaxFactors]
	}
	return factors
}
