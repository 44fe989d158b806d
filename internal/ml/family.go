// Package ml holds the binary classifiers, the feature scaler, the data
// splits and the evaluation metrics used to build complication-risk bundles.
package ml

import (
	"encoding/gob"
	"fmt"
)

// Classifier is a binary, probability-capable model over scaled features.
type Classifier interface {
	Fit(X [][]float64, y []int) error
	// PredictProba returns the probability of class 1.
	PredictProba(x []float64) float64
	Fitted() bool
	// FeatureImportances is aligned with the training columns and sums to 1
	// when any split was made.
	FeatureImportances() []float64
	Family() Family
}

// Family is the closed set of classifier families a bundle can carry.
type Family uint8

const (
	TreeEnsemble Family = iota + 1
	BoostedEnsemble
)

func init() {
	gob.Register(&RandomForest{})
	gob.Register(&GradientBoosting{})
}

// Families lists every supported family in comparison order.
func Families() []Family {
	return []Family{TreeEnsemble, BoostedEnsemble}
}

// ParseFamily accepts the names used in configuration and artifacts.
func ParseFamily(s string) (Family, error) {
	switch s {
	case "random_forest", "rf":
		return TreeEnsemble, nil
	case "gradient_boosting", "gb":
		return BoostedEnsemble, nil
	default:
		return 0, fmt.Errorf("unknown model family %q", s)
	}
}

func (f Family) String() string {
	switch f {
	case TreeEnsemble:
		return "random_forest"
	case BoostedEnsemble:
		return "gradient_boosting"
	default:
		return "unknown"
	}
}

// Short is the suffix used in artifact file names.
func (f Family) Short() string {
	switch f {
	case TreeEnsemble:
		return "rf"
	case BoostedEnsemble:
		return "gb"
	default:
		return "unknown"
	}
}

func (f Family) Valid() bool {
	return f == TreeEnsemble || f == BoostedEnsemble
}

func (f Family) MarshalText() ([]byte, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("invalid model family %d", uint8(f))
	}
	return []byte(f.String()), nil
}

func (f *Family) UnmarshalText(text []byte) error {
	parsed, err := ParseFamily(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// New returns an unfitted classifier of this family with its default
// hyperparameters.
func (f Family) New(seed int64) (Classifier, error) {
	switch f {
	case TreeEnsemble:
		return NewRandomForest(seed), nil
	case BoostedEnsemble:
		return NewGradientBoosting(), nil
	default:
		return nil, fmt.Errorf("invalid model family %d", uint8(f))
	}
}
