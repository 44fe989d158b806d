// Package bundle defines the trained model bundle, its on-disk store and
// the registry that serves bundles to concurrent readers.
package bundle

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Skufu/postop-risk/internal/errorx"
	"github.com/Skufu/postop-risk/internal/ml"
)

// Importance is the weight of one feature in a trained classifier.
type Importance struct {
	Name   string  `json:"feature"`
	Weight float64 `json:"importance"`
}

// Bundle is everything inference needs from one training run. A bundle is
// never mutated after training; replacing a model means publishing a new one.
type Bundle struct {
	ID           uuid.UUID
	Family       ml.Family
	Classifier   ml.Classifier
	Scaler       *ml.Scaler
	FeatureNames []string
	// Importances is sorted by descending weight.
	Importances []Importance
	Metrics     ml.Metrics
	TrainedAt   time.Time
}

// Trained reports whether the bundle can serve predictions.
func (b *Bundle) Trained() bool {
	return b != nil && b.Classifier != nil && b.Classifier.Fitted() && b.Scaler != nil
}

// ImportanceOf returns the stored importance of a feature.
func (b *Bundle) ImportanceOf(name string) (float64, bool) {
	for _, imp := range b.Importances {
		if imp.Name == name {
			return imp.Weight, true
		}
	}
	return 0, false
}

// Top returns at most n importances.
func (b *Bundle) Top(n int) []Importance {
	if n > len(b.Importances) {
		n = len(b.Importances)
	}
	out := make([]Importance, n)
	copy(out, b.Importances[:n])
	return out
}

// Validate checks the keys a loaded bundle must carry.
func (b *Bundle) Validate() error {
	switch {
	case b == nil:
		return fmt.Errorf("%w: empty bundle", errorx.ErrArtifactCorrupt)
	case b.Classifier == nil:
		return fmt.Errorf("%w: missing classifier", errorx.ErrArtifactCorrupt)
	case b.Scaler == nil:
		return fmt.Errorf("%w: missing scaler", errorx.ErrArtifactCorrupt)
	case len(b.FeatureNames) == 0:
		return fmt.Errorf("%w: missing feature names", errorx.ErrArtifactCorrupt)
	case b.Scaler.Width() != len(b.FeatureNames):
		return fmt.Errorf("%w: scaler width %d does not match %d features",
			errorx.ErrArtifactCorrupt, b.Scaler.Width(), len(b.FeatureNames))
	case !b.Family.Valid() || b.Family != b.Classifier.Family():
		return fmt.Errorf("%w: unknown model family %d", errorx.ErrArtifactCorrupt, uint8(b.Family))
	}
	return nil
}

// RankImportances pairs names with weights and sorts them by descending
// weight. Equal weights keep the order of names.
func RankImportances(names []string, weights []float64) []Importance {
	out := make([]Importance, 0, len(names))
	for i, name := range names {
		var w float64
		if i < len(weights) {
			w = weights[i]
		}
		out = append(out, Importance{Name: name, Weight: w})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Weight > out[j].Weight })
	return out
}
