package training

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Skufu/postop-risk/internal/bundle"
	"github.com/Skufu/postop-risk/internal/dataset"
	"github.com/Skufu/postop-risk/internal/errorx"
	"github.com/Skufu/postop-risk/internal/ml"
)

// Comparison holds one bundle per family trained on the same split.
type Comparison struct {
	Winner  ml.Family
	Bundles map[ml.Family]*bundle.Bundle
}

// Best returns the winning bundle.
func (c *Comparison) Best() *bundle.Bundle {
	return c.Bundles[c.Winner]
}

// Compare trains every family with the same split, scaler and seed and
// picks the one with the higher held-out ROC-AUC. Ties go to the tree
// ensemble. A failure in any family fails the comparison.
func (t *Trainer) Compare(frame *dataset.Frame, labelColumn string) (*Comparison, error) {
	return t.CompareFamilies(frame, labelColumn, ml.Families())
}

// CompareFamilies is Compare restricted to the given families, in order.
func (t *Trainer) CompareFamilies(frame *dataset.Frame, labelColumn string, families []ml.Family) (*Comparison, error) {
	if len(families) == 0 {
		return nil, fmt.Errorf("%w: no model family to train", errorx.ErrData)
	}
	set, err := t.prepare(frame, labelColumn)
	if err != nil {
		return nil, err
	}

	cmp := &Comparison{Bundles: make(map[ml.Family]*bundle.Bundle, len(families))}
	for _, family := range families {
		b, err := t.fit(set, family)
		if err != nil {
			return nil, err
		}
		cmp.Bundles[family] = b
		if best, ok := cmp.Bundles[cmp.Winner]; !ok || b.Metrics.ROCAUC > best.Metrics.ROCAUC {
			cmp.Winner = family
		}
	}

	fields := []zap.Field{zap.Stringer("winner", cmp.Winner)}
	for _, family := range families {
		fields = append(fields, zap.Float64(family.String()+"_roc_auc", cmp.Bundles[family].Metrics.ROCAUC))
	}
	t.logger.Info("model comparison", fields...)
	return cmp, nil
}
