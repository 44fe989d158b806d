package ml

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/Skufu/postop-risk/internal/errorx"
)

// Scaler standardizes each column to zero mean and unit population
// variance. Constant columns keep a scale of 1.
type Scaler struct {
	Mean  []float64
	Scale []float64
}

// FitScaler learns column statistics from X.
func FitScaler(X [][]float64) (*Scaler, error) {
	if len(X) == 0 || len(X[0]) == 0 {
		return nil, fmt.Errorf("%w: cannot fit scaler on an empty matrix", errorx.ErrData)
	}
	width := len(X[0])
	s := &Scaler{Mean: make([]float64, width), Scale: make([]float64, width)}
	col := make([]float64, len(X))
	for j := 0; j < width; j++ {
		for i, row := range X {
			col[i] = row[j]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		if std == 0 {
			std = 1
		}
		s.Mean[j], s.Scale[j] = mean, std
	}
	return s, nil
}

func (s *Scaler) Width() int { return len(s.Mean) }

// Transform returns a scaled copy of x.
func (s *Scaler) Transform(x []float64) []float64 {
	out := make([]float64, len(x))
	for j, v := range x {
		out[j] = (v - s.Mean[j]) / s.Scale[j]
	}
	return out
}

func (s *Scaler) TransformAll(X [][]float64) [][]float64 {
	out := make([][]float64, len(X))
	for i, row := range X {
		out[i] = s.Transform(row)
	}
	return out
}
