// Package dataset holds the tabular training frame and the sources that
// fill it: the relational follow-up store and the collective export.
package dataset

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/Skufu/postop-risk/internal/errorx"
	"github.com/Skufu/postop-risk/internal/features"
)

// Column names of the training schema.
const (
	ColAge              = "idade"
	ColSex              = "sexo"
	ColComorbidities    = "comorbidades"
	ColSurgeryType      = "tipo_cirurgia"
	ColDurationMinutes  = "duracao_minutos"
	ColPudendalBlock    = "bloqueio_pudendo"
	ColPainD1           = "dor_d1"
	ColUrinaryRetention = "retencao_urinaria"
	ColFever            = "febre"
	ColIntenseBleeding  = "sangramento_intenso"

	// LabelColumn is the default binary outcome column.
	LabelColumn = "teve_complicacao"
)

// Columns is the full training schema in canonical order.
func Columns() []string {
	return []string{
		ColAge, ColSex, ColComorbidities, ColSurgeryType, ColDurationMinutes,
		ColPudendalBlock, ColPainD1, ColUrinaryRetention, ColFever,
		ColIntenseBleeding, LabelColumn,
	}
}

// Row is one record keyed by column name. Absent keys and nil values are
// treated as missing.
type Row map[string]any

// Frame is an ordered set of rows sharing a column list.
type Frame struct {
	Columns []string
	Rows    []Row
}

func NewFrame(columns []string, rows ...Row) *Frame {
	return &Frame{Columns: columns, Rows: rows}
}

func (f *Frame) Len() int { return len(f.Rows) }

func (f *Frame) HasColumn(name string) bool {
	for _, c := range f.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Labels reads column as a 0/1 outcome. A missing column, a missing value
// or anything other than 0 or 1 is a data error.
func (f *Frame) Labels(column string) ([]int, error) {
	if !f.HasColumn(column) {
		return nil, fmt.Errorf("%w: label column %q not found", errorx.ErrData, column)
	}
	out := make([]int, len(f.Rows))
	for i, row := range f.Rows {
		v, ok := row[column]
		if !ok || v == nil {
			return nil, fmt.Errorf("%w: row %d has no %s", errorx.ErrData, i, column)
		}
		if b, isBool := v.(bool); isBool {
			if b {
				out[i] = 1
			}
			continue
		}
		n, ok := toFloat(v)
		if !ok || (n != 0 && n != 1) {
			return nil, fmt.Errorf("%w: row %d has non-binary %s %v", errorx.ErrData, i, column, v)
		}
		out[i] = int(n)
	}
	return out, nil
}

// Records converts every row to a features.RawRecord.
func (f *Frame) Records() []features.RawRecord {
	out := make([]features.RawRecord, len(f.Rows))
	for i, row := range f.Rows {
		out[i] = row.Record()
	}
	return out
}

// Record coerces the row into a raw patient record. Numeric columns accept
// any Go number, json.Number or numeric text; flags accept booleans, 0/1 and
// "true"/"false".
func (r Row) Record() features.RawRecord {
	rec := features.RawRecord{
		Sex:              r.text(ColSex),
		Comorbidities:    r.text(ColComorbidities),
		SurgeryType:      r.text(ColSurgeryType),
		DurationMinutes:  r.number(ColDurationMinutes),
		PudendalBlock:    r.flag(ColPudendalBlock),
		PainD1:           r.number(ColPainD1),
		UrinaryRetention: r.flag(ColUrinaryRetention),
		Fever:            r.flag(ColFever),
		IntenseBleeding:  r.flag(ColIntenseBleeding),
	}
	if age := r.number(ColAge); age != nil {
		v := int(*age)
		rec.Age = &v
	}
	return rec
}

func (r Row) number(col string) *float64 {
	v, ok := toFloat(r[col])
	if !ok {
		return nil
	}
	return &v
}

func (r Row) flag(col string) bool {
	switch v := r[col].(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		s := strings.TrimSpace(v)
		return strings.EqualFold(s, "true") || s == "1"
	default:
		n, ok := toFloat(v)
		return ok && n != 0
	}
}

func (r Row) text(col string) string {
	switch v := r[col].(type) {
	case nil:
		return ""
	case string:
		return v
	case []string:
		return strings.Join(v, ",")
	case []any:
		parts := make([]string, 0, len(v))
		for _, p := range v {
			if p != nil {
				parts = append(parts, fmt.Sprint(p))
			}
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(v)
	}
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int8:
		f = float64(n)
	case int16:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint8:
		f = float64(n)
	case uint16:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// Summary describes a frame before training.
type Summary struct {
	Rows      int
	Positives int
	AgeMean   float64
	AgeStd    float64
	PainMean  float64
	PainStd   float64
	BySurgery map[string]int
	BySex     map[string]int
}

// PositiveRate is the share of rows labelled 1.
func (s Summary) PositiveRate() float64 {
	if s.Rows == 0 {
		return 0
	}
	return float64(s.Positives) / float64(s.Rows)
}

// SurgeryTypes returns the surgery types seen, most frequent first.
func (s Summary) SurgeryTypes() []string {
	return rankKeys(s.BySurgery)
}

// Summarize computes descriptive statistics over the frame. Standard
// deviations are sample deviations; missing values are skipped.
func Summarize(f *Frame, labels []int) Summary {
	s := Summary{
		Rows:      f.Len(),
		BySurgery: map[string]int{},
		BySex:     map[string]int{},
	}
	for _, y := range labels {
		s.Positives += y
	}

	var ages, pains []float64
	for _, row := range f.Rows {
		if v := row.number(ColAge); v != nil {
			ages = append(ages, *v)
		}
		if v := row.number(ColPainD1); v != nil {
			pains = append(pains, *v)
		}
		s.BySurgery[row.text(ColSurgeryType)]++
		s.BySex[row.text(ColSex)]++
	}
	s.AgeMean, s.AgeStd = meanStd(ages)
	s.PainMean, s.PainStd = meanStd(pains)
	return s
}

func meanStd(xs []float64) (float64, float64) {
	switch len(xs) {
	case 0:
		return 0, 0
	case 1:
		return xs[0], 0
	}
	return stat.MeanStdDev(xs, nil)
}

func rankKeys(counts map[string]int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}
