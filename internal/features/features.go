// Package features turns a raw patient/surgery/follow-up record into the
// fixed-layout numeric vector consumed by the scaler and classifiers.
//
// Training and inference both go through Derive; the order returned by Names
// is the layout every stored bundle records.
package features

import (
	"fmt"
	"strings"

	"github.com/Skufu/postop-risk/internal/errorx"
)

const (
	DefaultAge             = 0
	DefaultDurationMinutes = 60.0
	DefaultPainD1          = 5.0

	MaleLabel = "Masculino"

	elderlyAge        = 65
	highPain          = 7.0
	multiComorbidity  = 3
	indexSurgeryLabel = "hemorroidectomia"
)

// RawRecord is one patient/surgery observation as produced by the data
// sources or an inference request. Nil pointers mean the field was absent.
type RawRecord struct {
	Age              *int
	Sex              string
	Comorbidities    string
	SurgeryType      string
	DurationMinutes  *float64
	PudendalBlock    bool
	PainD1           *float64
	UrinaryRetention bool
	Fever            bool
	IntenseBleeding  bool
}

type comorbidity struct {
	feature string
	label   string
}

var (
	comorbidities = []comorbidity{
		{feature: "tem_has", label: "HAS"},
		{feature: "tem_dm_tipo_2", label: "DM tipo 2"},
		{feature: "tem_obesidade", label: "Obesidade"},
		{feature: "tem_irc", label: "IRC"},
		{feature: "tem_tabagismo", label: "Tabagismo"},
		{feature: "tem_dpoc", label: "DPOC"},
	}
	surgeryTypes = []string{indexSurgeryLabel, "fistula", "fissura", "pilonidal"}

	names = buildNames()
	index = buildIndex(names)
)

func buildNames() []string {
	out := []string{"idade_normalizada", "sexo_masculino", "num_comorbidades"}
	for _, c := range comorbidities {
		out = append(out, c.feature)
	}
	for _, s := range surgeryTypes {
		out = append(out, "cirurgia_"+s)
	}
	return append(out,
		"duracao_normalizada",
		"bloqueio_pudendo",
		"dor_d1_normalizada",
		"retencao_urinaria",
		"febre",
		"sangramento_intenso",
		"idoso_com_dm",
		"dor_alta_retencao",
		"multiplas_comorb_cirurgia_complexa",
	)
}

func buildIndex(names []string) map[string]int {
	out := make(map[string]int, len(names))
	for i, n := range names {
		out[n] = i
	}
	return out
}

// Names returns the feature layout in declaration order.
func Names() []string {
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// Len is the length of every derived vector.
func Len() int { return len(names) }

// Vector is a derived feature vector in Names() order.
type Vector []float64

// Value returns the value of the named feature.
func (v Vector) Value(name string) (float64, bool) {
	i, ok := index[name]
	if !ok || i >= len(v) {
		return 0, false
	}
	return v[i], true
}

// Project lays the vector out in the order of a bundle's feature list.
func (v Vector) Project(layout []string) ([]float64, error) {
	out := make([]float64, len(layout))
	for i, name := range layout {
		val, ok := v.Value(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown feature %q in bundle layout", errorx.ErrArtifactCorrupt, name)
		}
		out[i] = val
	}
	return out, nil
}

// Derive expands a raw record into its feature vector. Absent fields take
// the package defaults; it never fails.
func Derive(rec RawRecord) Vector {
	v := make(Vector, 0, len(names))

	age := DefaultAge
	if rec.Age != nil {
		age = *rec.Age
	}
	duration := DefaultDurationMinutes
	if rec.DurationMinutes != nil {
		duration = *rec.DurationMinutes
	}
	pain := DefaultPainD1
	if rec.PainD1 != nil {
		pain = *rec.PainD1
	}

	count := len(ComorbidityTokens(rec.Comorbidities))
	v = append(v, float64(age)/100, flag(rec.Sex == MaleLabel), float64(count))

	var hasDiabetes bool
	for _, c := range comorbidities {
		present := strings.Contains(rec.Comorbidities, c.label)
		if c.feature == "tem_dm_tipo_2" {
			hasDiabetes = present
		}
		v = append(v, flag(present))
	}

	for _, s := range surgeryTypes {
		v = append(v, flag(rec.SurgeryType == s))
	}

	v = append(v,
		duration/180,
		flag(rec.PudendalBlock),
		pain/10,
		flag(rec.UrinaryRetention),
		flag(rec.Fever),
		flag(rec.IntenseBleeding),
		flag(age > elderlyAge && hasDiabetes),
		flag(pain > highPain && rec.UrinaryRetention),
		flag(count >= multiComorbidity && rec.SurgeryType == indexSurgeryLabel),
	)
	return v
}

// ComorbidityTokens splits a comma-joined comorbidity list, dropping blanks.
func ComorbidityTokens(text string) []string {
	out := []string{}
	for _, t := range strings.Split(text, ",") {
		trimmed := strings.TrimSpace(t)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func flag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
