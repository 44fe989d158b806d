package predict

import "fmt"

// RiskLevel is an immutable value object for the risk tier of a prediction.
type RiskLevel struct {
	value string
	rank  int
}

var (
	RiskLevelLow      = RiskLevel{value: "low", rank: 1}
	RiskLevelMedium   = RiskLevel{value: "medium", rank: 2}
	RiskLevelHigh     = RiskLevel{value: "high", rank: 3}
	RiskLevelCritical = RiskLevel{value: "critical", rank: 4}
)

// Tier lower bounds on the class-1 probability.
const (
	CriticalThreshold = 0.75
	HighThreshold     = 0.50
	MediumThreshold   = 0.25
)

// RiskLevelFromProbability maps a probability onto its tier. Bounds are
// inclusive.
func RiskLevelFromProbability(p float64) RiskLevel {
	switch {
	case p >= CriticalThreshold:
		return RiskLevelCritical
	case p >= HighThreshold:
		return RiskLevelHigh
	case p >= MediumThreshold:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}

// RiskLevelFromString reconstructs a RiskLevel from its string representation.
func RiskLevelFromString(s string) (RiskLevel, error) {
	switch s {
	case "low":
		return RiskLevelLow, nil
	case "medium":
		return RiskLevelMedium, nil
	case "high":
		return RiskLevelHigh, nil
	case "critical":
		return RiskLevelCritical, nil
	default:
		return RiskLevel{}, fmt.Errorf("invalid risk level: %s", s)
	}
}

func (r RiskLevel) String() string {
	return r.value
}

// Label is the display label shown to clinicians.
func (r RiskLevel) Label() string {
	switch r {
	case RiskLevelCritical:
		return "CRÍTICO"
	case RiskLevelHigh:
		return "ALTO"
	case RiskLevelMedium:
		return "MÉDIO"
	case RiskLevelLow:
		return "BAIXO"
	default:
		return ""
	}
}

// Recommendation is the follow-up action attached to the tier.
func (r RiskLevel) Recommendation() string {
	switch r {
	case RiskLevelCritical:
		return "Contato IMEDIATO com médico! Alto risco de complicação."
	case RiskLevelHigh:
		return "Monitoramento próximo recomendado. Considere contato preventivo."
	case RiskLevelMedium:
		return "Atenção! Continue acompanhamento regular."
	case RiskLevelLow:
		return "Evolução dentro do esperado. Continue cuidados."
	default:
		return ""
	}
}

// Compare returns -1, 0 or 1 as r is below, equal to or above other.
func (r RiskLevel) Compare(other RiskLevel) int {
	switch {
	case r.rank < other.rank:
		return -1
	case r.rank > other.rank:
		return 1
	default:
		return 0
	}
}

// IsZero returns true if the RiskLevel has not been set.
func (r RiskLevel) IsZero() bool {
	return r.value == ""
}

// Equal checks equality with another RiskLevel.
func (r RiskLevel) Equal(other RiskLevel) bool {
	return r.value == other.value
}

func (r RiskLevel) MarshalText() ([]byte, error) {
	return []byte(r.value), nil
}

func (r *RiskLevel) UnmarshalText(text []byte) error {
	parsed, err := RiskLevelFromString(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
