package clinical

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"clinicflow/pkg/domain"
)

const (
	maxDiagnoses     = 3
	defaultReasoning = "No reasoning provided."
	defaultAnalysis  = "No analysis provided."
)

// NormalizeDiagnoses keeps the first three entries, drops those that are not
// objects or lack a condition, and coerces probabilities into [0,1].
func NormalizeDiagnoses(raw []json.RawMessage) []domain.Diagnosis {
	if len(raw) > maxDiagnoses {
		raw = raw[:maxDiagnoses]
	}
	out := make([]domain.Diagnosis, 0, len(raw))
	for _, item := range raw {
		var obj map[string]any
		if err := json.Unmarshal(item, &obj); err != nil || obj == nil {
			continue
		}
		condition := text(obj["condition"])
		if condition == "" {
			continue
		}
		reasoning := text(obj["reasoning"])
		if reasoning == "" {
			reasoning = defaultReasoning
		}
		out = append(out, domain.Diagnosis{
			Condition:   condition,
			Probability: Probability(obj["probability"]),
			Reasoning:   reasoning,
		})
	}
	return out
}

// NormalizeAnalysis trims the narrative and substitutes a placeholder when empty.
func NormalizeAnalysis(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || strings.TrimSpace(s) == "" {
		return defaultAnalysis
	}
	return strings.TrimSpace(s)
}

// Probability coerces a model-produced value. Percent-style values in (1,100]
// such as 85 or "85%" are scaled down; anything unparseable becomes 0.
func Probability(v any) float64 {
	var p float64
	switch val := v.(type) {
	case float64:
		p = val
	case json.Number:
		p, _ = val.Float64()
	case string:
		s := strings.TrimSuffix(strings.TrimSpace(val), "%")
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err == nil {
			p = f
		}
	}
	if p > 1 && p <= 100 {
		p /= 100
	}
	switch {
	case math.IsNaN(p), p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}

// NormalizeVitals maps the aliases models emit onto Vitals. Numbers are
// rendered without trailing zeros; strings are trimmed.
func NormalizeVitals(raw map[string]any) domain.Vitals {
	return domain.Vitals{
		BloodPressure:    pick(raw, "bp", "blood_pressure", "bloodPressure"),
		Temperature:      pick(raw, "temp", "temperature"),
		Pulse:            pick(raw, "pulse", "hr", "heart_rate", "heartRate"),
		OxygenSaturation: pick(raw, "spo2", "SpO2", "o2sat", "oxygen_saturation", "oxygenSaturation"),
		Weight:           pick(raw, "weight"),
	}
}

func pick(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		if s, isString := v.(string); isString && s == "" {
			continue
		}
		return text(v)
	}
	return ""
}

func text(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}
