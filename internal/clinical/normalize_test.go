package clinical

import (
	"encoding/json"
	"testing"

	"clinicflow/pkg/domain"

	"github.com/stretchr/testify/assert"
)

func raws(t *testing.T, items ...string) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, 0, len(items))
	for _, it := range items {
		out = append(out, json.RawMessage(it))
	}
	return out
}

func TestProbabilityCoercion(t *testing.T) {
	cases := []struct {
		in   any
		want float64
	}{
		{0.9, 0.9},
		{85.0, 0.85},
		{"85%", 0.85},
		{" 0.4 ", 0.4},
		{100.0, 1},
		{150.0, 1},
		{-2.0, 0},
		{"likely", 0},
		{nil, 0},
		{json.Number("42"), 0.42},
		{1.0, 1},
	}
	for _, tc := range cases {
		assert.InDelta(t, tc.want, Probability(tc.in), 1e-9, "input %v", tc.in)
	}
}

func TestNormalizeDiagnosesKeepsFirstThree(t *testing.T) {
	got := NormalizeDiagnoses(raws(t,
		`{"condition":"Malaria","probability":90,"reasoning":"Fever and positive travel history."}`,
		`"not an object"`,
		`{"condition":"  ","probability":0.5}`,
		`{"condition":"Typhoid","probability":0.3}`,
	))
	assert.Equal(t, []domain.Diagnosis{
		{Condition: "Malaria", Probability: 0.9, Reasoning: "Fever and positive travel history."},
	}, got, "only the first three raw entries are considered")

	got = NormalizeDiagnoses(raws(t,
		`{"condition":"Malaria","probability":"0.7"}`,
		`{"condition":"Typhoid","probability":0.2,"reasoning":""}`,
	))
	assert.Len(t, got, 2)
	assert.Equal(t, "No reasoning provided.", got[0].Reasoning)
	assert.Equal(t, "No reasoning provided.", got[1].Reasoning)
	assert.InDelta(t, 0.7, got[0].Probability, 1e-9)

	assert.Empty(t, NormalizeDiagnoses(nil))
}

func TestNormalizeAnalysis(t *testing.T) {
	assert.Equal(t, "Confirmed by RDT.", NormalizeAnalysis(json.RawMessage(`"  Confirmed by RDT. "`)))
	assert.Equal(t, "No analysis provided.", NormalizeAnalysis(json.RawMessage(`"   "`)))
	assert.Equal(t, "No analysis provided.", NormalizeAnalysis(json.RawMessage(`{"x":1}`)))
	assert.Equal(t, "No analysis provided.", NormalizeAnalysis(nil))
}

func TestNormalizeVitalsAliases(t *testing.T) {
	got := NormalizeVitals(map[string]any{
		"blood_pressure":   " 140/90 ",
		"temperature":      38.5,
		"bp":               "",
		"heartRate":        float64(96),
		"oxygenSaturation": "97",
		"weight":           map[string]any{"kg": 70.0},
		"ignored":          "x",
	})
	assert.Equal(t, domain.Vitals{
		BloodPressure:    "140/90",
		Temperature:      "38.5",
		Pulse:            "96",
		OxygenSaturation: "97",
		Weight:           `{"kg":70}`,
	}, got)
	assert.True(t, NormalizeVitals(nil).IsZero())
}
