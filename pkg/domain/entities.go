// Package domain defines the clinical records, storage contracts, and rule
// evaluation primitives shared by every clinicflow component.
package domain

import "time"

// Kind discriminates the record types held by the local document store.
type Kind string

// Supported document kinds. The kind is a storage-internal discriminant and is
// never carried by the projected domain types.
const (
	// KindPatient identifies a patient registration document.
	KindPatient Kind = "patient"
	// KindEncounter identifies a clinical visit document.
	KindEncounter Kind = "encounter"
)

// Sex enumerates the values accepted at intake.
type Sex string

// Canonical sex values.
const (
	SexMale   Sex = "male"
	SexFemale Sex = "female"
)

// Valid reports whether s is a recognised value.
func (s Sex) Valid() bool {
	return s == SexMale || s == SexFemale
}

// Patient is registered once at intake and never transitions.
type Patient struct {
	ID           string    `json:"_id"`
	Revision     string    `json:"_rev,omitempty"`
	Name         string    `json:"name"`
	Age          int       `json:"age"`
	Sex          Sex       `json:"sex"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// Vitals are captured at intake. Values are free-form strings as dictated or
// typed by the nurse; no numeric validation is applied.
type Vitals struct {
	BloodPressure    string `json:"bp,omitempty"`
	Temperature      string `json:"temp,omitempty"`
	Pulse            string `json:"pulse,omitempty"`
	OxygenSaturation string `json:"spo2,omitempty"`
	Weight           string `json:"weight,omitempty"`
}

// IsZero reports whether no vital sign was recorded.
func (v Vitals) IsZero() bool {
	return v == Vitals{}
}

// Diagnosis is one ranked condition of a differential.
type Diagnosis struct {
	Condition   string  `json:"condition"`
	Probability float64 `json:"probability"`
	Reasoning   string  `json:"reasoning"`
}

// Prescription records a drug ordered at confirmation and, later, dispensed
// by the pharmacy station.
type Prescription struct {
	DrugID      string     `json:"drugId,omitempty"`
	GenericName string     `json:"genericName"`
	Dosage      string     `json:"dosage,omitempty"`
	Quantity    int        `json:"quantity,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	DispensedAt *time.Time `json:"dispensedAt,omitempty"`
}

// Encounter is one clinical visit tracked through the station workflow.
type Encounter struct {
	ID               string            `json:"_id"`
	Revision         string            `json:"_rev,omitempty"`
	PatientID        string            `json:"patientId"`
	Status           EncounterStatus   `json:"status"`
	Vitals           *Vitals           `json:"vitals,omitempty"`
	Transcription    string            `json:"transcription,omitempty"`
	Symptoms         string            `json:"symptoms,omitempty"`
	InitialDiagnosis []Diagnosis       `json:"initialDiagnosis,omitempty"`
	FinalDiagnosis   []Diagnosis       `json:"finalDiagnosis,omitempty"`
	FinalAnalysis    string            `json:"finalAnalysis,omitempty"`
	Labs             []string          `json:"labs,omitempty"`
	LabResults       map[string]string `json:"labResults,omitempty"`
	Prescriptions    []Prescription    `json:"prescriptions,omitempty"`
	AdmittedAt       *time.Time        `json:"admittedAt"`
	DischargedAt     *time.Time        `json:"dischargedAt"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
	Synced           bool              `json:"synced"`
}

// Clone returns a deep copy so callers cannot alias slices or maps held by
// another goroutine.
func (e Encounter) Clone() Encounter {
	out := e
	if e.Vitals != nil {
		v := *e.Vitals
		out.Vitals = &v
	}
	out.InitialDiagnosis = append([]Diagnosis(nil), e.InitialDiagnosis...)
	out.FinalDiagnosis = append([]Diagnosis(nil), e.FinalDiagnosis...)
	out.Labs = append([]string(nil), e.Labs...)
	if e.LabResults != nil {
		out.LabResults = make(map[string]string, len(e.LabResults))
		for k, v := range e.LabResults {
			out.LabResults[k] = v
		}
	}
	if e.Prescriptions != nil {
		out.Prescriptions = make([]Prescription, len(e.Prescriptions))
		for i, p := range e.Prescriptions {
			if p.DispensedAt != nil {
				t := *p.DispensedAt
				p.DispensedAt = &t
			}
			out.Prescriptions[i] = p
		}
	}
	out.AdmittedAt = cloneTime(e.AdmittedAt)
	out.DischargedAt = cloneTime(e.DischargedAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
