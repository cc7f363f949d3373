// Package clinical talks to the inference backend that transcribes intake
// audio, extracts vitals and proposes diagnoses. Responses are normalized
// before they reach the workflow engine.
package clinical

import (
	"context"
	"errors"
	"io"

	"clinicflow/pkg/domain"
)

// ErrUnavailable wraps transport failures and non-2xx responses from the
// inference backend.
var ErrUnavailable = errors.New("inference backend unavailable")

// Transcript is the result of an intake recording or dictation.
type Transcript struct {
	Text   string        `json:"transcription"`
	Vitals domain.Vitals `json:"vitals"`
}

// DiagnosisRequest is the consultation context sent for a differential.
type DiagnosisRequest struct {
	Symptoms string
	Vitals   domain.Vitals
	History  string
}

// ConfirmRequest re-evaluates a differential against lab results.
type ConfirmRequest struct {
	InitialDiagnosis []domain.Diagnosis
	Symptoms         string
	LabResults       map[string]string
}

// Confirmation is the post-lab verdict.
type Confirmation struct {
	FinalDiagnosis []domain.Diagnosis `json:"finalDiagnosis"`
	Analysis       string             `json:"analysis"`
}

// Transcriber turns recorded audio into text and vitals.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename, contentType string) (Transcript, error)
}

// VitalsExtractor pulls vitals out of already transcribed text.
type VitalsExtractor interface {
	ExtractVitals(ctx context.Context, transcription string) (Transcript, error)
}

// Diagnoser proposes up to three ranked conditions.
type Diagnoser interface {
	Diagnose(ctx context.Context, req DiagnosisRequest) ([]domain.Diagnosis, error)
}

// Confirmer produces the final diagnosis once labs are back.
type Confirmer interface {
	Confirm(ctx context.Context, req ConfirmRequest) (Confirmation, error)
}

// Assistant is the full collaborator surface used by the HTTP API.
type Assistant interface {
	Transcriber
	VitalsExtractor
	Diagnoser
	Confirmer
}
