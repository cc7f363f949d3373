package httpapi

import (
	"net/http"
	"strings"

	"clinicflow/internal/clinical"
	"clinicflow/pkg/domain"

	"github.com/labstack/echo/v4"
)

var (
	errNoAssistant = echo.NewHTTPError(http.StatusServiceUnavailable, "inference backend not configured")
	errNoFormulary = echo.NewHTTPError(http.StatusServiceUnavailable, "formulary not loaded")
)

type assistDiagnoseRequest struct {
	revisioned
	Symptoms string `json:"symptoms"`
	History  string `json:"history"`
}

type extractVitalsRequest struct {
	Transcription string `json:"transcription"`
}

// AssistDiagnose asks the inference backend for a differential and records it
// on the encounter. Symptoms default to the ones already on file.
func (h *Handler) AssistDiagnose(c echo.Context) error {
	if h.assistant == nil {
		return errNoAssistant
	}
	var req assistDiagnoseRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	enc, err := h.svc.Encounters.Get(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	symptoms := strings.TrimSpace(req.Symptoms)
	if symptoms == "" {
		symptoms = enc.Symptoms
	}
	var vitals domain.Vitals
	if enc.Vitals != nil {
		vitals = *enc.Vitals
	}
	diagnoses, err := h.assistant.Diagnose(ctx, clinical.DiagnosisRequest{Symptoms: symptoms, Vitals: vitals, History: req.History})
	if err != nil {
		return err
	}
	rev := req.Revision
	if rev == "" {
		rev = enc.Revision
	}
	return respond(c)(h.svc.Encounters.RecordDiagnosis(ctx, enc.ID, rev, symptoms, diagnoses))
}

// AssistConfirm returns the backend's post-lab verdict without recording it;
// the doctor applies it through admit, pharmacy or discharge.
func (h *Handler) AssistConfirm(c echo.Context) error {
	if h.assistant == nil {
		return errNoAssistant
	}
	ctx := c.Request().Context()
	enc, err := h.svc.Encounters.Get(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	if enc.Status != domain.StatusResultsReady {
		return &domain.ValidationError{Kind: domain.KindEncounter, ID: enc.ID, Field: "status", Reason: "confirmation needs lab results"}
	}
	out, err := h.assistant.Confirm(ctx, clinical.ConfirmRequest{
		InitialDiagnosis: enc.InitialDiagnosis,
		Symptoms:         enc.Symptoms,
		LabResults:       enc.LabResults,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Transcribe(c echo.Context) error {
	if h.assistant == nil {
		return errNoAssistant
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart field \"file\" is required")
	}
	f, err := fh.Open()
	if err != nil {
		return err
	}
	defer f.Close()
	out, err := h.assistant.Transcribe(c.Request().Context(), f, fh.Filename, fh.Header.Get("Content-Type"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) ExtractVitals(c echo.Context) error {
	if h.assistant == nil {
		return errNoAssistant
	}
	var req extractVitalsRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	out, err := h.assistant.ExtractVitals(c.Request().Context(), req.Transcription)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

// SuggestDrugs always answers 200; an unmatched diagnosis carries status
// not_found in the body.
func (h *Handler) SuggestDrugs(c echo.Context) error {
	if h.formulary == nil {
		return errNoFormulary
	}
	return c.JSON(http.StatusOK, h.formulary.Suggest(c.QueryParam("diagnosis")))
}

func (h *Handler) GetDrug(c echo.Context) error {
	if h.formulary == nil {
		return errNoFormulary
	}
	drug, ok := h.formulary.Drug(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "drug "+c.Param("id")+" not found")
	}
	return c.JSON(http.StatusOK, drug)
}
