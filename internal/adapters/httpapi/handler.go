package httpapi

import (
	"context"
	"net/http"
	"strings"

	"clinicflow/internal/clinical"
	"clinicflow/internal/core"
	"clinicflow/internal/formulary"
	"clinicflow/internal/replication"
	"clinicflow/internal/report"
	"clinicflow/pkg/domain"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	svc       *core.Service
	assistant clinical.Assistant
	formulary *formulary.Catalog
	reports   *report.Exporter
	archive   *replication.Archive
}

func NewHandler(deps Deps) *Handler {
	return &Handler{
		svc:       deps.Service,
		assistant: deps.Assistant,
		formulary: deps.Formulary,
		reports:   deps.Reports,
		archive:   deps.Archive,
	}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/patients", h.RegisterPatient)
	api.GET("/patients", h.ListPatients)
	api.GET("/patients/:id", h.GetPatient)
	api.GET("/patients/:id/encounters", h.ListPatientEncounters)

	api.POST("/encounters", h.CreateEncounter)
	api.GET("/encounters", h.ListEncounters)
	api.GET("/encounters/:id", h.GetEncounter)
	api.POST("/encounters/:id/consult", h.StartConsult)
	api.POST("/encounters/:id/labs", h.AdvanceToLab)
	api.POST("/encounters/:id/lab-results", h.RecordLabResults)
	api.POST("/encounters/:id/diagnosis", h.RecordDiagnosis)
	api.POST("/encounters/:id/admit", h.confirm(h.svc.Encounters.Admit))
	api.POST("/encounters/:id/pharmacy", h.confirm(h.svc.Encounters.SendToPharmacy))
	api.POST("/encounters/:id/discharge", h.confirm(h.svc.Encounters.Discharge))
	api.POST("/encounters/:id/dispense", h.RecordDispensing)
	api.POST("/encounters/:id/override", h.Override)
	api.POST("/encounters/:id/assist/diagnose", h.AssistDiagnose)
	api.POST("/encounters/:id/assist/confirm", h.AssistConfirm)
	api.GET("/encounters/:id/archive", h.EncounterSyncHistory)
	api.GET("/encounters/:id/archive/:rev", h.ArchivedEncounter)

	api.GET("/queues/nurse", h.NurseBoard)
	api.GET("/queues/doctor", h.DoctorQueue)
	api.GET("/queues/lab", h.LabQueue)
	api.GET("/queues/pharmacy", h.PharmacyQueue)

	api.POST("/intake/transcribe", h.Transcribe)
	api.POST("/intake/vitals", h.ExtractVitals)

	api.GET("/formulary/suggestions", h.SuggestDrugs)
	api.GET("/formulary/drugs/:id", h.GetDrug)

	api.GET("/reports", h.ListReports)
	api.POST("/reports", h.ExportReport)
	api.GET("/reports/:name", h.DownloadReport).Name = "report.download"
	api.GET("/reports/:name/link", h.ReportLink)
}

// revisioned is embedded by every mutation body. An empty revision skips the
// staleness check.
type revisioned struct {
	Revision string `json:"_rev"`
}

type registerPatientRequest struct {
	Name string     `json:"name"`
	Age  int        `json:"age"`
	Sex  domain.Sex `json:"sex"`
}

type createEncounterRequest struct {
	PatientID     string         `json:"patientId"`
	Vitals        *domain.Vitals `json:"vitals"`
	Transcription string         `json:"transcription"`
}

type labsRequest struct {
	revisioned
	Tests []string `json:"tests"`
}

type labResultsRequest struct {
	revisioned
	Results map[string]string `json:"results"`
}

type diagnosisRequest struct {
	revisioned
	Symptoms  string             `json:"symptoms"`
	Diagnoses []domain.Diagnosis `json:"diagnoses"`
}

type confirmationRequest struct {
	revisioned
	FinalDiagnosis []domain.Diagnosis    `json:"finalDiagnosis"`
	Analysis       string                `json:"analysis"`
	Prescriptions  []domain.Prescription `json:"prescriptions"`
}

type dispenseRequest struct {
	revisioned
	Prescriptions []domain.Prescription `json:"prescriptions"`
}

type overrideRequest struct {
	revisioned
	Status domain.EncounterStatus `json:"status"`
	Reason string                 `json:"reason"`
}

func bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	return nil
}

// -- Patients --

func (h *Handler) RegisterPatient(c echo.Context) error {
	var req registerPatientRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	p, err := h.svc.Patients.Register(c.Request().Context(), domain.Patient{Name: req.Name, Age: req.Age, Sex: req.Sex})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) ListPatients(c echo.Context) error {
	list, err := h.svc.Patients.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, nonNil(list))
}

func (h *Handler) GetPatient(c echo.Context) error {
	p, err := h.svc.Patients.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPatientEncounters(c echo.Context) error {
	list, err := h.svc.Encounters.ListForPatient(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, nonNil(list))
}

// -- Encounters --

func (h *Handler) CreateEncounter(c echo.Context) error {
	var req createEncounterRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	enc, err := h.svc.Encounters.CreateEncounter(c.Request().Context(), req.PatientID, core.Intake{
		Vitals:        req.Vitals,
		Transcription: req.Transcription,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, enc)
}

func (h *Handler) ListEncounters(c echo.Context) error {
	status := domain.EncounterStatus(strings.TrimSpace(c.QueryParam("status")))
	list, err := h.svc.Encounters.List(c.Request().Context(), status)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, nonNil(list))
}

func (h *Handler) GetEncounter(c echo.Context) error {
	enc, err := h.svc.Encounters.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, enc)
}

func (h *Handler) StartConsult(c echo.Context) error {
	var req revisioned
	if err := bind(c, &req); err != nil {
		return err
	}
	return respond(c)(h.svc.Encounters.StartConsult(c.Request().Context(), c.Param("id"), req.Revision))
}

func (h *Handler) AdvanceToLab(c echo.Context) error {
	var req labsRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	return respond(c)(h.svc.Encounters.AdvanceToLab(c.Request().Context(), c.Param("id"), req.Revision, req.Tests))
}

func (h *Handler) RecordLabResults(c echo.Context) error {
	var req labResultsRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	return respond(c)(h.svc.Encounters.RecordLabResults(c.Request().Context(), c.Param("id"), req.Revision, req.Results))
}

func (h *Handler) RecordDiagnosis(c echo.Context) error {
	var req diagnosisRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	return respond(c)(h.svc.Encounters.RecordDiagnosis(c.Request().Context(), c.Param("id"), req.Revision, req.Symptoms, req.Diagnoses))
}

type confirmFunc func(ctx context.Context, id, rev string, conf core.Confirmation) (domain.Encounter, error)

// confirm adapts the three results_ready exits, which share one body shape.
func (h *Handler) confirm(fn confirmFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req confirmationRequest
		if err := bind(c, &req); err != nil {
			return err
		}
		return respond(c)(fn(c.Request().Context(), c.Param("id"), req.Revision, core.Confirmation{
			FinalDiagnosis: req.FinalDiagnosis,
			Analysis:       req.Analysis,
			Prescriptions:  req.Prescriptions,
		}))
	}
}

func (h *Handler) RecordDispensing(c echo.Context) error {
	var req dispenseRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	return respond(c)(h.svc.Encounters.RecordDispensing(c.Request().Context(), c.Param("id"), req.Revision, req.Prescriptions))
}

func (h *Handler) Override(c echo.Context) error {
	var req overrideRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	return respond(c)(h.svc.Encounters.Override(c.Request().Context(), c.Param("id"), req.Revision, req.Status, req.Reason))
}

// -- Queues --

func (h *Handler) NurseBoard(c echo.Context) error {
	board, err := h.svc.Queues.NurseBoard(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, board)
}

func (h *Handler) DoctorQueue(c echo.Context) error {
	return respondList(c)(h.svc.Queues.DoctorQueue(c.Request().Context()))
}

func (h *Handler) LabQueue(c echo.Context) error {
	return respondList(c)(h.svc.Queues.LabQueue(c.Request().Context()))
}

func (h *Handler) PharmacyQueue(c echo.Context) error {
	return respondList(c)(h.svc.Queues.PharmacyQueue(c.Request().Context()))
}

func respond(c echo.Context) func(domain.Encounter, error) error {
	return func(enc domain.Encounter, err error) error {
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, enc)
	}
}

func respondList(c echo.Context) func([]domain.Encounter, error) error {
	return func(list []domain.Encounter, err error) error {
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, nonNil(list))
	}
}

// nonNil keeps empty collections encoding as [] rather than null.
func nonNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}
