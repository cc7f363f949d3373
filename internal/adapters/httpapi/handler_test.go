package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync"
	"testing"
	"time"

	"clinicflow/internal/blob"
	"clinicflow/internal/clinical"
	"clinicflow/internal/core"
	"clinicflow/internal/formulary"
	"clinicflow/pkg/domain"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAssistant struct {
	diagnoses []domain.Diagnosis
	verdict   clinical.Confirmation
	err       error
	gotAudio  string
	gotDiag   clinical.DiagnosisRequest
}

func (f *fakeAssistant) Transcribe(_ context.Context, audio io.Reader, _, contentType string) (clinical.Transcript, error) {
	b, _ := io.ReadAll(audio)
	f.gotAudio = contentType + ":" + string(b)
	return clinical.Transcript{Text: "temperature 38.5", Vitals: domain.Vitals{Temperature: "38.5"}}, f.err
}

func (f *fakeAssistant) ExtractVitals(_ context.Context, text string) (clinical.Transcript, error) {
	return clinical.Transcript{Text: text, Vitals: domain.Vitals{Pulse: "96"}}, f.err
}

func (f *fakeAssistant) Diagnose(_ context.Context, req clinical.DiagnosisRequest) ([]domain.Diagnosis, error) {
	f.gotDiag = req
	return f.diagnoses, f.err
}

func (f *fakeAssistant) Confirm(context.Context, clinical.ConfirmRequest) (clinical.Confirmation, error) {
	return f.verdict, f.err
}

type recordedHTTP struct {
	mu    sync.Mutex
	paths []string
}

func (r *recordedHTTP) ObserveHTTP(method, path string, status int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, fmt.Sprintf("%s %s %d", method, path, status))
}

func (r *recordedHTTP) TrackInFlight() func() { return func() {} }

type fixture struct {
	e         *echo.Echo
	svc       *core.Service
	assistant *fakeAssistant
	metrics   *recordedHTTP
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	svc := core.NewInMemoryService(nil)
	t.Cleanup(func() { _ = svc.Close() })
	catalog, err := formulary.Load("")
	require.NoError(t, err)
	f := &fixture{
		svc: svc,
		assistant: &fakeAssistant{
			diagnoses: []domain.Diagnosis{{Condition: "Malaria", Probability: 0.8, Reasoning: "fever"}},
			verdict:   clinical.Confirmation{FinalDiagnosis: []domain.Diagnosis{{Condition: "Malaria", Probability: 0.9}}, Analysis: "RDT positive"},
		},
		metrics: &recordedHTTP{},
	}
	f.e = NewServer(Deps{
		Service:        svc,
		Assistant:      f.assistant,
		Formulary:      catalog,
		Metrics:        f.metrics,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, "# metrics") }),
		Logger:         zerolog.Nop(),
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (f *fixture) registerKwame(t *testing.T) domain.Patient {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/patients", map[string]any{"name": "Kwame", "age": 25, "sex": "male"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[domain.Patient](t, rec)
}

func (f *fixture) openEncounter(t *testing.T, patientID string) domain.Encounter {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/encounters", map[string]any{"patientId": patientID, "vitals": map[string]string{"temp": "38.9"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[domain.Encounter](t, rec)
}

func TestHappyPathOverHTTP(t *testing.T) {
	f := newFixture(t)
	patient := f.registerKwame(t)
	enc := f.openEncounter(t, patient.ID)
	assert.Equal(t, domain.StatusWaitingForConsult, enc.Status)

	rec := f.do(t, http.MethodPost, "/api/v1/encounters/"+enc.ID+"/labs", map[string]any{"_rev": enc.Revision, "tests": []string{"Malaria RDT"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	enc = decode[domain.Encounter](t, rec)
	assert.Equal(t, domain.StatusWaitingForLab, enc.Status)

	rec = f.do(t, http.MethodPost, "/api/v1/encounters/"+enc.ID+"/lab-results", map[string]any{"_rev": enc.Revision, "results": map[string]string{"Malaria RDT": "Positive"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	enc = decode[domain.Encounter](t, rec)
	assert.Equal(t, domain.StatusResultsReady, enc.Status)

	rec = f.do(t, http.MethodPost, "/api/v1/encounters/"+enc.ID+"/discharge", map[string]any{
		"_rev":           enc.Revision,
		"finalDiagnosis": []domain.Diagnosis{{Condition: "Malaria", Probability: 0.9, Reasoning: "RDT positive"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	enc = decode[domain.Encounter](t, rec)
	assert.Equal(t, domain.StatusDischarged, enc.Status)
	assert.NotNil(t, enc.DischargedAt)

	rec = f.do(t, http.MethodGet, "/api/v1/queues/nurse", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	board := decode[core.NurseBoard](t, rec)
	require.Len(t, board.Discharged, 1)
	assert.Equal(t, enc.ID, board.Discharged[0].ID)

	rec = f.do(t, http.MethodGet, "/api/v1/patients/"+patient.ID+"/encounters", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.Encounter](t, rec), 1)

	rec = f.do(t, http.MethodGet, "/api/v1/encounters?status=discharged", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.Encounter](t, rec), 1)
}

func TestErrorMapping(t *testing.T) {
	f := newFixture(t)
	patient := f.registerKwame(t)
	enc := f.openEncounter(t, patient.ID)

	rec := f.do(t, http.MethodPost, "/api/v1/encounters/"+enc.ID+"/consult", map[string]any{"_rev": enc.Revision})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	t.Run("stale revision is a conflict", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/encounters/"+enc.ID+"/labs", map[string]any{"_rev": enc.Revision, "tests": []string{"FBC"}})
		assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
		assert.Equal(t, http.StatusConflict, decode[ErrorBody](t, rec).Status)
	})
	t.Run("unknown encounter", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/encounters/missing", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
	t.Run("unknown patient", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/patients/missing/encounters", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
	t.Run("illegal transition", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/encounters/"+enc.ID+"/admit", map[string]any{})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	})
	t.Run("invalid patient", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/patients", map[string]any{"name": "", "age": 3, "sex": "male"})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
	t.Run("unknown status filter", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/encounters?status=bogus", nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/encounters", bytes.NewReader([]byte("{")))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		f.e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&domain.NotFoundError{Kind: domain.KindPatient, ID: "p"}, http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", &domain.ConflictError{ID: "e"}), http.StatusConflict},
		{&domain.ValidationError{Reason: "bad"}, http.StatusUnprocessableEntity},
		{domain.RuleViolationError{}, http.StatusUnprocessableEntity},
		{fmt.Errorf("diagnose: %w", clinical.ErrUnavailable), http.StatusBadGateway},
		{fmt.Errorf("archive register: %w", blob.ErrExists), http.StatusConflict},
		{blob.ErrNotFound, http.StatusNotFound},
		{blob.ErrUnsupported, http.StatusNotImplemented},
		{echo.NewHTTPError(http.StatusTeapot), http.StatusTeapot},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StatusFor(tc.err), tc.err.Error())
	}
}

func TestAssistDiagnoseRecordsDifferential(t *testing.T) {
	f := newFixture(t)
	enc := f.openEncounter(t, f.registerKwame(t).ID)

	rec := f.do(t, http.MethodPost, "/api/v1/encounters/"+enc.ID+"/assist/diagnose", map[string]any{"_rev": enc.Revision, "symptoms": "fever, chills"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[domain.Encounter](t, rec)
	assert.Equal(t, "fever, chills", got.Symptoms)
	require.Len(t, got.InitialDiagnosis, 1)
	assert.Equal(t, "Malaria", got.InitialDiagnosis[0].Condition)
	assert.Equal(t, "38.9", f.assistant.gotDiag.Vitals.Temperature)

	f.assistant.err = fmt.Errorf("diagnose: %w", clinical.ErrUnavailable)
	rec = f.do(t, http.MethodPost, "/api/v1/encounters/"+enc.ID+"/assist/diagnose", map[string]any{})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestAssistConfirmNeedsResults(t *testing.T) {
	f := newFixture(t)
	enc := f.openEncounter(t, f.registerKwame(t).ID)

	rec := f.do(t, http.MethodPost, "/api/v1/encounters/"+enc.ID+"/assist/confirm", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	ctx := context.Background()
	enc, err := f.svc.Encounters.AdvanceToLab(ctx, enc.ID, enc.Revision, []string{"Malaria RDT"})
	require.NoError(t, err)
	_, err = f.svc.Encounters.RecordLabResults(ctx, enc.ID, enc.Revision, map[string]string{"Malaria RDT": "Positive"})
	require.NoError(t, err)

	rec = f.do(t, http.MethodPost, "/api/v1/encounters/"+enc.ID+"/assist/confirm", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	verdict := decode[clinical.Confirmation](t, rec)
	assert.Equal(t, "RDT positive", verdict.Analysis)

	still, err := f.svc.Encounters.Get(ctx, enc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusResultsReady, still.Status)
}

func TestIntakeRoutes(t *testing.T) {
	f := newFixture(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="intake.webm"`)
	header.Set("Content-Type", "audio/webm")
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, _ = part.Write([]byte("voice"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/intake/transcribe", &body)
	req.Header.Set(echo.HeaderContentType, mw.FormDataContentType())
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "audio/webm:voice", f.assistant.gotAudio)
	assert.Equal(t, "38.5", decode[clinical.Transcript](t, rec).Vitals.Temperature)

	rec = f.do(t, http.MethodPost, "/api/v1/intake/transcribe", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/intake/vitals", map[string]any{"transcription": "pulse ninety six"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "96", decode[clinical.Transcript](t, rec).Vitals.Pulse)
}

func TestFormularyRoutes(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/formulary/suggestions?diagnosis=Uncomplicated+Malaria", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[formulary.Result](t, rec)
	assert.Equal(t, formulary.StatusSuccess, res.Status)
	require.NotEmpty(t, res.Matches)

	rec = f.do(t, http.MethodGet, "/api/v1/formulary/drugs/"+res.Matches[0].ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/v1/formulary/drugs/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/formulary/suggestions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, formulary.StatusNotFound, decode[formulary.Result](t, rec).Status)
}

func TestOptionalCollaboratorsAnswerUnavailable(t *testing.T) {
	svc := core.NewInMemoryService(nil)
	t.Cleanup(func() { _ = svc.Close() })
	e := NewServer(Deps{Service: svc, Logger: zerolog.Nop()})

	for _, path := range []string{"/api/v1/intake/vitals", "/api/v1/encounters/x/assist/diagnose"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/formulary/suggestions?diagnosis=malaria", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthzAndMetrics(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, "# metrics", rec.Body.String())
	f.do(t, http.MethodGet, "/api/v1/encounters/abc", nil)

	f.metrics.mu.Lock()
	defer f.metrics.mu.Unlock()
	assert.Contains(t, f.metrics.paths, "GET /healthz 200")
	assert.Contains(t, f.metrics.paths, "GET /api/v1/encounters/:id 404")

	svc := core.NewInMemoryService(nil)
	t.Cleanup(func() { _ = svc.Close() })
	down := NewServer(Deps{Service: svc, Logger: zerolog.Nop(), Ready: func(context.Context) error { return errors.New("disk full") }})
	rec = httptest.NewRecorder()
	down.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMiddleware(t *testing.T) {
	var logs bytes.Buffer
	e := echo.New()
	e.HTTPErrorHandler = errorHandler
	e.Use(RequestID(), Logger(zerolog.New(&logs)), Recovery(zerolog.Nop()))
	e.GET("/panic", func(echo.Context) error { panic("boom") })

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	req.Header.Set("X-Request-ID", "rid-1")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "rid-1", rec.Header().Get("X-Request-ID"))
	assert.Contains(t, logs.String(), `"request_id":"rid-1"`)
	assert.Contains(t, logs.String(), `"status":500`)
}
