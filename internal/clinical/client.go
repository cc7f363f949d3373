package clinical

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"clinicflow/pkg/domain"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// Client implements Assistant against the inference backend's REST API.
type Client struct {
	http   *resty.Client
	logger zerolog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout bounds each request. Model inference is slow, so the default is generous.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.http.SetTimeout(d)
		}
	}
}

// WithRetries retries transport failures and 5xx responses.
func WithRetries(n int) ClientOption {
	return func(c *Client) {
		c.http.SetRetryCount(n).
			SetRetryWaitTime(500 * time.Millisecond).
			SetRetryMaxWaitTime(5 * time.Second).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				return err != nil || r.StatusCode() >= 500
			})
	}
}

// WithLogger sets the structured logger.
func WithLogger(l zerolog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient targets the backend at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(2 * time.Minute).
			SetHeader("Accept", "application/json"),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type vitalsResponse struct {
	Transcription string         `json:"transcription"`
	Vitals        map[string]any `json:"vitals"`
}

type diagnoseResponse struct {
	Diagnoses []json.RawMessage `json:"diagnoses"`
}

type confirmResponse struct {
	FinalDiagnosis []json.RawMessage `json:"final_diagnosis"`
	Analysis       json.RawMessage   `json:"analysis"`
}

// Transcribe uploads an intake recording as multipart form data.
func (c *Client) Transcribe(ctx context.Context, audio io.Reader, filename, contentType string) (Transcript, error) {
	if !strings.Contains(strings.ToLower(contentType), "audio") {
		return Transcript{}, &domain.ValidationError{Field: "file", Reason: fmt.Sprintf("unsupported content type %q", contentType)}
	}
	if filename == "" {
		filename = "recording.webm"
	}
	var out vitalsResponse
	req := c.http.R().
		SetContext(ctx).
		SetMultipartField("file", filename, contentType, audio).
		SetResult(&out)
	if err := c.do(req, "/process-audio"); err != nil {
		return Transcript{}, err
	}
	return Transcript{Text: strings.TrimSpace(out.Transcription), Vitals: NormalizeVitals(out.Vitals)}, nil
}

// ExtractVitals sends dictated text for vitals extraction.
func (c *Client) ExtractVitals(ctx context.Context, transcription string) (Transcript, error) {
	transcription = strings.TrimSpace(transcription)
	if transcription == "" {
		return Transcript{}, &domain.ValidationError{Field: "transcription", Reason: "required"}
	}
	var out vitalsResponse
	req := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"transcription": transcription}).
		SetResult(&out)
	if err := c.do(req, "/extract-vitals"); err != nil {
		return Transcript{}, err
	}
	text := strings.TrimSpace(out.Transcription)
	if text == "" {
		text = transcription
	}
	return Transcript{Text: text, Vitals: NormalizeVitals(out.Vitals)}, nil
}

// Diagnose requests a differential for the presenting symptoms.
func (c *Client) Diagnose(ctx context.Context, in DiagnosisRequest) ([]domain.Diagnosis, error) {
	symptoms := strings.TrimSpace(in.Symptoms)
	if symptoms == "" {
		return nil, &domain.ValidationError{Kind: domain.KindEncounter, Field: "symptoms", Reason: "required"}
	}
	body := map[string]any{
		"symptoms": symptoms,
		"vitals":   in.Vitals,
	}
	if h := strings.TrimSpace(in.History); h != "" {
		body["history"] = h
	}
	var out diagnoseResponse
	req := c.http.R().SetContext(ctx).SetBody(body).SetResult(&out)
	if err := c.do(req, "/diagnose"); err != nil {
		return nil, err
	}
	return NormalizeDiagnoses(out.Diagnoses), nil
}

// Confirm re-evaluates a differential against lab results.
func (c *Client) Confirm(ctx context.Context, in ConfirmRequest) (Confirmation, error) {
	symptoms := strings.TrimSpace(in.Symptoms)
	if symptoms == "" {
		return Confirmation{}, &domain.ValidationError{Kind: domain.KindEncounter, Field: "symptoms", Reason: "required"}
	}
	initial := in.InitialDiagnosis
	if initial == nil {
		initial = []domain.Diagnosis{}
	}
	labs := in.LabResults
	if labs == nil {
		labs = map[string]string{}
	}
	var out confirmResponse
	req := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"initial_diagnosis": initial,
			"symptoms":          symptoms,
			"lab_results":       labs,
		}).
		SetResult(&out)
	if err := c.do(req, "/confirm-diagnosis"); err != nil {
		return Confirmation{}, err
	}
	return Confirmation{FinalDiagnosis: NormalizeDiagnoses(out.FinalDiagnosis), Analysis: NormalizeAnalysis(out.Analysis)}, nil
}

// Ping checks the backend health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/health")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: health returned %s", ErrUnavailable, resp.Status())
	}
	return nil
}

func (c *Client) do(req *resty.Request, path string) error {
	start := time.Now()
	resp, err := req.Post(path)
	if err != nil {
		c.logger.Warn().Err(err).Str("path", path).Msg("inference request failed")
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, path, err)
	}
	if resp.IsError() {
		c.logger.Warn().Str("path", path).Int("status", resp.StatusCode()).Str("body", truncate(resp.String(), 256)).Msg("inference backend returned error")
		return fmt.Errorf("%w: %s returned %s", ErrUnavailable, path, resp.Status())
	}
	c.logger.Debug().Str("path", path).Dur("elapsed", time.Since(start)).Msg("inference request served")
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
