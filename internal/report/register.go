// Package report renders the encounter register as an XLSX workbook and
// archives it in the blob store.
package report

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"clinicflow/internal/blob"
	"clinicflow/internal/core"
	"clinicflow/pkg/domain"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const (
	registerSheet = "Register"
	summarySheet  = "Summary"
	timeLayout    = "2006-01-02 15:04"
	// ContentType is the MIME type of exported workbooks.
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var registerHeader = []string{
	"Encounter ID",
	"Patient ID",
	"Patient",
	"Age",
	"Sex",
	"Status",
	"Created",
	"Admitted",
	"Discharged",
	"Final Diagnosis",
	"Labs",
	"Prescriptions",
	"Synced",
}

var registerWidths = []float64{38, 38, 24, 6, 8, 20, 17, 17, 17, 30, 30, 40, 8}

// Exporter builds register workbooks from the live store.
type Exporter struct {
	svc     *core.Service
	archive blob.Store
	now     func() time.Time
	logger  zerolog.Logger
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithClock overrides the timestamp used in generated keys.
func WithClock(now func() time.Time) Option { return func(e *Exporter) { e.now = now } }

// WithLogger sets the structured logger.
func WithLogger(l zerolog.Logger) Option { return func(e *Exporter) { e.logger = l } }

// NewExporter reads through svc and writes into archive.
func NewExporter(svc *core.Service, archive blob.Store, opts ...Option) *Exporter {
	e := &Exporter{svc: svc, archive: archive, now: func() time.Time { return time.Now().UTC() }, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DefaultKey names a register export taken at t.
func DefaultKey(t time.Time) string {
	return fmt.Sprintf("reports/register-%s.xlsx", t.UTC().Format("20060102T150405Z"))
}

// Export renders the register and stores it under key, or DefaultKey when
// key is empty. Existing keys are never overwritten.
func (e *Exporter) Export(ctx context.Context, key string) (blob.Info, error) {
	if key == "" {
		key = DefaultKey(e.now())
	}
	data, err := e.Build(ctx)
	if err != nil {
		return blob.Info{}, err
	}
	info, err := e.archive.Put(ctx, key, bytes.NewReader(data), blob.PutOptions{
		ContentType: ContentType,
		Metadata:    map[string]string{"generated_at": e.now().UTC().Format(time.RFC3339)},
	})
	if err != nil {
		return blob.Info{}, fmt.Errorf("archive register %s: %w", key, err)
	}
	e.logger.Info().Str("key", key).Int64("bytes", info.Size).Msg("register exported")
	return info, nil
}

// Build renders the register workbook in memory: one row per encounter,
// newest first, plus a per-status summary sheet.
func (e *Exporter) Build(ctx context.Context) ([]byte, error) {
	patients, err := e.svc.Patients.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	byID := make(map[string]domain.Patient, len(patients))
	for _, p := range patients {
		byID[p.ID] = p
	}
	encounters, err := e.svc.Encounters.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list encounters: %w", err)
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if err := f.SetSheetName("Sheet1", registerSheet); err != nil {
		return nil, err
	}
	if err := writeRegister(f, encounters, byID); err != nil {
		return nil, err
	}
	if err := writeSummary(f, encounters); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRegister(f *excelize.File, encounters []domain.Encounter, patients map[string]domain.Patient) error {
	style, err := headerStyle(f)
	if err != nil {
		return err
	}
	if err := writeHeader(f, registerSheet, registerHeader, style); err != nil {
		return err
	}
	for i, w := range registerWidths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(registerSheet, col, col, w); err != nil {
			return err
		}
	}
	for i, enc := range encounters {
		p := patients[enc.PatientID]
		row := []any{
			enc.ID,
			enc.PatientID,
			p.Name,
			p.Age,
			string(p.Sex),
			string(enc.Status),
			formatTime(&enc.CreatedAt),
			formatTime(enc.AdmittedAt),
			formatTime(enc.DischargedAt),
			diagnosisSummary(enc.FinalDiagnosis),
			labSummary(enc),
			prescriptionSummary(enc.Prescriptions),
			yesNo(enc.Synced),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(registerSheet, cell, &row); err != nil {
			return fmt.Errorf("write register row %d: %w", i+2, err)
		}
	}
	return f.SetPanes(registerSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func writeSummary(f *excelize.File, encounters []domain.Encounter) error {
	if _, err := f.NewSheet(summarySheet); err != nil {
		return err
	}
	style, err := headerStyle(f)
	if err != nil {
		return err
	}
	if err := writeHeader(f, summarySheet, []string{"Status", "Encounters"}, style); err != nil {
		return err
	}
	counts := make(map[domain.EncounterStatus]int)
	for _, enc := range encounters {
		counts[enc.Status]++
	}
	rowIdx := 2
	for _, status := range domain.EncounterStatuses() {
		row := []any{string(status), counts[status]}
		if err := f.SetSheetRow(summarySheet, fmt.Sprintf("A%d", rowIdx), &row); err != nil {
			return err
		}
		rowIdx++
	}
	total := []any{"total", len(encounters)}
	return f.SetSheetRow(summarySheet, fmt.Sprintf("A%d", rowIdx), &total)
}

func headerStyle(f *excelize.File) (int, error) {
	return f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
}

func writeHeader(f *excelize.File, sheet string, header []string, style int) error {
	for col, title := range header {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, title); err != nil {
			return fmt.Errorf("set header %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
			return err
		}
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func diagnosisSummary(dx []domain.Diagnosis) string {
	parts := make([]string, 0, len(dx))
	for _, d := range dx {
		parts = append(parts, fmt.Sprintf("%s (%.0f%%)", d.Condition, d.Probability*100))
	}
	return strings.Join(parts, "; ")
}

func labSummary(enc domain.Encounter) string {
	parts := make([]string, 0, len(enc.Labs))
	seen := make(map[string]bool)
	for _, test := range enc.Labs {
		seen[test] = true
		if res, ok := enc.LabResults[test]; ok {
			parts = append(parts, test+": "+res)
		} else {
			parts = append(parts, test)
		}
	}
	var extra []string
	for test := range enc.LabResults {
		if !seen[test] {
			extra = append(extra, test)
		}
	}
	sort.Strings(extra)
	for _, test := range extra {
		parts = append(parts, test+": "+enc.LabResults[test])
	}
	return strings.Join(parts, "; ")
}

func prescriptionSummary(rx []domain.Prescription) string {
	parts := make([]string, 0, len(rx))
	for _, p := range rx {
		s := p.GenericName
		if p.Dosage != "" {
			s += " " + p.Dosage
		}
		if p.DispensedAt != nil {
			s += " [dispensed]"
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "; ")
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
