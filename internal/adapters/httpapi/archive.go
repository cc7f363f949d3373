package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"clinicflow/internal/blob"
	"clinicflow/internal/replication"
	"clinicflow/internal/report"
	"clinicflow/pkg/domain"

	"github.com/labstack/echo/v4"
)

var (
	errNoReports = echo.NewHTTPError(http.StatusServiceUnavailable, "report archive not configured")
	errNoArchive = echo.NewHTTPError(http.StatusServiceUnavailable, "sync archive not configured")
)

type reportView struct {
	Name        string    `json:"name"`
	Key         string    `json:"key"`
	Size        int64     `json:"sizeBytes"`
	ContentType string    `json:"contentType,omitempty"`
	GeneratedAt time.Time `json:"generatedAt"`
}

func viewReport(info blob.Info) reportView {
	return reportView{
		Name:        report.NameOf(info.Key),
		Key:         info.Key,
		Size:        info.Size,
		ContentType: info.ContentType,
		GeneratedAt: info.LastModified,
	}
}

type reportLink struct {
	URL    string `json:"url"`
	Direct bool   `json:"direct"`
}

type syncHistory struct {
	EncounterID     string                         `json:"encounterId"`
	CurrentRevision string                         `json:"currentRevision"`
	CurrentArchived bool                           `json:"currentArchived"`
	Revisions       []replication.ArchivedRevision `json:"revisions"`
}

func (h *Handler) ListReports(c echo.Context) error {
	if h.reports == nil {
		return errNoReports
	}
	infos, err := h.reports.List(c.Request().Context())
	if err != nil {
		return err
	}
	out := make([]reportView, 0, len(infos))
	for _, info := range infos {
		out = append(out, viewReport(info))
	}
	return c.JSON(http.StatusOK, out)
}

// ExportReport archives a fresh register workbook.
func (h *Handler) ExportReport(c echo.Context) error {
	if h.reports == nil {
		return errNoReports
	}
	info, err := h.reports.Export(c.Request().Context(), "")
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, viewReport(info))
}

// DownloadReport streams an archived workbook.
func (h *Handler) DownloadReport(c echo.Context) error {
	if h.reports == nil {
		return errNoReports
	}
	name := c.Param("name")
	info, rc, err := h.reports.Open(c.Request().Context(), name)
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()
	res := c.Response()
	res.Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	if info.ETag != "" {
		res.Header().Set("ETag", `"`+info.ETag+`"`)
	}
	contentType := info.ContentType
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	return c.Stream(http.StatusOK, contentType, rc)
}

// ReportLink hands out a signed URL when the archive can mint one, and the
// streaming route otherwise.
func (h *Handler) ReportLink(c echo.Context) error {
	if h.reports == nil {
		return errNoReports
	}
	name := c.Param("name")
	url, err := h.reports.Link(c.Request().Context(), name, 0)
	switch {
	case errors.Is(err, report.ErrNoLink):
		return c.JSON(http.StatusOK, reportLink{URL: c.Echo().Reverse("report.download", name), Direct: false})
	case err != nil:
		return err
	}
	return c.JSON(http.StatusOK, reportLink{URL: url, Direct: true})
}

// EncounterSyncHistory lists the revisions of an encounter that reached the
// sync archive and whether the current one is among them.
func (h *Handler) EncounterSyncHistory(c echo.Context) error {
	if h.archive == nil {
		return errNoArchive
	}
	ctx := c.Request().Context()
	enc, err := h.svc.Encounters.Get(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	revs, err := h.archive.History(ctx, domain.KindEncounter, enc.ID)
	if err != nil {
		return err
	}
	archived, err := h.archive.Has(ctx, domain.KindEncounter, enc.ID, enc.Revision)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, syncHistory{
		EncounterID:     enc.ID,
		CurrentRevision: enc.Revision,
		CurrentArchived: archived,
		Revisions:       nonNil(revs),
	})
}

// ArchivedEncounter returns one archived encounter revision as it was shipped.
func (h *Handler) ArchivedEncounter(c echo.Context) error {
	if h.archive == nil {
		return errNoArchive
	}
	m, err := h.archive.Revision(c.Request().Context(), domain.KindEncounter, c.Param("id"), c.Param("rev"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, m)
}
