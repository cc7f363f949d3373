// Package httpapi exposes the clinic workflow over JSON HTTP for the station
// front-ends.
package httpapi

import (
	"context"
	"net/http"

	"clinicflow/internal/clinical"
	"clinicflow/internal/core"
	"clinicflow/internal/formulary"
	"clinicflow/internal/replication"
	"clinicflow/internal/report"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Deps are the collaborators behind the routes. Everything but Service is
// optional; routes whose collaborator is unset answer 503.
type Deps struct {
	Service   *core.Service
	Assistant clinical.Assistant
	Formulary *formulary.Catalog
	Reports   *report.Exporter
	// Archive reads the blob sync archive behind /encounters/:id/archive.
	Archive *replication.Archive
	Metrics   HTTPMetrics
	// MetricsHandler serves GET /metrics when set.
	MetricsHandler http.Handler
	// Ready reports backend health for GET /healthz.
	Ready  func(context.Context) error
	Logger zerolog.Logger
}

// NewServer builds an echo instance with middleware and every route registered.
func NewServer(deps Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	e.Use(RequestID())
	e.Use(Logger(deps.Logger))
	e.Use(Recovery(deps.Logger))
	if deps.Metrics != nil {
		e.Use(Metrics(deps.Metrics))
	}

	e.GET("/healthz", healthz(deps.Ready))
	if deps.MetricsHandler != nil {
		e.GET("/metrics", echo.WrapHandler(deps.MetricsHandler))
	}

	h := NewHandler(deps)
	h.RegisterRoutes(e.Group("/api/v1"))
	return e
}

func healthz(ready func(context.Context) error) echo.HandlerFunc {
	return func(c echo.Context) error {
		if ready != nil {
			if err := ready(c.Request().Context()); err != nil {
				return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			}
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}
}
