package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"policy_reminder/internal/app"
	"policy_reminder/internal/domain/reminder"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
)

const defaultRunTimeout = 10 * time.Minute

type runReportResponse struct {
	RunID         string    `json:"runId"`
	StartedAt     time.Time `json:"startedAt"`
	FinishedAt    time.Time `json:"finishedAt"`
	DurationMs    int64     `json:"durationMs"`
	Batches       int       `json:"batches"`
	BatchesSent   int       `json:"batchesSent"`
	BatchesFailed int       `json:"batchesFailed"`
	ItemsMarked   int       `json:"itemsMarked"`
	ItemsSkipped  int       `json:"itemsSkipped"`
	Error         string    `json:"error,omitempty"`
}

func toResponse(r *reminder.RunReport) runReportResponse {
	resp := runReportResponse{
		RunID:         r.RunID,
		StartedAt:     r.StartedAt,
		FinishedAt:    r.FinishedAt,
		DurationMs:    r.Duration().Milliseconds(),
		Batches:       r.Batches,
		BatchesSent:   r.BatchesSent,
		BatchesFailed: r.BatchesFailed,
		ItemsMarked:   r.ItemsMarked,
		ItemsSkipped:  r.ItemsSkipped,
	}
	if r.Err != nil {
		resp.Error = r.Err.Error()
	}
	return resp
}

type previewItem struct {
	CustomerID   string    `json:"customerId"`
	CustomerName string    `json:"customerName"`
	Type         string    `json:"type"`
	Index        int       `json:"index"`
	Label        string    `json:"label"`
	ExpiryDate   time.Time `json:"expiryDate"`
}

type previewBatch struct {
	RecipientEmail string        `json:"email"`
	Items          []previewItem `json:"items"`
}

type previewResponse struct {
	WithinDays   int            `json:"withinDays"`
	CooldownDays int            `json:"cooldownDays"`
	Batches      []previewBatch `json:"batches"`
}

type reminderHandler struct {
	trigger    app.ReminderTrigger
	scanner    app.ReminderScanner
	window     reminder.Window
	runTimeout time.Duration
	logger     *logrus.Entry
}

// Preview lists what the next run would send. Query parameters withinDays
// and cooldownDays override the configured window.
func (h *reminderHandler) Preview(c echo.Context) error {
	within, cooldown := h.window.WithinDays, h.window.CooldownDays
	err := echo.QueryParamsBinder(c).
		Int("withinDays", &within).
		Int("cooldownDays", &cooldown).
		BindError()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "withinDays and cooldownDays must be integers")
	}

	batches, err := h.scanner.Scan(c.Request().Context(), within, cooldown)
	if err != nil {
		if errors.Is(err, reminder.ErrInvalidWindow) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		h.logger.WithError(err).Error("Reminder preview failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "could not scan customers")
	}

	resp := previewResponse{WithinDays: within, CooldownDays: cooldown, Batches: make([]previewBatch, 0, len(batches))}
	for _, b := range batches {
		pb := previewBatch{RecipientEmail: b.RecipientEmail, Items: make([]previewItem, 0, len(b.Items))}
		for _, it := range b.Items {
			pb.Items = append(pb.Items, previewItem{
				CustomerID:   it.CustomerID,
				CustomerName: it.CustomerName,
				Type:         string(it.Section),
				Index:        it.Index,
				Label:        it.Label,
				ExpiryDate:   it.ExpiryDate,
			})
		}
		resp.Batches = append(resp.Batches, pb)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *reminderHandler) LastRun(c echo.Context) error {
	report := h.trigger.LastReport()
	if report == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no reminder run has finished yet")
	}
	return c.JSON(http.StatusOK, toResponse(report))
}

func (h *reminderHandler) Run(c echo.Context) error {
	// The run outlives a dropped client connection.
	ctx, cancel := context.WithTimeout(context.Background(), h.runTimeout)
	defer cancel()

	report, err := h.trigger.RunNow(ctx)
	if err != nil {
		if errors.Is(err, reminder.ErrRunInProgress) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		h.logger.WithError(err).Error("Manual reminder run failed")
		if report != nil {
			return c.JSON(http.StatusInternalServerError, toResponse(report))
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, toResponse(report))
}

// Options wires the ops API to the reminder job.
type Options struct {
	Trigger    app.ReminderTrigger
	Scanner    app.ReminderScanner
	Window     reminder.Window // defaults for the preview endpoint
	RunTimeout time.Duration   // bound of a manual run, 10m when zero
	AdminToken string
	Logger     *logrus.Entry
}

// NewRouter builds the operational HTTP API. Manual runs and previews are
// only reachable with the admin bearer token; without a token they are disabled.
func NewRouter(opts Options) *echo.Echo {
	logger := opts.Logger
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.WithFields(logrus.Fields{
				"method":  v.Method,
				"uri":     v.URI,
				"status":  v.Status,
				"latency": v.Latency.String(),
			}).Debug("HTTP request")
			return nil
		},
	}))

	runTimeout := opts.RunTimeout
	if runTimeout <= 0 {
		runTimeout = defaultRunTimeout
	}
	h := &reminderHandler{
		trigger:    opts.Trigger,
		scanner:    opts.Scanner,
		window:     opts.Window,
		runTimeout: runTimeout,
		logger:     logger,
	}

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	grp := e.Group("/api/reminders")
	grp.GET("/last-run", h.LastRun)

	var guard echo.MiddlewareFunc
	if opts.AdminToken == "" {
		guard = func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error {
				return echo.NewHTTPError(http.StatusForbidden, "admin endpoints are disabled")
			}
		}
	} else {
		guard = middleware.KeyAuth(func(key string, c echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), []byte(opts.AdminToken)) == 1, nil
		})
	}
	grp.POST("/run", h.Run, guard)
	grp.GET("/preview", h.Preview, guard)
	return e
}
