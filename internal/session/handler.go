package session

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/eleven-am/interview-realtime/internal/shared"
	"github.com/labstack/echo/v4"
)

type MetricsListResponse struct {
	Hours   int        `json:"hours"`
	Metrics []*Metrics `json:"metrics"`
}

type SummaryResponse struct {
	Period     string  `json:"period"`
	Interviews int64   `json:"interviews"`
	Questions  int64   `json:"questions"`
	Answers    int64   `json:"answers"`
	Reconnects int64   `json:"reconnects"`
	ErrorRate  float64 `json:"error_rate"`
}

type ListResponse struct {
	Total    int         `json:"total"`
	Sessions []*Snapshot `json:"sessions"`
}

type Handler struct {
	store  *Store
	logger *slog.Logger
}

func NewHandler(store *Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:  store,
		logger: logger.With("component", "session_handler"),
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("", h.List)
	g.GET("/metrics", h.GetMetrics)
	g.GET("/metrics/summary", h.GetSummary)
	g.GET("/:id", h.Get)
	g.GET("/:id/events", h.StreamEvents)
}

func (h *Handler) List(c echo.Context) error {
	snaps, err := h.store.List(c.Request().Context())
	if err != nil {
		h.logger.Error("failed to list sessions", "error", err)
		return shared.InternalError("list_failed", "failed to list sessions")
	}
	if snaps == nil {
		snaps = []*Snapshot{}
	}
	return c.JSON(http.StatusOK, ListResponse{Total: len(snaps), Sessions: snaps})
}

func (h *Handler) Get(c echo.Context) error {
	snap, err := h.store.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.NotFound("session_not_found", "session not found")
		}
		h.logger.Error("failed to get session", "error", err, "session_id", c.Param("id"))
		return shared.InternalError("get_failed", "failed to get session")
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *Handler) GetMetrics(c echo.Context) error {
	hours := 24
	if hoursStr := c.QueryParam("hours"); hoursStr != "" {
		if hr, err := strconv.Atoi(hoursStr); err == nil && hr > 0 && hr <= 168 {
			hours = hr
		}
	}

	metrics, err := h.store.GetMetrics(c.Request().Context(), hours)
	if err != nil {
		h.logger.Error("failed to get metrics", "error", err)
		return shared.InternalError("get_metrics_failed", "failed to get metrics")
	}
	if metrics == nil {
		metrics = []*Metrics{}
	}

	return c.JSON(http.StatusOK, MetricsListResponse{Hours: hours, Metrics: metrics})
}

func (h *Handler) GetSummary(c echo.Context) error {
	metrics, err := h.store.GetMetrics(c.Request().Context(), 7*24)
	if err != nil {
		h.logger.Error("failed to get metrics summary", "error", err)
		return shared.InternalError("get_metrics_failed", "failed to get metrics")
	}

	summary := SummaryResponse{Period: "7d"}
	var errorCount int64
	for _, m := range metrics {
		summary.Interviews += m.Interviews
		summary.Questions += m.Questions
		summary.Answers += m.Answers
		summary.Reconnects += m.Reconnects
		errorCount += m.ErrorCount
	}
	if summary.Interviews > 0 {
		summary.ErrorRate = float64(errorCount) / float64(summary.Interviews) * 100
	}

	return c.JSON(http.StatusOK, summary)
}

// StreamEvents relays a session's events as server-sent events until the
// client goes away.
func (h *Handler) StreamEvents(c echo.Context) error {
	id := c.Param("id")
	ctx := c.Request().Context()

	if _, err := h.store.Get(ctx, id); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.NotFound("session_not_found", "session not found")
		}
		return shared.InternalError("get_failed", "failed to get session")
	}

	sub, err := h.store.Subscribe(ctx, id)
	if err != nil {
		h.logger.Error("failed to subscribe", "error", err, "session_id", id)
		return shared.InternalError("subscribe_failed", "failed to subscribe to session events")
	}
	defer sub.Close()

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	stream, err := newEventStream(c.Response())
	if err != nil {
		return err
	}
	stream.flusher.Flush()

	h.logger.Debug("event stream opened", "session_id", id)
	if err := stream.Run(ctx, sub); err != nil {
		h.logger.Debug("event stream ended", "session_id", id, "error", err)
	}
	return nil
}
