package history

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/eleven-am/interview-realtime/internal/shared"
	"github.com/labstack/echo/v4"
)

type ListResponse struct {
	Records []*Record `json:"records"`
	Limit   int       `json:"limit"`
	Offset  int       `json:"offset"`
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
		logger: logger.With("component", "history_handler"),
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.DELETE("/:id", h.Delete)
}

func (h *Handler) List(c echo.Context) error {
	limit := 20
	if v, err := strconv.Atoi(c.QueryParam("limit")); err == nil && v > 0 && v <= 100 {
		limit = v
	}
	offset := 0
	if v, err := strconv.Atoi(c.QueryParam("offset")); err == nil && v >= 0 {
		offset = v
	}

	var status *Status
	if s := c.QueryParam("status"); s != "" {
		st := Status(s)
		switch st {
		case StatusPlanned, StatusCompleted, StatusFailed, StatusAbandoned:
			status = &st
		default:
			return shared.BadRequest("invalid_status", "unknown status filter")
		}
	}

	records, err := h.store.List(c.Request().Context(), status, limit, offset)
	if err != nil {
		h.logger.Error("failed to list records", "error", err)
		return shared.InternalError("list_failed", "failed to list interviews")
	}
	if records == nil {
		records = []*Record{}
	}

	return c.JSON(http.StatusOK, ListResponse{Records: records, Limit: limit, Offset: offset})
}

func (h *Handler) Get(c echo.Context) error {
	r, err := h.store.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.NotFound("record_not_found", "interview record not found")
		}
		h.logger.Error("failed to get record", "error", err, "id", c.Param("id"))
		return shared.InternalError("get_failed", "failed to get interview record")
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) Delete(c echo.Context) error {
	if err := h.store.Delete(c.Request().Context(), c.Param("id")); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.NotFound("record_not_found", "interview record not found")
		}
		h.logger.Error("failed to delete record", "error", err, "id", c.Param("id"))
		return shared.InternalError("delete_failed", "failed to delete interview record")
	}
	return c.NoContent(http.StatusNoContent)
}
