package interview

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/eleven-am/interview-realtime/internal/engine"
	"github.com/eleven-am/interview-realtime/internal/shared"
	"github.com/labstack/echo/v4"
)

type CreateRequest struct {
	CandidateName  string `json:"candidate_name"`
	Role           string `json:"role"`
	JobDescription string `json:"job_description"`
	Resume         string `json:"resume"`
	Difficulty     string `json:"difficulty"`
	QuestionCount  int    `json:"question_count"`
	Voice          *bool  `json:"voice"`
}

func (r CreateRequest) toPlan() engine.PlanRequest {
	voice := true
	if r.Voice != nil {
		voice = *r.Voice
	}
	return engine.PlanRequest{
		CandidateName:  strings.TrimSpace(r.CandidateName),
		Role:           strings.TrimSpace(r.Role),
		JobDescription: r.JobDescription,
		Resume:         r.Resume,
		Difficulty:     r.Difficulty,
		QuestionCount:  r.QuestionCount,
		Voice:          voice,
	}
}

type AnswerRequest struct {
	Text string `json:"text"`
}

type ListResponse struct {
	Total    int    `json:"total"`
	Sessions []Info `json:"sessions"`
}

type EndResponse struct {
	Session     Info             `json:"session"`
	Feedback    *engine.Feedback `json:"feedback,omitempty"`
	RemoteError string           `json:"remote_error,omitempty"`
}

type RecordingResponse struct {
	Session Info          `json:"session"`
	Answer  *AnswerResult `json:"answer,omitempty"`
}

type Handler struct {
	manager *Manager
	logger  *slog.Logger
}

func NewHandler(manager *Manager, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		manager: manager,
		logger:  logger.With("component", "interview_handler"),
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.DELETE("/:id", h.Remove)
	g.POST("/:id/answers", h.AnswerText)
	g.POST("/:id/recording", h.StartRecording)
	g.DELETE("/:id/recording", h.FinishRecording)
	g.POST("/:id/end", h.End)
}

func (h *Handler) Create(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return shared.BadRequest("invalid_request", "invalid request body")
	}
	if strings.TrimSpace(req.Role) == "" {
		return shared.BadRequest("invalid_request", "role is required")
	}
	if req.QuestionCount < 0 {
		return shared.BadRequest("invalid_request", "question_count must not be negative")
	}

	s, err := h.manager.Create(c.Request().Context(), req.toPlan())
	if err != nil {
		h.logger.Warn("failed to create interview", "error", err)
		return shared.ToHTTP(err)
	}

	return c.JSON(http.StatusCreated, s.Info())
}

func (h *Handler) List(c echo.Context) error {
	infos := h.manager.List()
	return c.JSON(http.StatusOK, ListResponse{Total: len(infos), Sessions: infos})
}

func (h *Handler) Get(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.Info())
}

func (h *Handler) Remove(c echo.Context) error {
	if _, err := h.session(c); err != nil {
		return err
	}
	h.manager.Remove(c.Param("id"))
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) AnswerText(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}

	var req AnswerRequest
	if err := c.Bind(&req); err != nil {
		return shared.BadRequest("invalid_request", "invalid request body")
	}
	if strings.TrimSpace(req.Text) == "" {
		return shared.BadRequest("invalid_request", "text is required")
	}

	if err := s.AnswerText(req.Text); err != nil {
		return shared.ToHTTP(err)
	}
	return c.JSON(http.StatusAccepted, s.Info())
}

// StartRecording opens the microphone. The request context only bounds the
// device acquisition; recording continues after the response.
func (h *Handler) StartRecording(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}

	if err := s.StartAnswer(c.Request().Context(), nil); err != nil {
		return shared.ToHTTP(err)
	}
	return c.JSON(http.StatusAccepted, RecordingResponse{Session: s.Info()})
}

// FinishRecording sends the captured answer, or drops it when discard=true.
func (h *Handler) FinishRecording(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}

	if discard, _ := strconv.ParseBool(c.QueryParam("discard")); discard {
		s.CancelAnswer()
		return c.JSON(http.StatusOK, RecordingResponse{Session: s.Info()})
	}

	result, err := s.FinishAnswer(c.Request().Context())
	if err != nil {
		return shared.ToHTTP(err)
	}

	resp := RecordingResponse{Session: s.Info()}
	if result.Chunks > 0 || result.Pending {
		resp.Answer = &result
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) End(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}

	feedback, err := h.manager.End(context.WithoutCancel(c.Request().Context()), s.ID())
	if err != nil && s.State() != StateEnded {
		return shared.ToHTTP(err)
	}

	resp := EndResponse{Session: s.Info(), Feedback: feedback}
	if err != nil {
		resp.RemoteError = err.Error()
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) session(c echo.Context) (*Session, error) {
	s, ok := h.manager.Get(c.Param("id"))
	if !ok {
		return nil, shared.NotFound("session_not_found", "interview session not found")
	}
	return s, nil
}
