package mockengine

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eleven-am/interview-realtime/internal/audio"
	"github.com/eleven-am/interview-realtime/internal/engine"
	"github.com/eleven-am/interview-realtime/internal/transport"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 512 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

var defaultQuestions = []string{
	"Tell me about a system you designed end to end.",
	"How do you approach debugging a production incident?",
	"Describe a time you disagreed with a technical decision.",
}

// Server is a scripted stand-in for the interview engine. It plans
// interviews, asks a fixed list of questions over the websocket and
// evaluates every answer it receives.
type Server struct {
	questions []string
	logger    *slog.Logger

	nextID     atomic.Int64
	mu         sync.Mutex
	interviews map[int64]*interviewState
}

type interviewState struct {
	req        engine.PlanRequest
	asked      int
	answers    int
	recordings int
	stopped    bool
}

func New(questions []string, logger *slog.Logger) *Server {
	if len(questions) == 0 {
		questions = defaultQuestions
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		questions:  questions,
		logger:     logger.With("component", "mock_engine"),
		interviews: make(map[int64]*interviewState),
	}
}

func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", s.Health)
	e.POST("/interviews/plan", s.Plan)
	e.POST("/interviews/:id/stop", s.Stop)
	e.POST("/interviews/:id/recordings", s.Upload)
	e.GET("/ws/interview/:id", s.Connect)
}

func (s *Server) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) Plan(c echo.Context) error {
	var req engine.PlanRequest
	if err := c.Bind(&req); err != nil || req.Role == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "role is required")
	}

	id := s.nextID.Add(1)
	s.mu.Lock()
	s.interviews[id] = &interviewState{req: req}
	s.mu.Unlock()

	s.logger.Info("interview planned", "interview_id", id, "role", req.Role)
	return c.JSON(http.StatusOK, map[string]any{
		"interview_id":  id,
		"websocket_url": fmt.Sprintf("/ws/interview/%d", id),
	})
}

func (s *Server) Stop(c echo.Context) error {
	id, state, err := s.lookup(c)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if state.stopped {
		s.mu.Unlock()
		return echo.NewHTTPError(http.StatusConflict, "interview already stopped")
	}
	state.stopped = true
	feedback, _ := json.Marshal(map[string]any{
		"questions_asked": state.asked,
		"answers":         state.answers,
		"recordings":      state.recordings,
	})
	s.mu.Unlock()

	return c.JSON(http.StatusOK, engine.Feedback{
		InterviewID:      transport.NumericID(id),
		Status:           "completed",
		DetailedFeedback: feedback,
	})
}

func (s *Server) Upload(c echo.Context) error {
	_, state, err := s.lookup(c)
	if err != nil {
		return err
	}
	if _, err := c.FormFile("audio"); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "audio file is required")
	}

	s.mu.Lock()
	state.recordings++
	s.mu.Unlock()
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) Connect(c echo.Context) error {
	id, state, err := s.lookup(c)
	if err != nil {
		return err
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return err
	}

	conn := &interviewConn{ws: ws, server: s, id: id, state: state, logger: s.logger.With("interview_id", id)}
	conn.run()
	return nil
}

func (s *Server) lookup(c echo.Context) (int64, *interviewState, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, nil, echo.NewHTTPError(http.StatusBadRequest, "invalid interview id")
	}
	s.mu.Lock()
	state, ok := s.interviews[id]
	s.mu.Unlock()
	if !ok {
		return 0, nil, echo.NewHTTPError(http.StatusNotFound, "interview not found")
	}
	return id, state, nil
}

type interviewConn struct {
	ws     *websocket.Conn
	server *Server
	id     int64
	state  *interviewState
	logger *slog.Logger

	audio []byte
}

type clientFrame struct {
	Type       transport.MessageType `json:"type"`
	QuestionID transport.ID          `json:"question_id"`
	AnswerText string                `json:"answer_text"`
	AudioData  string                `json:"audio_data"`
	ChunkIndex int                   `json:"chunk_index"`
	IsFinal    bool                  `json:"is_final"`
}

func (c *interviewConn) run() {
	defer c.ws.Close()
	c.ws.SetReadLimit(maxMessageSize)

	if !c.askNext() {
		return
	}

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("websocket read error", "error", err)
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.write(map[string]any{"type": transport.MessageTypeError, "code": 400, "message": "malformed frame"})
			continue
		}

		if !c.handle(frame) {
			return
		}
	}
}

// handle returns false once the interview is over.
func (c *interviewConn) handle(frame clientFrame) bool {
	switch frame.Type {
	case transport.MessageTypeTextAnswer:
		return c.evaluate(frame.QuestionID, len(frame.AnswerText))
	case transport.MessageTypeAudioChunk:
		chunk, err := base64.StdEncoding.DecodeString(frame.AudioData)
		if err != nil {
			c.write(map[string]any{"type": transport.MessageTypeError, "code": 400, "message": "invalid audio_data"})
			return true
		}
		c.audio = append(c.audio, chunk...)
		if !frame.IsFinal {
			return true
		}
		size := len(c.audio)
		c.audio = nil
		c.write(map[string]any{
			"type": transport.MessageTypeTranscriptionResult,
			"text": fmt.Sprintf("received %d bytes of audio", size),
			"voice_metrics": map[string]any{
				"fluency_score":     0.8,
				"speaking_rate_wpm": 140,
				"real_time":         false,
			},
		})
		return c.evaluate(frame.QuestionID, size)
	default:
		c.write(map[string]any{"type": transport.MessageTypeError, "code": 422, "message": "unsupported frame type " + string(frame.Type)})
		return true
	}
}

func (c *interviewConn) evaluate(questionID transport.ID, size int) bool {
	c.server.mu.Lock()
	c.state.answers++
	c.server.mu.Unlock()

	score := 5
	if size > 64 {
		score = 8
	}
	c.write(map[string]any{
		"type":        transport.MessageTypeEvaluation,
		"question_id": questionID,
		"score":       score,
	})
	return c.askNext()
}

// askNext sends the next question or, when the list is exhausted, the
// completion message followed by a normal close.
func (c *interviewConn) askNext() bool {
	c.server.mu.Lock()
	idx := c.state.asked
	voice := c.state.req.Voice
	total := len(c.server.questions)
	if c.state.req.QuestionCount > 0 && c.state.req.QuestionCount < total {
		total = c.state.req.QuestionCount
	}
	if idx < total {
		c.state.asked++
	}
	answers := c.state.answers
	c.server.mu.Unlock()

	if idx >= total {
		c.write(map[string]any{
			"type":              transport.MessageTypeInterviewComplete,
			"detailed_feedback": map[string]any{"answers": answers},
		})
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "interview complete"),
			time.Now().Add(writeWait))
		return false
	}

	msg := map[string]any{
		"type":          transport.MessageTypeQuestion,
		"question_id":   idx + 1,
		"text":          c.server.questions[idx],
		"question_type": "behavioral",
		"difficulty":    c.state.req.Difficulty,
	}
	if voice {
		msg["audio_data"] = promptAudio(idx)
	}
	return c.write(msg)
}

func (c *interviewConn) write(v any) bool {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(v); err != nil {
		c.logger.Warn("websocket write failed", "error", err)
		return false
	}
	return true
}

// promptAudio renders a short beep whose pitch identifies the question.
func promptAudio(idx int) string {
	const rate = 16000
	freq := 440.0 + 110.0*float64(idx)
	pcm := make([]int16, rate/4)
	for i := range pcm {
		pcm[i] = int16(8000 * math.Sin(2*math.Pi*freq*float64(i)/rate))
	}
	wav, err := audio.EncodeWAV(pcm, rate, 1)
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(wav)
}
