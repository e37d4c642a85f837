package interview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/eleven-am/interview-realtime/internal/audio"
	"github.com/eleven-am/interview-realtime/internal/engine"
	"github.com/eleven-am/interview-realtime/internal/realtime"
	"github.com/eleven-am/interview-realtime/internal/shared"
	"github.com/eleven-am/interview-realtime/internal/transport"
	"golang.org/x/sync/errgroup"
)

const (
	defaultChunkSize     = 32 * 1024
	defaultUploadTimeout = 30 * time.Second
)

type SessionConfig struct {
	// ChunkSize bounds the raw bytes carried by one audio_chunk frame.
	ChunkSize        int
	UploadRecordings bool
	UploadTimeout    time.Duration
}

func normalizeSessionConfig(cfg SessionConfig) SessionConfig {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = defaultUploadTimeout
	}
	return cfg
}

// Session drives one interview from planning to feedback. It owns its
// connection, recorder and speaker and releases all of them on End or Close.
type Session struct {
	id        string
	cfg       SessionConfig
	engine    Engine
	conn      Connection
	recorder  Recorder
	speaker   Speaker
	callbacks Callbacks
	log       *slog.Logger

	ctx        context.Context
	cancel     context.CancelFunc
	prompts    chan string
	workers    sync.WaitGroup
	background errgroup.Group
	sendMu     sync.Mutex

	mu             sync.Mutex
	state          State
	interviewID    transport.ID
	endpoint       string
	current        transport.ID
	question       *Question
	questionsAsked int
	answersSent    int
	pending        []*pendingAnswer
	lastErr        error
	startedAt      time.Time
	unsubscribe    func()
	closed         bool
}

func NewSession(id string, comps Components, eng Engine, cfg SessionConfig, callbacks Callbacks, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		id:        id,
		cfg:       normalizeSessionConfig(cfg),
		engine:    eng,
		conn:      comps.Conn,
		recorder:  comps.Recorder,
		speaker:   comps.Speaker,
		callbacks: callbacks,
		log:       log.With("session_id", id),
		ctx:       ctx,
		cancel:    cancel,
		prompts:   make(chan string, 4),
		state:     StateNotStarted,
		startedAt: time.Now(),
	}

	s.unsubscribe = s.conn.Subscribe(s.onStatus)
	s.registerHandlers()

	s.workers.Add(1)
	go s.promptLoop()

	return s
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CurrentQuestionID is the id every outbound answer is correlated with.
func (s *Session) CurrentQuestionID() transport.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Session) Info() Info {
	s.mu.Lock()
	info := Info{
		ID:             s.id,
		InterviewID:    s.interviewID,
		State:          s.state,
		Endpoint:       s.endpoint,
		QuestionsAsked: s.questionsAsked,
		AnswersSent:    s.answersSent,
		PendingAnswers: len(s.pending),
		StartedAt:      s.startedAt,
	}
	if s.question != nil {
		q := *s.question
		info.Question = &q
	}
	if s.lastErr != nil {
		info.LastError = s.lastErr.Error()
	}
	s.mu.Unlock()

	info.ConnectionStatus = s.conn.Status()
	info.Recording = s.recorder.IsRecording()
	info.Playing = s.speaker.Active()
	return info
}

// Plan requests an interview plan and opens the realtime connection. On
// failure the session returns to NotStarted and the connection is left
// disconnected.
func (s *Session) Plan(ctx context.Context, req engine.PlanRequest) error {
	s.mu.Lock()
	if s.closed || s.state != StateNotStarted {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot plan while %s", shared.ErrInvalidState, state)
	}
	s.state = StatePlanning
	s.lastErr = nil
	s.mu.Unlock()
	s.emitState(StatePlanning)

	if err := s.conn.MarkPlanning(); err != nil {
		s.abortPlan(err)
		return err
	}

	plan, err := s.engine.PlanInterview(ctx, req)
	if err != nil {
		err = fmt.Errorf("plan interview: %w", err)
		s.abortPlan(err)
		return err
	}

	s.mu.Lock()
	if s.closed || s.state != StatePlanning {
		s.mu.Unlock()
		return fmt.Errorf("%w: session closed while planning", shared.ErrInvalidState)
	}
	s.interviewID = plan.InterviewID
	s.endpoint = plan.Endpoint
	// The engine may send the first question as soon as the socket opens.
	s.state = StateActive
	s.mu.Unlock()

	if err := s.conn.Connect(plan.Endpoint); err != nil {
		err = fmt.Errorf("open interview connection: %w", err)
		s.abortPlan(err)
		return err
	}
	s.emitState(StateActive)

	s.log.Info("interview planned", "interview_id", plan.InterviewID, "endpoint", plan.Endpoint)
	return nil
}

func (s *Session) abortPlan(err error) {
	s.conn.Disconnect()

	s.mu.Lock()
	s.interviewID = transport.ID{}
	s.endpoint = ""
	s.lastErr = err
	reverted := !s.closed
	if reverted {
		s.state = StateNotStarted
	}
	s.mu.Unlock()

	s.log.Warn("planning failed", "error", err)
	if reverted {
		s.emitState(StateNotStarted)
	}
}

// registerHandlers installs one handler per inbound type. Registrations live
// in the connection, so they apply to every reopened socket.
func (s *Session) registerHandlers() {
	s.conn.Register(transport.MessageTypeQuestion, s.onQuestion)
	s.conn.Register(transport.MessageTypeFollowUpQuestion, s.onQuestion)
	s.conn.Register(transport.MessageTypeError, s.onProtocolError)
	for _, t := range []transport.MessageType{
		transport.MessageTypeTranscription,
		transport.MessageTypeTranscriptionResult,
		transport.MessageTypeVoiceMetrics,
		transport.MessageTypeEvaluation,
		transport.MessageTypeInterviewComplete,
	} {
		s.conn.Register(t, s.forward)
	}
}

func (s *Session) onQuestion(msg transport.InboundMessage) {
	var (
		q      Question
		prompt string
	)
	switch m := msg.(type) {
	case transport.Question:
		q = Question{ID: m.QuestionID, Text: m.Text, Kind: m.QuestionType, Difficulty: m.Difficulty}
		prompt = m.AudioData
	case transport.FollowUpQuestion:
		q = Question{ID: m.QuestionID, ParentID: m.ParentQuestionID, Text: m.Text, FollowUp: true}
		prompt = m.AudioData
	default:
		return
	}
	q.AskedAt = time.Now()

	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		s.log.Debug("ignoring question outside active state", "question_id", q.ID)
		return
	}
	s.current = q.ID
	s.question = &q
	s.questionsAsked++
	s.mu.Unlock()

	s.log.Info("question received", "question_id", q.ID, "follow_up", q.FollowUp)

	if prompt != "" {
		s.queuePrompt(prompt)
	}
	s.forward(msg)
}

func (s *Session) onProtocolError(msg transport.InboundMessage) {
	if perr, ok := msg.(transport.ProtocolError); ok {
		s.mu.Lock()
		s.lastErr = perr
		s.mu.Unlock()
		s.log.Warn("engine reported error", "code", perr.Code, "message", perr.Message)
	}
	s.forward(msg)
}

func (s *Session) forward(msg transport.InboundMessage) {
	if s.callbacks.OnMessage != nil {
		s.callbacks.OnMessage(s, msg)
	}
}

func (s *Session) onStatus(change realtime.StatusChange) {
	if errors.Is(change.Err, shared.ErrExhaustedRetries) {
		s.mu.Lock()
		s.lastErr = change.Err
		s.mu.Unlock()
		s.log.Error("connection lost", "error", change.Err)
	}
	if change.Status == realtime.StatusConnected && s.hasPending() {
		s.resendPending()
	}
	if s.callbacks.OnStatus != nil {
		s.callbacks.OnStatus(s, change)
	}
}

// queuePrompt hands question audio to the prompt loop, keeping only the most
// recent prompt when several arrive before playback starts.
func (s *Session) queuePrompt(encoded string) {
	for {
		select {
		case s.prompts <- encoded:
			return
		case <-s.ctx.Done():
			return
		default:
		}
		select {
		case <-s.prompts:
		default:
		}
	}
}

func (s *Session) promptLoop() {
	defer s.workers.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case encoded := <-s.prompts:
			for latest := true; latest; {
				select {
				case newer := <-s.prompts:
					encoded = newer
				default:
					latest = false
				}
			}
			if err := s.speaker.Play(s.ctx, encoded); err != nil {
				s.log.Warn("question playback failed", "error", err)
			}
		}
	}
}

func (s *Session) answerTarget() (transport.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return transport.ID{}, fmt.Errorf("%w: session is %s", shared.ErrInvalidState, s.state)
	}
	if s.current.IsZero() {
		return transport.ID{}, fmt.Errorf("%w: no question to answer", shared.ErrInvalidState)
	}
	return s.current, nil
}

// AnswerText sends a typed answer for the current question.
func (s *Session) AnswerText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("%w: empty answer", shared.ErrInvalidState)
	}

	qid, err := s.answerTarget()
	if err != nil {
		return err
	}

	if err := s.conn.Send(transport.TextAnswer{QuestionID: qid, Text: text}); err != nil {
		return err
	}

	s.recordAnswer(qid)
	return nil
}

// StartAnswer opens the microphone for a spoken answer. onLevel, when set,
// receives normalized input levels until FinishAnswer or CancelAnswer.
func (s *Session) StartAnswer(ctx context.Context, onLevel func(float64)) error {
	if _, err := s.answerTarget(); err != nil {
		return err
	}

	s.speaker.Stop()

	return s.recorder.StartRecording(ctx, func(level float64) {
		if onLevel != nil {
			onLevel(level)
		}
		if s.callbacks.OnLevel != nil {
			s.callbacks.OnLevel(s, level)
		}
	})
}

type pendingAnswer struct {
	questionID transport.ID
	wav        []byte
	chunks     [][]byte
}

// FinishAnswer stops the microphone, converts the capture to mono 16 kHz
// PCM16 and streams it as audio_chunk frames. A recording with no audio
// sends nothing and returns a zero result. When the connection is down the
// converted answer is kept and the result is marked Pending.
func (s *Session) FinishAnswer(ctx context.Context) (AnswerResult, error) {
	raw, err := s.recorder.StopRecording()
	if err != nil {
		return AnswerResult{}, err
	}
	if len(raw) == 0 {
		return AnswerResult{}, nil
	}

	qid, err := s.answerTarget()
	if err != nil {
		return AnswerResult{}, err
	}

	wav, err := audio.ToMono16kPCM16(raw)
	if err != nil {
		return AnswerResult{}, err
	}

	chunks, err := audio.SplitChunks(wav, s.cfg.ChunkSize)
	if err != nil {
		return AnswerResult{}, fmt.Errorf("%w: %v", shared.ErrEncoding, err)
	}

	ans := &pendingAnswer{questionID: qid, wav: wav, chunks: chunks}
	s.mu.Lock()
	s.pending = append(s.pending, ans)
	s.mu.Unlock()

	result := AnswerResult{QuestionID: qid}
	if err := s.deliverPending(ctx); err != nil {
		result.Pending = true
		if errors.Is(err, shared.ErrNotConnected) || errors.Is(err, shared.ErrConnection) {
			s.log.Info("audio answer queued until reconnect", "question_id", qid, "error", err)
			return result, nil
		}
		return result, err
	}

	for _, chunk := range chunks {
		result.Chunks++
		result.Bytes += len(chunk)
	}
	return result, nil
}

func (s *Session) hasPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) > 0
}

func (s *Session) resendPending() {
	if s.ctx.Err() != nil {
		return
	}
	s.background.Go(func() error {
		if err := s.deliverPending(s.ctx); err != nil {
			s.log.Warn("resending queued answers failed", "error", err)
		}
		return nil
	})
}

// deliverPending sends queued answers in order. An answer leaves the queue
// only after its final chunk is written, so a failed send is repeated in
// full from chunk 0 on the next attempt.
func (s *Session) deliverPending(ctx context.Context) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.mu.Unlock()
			return nil
		}
		ans := s.pending[0]
		s.mu.Unlock()

		if err := s.sendChunks(ctx, ans); err != nil {
			return err
		}

		s.mu.Lock()
		if len(s.pending) > 0 && s.pending[0] == ans {
			s.pending = s.pending[1:]
		}
		s.mu.Unlock()

		s.recordAnswer(ans.questionID)
		s.log.Info("audio answer sent", "question_id", ans.questionID, "chunks", len(ans.chunks), "bytes", len(ans.wav))

		if s.cfg.UploadRecordings {
			s.uploadRecording(ans.questionID, ans.wav)
		}
	}
}

func (s *Session) sendChunks(ctx context.Context, ans *pendingAnswer) error {
	for i, chunk := range ans.chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := transport.AudioChunk{
			QuestionID: ans.questionID,
			Audio:      chunk,
			ChunkIndex: i,
			IsFinal:    i == len(ans.chunks)-1,
		}
		if err := s.conn.Send(msg); err != nil {
			return fmt.Errorf("send chunk %d/%d: %w", i+1, len(ans.chunks), err)
		}
	}
	return nil
}

// CancelAnswer discards an in-progress recording.
func (s *Session) CancelAnswer() {
	s.recorder.Cleanup()
}

func (s *Session) recordAnswer(qid transport.ID) {
	s.mu.Lock()
	s.answersSent++
	s.mu.Unlock()

	if s.callbacks.OnAnswer != nil {
		s.callbacks.OnAnswer(s, qid)
	}
}

func (s *Session) uploadRecording(qid transport.ID, wav []byte) {
	s.mu.Lock()
	interviewID := s.interviewID
	s.mu.Unlock()

	s.background.Go(func() error {
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.UploadTimeout)
		defer cancel()
		if err := s.engine.UploadRecording(ctx, interviewID, qid, wav); err != nil {
			s.log.Warn("recording upload failed", "question_id", qid, "error", err)
		}
		return nil
	})
}

// End finalizes the interview remotely and then releases local resources
// whatever the remote call returned. The feedback and the remote error are
// both returned.
func (s *Session) End(ctx context.Context) (*engine.Feedback, error) {
	s.mu.Lock()
	switch s.state {
	case StatePlanning, StateEnding, StateEnded:
		state := s.state
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot end while %s", shared.ErrInvalidState, state)
	}
	prev := s.state
	s.state = StateEnding
	interviewID := s.interviewID
	s.mu.Unlock()
	s.emitState(StateEnding)

	var (
		feedback  *engine.Feedback
		remoteErr error
	)
	if prev == StateActive && !interviewID.IsZero() {
		feedback, remoteErr = s.engine.StopInterview(ctx, interviewID)
		if remoteErr != nil {
			remoteErr = fmt.Errorf("stop interview: %w", remoteErr)
			s.log.Warn("remote finalize failed", "interview_id", interviewID, "error", remoteErr)
		}
	}

	s.release()

	s.mu.Lock()
	s.interviewID = transport.ID{}
	s.endpoint = ""
	s.current = transport.ID{}
	s.question = nil
	if remoteErr != nil {
		s.lastErr = remoteErr
	}
	s.state = StateEnded
	s.mu.Unlock()
	s.emitState(StateEnded)

	s.log.Info("interview ended", "interview_id", interviewID)
	return feedback, remoteErr
}

func (s *Session) release() {
	s.mu.Lock()
	dropped := len(s.pending)
	s.pending = nil
	s.mu.Unlock()
	if dropped > 0 {
		s.log.Warn("dropping undelivered audio answers", "count", dropped)
	}

	s.recorder.Cleanup()
	s.speaker.Stop()
	s.conn.Disconnect()
}

// Close releases everything the session owns without contacting the
// engine. It is safe to call after End and more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	unsubscribe := s.unsubscribe
	s.mu.Unlock()

	s.cancel()
	s.release()
	if unsubscribe != nil {
		unsubscribe()
	}
	s.conn.Close()

	s.workers.Wait()
	_ = s.background.Wait()

	s.mu.Lock()
	changed := s.state != StateEnded
	s.state = StateEnded
	s.current = transport.ID{}
	s.mu.Unlock()
	if changed {
		s.emitState(StateEnded)
	}
	return nil
}

func (s *Session) emitState(state State) {
	if s.callbacks.OnState != nil {
		s.callbacks.OnState(s, state)
	}
}
