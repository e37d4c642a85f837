package interview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eleven-am/interview-realtime/internal/engine"
	"github.com/eleven-am/interview-realtime/internal/history"
	"github.com/eleven-am/interview-realtime/internal/realtime"
	"github.com/eleven-am/interview-realtime/internal/session"
	"github.com/eleven-am/interview-realtime/internal/shared"
	"github.com/eleven-am/interview-realtime/internal/transport"
	"golang.org/x/time/rate"
)

const (
	persistTimeout    = 2 * time.Second
	levelPublishEvery = 100 * time.Millisecond
)

type ManagerConfig struct {
	Factory Factory
	Engine  Engine
	Session SessionConfig
	// Snapshots and History are optional.
	Snapshots *session.Store
	History   *history.Store
	Log       *slog.Logger
}

// Manager owns every live session of this process and mirrors their state
// into the snapshot store, the event channel and the history table.
type Manager struct {
	factory   Factory
	engine    Engine
	cfg       SessionConfig
	snapshots *session.Store
	history   *history.Store
	log       *slog.Logger

	sessions map[string]*managed
	mu       sync.RWMutex
}

type managed struct {
	session *Session
	levels  *rate.Limiter
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Manager{
		factory:   cfg.Factory,
		engine:    cfg.Engine,
		cfg:       cfg.Session,
		snapshots: cfg.Snapshots,
		history:   cfg.History,
		log:       cfg.Log.With("component", "interview_manager"),
		sessions:  make(map[string]*managed),
	}
}

// Create builds a session, plans the interview and opens its connection.
// A session whose planning fails is closed and not kept.
func (m *Manager) Create(ctx context.Context, req engine.PlanRequest) (*Session, error) {
	id := shared.NewID("iv_")
	log := m.log.With("session_id", id)

	entry := &managed{levels: rate.NewLimiter(rate.Every(levelPublishEvery), 1)}
	s := NewSession(id, m.factory(id, log), m.engine, m.cfg, m.callbacks(), log)
	entry.session = s

	m.mu.Lock()
	m.sessions[id] = entry
	m.mu.Unlock()

	m.incrementMetric(session.MetricInterviews)

	// The record exists before the socket opens so early questions land on it.
	m.createRecord(&history.Record{
		ID:            id,
		CandidateName: req.CandidateName,
		Role:          req.Role,
		Difficulty:    req.Difficulty,
		StartedAt:     s.Info().StartedAt,
	})

	if err := s.Plan(ctx, req); err != nil {
		m.completeRecord(id, history.StatusFailed, "", err.Error())
		m.incrementMetric(session.MetricErrors)
		m.Remove(id)
		return nil, err
	}

	interviewID := s.Info().InterviewID.String()
	m.setInterviewID(id, interviewID)

	m.log.Info("interview session created", "session_id", id, "interview_id", interviewID)
	return s, nil
}

func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return entry.session, true
}

func (m *Manager) lookup(id string) (*Session, error) {
	s, ok := m.Get(id)
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, shared.ErrNotFound)
	}
	return s, nil
}

// End finalizes a session, records the outcome and drops it from the live
// set. The snapshot stays in the store until it expires.
func (m *Manager) End(ctx context.Context, id string) (*engine.Feedback, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}

	feedback, endErr := s.End(ctx)
	if endErr != nil && s.State() != StateEnded {
		return nil, endErr
	}

	status := history.StatusCompleted
	var feedbackText, lastError string
	if feedback != nil && len(feedback.DetailedFeedback) > 0 {
		feedbackText = string(feedback.DetailedFeedback)
	}
	if endErr != nil {
		status = history.StatusFailed
		lastError = endErr.Error()
		m.incrementMetric(session.MetricErrors)
	}
	m.completeRecord(id, status, feedbackText, lastError)

	m.detach(id)
	_ = s.Close()
	return feedback, endErr
}

// Remove closes a session without finalizing it remotely.
func (m *Manager) Remove(id string) {
	entry := m.detach(id)
	if entry == nil {
		return
	}

	if entry.session.State() == StateActive {
		m.completeRecord(id, history.StatusAbandoned, "", "")
	}
	_ = entry.session.Close()
	m.log.Info("interview session removed", "session_id", id)
}

func (m *Manager) detach(id string) *managed {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sessions[id]
	if !ok {
		return nil
	}
	delete(m.sessions, id)
	return entry
}

func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) List() []Info {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, entry := range m.sessions {
		sessions = append(sessions, entry.session)
	}
	m.mu.RUnlock()

	infos := make([]Info, len(sessions))
	for i, s := range sessions {
		infos[i] = s.Info()
	}
	return infos
}

// Close abandons every live session.
func (m *Manager) Close() error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Remove(id)
	}
	return nil
}

func (m *Manager) callbacks() Callbacks {
	return Callbacks{
		OnState:   m.onState,
		OnStatus:  m.onStatus,
		OnMessage: m.onMessage,
		OnAnswer:  m.onAnswer,
		OnLevel:   m.onLevel,
	}
}

func (m *Manager) onState(s *Session, state State) {
	m.persist(s)
	m.publish(session.Event{SessionID: s.ID(), Type: session.EventState, Data: mustJSON(map[string]State{"state": state})})
}

func (m *Manager) onStatus(s *Session, change realtime.StatusChange) {
	if change.Status == realtime.StatusReconnecting && change.Previous != realtime.StatusReconnecting {
		m.incrementMetric(session.MetricReconnects)
	}
	if errors.Is(change.Err, shared.ErrExhaustedRetries) {
		m.incrementMetric(session.MetricErrors)
	}

	payload := map[string]any{
		"status":   change.Status,
		"previous": change.Previous,
		"attempt":  change.Attempt,
	}
	if change.Delay > 0 {
		payload["delay_ms"] = change.Delay.Milliseconds()
	}
	if change.Err != nil {
		payload["error"] = change.Err.Error()
	}

	m.persist(s)
	m.publish(session.Event{SessionID: s.ID(), Type: session.EventConnectionStatus, Data: mustJSON(payload)})
}

func (m *Manager) onMessage(s *Session, msg transport.InboundMessage) {
	evt := session.Event{SessionID: s.ID(), Type: string(msg.Type())}

	switch v := msg.(type) {
	case transport.Question:
		evt.QuestionID = v.QuestionID.String()
		evt.Data = mustJSON(withoutAudio(v))
		m.onQuestion(s, v.QuestionID)
	case transport.FollowUpQuestion:
		evt.QuestionID = v.QuestionID.String()
		evt.Data = mustJSON(withoutFollowUpAudio(v))
		m.onQuestion(s, v.QuestionID)
	case transport.Evaluation:
		evt.QuestionID = v.QuestionID.String()
		evt.Data = v.Payload
	case transport.InterviewComplete:
		evt.Data = v.DetailedFeedback
	case transport.ProtocolError:
		m.incrementMetric(session.MetricErrors)
		evt.Data = mustJSON(v)
	case transport.Unhandled:
		evt.Data = v.Raw
	default:
		evt.Data = mustJSON(v)
	}

	m.publish(evt)
}

func (m *Manager) onQuestion(s *Session, qid transport.ID) {
	m.incrementMetric(session.MetricQuestions)
	m.persist(s)
	if m.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := m.history.AddQuestion(ctx, s.ID(), qid.String()); err != nil {
		m.log.Warn("failed to record question", "session_id", s.ID(), "error", err)
	}
}

func (m *Manager) onAnswer(s *Session, qid transport.ID) {
	m.incrementMetric(session.MetricAnswers)
	m.persist(s)
	m.publish(session.Event{SessionID: s.ID(), Type: session.EventAnswer, QuestionID: qid.String()})
	if m.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := m.history.IncrementAnswers(ctx, s.ID()); err != nil {
		m.log.Warn("failed to record answer", "session_id", s.ID(), "error", err)
	}
}

func (m *Manager) onLevel(s *Session, level float64) {
	m.mu.RLock()
	entry, ok := m.sessions[s.ID()]
	m.mu.RUnlock()
	if !ok || !entry.levels.Allow() {
		return
	}
	m.publish(session.Event{SessionID: s.ID(), Type: session.EventLevel, Data: mustJSON(map[string]float64{"level": level})})
}

func (m *Manager) persist(s *Session) {
	if m.snapshots == nil {
		return
	}
	info := s.Info()
	snap := &session.Snapshot{
		ID:               info.ID,
		InterviewID:      info.InterviewID.String(),
		State:            string(info.State),
		ConnectionStatus: string(info.ConnectionStatus),
		Endpoint:         info.Endpoint,
		QuestionsAsked:   info.QuestionsAsked,
		AnswersSent:      info.AnswersSent,
		Recording:        info.Recording,
		LastError:        info.LastError,
		StartedAt:        info.StartedAt,
	}
	if info.Question != nil {
		snap.CurrentQuestionID = info.Question.ID.String()
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := m.snapshots.Save(ctx, snap); err != nil {
		m.log.Warn("failed to save snapshot", "session_id", s.ID(), "error", err)
	}
}

func (m *Manager) publish(evt session.Event) {
	if m.snapshots == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := m.snapshots.Publish(ctx, evt); err != nil {
		m.log.Warn("failed to publish event", "session_id", evt.SessionID, "type", evt.Type, "error", err)
	}
}

func (m *Manager) incrementMetric(field string) {
	if m.snapshots == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := m.snapshots.IncrementMetric(ctx, field, 1); err != nil {
		m.log.Debug("failed to increment metric", "field", field, "error", err)
	}
}

func (m *Manager) createRecord(r *history.Record) {
	if m.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := m.history.Create(ctx, r); err != nil {
		m.log.Warn("failed to create history record", "session_id", r.ID, "error", err)
	}
}

func (m *Manager) setInterviewID(id, interviewID string) {
	if m.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := m.history.SetInterviewID(ctx, id, interviewID); err != nil {
		m.log.Warn("failed to record interview id", "session_id", id, "error", err)
	}
}

func (m *Manager) completeRecord(id string, status history.Status, feedback, lastError string) {
	if m.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := m.history.Complete(ctx, id, status, feedback, lastError); err != nil {
		m.log.Warn("failed to complete history record", "session_id", id, "error", err)
	}
}

// Question audio is large and already played locally, so observers get
// the text only.
func withoutAudio(q transport.Question) transport.Question {
	q.AudioData = ""
	return q
}

func withoutFollowUpAudio(q transport.FollowUpQuestion) transport.FollowUpQuestion {
	q.AudioData = ""
	return q
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
