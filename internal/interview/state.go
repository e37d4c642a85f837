package interview

import (
	"time"

	"github.com/eleven-am/interview-realtime/internal/realtime"
	"github.com/eleven-am/interview-realtime/internal/transport"
)

type State string

const (
	StateNotStarted State = "not_started"
	StatePlanning   State = "planning"
	StateActive     State = "active"
	StateEnding     State = "ending"
	StateEnded      State = "ended"
)

// Question is the question currently awaiting an answer.
type Question struct {
	ID         transport.ID `json:"id"`
	ParentID   transport.ID `json:"parent_id,omitzero"`
	Text       string       `json:"text"`
	Kind       string       `json:"kind,omitempty"`
	Difficulty string       `json:"difficulty,omitempty"`
	FollowUp   bool         `json:"follow_up"`
	AskedAt    time.Time    `json:"asked_at"`
}

// Info is a point-in-time copy of a session's state.
type Info struct {
	ID               string          `json:"id"`
	InterviewID      transport.ID    `json:"interview_id,omitzero"`
	State            State           `json:"state"`
	ConnectionStatus realtime.Status `json:"connection_status"`
	Endpoint         string          `json:"endpoint,omitempty"`
	Question         *Question       `json:"question,omitempty"`
	QuestionsAsked   int             `json:"questions_asked"`
	AnswersSent      int             `json:"answers_sent"`
	PendingAnswers   int             `json:"pending_answers"`
	Recording        bool            `json:"recording"`
	Playing          bool            `json:"playing"`
	LastError        string          `json:"last_error,omitempty"`
	StartedAt        time.Time       `json:"started_at"`
}

// AnswerResult describes what an audio answer put on the wire.
type AnswerResult struct {
	QuestionID transport.ID `json:"question_id"`
	Chunks     int          `json:"chunks"`
	Bytes      int          `json:"bytes"`
	// Pending is set when the connection dropped before the final chunk.
	// The answer stays queued and is resent from chunk 0 once the
	// connection is back.
	Pending bool `json:"pending,omitempty"`
}

// Callbacks observe a session. They run on the goroutine that produced the
// event and must not call End or Close on the same session.
type Callbacks struct {
	OnState   func(s *Session, state State)
	OnStatus  func(s *Session, change realtime.StatusChange)
	OnMessage func(s *Session, msg transport.InboundMessage)
	OnAnswer  func(s *Session, questionID transport.ID)
	OnLevel   func(s *Session, level float64)
}
