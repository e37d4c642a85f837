package session

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Snapshot is the last known view of a live interview session.
type Snapshot struct {
	ID                string    `json:"id"`
	InterviewID       string    `json:"interview_id,omitempty"`
	State             string    `json:"state"`
	ConnectionStatus  string    `json:"connection_status"`
	CurrentQuestionID string    `json:"current_question_id,omitempty"`
	Endpoint          string    `json:"endpoint,omitempty"`
	QuestionsAsked    int       `json:"questions_asked"`
	AnswersSent       int       `json:"answers_sent"`
	Recording         bool      `json:"recording"`
	LastError         string    `json:"last_error,omitempty"`
	StartedAt         time.Time `json:"started_at"`
	LastActiveAt      time.Time `json:"last_active_at"`
}

func (s *Snapshot) RedisKey() string {
	return snapshotKeyPrefix + s.ID
}

const (
	snapshotKeyPrefix  = "interview_session:"
	eventChannelFormat = "interview:%s:events"
)

func EventChannel(sessionID string) string {
	return fmt.Sprintf(eventChannelFormat, sessionID)
}

const (
	EventState            = "state"
	EventConnectionStatus = "connection_status"
	EventLevel            = "level"
	EventAnswer           = "answer"
)

// Event is fanned out to observers of a session. Type is either one of the
// Event* constants or an inbound wire message type.
type Event struct {
	SessionID  string          `json:"session_id"`
	Type       string          `json:"type"`
	QuestionID string          `json:"question_id,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

type Metrics struct {
	Date       string `json:"date"`
	Hour       int    `json:"hour"`
	Interviews int64  `json:"interviews"`
	Questions  int64  `json:"questions"`
	Answers    int64  `json:"answers"`
	Reconnects int64  `json:"reconnects"`
	ErrorCount int64  `json:"error_count"`
}

func MetricsRedisKey(date string, hour int) string {
	return "interview:metrics:" + date + ":" + strconv.Itoa(hour)
}
