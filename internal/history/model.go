package history

import "time"

type Status string

const (
	StatusPlanned   Status = "planned"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusAbandoned Status = "abandoned"
)

// Record is the durable trace of one interview session.
type Record struct {
	ID          string `gorm:"primaryKey" json:"id"`
	InterviewID string `gorm:"index" json:"interview_id"`

	CandidateName string `json:"candidate_name,omitempty"`
	Role          string `json:"role,omitempty"`
	Difficulty    string `json:"difficulty,omitempty"`

	Status      Status      `gorm:"default:'planned';index" json:"status"`
	QuestionIDs QuestionIDs `gorm:"type:json" json:"question_ids"`
	AnswersSent int         `gorm:"default:0" json:"answers_sent"`
	Feedback    string      `gorm:"type:text" json:"feedback,omitempty"`
	LastError   string      `json:"last_error,omitempty"`

	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (Record) TableName() string {
	return "interview_records"
}
