package history

import (
	"context"
	"errors"
	"time"

	"github.com/eleven-am/interview-realtime/internal/shared"
	"gorm.io/gorm"
)

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&Record{})
}

func (s *Store) Create(ctx context.Context, r *Record) error {
	if r.ID == "" {
		r.ID = shared.NewID("rec_")
	}
	if r.Status == "" {
		r.Status = StatusPlanned
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	if r.QuestionIDs == nil {
		r.QuestionIDs = QuestionIDs{}
	}
	return s.db.WithContext(ctx).Create(r).Error
}

func (s *Store) GetByID(ctx context.Context, id string) (*Record, error) {
	var r Record
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, shared.ErrNotFound
	}
	return &r, err
}

// List returns records newest first, optionally filtered by status.
func (s *Store) List(ctx context.Context, status *Status, limit, offset int) ([]*Record, error) {
	var records []*Record
	q := s.db.WithContext(ctx)
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	err := q.Order("started_at DESC").Limit(limit).Offset(offset).Find(&records).Error
	return records, err
}

// AddQuestion appends a question id unless it is already the most recent one.
func (s *Store) AddQuestion(ctx context.Context, id, questionID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var r Record
		if err := tx.Where("id = ?", id).First(&r).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return shared.ErrNotFound
			}
			return err
		}
		ids, added := r.QuestionIDs.Append(questionID)
		if !added {
			return nil
		}
		return tx.Model(&Record{}).Where("id = ?", id).Update("question_ids", ids).Error
	})
}

func (s *Store) IncrementAnswers(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Model(&Record{}).Where("id = ?", id).
		UpdateColumn("answers_sent", gorm.Expr("answers_sent + 1"))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// SetInterviewID attaches the engine's interview id once planning succeeds.
func (s *Store) SetInterviewID(ctx context.Context, id, interviewID string) error {
	result := s.db.WithContext(ctx).Model(&Record{}).Where("id = ?", id).
		Update("interview_id", interviewID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Complete closes a record with its final status, feedback and error text.
func (s *Store) Complete(ctx context.Context, id string, status Status, feedback, lastError string) error {
	now := time.Now()
	result := s.db.WithContext(ctx).Model(&Record{}).Where("id = ?", id).
		Updates(map[string]any{
			"status":     status,
			"feedback":   feedback,
			"last_error": lastError,
			"ended_at":   &now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Delete(&Record{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// AbandonStale marks planned records started before cutoff as abandoned.
// Those belong to processes that exited without closing their sessions.
func (s *Store) AbandonStale(ctx context.Context, cutoff time.Time) (int64, error) {
	now := time.Now()
	result := s.db.WithContext(ctx).Model(&Record{}).
		Where("status = ? AND started_at < ?", StatusPlanned, cutoff).
		Updates(map[string]any{
			"status":     StatusAbandoned,
			"last_error": "session lost before completion",
			"ended_at":   &now,
		})
	return result.RowsAffected, result.Error
}
