package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/suPer8Hu/mindflow/internal/common"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", common.ErrNotFound, what)
	}
	return err
}

func (r *Repo) CreateSession(ctx context.Context, s *Session) error {
	return r.db.WithContext(ctx).Create(s).Error
}

// GetOwnedSession returns the session only when userID owns it; a foreign
// session is reported exactly like a missing one.
func (r *Repo) GetOwnedSession(ctx context.Context, userID uint64, sessionID string) (*Session, error) {
	var s Session
	if err := r.db.WithContext(ctx).
		Where("session_id = ? AND user_id = ?", sessionID, userID).
		First(&s).Error; err != nil {
		return nil, notFound(err, "session")
	}
	return &s, nil
}

// ListSessions returns the caller's sessions, most recent activity first.
func (r *Repo) ListSessions(ctx context.Context, userID uint64, status SessionStatus, limit, offset int) ([]Session, int64, error) {
	q := r.db.WithContext(ctx).Model(&Session{}).Where("user_id = ?", userID)
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var out []Session
	if err := q.Order("last_activity DESC").Order("id DESC").
		Limit(limit).Offset(offset).
		Find(&out).Error; err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// ListMessages returns the full log of a session in insertion order.
func (r *Repo) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id ASC").
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// ListRecentMessagesDesc returns the most recent messages in DESC id order (newest -> oldest).
func (r *Repo) ListRecentMessagesDesc(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id DESC").
		Limit(limit).
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// ListFirstMessages returns the opening entries of a session.
func (r *Repo) ListFirstMessages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id ASC").
		Limit(limit).
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// AppendTurn persists a user entry and its agent reply as one unit and bumps
// the session counters. Both rows land or neither does; a session that is no
// longer active rejects the pair with ErrConflict.
func (r *Repo) AppendTurn(ctx context.Context, userMsg, agentMsg *Message, at time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Session{}).
			Where("session_id = ? AND status = ?", userMsg.SessionID, StatusActive).
			Updates(map[string]any{
				"message_count": gorm.Expr("message_count + ?", 2),
				"last_activity": at,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: session is not active", common.ErrConflict)
		}

		userMsg.CreatedAt = at
		if err := tx.Create(userMsg).Error; err != nil {
			return err
		}
		agentMsg.CreatedAt = at
		return tx.Create(agentMsg).Error
	})
}

// Touch marks activity on a session without appending anything.
func (r *Repo) Touch(ctx context.Context, sessionID string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&Session{}).
		Where("session_id = ?", sessionID).
		Update("last_activity", at).Error
}

// SetTitleIfEmpty stores title only when none is set yet and reports whether
// this call won.
func (r *Repo) SetTitleIfEmpty(ctx context.Context, sessionID, title string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Session{}).
		Where("session_id = ? AND title = ?", sessionID, "").
		Update("title", title)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *Repo) UpdateContext(ctx context.Context, userID uint64, sessionID string, data map[string]any) error {
	res := r.db.WithContext(ctx).Model(&Session{}).
		Where("session_id = ? AND user_id = ?", sessionID, userID).
		Update("context", datatypes.JSONMap(data))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: session", common.ErrNotFound)
	}
	return nil
}

// CloseSession moves an active session to completed with its summary.
func (r *Repo) CloseSession(ctx context.Context, userID uint64, sessionID, summary string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&Session{}).
		Where("session_id = ? AND user_id = ? AND status = ?", sessionID, userID, StatusActive).
		Updates(map[string]any{
			"status":        StatusCompleted,
			"summary":       summary,
			"last_activity": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: session is not active", common.ErrConflict)
	}
	return nil
}

func (r *Repo) SaveFeedback(ctx context.Context, userID uint64, sessionID string, rating int, comment string) error {
	res := r.db.WithContext(ctx).Model(&Session{}).
		Where("session_id = ? AND user_id = ?", sessionID, userID).
		Updates(map[string]any{
			"feedback_rating":  rating,
			"feedback_comment": comment,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: session", common.ErrNotFound)
	}
	return nil
}

// DeleteSession removes the session and its log.
func (r *Repo) DeleteSession(ctx context.Context, userID uint64, sessionID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("session_id = ? AND user_id = ?", sessionID, userID).Delete(&Session{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: session", common.ErrNotFound)
		}
		return tx.Where("session_id = ?", sessionID).Delete(&Message{}).Error
	})
}

// ArchiveIdleSessions moves active sessions idle since before cutoff to archived.
func (r *Repo) ArchiveIdleSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&Session{}).
		Where("status = ? AND last_activity < ?", StatusActive, cutoff).
		Update("status", StatusArchived)
	return res.RowsAffected, res.Error
}

// Job CRUD
func (r *Repo) CreateJob(ctx context.Context, job *Job) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *Repo) GetJobByID(ctx context.Context, id string) (*Job, error) {
	var j Job
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "job")
	}
	return &j, nil
}

// UpdateJobStatusRunning claims a job. Queued jobs are always claimable; a
// running job is reclaimed once it was last touched before staleBefore, which
// is how work orphaned by a crashed worker is picked up again.
func (r *Repo) UpdateJobStatusRunning(ctx context.Context, id string, staleBefore time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND (status = ? OR (status = ? AND updated_at < ?))", id, JobQueued, JobRunning, staleBefore).
		Update("status", JobRunning)
	return res.RowsAffected == 1, res.Error
}

func (r *Repo) MarkJobSucceeded(ctx context.Context, id string, res SendResult) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     JobSucceeded,
			"session_id": res.SessionID,
			"reply":      res.Reply,
			"model_id":   res.ModelID,
			"is_crisis":  res.IsCrisis,
			"error":      nil,
		}).Error
}

func (r *Repo) MarkJobFailed(ctx context.Context, id string, errMsg string) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": JobFailed,
			"error":  errMsg,
			"reply":  nil,
		}).Error
}

func (r *Repo) GetJobByUserAndIdempotencyKey(ctx context.Context, userID uint64, key string) (*Job, error) {
	var job Job
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		First(&job).Error
	if err != nil {
		return nil, notFound(err, "job")
	}
	return &job, nil
}

// CreateJobOrGetExisting tries to create a job, but if (user_id, idempotency_key) already exists,
// it returns the existing job instead.
func (r *Repo) CreateJobOrGetExisting(ctx context.Context, job *Job) (*Job, bool, error) {
	if job.IdempotencyKey == nil || *job.IdempotencyKey == "" {
		job.IdempotencyKey = nil
		if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
			return nil, false, err
		}
		return job, true, nil
	}

	err := r.db.WithContext(ctx).Create(job).Error
	if err == nil {
		return job, true, nil
	}

	existing, getErr := r.GetJobByUserAndIdempotencyKey(ctx, job.UserID, *job.IdempotencyKey)
	if getErr == nil {
		return existing, false, nil
	}
	if errors.Is(getErr, common.ErrNotFound) {
		return nil, false, err
	}
	return nil, false, getErr
}
