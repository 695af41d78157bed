package chat

import "time"

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Job is an asynchronous chat turn: queued by the API, run by the worker
// through the same orchestrator as a synchronous turn.
type Job struct {
	ID string `gorm:"primaryKey;size:26" json:"job_id"` // ULID length

	UserID    uint64 `gorm:"index;not null;index:uniq_chat_job_idempo,unique,priority:1" json:"-"`
	SessionID string `gorm:"size:26;index" json:"session_id"`
	Language  string `gorm:"type:varchar(8);not null;default:'en'" json:"language"`

	Prompt string `gorm:"type:text;not null" json:"-"`

	IdempotencyKey *string `gorm:"type:varchar(128);index:uniq_chat_job_idempo,unique,priority:2" json:"idempotency_key,omitempty"`

	Status JobStatus `gorm:"type:varchar(16);index;not null" json:"status"`

	// Filled when succeeded
	Reply    *string `gorm:"type:text" json:"reply,omitempty"`
	ModelID  string  `gorm:"type:varchar(64)" json:"model_id,omitempty"`
	IsCrisis bool    `json:"is_crisis"`

	// Filled when failed
	Error *string `gorm:"type:text" json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Job) TableName() string { return "chat_jobs" }
