package chat

import (
	"time"

	"gorm.io/datatypes"
)

type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
	StatusArchived  SessionStatus = "archived"
)

const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

type Session struct {
	ID              uint64            `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID       string            `gorm:"type:varchar(26);uniqueIndex;not null" json:"session_id"`
	UserID          uint64            `gorm:"index:idx_chat_session_user_activity,priority:1;not null" json:"-"`
	Language        string            `gorm:"type:varchar(8);not null;default:'en'" json:"language"`
	Status          SessionStatus     `gorm:"type:varchar(16);index;not null;default:'active'" json:"status"`
	Title           string            `gorm:"type:varchar(128);not null;default:''" json:"title"`
	Summary         string            `gorm:"type:text" json:"summary,omitempty"`
	Context         datatypes.JSONMap `json:"context,omitempty"`
	MessageCount    int               `gorm:"not null;default:0" json:"message_count"`
	LastActivity    time.Time         `gorm:"index:idx_chat_session_user_activity,priority:2;not null" json:"last_activity"`
	FeedbackRating  *int              `json:"feedback_rating,omitempty"`
	FeedbackComment string            `gorm:"type:text" json:"feedback_comment,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`

	// Messages is filled by GetConversation, never persisted through the session row.
	Messages []Message `gorm:"-" json:"messages,omitempty"`
}

func (Session) TableName() string { return "chat_sessions" }

// Message is one entry of a session log. Rows are insert-only.
type Message struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID  string    `gorm:"type:varchar(26);not null;index:idx_chat_msg_session_id,priority:1" json:"session_id"`
	UserID     uint64    `gorm:"not null;index" json:"-"`
	Role       string    `gorm:"type:varchar(16);not null" json:"role"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	Language   string    `gorm:"type:varchar(8);not null;default:'en'" json:"language"`
	IsFallback bool      `gorm:"not null;default:false" json:"is_fallback,omitempty"`
	CreatedAt  time.Time `gorm:"index:idx_chat_msg_session_id,priority:2" json:"created_at"`
}

func (Message) TableName() string { return "chat_messages" }

// Models lists every table this package owns, for db.Migrate.
func Models() []any {
	return []any{&Session{}, &Message{}, &Job{}}
}
