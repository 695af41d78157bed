package moderation

import (
	"time"

	"github.com/suPer8Hu/mindflow/internal/safety"
	"gorm.io/datatypes"
)

type ContentStatus string

const (
	ContentActive   ContentStatus = "active"
	ContentArchived ContentStatus = "archived"
	ContentDeleted  ContentStatus = "deleted"
	ContentHidden   ContentStatus = "hidden"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusFlagged  Status = "flagged"
)

type Kind string

const (
	KindPost  Kind = "post"
	KindReply Kind = "reply"
)

type PostType string

var postTypes = map[PostType]bool{
	"discussion":  true,
	"question":    true,
	"support":     true,
	"celebration": true,
	"advice":      true,
	"crisis":      true,
}

// Analysis is the signal the scorer decided on, kept for reviewers.
type Analysis struct {
	Score     float64 `json:"score"`
	Magnitude float64 `json:"magnitude"`
	Toxicity  float64 `json:"toxicity"`
	Available bool    `json:"available"`
}

type ModerationRecord struct {
	Status     Status                       `gorm:"type:varchar(16);index;not null;default:'pending'" json:"status"`
	Reason     string                       `gorm:"type:varchar(255)" json:"reason"`
	Confidence float64                      `json:"confidence"`
	Analysis   datatypes.JSONType[Analysis] `json:"analysis"`
	ReviewedBy *uint64                      `json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time                   `json:"reviewed_at,omitempty"`
}

// CrisisRecord: Escalated only moves false -> true and implies IsCrisis.
type CrisisRecord struct {
	IsCrisis    bool                                 `gorm:"index;not null;default:false" json:"is_crisis"`
	Severity    safety.Severity                      `gorm:"type:varchar(8);not null;default:'none'" json:"severity"`
	Indicators  datatypes.JSONSlice[string]          `json:"indicators,omitempty"`
	Resources   datatypes.JSONSlice[safety.Resource] `json:"resources,omitempty"`
	Escalated   bool                                 `gorm:"not null;default:false" json:"escalated"`
	EscalatedAt *time.Time                           `json:"escalated_at,omitempty"`
	EscalatedTo string                               `gorm:"type:varchar(32)" json:"escalated_to,omitempty"`
}

type Post struct {
	ID          string                      `gorm:"primaryKey;size:26" json:"id"`
	AuthorID    uint64                      `gorm:"index;not null" json:"author_id,omitempty"`
	AuthorAlias string                      `gorm:"type:varchar(32)" json:"author_alias,omitempty"`
	IsAnonymous bool                        `gorm:"not null;default:false" json:"is_anonymous"`
	Title       string                      `gorm:"type:varchar(200);not null" json:"title"`
	Content     string                      `gorm:"type:text;not null" json:"content"`
	Type        PostType                    `gorm:"type:varchar(16);index;not null" json:"type"`
	Tags        datatypes.JSONSlice[string] `json:"tags"`
	Status      ContentStatus               `gorm:"type:varchar(16);index;not null;default:'active'" json:"status"`
	Moderation  ModerationRecord            `gorm:"embedded;embeddedPrefix:moderation_" json:"moderation"`
	Crisis      CrisisRecord                `gorm:"embedded;embeddedPrefix:crisis_" json:"crisis"`
	LikeCount   int                         `gorm:"not null;default:0;index" json:"like_count"`
	ReplyCount  int                         `gorm:"not null;default:0" json:"reply_count"`
	ReportCount int                         `gorm:"not null;default:0" json:"report_count"`
	CreatedAt   time.Time                   `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time                   `json:"updated_at"`

	Replies []Reply `gorm:"-" json:"replies,omitempty"`
}

func (Post) TableName() string { return "forum_posts" }

type Reply struct {
	ID          string           `gorm:"primaryKey;size:26" json:"id"`
	PostID      string           `gorm:"size:26;index;not null" json:"post_id"`
	AuthorID    uint64           `gorm:"index;not null" json:"author_id,omitempty"`
	AuthorAlias string           `gorm:"type:varchar(32)" json:"author_alias,omitempty"`
	IsAnonymous bool             `gorm:"not null;default:false" json:"is_anonymous"`
	Content     string           `gorm:"type:text;not null" json:"content"`
	Status      ContentStatus    `gorm:"type:varchar(16);index;not null;default:'active'" json:"status"`
	Moderation  ModerationRecord `gorm:"embedded;embeddedPrefix:moderation_" json:"moderation"`
	Crisis      CrisisRecord     `gorm:"embedded;embeddedPrefix:crisis_" json:"crisis"`
	LikeCount   int              `gorm:"not null;default:0" json:"like_count"`
	ReportCount int              `gorm:"not null;default:0" json:"report_count"`
	CreatedAt   time.Time        `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

func (Reply) TableName() string { return "forum_replies" }

type Like struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	Kind      Kind   `gorm:"type:varchar(8);not null;index:uniq_forum_like,unique,priority:1"`
	ContentID string `gorm:"size:26;not null;index:uniq_forum_like,unique,priority:2"`
	UserID    uint64 `gorm:"not null;index:uniq_forum_like,unique,priority:3"`
	CreatedAt time.Time
}

func (Like) TableName() string { return "forum_likes" }

type Report struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Kind      Kind      `gorm:"type:varchar(8);not null;index:uniq_forum_report,unique,priority:1" json:"kind"`
	ContentID string    `gorm:"size:26;not null;index:uniq_forum_report,unique,priority:2" json:"content_id"`
	UserID    uint64    `gorm:"not null;index:uniq_forum_report,unique,priority:3" json:"-"`
	Reason    string    `gorm:"type:varchar(500);not null" json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

func (Report) TableName() string { return "forum_reports" }

func Models() []any {
	return []any{&Post{}, &Reply{}, &Like{}, &Report{}}
}

func tableFor(k Kind) string {
	if k == KindReply {
		return Reply{}.TableName()
	}
	return Post{}.TableName()
}
