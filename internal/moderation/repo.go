package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/suPer8Hu/mindflow/internal/common"
	"github.com/suPer8Hu/mindflow/internal/safety"
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

func (r *Repo) CreatePost(ctx context.Context, p *Post) error {
	return r.db.WithContext(ctx).Create(p).Error
}

// CreateReply stores the reply and bumps the parent's reply counter together.
func (r *Repo) CreateReply(ctx context.Context, rep *Reply) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Post{}).
			Where("id = ? AND status = ?", rep.PostID, ContentActive).
			Update("reply_count", gorm.Expr("reply_count + ?", 1))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: post", common.ErrNotFound)
		}
		return tx.Create(rep).Error
	})
}

func (r *Repo) GetPost(ctx context.Context, id string) (*Post, error) {
	var p Post
	if err := r.db.WithContext(ctx).First(&p, "id = ? AND status <> ?", id, ContentDeleted).Error; err != nil {
		return nil, notFound(err, "post")
	}
	return &p, nil
}

func (r *Repo) GetReply(ctx context.Context, id string) (*Reply, error) {
	var rep Reply
	if err := r.db.WithContext(ctx).First(&rep, "id = ? AND status <> ?", id, ContentDeleted).Error; err != nil {
		return nil, notFound(err, "reply")
	}
	return &rep, nil
}

// ListVisibleReplies returns approved, active replies oldest first.
func (r *Repo) ListVisibleReplies(ctx context.Context, postID string) ([]Reply, error) {
	var out []Reply
	err := r.db.WithContext(ctx).
		Where("post_id = ? AND status = ? AND moderation_status = ?", postID, ContentActive, StatusApproved).
		Order("created_at ASC").Order("id ASC").
		Find(&out).Error
	return out, err
}

type ListFilter struct {
	Type     PostType
	Tag      string
	Page     int
	PageSize int
}

// ListPosts returns approved, active posts newest first.
func (r *Repo) ListPosts(ctx context.Context, f ListFilter) ([]Post, int64, error) {
	q := r.db.WithContext(ctx).Model(&Post{}).
		Where("status = ? AND moderation_status = ?", ContentActive, StatusApproved)
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.Tag != "" {
		q = q.Where("tags LIKE ? ESCAPE '!'", tagPattern(f.Tag))
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []Post
	err := q.Order("created_at DESC").Order("id DESC").
		Limit(f.PageSize).Offset((f.Page - 1) * f.PageSize).
		Find(&out).Error
	return out, total, err
}

// Trending ranks approved, active posts by likes, then recency.
func (r *Repo) Trending(ctx context.Context, limit int) ([]Post, error) {
	var out []Post
	err := r.db.WithContext(ctx).
		Where("status = ? AND moderation_status = ?", ContentActive, StatusApproved).
		Order("like_count DESC").Order("created_at DESC").Order("id DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// PostEdit carries the author's new text and the decision scored on it.
type PostEdit struct {
	Title    string
	Content  string
	Tags     []string
	Decision Decision
	Crisis   safety.Result
}

const maxEditAttempts = 3

// ApplyPostEdit writes only the edited columns. The next moderation status is
// derived from the stored row and the write is conditional on that row not
// having moved, so reports, reviews and counters landing during scoring are
// kept. A lost race re-reads and tries again.
func (r *Repo) ApplyPostEdit(ctx context.Context, id string, e PostEdit) (*Post, error) {
	for attempt := 0; attempt < maxEditAttempts; attempt++ {
		cur, err := r.GetPost(ctx, id)
		if err != nil {
			return nil, err
		}

		next := nextStatusOnEdit(cur.Moderation.Status, e.Decision.Approved)
		if cur.Crisis.Escalated {
			next = StatusApproved
		}
		cols := map[string]any{
			"title":                 e.Title,
			"content":               e.Content,
			"tags":                  datatypes.JSONSlice[string](e.Tags),
			"moderation_status":     next,
			"moderation_reason":     e.Decision.Reason,
			"moderation_confidence": e.Decision.Confidence,
			"moderation_analysis":   datatypes.NewJSONType(e.Decision.Signal),
		}
		if e.Crisis.IsCrisis && !cur.Crisis.IsCrisis {
			c := crisisFrom(e.Crisis)
			cols["crisis_is_crisis"] = true
			cols["crisis_severity"] = c.Severity
			cols["crisis_indicators"] = c.Indicators
			cols["crisis_resources"] = c.Resources
		}

		res := r.db.WithContext(ctx).Model(&Post{}).
			Where("id = ? AND status <> ? AND moderation_status = ? AND crisis_escalated = ? AND crisis_is_crisis = ?",
				id, ContentDeleted, cur.Moderation.Status, cur.Crisis.Escalated, cur.Crisis.IsCrisis).
			Updates(cols)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			return r.GetPost(ctx, id)
		}
	}
	return nil, fmt.Errorf("%w: post changed during edit, try again", common.ErrConflict)
}

func (r *Repo) SetContentStatus(ctx context.Context, kind Kind, id string, st ContentStatus) error {
	return r.db.WithContext(ctx).Table(tableFor(kind)).
		Where("id = ?", id).
		Update("status", st).Error
}

// ToggleLike flips userID's like on the item and returns the new state and count.
func (r *Repo) ToggleLike(ctx context.Context, kind Kind, id string, userID uint64) (bool, int, error) {
	var liked bool
	var count int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.requireLive(tx, kind, id); err != nil {
			return err
		}

		var existing Like
		err := tx.Where("kind = ? AND content_id = ? AND user_id = ?", kind, id, userID).First(&existing).Error
		delta := 1
		switch {
		case err == nil:
			if err := tx.Delete(&existing).Error; err != nil {
				return err
			}
			delta = -1
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Create(&Like{Kind: kind, ContentID: id, UserID: userID}).Error; err != nil {
				return err
			}
			liked = true
		default:
			return err
		}

		if err := tx.Table(tableFor(kind)).Where("id = ?", id).
			Update("like_count", gorm.Expr("like_count + ?", delta)).Error; err != nil {
			return err
		}
		return tx.Table(tableFor(kind)).Select("like_count").Where("id = ?", id).Scan(&count).Error
	})
	return liked, count, err
}

// AddReport records one report per user and flags the item. Escalated crisis
// content stays approved.
func (r *Repo) AddReport(ctx context.Context, rep *Report) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.requireLive(tx, rep.Kind, rep.ContentID); err != nil {
			return err
		}

		var n int64
		if err := tx.Model(&Report{}).
			Where("kind = ? AND content_id = ? AND user_id = ?", rep.Kind, rep.ContentID, rep.UserID).
			Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: already reported", common.ErrConflict)
		}
		if err := tx.Create(rep).Error; err != nil {
			return err
		}

		table := tableFor(rep.Kind)
		if err := tx.Table(table).Where("id = ?", rep.ContentID).
			Update("report_count", gorm.Expr("report_count + ?", 1)).Error; err != nil {
			return err
		}
		return tx.Table(table).
			Where("id = ? AND moderation_status IN ? AND crisis_escalated = ?", rep.ContentID, []Status{StatusApproved, StatusPending}, false).
			Update("moderation_status", StatusFlagged).Error
	})
}

// Review settles a flagged or pending item. Anything else is a conflict.
func (r *Repo) Review(ctx context.Context, kind Kind, id string, to Status, reviewer uint64, at time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.requireLive(tx, kind, id); err != nil {
			return err
		}
		res := tx.Table(tableFor(kind)).
			Where("id = ? AND moderation_status IN ?", id, []Status{StatusFlagged, StatusPending}).
			Updates(map[string]any{
				"moderation_status":      to,
				"moderation_reviewed_by": reviewer,
				"moderation_reviewed_at": at,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s is not awaiting review", common.ErrConflict, kind)
		}
		return nil
	})
}

// MarkEscalated reports whether this call performed the escalation.
func (r *Repo) MarkEscalated(ctx context.Context, kind Kind, id string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Table(tableFor(kind)).
		Where("id = ? AND crisis_is_crisis = ? AND crisis_escalated = ?", id, true, false).
		Updates(map[string]any{
			"crisis_escalated":    true,
			"crisis_escalated_at": at,
			"crisis_escalated_to": safety.CrisisQueue,
			"moderation_status":   StatusApproved,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *Repo) reloadCrisis(ctx context.Context, kind Kind, id string, c *CrisisRecord, m *ModerationRecord) error {
	switch kind {
	case KindReply:
		rep, err := r.GetReply(ctx, id)
		if err != nil {
			return err
		}
		*c, *m = rep.Crisis, rep.Moderation
	default:
		p, err := r.GetPost(ctx, id)
		if err != nil {
			return err
		}
		*c, *m = p.Crisis, p.Moderation
	}
	return nil
}

func (r *Repo) ListCrisisPosts(ctx context.Context, limit int) ([]Post, error) {
	var out []Post
	err := r.db.WithContext(ctx).
		Where("crisis_is_crisis = ? AND status <> ?", true, ContentDeleted).
		Order("created_at DESC").Order("id DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (r *Repo) ListCrisisReplies(ctx context.Context, limit int) ([]Reply, error) {
	var out []Reply
	err := r.db.WithContext(ctx).
		Where("crisis_is_crisis = ? AND status <> ?", true, ContentDeleted).
		Order("created_at DESC").Order("id DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (r *Repo) requireLive(tx *gorm.DB, kind Kind, id string) error {
	var n int64
	if err := tx.Table(tableFor(kind)).
		Where("id = ? AND status <> ?", id, ContentDeleted).
		Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", common.ErrNotFound, kind)
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`!`, `!!`, `%`, `!%`, `_`, `!_`)

// tagPattern matches one element of the JSON tags array. The needle is the
// tag JSON-encoded the same way the column is written.
func tagPattern(tag string) string {
	b, _ := json.Marshal(tag)
	return "%" + likeEscaper.Replace(string(b)) + "%"
}
