package moderation

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/suPer8Hu/mindflow/internal/common"
	"github.com/suPer8Hu/mindflow/internal/observability"
	"github.com/suPer8Hu/mindflow/internal/safety"
	"gorm.io/datatypes"
)

const (
	maxTitleChars   = 200
	maxContentChars = 8000
	maxReplyChars   = 4000
	maxTags         = 10
	maxTagChars     = 30
	maxReasonChars  = 500
)

// Viewer is who is asking; moderators see unredacted and unapproved content.
type Viewer struct {
	UserID    uint64
	Moderator bool
}

// Service is the moderation orchestrator for forum content: crisis check,
// sentiment scoring, persistence, escalation, and forum maintenance.
type Service struct {
	repo      *Repo
	scorer    *Scorer
	escalator *Escalator
	aliasKey  [32]byte
	now       func() time.Time
}

func NewService(repo *Repo, scorer *Scorer, escalator *Escalator, aliasSecret string) *Service {
	return &Service{
		repo:      repo,
		scorer:    scorer,
		escalator: escalator,
		aliasKey:  aliasKey(aliasSecret),
		now:       time.Now,
	}
}

type CreatePostInput struct {
	AuthorID    uint64
	Title       string
	Content     string
	Type        PostType
	Tags        []string
	IsAnonymous bool
}

type CreatePostResult struct {
	Post       *Post         `json:"post"`
	Moderation Decision      `json:"moderation_result"`
	Crisis     safety.Result `json:"crisis_check"`
}

func (s *Service) CreatePost(ctx context.Context, in CreatePostInput) (*CreatePostResult, error) {
	title := strings.TrimSpace(in.Title)
	content := strings.TrimSpace(in.Content)
	if err := checkText("title", title, maxTitleChars); err != nil {
		return nil, err
	}
	if err := checkText("content", content, maxContentChars); err != nil {
		return nil, err
	}
	typ := in.Type
	if typ == "" {
		typ = "discussion"
	}
	if !postTypes[typ] {
		return nil, fmt.Errorf("%w: unknown post type %q", common.ErrValidation, typ)
	}
	tags, err := normalizeTags(in.Tags)
	if err != nil {
		return nil, err
	}

	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}

	text := title + "\n" + content
	crisis := safety.Detect(text)
	decision := s.scorer.Score(ctx, text, crisis)

	p := &Post{
		ID:          id,
		AuthorID:    in.AuthorID,
		IsAnonymous: in.IsAnonymous,
		Title:       title,
		Content:     content,
		Type:        typ,
		Tags:        datatypes.JSONSlice[string](tags),
		Status:      ContentActive,
		Moderation:  moderationFrom(decision),
		Crisis:      crisisFrom(crisis),
	}
	if in.IsAnonymous {
		p.AuthorAlias = anonAlias(s.aliasKey, in.AuthorID, id)
	}
	if err := s.repo.CreatePost(ctx, p); err != nil {
		return nil, err
	}

	if crisis.IsCrisis {
		observability.CrisisDetections.WithLabelValues("post", string(crisis.Severity)).Inc()
		if _, err := s.escalator.EscalatePost(ctx, p); err != nil {
			observability.LoggerFromContext(ctx).Error("escalate post", "post_id", p.ID, "error", err)
		}
	}
	return &CreatePostResult{Post: p, Moderation: decision, Crisis: crisis}, nil
}

type CreateReplyInput struct {
	AuthorID    uint64
	PostID      string
	Content     string
	IsAnonymous bool
}

type CreateReplyResult struct {
	Reply      *Reply        `json:"reply"`
	Moderation Decision      `json:"moderation_result"`
	Crisis     safety.Result `json:"crisis_check"`
}

func (s *Service) CreateReply(ctx context.Context, in CreateReplyInput) (*CreateReplyResult, error) {
	content := strings.TrimSpace(in.Content)
	if err := checkText("content", content, maxReplyChars); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetPost(ctx, in.PostID); err != nil {
		return nil, err
	}

	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}

	crisis := safety.Detect(content)
	decision := s.scorer.Score(ctx, content, crisis)

	rep := &Reply{
		ID:          id,
		PostID:      in.PostID,
		AuthorID:    in.AuthorID,
		IsAnonymous: in.IsAnonymous,
		Content:     content,
		Status:      ContentActive,
		Moderation:  moderationFrom(decision),
		Crisis:      crisisFrom(crisis),
	}
	if in.IsAnonymous {
		rep.AuthorAlias = anonAlias(s.aliasKey, in.AuthorID, in.PostID)
	}
	if err := s.repo.CreateReply(ctx, rep); err != nil {
		return nil, err
	}

	if crisis.IsCrisis {
		observability.CrisisDetections.WithLabelValues("reply", string(crisis.Severity)).Inc()
		if _, err := s.escalator.EscalateReply(ctx, rep); err != nil {
			observability.LoggerFromContext(ctx).Error("escalate reply", "reply_id", rep.ID, "error", err)
		}
	}
	return &CreateReplyResult{Reply: rep, Moderation: decision, Crisis: crisis}, nil
}

type UpdatePostInput struct {
	Title   *string
	Content *string
	Tags    []string
}

// UpdatePost lets the author edit a post. The new text is re-moderated but
// never sent back to pending: a rejection of approved content flags it for
// review, and rejected content stays rejected.
func (s *Service) UpdatePost(ctx context.Context, userID uint64, postID string, in UpdatePostInput) (*Post, error) {
	p, err := s.repo.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if p.AuthorID != userID {
		return nil, fmt.Errorf("%w: only the author can edit this post", common.ErrForbidden)
	}

	edit := PostEdit{Title: p.Title, Content: p.Content, Tags: p.Tags}
	if in.Title != nil {
		t := strings.TrimSpace(*in.Title)
		if err := checkText("title", t, maxTitleChars); err != nil {
			return nil, err
		}
		edit.Title = t
	}
	if in.Content != nil {
		c := strings.TrimSpace(*in.Content)
		if err := checkText("content", c, maxContentChars); err != nil {
			return nil, err
		}
		edit.Content = c
	}
	if in.Tags != nil {
		tags, err := normalizeTags(in.Tags)
		if err != nil {
			return nil, err
		}
		edit.Tags = tags
	}

	text := edit.Title + "\n" + edit.Content
	edit.Crisis = safety.Detect(text)
	edit.Decision = s.scorer.Score(ctx, text, edit.Crisis)

	p, err = s.repo.ApplyPostEdit(ctx, postID, edit)
	if err != nil {
		return nil, err
	}
	if p.Crisis.IsCrisis {
		if _, err := s.escalator.EscalatePost(ctx, p); err != nil {
			observability.LoggerFromContext(ctx).Error("escalate post", "post_id", p.ID, "error", err)
		}
	}
	return p, nil
}

func nextStatusOnEdit(cur Status, approved bool) Status {
	switch {
	case cur == StatusRejected, cur == StatusFlagged:
		return cur
	case approved:
		return StatusApproved
	case cur == StatusApproved:
		return StatusFlagged
	default:
		return StatusPending
	}
}

// DeleteContent soft-deletes a post or reply owned by userID.
func (s *Service) DeleteContent(ctx context.Context, userID uint64, kind Kind, id string) error {
	author, err := s.authorOf(ctx, kind, id)
	if err != nil {
		return err
	}
	if author != userID {
		return fmt.Errorf("%w: only the author can delete this %s", common.ErrForbidden, kind)
	}
	return s.repo.SetContentStatus(ctx, kind, id, ContentDeleted)
}

// GetPost returns a post with its visible replies. Unapproved posts are only
// shown to their author and to moderators.
func (s *Service) GetPost(ctx context.Context, v Viewer, id string) (*Post, error) {
	p, err := s.repo.GetPost(ctx, id)
	if err != nil {
		return nil, err
	}
	visible := p.Status == ContentActive && p.Moderation.Status == StatusApproved
	if !visible && !v.Moderator && p.AuthorID != v.UserID {
		return nil, fmt.Errorf("%w: post", common.ErrNotFound)
	}
	replies, err := s.repo.ListVisibleReplies(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Replies = replies
	redactPost(p, v)
	return p, nil
}

func (s *Service) ListPosts(ctx context.Context, v Viewer, f ListFilter) ([]Post, int64, error) {
	if f.Type != "" && !postTypes[f.Type] {
		return nil, 0, fmt.Errorf("%w: unknown post type %q", common.ErrValidation, f.Type)
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 || f.PageSize > 100 {
		f.PageSize = 20
	}
	f.Tag = strings.ToLower(strings.TrimSpace(f.Tag))
	posts, total, err := s.repo.ListPosts(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	for i := range posts {
		redactPost(&posts[i], v)
	}
	return posts, total, nil
}

func (s *Service) Trending(ctx context.Context, v Viewer, limit int) ([]Post, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	posts, err := s.repo.Trending(ctx, limit)
	if err != nil {
		return nil, err
	}
	for i := range posts {
		redactPost(&posts[i], v)
	}
	return posts, nil
}

func (s *Service) ToggleLike(ctx context.Context, userID uint64, kind Kind, id string) (bool, int, error) {
	return s.repo.ToggleLike(ctx, kind, id, userID)
}

func (s *Service) ReportContent(ctx context.Context, userID uint64, kind Kind, id, reason string) error {
	reason = strings.TrimSpace(reason)
	if err := checkText("reason", reason, maxReasonChars); err != nil {
		return err
	}
	err := s.repo.AddReport(ctx, &Report{Kind: kind, ContentID: id, UserID: userID, Reason: reason})
	if err != nil {
		return err
	}
	observability.LoggerFromContext(ctx).Info("content reported", "kind", kind, "id", id, "user_id", userID)
	return nil
}

// ReviewContent is the human decision on flagged or pending content.
func (s *Service) ReviewContent(ctx context.Context, v Viewer, kind Kind, id string, to Status) error {
	if !v.Moderator {
		return fmt.Errorf("%w: moderator role required", common.ErrForbidden)
	}
	if to != StatusApproved && to != StatusRejected {
		return fmt.Errorf("%w: review outcome must be approved or rejected", common.ErrValidation)
	}
	return s.repo.Review(ctx, kind, id, to, v.UserID, s.now())
}

type CrisisContent struct {
	Posts   []Post  `json:"posts"`
	Replies []Reply `json:"replies"`
}

func (s *Service) ListCrisisContent(ctx context.Context, v Viewer, limit int) (*CrisisContent, error) {
	if !v.Moderator {
		return nil, fmt.Errorf("%w: moderator role required", common.ErrForbidden)
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	posts, err := s.repo.ListCrisisPosts(ctx, limit)
	if err != nil {
		return nil, err
	}
	replies, err := s.repo.ListCrisisReplies(ctx, limit)
	if err != nil {
		return nil, err
	}
	return &CrisisContent{Posts: posts, Replies: replies}, nil
}

func (s *Service) authorOf(ctx context.Context, kind Kind, id string) (uint64, error) {
	if kind == KindReply {
		rep, err := s.repo.GetReply(ctx, id)
		if err != nil {
			return 0, err
		}
		return rep.AuthorID, nil
	}
	p, err := s.repo.GetPost(ctx, id)
	if err != nil {
		return 0, err
	}
	return p.AuthorID, nil
}

func moderationFrom(d Decision) ModerationRecord {
	st := StatusPending
	if d.Approved {
		st = StatusApproved
	}
	return ModerationRecord{
		Status:     st,
		Reason:     d.Reason,
		Confidence: d.Confidence,
		Analysis:   datatypes.NewJSONType(d.Signal),
	}
}

func crisisFrom(r safety.Result) CrisisRecord {
	c := CrisisRecord{IsCrisis: r.IsCrisis, Severity: r.Severity}
	if r.IsCrisis {
		c.Indicators = r.Indicators
		c.Resources = safety.Resources()
	}
	return c
}

func redactPost(p *Post, v Viewer) {
	if !v.Moderator && p.AuthorID != v.UserID {
		if p.IsAnonymous {
			p.AuthorID = 0
		}
	}
	for i := range p.Replies {
		r := &p.Replies[i]
		if r.IsAnonymous && !v.Moderator && r.AuthorID != v.UserID {
			r.AuthorID = 0
		}
	}
}

func checkText(field, v string, max int) error {
	if v == "" {
		return fmt.Errorf("%w: %s is required", common.ErrValidation, field)
	}
	if utf8.RuneCountInString(v) > max {
		return fmt.Errorf("%w: %s exceeds %d characters", common.ErrValidation, field, max)
	}
	return nil
}

func normalizeTags(in []string) ([]string, error) {
	if len(in) > maxTags {
		return nil, fmt.Errorf("%w: at most %d tags", common.ErrValidation, maxTags)
	}
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, t := range in {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		if utf8.RuneCountInString(t) > maxTagChars {
			return nil, fmt.Errorf("%w: tag %q exceeds %d characters", common.ErrValidation, t, maxTagChars)
		}
		seen[t] = true
		out = append(out, t)
	}
	return out, nil
}
