package moderation

import (
	"context"
	"errors"
	"time"

	"github.com/suPer8Hu/mindflow/internal/notify"
	"github.com/suPer8Hu/mindflow/internal/observability"
	"github.com/suPer8Hu/mindflow/internal/safety"
)

var errNoAnalyzer = errors.New("no text analyzer configured")

// Alerter receives an alert after content is escalated for the first time.
type Alerter interface {
	Publish(ctx context.Context, a notify.Alert) error
}

// applyEscalation marks crisis content as escalated and forces it visible.
// It is a no-op for content already escalated or not in crisis, and reports
// whether it changed anything.
func applyEscalation(c *CrisisRecord, m *ModerationRecord, now time.Time) bool {
	if c.Escalated || !c.IsCrisis {
		return false
	}
	c.Escalated = true
	at := now
	c.EscalatedAt = &at
	c.EscalatedTo = safety.CrisisQueue
	m.Status = StatusApproved
	return true
}

// Escalator persists escalations with a conditional update so concurrent
// callers set escalated_at once, then alerts the crisis team.
type Escalator struct {
	repo    *Repo
	alerter Alerter
	now     func() time.Time
}

func NewEscalator(repo *Repo, alerter Alerter) *Escalator {
	return &Escalator{repo: repo, alerter: alerter, now: time.Now}
}

// EscalatePost escalates p in storage and in memory. A second call is a no-op.
func (e *Escalator) EscalatePost(ctx context.Context, p *Post) (bool, error) {
	return e.escalate(ctx, KindPost, p.ID, p.AuthorID, &p.Crisis, &p.Moderation)
}

func (e *Escalator) EscalateReply(ctx context.Context, r *Reply) (bool, error) {
	return e.escalate(ctx, KindReply, r.ID, r.AuthorID, &r.Crisis, &r.Moderation)
}

func (e *Escalator) escalate(ctx context.Context, kind Kind, id string, authorID uint64, c *CrisisRecord, m *ModerationRecord) (bool, error) {
	if c.Escalated || !c.IsCrisis {
		return false, nil
	}
	now := e.now()
	won, err := e.repo.MarkEscalated(ctx, kind, id, now)
	if err != nil {
		return false, err
	}
	if !won {
		// someone else escalated first; reflect storage
		return false, e.repo.reloadCrisis(ctx, kind, id, c, m)
	}
	applyEscalation(c, m, now)

	log := observability.LoggerFromContext(ctx)
	observability.Escalations.WithLabelValues(string(kind)).Inc()
	log.Warn("content escalated", "kind", kind, "id", id, "severity", c.Severity, "queue", safety.CrisisQueue)

	if e.alerter != nil {
		alert := notify.Alert{
			Kind:       string(kind),
			ContentID:  id,
			UserID:     authorID,
			Severity:   string(c.Severity),
			Indicators: c.Indicators,
			Queue:      safety.CrisisQueue,
			At:         now,
		}
		if err := e.alerter.Publish(ctx, alert); err != nil {
			log.Error("publish crisis alert", "kind", kind, "id", id, "error", err)
		}
	}
	return true, nil
}
