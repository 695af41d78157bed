package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/suPer8Hu/mindflow/internal/observability"
)

// Archiver moves sessions that have been idle too long from active to
// archived, on a cron schedule.
type Archiver struct {
	repo      *Repo
	cronExpr  string
	idleAfter time.Duration
	now       func() time.Time
}

func NewArchiver(repo *Repo, cronExpr string, idleAfter time.Duration) (*Archiver, error) {
	if !gronx.IsValid(cronExpr) {
		return nil, fmt.Errorf("invalid archive cron expression %q", cronExpr)
	}
	if idleAfter <= 0 {
		return nil, fmt.Errorf("archive idle window must be positive, got %s", idleAfter)
	}
	return &Archiver{repo: repo, cronExpr: cronExpr, idleAfter: idleAfter, now: time.Now}, nil
}

// RunOnce archives everything idle since before now minus the idle window.
func (a *Archiver) RunOnce(ctx context.Context) (int64, error) {
	cutoff := a.now().Add(-a.idleAfter)
	n, err := a.repo.ArchiveIdleSessions(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	observability.Logger().Info("archive_run", "archived", n, "cutoff", cutoff.UTC().Format(time.RFC3339))
	return n, nil
}

// Run blocks until ctx is done, running RunOnce at every cron tick.
func (a *Archiver) Run(ctx context.Context) {
	log := observability.Logger()
	for {
		next, err := gronx.NextTickAfter(a.cronExpr, a.now().UTC(), false)
		if err != nil {
			log.Error("archive_nexttick_failed", "cron", a.cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
				continue
			case <-ctx.Done():
				log.Info("archive_scheduler_stopping")
				return
			}
		}

		wait := time.Until(next)
		if wait < time.Second {
			wait = time.Second
		}
		select {
		case <-time.After(wait):
			if _, err := a.RunOnce(ctx); err != nil {
				log.Error("archive_run_error", "error", err)
			}
		case <-ctx.Done():
			log.Info("archive_scheduler_stopping")
			return
		}
	}
}
