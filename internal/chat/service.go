package chat

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/suPer8Hu/mindflow/internal/ai"
	"github.com/suPer8Hu/mindflow/internal/common"
	"github.com/suPer8Hu/mindflow/internal/notify"
	"github.com/suPer8Hu/mindflow/internal/observability"
	"github.com/suPer8Hu/mindflow/internal/safety"
)

const (
	ModelCrisisResponse = "crisis-response"
	ModelFallback       = "fallback"
)

// Generator is the model gateway as seen by the orchestrator.
type Generator interface {
	Invoke(ctx context.Context, inv ai.Invocation) (ai.Result, error)
}

// Alerter receives crisis alerts raised by chat turns.
type Alerter interface {
	Publish(ctx context.Context, a notify.Alert) error
}

// EventSink receives live events for a user. Publish must not block.
type EventSink interface {
	Publish(userID uint64, kind string, data any)
}

type Options struct {
	WindowSize      int
	MaxMessageChars int
	Locker          TurnLocker
	Alerter         Alerter
	Events          EventSink
	// JobStaleAfter is how long a running job may go untouched before a
	// redelivery reclaims it.
	JobStaleAfter time.Duration
	Now           func() time.Time
}

// Service is the conversation orchestrator: crisis short-circuit, context
// window, budget, model call with fail-soft fallback, atomic persistence of
// the turn, and title generation.
type Service struct {
	repo     *Repo
	gen      Generator
	window   int
	maxChars int
	locker   TurnLocker
	alerter  Alerter
	events   EventSink
	staleJob time.Duration
	now      func() time.Time
}

func NewService(repo *Repo, gen Generator, opts Options) *Service {
	s := &Service{
		repo:     repo,
		gen:      gen,
		window:   opts.WindowSize,
		maxChars: opts.MaxMessageChars,
		locker:   opts.Locker,
		alerter:  opts.Alerter,
		events:   opts.Events,
		staleJob: opts.JobStaleAfter,
		now:      opts.Now,
	}
	if s.window <= 0 || s.window > 100 {
		s.window = defaultWindowSize
	}
	if s.maxChars <= 0 {
		s.maxChars = 4000
	}
	if s.locker == nil {
		s.locker = NewKeyedMutex()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.staleJob <= 0 {
		s.staleJob = defaultJobStaleAfter
	}
	return s
}

type SendInput struct {
	UserID    uint64
	SessionID string
	Text      string
	Language  string
	Context   map[string]any
}

type SendResult struct {
	Reply     string            `json:"reply"`
	SessionID string            `json:"session_id"`
	ModelID   string            `json:"model_id"`
	IsCrisis  bool              `json:"is_crisis"`
	Severity  safety.Severity   `json:"severity,omitempty"`
	Resources []safety.Resource `json:"resources,omitempty"`
	Fallback  bool              `json:"fallback,omitempty"`
	Title     string            `json:"title,omitempty"`
}

func (s *Service) SendMessage(ctx context.Context, in SendInput) (SendResult, error) {
	start := s.now()
	log := observability.LoggerFromContext(ctx)

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return SendResult{}, fmt.Errorf("%w: message is empty", common.ErrValidation)
	}
	if utf8.RuneCountInString(text) > s.maxChars {
		return SendResult{}, fmt.Errorf("%w: message exceeds %d characters", common.ErrValidation, s.maxChars)
	}

	var sess *Session
	if in.SessionID != "" {
		got, err := s.repo.GetOwnedSession(ctx, in.UserID, in.SessionID)
		if err != nil {
			return SendResult{}, err
		}
		sess = got
	}

	lang := in.Language
	if lang == "" && sess != nil {
		lang = sess.Language
	}
	if lang == "" {
		lang = "en"
	}

	// Safety first: nothing below runs for crisis text.
	if det := safety.Detect(text); det.IsCrisis {
		return s.crisisTurn(ctx, in.UserID, sess, lang, det), nil
	}

	if sess == nil {
		created, err := s.createSession(ctx, in.UserID, lang, in.Context)
		if err != nil {
			return SendResult{}, err
		}
		sess = created
	}

	unlock, err := s.locker.Lock(ctx, sess.SessionID)
	if err != nil {
		return SendResult{}, fmt.Errorf("acquire turn lock: %w", err)
	}
	defer unlock()

	// Re-read under the lock so status, count and title are current.
	sess, err = s.repo.GetOwnedSession(ctx, in.UserID, sess.SessionID)
	if err != nil {
		return SendResult{}, err
	}
	if sess.Status != StatusActive {
		return SendResult{}, fmt.Errorf("%w: session is %s", common.ErrConflict, sess.Status)
	}

	s.publish(in.UserID, "typing", map[string]any{"session_id": sess.SessionID})

	recent, err := s.repo.ListRecentMessagesDesc(ctx, sess.SessionID, s.window)
	if err != nil {
		return SendResult{}, err
	}

	promptCtx := map[string]any(sess.Context)
	if len(in.Context) > 0 {
		promptCtx = make(map[string]any, len(sess.Context)+len(in.Context))
		maps.Copy(promptCtx, sess.Context)
		maps.Copy(promptCtx, in.Context)
	}

	res := SendResult{SessionID: sess.SessionID}
	out, err := s.gen.Invoke(ctx, ai.Invocation{
		Prompt:    text,
		Context:   contextFor(recent, s.window),
		System:    buildSystemPrompt(lang, promptCtx),
		MaxTokens: Budget(text),
	})
	if err != nil {
		log.Error("chat turn fell back to canned reply", "session_id", sess.SessionID, "error", err)
		observability.FallbackReplies.Inc()
		res.Reply = FallbackReply(lang)
		res.ModelID = ModelFallback
		res.Fallback = true
	} else {
		res.Reply = out.Text
		res.ModelID = out.ModelID
	}

	userMsg := &Message{SessionID: sess.SessionID, UserID: in.UserID, Role: RoleUser, Content: text, Language: lang}
	agentMsg := &Message{SessionID: sess.SessionID, UserID: in.UserID, Role: RoleAgent, Content: res.Reply, Language: lang, IsFallback: res.Fallback}
	if err := s.repo.AppendTurn(ctx, userMsg, agentMsg, s.now()); err != nil {
		return SendResult{}, err
	}
	sess.MessageCount += 2

	if !res.Fallback {
		res.Title = s.maybeGenerateTitle(ctx, sess)
	}

	s.publish(in.UserID, "reply", res)
	observability.ChatTurnSeconds.Observe(s.now().Sub(start).Seconds())
	return res, nil
}

func (s *Service) crisisTurn(ctx context.Context, userID uint64, sess *Session, lang string, det safety.Result) SendResult {
	log := observability.LoggerFromContext(ctx)
	observability.CrisisDetections.WithLabelValues("chat", string(det.Severity)).Inc()

	res := SendResult{
		Reply:     safety.CrisisReply(lang),
		ModelID:   ModelCrisisResponse,
		IsCrisis:  true,
		Severity:  det.Severity,
		Resources: safety.Resources(),
	}
	if sess != nil {
		res.SessionID = sess.SessionID
		if err := s.repo.Touch(ctx, sess.SessionID, s.now()); err != nil {
			log.Warn("touch session after crisis message", "session_id", sess.SessionID, "error", err)
		}
	}
	log.Warn("crisis message detected", "user_id", userID, "session_id", res.SessionID, "severity", det.Severity)

	if s.alerter != nil {
		alert := notify.Alert{
			Kind:       "chat",
			ContentID:  res.SessionID,
			UserID:     userID,
			Severity:   string(det.Severity),
			Indicators: det.Indicators,
			At:         s.now(),
		}
		if err := s.alerter.Publish(ctx, alert); err != nil {
			log.Error("publish crisis alert", "error", err)
		}
	}
	s.publish(userID, "crisis", res)
	return res
}

func (s *Service) createSession(ctx context.Context, userID uint64, lang string, data map[string]any) (*Session, error) {
	sid, err := NewSessionID()
	if err != nil {
		return nil, err
	}
	sess := &Session{
		SessionID:    sid,
		UserID:       userID,
		Language:     lang,
		Status:       StatusActive,
		Context:      data,
		LastActivity: s.now(),
	}
	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Service) publish(userID uint64, kind string, data any) {
	if s.events != nil {
		s.events.Publish(userID, kind, data)
	}
}

// GetConversation returns the session with its full log.
func (s *Service) GetConversation(ctx context.Context, userID uint64, sessionID string) (*Session, error) {
	sess, err := s.repo.GetOwnedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.repo.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sess.Messages = msgs
	return sess, nil
}

func (s *Service) ListSessions(ctx context.Context, userID uint64, status SessionStatus, page, pageSize int) ([]Session, int64, error) {
	switch status {
	case "", StatusActive, StatusCompleted, StatusArchived:
	default:
		return nil, 0, fmt.Errorf("%w: unknown status %q", common.ErrValidation, status)
	}
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return s.repo.ListSessions(ctx, userID, status, pageSize, (page-1)*pageSize)
}

func (s *Service) UpdateSessionContext(ctx context.Context, userID uint64, sessionID string, data map[string]any) error {
	if data == nil {
		return fmt.Errorf("%w: context is required", common.ErrValidation)
	}
	return s.repo.UpdateContext(ctx, userID, sessionID, data)
}

// CloseSession completes an active session, storing a model summary when
// one can be produced.
func (s *Service) CloseSession(ctx context.Context, userID uint64, sessionID string) (*Session, error) {
	unlock, err := s.locker.Lock(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("acquire turn lock: %w", err)
	}
	defer unlock()

	sess, err := s.repo.GetOwnedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != StatusActive {
		return nil, fmt.Errorf("%w: session is %s", common.ErrConflict, sess.Status)
	}

	msgs, err := s.repo.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var summary string
	if len(msgs) > 0 {
		out, err := s.gen.Invoke(ctx, ai.Invocation{Prompt: summaryPrompt(msgs), MaxTokens: 400})
		if err != nil {
			observability.LoggerFromContext(ctx).Warn("conversation summary failed", "session_id", sessionID, "error", err)
		} else {
			summary = strings.TrimSpace(out.Text)
		}
	}

	if err := s.repo.CloseSession(ctx, userID, sessionID, summary, s.now()); err != nil {
		return nil, err
	}
	sess.Status = StatusCompleted
	sess.Summary = summary
	return sess, nil
}

func (s *Service) DeleteSession(ctx context.Context, userID uint64, sessionID string) error {
	unlock, err := s.locker.Lock(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("acquire turn lock: %w", err)
	}
	defer unlock()
	return s.repo.DeleteSession(ctx, userID, sessionID)
}

func (s *Service) SubmitFeedback(ctx context.Context, userID uint64, sessionID string, rating int, comment string) error {
	if rating < 1 || rating > 5 {
		return fmt.Errorf("%w: rating must be between 1 and 5", common.ErrValidation)
	}
	comment = strings.TrimSpace(comment)
	if utf8.RuneCountInString(comment) > 1000 {
		return fmt.Errorf("%w: comment exceeds 1000 characters", common.ErrValidation)
	}
	return s.repo.SaveFeedback(ctx, userID, sessionID, rating, comment)
}

// Async jobs

func (s *Service) CreateJobOrGetExisting(ctx context.Context, job *Job) (*Job, bool, error) {
	return s.repo.CreateJobOrGetExisting(ctx, job)
}

// GetJob returns a job owned by userID.
func (s *Service) GetJob(ctx context.Context, userID uint64, jobID string) (*Job, error) {
	job, err := s.repo.GetJobByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, fmt.Errorf("%w: job", common.ErrNotFound)
	}
	return job, nil
}

const defaultJobStaleAfter = 5 * time.Minute

// ErrJobInFlight means another worker holds the job and it is not stale yet.
var ErrJobInFlight = errors.New("job is running elsewhere")

// JobStaleAfter reports how long a running job is left alone.
func (s *Service) JobStaleAfter() time.Duration { return s.staleJob }

// RunJob executes a job as a normal chat turn. Finished and unknown jobs are
// skipped, so redelivered messages are harmless. A job still running
// elsewhere yields ErrJobInFlight; once stale it is reclaimed and run again.
func (s *Service) RunJob(ctx context.Context, jobID string) error {
	claimed, err := s.repo.UpdateJobStatusRunning(ctx, jobID, s.now().Add(-s.staleJob))
	if err != nil {
		return err
	}
	if !claimed {
		job, err := s.repo.GetJobByID(ctx, jobID)
		switch {
		case errors.Is(err, common.ErrNotFound):
			return nil
		case err != nil:
			return err
		case job.Status == JobRunning:
			return ErrJobInFlight
		}
		return nil
	}

	job, err := s.repo.GetJobByID(ctx, jobID)
	if err != nil {
		return err
	}

	res, err := s.SendMessage(ctx, SendInput{
		UserID:    job.UserID,
		SessionID: job.SessionID,
		Text:      job.Prompt,
		Language:  job.Language,
	})
	if err != nil {
		if mErr := s.repo.MarkJobFailed(context.Background(), jobID, err.Error()); mErr != nil {
			return errors.Join(err, mErr)
		}
		return err
	}
	return s.repo.MarkJobSucceeded(ctx, jobID, res)
}

func NewSessionID() (string, error) {
	return common.NewULID()
}
