package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gormsqlite "github.com/glebarez/sqlite"
	"github.com/suPer8Hu/mindflow/internal/ai"
	"github.com/suPer8Hu/mindflow/internal/auth"
	"github.com/suPer8Hu/mindflow/internal/chat"
	"github.com/suPer8Hu/mindflow/internal/httpapi/handlers"
	"github.com/suPer8Hu/mindflow/internal/httpapi/middleware"
	"github.com/suPer8Hu/mindflow/internal/language"
	"github.com/suPer8Hu/mindflow/internal/live"
	"github.com/suPer8Hu/mindflow/internal/moderation"
	"github.com/suPer8Hu/mindflow/internal/store/rabbitmq"
	"gorm.io/gorm"
)

const secret = "router-test-secret"

func init() { gin.SetMode(gin.TestMode) }

var dbSeq atomic.Int64

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:routertest%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	models := append(chat.Models(), moderation.Models()...)
	if err := db.AutoMigrate(models...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

type echoGen struct{}

func (echoGen) Invoke(ctx context.Context, inv ai.Invocation) (ai.Result, error) {
	return ai.Result{Text: "I hear you.", ModelID: "test-model"}, nil
}

type neutralAnalyzer struct{}

func (neutralAnalyzer) Analyze(ctx context.Context, text string) (language.Signal, error) {
	return language.Signal{Score: 0.2, Magnitude: 0.3}, nil
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []rabbitmq.JobMessage
}

func (p *fakePublisher) PublishJob(ctx context.Context, m rabbitmq.JobMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, m)
	return nil
}

type testEnv struct {
	router http.Handler
	jobs   *fakePublisher
	hub    *live.Hub
}

func newEnv(t *testing.T, limiter *middleware.LimiterPool) *testEnv {
	t.Helper()
	db := openTestDB(t)
	hub := live.NewHub(16)
	t.Cleanup(hub.Close)

	chatSvc := chat.NewService(chat.NewRepo(db), echoGen{}, chat.Options{Events: hub})
	modRepo := moderation.NewRepo(db)
	forumSvc := moderation.NewService(modRepo, moderation.NewScorer(neutralAnalyzer{}), moderation.NewEscalator(modRepo, nil), "alias")

	jobs := &fakePublisher{}
	h := handlers.NewHandler(chatSvc, forumSvc, jobs, hub)
	h.Heartbeat = 50 * time.Millisecond
	return &testEnv{router: NewRouter(h, RouterConfig{JWTSecret: secret, Limiter: limiter}), jobs: jobs, hub: hub}
}

func token(t *testing.T, uid uint64, role string) string {
	t.Helper()
	tok, err := auth.SignJWTWithRole(uid, role, secret, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *testEnv) call(t *testing.T, method, path, tok string, body any, hdr ...string) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var out envelope
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("%s %s: bad envelope %q: %v", method, path, w.Body.String(), err)
	}
	return w.Code, out
}

func TestPingAndAuth(t *testing.T) {
	e := newEnv(t, nil)
	if code, _ := e.call(t, http.MethodGet, "/ping", "", nil); code != http.StatusOK {
		t.Fatalf("ping = %d", code)
	}
	if code, _ := e.call(t, http.MethodGet, "/chat/sessions", "", nil); code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated = %d", code)
	}
	if code, _ := e.call(t, http.MethodGet, "/nope", "", nil); code != http.StatusNotFound {
		t.Fatalf("no route = %d", code)
	}
}

func TestChatFlow(t *testing.T) {
	e := newEnv(t, nil)
	alice := token(t, 1, auth.RoleMember)
	bob := token(t, 2, auth.RoleMember)

	code, env := e.call(t, http.MethodPost, "/chat/messages", alice, map[string]any{"message": "I had a long day at work"})
	if code != http.StatusOK {
		t.Fatalf("send = %d %s", code, env.Message)
	}
	var res chat.SendResult
	_ = json.Unmarshal(env.Data, &res)
	if res.SessionID == "" || res.Reply != "I hear you." || res.ModelID != "test-model" {
		t.Fatalf("unexpected result: %+v", res)
	}

	if code, env := e.call(t, http.MethodPost, "/chat/messages", alice, map[string]any{"message": "   "}); code != http.StatusBadRequest || env.Code != 40001 {
		t.Fatalf("empty message = %d/%d", code, env.Code)
	}

	path := "/chat/sessions/" + res.SessionID
	if code, _ := e.call(t, http.MethodGet, path, bob, nil); code != http.StatusNotFound {
		t.Fatalf("foreign session = %d", code)
	}
	code, env = e.call(t, http.MethodGet, path, alice, nil)
	if code != http.StatusOK {
		t.Fatalf("get session = %d", code)
	}
	var sess chat.Session
	_ = json.Unmarshal(env.Data, &sess)
	if len(sess.Messages) != 2 {
		t.Fatalf("messages = %d", len(sess.Messages))
	}

	if code, _ := e.call(t, http.MethodPost, path+"/feedback", alice, map[string]any{"rating": 9}); code != http.StatusBadRequest {
		t.Fatalf("bad rating = %d", code)
	}
	if code, _ := e.call(t, http.MethodPost, path+"/close", alice, nil); code != http.StatusOK {
		t.Fatalf("close = %d", code)
	}
	if code, env := e.call(t, http.MethodPost, "/chat/messages", alice, map[string]any{"session_id": res.SessionID, "message": "hello again"}); code != http.StatusConflict {
		t.Fatalf("message to closed session = %d %s", code, env.Message)
	}
	if code, _ := e.call(t, http.MethodDelete, path, alice, nil); code != http.StatusOK {
		t.Fatalf("delete = %d", code)
	}
}

func TestChatCrisisTurn(t *testing.T) {
	e := newEnv(t, nil)
	alice := token(t, 1, auth.RoleMember)

	code, env := e.call(t, http.MethodPost, "/chat/messages", alice, map[string]any{"message": "I want to end my life"})
	if code != http.StatusOK {
		t.Fatalf("send = %d", code)
	}
	var res chat.SendResult
	_ = json.Unmarshal(env.Data, &res)
	if !res.IsCrisis || res.ModelID != chat.ModelCrisisResponse || len(res.Resources) == 0 || res.SessionID != "" {
		t.Fatalf("unexpected crisis result: %+v", res)
	}
}

func TestAsyncJobIdempotency(t *testing.T) {
	e := newEnv(t, nil)
	alice := token(t, 1, auth.RoleMember)
	body := map[string]any{"message": "can we talk later?"}

	code, first := e.call(t, http.MethodPost, "/chat/messages/async", alice, body, "Idempotency-Key", "k-1")
	if code != http.StatusAccepted {
		t.Fatalf("async = %d %s", code, first.Message)
	}
	_, second := e.call(t, http.MethodPost, "/chat/messages/async", alice, body, "Idempotency-Key", "k-1")

	var a, b struct {
		JobID   string `json:"job_id"`
		Created bool   `json:"created"`
	}
	_ = json.Unmarshal(first.Data, &a)
	_ = json.Unmarshal(second.Data, &b)
	if a.JobID == "" || a.JobID != b.JobID || !a.Created || b.Created {
		t.Fatalf("idempotency broken: %+v %+v", a, b)
	}
	if len(e.jobs.msgs) != 1 || e.jobs.msgs[0].JobID != a.JobID {
		t.Fatalf("published %+v", e.jobs.msgs)
	}

	if code, _ := e.call(t, http.MethodGet, "/chat/jobs/"+a.JobID, alice, nil); code != http.StatusOK {
		t.Fatalf("get job = %d", code)
	}
	if code, _ := e.call(t, http.MethodGet, "/chat/jobs/"+a.JobID, token(t, 2, auth.RoleMember), nil); code != http.StatusNotFound {
		t.Fatalf("foreign job = %d", code)
	}
}

func TestForumRoutes(t *testing.T) {
	e := newEnv(t, nil)
	alice := token(t, 1, auth.RoleMember)
	mod := token(t, 9, auth.RoleModerator)

	code, env := e.call(t, http.MethodPost, "/forum/posts", alice, map[string]any{
		"title": "First week", "content": "Settling in slowly", "type": "discussion", "tags": []string{"intro"},
	})
	if code != http.StatusCreated {
		t.Fatalf("create = %d %s", code, env.Message)
	}
	var created moderation.CreatePostResult
	_ = json.Unmarshal(env.Data, &created)
	id := created.Post.ID

	if code, _ := e.call(t, http.MethodPost, "/forum/posts/"+id+"/like", mod, nil); code != http.StatusOK {
		t.Fatalf("like = %d", code)
	}
	if code, _ := e.call(t, http.MethodPatch, "/forum/posts/"+id, mod, map[string]any{"title": "hijack"}); code != http.StatusForbidden {
		t.Fatalf("foreign edit = %d", code)
	}
	if code, _ := e.call(t, http.MethodPost, "/forum/posts/"+id+"/replies", mod, map[string]any{"content": "Welcome!"}); code != http.StatusCreated {
		t.Fatalf("reply = %d", code)
	}
	if code, _ := e.call(t, http.MethodGet, "/forum/crisis", alice, nil); code != http.StatusForbidden {
		t.Fatalf("member crisis list = %d", code)
	}
	if code, _ := e.call(t, http.MethodGet, "/forum/crisis", mod, nil); code != http.StatusOK {
		t.Fatalf("moderator crisis list = %d", code)
	}
	if code, _ := e.call(t, http.MethodPost, "/forum/posts/"+id+"/report", mod, map[string]any{"reason": "off topic"}); code != http.StatusOK {
		t.Fatalf("report = %d", code)
	}
	if code, _ := e.call(t, http.MethodPost, "/forum/posts/"+id+"/review", mod, map[string]any{"status": "approved"}); code != http.StatusOK {
		t.Fatalf("review = %d", code)
	}

	code, env = e.call(t, http.MethodGet, "/forum/posts?tag=intro", alice, nil)
	var list struct {
		Total int64 `json:"total"`
	}
	_ = json.Unmarshal(env.Data, &list)
	if code != http.StatusOK || list.Total != 1 {
		t.Fatalf("list = %d total=%d", code, list.Total)
	}
}

func TestRateLimitOnChat(t *testing.T) {
	pool := middleware.NewLimiterPool(0.001, 1)
	t.Cleanup(pool.Close)
	e := newEnv(t, pool)
	alice := token(t, 1, auth.RoleMember)

	if code, _ := e.call(t, http.MethodPost, "/chat/messages", alice, map[string]any{"message": "hi"}); code != http.StatusOK {
		t.Fatalf("first = %d", code)
	}
	if code, env := e.call(t, http.MethodPost, "/chat/messages", alice, map[string]any{"message": "hi"}); code != http.StatusTooManyRequests || env.Code != 42901 {
		t.Fatalf("second = %d/%d", code, env.Code)
	}
	if code, _ := e.call(t, http.MethodGet, "/chat/sessions", alice, nil); code != http.StatusOK {
		t.Fatalf("reads are not limited, got %d", code)
	}
}

func TestChatEventsStream(t *testing.T) {
	e := newEnv(t, nil)
	srv := httptest.NewServer(e.router)
	defer srv.Close()
	alice := token(t, 1, auth.RoleMember)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/chat/events", nil)
	req.Header.Set("Authorization", "Bearer "+alice)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type = %q", ct)
	}

	deadline := time.Now().Add(2 * time.Second)
	for e.hub.Subscribers(1) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscription never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	go func() {
		body := strings.NewReader(`{"message":"just checking in"}`)
		r, _ := http.NewRequest(http.MethodPost, srv.URL+"/chat/messages", body)
		r.Header.Set("Authorization", "Bearer "+alice)
		r.Header.Set("Content-Type", "application/json")
		if res, err := http.DefaultClient.Do(r); err == nil {
			res.Body.Close()
		}
	}()

	seen := map[string]bool{}
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if kind, ok := strings.CutPrefix(line, "event: "); ok {
			seen[kind] = true
			if kind == "reply" {
				break
			}
		}
	}
	if !seen["typing"] || !seen["reply"] {
		t.Fatalf("events seen: %v (scan err %v)", seen, sc.Err())
	}
}

func TestCORSPreflight(t *testing.T) {
	e := newEnv(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/chat/messages", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization, Idempotency-Key")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("allow origin = %q", got)
	}
}
