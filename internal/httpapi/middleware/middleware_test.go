package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/mindflow/internal/auth"
	"github.com/suPer8Hu/mindflow/internal/observability"
)

const secret = "test-secret"

func init() { gin.SetMode(gin.TestMode) }

func newEngine(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw...)
	r.GET("/x", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"uid":  c.GetUint64(UserIDKey),
			"role": c.GetString(RoleKey),
			"rid":  observability.RequestID(c.Request.Context()),
		})
	})
	r.GET("/panic", func(c *gin.Context) { panic("boom") })
	return r
}

func do(r http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthRequired(t *testing.T) {
	r := newEngine(AuthRequired(secret))
	good, _ := auth.SignJWT(42, secret, time.Hour)
	expired, _ := auth.SignJWT(42, secret, -time.Minute)
	foreign, _ := auth.SignJWT(42, "other", time.Hour)

	cases := []struct {
		name  string
		path  string
		token string
		want  int
	}{
		{"valid", "/x", good, http.StatusOK},
		{"missing", "/x", "", http.StatusUnauthorized},
		{"expired", "/x", expired, http.StatusUnauthorized},
		{"wrong secret", "/x", foreign, http.StatusUnauthorized},
		{"query token", "/x?access_token=" + good, "", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if w := do(r, tc.path, tc.token); w.Code != tc.want {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tc.want, w.Body.String())
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	r := newEngine(AuthRequired(secret), RequireRole(auth.RoleModerator))
	member, _ := auth.SignJWT(1, secret, time.Hour)
	mod, _ := auth.SignJWTWithRole(2, auth.RoleModerator, secret, time.Hour)

	if w := do(r, "/x", member); w.Code != http.StatusForbidden {
		t.Fatalf("member status = %d", w.Code)
	}
	if w := do(r, "/x", mod); w.Code != http.StatusOK {
		t.Fatalf("moderator status = %d", w.Code)
	}
}

func TestRequestID(t *testing.T) {
	r := newEngine(RequestID())

	w := do(r, "/x", "")
	if w.Header().Get(RequestIDHeader) == "" {
		t.Fatalf("request id not minted")
	}

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get(RequestIDHeader); got != "abc-123" {
		t.Fatalf("request id = %q", got)
	}
}

func TestRecovery(t *testing.T) {
	r := newEngine(RequestID(), Recovery())
	if w := do(r, "/panic", ""); w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestRateLimit_PerUser(t *testing.T) {
	pool := NewLimiterPool(0.001, 2)
	defer pool.Close()
	r := newEngine(AuthRequired(secret), RateLimit(pool))
	a, _ := auth.SignJWT(1, secret, time.Hour)
	b, _ := auth.SignJWT(2, secret, time.Hour)

	for i := 0; i < 2; i++ {
		if w := do(r, "/x", a); w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, w.Code)
		}
	}
	if w := do(r, "/x", a); w.Code != http.StatusTooManyRequests {
		t.Fatalf("third request status = %d", w.Code)
	}
	if w := do(r, "/x", b); w.Code != http.StatusOK {
		t.Fatalf("other user should have its own bucket, got %d", w.Code)
	}
}

func TestLimiterPool_Sweep(t *testing.T) {
	p := NewLimiterPool(1, 1)
	defer p.Close()
	p.Allow("a")
	p.sweep(time.Now().Add(time.Second))
	p.mu.Lock()
	n := len(p.m)
	p.mu.Unlock()
	if n != 0 {
		t.Fatalf("entries after sweep = %d", n)
	}
}
