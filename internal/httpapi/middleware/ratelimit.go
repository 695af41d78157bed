package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/mindflow/internal/common"
	"golang.org/x/time/rate"
)

type limiterEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

// LimiterPool is a per-key token bucket pool. Entries idle for longer than
// ttl are swept by a background loop started on first use.
type LimiterPool struct {
	mu           sync.Mutex
	m            map[string]*limiterEntry
	rps          rate.Limit
	burst        int
	ttl          time.Duration
	startCleanup sync.Once
	stop         chan struct{}
	stopOnce     sync.Once
}

func NewLimiterPool(rps float64, burst int) *LimiterPool {
	if rps <= 0 {
		rps = 2
	}
	if burst <= 0 {
		burst = 5
	}
	return &LimiterPool{
		m:     make(map[string]*limiterEntry),
		rps:   rate.Limit(rps),
		burst: burst,
		ttl:   10 * time.Minute,
		stop:  make(chan struct{}),
	}
}

func (p *LimiterPool) get(key string) *rate.Limiter {
	p.startCleanup.Do(func() { go p.cleanupLoop(time.Minute) })

	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.m[key]; ok {
		e.lastSeen = time.Now()
		return e.l
	}
	l := rate.NewLimiter(p.rps, p.burst)
	p.m[key] = &limiterEntry{l: l, lastSeen: time.Now()}
	return l
}

func (p *LimiterPool) Allow(key string) bool {
	return p.get(key).Allow()
}

func (p *LimiterPool) cleanupLoop(period time.Duration) {
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-t.C:
			p.sweep(time.Now().Add(-p.ttl))
		}
	}
}

func (p *LimiterPool) sweep(cutoff time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, e := range p.m {
		if e.lastSeen.Before(cutoff) {
			delete(p.m, k)
		}
	}
}

func (p *LimiterPool) Close() {
	p.stopOnce.Do(func() { close(p.stop) })
}

// RateLimit keys on the authenticated user, falling back to the client IP.
func RateLimit(p *LimiterPool) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if v, ok := c.Get(UserIDKey); ok {
			if uid, ok := v.(uint64); ok {
				key = "user:" + strconv.FormatUint(uid, 10)
			}
		}
		if !p.Allow(key) {
			c.Header("Retry-After", "1")
			common.AbortFail(c, http.StatusTooManyRequests, 42901, "too many requests")
			return
		}
		c.Next()
	}
}
