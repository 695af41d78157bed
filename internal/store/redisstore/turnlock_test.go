package redisstore

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// These tests need a live server: REDIS_TEST_ADDR=localhost:6379 go test ./...
func testStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	s := New(addr, "", 15)
	if err := s.Ping(context.Background()); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestTurnLockKey(t *testing.T) {
	if got := turnLockKey("01HX"); got != "chat:turnlock:01HX" {
		t.Fatalf("key = %q", got)
	}
}

func TestTurnLock_MutualExclusion(t *testing.T) {
	s := testStore(t)
	l := s.TurnLock(5 * time.Second)
	key := "test-" + time.Now().Format("150405.000000")

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), key)
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			n := inside.Add(1)
			if n > maxInside.Load() {
				maxInside.Store(n)
			}
			time.Sleep(20 * time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	if maxInside.Load() != 1 {
		t.Fatalf("max holders = %d, want 1", maxInside.Load())
	}
}

func TestTurnLock_HonoursContext(t *testing.T) {
	s := testStore(t)
	l := s.TurnLock(5 * time.Second)
	key := "test-ctx-" + time.Now().Format("150405.000000")

	unlock, err := l.Lock(context.Background(), key)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, key); err == nil {
		t.Fatalf("second lock should time out")
	}
}
