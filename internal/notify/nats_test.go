package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"
)

type captureConn struct {
	subject string
	data    []byte
	err     error
}

func (c *captureConn) Publish(subject string, data []byte) error {
	c.subject = subject
	c.data = data
	return c.err
}

func TestClientPublish(t *testing.T) {
	conn := &captureConn{}
	c := &Client{conn: conn, subject: "wellness.crisis.escalated", logger: slog.Default()}

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	err := c.Publish(context.Background(), Alert{Kind: "post", ContentID: "01ABC", UserID: 7, Severity: "high", At: at})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if conn.subject != "wellness.crisis.escalated" {
		t.Fatalf("subject = %q", conn.subject)
	}
	var got Alert
	if err := json.Unmarshal(conn.data, &got); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if got.ContentID != "01ABC" || got.Severity != "high" || !got.At.Equal(at) {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestClientPublish_Errors(t *testing.T) {
	c := &Client{conn: &captureConn{err: errors.New("nats: connection closed")}, subject: "s", logger: slog.Default()}
	if err := c.Publish(context.Background(), Alert{}); err == nil {
		t.Fatalf("expected publish error")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok := &captureConn{}
	c = &Client{conn: ok, subject: "s", logger: slog.Default()}
	if err := c.Publish(ctx, Alert{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if ok.data != nil {
		t.Fatalf("nothing should be sent on a cancelled context")
	}
}
