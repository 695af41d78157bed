// Package notify fans crisis alerts out to the crisis team over NATS.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Alert announces crisis content that needs human attention.
type Alert struct {
	Kind       string    `json:"kind"` // chat, post, reply
	ContentID  string    `json:"content_id,omitempty"`
	UserID     uint64    `json:"user_id"`
	Severity   string    `json:"severity"`
	Indicators []string  `json:"indicators,omitempty"`
	Queue      string    `json:"queue,omitempty"`
	At         time.Time `json:"at"`
}

type publisher interface {
	Publish(subject string, data []byte) error
}

type Client struct {
	conn    publisher
	nc      *nats.Conn
	subject string
	subs    []*nats.Subscription
	logger  *slog.Logger
}

func NewClient(url, token, subject string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name("mindflow"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &Client{conn: nc, nc: nc, subject: subject, logger: logger}, nil
}

// Publish sends one alert on the configured subject.
func (c *Client) Publish(ctx context.Context, a Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	if err := c.conn.Publish(c.subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", c.subject, err)
	}
	return nil
}

// Subscribe decodes alerts from the configured subject and hands them to fn.
// Undecodable payloads are logged and dropped.
func (c *Client) Subscribe(fn func(Alert)) error {
	if c.nc == nil {
		return fmt.Errorf("subscribe %s: no nats connection", c.subject)
	}
	sub, err := c.nc.Subscribe(c.subject, func(msg *nats.Msg) {
		var a Alert
		if err := json.Unmarshal(msg.Data, &a); err != nil {
			c.logger.Warn("drop malformed crisis alert", "subject", msg.Subject, "error", err)
			return
		}
		fn(a)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", c.subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("subscribed", "subject", c.subject)
	return nil
}

func (c *Client) Close() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	if c.nc != nil {
		c.nc.Close()
	}
}
