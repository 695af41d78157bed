package rabbitmq

import (
	"context"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer owns the worker's connection and its single consuming channel.
type Consumer struct {
	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
	topo Topology
}

// NewConsumer declares the topology and sets QoS so the broker never hands
// out more than prefetch unacked deliveries.
func NewConsumer(url, queue string, prefetch int) (*Consumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	topo := TopologyFor(queue)
	if err := declare(ch, topo); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Consumer{conn: conn, ch: ch, topo: topo}, nil
}

func (c *Consumer) Queue() string { return c.topo.Main }

// Deliveries starts a manual-ack consumer on the main queue.
func (c *Consumer) Deliveries(tag string) (<-chan amqp.Delivery, error) {
	return c.ch.Consume(c.topo.Main, tag, false, false, false, false, nil)
}

// Defer parks a copy of d on the retry queue for delay, after which the
// broker dead-letters it back to the main queue. The caller acks d.
func (c *Consumer) Defer(ctx context.Context, d amqp.Delivery, delay time.Duration) error {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ch.PublishWithContext(cctx, "", c.topo.Retry, false, false, amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageId,
		Body:         d.Body,
		Timestamp:    time.Now(),
		Expiration:   expiration(delay),
	})
}

// expiration renders a per-message TTL in the broker's millisecond format.
func expiration(delay time.Duration) string {
	ms := delay.Milliseconds()
	if ms < 1000 {
		ms = 1000
	}
	return strconv.FormatInt(ms, 10)
}

func (c *Consumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
