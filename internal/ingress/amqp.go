package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	amqp091 "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/penguintechinc/waddlebot-router/internal/config"
	"github.com/penguintechinc/waddlebot-router/internal/logging"
	"github.com/penguintechinc/waddlebot-router/internal/rterrors"
)

// Consumer durably pulls events off an AMQP queue for at-least-once
// ingestion, acknowledging once the event has been processed to completion.
// Audit records are handed to the buffered audit sink, and the ack does not
// wait for them to be written. A message is requeued only when
// processing itself could not run, never when the event was merely denied
// or failed downstream.
type Consumer struct {
	conn      *amqp091.Connection
	ch        *amqp091.Channel
	queue     string
	processor Processor
	deadline  time.Duration

	consumed atomic.Int64
	acked    atomic.Int64
	nacked   atomic.Int64

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewConsumer dials the broker and opens a channel, but does not start
// consuming until Run is called.
func NewConsumer(cfg config.QueueConfig, processor Processor, eventDeadline time.Duration) (*Consumer, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("ingress amqp consumer: url is required")
	}
	conn, err := amqp091.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("ingress amqp consumer: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ingress amqp consumer: channel: %w", err)
	}
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 32
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("ingress amqp consumer: qos: %w", err)
	}
	if eventDeadline <= 0 {
		eventDeadline = 15 * time.Second
	}
	return &Consumer{
		conn:      conn,
		ch:        ch,
		queue:     cfg.Queue,
		processor: processor,
		deadline:  eventDeadline,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// Run consumes until Close is called or the channel delivery stream closes.
func (c *Consumer) Run() error {
	defer close(c.doneCh)

	deliveries, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("ingress amqp consumer: consume: %w", err)
	}

	for {
		select {
		case <-c.stopCh:
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			c.handle(d)
		}
	}
}

func (c *Consumer) handle(d amqp091.Delivery) {
	c.consumed.Add(1)

	var w wireEvent
	if err := json.Unmarshal(d.Body, &w); err != nil {
		logging.Warn("ingress amqp malformed payload, dropping", zap.Error(err))
		d.Ack(false)
		c.acked.Add(1)
		return
	}

	ev, err := toEvent(w)
	if err != nil {
		logging.Warn("ingress amqp malformed event, dropping", zap.Error(err))
		d.Ack(false)
		c.acked.Add(1)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.deadline)
	err = c.processor.Process(ctx, ev)
	cancel()

	if re, ok := rterrors.As(err); ok && re.Class() == rterrors.ClassInternal {
		logging.Warn("ingress amqp processing unavailable, requeuing", zap.String("event_id", ev.ID), zap.Error(err))
		d.Nack(false, true)
		c.nacked.Add(1)
		return
	}

	d.Ack(false)
	c.acked.Add(1)
}

// Stats reports consumer counters.
type ConsumerStats struct {
	Consumed, Acked, Nacked int64
}

// Stats returns a snapshot of consumer counters.
func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{Consumed: c.consumed.Load(), Acked: c.acked.Load(), Nacked: c.nacked.Load()}
}

// Close stops consuming and tears down the channel/connection. It waits for
// Run's delivery loop to exit before closing the channel, so an in-flight
// Ack/Nack never races a closed channel.
func (c *Consumer) Close() error {
	close(c.stopCh)
	<-c.doneCh
	c.ch.Close()
	return c.conn.Close()
}
