// Package workbus implements the Work Bus (C4): three logical pipelines —
// chunk_processing, file_assembly, video_processing — each a {main, retry,
// dlq} triple of Redis Streams with consumer groups. Ordering within a
// pipeline is not guaranteed and correctness never depends on it.
package workbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/videoingest/videoingest/internal/apperror"
)

// Pipeline names the three logical queues the bus routes.
type Pipeline string

const (
	PipelineChunk    Pipeline = "chunk_processing"
	PipelineAssembly Pipeline = "file_assembly"
	PipelineProcess  Pipeline = "video_processing"
)

// MaxRetries is the number of retry-queue passes a message gets before it is
// routed to the dead-letter queue
const MaxRetries = 3

const consumerGroup = "workbus"

// Envelope is the on-wire shape of every message: {payload, retry_count}.
type Envelope struct {
	ID         string          `json:"id"`
	Pipeline   Pipeline        `json:"pipeline"`
	Payload    json.RawMessage `json:"payload"`
	RetryCount int             `json:"retry_count"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Message is a delivered envelope plus the stream-specific ack handle.
type Message struct {
	Envelope Envelope
	ackID    string
	queue    string
}

// Bus is the Work Bus contract: publish onto a pipeline's main queue,
// consume from a pipeline (main queue first, falling back to retry), and
// explicitly ack/nack/dead-letter a delivered message.
type Bus interface {
	Publish(ctx context.Context, pipeline Pipeline, payload any) error
	Consume(ctx context.Context, pipeline Pipeline, consumer string, block time.Duration) (*Message, error)
	Ack(ctx context.Context, pipeline Pipeline, msg *Message) error
	// Nack requeues msg to the retry queue with an incremented retry_count,
	// or to the dead-letter queue once the incremented retry_count exceeds
	// MaxRetries.
	Nack(ctx context.Context, pipeline Pipeline, msg *Message) error
	// DeadLetter acks msg and routes it straight to the dead-letter queue,
	// bypassing the retry budget — used for apperror.ErrFatal failures
	// that retrying would never fix.
	DeadLetter(ctx context.Context, pipeline Pipeline, msg *Message) error
	PeekDLQ(ctx context.Context, pipeline Pipeline, count int64) ([]Message, error)
	ReplayDLQ(ctx context.Context, pipeline Pipeline, id string) error
	QueueDepth(ctx context.Context, pipeline Pipeline, queue string) (int64, error)
}

// RedisBus implements Bus on Redis Streams with one consumer group per
// stream, mirroring the broker construction file.cheap wires directly from
// a redis.Client in cmd/worker/main.go.
type RedisBus struct {
	client *redis.Client
}

func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

func mainKey(p Pipeline) string  { return fmt.Sprintf("workbus:%s:main", p) }
func retryKey(p Pipeline) string { return fmt.Sprintf("workbus:%s:retry", p) }
func dlqKey(p Pipeline) string   { return fmt.Sprintf("workbus:%s:dlq", p) }

// EnsureGroups creates the consumer group on each stream of each pipeline,
// tolerating BUSYGROUP if it already exists. Call once at process start.
func (b *RedisBus) EnsureGroups(ctx context.Context) error {
	pipelines := []Pipeline{PipelineChunk, PipelineAssembly, PipelineProcess}
	queues := []func(Pipeline) string{mainKey, retryKey}

	for _, p := range pipelines {
		for _, keyFn := range queues {
			key := keyFn(p)
			err := b.client.XGroupCreateMkStream(ctx, key, consumerGroup, "0").Err()
			if err != nil && !errors.Is(err, redis.Nil) && !isBusyGroup(err) {
				return fmt.Errorf("create group on %s: %w", key, err)
			}
		}
	}
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

func (b *RedisBus) Publish(ctx context.Context, pipeline Pipeline, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrInvalidInput)
	}

	env := Envelope{
		ID:         uuid.NewString(),
		Pipeline:   pipeline,
		Payload:    raw,
		RetryCount: 0,
		EnqueuedAt: time.Now().UTC(),
	}

	return b.publishEnvelope(ctx, mainKey(pipeline), env)
}

func (b *RedisBus) publishEnvelope(ctx context.Context, key string, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	err = b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		Values: map[string]any{"envelope": data},
	}).Err()
	if err != nil {
		return apperror.Wrap(err, apperror.ErrTransient)
	}
	return nil
}

// Consume reads one message from the pipeline's main queue, claiming from
// the retry queue when the main queue is empty. It blocks up to block
// waiting for a delivery; block <= 0 means return immediately if nothing is
// pending.
func (b *RedisBus) Consume(ctx context.Context, pipeline Pipeline, consumer string, block time.Duration) (*Message, error) {
	for _, queue := range []string{mainKey(pipeline), retryKey(pipeline)} {
		// A negative Block omits BLOCK; go-redis sends Block 0 as BLOCK 0,
		// which waits indefinitely.
		msg, err := b.consumeFrom(ctx, queue, consumer, -1)
		if err != nil {
			return nil, err
		}
		if msg != nil {
			return msg, nil
		}
	}

	if block <= 0 {
		return nil, nil
	}

	return b.consumeFrom(ctx, mainKey(pipeline), consumer, block)
}

func (b *RedisBus) consumeFrom(ctx context.Context, key, consumer string, block time.Duration) (*Message, error) {
	streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    consumerGroup,
		Consumer: consumer,
		Streams:  []string{key, ">"},
		Count:    1,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrTransient)
	}

	for _, stream := range streams {
		for _, xmsg := range stream.Messages {
			raw, ok := xmsg.Values["envelope"].(string)
			if !ok {
				continue
			}
			var env Envelope
			if err := json.Unmarshal([]byte(raw), &env); err != nil {
				return nil, fmt.Errorf("unmarshal envelope: %w", err)
			}
			return &Message{Envelope: env, ackID: xmsg.ID, queue: key}, nil
		}
	}
	return nil, nil
}

func (b *RedisBus) Ack(ctx context.Context, pipeline Pipeline, msg *Message) error {
	if err := b.client.XAck(ctx, msg.queue, consumerGroup, msg.ackID).Err(); err != nil {
		return apperror.Wrap(err, apperror.ErrTransient)
	}
	return nil
}

// Nack acks the original delivery (it will never be retried off the same
// message id) and republishes with retry_count+1 to retry, or to dlq once
// retry_count+1 exceeds MaxRetries.
func (b *RedisBus) Nack(ctx context.Context, pipeline Pipeline, msg *Message) error {
	if err := b.client.XAck(ctx, msg.queue, consumerGroup, msg.ackID).Err(); err != nil {
		return apperror.Wrap(err, apperror.ErrTransient)
	}

	next := msg.Envelope
	next.RetryCount++

	if next.RetryCount > MaxRetries {
		return b.publishEnvelope(ctx, dlqKey(pipeline), next)
	}
	return b.publishEnvelope(ctx, retryKey(pipeline), next)
}

// DeadLetter acks the original delivery and republishes the envelope
// directly onto the dlq, regardless of its current retry_count.
func (b *RedisBus) DeadLetter(ctx context.Context, pipeline Pipeline, msg *Message) error {
	if err := b.client.XAck(ctx, msg.queue, consumerGroup, msg.ackID).Err(); err != nil {
		return apperror.Wrap(err, apperror.ErrTransient)
	}

	next := msg.Envelope
	if next.RetryCount <= MaxRetries {
		next.RetryCount = MaxRetries + 1
	}
	return b.publishEnvelope(ctx, dlqKey(pipeline), next)
}

func (b *RedisBus) PeekDLQ(ctx context.Context, pipeline Pipeline, count int64) ([]Message, error) {
	entries, err := b.client.XRange(ctx, dlqKey(pipeline), "-", "+").Result()
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrTransient)
	}

	if count > 0 && int64(len(entries)) > count {
		entries = entries[:count]
	}

	out := make([]Message, 0, len(entries))
	for _, e := range entries {
		raw, ok := e.Values["envelope"].(string)
		if !ok {
			continue
		}
		var env Envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			continue
		}
		out = append(out, Message{Envelope: env, ackID: e.ID, queue: dlqKey(pipeline)})
	}
	return out, nil
}

// ReplayDLQ re-publishes the dead-lettered message with retry_count reset to
// zero, onto the pipeline's main queue, and removes it from the dlq.
func (b *RedisBus) ReplayDLQ(ctx context.Context, pipeline Pipeline, id string) error {
	entries, err := b.client.XRange(ctx, dlqKey(pipeline), id, id).Result()
	if err != nil {
		return apperror.Wrap(err, apperror.ErrTransient)
	}
	if len(entries) == 0 {
		return apperror.ErrNotFound
	}

	raw, ok := entries[0].Values["envelope"].(string)
	if !ok {
		return apperror.ErrFatal
	}
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return fmt.Errorf("unmarshal dlq envelope: %w", err)
	}
	env.RetryCount = 0

	if err := b.publishEnvelope(ctx, mainKey(pipeline), env); err != nil {
		return err
	}

	return b.client.XDel(ctx, dlqKey(pipeline), id).Err()
}

func (b *RedisBus) QueueDepth(ctx context.Context, pipeline Pipeline, queue string) (int64, error) {
	var key string
	switch queue {
	case "main":
		key = mainKey(pipeline)
	case "retry":
		key = retryKey(pipeline)
	case "dlq":
		key = dlqKey(pipeline)
	default:
		return 0, fmt.Errorf("unknown queue %q", queue)
	}

	length, err := b.client.XLen(ctx, key).Result()
	if err != nil {
		return 0, apperror.Wrap(err, apperror.ErrTransient)
	}
	return length, nil
}
