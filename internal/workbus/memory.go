package workbus

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/videoingest/videoingest/internal/apperror"
)

// MemoryBus is an in-memory Bus for tests, with the same main/retry/dlq
// shape and retry budget as RedisBus but no blocking reads.
type MemoryBus struct {
	mu    sync.Mutex
	main  map[Pipeline]*list.List
	retry map[Pipeline]*list.List
	dlq   map[Pipeline]*list.List
}

func NewMemoryBus() *MemoryBus {
	b := &MemoryBus{
		main:  make(map[Pipeline]*list.List),
		retry: make(map[Pipeline]*list.List),
		dlq:   make(map[Pipeline]*list.List),
	}
	for _, p := range []Pipeline{PipelineChunk, PipelineAssembly, PipelineProcess} {
		b.main[p] = list.New()
		b.retry[p] = list.New()
		b.dlq[p] = list.New()
	}
	return b
}

var _ Bus = (*MemoryBus)(nil)

func (b *MemoryBus) Publish(ctx context.Context, pipeline Pipeline, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrInvalidInput)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.main[pipeline].PushBack(Envelope{
		ID:         uuid.NewString(),
		Pipeline:   pipeline,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	})
	return nil
}

func (b *MemoryBus) Consume(ctx context.Context, pipeline Pipeline, consumer string, block time.Duration) (*Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, q := range []*list.List{b.main[pipeline], b.retry[pipeline]} {
		if front := q.Front(); front != nil {
			env := front.Value.(Envelope)
			q.Remove(front)
			return &Message{Envelope: env, ackID: env.ID, queue: string(pipeline)}, nil
		}
	}
	return nil, nil
}

func (b *MemoryBus) Ack(ctx context.Context, pipeline Pipeline, msg *Message) error {
	return nil
}

func (b *MemoryBus) Nack(ctx context.Context, pipeline Pipeline, msg *Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := msg.Envelope
	next.RetryCount++

	if next.RetryCount > MaxRetries {
		b.dlq[pipeline].PushBack(next)
		return nil
	}
	b.retry[pipeline].PushBack(next)
	return nil
}

func (b *MemoryBus) DeadLetter(ctx context.Context, pipeline Pipeline, msg *Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := msg.Envelope
	if next.RetryCount <= MaxRetries {
		next.RetryCount = MaxRetries + 1
	}
	b.dlq[pipeline].PushBack(next)
	return nil
}

func (b *MemoryBus) PeekDLQ(ctx context.Context, pipeline Pipeline, count int64) ([]Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Message, 0)
	for e := b.dlq[pipeline].Front(); e != nil; e = e.Next() {
		env := e.Value.(Envelope)
		out = append(out, Message{Envelope: env, ackID: env.ID, queue: "dlq"})
		if count > 0 && int64(len(out)) >= count {
			break
		}
	}
	return out, nil
}

func (b *MemoryBus) ReplayDLQ(ctx context.Context, pipeline Pipeline, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.dlq[pipeline]
	for e := q.Front(); e != nil; e = e.Next() {
		env := e.Value.(Envelope)
		if env.ID == id {
			q.Remove(e)
			env.RetryCount = 0
			b.main[pipeline].PushBack(env)
			return nil
		}
	}
	return apperror.ErrNotFound
}

func (b *MemoryBus) QueueDepth(ctx context.Context, pipeline Pipeline, queue string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var q *list.List
	switch queue {
	case "main":
		q = b.main[pipeline]
	case "retry":
		q = b.retry[pipeline]
	case "dlq":
		q = b.dlq[pipeline]
	default:
		return 0, fmt.Errorf("unknown queue %q", queue)
	}
	return int64(q.Len()), nil
}
