package workbus

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chunkPayload struct {
	SessionID  string `json:"session_id"`
	ChunkIndex int    `json:"chunk_index"`
}

func TestMemoryBusPublishConsumeAck(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	err := bus.Publish(ctx, PipelineChunk, chunkPayload{SessionID: "s1", ChunkIndex: 3})
	require.NoError(t, err)

	msg, err := bus.Consume(ctx, PipelineChunk, "worker-1", 0)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, 0, msg.Envelope.RetryCount)

	var payload chunkPayload
	require.NoError(t, json.Unmarshal(msg.Envelope.Payload, &payload))
	assert.Equal(t, "s1", payload.SessionID)
	assert.Equal(t, 3, payload.ChunkIndex)

	require.NoError(t, bus.Ack(ctx, PipelineChunk, msg))

	depth, err := bus.QueueDepth(ctx, PipelineChunk, "main")
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestMemoryBusNackRetriesThenDeadLetters(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	require.NoError(t, bus.Publish(ctx, PipelineAssembly, chunkPayload{SessionID: "s2"}))

	for i := 0; i <= MaxRetries; i++ {
		msg, err := bus.Consume(ctx, PipelineAssembly, "worker-1", 0)
		require.NoError(t, err)
		require.NotNil(t, msg, "iteration %d", i)
		require.NoError(t, bus.Nack(ctx, PipelineAssembly, msg))
	}

	// After MaxRetries+1 nacks (the first delivery plus MaxRetries retries)
	// the message must have moved to the dlq, not be available for another
	// consume off main/retry.
	msg, err := bus.Consume(ctx, PipelineAssembly, "worker-1", 0)
	require.NoError(t, err)
	assert.Nil(t, msg)

	dlq, err := bus.PeekDLQ(ctx, PipelineAssembly, 10)
	require.NoError(t, err)
	require.Len(t, dlq, 1)
	assert.Equal(t, MaxRetries+1, dlq[0].Envelope.RetryCount)
}

func TestMemoryBusReplayDLQResetsRetryCount(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	require.NoError(t, bus.Publish(ctx, PipelineProcess, chunkPayload{SessionID: "s3"}))
	for i := 0; i <= MaxRetries; i++ {
		msg, err := bus.Consume(ctx, PipelineProcess, "worker-1", 0)
		require.NoError(t, err)
		require.NoError(t, bus.Nack(ctx, PipelineProcess, msg))
	}

	dlq, err := bus.PeekDLQ(ctx, PipelineProcess, 10)
	require.NoError(t, err)
	require.Len(t, dlq, 1)

	require.NoError(t, bus.ReplayDLQ(ctx, PipelineProcess, dlq[0].Envelope.ID))

	depth, err := bus.QueueDepth(ctx, PipelineProcess, "dlq")
	require.NoError(t, err)
	assert.Zero(t, depth)

	msg, err := bus.Consume(ctx, PipelineProcess, "worker-1", 0)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Zero(t, msg.Envelope.RetryCount)
}

func TestMemoryBusReplayDLQUnknownID(t *testing.T) {
	bus := NewMemoryBus()
	err := bus.ReplayDLQ(context.Background(), PipelineChunk, "nonexistent")
	assert.Error(t, err)
}
