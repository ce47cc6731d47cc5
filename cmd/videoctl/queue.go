package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/videoingest/videoingest/internal/cliout"
	"github.com/videoingest/videoingest/internal/workbus"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and repair work-bus dead-letter queues",
}

var dlqPeekCount int64

var dlqPeekCmd = &cobra.Command{
	Use:   "dlq-peek <pipeline>",
	Short: "List messages on a pipeline's dead-letter queue",
	Args:  cobra.ExactArgs(1),
	RunE:  runDLQPeek,
}

var dlqReplayCmd = &cobra.Command{
	Use:   "dlq-replay <pipeline> <message-id>",
	Short: "Re-publish a dead-lettered message with its retry count reset",
	Args:  cobra.ExactArgs(2),
	RunE:  runDLQReplay,
}

func init() {
	dlqPeekCmd.Flags().Int64Var(&dlqPeekCount, "count", 20, "maximum messages to list")

	queueCmd.AddCommand(dlqPeekCmd)
	queueCmd.AddCommand(dlqReplayCmd)
}

func parsePipeline(name string) (workbus.Pipeline, error) {
	switch workbus.Pipeline(name) {
	case workbus.PipelineChunk, workbus.PipelineAssembly, workbus.PipelineProcess:
		return workbus.Pipeline(name), nil
	default:
		return "", fmt.Errorf("unknown pipeline %q (want one of chunk_processing, file_assembly, video_processing)", name)
	}
}

func runDLQPeek(cmd *cobra.Command, args []string) error {
	pipeline, err := parsePipeline(args[0])
	if err != nil {
		return err
	}

	messages, err := deps.bus.PeekDLQ(ctx(), pipeline, dlqPeekCount)
	if err != nil {
		return fmt.Errorf("peek dlq: %w", err)
	}

	if printer.IsJSON() {
		return printer.JSON(messages)
	}

	printer.Section(fmt.Sprintf("Dead-letter queue: %s", pipeline))
	table := cliout.NewTable([]string{"ID", "Retries", "Enqueued"}, quietMode)
	for _, msg := range messages {
		table.Append([]string{
			msg.Envelope.ID,
			fmt.Sprintf("%d", msg.Envelope.RetryCount),
			msg.Envelope.EnqueuedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	table.Render()
	return nil
}

func runDLQReplay(cmd *cobra.Command, args []string) error {
	pipeline, err := parsePipeline(args[0])
	if err != nil {
		return err
	}
	id := args[1]

	if err := deps.bus.ReplayDLQ(ctx(), pipeline, id); err != nil {
		return fmt.Errorf("replay dlq message %s: %w", id, err)
	}

	if printer.IsJSON() {
		return printer.JSON(map[string]string{"pipeline": string(pipeline), "id": id, "status": "replayed"})
	}

	printer.Success("replayed %s from %s dlq", id, pipeline)
	return nil
}
