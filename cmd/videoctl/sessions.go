package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/videoingest/videoingest/internal/cliout"
	"github.com/videoingest/videoingest/internal/gc"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and clean up upload sessions",
}

var sessionsListOwner string

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List upload sessions for an owner",
	RunE:  runSessionsList,
}

var sessionsGcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Sweep and delete expired upload sessions",
	RunE:  runSessionsGC,
}

func init() {
	sessionsListCmd.Flags().StringVar(&sessionsListOwner, "owner", "", "owner id to list sessions for (required)")
	_ = sessionsListCmd.MarkFlagRequired("owner")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsGcCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	sessions, err := deps.sessions.ListByOwner(ctx(), sessionsListOwner)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	if printer.IsJSON() {
		return printer.JSON(sessions)
	}

	printer.Section("Upload Sessions")
	table := cliout.NewTable([]string{"ID", "Filename", "Size", "State", "Progress", "Expires"}, quietMode)
	for _, s := range sessions {
		progress := fmt.Sprintf("%d/%d", s.ReceivedCount(), s.TotalChunks)
		table.Append([]string{
			s.ID,
			s.OriginalFilename,
			cliout.FormatBytes(s.FileSize),
			string(s.State),
			progress,
			s.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	table.Render()
	return nil
}

func runSessionsGC(cmd *cobra.Command, args []string) error {
	stats, err := gc.Run(ctx(), deps.sessions)
	if err != nil {
		return fmt.Errorf("gc sweep: %w", err)
	}

	if printer.IsJSON() {
		return printer.JSON(stats)
	}

	printer.Success("expired %d session(s), %d delete error(s)", stats.SessionsExpired, stats.DeleteErrors)
	return nil
}
