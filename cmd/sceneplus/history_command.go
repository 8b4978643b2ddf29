package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"sceneplus/internal/api"
	"sceneplus/internal/journal"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent scene updates from the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cfg.Journal.Enabled {
				return errors.New("journal is disabled; set journal.enabled = true")
			}
			if limit < 0 {
				return fmt.Errorf("invalid --limit %d", limit)
			}
			store, err := journal.Open(cmd.Context(), cfg.Journal.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, api.HistoryResponse{Entries: api.FromJournalEntries(entries)})
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No updates recorded")
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, entry := range entries {
				rows = append(rows, []string{
					entry.CreatedAt.Local().Format(time.DateTime),
					entry.Operation,
					entry.ClientEntityID,
					entry.SceneID,
					resultLabel(entry),
					fmt.Sprintf("%d", entry.UpdatedCount),
					entry.Message,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Time", "Op", "Entity", "Scene", "Result", "Updated", "Message"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries to show (0 for all)")
	return cmd
}

func resultLabel(entry journal.Entry) string {
	switch {
	case entry.Success:
		return titleCaser.String("succeeded")
	case entry.NotFound:
		return titleCaser.String("not found")
	default:
		return titleCaser.String("failed")
	}
}
