package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/voicetyped/campaignflow/internal/storage/sqlitestore"
	"github.com/voicetyped/campaignflow/pkg/audit"
	"github.com/voicetyped/campaignflow/pkg/lifecycle"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <kind> <id>",
		Short: "Print the current state and audit trail of one entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath, _ := cmd.Flags().GetString("db")
			asJSON, _ := cmd.Flags().GetBool("json")

			store, err := sqlitestore.Open(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			kind := lifecycle.Kind(args[0])
			rec, err := store.Load(cmd.Context(), kind, args[1])
			if err != nil {
				return fmt.Errorf("load %s %s: %w", kind, args[1], err)
			}
			trail, err := store.List(cmd.Context(), kind, args[1])
			if err != nil {
				return fmt.Errorf("list history: %w", err)
			}
			if asJSON {
				return writeHistoryJSON(cmd.OutOrStdout(), rec, trail)
			}
			writeHistory(cmd.OutOrStdout(), rec, trail)
			return nil
		},
	}
	cmd.Flags().String("db", "./campaignflow.db", "Path to the sqlite store")
	cmd.Flags().Bool("json", false, "Print JSON instead of text")
	return cmd
}

func writeHistory(w io.Writer, rec *lifecycle.Record, trail []*audit.Record) {
	fmt.Fprintf(w, "%s %s is %s (version %d)\n",
		rec.Kind, rec.ID, color.GreenString(string(rec.State)), rec.Version)
	if len(trail) == 0 {
		fmt.Fprintln(w, color.YellowString("no recorded transitions"))
		return
	}
	for _, r := range trail {
		fmt.Fprintf(w, "%s  %-14s %s\n",
			r.OccurredAt.Format(time.RFC3339), r.Action, r.Description)
	}
}

func writeHistoryJSON(w io.Writer, rec *lifecycle.Record, trail []*audit.Record) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Entity  *lifecycle.Record `json:"entity"`
		History []*audit.Record   `json:"history"`
	}{rec, trail})
}
