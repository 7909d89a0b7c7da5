package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nikolay60109002/docrelay/internal/pending"
)

func newPendingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List files still awaiting the editor's reply",
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath := strings.TrimSpace(flagOrViperString(cmd, "db", "relay.db_path"))
			store, err := pending.Open(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.All()
			if err != nil {
				return err
			}
			if len(records) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "queue is empty")
				return nil
			}
			for _, r := range records {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", r.Filename, r.Author)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d file(s) pending\n", len(records))
			return nil
		},
	}
	cmd.Flags().String("db", "files.db", "Correlation database path.")
	return cmd
}
