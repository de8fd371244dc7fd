package cmd

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/newsfeeds/internal/newsfeed"
)

func newDeadLettersCmd() *cobra.Command {
	var (
		limit     int
		serialize string
	)
	cmd := &cobra.Command{
		Use:   "deadletters",
		Short: "Show the newest dead-lettered executions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 1 {
				return errors.New("--limit must be >= 1")
			}
			if serialize != serializeTable && serialize != serializeJSON {
				return errors.New("--serialize must be table or json")
			}
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			dead, err := a.DeadLetters(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := dead.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if serialize == serializeJSON {
				if entries == nil {
					entries = []newsfeed.DeadLetterEntry{}
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{
					e.RecordedAt.UTC().Format(time.RFC3339),
					string(e.Stage),
					e.Company,
					e.Source,
					e.Error,
				})
			}
			return writeTable(cmd.OutOrStdout(), []string{"RECORDED AT", "STAGE", "COMPANY", "SOURCE", "ERROR"}, rows)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show")
	cmd.Flags().StringVar(&serialize, "serialize", serializeTable, "output format: table or json")
	return cmd
}
