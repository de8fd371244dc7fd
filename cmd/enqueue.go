package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/newsfeeds/internal/dispatcher"
	"github.com/JakeFAU/newsfeeds/internal/newsfeed"
)

// Output formats for commands that print records.
const (
	serializeText  = "text"
	serializeJSON  = "json"
	serializeTable = "table"
)

func newEnqueueCmd() *cobra.Command {
	var (
		pairsFile string
		serialize string
	)
	cmd := &cobra.Command{
		Use:   "enqueue [COMPANY:SOURCE ...]",
		Short: "Queue fetch tasks for company/source pairs",
		Long: `Submits one fetch task per pair. Pairs come from COMPANY:SOURCE
arguments and/or a JSON or YAML file listing {company, sources} entries.
The whole batch is validated before anything is queued.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkSerialize(serialize); err != nil {
				return err
			}
			var items []newsfeed.WorkItem
			if pairsFile != "" {
				loaded, err := dispatcher.LoadPairsFile(pairsFile)
				if err != nil {
					return err
				}
				items = append(items, loaded...)
			}
			if len(args) > 0 {
				parsed, err := dispatcher.ParsePairs(args)
				if err != nil {
					return err
				}
				items = append(items, parsed...)
			}
			if len(items) == 0 {
				return errors.New("no tasks enqueued: provide --file and/or COMPANY:SOURCE pairs")
			}

			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			d, err := a.Dispatcher(cmd.Context())
			if err != nil {
				return err
			}
			subs, err := d.Enqueue(cmd.Context(), items)
			if printErr := printSubmissions(cmd.OutOrStdout(), serialize, subs); printErr != nil {
				return errors.Join(err, printErr)
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&pairsFile, "file", "f", "", "JSON or YAML file of {company, sources} entries")
	cmd.Flags().StringVar(&serialize, "serialize", serializeText, "output format: text, json or table")
	return cmd
}

func checkSerialize(format string) error {
	switch format {
	case serializeText, serializeJSON, serializeTable:
		return nil
	default:
		return fmt.Errorf("--serialize must be text, json or table (got %q)", format)
	}
}

func printSubmissions(w io.Writer, format string, subs []dispatcher.Submission) error {
	switch format {
	case serializeJSON:
		if subs == nil {
			subs = []dispatcher.Submission{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(subs)
	case serializeTable:
		rows := make([][]string, 0, len(subs))
		for _, s := range subs {
			rows = append(rows, []string{s.Company, s.Source, s.TaskID, string(s.Status)})
		}
		return writeTable(w, []string{"COMPANY", "SOURCE", "TASK ID", "STATUS"}, rows)
	default:
		for _, s := range subs {
			if _, err := fmt.Fprintf(w, "Queued %s / %s (task_id=%s, status=%s)\n",
				s.Company, s.Source, s.TaskID, s.Status); err != nil {
				return err
			}
		}
		return nil
	}
}
