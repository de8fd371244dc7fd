package cmd

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/newsfeeds/internal/dispatcher"
)

func newSeedCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "seed FILE",
		Short: "Load companies and sources into the catalog",
		Long: `Creates the companies, sources and their associations listed in a JSON
or YAML file of {company, sources} entries. Existing rows are reused, so the
command is safe to re-run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := dispatcher.LoadEntriesFile(args[0])
			if err != nil {
				return err
			}
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cat, err := a.Catalog(cmd.Context())
			if err != nil {
				return err
			}
			if migrate {
				if err := cat.Migrate(cmd.Context()); err != nil {
					return err
				}
			}
			stats, err := cat.Seed(cmd.Context(), entries)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(stats); err != nil {
				return errors.Join(errors.New("seed succeeded but output failed"), err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "create catalog tables before seeding")
	return cmd
}
