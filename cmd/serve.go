package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/newsfeeds/internal/app"
)

func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored results over HTTP",
		Long: `Starts the read API: company and source listings, per-company
aggregates, single-article lookup, health, readiness and metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("port") {
				port = a.Config().Server.Port
			}
			srv, err := a.APIServer(cmd.Context())
			if err != nil {
				return err
			}
			return app.Serve(cmd.Context(), app.HTTPServer(port, srv.Handler()), a.Logger().Named("http"))
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default server.port)")
	return cmd
}
