package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/newsfeeds/internal/app"
	"github.com/JakeFAU/newsfeeds/internal/clock/system"
	"github.com/JakeFAU/newsfeeds/internal/provider/stub"
)

func newSearchStubCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "search-stub",
		Short: "Serve a local search API with generated articles",
		Long: `Runs a stand-in for the external search API so workers can be exercised
end to end. GET /search?company=&source=&limit= returns deterministic
articles for the pair.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("port") {
				port = a.Config().Server.StubPort
			}
			handler := stub.New(system.New(), a.Logger()).Handler()
			return app.Serve(cmd.Context(), app.HTTPServer(port, handler), a.Logger().Named("search_stub"))
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default server.stub_port)")
	return cmd
}
