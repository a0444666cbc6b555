// Package serve provides the long-running service command
package serve

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tphakala/dipper-go/internal/app"
	"github.com/tphakala/dipper-go/internal/buildinfo"
	"github.com/tphakala/dipper-go/internal/conf"
)

// Command creates and returns the serve command
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled rare bird alerts and the HTTP API",
		Long: `Serve runs the pipeline at the configured schedule times and, when
webserver.enabled is set, serves /healthz, /metrics and the on-demand API.
It stops on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(settings)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.Serve(ctx, build)
		},
	}

	return cmd
}
