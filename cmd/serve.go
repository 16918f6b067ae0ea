package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/webcam-harvester/internal/app"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves the status API over the cached metadata and stored frames",
		Long: `Serves /healthz, /metrics and the read-only /v1 routes until interrupted.
The metadata store is locked while serving.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				return a.StatusServer().ListenAndServe(ctx, a.Config().Metrics.Addr)
			})
		},
	}
	cmd.Flags().String("addr", "", "listen address")
	configFlag(cmd, "metrics.addr", "addr")
	return cmd
}
