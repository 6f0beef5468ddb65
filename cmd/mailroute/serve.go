package main

import (
	"context"

	"github.com/rbaliyan/mailroute"
	"github.com/rbaliyan/mailroute/internal/app"
	"github.com/rbaliyan/mailroute/internal/httpapi"
	"github.com/spf13/cobra"
)

var seedOnStart bool

func init() {
	serveCmd.Flags().BoolVar(&seedOnStart, "seed", false, "seed demo users and messages into an empty store before serving")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the JSON API",
	Long: `Serve the JSON API. This process owns the staging buffer for as long as
it runs. When reclaim.on_read is false, expired trash is reclaimed on
reclaim.schedule instead of before every listing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if seedOnStart {
				if _, err := a.Engine.SeedDemo(ctx); err != nil {
					return err
				}
			}

			if !a.Config.Reclaim.OnRead {
				sched, err := mailroute.NewScheduler(a.Engine,
					mailroute.WithSchedule(a.Config.Reclaim.Schedule),
					mailroute.WithRunTimeout(a.Config.Reclaim.RunTimeout),
					mailroute.WithSchedulerLogger(a.Logger),
				)
				if err != nil {
					return err
				}
				sched.Start()
				defer func() {
					stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.Config.HTTP.ShutdownTimeout)
					defer cancel()
					if err := sched.Stop(stopCtx); err != nil {
						a.Logger.Warn("reclaim scheduler did not stop cleanly", "error", err)
					}
				}()
			}

			opts := []httpapi.Option{
				httpapi.WithLogger(a.Logger),
				httpapi.WithVersion(version),
			}
			if a.Metrics != nil {
				opts = append(opts, httpapi.WithMetrics(a.Metrics))
			}
			srv := httpapi.New(a.Engine, opts...)
			return srv.Serve(ctx, a.Config.HTTP.Addr, a.Config.HTTP.ShutdownTimeout)
		})
	},
}
