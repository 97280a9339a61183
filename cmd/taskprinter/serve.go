package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"taskprinter/internal/dispatch"
	appLog "taskprinter/internal/log"
	"taskprinter/internal/web"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the due-check scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Root context with cancellation on SIGINT/SIGTERM.
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			// --listen overrides the config file.
			if listen != "" {
				a.cfg.Listen = listen
			}

			d := dispatch.New(a.store, a.printer, a.engine, dispatch.Options{
				CheckCron: a.cfg.CheckCron,
				Location:  a.loc,
			})
			srv := web.NewServer(a.cfg, web.Deps{
				Store:    a.store,
				Printer:  a.printer,
				Engine:   a.engine,
				Notifier: d,
			})

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			schedErr := make(chan error, 1)
			go func() {
				schedErr <- d.Start(ctx)
				// A dead scheduler takes the server down with it.
				cancel()
			}()

			appLog.Info("taskprinter starting", "version", version, "pid", os.Getpid())
			serveErr := srv.ListenAndServe(ctx)
			cancel()

			if err := <-schedErr; err != nil {
				return err
			}
			if serveErr != nil {
				return serveErr
			}
			appLog.Info("taskprinter exiting")
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config if set)")
	return cmd
}
