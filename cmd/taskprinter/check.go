package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"taskprinter/internal/dispatch"
)

func newCheckCmd(opts *rootOptions) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run one due check and exit",
		Long: `Evaluates every active task once: due occurrences are recorded and
printed, blacked-out ones are skipped or held. With --dry-run nothing is
written or printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			d := dispatch.New(a.store, a.printer, a.engine, dispatch.Options{
				Location: a.loc,
				DryRun:   dryRun,
			})
			sum, err := d.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sum.String())
			if sum.Failures > 0 {
				return fmt.Errorf("%d task(s) failed", sum.Failures)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "evaluate without recording or printing")
	return cmd
}

func newPrintTestCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "print-test",
		Short: "Send a test page to the configured printer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.printer.TestPage(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "test page sent to %s\n", a.printer.Addr())
			return nil
		},
	}
}
