package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"taskprinter/internal/ics"
)

func newImportCmd(opts *rootOptions) *cobra.Command {
	var replace bool

	cmd := &cobra.Command{
		Use:   "import FILE.ics",
		Short: "Import the events of an iCalendar file as tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := ics.ParseTasks(body, a.loc)
			if err != nil {
				return err
			}
			n, err := a.store.ImportTasks(cmd.Context(), res.Tasks, replace)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d task(s), skipped %d\n", n, len(res.Skipped))
			return nil
		},
	}
	cmd.Flags().BoolVar(&replace, "replace", false, "delete existing tasks first")
	return cmd
}
