package cmd

import (
	"github.com/spf13/cobra"

	"github.com/bianoble/pipetrack/pkg/pipetrack"
)

var (
	checkoutWithDeps bool
	checkoutDryRun   bool
)

var checkoutCmd = &cobra.Command{
	Use:   "checkout [target...]",
	Short: "Restore committed outputs from the cache",
	Long: `Brings every cached output of the targets (all stages when none are
given) back to its committed content. Outputs that already match are left
alone. Use --dry-run to see what would be written.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient(cmd.Context())
		if err != nil {
			return err
		}
		defer client.Close()

		result, err := client.Checkout(cmd.Context(), args, pipetrack.CheckoutOptions{
			WithDeps: checkoutWithDeps,
			DryRun:   checkoutDryRun,
		})
		if err != nil {
			return err
		}

		if checkoutDryRun {
			info("Dry run: no files written.")
		}
		for _, f := range result.Written {
			info("  %s  %s", paint(f.Action, f.Action), f.Path)
		}
		for _, f := range result.Skipped {
			detail("%s  %s", f.Action, f.Path)
		}
		if len(result.Written) == 0 && len(result.Errors) == 0 {
			info("Outputs are up to date.")
		} else if len(result.Written) > 0 {
			info("\nRestored %s.", plural(len(result.Written), "output"))
		}
		return reportErrors("checkout", result.Errors)
	},
}

func init() {
	checkoutCmd.Flags().BoolVarP(&checkoutWithDeps, "with-deps", "d", false, "also restore outputs of every stage the targets depend on")
	checkoutCmd.Flags().BoolVar(&checkoutDryRun, "dry-run", false, "show what would be written without acting")
	rootCmd.AddCommand(checkoutCmd)
}
