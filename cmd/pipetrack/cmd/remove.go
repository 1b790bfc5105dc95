package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bianoble/pipetrack/pkg/pipetrack"
)

var (
	removePurge bool
	removeForce bool
)

var removeCmd = &cobra.Command{
	Use:   "remove target...",
	Short: "Remove stage outputs, or the stages themselves",
	Long: `Deletes the cached, non-persistent outputs of the targets from the
workspace. The cache keeps their content, so 'pipetrack checkout' can bring
them back.

With --purge every output, its cache entry and the stage declaration are
deleted. Purging asks for confirmation unless --force is given.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient(cmd.Context())
		if err != nil {
			return err
		}
		defer client.Close()

		result, err := client.Remove(cmd.Context(), args, pipetrack.RemoveOptions{
			Purge: removePurge,
			Force: removeForce,
		})
		if err != nil {
			return err
		}

		for _, f := range result.Removed {
			info("  %s  %s", f.Action, f.Path)
		}
		for _, s := range result.Purged {
			info("  purged  %s", s)
		}
		if len(result.Removed) == 0 && len(result.Purged) == 0 && len(result.Errors) == 0 {
			info("Nothing to remove.")
		}
		if len(result.Errors) > 0 {
			return reportErrors("remove", result.Errors)
		}
		if removePurge {
			info("\n%s purged.", plural(len(result.Purged), "stage"))
		} else if len(result.Removed) > 0 {
			info("\n%s removed.", plural(len(result.Removed), "output"))
		}
		return nil
	},
}

func init() {
	removeCmd.Flags().BoolVarP(&removePurge, "purge", "p", false, "also delete cache entries and stage declarations")
	removeCmd.Flags().BoolVarP(&removeForce, "force", "f", false, "purge without asking")
	removeCmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if removeForce && !removePurge {
			return fmt.Errorf("--force only applies together with --purge")
		}
		return nil
	}
	rootCmd.AddCommand(removeCmd)
}
