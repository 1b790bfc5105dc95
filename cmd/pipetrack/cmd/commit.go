package cmd

import (
	"github.com/spf13/cobra"

	"github.com/bianoble/pipetrack/pkg/pipetrack"
)

var (
	commitForce    bool
	commitWithDeps bool
)

var commitCmd = &cobra.Command{
	Use:   "commit [target...]",
	Short: "Record the current outputs of stages",
	Long: `Caches the outputs of the targets (all stages when none are given) and
stores the checksums of their dependencies and outputs together with the
declaration hash. Stages that changed since their last commit ask for
confirmation; --force commits them without asking.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient(cmd.Context())
		if err != nil {
			return err
		}
		defer client.Close()

		result, err := client.Commit(cmd.Context(), args, pipetrack.CommitOptions{
			Force:    commitForce,
			WithDeps: commitWithDeps,
		})
		if err != nil {
			return err
		}

		for _, f := range result.Cached {
			detail("%s  %s", f.Action, f.Path)
		}
		if len(result.Committed) > 0 {
			info("Committed %s.", plural(len(result.Committed), "stage"))
		}
		return reportErrors("commit", result.Errors)
	},
}

func init() {
	commitCmd.Flags().BoolVarP(&commitForce, "force", "f", false, "commit changed stages without asking")
	commitCmd.Flags().BoolVarP(&commitWithDeps, "with-deps", "d", false, "also commit every stage the targets depend on")
	rootCmd.AddCommand(commitCmd)
}
