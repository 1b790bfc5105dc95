package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bianoble/pipetrack/internal/config"
	"github.com/bianoble/pipetrack/internal/repo"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a pipetrack workspace",
	Long: `Creates the .pipetrack metadata directory in the current directory
(or --dir) with a default config.yaml. The cache and the checksum memo live
inside it and are ignored by git.

Use --force to reset the configuration of an existing workspace.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := filepath.Abs(workDir)
		if err != nil {
			return fmt.Errorf("resolving path: %w", err)
		}
		cfgPath := config.ProjectPath(root)

		if !initForce {
			if _, err := os.Stat(filepath.Join(root, repo.DirName)); err == nil {
				return fmt.Errorf("%s is already a pipetrack workspace (use --force to reset its config)", root)
			}
		}

		if err := repo.Init(root); err != nil {
			return err
		}
		if err := config.Save(cfgPath, config.Defaults()); err != nil {
			return err
		}

		info("Initialized pipetrack workspace in %s", root)
		info("")
		info("Next steps:")
		info("  1. Declare stages in *.stage or pipeline.yaml files")
		info("  2. Run 'pipetrack commit' to record their outputs")
		info("  3. Run 'pipetrack status' to see what changed")
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "reset the config of an existing workspace")
	rootCmd.AddCommand(initCmd)
}
