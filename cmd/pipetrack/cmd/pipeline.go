package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bianoble/pipetrack/pkg/pipetrack"
)

var (
	showCommands bool
	showOuts     bool
	showLocked   bool
	showTree     bool
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Inspect the pipelines formed by stages",
}

var pipelineShowCmd = &cobra.Command{
	Use:   "show target",
	Short: "Show a stage and everything it depends on",
	Long: `Lists the target and the stages it depends on, producers first.
--commands and --outs list commands or outputs instead of stage addresses;
--locked keeps only locked stages. --tree draws the dependencies as a tree,
which requires the pipeline to be one.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if showCommands && showOuts {
			return fmt.Errorf("--commands and --outs are mutually exclusive")
		}
		client, err := newClient(cmd.Context())
		if err != nil {
			return err
		}
		defer client.Close()

		opts := pipetrack.ShowOptions{Commands: showCommands, Outs: showOuts, Locked: showLocked}
		if showTree {
			tree, err := client.PipelineTree(args[0], opts.Mode())
			if err != nil {
				return err
			}
			fmt.Print(tree)
			return nil
		}

		lines, err := client.Pipeline(args[0], opts)
		if err != nil {
			return err
		}
		for _, l := range lines {
			fmt.Println(l)
		}
		return nil
	},
}

var pipelineListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every pipeline and its stages",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient(cmd.Context())
		if err != nil {
			return err
		}
		defer client.Close()

		pipelines, err := client.Pipelines()
		if err != nil {
			return err
		}
		if len(pipelines) == 0 {
			info("No stages declared.")
			return nil
		}
		for _, stages := range pipelines {
			fmt.Println(strings.Join(stages, ", "))
		}
		info("\n%s.", plural(len(pipelines), "pipeline"))
		return nil
	},
}

func init() {
	pipelineShowCmd.Flags().BoolVarP(&showCommands, "commands", "c", false, "list stage commands")
	pipelineShowCmd.Flags().BoolVarP(&showOuts, "outs", "o", false, "list stage outputs")
	pipelineShowCmd.Flags().BoolVarP(&showLocked, "locked", "l", false, "list only locked stages")
	pipelineShowCmd.Flags().BoolVar(&showTree, "tree", false, "draw dependencies as a tree")

	pipelineCmd.AddCommand(pipelineShowCmd, pipelineListCmd)
	rootCmd.AddCommand(pipelineCmd)
}
