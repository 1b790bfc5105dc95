package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show information about the workspace",
	Long: `Displays the pipetrack version, the workspace root, the config layers
that were considered, the SCM in use, the cache directory and size, and how
many stages and pipelines are declared.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient(cmd.Context())
		if err != nil {
			return err
		}
		defer client.Close()

		result, err := client.Info(version)
		if err != nil {
			return err
		}

		fmt.Printf("pipetrack %s\n", result.Version)
		fmt.Printf("  workspace:     %s\n", result.Root)
		fmt.Printf("  scm:           %s\n", result.SCM)
		fmt.Println("  config chain:")
		for _, layer := range result.ConfigChain {
			status := "not found"
			if layer.Loaded {
				status = "loaded"
			}
			fmt.Printf("    %-10s %s (%s)\n", layer.Level+":", layer.Path, status)
		}
		fmt.Printf("  cache dir:     %s\n", result.CacheDir)
		fmt.Printf("  cache size:    %s\n", humanSize(result.CacheSize))
		fmt.Printf("  stages:        %d\n", result.Stages)
		fmt.Printf("  pipelines:     %d\n", result.Pipelines)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
