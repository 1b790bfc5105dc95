package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

// Build-time variables set via -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flags.
var (
	workDir   string
	verbose   bool
	quiet     bool
	noColor   bool
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "pipetrack",
	Short: "Track data pipelines and the outputs they produce",
	Long: `pipetrack records the checksums of every dependency and output of the
stages declared in *.stage and pipeline.yaml files, keeps outputs in a
content-addressed cache, and reports which stages changed since they were
last committed, in the working tree or in any git revision.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch logFormat {
		case "", "text", "json":
			return nil
		default:
			return fmt.Errorf("invalid --log-format %q: must be one of: text, json", logFormat)
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("pipetrack %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workDir, "dir", "C", ".", "run as if started in this directory")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "detailed output and debug diagnostics")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "minimal output (errors only)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "diagnostics format: text or json (default from config)")

	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command. An interrupt cancels the running
// operation.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}
