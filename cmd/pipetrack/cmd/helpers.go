package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/bianoble/pipetrack/internal/prompt"
	"github.com/bianoble/pipetrack/pkg/pipetrack"
)

// newClient opens the workspace containing workDir.
func newClient(ctx context.Context) (*pipetrack.Client, error) {
	return pipetrack.New(ctx, pipetrack.Options{
		ProjectRoot: workDir,
		LogOutput:   os.Stderr,
		Debug:       verbose,
		LogFormat:   logFormat,
		Confirm:     prompt.NewInteractive(),
	})
}

// reportErrors prints every per-target error and returns a summary error
// when there were any.
func reportErrors(op string, errs []pipetrack.TargetError) error {
	if len(errs) == 0 {
		return nil
	}
	for _, e := range errs {
		errorf("%s", e)
	}
	return fmt.Errorf("%d error(s) during %s", len(errs), op)
}

// paint wraps s in the ANSI color of state when stdout is a terminal and
// color is enabled.
func paint(state, s string) string {
	if noColor || !prompt.IsTerminal(os.Stdout) {
		return s
	}
	code := ""
	switch state {
	case "modified", "changed":
		code = "33"
	case "deleted", "not in cache":
		code = "31"
	case "new":
		code = "32"
	default:
		return s
	}
	return "\x1b[" + code + "m" + s + "\x1b[0m"
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}

func humanSize(bytes int64) string {
	if bytes == 0 {
		return "0 B"
	}
	units := []string{"B", "KB", "MB", "GB"}
	size := float64(bytes)
	i := 0
	for size >= 1024 && i < len(units)-1 {
		size /= 1024
		i++
	}
	if i == 0 {
		return fmt.Sprintf("%d B", bytes)
	}
	return fmt.Sprintf("%.1f %s", size, units[i])
}

// info prints a line unless quiet mode is active.
func info(format string, args ...any) {
	if !quiet {
		fmt.Printf(format+"\n", args...)
	}
}

// detail prints a line only in verbose mode.
func detail(format string, args ...any) {
	if verbose {
		fmt.Printf("  "+format+"\n", args...)
	}
}

// errorf prints an error message to stderr.
func errorf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}
