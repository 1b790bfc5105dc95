// Package prompt asks the user to approve destructive operations.
package prompt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
)

// Confirmer approves or rejects a question.
type Confirmer interface {
	Confirm(ctx context.Context, question string) (bool, error)
}

// Static answers every question the same way. Static(false) is what
// non-interactive callers use.
type Static bool

func (s Static) Confirm(context.Context, string) (bool, error) { return bool(s), nil }

// Interactive asks on a terminal with a huh confirm field, and falls back to
// a "[y/N]" line prompt when In is not a terminal.
type Interactive struct {
	In  *os.File
	Out io.Writer
}

// NewInteractive prompts on stdin and stderr.
func NewInteractive() *Interactive {
	return &Interactive{In: os.Stdin, Out: os.Stderr}
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p *Interactive) Confirm(ctx context.Context, question string) (bool, error) {
	if IsTerminal(p.In) {
		var ok bool
		field := huh.NewConfirm().
			Title(question).
			Affirmative("Yes").
			Negative("No").
			Value(&ok)
		form := huh.NewForm(huh.NewGroup(field)).WithInput(p.In).WithOutput(p.Out)
		if err := form.RunWithContext(ctx); err != nil {
			return false, fmt.Errorf("prompt: %w", err)
		}
		return ok, nil
	}
	return Ask(p.In, p.Out, question)
}

// Ask writes question followed by "[y/N]" to w and reads one answer line
// from r. Anything but y or yes is a refusal.
func Ask(r io.Reader, w io.Writer, question string) (bool, error) {
	fmt.Fprintf(w, "%s [y/N] ", question)
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("reading answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
