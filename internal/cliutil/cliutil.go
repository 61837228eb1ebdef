// Package cliutil holds the small presentation helpers the command tree
// shares: a phase-aware progress bar and colorized status lines. The
// progress bar's "one bar per phase, replaced on phase change" shape
// follows vjache-cie's cmd/cie/index.go pipeline progress callback
// (schollz/progressbar/v3, Set64 per update, Finish on phase change and
// at the end); the colorized Success/Warn/Error lines use fatih/color,
// the same package vjache-cie pulls in for its own CLI output.
package cliutil

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
)

// NewProgressBar builds a bar for a transfer of known total size,
// writing to stderr so stdout stays clean for scriptable output.
func NewProgressBar(total int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowBytes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(os.Stderr) }),
		progressbar.OptionClearOnFinish(),
	)
}

// PhaseBar swaps in a new progress bar whenever the named phase changes,
// mirroring vjache-cie's currentBar/currentPhase pair: one bar lives at a
// time, finished and replaced rather than stacked.
type PhaseBar struct {
	bar   *progressbar.ProgressBar
	phase string
}

// Update advances the bar for phase, creating a fresh one first if phase
// differs from the last call (or this is the first call).
func (p *PhaseBar) Update(phase string, current, total int64) {
	if phase != p.phase {
		if p.bar != nil {
			_ = p.bar.Finish()
		}
		p.bar = NewProgressBar(total, phase)
		p.phase = phase
	}
	_ = p.bar.Set64(current)
}

// Finish closes out whatever bar is active. Safe to call when nothing was
// ever started.
func (p *PhaseBar) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

var (
	successColor = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed, color.Bold)
)

// Success prints a green status line to stderr.
func Success(format string, args ...any) { fprintColored(os.Stderr, successColor, format, args...) }

// Warn prints a yellow status line to stderr.
func Warn(format string, args ...any) { fprintColored(os.Stderr, warnColor, format, args...) }

// Error prints a red status line to stderr.
func Error(format string, args ...any) { fprintColored(os.Stderr, errorColor, format, args...) }

func fprintColored(w io.Writer, c *color.Color, format string, args ...any) {
	c.Fprintln(w, fmt.Sprintf(format, args...))
}
