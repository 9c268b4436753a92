// Package logging builds the structured logger shared by the CLI and the
// segmentation driver.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// New returns a JSON logger writing to stderr. Debug records are only emitted
// when verbose is set.
func New(verbose bool) *slog.Logger {
	return NewWithWriter(os.Stderr, verbose)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}
