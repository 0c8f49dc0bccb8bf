// Package logging configures the process-wide slog logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

// Options select where logs go and how they look. An empty Format picks
// colored text on a terminal and JSON otherwise.
type Options struct {
	Debug  bool
	Format string
	File   string
	// MaxSize is the rotation size of File. Zero means DefaultMaxSize.
	MaxSize int64
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Setup installs the default logger writing to stderr, or to a rotating file
// when opts.File is set. The returned closer releases the file.
func Setup(stderr io.Writer, opts Options) (io.Closer, error) {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}

	var (
		out    = stderr
		closer io.Closer = nopCloser{}
	)
	if opts.File != "" {
		var rotate []RotateOption
		if opts.MaxSize > 0 {
			rotate = append(rotate, WithMaxSize(opts.MaxSize))
		}
		f, err := NewRotatingFile(opts.File, rotate...)
		if err != nil {
			return nil, fmt.Errorf("opening log file %s: %w", opts.File, err)
		}
		out, closer = f, f
	}

	slog.SetDefault(slog.New(NewHandler(out, opts.Format, level)))
	return closer, nil
}

// NewHandler returns the handler for format writing to w.
func NewHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	switch format {
	case FormatJSON:
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	case FormatText:
		return newTint(w, level, !isTerminal(w))
	default:
		if isTerminal(w) {
			return newTint(w, level, false)
		}
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}
}

func newTint(w io.Writer, level slog.Level, noColor bool) slog.Handler {
	return tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
		NoColor:    noColor,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Value.Kind() == slog.KindAny {
				if _, ok := a.Value.Any().(error); ok {
					return tint.Attr(9, a)
				}
			}
			return a
		},
	})
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
