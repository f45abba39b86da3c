package main

import (
	"io"
	"log/slog"
	"log/syslog"
	"os"

	"golang.org/x/term"

	"github.com/jingkaihe/pitfile/internal/errx"
)

// newLogger builds the process logger. Records go to syslog when asked,
// otherwise to w as text on a terminal and JSON elsewhere.
func newLogger(w io.Writer, level string, useSyslog bool) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, errx.With(ErrInvalidLevel, " %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	if useSyslog {
		sw, err := syslog.New(syslog.LOG_INFO|syslog.LOG_DAEMON, "pitfile")
		if err != nil {
			return nil, errx.Wrap(ErrOpenSyslog, err)
		}
		return slog.New(slog.NewTextHandler(sw, opts)), nil
	}

	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(w, opts)), nil
}
