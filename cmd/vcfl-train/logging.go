package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fountaindream/VCFL-plus/anyconf"
	"github.com/unixpickle/essentials"
)

// newLogger creates the run logger.
// When log_to_file is set, records also go to the log file
// in the experiment directory.
// The returned closer must be called when logging is done.
func newLogger(cfg *anyconf.Config) (*slog.Logger, io.Closer, error) {
	var out io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if cfg.Run.LogToFile {
		path := cfg.LogPath()
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, nil, essentials.AddCtx("create logger", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, essentials.AddCtx("create logger", err)
		}
		out = io.MultiWriter(os.Stderr, f)
		closer = f
	}
	opts := &slog.HandlerOptions{Level: cfg.Level()}
	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error {
	return nil
}
