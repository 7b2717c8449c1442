// Package logging builds the hclog loggers used across the service.
package logging

import (
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
)

// Options configures the root logger.
type Options struct {
	Name   string
	Level  string
	JSON   bool
	Output io.Writer
}

// New returns a root logger. Unknown levels fall back to info.
func New(opts Options) hclog.Logger {
	if opts.Name == "" {
		opts.Name = "dataflow"
	}
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	level := hclog.LevelFromString(opts.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       opts.Name,
		Level:      level,
		JSONFormat: opts.JSON,
		Output:     opts.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
}
