package logging

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger configuration. File, when set, receives JSON lines in
// addition to stdout.
type Config struct {
	Level       string `mapstructure:"level"`
	Pretty      bool   `mapstructure:"pretty"`
	ServiceName string `mapstructure:"service_name"`
	File        string `mapstructure:"file"`
}

var global = zerolog.New(os.Stdout).With().Timestamp().Logger()

// New builds a logger writing to w at the configured level.
func New(cfg Config, w io.Writer) zerolog.Logger {
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	ctx := zerolog.New(w).Level(level).With().Timestamp()
	if cfg.ServiceName != "" {
		ctx = ctx.Str(FieldService, cfg.ServiceName)
	}
	return ctx.Logger()
}

// Init installs the process logger, bridges stdlib log into it and makes it
// the fallback for Ctx. The returned func closes the log file, if any.
func Init(cfg Config) (func() error, error) {
	var w io.Writer = os.Stdout
	closeFn := func() error { return nil }
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return closeFn, fmt.Errorf("open log file: %w", err)
		}
		w = zerolog.MultiLevelWriter(os.Stdout, f)
		closeFn = f.Close
	}

	global = New(cfg, w)
	zerolog.DefaultContextLogger = &global
	stdlog.SetFlags(0)
	stdlog.SetOutput(global.With().Str("source", "stdlog").Logger())
	return closeFn, nil
}

// L returns the process logger.
func L() zerolog.Logger {
	return global
}

// Component scopes base to one part of the client.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str(FieldComponent, name).Logger()
}
