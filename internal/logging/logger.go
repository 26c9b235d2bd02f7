// Package logging provides zap logger helpers.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects the logger flavor and its outputs.
type Options struct {
	// Development switches to the colored console encoder.
	Development bool
	// Level is one of debug, info, warn(ing), error, critical. Empty means info.
	Level string
	// Dir, when set, receives a JSON copy of every entry in
	// <Dir>/<Stamp>_harvest.log.
	Dir   string
	Stamp string
	// Counter, when set, counts warnings and errors.
	Counter *Counter
}

// Counter tallies entries at warn level and above.
type Counter struct {
	warnings atomic.Int64
	errors   atomic.Int64
}

// Warnings reports how many warn entries were logged.
func (c *Counter) Warnings() int64 { return c.warnings.Load() }

// Errors reports how many entries at error level or above were logged.
func (c *Counter) Errors() int64 { return c.errors.Load() }

// Any reports whether anything at warn level or above was logged.
func (c *Counter) Any() bool { return c.Warnings()+c.Errors() > 0 }

func (c *Counter) hook(e zapcore.Entry) error {
	switch {
	case e.Level >= zapcore.ErrorLevel:
		c.errors.Add(1)
	case e.Level == zapcore.WarnLevel:
		c.warnings.Add(1)
	}
	return nil
}

// ParseLevel maps operator level names onto zap levels.
func ParseLevel(name string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "":
		return zapcore.InfoLevel, nil
	case "warning":
		return zapcore.WarnLevel, nil
	case "critical":
		return zapcore.ErrorLevel, nil
	}
	lvl, err := zapcore.ParseLevel(strings.ToLower(name))
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("parse log level %q: %w", name, err)
	}
	return lvl, nil
}

// New builds a zap.Logger configured for development or production.
func New(opts Options) (*zap.Logger, error) {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.DisableStacktrace = false
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	var buildOpts []zap.Option
	if opts.Dir != "" {
		fileCore, err := fileCore(opts, lvl)
		if err != nil {
			return nil, err
		}
		buildOpts = append(buildOpts, zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return zapcore.NewTee(c, fileCore)
		}))
	}
	if opts.Counter != nil {
		buildOpts = append(buildOpts, zap.Hooks(opts.Counter.hook))
	}

	logger, err := cfg.Build(buildOpts...)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

func fileCore(opts Options, lvl zapcore.Level) (zapcore.Core, error) {
	if err := os.MkdirAll(opts.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	name := "harvest.log"
	if opts.Stamp != "" {
		name = opts.Stamp + "_" + name
	}
	sink, _, err := zap.Open(filepath.Join(opts.Dir, name))
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), sink, lvl), nil
}
