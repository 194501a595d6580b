// Package logging configures the process wide logrus logger.
package logging

import (
	"io"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/file-ingester/internal/config"
)

// Configure sets the level and formatter of the standard logger. Output goes to stdout.
func Configure(cfg config.LogConfig) error {
	return configure(log.StandardLogger(), cfg, os.Stdout)
}

func configure(logger *log.Logger, cfg config.LogConfig, out io.Writer) error {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return errors.WithStack(err)
	}
	logger.SetLevel(level)
	logger.SetOutput(out)
	switch cfg.Format {
	case "json":
		logger.SetFormatter(&log.JSONFormatter{})
	default:
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}
