// Package logging routes the standard logger to stderr and, when a log file is
// configured, to a size-rotated file.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mrlokans/studysync/internal/config"
)

// Setup points the standard logger at the configured outputs. The returned
// closer flushes and closes the log file and is safe to call when no file is
// configured.
func Setup(cfg config.Logging) io.Closer {
	if cfg.File == "" {
		log.SetOutput(os.Stderr)
		return nopCloser{}
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, rotator))
	return rotator
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
