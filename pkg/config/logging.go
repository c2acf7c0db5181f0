package config

import (
	"fmt"
	"io"
	"os"

	"github.com/pheyse/FileSystemFacade-sub001/internal/logger"
)

// ConfigureLogging applies the logging section to the process logger.
// When output is a file, the returned closer closes it; otherwise it is a
// no-op.
func ConfigureLogging(cfg LoggingConfig) (io.Closer, error) {
	logger.SetLevel(cfg.Level)
	logger.SetFormat(cfg.Format)

	switch cfg.Output {
	case "", "stderr":
		logger.SetOutput(os.Stderr)
	case "stdout":
		logger.SetOutput(os.Stdout)
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		logger.SetOutput(f)
		return f, nil
	}
	return nopCloser{}, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
