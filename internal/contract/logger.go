package contract

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// DefaultLogLevel is the level used when none is configured.
const DefaultLogLevel = "info"

// NewLogger creates the structured logger threaded through the pipeline.
// Logs always go to stderr so stdout stays reserved for results.
func NewLogger(level string) (*logrus.Logger, error) {
	return NewLoggerTo(os.Stderr, level)
}

// NewLoggerTo creates a logger writing to w.
func NewLoggerTo(w io.Writer, level string) (*logrus.Logger, error) {
	if level == "" {
		level = DefaultLogLevel
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetLevel(lvl)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
	})
	return logger, nil
}

// NewNopLogger returns a logger that discards everything. Used by tests and the MCP server.
func NewNopLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
