package utils

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

var ErrUnknownLogLevel = errors.New("unexpected log level")

// Parse one of "none", "error", "warn", "info", "debug" (any case).
// enabled is false for "none".
func ParseLogLevel(logLevel string) (level slog.Level, enabled bool, err error) {
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "none":
		return 0, false, nil
	case "error":
		return slog.LevelError, true, nil
	case "warn":
		return slog.LevelWarn, true, nil
	case "info":
		return slog.LevelInfo, true, nil
	case "debug":
		return slog.LevelDebug, true, nil
	}
	return 0, false, fmt.Errorf("%w: %q", ErrUnknownLogLevel, logLevel)
}

// Configure the slog logger with a specific log level and potential output file.
//
// See ParseLogLevel for valid log levels. Any other value returns an error.
// logFile may either specify a file path (an error is returned if the path cannot be opened) or none,
// in which case the logger points to stdout with a text handler. Files are appended to with a JSON handler.
//
// Returns the os.File pointer that slog writes to, so it may be gracefully shut:
//
//	logFilePointer, err := utils.ConfigureDefaultLogger(level, file, slog.HandlerOptions{})
//	if err != nil {
//		panic(err)
//	}
//	if logFilePointer != nil {
//		defer logFilePointer.Close()
//	}
func ConfigureDefaultLogger(logLevel string, logFile string, loggerOptions slog.HandlerOptions) (*os.File, error) {
	level, enabled, err := ParseLogLevel(logLevel)
	if err != nil {
		return nil, err
	}
	if !enabled {
		slog.SetDefault(slog.New(slog.DiscardHandler))
		return nil, nil
	}
	loggerOptions.Level = level

	// --------------------------------------------------------------------------------

	if logFile == "" {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &loggerOptions)))
		return nil, nil
	}

	logFilePointer, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(logFilePointer, &loggerOptions)))
	return logFilePointer, nil
}
