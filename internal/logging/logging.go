// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Init configures the standard logger. See Configure.
func Init(level, file string) (io.Closer, error) {
	return Configure(log.StandardLogger(), os.Stderr, level, file)
}

// Configure sets the level and output of logger. Logs always go to console;
// when file is set they are also written to a rotated log file. The returned
// closer releases the file.
func Configure(logger *log.Logger, console io.Writer, level, file string) (io.Closer, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logger.SetLevel(lvl)
	logger.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	if file == "" {
		logger.SetOutput(console)
		return nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}
	rotator := &lumberjack.Logger{
		Filename:   file,
		MaxSize:    100, // megabytes
		MaxBackups: 10,
		Compress:   true,
	}
	logger.SetOutput(io.MultiWriter(console, rotator))
	return rotator, nil
}
