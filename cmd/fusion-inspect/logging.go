package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

type LogConfig struct {
	// zerolog level name. Debug if empty.
	Level string `yaml:"level"`
	// File that receives JSON log lines in addition to the console.
	File string `yaml:"file"`
}

// newLogger builds the inspector logger writing to console and, if set,
// to the log file. The returned function closes the log file.
func newLogger(config LogConfig, console io.Writer) (zerolog.Logger, func() error, error) {
	level := zerolog.DebugLevel
	if config.Level != "" {
		var err error
		if level, err = zerolog.ParseLevel(config.Level); err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("log level %q: %w", config.Level, err)
		}
	}

	writers := []io.Writer{zerolog.ConsoleWriter{Out: console}}
	closeFile := func() error { return nil }
	if config.File != "" {
		file, err := os.OpenFile(config.File, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, file)
		closeFile = file.Close
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().Timestamp().Str("version", version).Logger()
	return logger, closeFile, nil
}
