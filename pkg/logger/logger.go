// Package logger builds the zerolog loggers handed to repositories and the
// migrator.
package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

const (
	permission = 0664
)

type LogBuild struct {
	writer  io.Writer
	path    string
	console bool
	level   zerolog.Level
	fields  map[string]string
}

type LogData struct {
	LogFile *os.File
	Logger  zerolog.Logger
}

func New() *LogBuild {
	return &LogBuild{level: zerolog.InfoLevel}
}

func (build *LogBuild) FromPath(path string) *LogBuild {
	build.path = path
	return build
}

func (build *LogBuild) FromBuffer(w io.Writer) *LogBuild {
	build.writer = w
	return build
}

// Console renders human readable lines instead of JSON.
func (build *LogBuild) Console() *LogBuild {
	build.console = true
	return build
}

// Level parses a zerolog level name such as "debug" or "warn".
func (build *LogBuild) Level(name string) *LogBuild {
	if lvl, err := zerolog.ParseLevel(name); err == nil && name != "" {
		build.level = lvl
	}
	return build
}

// With adds a field to every line.
func (build *LogBuild) With(key, value string) *LogBuild {
	if build.fields == nil {
		build.fields = map[string]string{}
	}
	build.fields[key] = value
	return build
}

func (build *LogBuild) Make() (logData *LogData, err error) {
	logData = new(LogData)
	writer := build.writer
	if writer == nil {
		writer = os.Stderr
	}
	if build.path != "" {
		logData.LogFile, err = os.OpenFile(build.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writer = zerolog.SyncWriter(logData.LogFile)
	}
	if build.console {
		writer = zerolog.ConsoleWriter{Out: writer, NoColor: build.path != ""}
	}

	ctx := zerolog.New(writer).Level(build.level).With().Timestamp()
	for k, v := range build.fields {
		ctx = ctx.Str(k, v)
	}
	logData.Logger = ctx.Logger()
	return logData, nil
}

// Close releases the log file, if any.
func (logData *LogData) Close() error {
	if logData.LogFile == nil {
		return nil
	}
	return logData.LogFile.Close()
}
