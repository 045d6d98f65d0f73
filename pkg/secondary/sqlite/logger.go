package sqlite

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Logger forwards GORM logs to zerolog. Statements are logged at trace level,
// failed statements at error level. Missing rows are not failures.
type Logger struct {
	log  zerolog.Logger
	slow time.Duration
}

var _ gormlogger.Interface = (*Logger)(nil)

func NewLogger(log zerolog.Logger) *Logger {
	return &Logger{log: log.With().Str("component", "sqlite").Logger(), slow: 200 * time.Millisecond}
}

// LogMode maps GORM levels onto the zerolog level of the returned copy.
func (l *Logger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	out := *l
	switch level {
	case gormlogger.Silent:
		out.log = l.log.Level(zerolog.Disabled)
	case gormlogger.Error:
		out.log = l.log.Level(zerolog.ErrorLevel)
	case gormlogger.Warn:
		out.log = l.log.Level(zerolog.WarnLevel)
	case gormlogger.Info:
		out.log = l.log.Level(zerolog.TraceLevel)
	}
	return &out
}

func (l *Logger) Info(_ context.Context, msg string, args ...any) {
	l.log.Info().Msgf(msg, args...)
}

func (l *Logger) Warn(_ context.Context, msg string, args ...any) {
	l.log.Warn().Msgf(msg, args...)
}

func (l *Logger) Error(_ context.Context, msg string, args ...any) {
	l.log.Error().Msgf(msg, args...)
}

func (l *Logger) Trace(_ context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		sql, rows := fc()
		l.log.Error().Err(err).Str("sql", sql).Int64("rows", rows).Dur("elapsed", elapsed).Msg("statement failed")
	case elapsed > l.slow:
		sql, rows := fc()
		l.log.Warn().Str("sql", sql).Int64("rows", rows).Dur("elapsed", elapsed).Msg("slow statement")
	case l.log.GetLevel() <= zerolog.TraceLevel:
		sql, rows := fc()
		l.log.Trace().Str("sql", sql).Int64("rows", rows).Dur("elapsed", elapsed).Msg("statement")
	}
}
