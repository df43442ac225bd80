package gormzerologger

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormZerologger envoie les requêtes gorm dans le logger zerolog.
// Les doublons de clé unique sont des issues attendues (page déjà créée,
// like déjà posé) et descendent au niveau debug.
type GormZerologger struct {
	Logger                    zerolog.Logger
	LogLevel                  logger.LogLevel
	SlowThreshold             time.Duration
	IgnoreRecordNotFoundError bool
	IgnoreDuplicatedKeyError  bool
}

func New(logLevel string) *GormZerologger {
	return &GormZerologger{
		Logger:                    log.Logger.With().Str("component", "gorm").Logger(),
		LogLevel:                  parseGormLogLevel(logLevel),
		SlowThreshold:             200 * time.Millisecond,
		IgnoreRecordNotFoundError: true,
		IgnoreDuplicatedKeyError:  true,
	}
}

func parseGormLogLevel(level string) logger.LogLevel {
	switch level {
	case "debug", "trace", "info":
		return logger.Info
	case "warn":
		return logger.Warn
	case "error":
		return logger.Error
	case "silent":
		return logger.Silent
	default:
		return logger.Info
	}
}

func (l *GormZerologger) LogMode(level logger.LogLevel) logger.Interface {
	newLogger := *l
	newLogger.LogLevel = level
	return &newLogger
}

func (l *GormZerologger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= logger.Info {
		l.Logger.Info().Msgf(msg, data...)
	}
}

func (l *GormZerologger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= logger.Warn {
		l.Logger.Warn().Msgf(msg, data...)
	}
}

func (l *GormZerologger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= logger.Error {
		l.Logger.Error().Msgf(msg, data...)
	}
}

// expected signale une erreur qui fait partie du contrat idempotent
func (l *GormZerologger) expected(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) && l.IgnoreRecordNotFoundError {
		return true
	}
	return errors.Is(err, gorm.ErrDuplicatedKey) && l.IgnoreDuplicatedKeyError
}

func (l *GormZerologger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	logEvent := l.Logger.With().
		Dur("elapsed_ms", elapsed).
		Int64("rows", rows).
		Str("sql", sql).
		Logger()

	switch {
	case err != nil && l.expected(err):
		logEvent.Debug().
			Err(err).
			Msg("database query expected miss")

	case err != nil && l.LogLevel >= logger.Error:
		logEvent.Error().
			Err(err).
			Msg("database query error")

	case elapsed > l.SlowThreshold && l.SlowThreshold != 0 && l.LogLevel >= logger.Warn:
		logEvent.Warn().
			Dur("threshold", l.SlowThreshold).
			Msg("slow database query")

	case l.LogLevel >= logger.Info:
		logEvent.Trace().
			Msg("database query")
	}
}
