package gormzerologger

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newBufferLogger(buf *bytes.Buffer) *GormZerologger {
	l := New("info")
	l.Logger = zerolog.New(buf).Level(zerolog.TraceLevel)
	return l
}

func query() (string, int64) {
	return "INSERT INTO likes ...", 0
}

func TestTraceLevels(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf)

	l.Trace(context.Background(), time.Now(), query, gorm.ErrDuplicatedKey)
	assert.Contains(t, buf.String(), `"level":"debug"`)
	assert.Contains(t, buf.String(), "expected miss")

	buf.Reset()
	l.Trace(context.Background(), time.Now(), query, gorm.ErrRecordNotFound)
	assert.Contains(t, buf.String(), `"level":"debug"`)

	buf.Reset()
	l.Trace(context.Background(), time.Now(), query, errors.New("disk I/O error"))
	assert.Contains(t, buf.String(), `"level":"error"`)

	buf.Reset()
	l.Trace(context.Background(), time.Now().Add(-time.Second), query, nil)
	assert.Contains(t, buf.String(), "slow database query")
}

func TestSilent(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf).LogMode(logger.Silent)

	l.Trace(context.Background(), time.Now(), query, errors.New("boom"))
	assert.Empty(t, buf.String())
}

func TestParseGormLogLevel(t *testing.T) {
	assert.Equal(t, logger.Warn, parseGormLogLevel("warn"))
	assert.Equal(t, logger.Error, parseGormLogLevel("error"))
	assert.Equal(t, logger.Silent, parseGormLogLevel("silent"))
	assert.Equal(t, logger.Info, parseGormLogLevel("trace"))
}
