package logging

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNewLoggerLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, NewLogger(Config{Level: "DEBUG"}).GetLevel())
	assert.Equal(t, zerolog.InfoLevel, NewLogger(Config{Level: "bogus"}).GetLevel())
	assert.Equal(t, zerolog.InfoLevel, NewLogger(Config{}).GetLevel())
}

func TestNewLoggerConsoleOutput(t *testing.T) {
	logger := NewLogger(Config{Level: "warn", Format: "console", Caller: true})
	assert.Equal(t, zerolog.WarnLevel, logger.GetLevel())
}
