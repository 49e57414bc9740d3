// Package internal holds the shared server configuration.
package internal

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	Host     string `env:"HOST,default=localhost"`
	Port     int    `env:"PORT,default=8080" validate:"gt=0,lte=65535"`
	LogLevel string `env:"LOG_LEVEL,required=true"`

	BadgerFilepath string `env:"BADGER_FILEPATH,required=true"`
	JWTSecret      string `env:"JWT_SECRET,required=true" validate:"min=32"`

	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=64" validate:"gt=0"`
	HistoryPageSize      int           `env:"HISTORY_PAGE_SIZE,default=50" validate:"gt=0"`
	TypingTTL            time.Duration `env:"TYPING_TTL,default=3s" validate:"gt=0"`

	// HeartbeatTimeout is the pong window; a silent connection is treated
	// as disconnected once it elapses. HeartbeatInterval must stay below it.
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL,default=20s" validate:"gt=0"`
	HeartbeatTimeout  time.Duration `env:"HEARTBEAT_TIMEOUT,default=45s" validate:"gt=0,gtfield=HeartbeatInterval"`
	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT,default=10s" validate:"gt=0"`

	RestartInterval time.Duration `env:"RESTART_INTERVAL,default=200ms" validate:"gt=0"`
	ReportInterval  time.Duration `env:"REPORT_INTERVAL,default=30s" validate:"gt=0"`

	ModerationCharReplacement string `env:"MODERATION_CHARACTER_REPLACEMENT,default=*"`
}

func (c Config) Validate() error {
	return validator.New().Struct(c)
}

// CharacterRune parses the single-rune moderation replacement character.
func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"MODERATION_CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}
