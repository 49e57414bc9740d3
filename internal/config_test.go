package internal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Host:                      "localhost",
		Port:                      8080,
		LogLevel:                  "info",
		BadgerFilepath:            "/tmp/chat-core",
		JWTSecret:                 "0123456789abcdef0123456789abcdef",
		ConnectionBufferSize:      64,
		HistoryPageSize:           50,
		TypingTTL:                 3 * time.Second,
		HeartbeatInterval:         20 * time.Second,
		HeartbeatTimeout:          45 * time.Second,
		WriteTimeout:              10 * time.Second,
		RestartInterval:           200 * time.Millisecond,
		ReportInterval:            30 * time.Second,
		ModerationCharReplacement: "*",
	}
}

func TestConfig_Validate(t *testing.T) {
	req := require.New(t)
	req.NoError(validConfig().Validate())
}

func TestConfig_Rejects_Short_JWT_Secret(t *testing.T) {
	req := require.New(t)
	cfg := validConfig()
	cfg.JWTSecret = "too-short"
	req.Error(cfg.Validate())
}

func TestConfig_Heartbeat_Timeout_Must_Exceed_Interval(t *testing.T) {
	req := require.New(t)
	cfg := validConfig()
	cfg.HeartbeatInterval = 45 * time.Second
	cfg.HeartbeatTimeout = 20 * time.Second
	req.Error(cfg.Validate())
}

func TestCharacterRune(t *testing.T) {
	req := require.New(t)

	r, err := CharacterRune("*")
	req.NoError(err)
	req.Equal('*', r)

	r, err = CharacterRune("█")
	req.NoError(err)
	req.Equal('█', r)

	_, err = CharacterRune("")
	req.Error(err)
	_, err = CharacterRune("**")
	req.Error(err)
}
