package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// ServerURL points at a running gateway; leave empty to skip the suite.
	ServerURL string `envconfig:"CHAT_SERVER_URL"`
	// JWTSecret must match the server's JWT_SECRET so the suite can mint
	// tokens for its throwaway users.
	JWTSecret string `envconfig:"CHAT_JWT_SECRET"`
	// ConversationID is a conversation whose participants include the two
	// suite users (alice-e2e, bob-e2e).
	ConversationID string `envconfig:"CHAT_CONVERSATION_ID" default:"e2e-smoke"`
	// E2E_DEBUG_JSON dumps every received frame for log readability
	DebugJSON bool `envconfig:"E2E_DEBUG_JSON" default:"false"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
