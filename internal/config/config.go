package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config is everything tunable from the environment. A .env file in the
// working directory is folded in first; real environment variables win.
type Config struct {
	APIBaseURL string

	// OAuth app credentials for connecting new workspaces.
	ClientID     string
	ClientSecret string
	RedirectPort int

	AgentBinary    string
	GatewayPort    int
	AgentAutoStart bool

	DataDir  string
	LogLevel string
}

func Load() (*Config, error) {
	// Missing .env is fine; explicit environment still applies.
	_ = godotenv.Load()

	dataDir := getEnv("SKIFF_DATA_DIR", "")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".skiff")
	}

	redirectPort, err := getEnvInt("SKIFF_REDIRECT_PORT", 8618)
	if err != nil {
		return nil, err
	}
	gatewayPort, err := getEnvInt("SKIFF_GATEWAY_PORT", 8421)
	if err != nil {
		return nil, err
	}

	return &Config{
		APIBaseURL:     getEnv("SKIFF_API_BASE_URL", ""),
		ClientID:       getEnv("SKIFF_CLIENT_ID", ""),
		ClientSecret:   getEnv("SKIFF_CLIENT_SECRET", ""),
		RedirectPort:   redirectPort,
		AgentBinary:    getEnv("SKIFF_AGENT_BINARY", "skiff-agent"),
		GatewayPort:    gatewayPort,
		AgentAutoStart: getEnvBool("SKIFF_AGENT_AUTOSTART", true),
		DataDir:        dataDir,
		LogLevel:       getEnv("SKIFF_LOG_LEVEL", "info"),
	}, nil
}

// OAuthConfigured reports whether the app credentials needed for the
// connect flow are present.
func (c *Config) OAuthConfigured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

func (c *Config) RedirectURI() string {
	return fmt.Sprintf("http://localhost:%d/callback", c.RedirectPort)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
