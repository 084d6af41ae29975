package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variable names for provider credentials.
const (
	EnvFREDAPIKey    = "FRED_API_KEY"
	EnvTelegramToken = "TELEGRAM_BOT_TOKEN"
)

// Credentials holds secrets looked up once at startup. An empty field means
// the credential is absent; connectors that need it refuse to be built.
type Credentials struct {
	FREDAPIKey    string
	TelegramToken string
}

// LoadCredentials reads envFile (if it exists) into the process environment
// without overriding variables already set, then collects the credentials.
func LoadCredentials(envFile string) (Credentials, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Credentials{}, fmt.Errorf("loading env file %s: %w", envFile, err)
		}
	}
	return Credentials{
		FREDAPIKey:    strings.TrimSpace(os.Getenv(EnvFREDAPIKey)),
		TelegramToken: strings.TrimSpace(os.Getenv(EnvTelegramToken)),
	}, nil
}
