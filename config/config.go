package config

import (
	"os"
	"strconv"
)

type ConfigStruct struct {
	Relay   RelayConfig
	Auth    AuthConfig
	Session SessionConfig
	Sentry  SentryConfig
	Options Options
}

type RelayConfig struct {
	// BaseURL is the out-of-process OAuth relay. Unauthenticated users are
	// redirected to it, and token refreshes POST to <BaseURL>/refresh-token.
	BaseURL string
	// AppOrigin is where the relay redirects back to after an exchange.
	AppOrigin string
}

type AuthConfig struct {
	SafetyMarginSeconds   int
	RefreshTimeoutSeconds int
}

type SessionConfig struct {
	PlayerName     string
	TickIntervalMs int
}

type SentryConfig struct {
	DSN string
}

type Options struct {
	Port   string
	DBPath string
}

var Config *ConfigStruct

func NewConfig() {
	config := &ConfigStruct{
		Relay: RelayConfig{
			BaseURL:   getEnvDefault("RELAY_URL", "http://localhost:5174"),
			AppOrigin: getEnvDefault("APP_ORIGIN", "http://localhost:3000"),
		},
		Auth: AuthConfig{
			SafetyMarginSeconds:   getSafetyMargin(),
			RefreshTimeoutSeconds: getRefreshTimeout(),
		},
		Session: SessionConfig{
			PlayerName:     getEnvDefault("PLAYER_NAME", "Zunify Web Player"),
			TickIntervalMs: getTickInterval(),
		},
		Sentry: SentryConfig{
			DSN: os.Getenv("SENTRY_DSN"),
		},
		Options: Options{
			Port:   os.Getenv("PORT"),
			DBPath: getEnvDefault("DB_PATH", "zunify.db"),
		},
	}

	Config = config
}

func getEnvDefault(key string, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getSafetyMargin() int {
	marginStr := os.Getenv("TOKEN_SAFETY_MARGIN_SECONDS")
	if marginStr == "" {
		return 60
	}
	margin, err := strconv.Atoi(marginStr)
	if err != nil || margin <= 0 {
		return 60
	}
	if margin > 180 {
		return 180 // anything larger just burns refreshes
	}
	return margin
}

func getRefreshTimeout() int {
	timeoutStr := os.Getenv("REFRESH_TIMEOUT_SECONDS")
	if timeoutStr == "" {
		return 10
	}
	timeout, err := strconv.Atoi(timeoutStr)
	if err != nil || timeout <= 0 {
		return 10
	}
	if timeout > 60 {
		return 60
	}
	return timeout
}

func getTickInterval() int {
	intervalStr := os.Getenv("POSITION_TICK_MS")
	if intervalStr == "" {
		return 250
	}
	interval, err := strconv.Atoi(intervalStr)
	if err != nil || interval <= 0 {
		return 250
	}
	if interval < 50 {
		return 50
	}
	if interval > 1000 {
		return 1000
	}
	return interval
}
