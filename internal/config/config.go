package config

import (
	"os"
	"strconv"
	"time"
)

const (
	baseURLVar        = "AUTH_BASE_URL"
	appNameVar        = "AUTH_APP_NAME"
	storePathVar      = "AUTH_STORE_PATH"
	requestTimeoutVar = "AUTH_REQUEST_TIMEOUT"
	refreshBufferVar  = "AUTH_REFRESH_BUFFER"
	expirySkewVar     = "AUTH_EXPIRY_SKEW"
	notifyIntervalVar = "AUTH_NOTIFY_INTERVAL"
	notifyCooldownVar = "AUTH_NOTIFY_COOLDOWN"
	retryAttemptsVar  = "AUTH_RETRY_ATTEMPTS"
	retryBaseDelayVar = "AUTH_RETRY_BASE_DELAY"
	retryMaxDelayVar  = "AUTH_RETRY_MAX_DELAY"
)

// Config holds all tunables of the session core. The original system carried
// divergent hard-coded constants across duplicated auth modules; they are
// unified here as configuration.
type Config struct {
	BaseURL   string // Identity service base URL (e.g. "https://api.example.com")
	AppName   string
	StorePath string // Path of the durable session slot

	RequestTimeout time.Duration // Per-request HTTP timeout
	RefreshBuffer  time.Duration // Renew this long before access token expiry
	ExpirySkew     time.Duration // Treat tokens expiring within this window as expired

	NotifyInterval time.Duration // Minimum interval between session-expired notifications
	NotifyCooldown time.Duration // Hold the expiry-handling lock this long after processing

	RetryAttempts  uint64        // Transient-failure retry attempts
	RetryBaseDelay time.Duration // First backoff delay
	RetryMaxDelay  time.Duration // Backoff cap
}

// New returns a Config populated from environment variables, falling back to
// defaults that match the original system's behaviour.
func New() *Config {
	return &Config{
		BaseURL:        GetEnv(baseURLVar, "http://localhost:8000"),
		AppName:        GetEnv(appNameVar, "Auth Client"),
		StorePath:      GetEnv(storePathVar, "./data/session.db"),
		RequestTimeout: getDuration(requestTimeoutVar, 10*time.Second),
		RefreshBuffer:  getDuration(refreshBufferVar, 5*time.Minute),
		ExpirySkew:     getDuration(expirySkewVar, 30*time.Second),
		NotifyInterval: getDuration(notifyIntervalVar, 5*time.Second),
		NotifyCooldown: getDuration(notifyCooldownVar, 500*time.Millisecond),
		RetryAttempts:  getUint(retryAttemptsVar, 3),
		RetryBaseDelay: getDuration(retryBaseDelayVar, time.Second),
		RetryMaxDelay:  getDuration(retryMaxDelayVar, 30*time.Second),
	}
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

func getDuration(envVar string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

func getUint(envVar string, defaultValue uint64) uint64 {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return defaultValue
	}
	return n
}
