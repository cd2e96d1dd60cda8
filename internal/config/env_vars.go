package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	portEnvVar        = "PORT"
	appNameVar        = "APP_NAME"
	envVar            = "ENV"
	baseURLVar        = "BASE_URL"
	logLevelVar       = "LOG_LEVEL"
	databaseURLVar    = "DATABASE_URL"
	redisURLVar       = "REDIS_URL"
	oidcIssuerVar     = "OIDC_ISSUER"
	oidcClientIDVar   = "OIDC_CLIENT_ID"
	sessionCookieVar  = "SESSION_COOKIE"
	devSessionVar     = "DEV_SESSION_HEADER"
	devEnvironment    = "DEV"
	defaultCookieName = "skills_session"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetPort() string {
	port := GetEnv(portEnvVar, "8080")
	if !strings.HasPrefix(port, ":") {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "Skills Auth")
}

func (EnvVars) GetEnv() string {
	return strings.ToUpper(GetEnv(envVar, devEnvironment))
}

func (e EnvVars) IsDev() bool {
	return e.GetEnv() == devEnvironment
}

// GetBaseURL is the public origin used to build verification and approval links.
func (EnvVars) GetBaseURL() string {
	return strings.TrimRight(GetEnv(baseURLVar, "http://localhost:8080"), "/")
}

func (EnvVars) GetLogLevel() string {
	return GetEnv(logLevelVar, "info")
}

// GetDatabaseURL selects the postgres store. Empty means the in-memory store.
func (EnvVars) GetDatabaseURL() string {
	return GetEnv(databaseURLVar, "")
}

// GetRedisURL enables the shared rate limiter. Empty disables rate limiting.
func (EnvVars) GetRedisURL() string {
	return GetEnv(redisURLVar, "")
}

func (EnvVars) GetOIDCIssuer() string {
	return GetEnv(oidcIssuerVar, "")
}

func (EnvVars) GetOIDCClientID() string {
	return GetEnv(oidcClientIDVar, "")
}

func (EnvVars) GetSessionCookie() string {
	return GetEnv(sessionCookieVar, defaultCookieName)
}

// DevSessionHeaderEnabled reports whether the unauthenticated dev user header may
// establish sessions. It requires ENV=DEV and DEV_SESSION_HEADER=true.
func (e EnvVars) DevSessionHeaderEnabled() bool {
	return e.IsDev() && GetBool(devSessionVar, false)
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

// GetDuration reads a Go duration ("15m", "720h"). Unparsable values fall back to the default.
func GetDuration(envVar string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(GetEnv(envVar, ""))
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}

func GetBool(envVar string, defaultValue bool) bool {
	b, err := strconv.ParseBool(GetEnv(envVar, ""))
	if err != nil {
		return defaultValue
	}
	return b
}

func GetInt(envVar string, defaultValue int) int {
	n, err := strconv.Atoi(GetEnv(envVar, ""))
	if err != nil || n <= 0 {
		return defaultValue
	}
	return n
}
