// Package config reads server settings from the environment.
package config

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

type Config interface {
	EnvConfig
	CorsConfig
	FlowConfig
	SecurityConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	IsDev() bool
	GetBaseURL() string
	GetLogLevel() string
	GetDatabaseURL() string
	GetRedisURL() string
	GetOIDCIssuer() string
	GetOIDCClientID() string
	GetSessionCookie() string
	DevSessionHeaderEnabled() bool
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type mainConfig struct {
	EnvVars
	Cors
	Flow
	Security
}

func New() Config {
	return mainConfig{}
}

// LoadDotEnv loads variables from the given files (".env" when none) without
// overriding variables already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	return errors.Wrap(godotenv.Load(present...), "config.LoadDotEnv")
}
