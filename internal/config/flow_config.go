package config

import "time"

// FlowConfig holds the lifetimes of codes and tokens.
type FlowConfig interface {
	GetDeviceCodeExpiry() time.Duration
	GetDevicePollInterval() time.Duration
	GetCliSessionExpiry() time.Duration
	GetAuthCodeExpiry() time.Duration
	GetAccessTokenExpiry() time.Duration
	GetRefreshTokenExpiry() time.Duration
}

type Flow struct{}

var _ FlowConfig = Flow{}

func (Flow) GetDeviceCodeExpiry() time.Duration {
	return GetDuration("DEVICE_CODE_TTL", 900*time.Second)
}

func (Flow) GetDevicePollInterval() time.Duration {
	return GetDuration("DEVICE_POLL_INTERVAL", 5*time.Second)
}

func (Flow) GetCliSessionExpiry() time.Duration {
	return GetDuration("CLI_SESSION_TTL", 10*time.Minute)
}

func (Flow) GetAuthCodeExpiry() time.Duration {
	return GetDuration("AUTH_CODE_TTL", time.Minute)
}

func (Flow) GetAccessTokenExpiry() time.Duration {
	return GetDuration("ACCESS_TOKEN_TTL", time.Hour)
}

func (Flow) GetRefreshTokenExpiry() time.Duration {
	return GetDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour)
}
