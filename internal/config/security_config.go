package config

import (
	"net"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	reaperScheduleVar     = "REAPER_SCHEDULE"
	trustedProxiesVar     = "TRUSTED_PROXIES"
	defaultReaperSchedule = "@every 10m"
)

type SecurityConfig interface {
	GetRateLimitMax() int
	GetRateLimitWindow() time.Duration
	GetReaperSchedule() string
	GetReaperRetention() time.Duration
	GetTrustedProxies() []*net.IPNet
}

type Security struct{}

var _ SecurityConfig = Security{}

// GetRateLimitMax is the number of requests one client may make per window on
// the unauthenticated flow endpoints.
func (Security) GetRateLimitMax() int {
	return GetInt("RATE_LIMIT_MAX", 30)
}

func (Security) GetRateLimitWindow() time.Duration {
	return GetDuration("RATE_LIMIT_WINDOW", time.Minute)
}

// GetReaperSchedule is a cron spec for deleting expired rows. Setting
// REAPER_SCHEDULE to an empty value disables the reaper.
func (Security) GetReaperSchedule() string {
	schedule, ok := os.LookupEnv(reaperScheduleVar)
	if !ok {
		return defaultReaperSchedule
	}
	return strings.TrimSpace(schedule)
}

// GetReaperRetention keeps expired rows around for audit before deletion.
func (Security) GetReaperRetention() time.Duration {
	return GetDuration("REAPER_RETENTION", 24*time.Hour)
}

// GetTrustedProxies lists the proxies whose X-Forwarded-For header is honoured,
// as comma separated IPs or CIDRs. Invalid entries are skipped.
func (Security) GetTrustedProxies() []*net.IPNet {
	var nets []*net.IPNet
	for _, entry := range strings.Split(GetEnv(trustedProxiesVar, ""), ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			if ip := net.ParseIP(entry); ip != nil {
				bits := 8 * len(ip.To16())
				if ip.To4() != nil {
					ip, bits = ip.To4(), 32
				}
				nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
				continue
			}
		}
		_, n, err := net.ParseCIDR(entry)
		if err != nil {
			log.Warn().Str("entry", entry).Msg("ignoring invalid trusted proxy")
			continue
		}
		nets = append(nets, n)
	}
	return nets
}
