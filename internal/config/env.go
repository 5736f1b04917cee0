package config

import (
	"os"
	"strconv"
)

// FromEnv overlays CANVASS_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("CANVASS_REVIEW_LEASE_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ReviewLeaseMinutes = n
		}
	}
	if v := os.Getenv("CANVASS_SKIP_WINDOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SkipWindow = n
		}
	}
	if v := os.Getenv("CANVASS_QC_SAMPLE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 && f <= 1 {
			cfg.QCSampleRate = f
		}
	}
	if v := os.Getenv("CANVASS_AUTO_REJECT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.AutoReject.Enabled = b
		}
	}
	if v := os.Getenv("CANVASS_AUTO_REJECT_MIN_DURATION_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.AutoReject.MinDurationSec = n
		}
	}
	if v := os.Getenv("CANVASS_SCOPE_CACHE_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.ScopeCacheTTLSeconds = n
		}
	}
	if v := os.Getenv("CANVASS_JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("CANVASS_TOKEN_TTL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.TokenTTLMinutes = n
		}
	}
	if v := os.Getenv("CANVASS_MEDIA_SIGNING_KEY"); v != "" {
		cfg.MediaSigningKey = v
	}
	if v := os.Getenv("CANVASS_MEDIA_URL_TTL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MediaURLTTLMinutes = n
		}
	}
	if v := os.Getenv("CANVASS_AUDIT_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.AuditRetentionDays = n
		}
	}
	if v := os.Getenv("CANVASS_SWEEP_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SweepIntervalSeconds = n
		}
	}
}
