// Package config loads canvass configuration from a JSON or YAML file with a
// CANVASS_* environment overlay on top.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	// ReviewLeaseMinutes is the lease duration handed to a quality agent on
	// assignment. Expired leases return the response to the pool lazily.
	ReviewLeaseMinutes int `json:"reviewLeaseMinutes" yaml:"reviewLeaseMinutes"`
	// SkipWindow is how many eligible responses a skipped one must wait
	// behind before it can be served again.
	SkipWindow int `json:"skipWindow" yaml:"skipWindow"`
	// QCSampleRate is the fraction of a resolved QC batch sampled into the
	// review queue.
	QCSampleRate float64 `json:"qcSampleRate" yaml:"qcSampleRate"`
	// AutoReject gates the best-effort rejection heuristics applied on
	// interview submission.
	AutoReject AutoRejectRules `json:"autoReject" yaml:"autoReject"`
	// ScopeCacheTTLSeconds bounds how long an agent's survey-assignment scope
	// may be served from cache before re-reading storage.
	ScopeCacheTTLSeconds int `json:"scopeCacheTtlSeconds" yaml:"scopeCacheTtlSeconds"`
	// JWTSecret signs agent auth tokens. Required outside tests.
	JWTSecret string `json:"jwtSecret" yaml:"jwtSecret"`
	// TokenTTLMinutes bounds auth token lifetime.
	TokenTTLMinutes int `json:"tokenTtlMinutes" yaml:"tokenTtlMinutes"`
	// MediaSigningKey signs expiring audio playback URLs.
	MediaSigningKey string `json:"mediaSigningKey" yaml:"mediaSigningKey"`
	// MediaURLTTLMinutes bounds playback URL lifetime.
	MediaURLTTLMinutes int `json:"mediaUrlTtlMinutes" yaml:"mediaUrlTtlMinutes"`
	// AuditRetentionDays bounds how long per-survey activity entries are
	// kept before the background trim removes them. Zero disables trimming.
	AuditRetentionDays int `json:"auditRetentionDays" yaml:"auditRetentionDays"`
	// SweepIntervalSeconds is how often the background sweeper reclaims
	// expired review leases and trims old audit entries.
	SweepIntervalSeconds int `json:"sweepIntervalSeconds" yaml:"sweepIntervalSeconds"`
}

// AutoRejectRules captures the interview auto-rejection thresholds.
type AutoRejectRules struct {
	Enabled        bool `json:"enabled" yaml:"enabled"`
	MinDurationSec int  `json:"minDurationSec" yaml:"minDurationSec"`
	RequireAudio   bool `json:"requireAudio" yaml:"requireAudio"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		ReviewLeaseMinutes: 30,
		SkipWindow:         100,
		QCSampleRate:       0.40,
		AutoReject: AutoRejectRules{
			Enabled:        true,
			MinDurationSec: 120,
			RequireAudio:   true,
		},
		ScopeCacheTTLSeconds: 60,
		TokenTTLMinutes:      12 * 60,
		MediaURLTTLMinutes:   15,
		AuditRetentionDays:   90,
		SweepIntervalSeconds: 60,
	}
}

// Load reads configuration from a JSON or YAML file (by extension). If path
// is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return cfg, nil
}
