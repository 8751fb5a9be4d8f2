// Package config loads the Deacon's tunables and the duck-typed runtime
// adapter capability records.
package config

import (
	"os"
	"time"

	"github.com/foreman-hq/fleet/internal/fsatomic"
	"github.com/foreman-hq/fleet/internal/store"
)

// DeaconConfig holds the Deacon's tunables, merged over DefaultDeaconConfig
// by whatever is present in deacon/config.json.
type DeaconConfig struct {
	PingTimeoutMs       int `json:"pingTimeoutMs"`
	ConsecutiveFailures int `json:"consecutiveFailures"`
	CooldownMs          int `json:"cooldownMs"`
	PatrolIntervalMs    int `json:"patrolIntervalMs"`
	MassDeathThreshold  int `json:"massDeathThreshold"`
	MassDeathWindowMs   int `json:"massDeathWindowMs"`

	// WorkIdleThresholdMs and SpecialistIdleThresholdMs are process-level
	// configuration kept alongside the Deacon's own tunables rather than a
	// separate file, since nothing else in the core reads them.
	WorkIdleThresholdMs       int `json:"workIdleThresholdMs"`
	SpecialistIdleThresholdMs int `json:"specialistIdleThresholdMs"`
}

// DefaultDeaconConfig returns the spec-mandated defaults.
func DefaultDeaconConfig() DeaconConfig {
	return DeaconConfig{
		PingTimeoutMs:             30_000,
		ConsecutiveFailures:       3,
		CooldownMs:                300_000,
		PatrolIntervalMs:          30_000,
		MassDeathThreshold:        2,
		MassDeathWindowMs:         60_000,
		WorkIdleThresholdMs:       10 * 60_000,
		SpecialistIdleThresholdMs: 5 * 60_000,
	}
}

func (c DeaconConfig) PingTimeout() time.Duration       { return time.Duration(c.PingTimeoutMs) * time.Millisecond }
func (c DeaconConfig) Cooldown() time.Duration          { return time.Duration(c.CooldownMs) * time.Millisecond }
func (c DeaconConfig) PatrolInterval() time.Duration    { return time.Duration(c.PatrolIntervalMs) * time.Millisecond }
func (c DeaconConfig) MassDeathWindow() time.Duration   { return time.Duration(c.MassDeathWindowMs) * time.Millisecond }
func (c DeaconConfig) WorkIdleThreshold() time.Duration { return time.Duration(c.WorkIdleThresholdMs) * time.Millisecond }
func (c DeaconConfig) SpecialistIdleThreshold() time.Duration {
	return time.Duration(c.SpecialistIdleThresholdMs) * time.Millisecond
}

// LoadDeaconConfig reads deacon/config.json merged over the defaults.
// A missing file is not an error: defaults apply untouched. Fields absent
// from the file keep their default value; zero is indistinguishable from
// absent for these tunables, matching the teacher's merge-over-defaults
// pattern for manifest-style configuration.
func LoadDeaconConfig(root string) (DeaconConfig, error) {
	cfg := DefaultDeaconConfig()
	path := store.DeaconConfigFile(root)
	if !fsatomic.Exists(path) {
		return cfg, nil
	}
	var overrides DeaconConfig
	if err := fsatomic.ReadJSON(path, &overrides); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	mergeNonZero(&cfg, overrides)
	return cfg, nil
}

func mergeNonZero(cfg *DeaconConfig, overrides DeaconConfig) {
	if overrides.PingTimeoutMs != 0 {
		cfg.PingTimeoutMs = overrides.PingTimeoutMs
	}
	if overrides.ConsecutiveFailures != 0 {
		cfg.ConsecutiveFailures = overrides.ConsecutiveFailures
	}
	if overrides.CooldownMs != 0 {
		cfg.CooldownMs = overrides.CooldownMs
	}
	if overrides.PatrolIntervalMs != 0 {
		cfg.PatrolIntervalMs = overrides.PatrolIntervalMs
	}
	if overrides.MassDeathThreshold != 0 {
		cfg.MassDeathThreshold = overrides.MassDeathThreshold
	}
	if overrides.MassDeathWindowMs != 0 {
		cfg.MassDeathWindowMs = overrides.MassDeathWindowMs
	}
	if overrides.WorkIdleThresholdMs != 0 {
		cfg.WorkIdleThresholdMs = overrides.WorkIdleThresholdMs
	}
	if overrides.SpecialistIdleThresholdMs != 0 {
		cfg.SpecialistIdleThresholdMs = overrides.SpecialistIdleThresholdMs
	}
}

// SaveDeaconConfig persists overrides atomically, for operator tooling
// that edits the Deacon's tunables.
func SaveDeaconConfig(root string, cfg DeaconConfig) error {
	return fsatomic.WriteJSON(store.DeaconConfigFile(root), cfg)
}
