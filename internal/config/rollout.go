package config

import "fmt"

// Preset names a rollout stage. Each preset expands to a fixed flag
// vector plus a rollout mode; the expansion is immutable for the lifetime
// of a request context.
type Preset string

const (
	PresetLegacy Preset = "legacy"
	PresetShadow Preset = "shadow"
	PresetCanary Preset = "canary"
	PresetBeta   Preset = "beta"
	PresetFull   Preset = "full"
)

// RolloutMode controls how flags gate at runtime.
type RolloutMode string

const (
	RolloutOff    RolloutMode = "off"
	RolloutOn     RolloutMode = "on"
	RolloutCanary RolloutMode = "canary" // allow-list
	RolloutBeta   RolloutMode = "beta"   // percentage
)

// RolloutConfig selects the preset and optional overrides.
type RolloutConfig struct {
	Preset Preset `yaml:"preset" json:"preset"`
	// BetaPercent applies when the resolved mode is beta (default: 25).
	BetaPercent int `yaml:"beta_percent" json:"beta_percent"`
	// CanaryAllowList applies when the resolved mode is canary.
	CanaryAllowList []string `yaml:"canary_allow_list" json:"canary_allow_list"`
}

// Flags is an immutable feature-flag snapshot. Copies are handed to request
// contexts; nothing mutates a snapshot after creation.
type Flags struct {
	AdaptiveFlowEnabled    bool        `json:"adaptive_flow_enabled"`
	UCGEnabled             bool        `json:"ucg_enabled"`
	TopologyScannerEnabled bool        `json:"topology_scanner_enabled"`
	DualWriteValidation    bool        `json:"dual_write_validation"`
	Mode                   RolloutMode `json:"mode"`
}

// presetFlags maps each preset to its flag vector.
var presetFlags = map[Preset]Flags{
	PresetLegacy: {
		Mode: RolloutOff,
	},
	PresetShadow: {
		UCGEnabled:          true,
		DualWriteValidation: true,
		Mode:                RolloutOff,
	},
	PresetCanary: {
		AdaptiveFlowEnabled:    true,
		UCGEnabled:             true,
		TopologyScannerEnabled: true,
		DualWriteValidation:    true,
		Mode:                   RolloutCanary,
	},
	PresetBeta: {
		AdaptiveFlowEnabled:    true,
		UCGEnabled:             true,
		TopologyScannerEnabled: true,
		Mode:                   RolloutBeta,
	},
	PresetFull: {
		AdaptiveFlowEnabled:    true,
		UCGEnabled:             true,
		TopologyScannerEnabled: true,
		Mode:                   RolloutOn,
	},
}

// ResolvePreset expands a preset name to its flag snapshot.
func ResolvePreset(p Preset) (Flags, error) {
	if p == "" {
		p = PresetFull
	}
	flags, ok := presetFlags[p]
	if !ok {
		return Flags{}, fmt.Errorf("unknown rollout preset %q", p)
	}
	return flags, nil
}

// FlagsForRequest returns the flag snapshot a request should use, applying
// canary allow-lists and beta percentages against a stable request key.
func (r RolloutConfig) FlagsForRequest(requestKey string) (Flags, error) {
	flags, err := ResolvePreset(r.Preset)
	if err != nil {
		return Flags{}, err
	}

	switch flags.Mode {
	case RolloutCanary:
		allowed := false
		for _, k := range r.CanaryAllowList {
			if k == requestKey {
				allowed = true
				break
			}
		}
		if !allowed {
			return presetFlags[PresetLegacy], nil
		}
	case RolloutBeta:
		percent := r.BetaPercent
		if percent <= 0 {
			percent = 25
		}
		if int(stableBucket(requestKey)) >= percent {
			return presetFlags[PresetLegacy], nil
		}
	}

	return flags, nil
}

// stableBucket hashes a request key into [0,100).
func stableBucket(key string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= 16777619
	}
	return h % 100
}
