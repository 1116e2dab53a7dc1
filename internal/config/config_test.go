package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := New()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ModeProd, cfg.Mode)
	assert.Equal(t, 60, cfg.Search.RRFK)
	assert.Equal(t, 3.0, cfg.Search.FilenameWeight)
	assert.Equal(t, 2.0, cfg.Search.SymbolWeight)
	assert.Equal(t, 1.0, cfg.Search.ContentWeight)
	assert.Equal(t, "both", cfg.Vector.Format)
	assert.Equal(t, PresetFull, cfg.Rollout.Preset)
}

func TestLoadProjectFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
mode: ci
search:
  rrf_k: 30
  mmr_lambda: 0.5
vector:
  format: q8
  shards: 8
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(yaml), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, ModeCI, cfg.Mode)
	assert.Equal(t, 30, cfg.Search.RRFK)
	assert.Equal(t, 0.5, cfg.Search.MMRLambda)
	assert.Equal(t, "q8", cfg.Vector.Format)
	assert.Equal(t, 8, cfg.Vector.Shards)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("UPROOTMCP_MODE", "test")
	t.Setenv("UPROOTMCP_PACK_FORMAT", "float32")
	t.Setenv("UPROOTMCP_ALLOW_SENSITIVE", "true")
	t.Setenv("UPROOTMCP_ROLLOUT", "canary")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, ModeTest, cfg.Mode)
	assert.Equal(t, "float32", cfg.Vector.Format)
	assert.True(t, cfg.Sensitive.AllowSensitive)
	assert.Equal(t, PresetCanary, cfg.Rollout.Preset)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad mode", func(c *Config) { c.Mode = "staging" }},
		{"bad backend", func(c *Config) { c.Parser.Backend = "llvm" }},
		{"bad format", func(c *Config) { c.Vector.Format = "f64" }},
		{"mmr out of range", func(c *Config) { c.Search.MMRLambda = 1.5 }},
		{"doc freq out of range", func(c *Config) { c.Search.TrigramMaxDocFreq = 2 }},
		{"bad preset", func(c *Config) { c.Rollout.Preset = "gamma" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestRolloutPresets(t *testing.T) {
	legacy, err := ResolvePreset(PresetLegacy)
	require.NoError(t, err)
	assert.False(t, legacy.UCGEnabled)
	assert.Equal(t, RolloutOff, legacy.Mode)

	shadow, err := ResolvePreset(PresetShadow)
	require.NoError(t, err)
	assert.True(t, shadow.UCGEnabled)
	assert.True(t, shadow.DualWriteValidation)

	full, err := ResolvePreset(PresetFull)
	require.NoError(t, err)
	assert.True(t, full.AdaptiveFlowEnabled)
	assert.True(t, full.TopologyScannerEnabled)
	assert.False(t, full.DualWriteValidation)
	assert.Equal(t, RolloutOn, full.Mode)
}

func TestCanaryAllowList(t *testing.T) {
	rollout := RolloutConfig{
		Preset:          PresetCanary,
		CanaryAllowList: []string{"alice"},
	}

	allowed, err := rollout.FlagsForRequest("alice")
	require.NoError(t, err)
	assert.True(t, allowed.UCGEnabled)

	denied, err := rollout.FlagsForRequest("bob")
	require.NoError(t, err)
	assert.False(t, denied.UCGEnabled)
}

func TestBetaBucketingDeterministic(t *testing.T) {
	rollout := RolloutConfig{Preset: PresetBeta, BetaPercent: 50}

	first, err := rollout.FlagsForRequest("request-key")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := rollout.FlagsForRequest("request-key")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}
