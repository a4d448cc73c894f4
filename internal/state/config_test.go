package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileYieldsDefaults(t *testing.T) {
	cfg := LoadConfig(filepath.Join(t.TempDir(), "config.json"))
	require.Equal(t, DefaultConfig(), cfg)
	require.True(t, cfg.FlagValues().PipelinesEnabled)
}

func TestLoadConfigCorruptedFileYieldsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{nope"), 0644))

	cfg := LoadConfig(path)
	require.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigPartialFileMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"auto_dispatch_enabled": false}`), 0644))

	cfg := LoadConfig(path)
	require.False(t, cfg.AutoDispatchEnabled)
	// Everything the file omits keeps its default.
	require.True(t, cfg.SkillInjectEnabled)
	require.Equal(t, DefaultMaxPromptHistory, cfg.MaxPromptHistory)
}

func TestConfigRoundTripPreservesUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	original := `{
  "auto_dispatch_enabled": false,
  "retain_sessions": 9,
  "logging": {"debug_mode": true, "categories": ["dispatch"]},
  "future_field": 42
}`
	require.NoError(t, os.WriteFile(path, []byte(original), 0644))

	cfg := LoadConfig(path)
	require.False(t, cfg.AutoDispatchEnabled)
	require.Equal(t, 9, cfg.RetainSessions)

	cfg.PipelinesEnabled = false
	require.NoError(t, SaveConfig(path, cfg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))

	require.Contains(t, raw, "logging", "unknown section dropped on save")
	require.Contains(t, raw, "future_field", "unknown key dropped on save")
	require.JSONEq(t, `{"debug_mode": true, "categories": ["dispatch"]}`, string(raw["logging"]))
	require.JSONEq(t, `false`, string(raw["pipelines_enabled"]))
}

func TestSaveConfigCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", ".conductor", "config.json")
	require.NoError(t, SaveConfig(path, DefaultConfig()))
	require.FileExists(t, path)
}
