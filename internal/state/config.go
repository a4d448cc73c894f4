package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"conductor/internal/logging"
)

// Config is the workspace configuration from .conductor/config.json.
// Unknown keys (including the logging section, owned by the logging package)
// are preserved verbatim across load/save so a newer binary never strips
// fields an older one wrote.
type Config struct {
	AutoDispatchEnabled bool `json:"auto_dispatch_enabled"`
	SkillInjectEnabled  bool `json:"skill_inject_enabled"`
	PipelinesEnabled    bool `json:"pipelines_enabled"`
	MaxPromptHistory    int  `json:"max_prompt_history"`
	RetainSessions      int  `json:"retain_sessions"`

	extra map[string]json.RawMessage
}

// configKnownKeys are the keys owned by this struct.
var configKnownKeys = []string{
	"auto_dispatch_enabled",
	"skill_inject_enabled",
	"pipelines_enabled",
	"max_prompt_history",
	"retain_sessions",
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		AutoDispatchEnabled: true,
		SkillInjectEnabled:  true,
		PipelinesEnabled:    true,
		MaxPromptHistory:    DefaultMaxPromptHistory,
		RetainSessions:      DefaultRetainSessions,
	}
}

// FlagValues extracts the per-session feature toggles.
func (c *Config) FlagValues() Flags {
	return Flags{
		AutoDispatchEnabled: c.AutoDispatchEnabled,
		SkillInjectEnabled:  c.SkillInjectEnabled,
		PipelinesEnabled:    c.PipelinesEnabled,
	}
}

// UnmarshalJSON merges the file's values over defaults and captures unknown
// keys for round-tripping.
func (c *Config) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*c = *DefaultConfig()

	type alias Config
	a := alias(*c)
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*c = Config(a)

	for _, k := range configKnownKeys {
		delete(raw, k)
	}
	c.extra = raw
	return nil
}

// MarshalJSON writes known fields plus any preserved unknown keys.
func (c *Config) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(c.extra)+len(configKnownKeys))
	for k, v := range c.extra {
		out[k] = v
	}

	type alias Config
	known, err := json.Marshal(alias(*c))
	if err != nil {
		return nil, err
	}
	var knownMap map[string]json.RawMessage
	if err := json.Unmarshal(known, &knownMap); err != nil {
		return nil, err
	}
	for k, v := range knownMap {
		out[k] = v
	}
	return json.Marshal(out)
}

// LoadConfig reads the config file, merging over defaults. Fail-open: a
// missing or unreadable file yields defaults.
func LoadConfig(path string) *Config {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Get(logging.CategoryState).Warn("Could not read config %s: %v (using defaults)", path, err)
		}
		return DefaultConfig()
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		logging.Get(logging.CategoryState).Warn("Corrupted config %s: %v (using defaults)", path, err)
		return DefaultConfig()
	}
	return cfg
}

// SaveConfig writes the config file, preserving unknown keys present at load.
func SaveConfig(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
