// Package catalog defines the static registry of dispatchable candidates.
// A candidate is either an agent (a specialized worker that can be dispatched)
// or a skill (reference material that can be injected into the working
// context). The catalog is an immutable snapshot: it is loaded once, validated,
// and passed by value into the classifier so tests can run against synthetic
// catalogs without touching process-global state.
package catalog

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind distinguishes dispatchable workers from injectable reference material.
type Kind string

const (
	KindAgent Kind = "agent"
	KindSkill Kind = "skill"
)

// WeightedTerm is a keyword or phrase with its scoring weight.
type WeightedTerm struct {
	Text   string  `yaml:"text" json:"text"`
	Weight float64 `yaml:"weight" json:"weight"`
}

// Entry describes one dispatchable candidate.
type Entry struct {
	ID          string         `yaml:"id" json:"id"`
	Kind        Kind           `yaml:"kind" json:"kind"`
	Description string         `yaml:"description" json:"description"`
	Keywords    []WeightedTerm `yaml:"keywords" json:"keywords"`
	Phrases     []WeightedTerm `yaml:"phrases" json:"phrases"`

	// TokenCost estimates how many tokens injecting this skill costs.
	// Only meaningful for KindSkill; zero means "estimate from description".
	TokenCost int `yaml:"token_cost,omitempty" json:"token_cost,omitempty"`
}

// EstimatedTokens returns the injection cost for budget checks.
// Falls back to a rough 4-chars-per-token estimate of the description.
func (e Entry) EstimatedTokens() int {
	if e.TokenCost > 0 {
		return e.TokenCost
	}
	return len(e.Description)/4 + 1
}

// Catalog is an immutable set of entries plus the alternative-candidate map
// consulted when a candidate fails with a scope error.
type Catalog struct {
	entries      []Entry
	byID         map[string]int
	alternatives map[string][]string
}

// catalogFile is the on-disk YAML layout.
type catalogFile struct {
	Entries      []Entry             `yaml:"entries"`
	Alternatives map[string][]string `yaml:"alternatives"`
}

// New builds and validates a catalog from entries and an alternatives map.
func New(entries []Entry, alternatives map[string][]string) (*Catalog, error) {
	byID := make(map[string]int, len(entries))
	for i, e := range entries {
		if strings.TrimSpace(e.ID) == "" {
			return nil, fmt.Errorf("catalog entry %d: empty id", i)
		}
		if e.Kind != KindAgent && e.Kind != KindSkill {
			return nil, fmt.Errorf("catalog entry %q: unknown kind %q", e.ID, e.Kind)
		}
		if _, dup := byID[e.ID]; dup {
			return nil, fmt.Errorf("catalog entry %q: duplicate id", e.ID)
		}
		if len(e.Keywords) == 0 && len(e.Phrases) == 0 {
			return nil, fmt.Errorf("catalog entry %q: no keywords or phrases", e.ID)
		}
		byID[e.ID] = i
	}

	alts := make(map[string][]string, len(alternatives))
	for id, list := range alternatives {
		if _, ok := byID[id]; !ok {
			return nil, fmt.Errorf("alternatives for unknown candidate %q", id)
		}
		for _, alt := range list {
			if _, ok := byID[alt]; !ok {
				return nil, fmt.Errorf("candidate %q: unknown alternative %q", id, alt)
			}
			if alt == id {
				return nil, fmt.Errorf("candidate %q: lists itself as alternative", id)
			}
		}
		alts[id] = append([]string(nil), list...)
	}

	return &Catalog{
		entries:      append([]Entry(nil), entries...),
		byID:         byID,
		alternatives: alts,
	}, nil
}

// Load reads and validates a catalog from a YAML file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	var cf catalogFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	return New(cf.Entries, cf.Alternatives)
}

// Entries returns the catalog entries in their stable load order.
// Callers must not mutate the returned slice.
func (c *Catalog) Entries() []Entry {
	return c.entries
}

// Get returns the entry with the given id.
func (c *Catalog) Get(id string) (Entry, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Entry{}, false
	}
	return c.entries[i], true
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	return len(c.entries)
}

// Alternatives returns the ordered fallback candidates for id, or nil.
func (c *Catalog) Alternatives(id string) []string {
	return c.alternatives[id]
}

// AlternativeMap returns a copy of the full alternatives mapping.
func (c *Catalog) AlternativeMap() map[string][]string {
	out := make(map[string][]string, len(c.alternatives))
	for id, list := range c.alternatives {
		out[id] = append([]string(nil), list...)
	}
	return out
}

// IDs returns all candidate ids sorted for deterministic iteration.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.entries))
	for _, e := range c.entries {
		ids = append(ids, e.ID)
	}
	sort.Strings(ids)
	return ids
}
