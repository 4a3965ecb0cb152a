package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// CommandPolicy describes a single permitted chat command
type CommandPolicy struct {
	Enabled         bool   `json:"enabled"`
	RequiredTier    string `json:"requiredTier"`
	CooldownSeconds int    `json:"cooldownSeconds"`
	Description     string `json:"description"`
	Usage           string `json:"usage,omitempty"`
	Dangerous       bool   `json:"dangerous,omitempty"`
}

// Cooldown returns the configured cooldown as a duration
func (p CommandPolicy) Cooldown() time.Duration {
	return time.Duration(p.CooldownSeconds) * time.Second
}

// BannedCommand describes an explicitly blocked command name
type BannedCommand struct {
	Banned   bool   `json:"banned"`
	Reason   string `json:"reason"`
	Severity string `json:"severity"`
}

// File is the on-disk policy document shape
type File struct {
	AllowedCommands map[string]CommandPolicy `json:"allowedCommands"`
	BannedCommands  map[string]BannedCommand `json:"bannedCommands"`
	Ranks           map[string]int           `json:"ranks"`
}

// Table holds the loaded policy tables. Lookups are case-insensitive on
// command name; the tables are read-only to other components and change only
// through Reload.
type Table struct {
	path string

	mu   sync.RWMutex
	file File
}

// Load reads the policy file at path, creating it with a seeded default
// table if it does not exist
func Load(path string) (*Table, error) {
	t := &Table{path: path}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.file = defaultFile()
		if err := t.save(); err != nil {
			return nil, fmt.Errorf("creating default policy file: %w", err)
		}
		return t, nil
	}

	if err := t.Reload(); err != nil {
		return nil, err
	}
	return t, nil
}

// Reload re-reads the policy file from disk and swaps the tables atomically
func (t *Table) Reload() error {
	data, err := os.ReadFile(t.path)
	if err != nil {
		return fmt.Errorf("reading policy file: %w", err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parsing policy file: %w", err)
	}
	normalize(&f)

	t.mu.Lock()
	t.file = f
	t.mu.Unlock()
	return nil
}

// Command looks up an allowed-command entry by case-insensitive name
func (t *Table) Command(name string) (CommandPolicy, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.file.AllowedCommands[strings.ToLower(name)]
	return p, ok
}

// Banned looks up a blocked-command entry by case-insensitive name.
// Entries with the banned flag unset are treated as absent.
func (t *Table) Banned(name string) (BannedCommand, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.file.BannedCommands[strings.ToLower(name)]
	if !ok || !b.Banned {
		return BannedCommand{}, false
	}
	return b, true
}

// TierLevel resolves a tier name to its integer level. Unknown or empty
// tiers resolve to level 0.
func (t *Table) TierLevel(tier string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.file.Ranks[tier]
}

// KnownTier reports whether a tier name appears in the ordering table
func (t *Table) KnownTier(tier string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.file.Ranks[tier]
	return ok
}

// Tiers returns a copy of the tier-ordering table
func (t *Table) Tiers() map[string]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]int, len(t.file.Ranks))
	for k, v := range t.file.Ranks {
		out[k] = v
	}
	return out
}

// Snapshot returns a copy of the full policy document for introspection
func (t *Table) Snapshot() File {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := File{
		AllowedCommands: make(map[string]CommandPolicy, len(t.file.AllowedCommands)),
		BannedCommands:  make(map[string]BannedCommand, len(t.file.BannedCommands)),
		Ranks:           make(map[string]int, len(t.file.Ranks)),
	}
	for k, v := range t.file.AllowedCommands {
		out.AllowedCommands[k] = v
	}
	for k, v := range t.file.BannedCommands {
		out.BannedCommands[k] = v
	}
	for k, v := range t.file.Ranks {
		out.Ranks[k] = v
	}
	return out
}

func (t *Table) save() error {
	data, err := json.MarshalIndent(t.file, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(t.path, data, 0o644)
}

// normalize lower-cases command-name keys so lookups are case-insensitive
func normalize(f *File) {
	if f.AllowedCommands == nil {
		f.AllowedCommands = make(map[string]CommandPolicy)
	}
	if f.BannedCommands == nil {
		f.BannedCommands = make(map[string]BannedCommand)
	}
	if f.Ranks == nil {
		f.Ranks = make(map[string]int)
	}
	allowed := make(map[string]CommandPolicy, len(f.AllowedCommands))
	for k, v := range f.AllowedCommands {
		allowed[strings.ToLower(k)] = v
	}
	f.AllowedCommands = allowed
	banned := make(map[string]BannedCommand, len(f.BannedCommands))
	for k, v := range f.BannedCommands {
		banned[strings.ToLower(k)] = v
	}
	f.BannedCommands = banned
}

// defaultFile seeds a new policy file with a workable starting table
func defaultFile() File {
	return File{
		AllowedCommands: map[string]CommandPolicy{
			"heal": {
				Enabled:         true,
				RequiredTier:    "VIP",
				CooldownSeconds: 300,
				Description:     "Restore full health",
			},
			"feed": {
				Enabled:         true,
				RequiredTier:    "VIP",
				CooldownSeconds: 300,
				Description:     "Restore hunger",
			},
			"fly": {
				Enabled:         true,
				RequiredTier:    "PREMIUM",
				CooldownSeconds: 600,
				Description:     "Toggle flight for five minutes",
			},
			"speed": {
				Enabled:         true,
				RequiredTier:    "PREMIUM",
				CooldownSeconds: 600,
				Description:     "Speed boost for two minutes",
			},
			"broadcast": {
				Enabled:         true,
				RequiredTier:    "DIAMOND",
				CooldownSeconds: 1800,
				Description:     "Broadcast a server-wide message",
				Usage:           "!broadcast <message>",
			},
			"gamemode": {
				Enabled:         true,
				RequiredTier:    "DIAMOND",
				CooldownSeconds: 3600,
				Description:     "Switch your game mode",
				Usage:           "!gamemode <mode>",
				Dangerous:       true,
			},
		},
		BannedCommands: map[string]BannedCommand{
			"op": {
				Banned:   true,
				Reason:   "grants full server control",
				Severity: "high",
			},
			"stop": {
				Banned:   true,
				Reason:   "shuts the server down",
				Severity: "high",
			},
			"whitelist": {
				Banned:   true,
				Reason:   "changes who can join",
				Severity: "medium",
			},
		},
		Ranks: map[string]int{
			"VIP":     1,
			"PREMIUM": 2,
			"DIAMOND": 3,
		},
	}
}
