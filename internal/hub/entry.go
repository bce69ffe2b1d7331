package hub

import (
	"context"
	"maps"
	"time"
)

// EntryState is the lifecycle state of a config entry.
type EntryState string

// Config entry states.
const (
	StateNotLoaded       EntryState = "not_loaded"
	StateSetupInProgress EntryState = "setup_in_progress"
	StateLoaded          EntryState = "loaded"
	StateSetupError      EntryState = "setup_error"
	StateSetupRetry      EntryState = "setup_retry"
)

// Entry sources.
const (
	SourceUser   = "user"
	SourceImport = "import"
)

// ConfigEntry is one configured instance of an integration.
// For LCN there is one entry per PCHK coupler.
//
// Entries are owned by the hub once added. Integrations receive snapshots:
// they may read Data and set RuntimeData during setup (kept when setup
// succeeds); everything else is managed by the hub.
type ConfigEntry struct {
	EntryID  string         `json:"entry_id"`
	Domain   string         `json:"domain"`
	Title    string         `json:"title"`
	UniqueID string         `json:"unique_id,omitempty"`
	Data     map[string]any `json:"data"`
	Options  map[string]any `json:"options"`
	Source   string         `json:"source"`

	State       EntryState `json:"state"`
	RuntimeData any        `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsLoaded reports whether the entry finished setup successfully.
func (e *ConfigEntry) IsLoaded() bool {
	return e.State == StateLoaded
}

// clone copies the persisted fields of the entry.
func (e *ConfigEntry) clone() *ConfigEntry {
	cpy := *e
	cpy.Data = maps.Clone(e.Data)
	cpy.Options = maps.Clone(e.Options)
	cpy.RuntimeData = nil
	return &cpy
}

// snapshot copies the entry including its state, for callers outside
// the hub lock.
func (e *ConfigEntry) snapshot() *ConfigEntry {
	cpy := e.clone()
	cpy.State = e.State
	cpy.RuntimeData = e.RuntimeData
	return cpy
}

// Integration is implemented by every bridge the hub can host.
type Integration interface {
	// Domain returns the integration's domain, e.g. "lcn".
	Domain() string

	// SetupEntry brings a config entry online. Returning an error wrapping
	// ErrEntryNotReady schedules a retry.
	SetupEntry(ctx context.Context, h *Hub, entry *ConfigEntry) error

	// UnloadEntry releases everything SetupEntry acquired.
	UnloadEntry(ctx context.Context, h *Hub, entry *ConfigEntry) error
}

// ComponentSetup is implemented by integrations that accept a
// configuration block from the site config (integrations.<domain>).
type ComponentSetup interface {
	SetupComponent(ctx context.Context, h *Hub, config map[string]any) error
}
