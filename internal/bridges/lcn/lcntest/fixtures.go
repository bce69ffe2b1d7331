package lcntest

import (
	"embed"
	"encoding/json"
	"fmt"
	"path"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-lcn/internal/bridges/lcn"
	"github.com/nerrad567/gray-logic-lcn/internal/hub"
)

//go:embed fixtures
var fixtures embed.FS

// FixturePath returns the path of a config entry fixture relative to the
// fixtures directory, e.g. "lcn/config_entry_pchk.json". It doubles as the
// entry's unique ID.
func FixturePath(name string) string {
	return path.Join(lcn.Domain, fmt.Sprintf("config_entry_%s.json", name))
}

// LoadFixture reads and parses a JSON fixture, e.g. "lcn/config.json".
func LoadFixture(name string) (map[string]any, error) {
	raw, err := fixtures.ReadFile(path.Join("fixtures", name))
	if err != nil {
		return nil, fmt.Errorf("reading fixture %s: %w", name, err)
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parsing fixture %s: %w", name, err)
	}
	return out, nil
}

// CreateConfigEntry builds an LCN config entry from the fixture
// lcn/config_entry_<name>.json. The title is the fixture's host field.
// The entry is not added to a hub.
func CreateConfigEntry(t testing.TB, name string) *hub.ConfigEntry {
	t.Helper()

	file := FixturePath(name)
	data, err := LoadFixture(file)
	require.NoError(t, err)

	title, ok := data[lcn.ConfHost].(string)
	require.True(t, ok, "fixture %s has no %s", file, lcn.ConfHost)

	return &hub.ConfigEntry{
		Domain:   lcn.Domain,
		Title:    title,
		UniqueID: file,
		Data:     data,
		Options:  map[string]any{},
	}
}

// EntryPCHK returns the "pchk" config entry: module 7 with lights, switches
// and a relay, group 5, and module 8 that is only referenced by an entity.
func EntryPCHK(t testing.TB) *hub.ConfigEntry {
	t.Helper()
	return CreateConfigEntry(t, "pchk")
}

// EntryMyHome returns the "myhome" config entry: one unnamed module with a
// dimmable light, commands acknowledged.
func EntryMyHome(t testing.TB) *hub.ConfigEntry {
	t.Helper()
	return CreateConfigEntry(t, "myhome")
}
