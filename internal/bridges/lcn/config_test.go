package lcn_test

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-lcn/internal/bridges/lcn"
	"github.com/nerrad567/gray-logic-lcn/internal/bridges/lcn/lcntest"
	"github.com/nerrad567/gray-logic-lcn/internal/pchk"
)

func TestDecodeEntryData_Defaults(t *testing.T) {
	data, err := lcn.DecodeEntryData(map[string]any{
		"host":       "pchk",
		"ip_address": "10.0.0.2",
	})
	require.NoError(t, err)

	assert.Equal(t, pchk.DefaultPort, data.Port)
	assert.Equal(t, pchk.DefaultSKNumTries, data.SKNumTries)
	assert.Empty(t, data.Devices)

	cfg := data.PCHKConfig(5 * time.Second)
	assert.Equal(t, "pchk", cfg.Name)
	assert.Equal(t, "10.0.0.2", cfg.Host)
	assert.Equal(t, pchk.DimSteps200, cfg.Settings.DimMode, "unset dim mode keeps the default")
	assert.Equal(t, 5*time.Second, cfg.ConnectTimeout)
}

func TestDecodeEntryData_Fixture(t *testing.T) {
	data, err := lcn.DecodeEntryData(lcntest.EntryPCHK(t).Data)
	require.NoError(t, err)

	assert.Equal(t, "192.168.2.41", data.IPAddress)
	assert.Equal(t, pchk.DimSteps200, data.DimMode)
	require.Len(t, data.Devices, 2)
	assert.Equal(t, pchk.ModuleAddress(0, 7), data.Devices[0].Address.Address())
	assert.Equal(t, pchk.GroupAddress(0, 5), data.Devices[1].Address.Address())
	assert.Equal(t, int64(-1), data.Devices[0].HardwareSerial)
	require.Len(t, data.Entities, 6)
	assert.True(t, data.Entities[0].DomainData.Dimmable)
	assert.InDelta(t, 2.0, data.Entities[4].DomainData.Transition, 0.001)
}

func TestDecodeEntryData_Invalid(t *testing.T) {
	entity := func(domain, output string) map[string]any {
		return map[string]any{
			"address":     []any{0, 7, false},
			"name":        "e",
			"domain":      domain,
			"domain_data": map[string]any{"output": output},
		}
	}

	tests := []struct {
		name string
		data map[string]any
	}{
		{"missing host", map[string]any{"ip_address": "10.0.0.2"}},
		{"missing ip", map[string]any{"host": "pchk"}},
		{"bad dim mode", map[string]any{"host": "pchk", "ip_address": "10.0.0.2", "dim_mode": "STEPS100"}},
		{"bad port type", map[string]any{"host": "pchk", "ip_address": "10.0.0.2", "port": "x"}},
		{"bad domain", map[string]any{"host": "pchk", "ip_address": "10.0.0.2", "entities": []any{entity("cover", "OUTPUT1")}}},
		{"bad resource", map[string]any{"host": "pchk", "ip_address": "10.0.0.2", "entities": []any{entity("light", "OUTPUT9")}}},
		{"bad address", map[string]any{"host": "pchk", "ip_address": "10.0.0.2", "devices": []any{map[string]any{"address": []any{0, 7}}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := lcn.DecodeEntryData(tt.data)
			require.ErrorIs(t, err, lcn.ErrInvalidConfig)
		})
	}
}

func TestEntryData_MapRoundTrip(t *testing.T) {
	orig, err := lcn.DecodeEntryData(lcntest.EntryMyHome(t).Data)
	require.NoError(t, err)

	m, err := orig.Map()
	require.NoError(t, err)
	assert.Equal(t, "myhome", m[lcn.ConfHost])

	decoded, err := lcn.DecodeEntryData(m)
	require.NoError(t, err)
	if diff := cmp.Diff(orig, decoded); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}
