package lcntest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-lcn/internal/bridges/lcn"
	"github.com/nerrad567/gray-logic-lcn/internal/device"
	"github.com/nerrad567/gray-logic-lcn/internal/hub"
	"github.com/nerrad567/gray-logic-lcn/internal/pchk"
)

// GetDevice returns the registry device of the module or group at addr in
// entry, failing the test if there is none.
func GetDevice(t testing.TB, h *hub.Hub, entry *hub.ConfigEntry, addr pchk.Address) *device.Device {
	t.Helper()

	ident := device.Identifier{Domain: lcn.Domain, ID: lcn.GenerateUniqueID(entry.EntryID, addr, "")}
	dev, err := h.Devices().GetDeviceByIdentifier(context.Background(), ident)
	require.NoError(t, err, "no device for %s", addr)
	require.NotNil(t, dev)
	return dev
}
