package lcntest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-lcn/internal/bridges/lcn"
	"github.com/nerrad567/gray-logic-lcn/internal/hub"
)

// settleTimeout bounds BlockTillDone in the bootstrap helpers.
const settleTimeout = 10 * time.Second

// NewHub returns an in-memory hub that is stopped when the test ends.
func NewHub(t testing.TB) *hub.Hub {
	t.Helper()

	h := hub.New(hub.Options{})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
		defer cancel()
		if err := h.Stop(ctx); err != nil {
			t.Errorf("stopping hub: %v", err)
		}
	})
	return h
}

// Integration returns the LCN integration registered on h, registering
// one that builds mock connections if there is none. Register an
// integration yourself (with NewMockConnection as its connection factory)
// to add MQTT or telemetry fakes.
func Integration(t testing.TB, h *hub.Hub) *lcn.Integration {
	t.Helper()

	registered, err := h.Integration(lcn.Domain)
	if errors.Is(err, hub.ErrIntegrationNotFound) {
		integ := lcn.New(lcn.Options{NewConnection: NewMockConnection})
		require.NoError(t, h.RegisterIntegration(integ))
		return integ
	}
	require.NoError(t, err)

	integ, ok := registered.(*lcn.Integration)
	require.True(t, ok, "%s integration is %T", lcn.Domain, registered)
	return integ
}

// InitIntegration adds entry to h, sets it up against a mock PCHK
// connection and waits until every task started by the setup (serial and
// name requests) has finished. It returns the mock connection of the
// entry. The entry is unloaded when the test ends.
func InitIntegration(t testing.TB, h *hub.Hub, entry *hub.ConfigEntry) *MockConnectionManager {
	t.Helper()

	integ := Integration(t, h)
	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()

	require.NoError(t, h.AddEntry(ctx, entry))
	require.NoError(t, h.SetupEntry(ctx, entry.EntryID))
	require.NoError(t, h.BlockTillDone(ctx))

	t.Cleanup(func() {
		err := h.UnloadEntry(context.Background(), entry.EntryID)
		if err != nil && !errors.Is(err, hub.ErrEntryNotFound) {
			t.Errorf("unloading %s: %v", entry.EntryID, err)
		}
	})

	return Connection(t, integ, entry.EntryID)
}

// Connection returns the mock connection of a loaded entry.
func Connection(t testing.TB, integ *lcn.Integration, entryID string) *MockConnectionManager {
	t.Helper()

	conn, err := integ.Connection(entryID)
	require.NoError(t, err)
	mgr, ok := conn.(*MockConnectionManager)
	require.True(t, ok, "connection of %s is %T, want *MockConnectionManager", entryID, conn)
	return mgr
}

// SetupComponent imports the fixture lcn/config.json through the hub's
// component setup and waits until all resulting tasks have finished.
func SetupComponent(t testing.TB, h *hub.Hub) {
	t.Helper()

	Integration(t, h)

	cfg, err := LoadFixture(lcn.Domain + "/config.json")
	require.NoError(t, err)
	block, ok := cfg[lcn.Domain].(map[string]any)
	require.True(t, ok, "config.json has no %s block", lcn.Domain)

	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()

	require.NoError(t, h.SetupComponent(ctx, lcn.Domain, block))
	require.NoError(t, h.BlockTillDone(ctx))
}
