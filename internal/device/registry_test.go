package device

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-lcn/internal/infrastructure/database"
	_ "github.com/nerrad567/gray-logic-lcn/migrations"
)

// repoFactories lets every registry test run against both repositories.
var repoFactories = map[string]func(t *testing.T) Repository{
	"memory": func(*testing.T) Repository { return NewMemoryRepository() },
	"sqlite": func(t *testing.T) Repository {
		t.Helper()
		ctx := context.Background()
		db, err := database.Open(ctx, database.Config{Path: database.MemoryPath, BusyTimeout: 5})
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
		require.NoError(t, db.Migrate(ctx))
		return NewSQLiteRepository(db.DB)
	},
}

func forEachRepo(t *testing.T, fn func(t *testing.T, reg *Registry, repo Repository)) {
	t.Helper()
	for name, factory := range repoFactories {
		t.Run(name, func(t *testing.T) {
			repo := factory(t)
			fn(t, NewRegistry(repo), repo)
		})
	}
}

func lcnID(id string) Identifier {
	return Identifier{Domain: "lcn", ID: id}
}

func TestRegistry_GetOrCreate(t *testing.T) {
	forEachRepo(t, func(t *testing.T, reg *Registry, repo Repository) {
		ctx := context.Background()

		d, err := reg.GetOrCreate(ctx, "entry-1", DeviceInfo{
			Identifiers:  []Identifier{lcnID("entry-1-m000007")},
			Name:         "TestModule",
			Manufacturer: "Issendorff",
		})
		require.NoError(t, err)
		assert.NotEmpty(t, d.ID)
		assert.Equal(t, []string{"entry-1"}, d.ConfigEntryIDs)

		stored, err := repo.GetByID(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, "TestModule", stored.Name)
		assert.Equal(t, "Issendorff", stored.Manufacturer)

		again, err := reg.GetOrCreate(ctx, "entry-1", DeviceInfo{
			Identifiers: []Identifier{lcnID("entry-1-m000007")},
		})
		require.NoError(t, err)
		assert.Equal(t, d.ID, again.ID)
		assert.Equal(t, "TestModule", again.Name, "empty fields must not clear stored ones")
		assert.Equal(t, 1, reg.GetDeviceCount())
	})
}

func TestRegistry_GetOrCreate_Merge(t *testing.T) {
	forEachRepo(t, func(t *testing.T, reg *Registry, _ Repository) {
		ctx := context.Background()

		d, err := reg.GetOrCreate(ctx, "entry-1", DeviceInfo{
			Identifiers: []Identifier{lcnID("a")},
			Name:        "Module",
		})
		require.NoError(t, err)

		merged, err := reg.GetOrCreate(ctx, "entry-2", DeviceInfo{
			Identifiers:  []Identifier{lcnID("a"), lcnID("b")},
			SerialNumber: "1A2B3C4D5E",
			SWVersion:    "190B11",
		})
		require.NoError(t, err)

		assert.Equal(t, d.ID, merged.ID)
		assert.ElementsMatch(t, []string{"entry-1", "entry-2"}, merged.ConfigEntryIDs)
		assert.ElementsMatch(t, []Identifier{lcnID("a"), lcnID("b")}, merged.Identifiers)
		assert.Equal(t, "1A2B3C4D5E", merged.SerialNumber)

		byB, err := reg.GetDeviceByIdentifier(ctx, lcnID("b"))
		require.NoError(t, err)
		assert.Equal(t, d.ID, byB.ID)
	})
}

func TestRegistry_GetOrCreate_ViaDevice(t *testing.T) {
	forEachRepo(t, func(t *testing.T, reg *Registry, _ Repository) {
		ctx := context.Background()

		host, err := reg.GetOrCreate(ctx, "entry-1", DeviceInfo{
			Identifiers: []Identifier{lcnID("entry-1")},
			Name:        "pchk",
		})
		require.NoError(t, err)

		via := lcnID("entry-1")
		module, err := reg.GetOrCreate(ctx, "entry-1", DeviceInfo{
			Identifiers: []Identifier{lcnID("entry-1-m000007")},
			Name:        "TestModule",
			ViaDevice:   &via,
		})
		require.NoError(t, err)
		assert.Equal(t, host.ID, module.ViaDeviceID)
	})
}

func TestRegistry_GetOrCreate_Invalid(t *testing.T) {
	reg := NewRegistry(NewMemoryRepository())
	ctx := context.Background()

	_, err := reg.GetOrCreate(ctx, "entry-1", DeviceInfo{Name: "no identifiers"})
	assert.ErrorIs(t, err, ErrInvalidDevice)

	_, err = reg.GetOrCreate(ctx, "", DeviceInfo{Identifiers: []Identifier{lcnID("x")}})
	assert.ErrorIs(t, err, ErrInvalidDevice)
}

func TestRegistry_GetDeviceByIdentifier_NotFound(t *testing.T) {
	reg := NewRegistry(NewMemoryRepository())

	_, err := reg.GetDeviceByIdentifier(context.Background(), lcnID("missing"))
	assert.True(t, errors.Is(err, ErrDeviceNotFound))
}

func TestRegistry_Update(t *testing.T) {
	forEachRepo(t, func(t *testing.T, reg *Registry, repo Repository) {
		ctx := context.Background()

		d, err := reg.GetOrCreate(ctx, "entry-1", DeviceInfo{
			Identifiers: []Identifier{lcnID("m7")},
			Name:        "TestModule",
		})
		require.NoError(t, err)

		updated, err := reg.Update(ctx, d.ID, Update{NameByUser: String("Kitchen")})
		require.NoError(t, err)
		assert.Equal(t, "Kitchen", updated.DisplayName())

		stored, err := repo.GetByID(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, "Kitchen", stored.NameByUser)

		_, err = reg.Update(ctx, "missing", Update{Name: String("x")})
		assert.ErrorIs(t, err, ErrDeviceNotFound)
	})
}

func TestRegistry_RemoveConfigEntry(t *testing.T) {
	forEachRepo(t, func(t *testing.T, reg *Registry, repo Repository) {
		ctx := context.Background()

		shared, err := reg.GetOrCreate(ctx, "entry-1", DeviceInfo{Identifiers: []Identifier{lcnID("shared")}})
		require.NoError(t, err)
		_, err = reg.GetOrCreate(ctx, "entry-2", DeviceInfo{Identifiers: []Identifier{lcnID("shared")}})
		require.NoError(t, err)
		only, err := reg.GetOrCreate(ctx, "entry-1", DeviceInfo{Identifiers: []Identifier{lcnID("only")}})
		require.NoError(t, err)

		assert.Len(t, reg.ListByConfigEntry("entry-1"), 2)

		removed, err := reg.RemoveConfigEntry(ctx, "entry-1")
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		assert.Empty(t, reg.ListByConfigEntry("entry-1"))
		assert.Equal(t, 1, reg.GetDeviceCount())

		_, err = repo.GetByID(ctx, only.ID)
		assert.ErrorIs(t, err, ErrDeviceNotFound)

		kept, err := reg.GetDevice(ctx, shared.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"entry-2"}, kept.ConfigEntryIDs)

		_, err = reg.GetDeviceByIdentifier(ctx, lcnID("only"))
		assert.ErrorIs(t, err, ErrDeviceNotFound)
	})
}

func TestRegistry_RefreshCache(t *testing.T) {
	forEachRepo(t, func(t *testing.T, reg *Registry, repo Repository) {
		ctx := context.Background()

		d, err := reg.GetOrCreate(ctx, "entry-1", DeviceInfo{
			Identifiers: []Identifier{lcnID("m7"), lcnID("serial-1")},
			Name:        "TestModule",
		})
		require.NoError(t, err)

		fresh := NewRegistry(repo)
		require.NoError(t, fresh.RefreshCache(ctx))

		got, err := fresh.GetDeviceByIdentifier(ctx, lcnID("serial-1"))
		require.NoError(t, err)

		if diff := cmp.Diff(d, got, cmpopts.IgnoreFields(Device{}, "CreatedAt", "UpdatedAt")); diff != "" {
			t.Errorf("reloaded device mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestRegistry_ReturnsCopies(t *testing.T) {
	reg := NewRegistry(NewMemoryRepository())
	ctx := context.Background()

	d, err := reg.GetOrCreate(ctx, "entry-1", DeviceInfo{Identifiers: []Identifier{lcnID("m7")}, Name: "A"})
	require.NoError(t, err)

	got, err := reg.GetDevice(ctx, d.ID)
	require.NoError(t, err)
	got.Name = "mutated"
	got.Identifiers[0].ID = "mutated"

	again, err := reg.GetDevice(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "A", again.Name)
	assert.Equal(t, "m7", again.Identifiers[0].ID)
}

func TestRegistry_ConcurrentGetOrCreate(t *testing.T) {
	reg := NewRegistry(NewMemoryRepository())
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 20)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := reg.GetOrCreate(ctx, "entry-1", DeviceInfo{Identifiers: []Identifier{lcnID("same")}})
			if err == nil {
				ids[i] = d.ID
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, reg.GetDeviceCount())
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}
