package device

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides device management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache plus an identifier
// index for fast lookups by integrations.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by every mutating operation.
//
// All public methods are thread-safe.
type Registry struct {
	repo Repository

	mu      sync.RWMutex
	cache   map[string]*Device    // by device ID
	byIdent map[Identifier]string // identifier -> device ID

	logger Logger
}

// NewRegistry creates a new device registry.
// The repository is used for persistence; the registry adds caching.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:    repo,
		cache:   make(map[string]*Device),
		byIdent: make(map[Identifier]string),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all devices from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.cache = make(map[string]*Device, len(devices))
	r.byIdent = make(map[Identifier]string, len(devices))
	for i := range devices {
		r.cacheLocked(devices[i].DeepCopy())
	}

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// GetOrCreate returns the device matching any of info's identifiers,
// creating it if none matches.
//
// An existing device is merged with info: the entry ID and any new
// identifiers are added and non-empty metadata fields overwrite the
// stored ones. NameByUser is never touched.
func (r *Registry) GetOrCreate(ctx context.Context, entryID string, info DeviceInfo) (*Device, error) {
	if len(info.Identifiers) == 0 {
		return nil, fmt.Errorf("%w: at least one identifier is required", ErrInvalidDevice)
	}
	if entryID == "" {
		return nil, fmt.Errorf("%w: config entry ID is required", ErrInvalidDevice)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	viaID := ""
	if info.ViaDevice != nil {
		viaID = r.byIdent[*info.ViaDevice]
	}

	var existing *Device
	for _, ident := range info.Identifiers {
		if id, ok := r.byIdent[ident]; ok {
			existing = r.cache[id]
			break
		}
	}

	if existing == nil {
		d := &Device{
			ID:             uuid.NewString(),
			Identifiers:    slices.Clone(info.Identifiers),
			ConfigEntryIDs: []string{entryID},
			Name:           info.Name,
			Manufacturer:   info.Manufacturer,
			Model:          info.Model,
			SWVersion:      info.SWVersion,
			HWVersion:      info.HWVersion,
			SerialNumber:   info.SerialNumber,
			ViaDeviceID:    viaID,
		}
		if err := r.repo.Create(ctx, d); err != nil {
			return nil, err
		}
		r.cacheLocked(d.DeepCopy())
		r.logger.Info("device created", "id", d.ID, "name", d.Name)
		return d, nil
	}

	updated := existing.DeepCopy()
	if !updated.HasConfigEntry(entryID) {
		updated.ConfigEntryIDs = append(updated.ConfigEntryIDs, entryID)
	}
	for _, ident := range info.Identifiers {
		if !updated.HasIdentifier(ident) {
			updated.Identifiers = append(updated.Identifiers, ident)
		}
	}
	mergeString(&updated.Name, info.Name)
	mergeString(&updated.Manufacturer, info.Manufacturer)
	mergeString(&updated.Model, info.Model)
	mergeString(&updated.SWVersion, info.SWVersion)
	mergeString(&updated.HWVersion, info.HWVersion)
	mergeString(&updated.SerialNumber, info.SerialNumber)
	if viaID != "" && viaID != updated.ID {
		updated.ViaDeviceID = viaID
	}

	if err := r.repo.Update(ctx, updated); err != nil {
		return nil, err
	}
	r.uncacheLocked(existing)
	r.cacheLocked(updated.DeepCopy())
	r.logger.Debug("device merged", "id", updated.ID)
	return updated, nil
}

func mergeString(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}

// GetDevice retrieves a device by ID.
// Returns ErrDeviceNotFound if the device does not exist.
// The returned device is a deep copy; callers can safely modify it.
func (r *Registry) GetDevice(ctx context.Context, id string) (*Device, error) {
	r.mu.RLock()
	cached, ok := r.cache[id]
	r.mu.RUnlock()
	if ok {
		return cached.DeepCopy(), nil
	}

	d, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cacheLocked(d.DeepCopy())
	r.mu.Unlock()

	return d, nil
}

// GetDeviceByIdentifier retrieves the device carrying the given identifier.
// Returns ErrDeviceNotFound if no device has it.
func (r *Registry) GetDeviceByIdentifier(_ context.Context, ident Identifier) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byIdent[ident]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, ident)
	}
	return r.cache[id].DeepCopy(), nil
}

// Update applies a partial update to a device.
func (r *Registry) Update(ctx context.Context, id string, u Update) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cached, ok := r.cache[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}

	updated := cached.DeepCopy()
	if !u.apply(updated) {
		return updated, nil
	}

	if err := r.repo.Update(ctx, updated); err != nil {
		return nil, err
	}
	r.cacheLocked(updated.DeepCopy())

	r.logger.Debug("device updated", "id", id)
	return updated, nil
}

// ListDevices returns all cached devices.
func (r *Registry) ListDevices() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	devices := make([]Device, 0, len(r.cache))
	for _, d := range r.cache {
		devices = append(devices, *d.DeepCopy())
	}
	return devices
}

// ListByConfigEntry returns the devices registered by a config entry.
func (r *Registry) ListByConfigEntry(entryID string) []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var devices []Device
	for _, d := range r.cache {
		if d.HasConfigEntry(entryID) {
			devices = append(devices, *d.DeepCopy())
		}
	}
	return devices
}

// RemoveConfigEntry detaches a config entry from all its devices.
// Devices left without any entry are deleted. Returns how many were deleted.
func (r *Registry) RemoveConfigEntry(ctx context.Context, entryID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for _, d := range r.cache {
		if !d.HasConfigEntry(entryID) {
			continue
		}

		remaining := slices.DeleteFunc(slices.Clone(d.ConfigEntryIDs), func(id string) bool {
			return id == entryID
		})

		if len(remaining) == 0 {
			if err := r.repo.Delete(ctx, d.ID); err != nil {
				return removed, fmt.Errorf("deleting device %s: %w", d.ID, err)
			}
			r.uncacheLocked(d)
			removed++
			continue
		}

		updated := d.DeepCopy()
		updated.ConfigEntryIDs = remaining
		if err := r.repo.Update(ctx, updated); err != nil {
			return removed, fmt.Errorf("updating device %s: %w", d.ID, err)
		}
		r.cacheLocked(updated)
	}

	if removed > 0 {
		r.logger.Info("devices removed with config entry", "entry_id", entryID, "count", removed)
	}
	return removed, nil
}

// GetDeviceCount returns the number of cached devices.
func (r *Registry) GetDeviceCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

// cacheLocked stores d and indexes its identifiers. Caller must hold r.mu.
func (r *Registry) cacheLocked(d *Device) {
	r.cache[d.ID] = d
	for _, ident := range d.Identifiers {
		r.byIdent[ident] = d.ID
	}
}

// uncacheLocked drops d and its identifiers. Caller must hold r.mu.
func (r *Registry) uncacheLocked(d *Device) {
	delete(r.cache, d.ID)
	for _, ident := range d.Identifiers {
		if r.byIdent[ident] == d.ID {
			delete(r.byIdent, ident)
		}
	}
}
