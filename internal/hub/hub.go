package hub

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-lcn/internal/device"
)

// Logger defines the logging interface used by the hub.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Hub.
type Options struct {
	// Devices is the device registry shared by all integrations.
	// Defaults to a registry over an in-memory repository.
	Devices *device.Registry

	// Entries persists config entries. Defaults to MemoryEntryRepository.
	Entries EntryRepository

	// Logger receives hub lifecycle messages. Defaults to a noop logger.
	Logger Logger

	// RetryInterval is how long to wait before retrying an entry whose
	// setup returned ErrEntryNotReady. Zero disables retries.
	RetryInterval time.Duration
}

// Hub hosts integrations and their config entries.
//
// It owns the config entry store, the device registry and a tracker for
// background tasks so callers (tests in particular) can wait for all
// scheduled work to settle with BlockTillDone.
type Hub struct {
	devices       *device.Registry
	entries       EntryRepository
	logger        Logger
	retryInterval time.Duration

	mu           sync.RWMutex
	integrations map[string]Integration
	configs      map[string]*ConfigEntry
	order        []string // entry IDs in insertion order

	tasks      *taskTracker
	taskCtx    context.Context //nolint:containedctx // Parent of all background tasks
	cancelTask context.CancelFunc
	stopped    bool
}

// New creates a hub.
func New(opts Options) *Hub {
	if opts.Devices == nil {
		opts.Devices = device.NewRegistry(device.NewMemoryRepository())
	}
	if opts.Entries == nil {
		opts.Entries = NewMemoryEntryRepository()
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	taskCtx, cancel := context.WithCancel(context.Background())

	return &Hub{
		devices:       opts.Devices,
		entries:       opts.Entries,
		logger:        opts.Logger,
		retryInterval: opts.RetryInterval,
		integrations:  make(map[string]Integration),
		configs:       make(map[string]*ConfigEntry),
		tasks:         newTaskTracker(),
		taskCtx:       taskCtx,
		cancelTask:    cancel,
	}
}

// Devices returns the device registry.
func (h *Hub) Devices() *device.Registry {
	return h.devices
}

// Logger returns the hub logger for integrations that want to share it.
func (h *Hub) Logger() Logger {
	return h.logger
}

// RegisterIntegration makes an integration available for its domain.
func (h *Hub) RegisterIntegration(integration Integration) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	domain := integration.Domain()
	if _, exists := h.integrations[domain]; exists {
		return fmt.Errorf("%w: %s", ErrIntegrationExists, domain)
	}
	h.integrations[domain] = integration
	h.logger.Debug("integration registered", "domain", domain)
	return nil
}

// Integration returns the integration registered for domain.
func (h *Hub) Integration(domain string) (Integration, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	integration, ok := h.integrations[domain]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrIntegrationNotFound, domain)
	}
	return integration, nil
}

// Load reads persisted config entries into the hub. Entries already known
// to the hub are left untouched. Setup is not started; see SetupAll.
func (h *Hub) Load(ctx context.Context) error {
	stored, err := h.entries.List(ctx)
	if err != nil {
		return fmt.Errorf("loading config entries: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, e := range stored {
		if _, exists := h.configs[e.EntryID]; exists {
			continue
		}
		e.State = StateNotLoaded
		h.configs[e.EntryID] = e
		h.order = append(h.order, e.EntryID)
	}

	h.logger.Info("config entries loaded", "count", len(stored))
	return nil
}

// AddEntry validates, persists and registers a new config entry.
// An empty EntryID is assigned a fresh UUID; Source defaults to "user".
func (h *Hub) AddEntry(ctx context.Context, entry *ConfigEntry) error {
	if entry.Domain == "" {
		return fmt.Errorf("%w: domain is required", ErrInvalidEntry)
	}

	stored := entry.clone()
	if stored.EntryID == "" {
		stored.EntryID = uuid.NewString()
	}
	if stored.Source == "" {
		stored.Source = SourceUser
	}
	if stored.Data == nil {
		stored.Data = map[string]any{}
	}
	if stored.Options == nil {
		stored.Options = map[string]any{}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.configs[stored.EntryID]; exists {
		return fmt.Errorf("%w: %s", ErrEntryExists, stored.EntryID)
	}
	if stored.UniqueID != "" {
		for _, other := range h.configs {
			if other.Domain == stored.Domain && other.UniqueID == stored.UniqueID {
				return fmt.Errorf("%w: %s/%s", ErrEntryExists, stored.Domain, stored.UniqueID)
			}
		}
	}

	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	stored.State = StateNotLoaded

	if err := h.entries.Save(ctx, stored.clone()); err != nil {
		return fmt.Errorf("saving config entry: %w", err)
	}

	h.configs[stored.EntryID] = stored
	h.order = append(h.order, stored.EntryID)

	entry.EntryID = stored.EntryID
	entry.Source = stored.Source
	entry.CreatedAt = stored.CreatedAt
	entry.UpdatedAt = stored.UpdatedAt

	h.logger.Info("config entry added", "entry_id", stored.EntryID, "domain", stored.Domain, "title", stored.Title)
	return nil
}

// UpdateEntry replaces the title and data of an entry and persists it.
// A nil data map leaves the data unchanged. The entry is not reloaded.
func (h *Hub) UpdateEntry(ctx context.Context, entryID, title string, data map[string]any) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	entry, ok := h.configs[entryID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
	}

	if title != "" {
		entry.Title = title
	}
	if data != nil {
		entry.Data = maps.Clone(data)
	}
	entry.UpdatedAt = time.Now().UTC()

	if err := h.entries.Save(ctx, entry.clone()); err != nil {
		return fmt.Errorf("saving config entry: %w", err)
	}
	return nil
}

// Entry returns a snapshot of a config entry.
func (h *Hub) Entry(entryID string) (*ConfigEntry, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	entry, ok := h.configs[entryID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
	}
	return entry.snapshot(), nil
}

// EntryState returns the current lifecycle state of an entry.
func (h *Hub) EntryState(entryID string) (EntryState, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	entry, ok := h.configs[entryID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
	}
	return entry.State, nil
}

// Entries returns snapshots of the entries of a domain in insertion
// order. An empty domain returns every entry.
func (h *Hub) Entries(domain string) []*ConfigEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []*ConfigEntry
	for _, id := range h.order {
		e := h.configs[id]
		if domain == "" || e.Domain == domain {
			out = append(out, e.snapshot())
		}
	}
	return out
}

// SetupEntry runs the owning integration's setup for an entry.
//
// On success the entry is loaded. An error wrapping ErrEntryNotReady moves
// the entry to setup_retry and, when a retry interval is configured,
// schedules another attempt. Any other error moves it to setup_error.
func (h *Hub) SetupEntry(ctx context.Context, entryID string) error {
	h.mu.Lock()
	entry, ok := h.configs[entryID]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
	}
	integration, ok := h.integrations[entry.Domain]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrIntegrationNotFound, entry.Domain)
	}
	if entry.State == StateLoaded || entry.State == StateSetupInProgress {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrEntryAlreadyLoaded, entryID)
	}
	entry.State = StateSetupInProgress
	snap := entry.snapshot()
	h.mu.Unlock()

	h.logger.Debug("setting up config entry", "entry_id", entryID, "domain", entry.Domain)
	err := integration.SetupEntry(ctx, h, snap)

	h.mu.Lock()
	defer h.mu.Unlock()

	switch {
	case err == nil:
		entry.State = StateLoaded
		entry.RuntimeData = snap.RuntimeData
		h.logger.Info("config entry loaded", "entry_id", entryID, "title", entry.Title)
		return nil
	case errors.Is(err, ErrEntryNotReady):
		entry.State = StateSetupRetry
		h.logger.Warn("config entry not ready", "entry_id", entryID, "error", err)
		h.scheduleRetryLocked(entryID)
	default:
		entry.State = StateSetupError
		h.logger.Error("config entry setup failed", "entry_id", entryID, "error", err)
	}
	entry.RuntimeData = nil
	return fmt.Errorf("setting up %s: %w", entryID, err)
}

// scheduleRetryLocked queues another setup attempt. Caller must hold h.mu.
func (h *Hub) scheduleRetryLocked(entryID string) {
	if h.retryInterval <= 0 || h.stopped {
		return
	}
	interval := h.retryInterval
	h.createTaskLocked("retry "+entryID, func(ctx context.Context) error {
		timer := time.NewTimer(interval)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil
		}

		if state, err := h.EntryState(entryID); err != nil || state != StateSetupRetry {
			return nil //nolint:nilerr // Entry removed or set up meanwhile
		}
		if err := h.SetupEntry(ctx, entryID); err != nil && !errors.Is(err, ErrEntryNotReady) {
			return err
		}
		return nil
	})
}

// SetupAll sets up every entry that is not loaded and whose integration is
// registered. Failures are logged and collected.
func (h *Hub) SetupAll(ctx context.Context) error {
	var errs []error
	for _, entry := range h.Entries("") {
		h.mu.RLock()
		_, registered := h.integrations[entry.Domain]
		h.mu.RUnlock()

		if !registered || entry.State == StateLoaded {
			continue
		}
		if err := h.SetupEntry(ctx, entry.EntryID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// UnloadEntry runs the owning integration's unload for a loaded entry.
// Unloading an entry that is not loaded only resets its state.
func (h *Hub) UnloadEntry(ctx context.Context, entryID string) error {
	h.mu.Lock()
	entry, ok := h.configs[entryID]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
	}
	integration := h.integrations[entry.Domain]
	loaded := entry.State == StateLoaded
	snap := entry.snapshot()
	h.mu.Unlock()

	if loaded && integration != nil {
		if err := integration.UnloadEntry(ctx, h, snap); err != nil {
			return fmt.Errorf("unloading %s: %w", entryID, err)
		}
	}

	h.mu.Lock()
	entry.State = StateNotLoaded
	entry.RuntimeData = nil
	h.mu.Unlock()

	h.logger.Info("config entry unloaded", "entry_id", entryID)
	return nil
}

// RemoveEntry unloads an entry, deletes it and detaches it from the
// device registry, deleting devices that no other entry owns.
func (h *Hub) RemoveEntry(ctx context.Context, entryID string) error {
	if err := h.UnloadEntry(ctx, entryID); err != nil {
		return err
	}

	h.mu.Lock()
	delete(h.configs, entryID)
	h.order = slices.DeleteFunc(h.order, func(id string) bool { return id == entryID })
	h.mu.Unlock()

	if err := h.entries.Delete(ctx, entryID); err != nil && !errors.Is(err, ErrEntryNotFound) {
		return fmt.Errorf("deleting config entry: %w", err)
	}

	removed, err := h.devices.RemoveConfigEntry(ctx, entryID)
	if err != nil {
		return fmt.Errorf("removing devices of %s: %w", entryID, err)
	}

	h.logger.Info("config entry removed", "entry_id", entryID, "devices_removed", removed)
	return nil
}

// SetupComponent hands a configuration block to the domain's integration.
func (h *Hub) SetupComponent(ctx context.Context, domain string, config map[string]any) error {
	h.mu.RLock()
	integration, ok := h.integrations[domain]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrIntegrationNotFound, domain)
	}

	setup, ok := integration.(ComponentSetup)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoComponentSetup, domain)
	}
	if err := setup.SetupComponent(ctx, h, config); err != nil {
		return fmt.Errorf("setting up component %s: %w", domain, err)
	}
	return nil
}

// CreateTask runs fn on its own goroutine and tracks it until it returns.
// The task context is cancelled by Stop. Errors are logged.
func (h *Hub) CreateTask(name string, fn func(ctx context.Context) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return ErrStopped
	}
	h.createTaskLocked(name, fn)
	return nil
}

func (h *Hub) createTaskLocked(name string, fn func(ctx context.Context) error) {
	h.tasks.add()
	go func() {
		defer h.tasks.done()
		if err := fn(h.taskCtx); err != nil {
			h.logger.Warn("task failed", "task", name, "error", err)
		}
	}()
}

// PendingTasks returns the number of running background tasks.
func (h *Hub) PendingTasks() int {
	return h.tasks.count()
}

// BlockTillDone waits until every background task, including tasks
// started by other tasks, has returned.
func (h *Hub) BlockTillDone(ctx context.Context) error {
	return h.tasks.wait(ctx)
}

// Stop unloads all loaded entries concurrently, cancels background tasks
// and waits for them to return.
func (h *Hub) Stop(ctx context.Context) error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.stopped = true
	var loaded []string
	for _, id := range h.order {
		if h.configs[id].State == StateLoaded {
			loaded = append(loaded, id)
		}
	}
	h.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range loaded {
		g.Go(func() error {
			return h.UnloadEntry(gctx, id)
		})
	}
	unloadErr := g.Wait()

	h.cancelTask()
	if err := h.tasks.wait(ctx); err != nil {
		return errors.Join(unloadErr, fmt.Errorf("waiting for tasks: %w", err))
	}

	h.logger.Info("hub stopped", "entries_unloaded", len(loaded))
	return unloadErr
}
