package lcn

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-lcn/internal/device"
	"github.com/nerrad567/gray-logic-lcn/internal/hub"
	"github.com/nerrad567/gray-logic-lcn/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-lcn/internal/pchk"
)

// Logger is the logging interface used by the integration.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ConnectionFactory builds the PCHK connection of a config entry.
// Tests substitute it to obtain mock connections.
type ConnectionFactory func(cfg pchk.Config) pchk.Connection

// NewPCHKConnection is the default ConnectionFactory.
func NewPCHKConnection(cfg pchk.Config) pchk.Connection {
	return pchk.NewConnectionManager(cfg, nil)
}

// MQTTClient is the part of the MQTT client the integration uses.
// *mqtt.Client satisfies it.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Telemetry receives entity values for time-series storage.
// *influxdb.Client satisfies it.
type Telemetry interface {
	WriteDeviceMetric(deviceID string, measurement string, value float64)
}

// Options configures the integration.
type Options struct {
	// NewConnection builds PCHK connections. Default: NewPCHKConnection.
	NewConnection ConnectionFactory

	// MQTT is optional. Without it no commands are received and no state
	// or health is published.
	MQTT MQTTClient

	// Telemetry is optional.
	Telemetry Telemetry

	// Logger defaults to a noop logger.
	Logger Logger

	// ConnectTimeout bounds the PCHK login. Default: 30 seconds.
	ConnectTimeout time.Duration

	// DeviceTaskTimeout bounds the background serial and name requests
	// of each module. Default: 30 seconds.
	DeviceTaskTimeout time.Duration

	// HealthInterval enables periodic health publishing. Zero publishes
	// on changes only.
	HealthInterval time.Duration
}

// Integration hosts LCN config entries: one PCHK coupler each.
// It implements hub.Integration and hub.ComponentSetup.
//
// Thread Safety: All methods are safe for concurrent use.
type Integration struct {
	newConn        ConnectionFactory
	mqtt           MQTTClient
	telemetry      Telemetry
	logger         Logger
	connectTimeout time.Duration
	taskTimeout    time.Duration
	healthInterval time.Duration

	mu       sync.RWMutex
	runtimes map[string]*entryRuntime
}

// Ensure Integration implements the hub interfaces.
var (
	_ hub.Integration    = (*Integration)(nil)
	_ hub.ComponentSetup = (*Integration)(nil)
)

// New creates the integration. Register it with hub.RegisterIntegration.
func New(opts Options) *Integration {
	if opts.NewConnection == nil {
		opts.NewConnection = NewPCHKConnection
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = pchk.DefaultConnectTimeout
	}
	if opts.DeviceTaskTimeout <= 0 {
		opts.DeviceTaskTimeout = defaultDeviceTaskTimeout
	}

	return &Integration{
		newConn:        opts.NewConnection,
		mqtt:           opts.MQTT,
		telemetry:      opts.Telemetry,
		logger:         opts.Logger,
		connectTimeout: opts.ConnectTimeout,
		taskTimeout:    opts.DeviceTaskTimeout,
		healthInterval: opts.HealthInterval,
		runtimes:       make(map[string]*entryRuntime),
	}
}

// Domain returns "lcn".
func (i *Integration) Domain() string { return Domain }

// statusHandler is an activated status request of a module.
type statusHandler struct {
	module pchk.ModuleConn
	item   pchk.StatusItem
}

// entryRuntime is everything a loaded entry holds.
type entryRuntime struct {
	entryID string
	conn    pchk.Connection

	mu   sync.Mutex
	data EntryData // serials and names are filled in by device tasks

	deviceIDs map[pchk.Address]string
	entities  map[string]*Entity
	handlers  []statusHandler
	cleanups  []func()
	topics    []string
	reporter  *healthReporter
	busDown   atomic.Bool

	ctx    context.Context //nolint:containedctx // Lifetime of the loaded entry
	cancel context.CancelFunc
}

func newEntryRuntime(entryID string, data EntryData, conn pchk.Connection) *entryRuntime {
	ctx, cancel := context.WithCancel(context.Background())
	return &entryRuntime{
		entryID:   entryID,
		conn:      conn,
		data:      data,
		deviceIDs: make(map[pchk.Address]string),
		entities:  make(map[string]*Entity),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// healthStatus derives the health of the connection.
func (rt *entryRuntime) healthStatus() (HealthStatus, string) {
	switch {
	case !rt.conn.IsReady():
		return HealthOffline, "PCHK connection lost"
	case rt.busDown.Load():
		return HealthDegraded, "LCN bus disconnected"
	}
	return HealthHealthy, ""
}

// SetupEntry connects to the entry's PCHK coupler and brings its devices
// and entities online. Connection failures wrap hub.ErrEntryNotReady.
func (i *Integration) SetupEntry(ctx context.Context, h *hub.Hub, entry *hub.ConfigEntry) error {
	data, err := DecodeEntryData(entry.Data)
	if err != nil {
		return err
	}

	conn := i.newConn(data.PCHKConfig(i.connectTimeout))
	if withLogger, ok := conn.(interface{ SetLogger(pchk.Logger) }); ok {
		withLogger.SetLogger(i.logger)
	}
	if err := conn.Connect(ctx); err != nil {
		conn.Close(context.Background()) //nolint:errcheck // Best effort cleanup on error path
		return fmt.Errorf("%w: connecting to %s: %w", hub.ErrEntryNotReady, data.Host, err)
	}

	rt := newEntryRuntime(entry.EntryID, data, conn)
	if err := i.setupRuntime(ctx, h, entry, rt); err != nil {
		i.teardown(context.Background(), rt) //nolint:errcheck // Best effort cleanup on error path
		return err
	}

	i.mu.Lock()
	i.runtimes[entry.EntryID] = rt
	i.mu.Unlock()

	i.logger.Info("LCN entry set up",
		"entry_id", entry.EntryID,
		"host", data.Host,
		"devices", len(rt.deviceIDs),
		"entities", len(rt.entities),
	)
	return nil
}

func (i *Integration) setupRuntime(ctx context.Context, h *hub.Hub, entry *hub.ConfigEntry, rt *entryRuntime) error {
	if _, err := h.Devices().GetOrCreate(ctx, entry.EntryID, device.DeviceInfo{
		Identifiers:  []device.Identifier{{Domain: Domain, ID: entry.EntryID}},
		Name:         entry.Title,
		Manufacturer: Manufacturer,
		Model:        "PCHK",
	}); err != nil {
		return fmt.Errorf("registering PCHK device: %w", err)
	}

	rt.mu.Lock()
	devices := slices.Clone(rt.data.Devices)
	rt.mu.Unlock()

	for _, dc := range devices {
		if err := i.registerDevice(ctx, h, rt, dc); err != nil {
			return err
		}
	}

	if err := i.setupEntities(ctx, h, rt); err != nil {
		return err
	}

	rt.reporter = newHealthReporter(rt, i.publisher(), i.healthInterval, i.logger)

	rt.cleanups = append(rt.cleanups, rt.conn.RegisterForInputs(func(in pchk.Input) {
		if bus, ok := in.(pchk.BusConnState); ok {
			rt.busDown.Store(!bus.Connected)
			rt.reporter.PublishNow()
		}
	}))
	rt.conn.SetOnDisconnect(func(err error) {
		i.logger.Warn("PCHK connection lost, reloading entry", "entry_id", rt.entryID, "error", err)
		rt.reporter.PublishNow()
		i.scheduleReload(h, rt.entryID)
	})

	if i.mqtt != nil {
		for uid := range rt.entities {
			topic := CommandTopic(uid)
			if err := i.mqtt.Subscribe(topic, 1, i.commandHandler(rt)); err != nil {
				return fmt.Errorf("subscribing to %s: %w", topic, err)
			}
			rt.topics = append(rt.topics, topic)
		}
	}

	rt.reporter.Start(rt.ctx)
	return nil
}

// registerDevice adds a configured module or group to the registry and,
// for modules, schedules a task reading its serials and name.
func (i *Integration) registerDevice(ctx context.Context, h *hub.Hub, rt *entryRuntime, dc DeviceConfig) error {
	addr := dc.Address.Address()
	conn, err := rt.conn.AddressConn(addr, false)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, addr, err)
	}

	info := device.DeviceInfo{
		Identifiers:  []device.Identifier{{Domain: Domain, ID: GenerateUniqueID(rt.entryID, addr, "")}},
		Name:         dc.Name,
		Manufacturer: Manufacturer,
		Model:        "LCN module",
		ViaDevice:    &device.Identifier{Domain: Domain, ID: rt.entryID},
	}
	if addr.IsGroup {
		info.Model = "LCN group"
	}
	if info.Name == "" {
		info.Name = addr.String()
	}
	if dc.HardwareSerial > 0 {
		serials := pchk.Serials{HardwareSerial: dc.HardwareSerial, SoftwareSerial: int(dc.SoftwareSerial)}
		info.SerialNumber = serials.SerialNumber()
		info.SWVersion = serials.FirmwareVersion()
		info.HWVersion = strconv.Itoa(dc.HardwareType)
	}

	dev, err := h.Devices().GetOrCreate(ctx, rt.entryID, info)
	if err != nil {
		return fmt.Errorf("registering %s: %w", addr, err)
	}
	rt.deviceIDs[addr] = dev.ID

	module, ok := conn.(pchk.ModuleConn)
	if !ok {
		return nil
	}
	return h.CreateTask("lcn device info "+addr.String(), func(taskCtx context.Context) error {
		return i.refreshDeviceInfo(taskCtx, h, rt, module, addr, dev.ID, dc.Name == "")
	})
}

// refreshDeviceInfo reads a module's serials and name and stores them in
// the registry and the entry data. addr is the address as configured; the
// module's own address has the local segment applied.
func (i *Integration) refreshDeviceInfo(ctx context.Context, h *hub.Hub, rt *entryRuntime, module pchk.ModuleConn, addr pchk.Address, deviceID string, setName bool) error {
	ctx, cancel := context.WithTimeout(ctx, i.taskTimeout)
	defer cancel()
	stop := context.AfterFunc(rt.ctx, cancel)
	defer stop()

	serials, err := module.RequestSerials(ctx)
	if err != nil {
		return err
	}
	name, err := module.RequestName(ctx)
	if err != nil {
		return err
	}

	var update device.Update
	if serials.HardwareSerial > 0 {
		update.SerialNumber = device.String(serials.SerialNumber())
		update.SWVersion = device.String(serials.FirmwareVersion())
		update.HWVersion = device.String(strconv.Itoa(serials.HardwareType))
	}
	if setName && name != "" {
		update.Name = device.String(name)
	}
	if _, err := h.Devices().Update(ctx, deviceID, update); err != nil {
		return fmt.Errorf("updating device %s: %w", deviceID, err)
	}

	// rt.mu is held until the entry is stored so the last writer always
	// stores the complete device list.
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for idx := range rt.data.Devices {
		dc := &rt.data.Devices[idx]
		if dc.Address.Address() != addr {
			continue
		}
		if serials.HardwareSerial > 0 {
			dc.HardwareSerial = serials.HardwareSerial
			dc.SoftwareSerial = int64(serials.SoftwareSerial)
			dc.HardwareType = serials.HardwareType
		}
		if dc.Name == "" {
			dc.Name = name
		}
	}
	data, err := rt.data.Map()
	if err != nil {
		return err
	}

	if err := h.UpdateEntry(ctx, rt.entryID, "", data); err != nil {
		return fmt.Errorf("storing device config: %w", err)
	}
	i.logger.Debug("LCN device info updated", "address", addr.String(), "name", name)
	return nil
}

// setupEntities builds the configured entities, subscribes them to their
// module's inputs and activates status polling.
func (i *Integration) setupEntities(ctx context.Context, h *hub.Hub, rt *entryRuntime) error {
	byModule := make(map[pchk.Address][]*Entity)
	modules := make(map[pchk.Address]pchk.ModuleConn)

	for _, ec := range rt.data.Entities {
		addr := ec.Address.Address()
		if _, known := rt.deviceIDs[addr]; !known {
			dc := DeviceConfig{Address: ec.Address, HardwareSerial: unknownSerial, SoftwareSerial: unknownSerial, HardwareType: unknownSerial}
			rt.mu.Lock()
			rt.data.Devices = append(rt.data.Devices, dc)
			rt.mu.Unlock()
			if err := i.registerDevice(ctx, h, rt, dc); err != nil {
				return err
			}
		}

		conn, err := rt.conn.AddressConn(addr, false)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, addr, err)
		}
		e, err := newEntity(rt.entryID, rt.deviceIDs[addr], ec, conn, rt.data.Acknowledge)
		if err != nil {
			return fmt.Errorf("%w: entity %q: %w", ErrInvalidConfig, ec.Name, err)
		}
		if _, dup := rt.entities[e.uniqueID]; dup {
			return fmt.Errorf("%w: duplicate entity %s", ErrInvalidConfig, e.uniqueID)
		}
		e.setOnChange(i.entityChanged)
		rt.entities[e.uniqueID] = e

		if module, ok := conn.(pchk.ModuleConn); ok {
			byModule[addr] = append(byModule[addr], e)
			modules[addr] = module
		}
	}

	for addr, entities := range byModule {
		module := modules[addr]
		rt.cleanups = append(rt.cleanups, module.RegisterForInputs(func(in pchk.ModInput) {
			for _, e := range entities {
				e.processInput(in)
			}
		}))

		seen := make(map[pchk.StatusItem]bool)
		for _, e := range entities {
			item := e.resource.StatusItem()
			if seen[item] {
				continue
			}
			seen[item] = true
			if err := module.ActivateStatusRequestHandler(ctx, item); err != nil {
				return fmt.Errorf("activating %s status of %s: %w", item, addr, err)
			}
			rt.handlers = append(rt.handlers, statusHandler{module: module, item: item})
		}
	}
	return nil
}

// scheduleReload unloads and sets up an entry again after its connection
// dropped. A failing setup is retried by the hub.
func (i *Integration) scheduleReload(h *hub.Hub, entryID string) {
	err := h.CreateTask("lcn reload "+entryID, func(ctx context.Context) error {
		if err := h.UnloadEntry(ctx, entryID); err != nil {
			return err
		}
		return h.SetupEntry(ctx, entryID)
	})
	if err != nil && !errors.Is(err, hub.ErrStopped) {
		i.logger.Error("failed to schedule reload", "entry_id", entryID, "error", err)
	}
}

// UnloadEntry cancels polling, drops subscriptions and closes the
// connection of a loaded entry.
func (i *Integration) UnloadEntry(ctx context.Context, _ *hub.Hub, entry *hub.ConfigEntry) error {
	i.mu.Lock()
	rt, ok := i.runtimes[entry.EntryID]
	delete(i.runtimes, entry.EntryID)
	i.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrEntryNotLoaded, entry.EntryID)
	}
	if err := i.teardown(ctx, rt); err != nil {
		return err
	}
	i.logger.Info("LCN entry unloaded", "entry_id", entry.EntryID)
	return nil
}

func (i *Integration) teardown(ctx context.Context, rt *entryRuntime) error {
	var errs []error

	for _, topic := range rt.topics {
		if err := i.mqtt.Unsubscribe(topic); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribing %s: %w", topic, err))
		}
	}
	for _, cleanup := range rt.cleanups {
		cleanup()
	}
	for _, sh := range rt.handlers {
		if err := sh.module.CancelStatusRequestHandler(ctx, sh.item); err != nil {
			errs = append(errs, fmt.Errorf("cancelling %s status of %s: %w", sh.item, sh.module.Address(), err))
		}
	}
	rt.cancel()
	if rt.reporter != nil {
		rt.reporter.Stop()
	}

	if err := rt.conn.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("closing PCHK connection: %w", err))
	}
	return errors.Join(errs...)
}

// Connection returns the PCHK connection of a loaded entry.
func (i *Integration) Connection(entryID string) (pchk.Connection, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	rt, ok := i.runtimes[entryID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotLoaded, entryID)
	}
	return rt.conn, nil
}

// Entities returns the entities of a loaded entry ordered by unique ID.
func (i *Integration) Entities(entryID string) []*Entity {
	i.mu.RLock()
	defer i.mu.RUnlock()

	rt, ok := i.runtimes[entryID]
	if !ok {
		return nil
	}
	out := make([]*Entity, 0, len(rt.entities))
	for _, e := range rt.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].uniqueID < out[b].uniqueID })
	return out
}

// Entity returns a loaded entity by unique ID.
func (i *Integration) Entity(uniqueID string) (*Entity, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	for _, rt := range i.runtimes {
		if e, ok := rt.entities[uniqueID]; ok {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, uniqueID)
}

// entityChanged publishes the new state and records telemetry.
func (i *Integration) entityChanged(e *Entity, s State) {
	i.publishState(e)

	if i.telemetry == nil {
		return
	}
	on := 0.0
	if s.On {
		on = 1
	}
	i.telemetry.WriteDeviceMetric(e.uniqueID, "on", on)
	if e.dimmable {
		i.telemetry.WriteDeviceMetric(e.uniqueID, "brightness", s.Brightness)
	}
}

// publisher returns the MQTT client as a Publisher, or nil.
func (i *Integration) publisher() Publisher {
	if i.mqtt == nil {
		return nil
	}
	return i.mqtt
}
