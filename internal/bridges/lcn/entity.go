package lcn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-lcn/internal/pchk"
)

// State is the current value of an entity.
type State struct {
	On bool

	// Brightness in percent. Only tracked for dimmable lights.
	Brightness float64
}

// CommandOptions modifies TurnOn and TurnOff.
type CommandOptions struct {
	// Level is the brightness in percent. Nil means full brightness.
	Level *float64

	// Transition overrides the entity's configured ramp time.
	Transition *time.Duration
}

// Entity is a light or switch bound to an output or relay of a module
// (or of every module in a group).
//
// Thread Safety: all methods are safe for concurrent use.
type Entity struct {
	uniqueID    string
	deviceID    string
	name        string
	domain      string
	resource    Resource
	dimmable    bool
	transition  time.Duration
	acknowledge bool
	conn        pchk.AddressConn

	mu       sync.RWMutex
	state    State
	onChange func(*Entity, State)
}

func newEntity(entryID, deviceID string, cfg EntityConfig, conn pchk.AddressConn, acknowledge bool) (*Entity, error) {
	resource, err := ParseResource(cfg.DomainData.Output)
	if err != nil {
		return nil, err
	}
	name := cfg.Resource
	if name == "" {
		name = resource.String()
	}

	return &Entity{
		uniqueID:    GenerateUniqueID(entryID, cfg.Address.Address(), name),
		deviceID:    deviceID,
		name:        cfg.Name,
		domain:      cfg.Domain,
		resource:    resource,
		dimmable:    cfg.Domain == EntityLight && resource.Kind == KindOutput && cfg.DomainData.Dimmable,
		transition:  time.Duration(cfg.DomainData.Transition * float64(time.Second)),
		acknowledge: acknowledge,
		conn:        conn,
	}, nil
}

// UniqueID returns the entity's unique ID.
func (e *Entity) UniqueID() string { return e.uniqueID }

// DeviceID returns the registry ID of the module or group the entity
// belongs to.
func (e *Entity) DeviceID() string { return e.deviceID }

// Name returns the configured name.
func (e *Entity) Name() string { return e.name }

// Domain returns "light" or "switch".
func (e *Entity) Domain() string { return e.domain }

// Resource returns the controlled output or relay.
func (e *Entity) Resource() Resource { return e.resource }

// Address returns the module or group address.
func (e *Entity) Address() pchk.Address { return e.conn.Address() }

// Dimmable reports whether the entity accepts brightness levels.
func (e *Entity) Dimmable() bool { return e.dimmable }

// State returns the last known state.
func (e *Entity) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// StateMap returns the state as published over MQTT.
func (e *Entity) StateMap() map[string]any {
	s := e.State()
	m := map[string]any{"on": s.On}
	if e.dimmable {
		m["level"] = s.Brightness
	}
	return m
}

// TurnOn switches the entity on. Dimmable lights go to opts.Level.
func (e *Entity) TurnOn(ctx context.Context, opts CommandOptions) error {
	level := 100.0
	if e.dimmable && opts.Level != nil {
		level = *opts.Level
	}
	if level < 0 || level > 100 {
		return fmt.Errorf("%w: level %.1f out of range", ErrInvalidParameters, level)
	}
	if level == 0 {
		return e.TurnOff(ctx, opts)
	}
	return e.apply(ctx, State{On: true, Brightness: level}, opts)
}

// TurnOff switches the entity off.
func (e *Entity) TurnOff(ctx context.Context, opts CommandOptions) error {
	return e.apply(ctx, State{}, opts)
}

func (e *Entity) apply(ctx context.Context, target State, opts CommandOptions) error {
	var pck string
	switch e.resource.Kind {
	case KindRelay:
		pck = pchk.ControlRelay(e.resource.Index, target.On)
	default:
		transition := e.transition
		if opts.Transition != nil {
			transition = *opts.Transition
		}
		pck = pchk.DimOutput(e.resource.Index, target.Brightness, pchk.TimeToRampValue(int(transition.Milliseconds())))
	}

	ok, err := e.conn.SendCommand(ctx, e.acknowledge, pck)
	if err != nil {
		return fmt.Errorf("sending %s to %s: %w", e.resource, e.conn.Address(), err)
	}
	if !ok {
		return fmt.Errorf("%w: %s %s", ErrCommandRejected, e.conn.Address(), e.resource)
	}

	if !e.dimmable {
		target.Brightness = 0
	}
	e.setState(target)
	return nil
}

// processInput applies a module status input. It reports whether the
// input concerned this entity.
func (e *Entity) processInput(in pchk.ModInput) bool {
	switch v := in.(type) {
	case pchk.ModOutputPercent:
		if e.resource.Kind != KindOutput || v.Output != e.resource.Index {
			return false
		}
		s := State{On: v.Percent > 0}
		if e.dimmable {
			s.Brightness = v.Percent
		}
		e.setState(s)
		return true
	case pchk.ModRelays:
		if e.resource.Kind != KindRelay {
			return false
		}
		e.setState(State{On: v.States[e.resource.Index]})
		return true
	}
	return false
}

// setState stores s and notifies the change callback if it differs.
func (e *Entity) setState(s State) {
	e.mu.Lock()
	changed := e.state != s
	e.state = s
	cb := e.onChange
	e.mu.Unlock()

	if changed && cb != nil {
		cb(e, s)
	}
}

// setOnChange sets the callback invoked after a state change.
func (e *Entity) setOnChange(cb func(*Entity, State)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onChange = cb
}
