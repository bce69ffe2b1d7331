package pchk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Host is what child connections need from their connection manager.
type Host interface {
	SendCommand(ctx context.Context, pck string) (bool, error)
	LocalSegmentID() int
	Settings() Settings
}

// AddressConn is a connection to one module or group.
type AddressConn interface {
	Address() Address
	IsGroup() bool

	// SendCommand sends a PCK command (without address header).
	// Groups never acknowledge, so wantsAck is ignored for them.
	SendCommand(ctx context.Context, wantsAck bool, pck string) (bool, error)

	// ProcessInput is called by the manager for inputs from this address.
	ProcessInput(in ModInput)

	// Close stops background requests.
	Close()
}

// ModuleConn is the module side of AddressConn.
type ModuleConn interface {
	AddressConn

	RequestName(ctx context.Context) (string, error)
	RequestSerials(ctx context.Context) (Serials, error)
	StatusRequest(ctx context.Context, item StatusItem) error
	ActivateStatusRequestHandler(ctx context.Context, item StatusItem) error
	CancelStatusRequestHandler(ctx context.Context, item StatusItem) error
	SerialKnown() *Event
	RegisterForInputs(callback func(ModInput)) (unregister func())
}

// GroupConn is the group side of AddressConn.
type GroupConn interface {
	AddressConn
}

// ChildFactory builds the per-address connections of a manager.
// Tests substitute it to obtain mock children.
type ChildFactory interface {
	NewModuleConnection(host Host, addr Address) ModuleConn
	NewGroupConnection(host Host, addr Address) GroupConn
}

// DefaultChildFactory builds real module and group connections.
type DefaultChildFactory struct{}

// NewModuleConnection returns a real module connection.
func (DefaultChildFactory) NewModuleConnection(host Host, addr Address) ModuleConn {
	return NewModuleConnection(host, addr)
}

// NewGroupConnection returns a real group connection.
func (DefaultChildFactory) NewGroupConnection(host Host, addr Address) GroupConn {
	return NewGroupConnection(host, addr)
}

// StatusItem names a value that can be polled from a module.
type StatusItem string

// Status items.
const (
	StatusOutput1 StatusItem = "OUTPUT1"
	StatusOutput2 StatusItem = "OUTPUT2"
	StatusOutput3 StatusItem = "OUTPUT3"
	StatusOutput4 StatusItem = "OUTPUT4"
	StatusRelays  StatusItem = "RELAYS"
)

// OutputStatusItem returns the status item of an output (0-based).
func OutputStatusItem(output int) StatusItem {
	return StatusItem(fmt.Sprintf("OUTPUT%d", output+1))
}

// pck returns the status request command for the item.
func (s StatusItem) pck() (string, error) {
	if s == StatusRelays {
		return RequestRelaysStatus(), nil
	}
	var n int
	if _, err := fmt.Sscanf(string(s), "OUTPUT%d", &n); err != nil || n < 1 || n > 4 {
		return "", fmt.Errorf("unknown status item %q", s)
	}
	return RequestOutputStatus(n - 1), nil
}

// Ensure the real connections satisfy their interfaces.
var (
	_ ModuleConn = (*ModuleConnection)(nil)
	_ GroupConn  = (*GroupConnection)(nil)
)

// ModuleConnection talks to one LCN module through the manager.
//
// Inputs from the module arrive through ProcessInput; requests wait on
// them with per-request timeouts taken from the manager settings.
type ModuleConnection struct {
	host Host
	addr Address

	serialKnown Event

	mu         sync.Mutex
	updated    chan struct{} // closed and replaced on every input
	serials    Serials
	nameBlocks [pckNameBlockCount]string
	nameSeen   [pckNameBlockCount]bool
	ackSeq     int
	lastAck    int
	callbacks  map[int]func(ModInput)
	nextCB     int
	handlers   map[StatusItem]context.CancelFunc

	wg sync.WaitGroup
}

// NewModuleConnection creates a connection to the module at addr.
func NewModuleConnection(host Host, addr Address) *ModuleConnection {
	return &ModuleConnection{
		host:      host,
		addr:      addr,
		updated:   make(chan struct{}),
		callbacks: make(map[int]func(ModInput)),
		handlers:  make(map[StatusItem]context.CancelFunc),
	}
}

// Address returns the module address.
func (m *ModuleConnection) Address() Address { return m.addr }

// IsGroup always returns false.
func (m *ModuleConnection) IsGroup() bool { return false }

// SerialKnown is set once the module's serials have been received.
func (m *ModuleConnection) SerialKnown() *Event { return &m.serialKnown }

func (m *ModuleConnection) prefix(wantsAck bool) string {
	return m.addr.Physical(m.host.LocalSegmentID()).PCKPrefix(wantsAck)
}

// SendCommand sends pck to the module. With wantsAck it retries until the
// module acknowledges; a negative acknowledgement returns false.
func (m *ModuleConnection) SendCommand(ctx context.Context, wantsAck bool, pck string) (bool, error) {
	if !wantsAck {
		return m.host.SendCommand(ctx, m.prefix(false)+pck)
	}

	settings := m.host.Settings()
	for range max(settings.NumTries, 1) {
		m.mu.Lock()
		seq := m.ackSeq
		m.mu.Unlock()

		if _, err := m.host.SendCommand(ctx, m.prefix(true)+pck); err != nil {
			return false, err
		}

		var code int
		err := m.waitFor(ctx, settings.AcknowledgeTimeout, func() bool {
			if m.ackSeq > seq {
				code = m.lastAck
				return true
			}
			return false
		})
		if errors.Is(err, ErrTimeout) {
			continue
		}
		if err != nil {
			return false, err
		}
		return code == ackPositive, nil
	}
	return false, fmt.Errorf("%w: no acknowledgement from %s", ErrTimeout, m.addr)
}

// RequestSerials returns the module's serials, asking the module only if
// they are not known yet.
func (m *ModuleConnection) RequestSerials(ctx context.Context) (Serials, error) {
	err := m.request(ctx, RequestSerial(), func() bool { return m.serialKnown.IsSet() })
	if err != nil {
		return Serials{}, fmt.Errorf("requesting serials of %s: %w", m.addr, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.serials, nil
}

// RequestName reads both name blocks and returns the trimmed name.
func (m *ModuleConnection) RequestName(ctx context.Context) (string, error) {
	m.mu.Lock()
	m.nameSeen = [pckNameBlockCount]bool{}
	m.mu.Unlock()

	for block := range pckNameBlockCount {
		err := m.request(ctx, RequestName(block), func() bool { return m.nameSeen[block] })
		if err != nil {
			return "", fmt.Errorf("requesting name of %s: %w", m.addr, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return strings.TrimSpace(strings.Join(m.nameBlocks[:], "")), nil
}

// request sends pck until done reports true, up to NumTries times.
// done is evaluated with m.mu held.
func (m *ModuleConnection) request(ctx context.Context, pck string, done func() bool) error {
	m.mu.Lock()
	satisfied := done()
	m.mu.Unlock()
	if satisfied {
		return nil
	}

	settings := m.host.Settings()
	for range max(settings.NumTries, 1) {
		if _, err := m.SendCommand(ctx, false, pck); err != nil {
			return err
		}
		err := m.waitFor(ctx, settings.DefaultTimeout, done)
		if errors.Is(err, ErrTimeout) {
			continue
		}
		return err
	}
	return ErrTimeout
}

// waitFor blocks until cond holds, timeout elapses or ctx is done.
// cond is evaluated with m.mu held.
func (m *ModuleConnection) waitFor(ctx context.Context, timeout time.Duration, cond func() bool) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		m.mu.Lock()
		if cond() {
			m.mu.Unlock()
			return nil
		}
		updated := m.updated
		m.mu.Unlock()

		select {
		case <-updated:
		case <-timer.C:
			return ErrTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// StatusRequest asks the module for the current value of item once.
func (m *ModuleConnection) StatusRequest(ctx context.Context, item StatusItem) error {
	pck, err := item.pck()
	if err != nil {
		return err
	}
	_, err = m.SendCommand(ctx, false, pck)
	return err
}

// ActivateStatusRequestHandler polls item every StatusInterval until the
// handler is cancelled or the connection closed. Activating an active
// handler does nothing.
func (m *ModuleConnection) ActivateStatusRequestHandler(_ context.Context, item StatusItem) error {
	if _, err := item.pck(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, active := m.handlers[item]; active {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.handlers[item] = cancel

	interval := m.host.Settings().StatusInterval
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			// Errors surface as missing updates; the next tick retries.
			_ = m.StatusRequest(ctx, item) //nolint:errcheck // Polling is best effort
			if interval <= 0 {
				return
			}
			select {
			case <-time.After(interval):
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// CancelStatusRequestHandler stops polling item.
func (m *ModuleConnection) CancelStatusRequestHandler(_ context.Context, item StatusItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cancel, ok := m.handlers[item]; ok {
		cancel()
		delete(m.handlers, item)
	}
	return nil
}

// RegisterForInputs calls callback for every input from this module.
func (m *ModuleConnection) RegisterForInputs(callback func(ModInput)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextCB
	m.nextCB++
	m.callbacks[id] = callback

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.callbacks, id)
	}
}

// ProcessInput records replies and forwards the input to callbacks.
func (m *ModuleConnection) ProcessInput(in ModInput) {
	m.mu.Lock()
	switch v := in.(type) {
	case ModAck:
		m.ackSeq++
		m.lastAck = v.Code
	case ModSN:
		m.serials = v.Serials
		m.serialKnown.Set()
	case ModName:
		if v.Block >= 0 && v.Block < pckNameBlockCount {
			m.nameBlocks[v.Block] = v.Text
			m.nameSeen[v.Block] = true
		}
	}
	close(m.updated)
	m.updated = make(chan struct{})

	callbacks := make([]func(ModInput), 0, len(m.callbacks))
	for _, cb := range m.callbacks {
		callbacks = append(callbacks, cb)
	}
	m.mu.Unlock()

	for _, cb := range callbacks {
		cb(in)
	}
}

// Close cancels all status request handlers and waits for them.
func (m *ModuleConnection) Close() {
	m.mu.Lock()
	for item, cancel := range m.handlers {
		cancel()
		delete(m.handlers, item)
	}
	m.mu.Unlock()

	m.wg.Wait()
}

// GroupConnection talks to an LCN group. Groups never answer.
type GroupConnection struct {
	host Host
	addr Address
}

// NewGroupConnection creates a connection to the group at addr.
func NewGroupConnection(host Host, addr Address) *GroupConnection {
	return &GroupConnection{host: host, addr: addr}
}

// Address returns the group address.
func (g *GroupConnection) Address() Address { return g.addr }

// IsGroup always returns true.
func (g *GroupConnection) IsGroup() bool { return true }

// SendCommand sends pck to all members of the group.
func (g *GroupConnection) SendCommand(ctx context.Context, _ bool, pck string) (bool, error) {
	prefix := g.addr.Physical(g.host.LocalSegmentID()).PCKPrefix(false)
	return g.host.SendCommand(ctx, prefix+pck)
}

// ProcessInput ignores inputs; groups do not send any.
func (g *GroupConnection) ProcessInput(ModInput) {}

// Close does nothing.
func (g *GroupConnection) Close() {}
