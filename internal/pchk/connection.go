package pchk

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Logger interface for optional logging.
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

// Connection is the interface integrations use to talk to a PCHK coupler.
// ConnectionManager implements it; tests substitute mocks.
type Connection interface {
	Host

	Connect(ctx context.Context) error
	Close(ctx context.Context) error

	// AddressConn returns the connection for a module or group, creating
	// it on first use. With requestSerials a new module connection asks
	// for its serials in the background.
	AddressConn(addr Address, requestSerials bool) (AddressConn, error)

	IsReady() bool
	RegisterForInputs(callback func(Input)) (unregister func())
	SetOnDisconnect(callback func(err error))

	AuthenticationCompleted() *Event
	LicenseChecked() *Event
	SegmentScanCompleted() *Event
}

// Ensure ConnectionManager implements Connection.
var _ Connection = (*ConnectionManager)(nil)

// Stats holds operational statistics.
type Stats struct {
	CommandsTx   uint64
	InputsRx     uint64
	Connected    bool
	BusConnected bool
}

// ConnectionManager owns the TCP connection to a PCHK coupler.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Input callbacks run on the receive goroutine and must not block.
//
// A manager is single use: after Close (or a failed Connect) create a new one.
type ConnectionManager struct {
	cfg     Config
	factory ChildFactory

	logger   Logger
	loggerMu sync.RWMutex

	authOK         Event
	licenseOK      Event
	segmentScanned Event
	failed         chan error // handshake failures, buffered

	connMu    sync.RWMutex
	conn      net.Conn
	connected bool
	writeMu   sync.Mutex

	localSegID   atomic.Int32
	busConnected atomic.Bool

	childMu  sync.Mutex
	children map[Address]AddressConn

	subsMu       sync.RWMutex
	subs         map[int]func(Input)
	nextSub      int
	onDisconnect func(error)

	// Shutdown coordination
	closed   atomic.Bool
	done     *closeOnce
	lifetime context.Context //nolint:containedctx // Cancelled on Close, parent of background requests
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	commandsTx atomic.Uint64
	inputsRx   atomic.Uint64
}

// NewConnectionManager creates a manager for cfg. A nil factory uses
// DefaultChildFactory. No I/O happens until Connect.
func NewConnectionManager(cfg Config, factory ChildFactory) *ConnectionManager {
	if factory == nil {
		factory = DefaultChildFactory{}
	}
	lifetime, cancel := context.WithCancel(context.Background())

	return &ConnectionManager{
		cfg:      cfg.withDefaults(),
		factory:  factory,
		logger:   noopLogger{},
		failed:   make(chan error, 1),
		children: make(map[Address]AddressConn),
		subs:     make(map[int]func(Input)),
		done:     newCloseOnce(),
		lifetime: lifetime,
		cancel:   cancel,
	}
}

// SetLogger sets the logger for the manager.
func (c *ConnectionManager) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	defer c.loggerMu.Unlock()
	c.logger = logger
}

func (c *ConnectionManager) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// Config returns the effective configuration.
func (c *ConnectionManager) Config() Config { return c.cfg }

// Settings returns the protocol settings.
func (c *ConnectionManager) Settings() Settings { return c.cfg.Settings }

// LocalSegmentID returns the segment PCHK is attached to (0 until scanned).
func (c *ConnectionManager) LocalSegmentID() int { return int(c.localSegID.Load()) }

// AuthenticationCompleted is set once PCHK accepted the login.
func (c *ConnectionManager) AuthenticationCompleted() *Event { return &c.authOK }

// LicenseChecked is set once PCHK confirmed a free license.
func (c *ConnectionManager) LicenseChecked() *Event { return &c.licenseOK }

// SegmentScanCompleted is set once the local segment ID is known.
func (c *ConnectionManager) SegmentScanCompleted() *Event { return &c.segmentScanned }

// IsReady reports whether the handshake completed and the socket is open.
func (c *ConnectionManager) IsReady() bool {
	c.connMu.RLock()
	connected := c.connected
	c.connMu.RUnlock()

	return connected && c.authOK.IsSet() && c.licenseOK.IsSet() && c.segmentScanned.IsSet()
}

// IsBusConnected reports whether PCHK last said it is connected to the bus.
func (c *ConnectionManager) IsBusConnected() bool { return c.busConnected.Load() }

// Stats returns operational statistics.
func (c *ConnectionManager) Stats() Stats {
	c.connMu.RLock()
	connected := c.connected
	c.connMu.RUnlock()

	return Stats{
		CommandsTx:   c.commandsTx.Load(),
		InputsRx:     c.inputsRx.Load(),
		Connected:    connected,
		BusConnected: c.busConnected.Load(),
	}
}

// Connect dials PCHK, logs in, checks the license and scans for the local
// segment. Any failure closes the manager.
func (c *ConnectionManager) Connect(ctx context.Context) error {
	if err := c.cfg.Validate(); err != nil {
		return err
	}
	if c.closed.Load() {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	address := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, address, err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connected = true
	c.connMu.Unlock()

	c.wg.Add(1)
	go c.receiveLoop(conn)

	if err := c.awaitHandshake(ctx); err != nil {
		c.Close(context.Background()) //nolint:errcheck // Best effort cleanup on error path
		return err
	}
	if err := c.scanSegment(ctx); err != nil {
		c.Close(context.Background()) //nolint:errcheck // Best effort cleanup on error path
		return err
	}

	if c.cfg.Settings.PingInterval > 0 {
		c.wg.Add(1)
		go c.pingLoop(c.cfg.Settings.PingInterval)
	}

	c.getLogger().Info("connected to PCHK",
		"name", c.cfg.Name,
		"address", address,
		"local_segment", c.LocalSegmentID(),
	)
	return nil
}

// awaitHandshake waits for the login and the license check.
func (c *ConnectionManager) awaitHandshake(ctx context.Context) error {
	stages := []struct {
		name  string
		event *Event
	}{
		{"authentication", &c.authOK},
		{"license check", &c.licenseOK},
	}

	for _, stage := range stages {
		select {
		case <-stage.event.Done():
		case err := <-c.failed:
			return err
		case <-ctx.Done():
			return fmt.Errorf("%w: waiting for %s", ErrTimeout, stage.name)
		}
	}
	return nil
}

// scanSegment asks segment couplers for the local segment ID. Without an
// answer the bus has no couplers and the local segment is 0.
func (c *ConnectionManager) scanSegment(ctx context.Context) error {
	for range c.cfg.Settings.SKNumTries {
		if _, err := c.SendCommand(ctx, SegmentCouplerScan()); err != nil {
			return err
		}

		timer := time.NewTimer(c.cfg.Settings.DefaultTimeout)
		select {
		case <-c.segmentScanned.Done():
			timer.Stop()
			return nil
		case err := <-c.failed:
			timer.Stop()
			return err
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: waiting for segment scan", ErrTimeout)
		case <-timer.C:
		}
	}

	if c.cfg.Settings.SKNumTries > 0 {
		c.getLogger().Debug("no segment coupler answered, using segment 0", "name", c.cfg.Name)
	}
	c.localSegID.Store(0)
	c.segmentScanned.Set()
	return nil
}

// Close shuts down the connection and all child connections.
// Calling Close more than once is harmless.
func (c *ConnectionManager) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.done.Close()
	c.cancel()

	c.connMu.Lock()
	conn := c.conn
	c.connected = false
	c.connMu.Unlock()

	if conn != nil {
		conn.Close() //nolint:errcheck // Closing to unblock the receive loop
	}

	c.childMu.Lock()
	children := make([]AddressConn, 0, len(c.children))
	for _, child := range c.children {
		children = append(children, child)
	}
	c.childMu.Unlock()
	for _, child := range children {
		child.Close()
	}

	waited := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(waited)
	}()

	select {
	case <-waited:
	case <-ctx.Done():
		return fmt.Errorf("waiting for PCHK goroutines: %w", ctx.Err())
	}

	c.getLogger().Debug("PCHK connection closed", "name", c.cfg.Name)
	return nil
}

// SendCommand writes one PCK line (with address header) to PCHK.
func (c *ConnectionManager) SendCommand(ctx context.Context, pck string) (bool, error) {
	c.connMu.RLock()
	conn, connected := c.conn, c.connected
	c.connMu.RUnlock()

	if !connected || conn == nil {
		return false, ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(DefaultWriteTimeout)); err != nil {
		return false, fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := io.WriteString(conn, pck+"\n"); err != nil {
		return false, fmt.Errorf("%w: write: %w", ErrNotConnected, err)
	}

	c.commandsTx.Add(1)
	return true, nil
}

// send writes a control line from the receive goroutine.
func (c *ConnectionManager) send(pck string) {
	if _, err := c.SendCommand(c.lifetime, pck); err != nil {
		c.getLogger().Warn("PCHK write failed", "name", c.cfg.Name, "error", err)
	}
}

// AddressConn returns the connection for addr, creating it on first use.
// Segment 0 is resolved to the local segment.
func (c *ConnectionManager) AddressConn(addr Address, requestSerials bool) (AddressConn, error) {
	if err := addr.Validate(); err != nil {
		return nil, err
	}
	addr = addr.Logical(c.LocalSegmentID())

	c.childMu.Lock()
	child, exists := c.children[addr]
	if !exists {
		if addr.IsGroup {
			child = c.factory.NewGroupConnection(c, addr)
		} else {
			child = c.factory.NewModuleConnection(c, addr)
		}
		c.children[addr] = child
	}
	c.childMu.Unlock()

	if module, ok := child.(ModuleConn); ok && !exists && requestSerials && !c.closed.Load() {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if _, err := module.RequestSerials(c.lifetime); err != nil && c.lifetime.Err() == nil {
				c.getLogger().Debug("serial request failed", "address", addr.String(), "error", err)
			}
		}()
	}

	return child, nil
}

// RegisterForInputs calls callback for every input received from PCHK.
func (c *ConnectionManager) RegisterForInputs(callback func(Input)) func() {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	id := c.nextSub
	c.nextSub++
	c.subs[id] = callback

	return func() {
		c.subsMu.Lock()
		defer c.subsMu.Unlock()
		delete(c.subs, id)
	}
}

// SetOnDisconnect sets a callback invoked when the connection drops
// unexpectedly.
func (c *ConnectionManager) SetOnDisconnect(callback func(err error)) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	c.onDisconnect = callback
}

// receiveLoop reads lines until the socket closes.
func (c *ConnectionManager) receiveLoop(conn net.Conn) {
	defer c.wg.Done()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		c.inputsRx.Add(1)
		c.handleLine(line)
	}

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()
	c.busConnected.Store(false)

	if c.closed.Load() {
		return
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	lost := fmt.Errorf("%w: connection lost: %w", ErrConnectionFailed, err)
	c.fail(lost)
	c.getLogger().Warn("PCHK connection lost", "name", c.cfg.Name, "error", err)

	c.subsMu.RLock()
	onDisconnect := c.onDisconnect
	c.subsMu.RUnlock()
	if onDisconnect != nil {
		onDisconnect(lost)
	}
}

// fail reports a handshake failure without blocking.
func (c *ConnectionManager) fail(err error) {
	select {
	case c.failed <- err:
	default:
	}
}

// handleLine reacts to control messages and routes module inputs.
func (c *ConnectionManager) handleLine(line string) {
	logger := c.getLogger()
	in := ParseInput(line)

	switch v := in.(type) {
	case AuthUsername:
		c.send(c.cfg.Username)
	case AuthPassword:
		c.send(c.cfg.Password)
	case AuthOK:
		logger.Debug("PCHK authentication ok", "name", c.cfg.Name)
		c.authOK.Set()
		c.send(pckSetDecMode)
		c.send(SetOperationMode(c.cfg.Settings.DimMode))
	case AuthFailed:
		c.fail(ErrAuthenticationFailed)
	case LicenseOK:
		c.licenseOK.Set()
	case LicenseError:
		logger.Error("PCHK license error", "name", c.cfg.Name)
		c.fail(ErrLicenseError)
	case BusConnState:
		c.busConnected.Store(v.Connected)
		logger.Info("LCN bus connection changed", "name", c.cfg.Name, "connected", v.Connected)
	case Unknown:
		logger.Debug("unhandled PCHK input", "name", c.cfg.Name, "line", v.Line)
	}

	c.Dispatch(in)
}

// Dispatch processes an input as if PCHK had sent it. The first segment
// coupler reply sets the local segment, module inputs reach the child of
// their source address if one exists and every input callback runs.
func (c *ConnectionManager) Dispatch(in Input) {
	if sk, ok := in.(ModSK); ok && !c.segmentScanned.IsSet() {
		c.localSegID.Store(int32(sk.SegmentID)) //nolint:gosec // Segment IDs are at most 127
		c.segmentScanned.Set()
	}

	if mod, ok := in.(ModInput); ok {
		c.routeToChild(mod)
	}

	c.subsMu.RLock()
	subs := make([]func(Input), 0, len(c.subs))
	for _, cb := range c.subs {
		subs = append(subs, cb)
	}
	c.subsMu.RUnlock()

	for _, cb := range subs {
		cb(in)
	}
}

// Child returns the existing child connection of addr. Unlike AddressConn
// it never creates one.
func (c *ConnectionManager) Child(addr Address) (AddressConn, bool) {
	addr = addr.Logical(c.LocalSegmentID())

	c.childMu.Lock()
	defer c.childMu.Unlock()
	child, ok := c.children[addr]
	return child, ok
}

func (c *ConnectionManager) routeToChild(in ModInput) {
	if child, ok := c.Child(in.Source()); ok {
		child.ProcessInput(in)
	}
}

// pingLoop sends keepalives until the manager closes.
func (c *ConnectionManager) pingLoop(interval time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	counter := 0
	for {
		select {
		case <-c.done.Done():
			return
		case <-ticker.C:
			counter++
			if _, err := c.SendCommand(c.lifetime, Ping(counter)); err != nil && !errors.Is(err, ErrNotConnected) {
				c.getLogger().Warn("PCHK ping failed", "name", c.cfg.Name, "error", err)
			}
		}
	}
}
