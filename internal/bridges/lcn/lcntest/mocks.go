package lcntest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-lcn/internal/bridges/lcn"
	"github.com/nerrad567/gray-logic-lcn/internal/pchk"
)

// TestModuleName is the name every mock module reports.
const TestModuleName = "TestModule"

// MockModuleConnection is a module connection whose bus requests are
// recorded instead of sent. Everything else (input callbacks, serial and
// name bookkeeping) is the real pchk.ModuleConnection.
//
// Defaults: SendCommand returns true, RequestName returns TestModuleName,
// status requests return nil. Use the embedded mock to assert calls, and
// Unset/On to inject failures.
type MockModuleConnection struct {
	*pchk.ModuleConnection
	mock.Mock
}

// Ensure the mocks satisfy the pchk interfaces.
var (
	_ pchk.ModuleConn = (*MockModuleConnection)(nil)
	_ pchk.GroupConn  = (*MockGroupConnection)(nil)
	_ pchk.Connection = (*MockConnectionManager)(nil)
)

// NewMockModuleConnection creates a mock module at addr. Its serials are
// marked known, so RequestSerials returns at once.
func NewMockModuleConnection(host pchk.Host, addr pchk.Address) *MockModuleConnection {
	m := &MockModuleConnection{ModuleConnection: pchk.NewModuleConnection(host, addr)}

	m.On("SendCommand", mock.Anything, mock.Anything, mock.Anything).Return(true, nil).Maybe()
	m.On("RequestName", mock.Anything).Return(TestModuleName, nil).Maybe()
	m.On("StatusRequest", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("ActivateStatusRequestHandler", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("CancelStatusRequestHandler", mock.Anything, mock.Anything).Return(nil).Maybe()

	m.SerialKnown().Set()
	return m
}

// SendCommand records the command.
func (m *MockModuleConnection) SendCommand(ctx context.Context, wantsAck bool, pck string) (bool, error) {
	args := m.Called(ctx, wantsAck, pck)
	return args.Bool(0), args.Error(1)
}

// RequestName records the request.
func (m *MockModuleConnection) RequestName(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

// StatusRequest records the request.
func (m *MockModuleConnection) StatusRequest(ctx context.Context, item pchk.StatusItem) error {
	return m.Called(ctx, item).Error(0)
}

// ActivateStatusRequestHandler records the activation. Nothing is polled.
func (m *MockModuleConnection) ActivateStatusRequestHandler(ctx context.Context, item pchk.StatusItem) error {
	return m.Called(ctx, item).Error(0)
}

// CancelStatusRequestHandler records the cancellation.
func (m *MockModuleConnection) CancelStatusRequestHandler(ctx context.Context, item pchk.StatusItem) error {
	return m.Called(ctx, item).Error(0)
}

// FailSendCommand replaces the SendCommand default: every later command
// returns ok and err. Call it before setup or after the hub is idle.
func (m *MockModuleConnection) FailSendCommand(ok bool, err error) {
	replace(&m.Mock, "SendCommand", 3).Return(ok, err)
}

// FailRequestName replaces the RequestName default. Call it before setup
// or after the hub is idle.
func (m *MockModuleConnection) FailRequestName(err error) {
	replace(&m.Mock, "RequestName", 1).Return("", err)
}

// CommandsSent returns the PCK commands passed to SendCommand, in order.
func (m *MockModuleConnection) CommandsSent() []string {
	return sentCommands(&m.Mock, 2)
}

// MockGroupConnection is a group connection whose commands are recorded.
// SendCommand returns true by default.
type MockGroupConnection struct {
	*pchk.GroupConnection
	mock.Mock
}

// NewMockGroupConnection creates a mock group at addr.
func NewMockGroupConnection(host pchk.Host, addr pchk.Address) *MockGroupConnection {
	g := &MockGroupConnection{GroupConnection: pchk.NewGroupConnection(host, addr)}
	g.On("SendCommand", mock.Anything, mock.Anything, mock.Anything).Return(true, nil).Maybe()
	return g
}

// SendCommand records the command.
func (g *MockGroupConnection) SendCommand(ctx context.Context, wantsAck bool, pck string) (bool, error) {
	args := g.Called(ctx, wantsAck, pck)
	return args.Bool(0), args.Error(1)
}

// CommandsSent returns the PCK commands passed to SendCommand, in order.
func (g *MockGroupConnection) CommandsSent() []string {
	return sentCommands(&g.Mock, 2)
}

// mockChildFactory builds mock children hosted by the mock manager. The
// host passed in by pchk.ConnectionManager is the embedded real manager,
// so it is replaced to keep raw sends recorded.
type mockChildFactory struct {
	host pchk.Host
}

func (f mockChildFactory) NewModuleConnection(_ pchk.Host, addr pchk.Address) pchk.ModuleConn {
	return NewMockModuleConnection(f.host, addr)
}

func (f mockChildFactory) NewGroupConnection(_ pchk.Host, addr pchk.Address) pchk.GroupConn {
	return NewMockGroupConnection(f.host, addr)
}

// MockConnectionManager is a PCHK connection that never touches the
// network. Connect marks authentication, license check and segment scan
// as done; Close does nothing. AddressConn, RegisterForInputs and input
// routing are the real pchk.ConnectionManager, building
// MockModuleConnection and MockGroupConnection children.
//
// Connect, Close and SendCommand are recorded on the embedded mock.
type MockConnectionManager struct {
	*pchk.ConnectionManager
	mock.Mock

	mu           sync.Mutex
	segment      int
	onDisconnect func(error)
}

// NewMockConnectionManager creates a mock manager for cfg.
func NewMockConnectionManager(cfg pchk.Config) *MockConnectionManager {
	m := &MockConnectionManager{}
	m.ConnectionManager = pchk.NewConnectionManager(cfg, mockChildFactory{host: m})

	m.On("Connect", mock.Anything).Return(nil).Maybe()
	m.On("Close", mock.Anything).Return(nil).Maybe()
	m.On("SendCommand", mock.Anything, mock.Anything).Return(true, nil).Maybe()
	return m
}

// NewMockConnection is an lcn.ConnectionFactory building mock managers.
func NewMockConnection(cfg pchk.Config) pchk.Connection {
	return NewMockConnectionManager(cfg)
}

// NewMockConnectionFactory returns a connection factory that passes every
// new mock manager to configure before it is used, e.g. to make Connect
// fail.
func NewMockConnectionFactory(configure func(*MockConnectionManager)) lcn.ConnectionFactory {
	return func(cfg pchk.Config) pchk.Connection {
		m := NewMockConnectionManager(cfg)
		if configure != nil {
			configure(m)
		}
		return m
	}
}

// SetLocalSegment makes the segment scan of the next Connect answer with
// segment id. Must be called before Connect.
func (m *MockConnectionManager) SetLocalSegment(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.segment = id
}

// Connect completes the handshake immediately. A segment set with
// SetLocalSegment is reported by a segment coupler reply.
func (m *MockConnectionManager) Connect(ctx context.Context) error {
	if err := m.Called(ctx).Error(0); err != nil {
		return err
	}
	m.AuthenticationCompleted().Set()
	m.LicenseChecked().Set()

	m.mu.Lock()
	segment := m.segment
	m.mu.Unlock()

	if segment != 0 {
		m.Dispatch(pchk.ModSK{SegmentID: segment})
	}
	m.SegmentScanCompleted().Set()
	return nil
}

// Close does nothing.
func (m *MockConnectionManager) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// SendCommand records a raw PCK line.
func (m *MockConnectionManager) SendCommand(ctx context.Context, pck string) (bool, error) {
	args := m.Called(ctx, pck)
	return args.Bool(0), args.Error(1)
}

// IsReady reports whether Connect has completed.
func (m *MockConnectionManager) IsReady() bool {
	return m.AuthenticationCompleted().IsSet() &&
		m.LicenseChecked().IsSet() &&
		m.SegmentScanCompleted().IsSet()
}

// FailConnect makes every later Connect return err. Call it from the
// configure function of NewMockConnectionFactory, before Connect runs.
func (m *MockConnectionManager) FailConnect(err error) {
	replace(&m.Mock, "Connect", 1).Return(err)
}

// SetOnDisconnect stores the callback invoked by Disconnect.
func (m *MockConnectionManager) SetOnDisconnect(callback func(err error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnect = callback
}

// Receive delivers an input as if PCHK had sent it. Module inputs only
// reach modules that already have a connection; every registered callback
// runs.
func (m *MockConnectionManager) Receive(in pchk.Input) {
	m.Dispatch(in)
}

// ReceiveLine parses a PCHK line and delivers it with Receive.
func (m *MockConnectionManager) ReceiveLine(line string) {
	m.Receive(pchk.ParseInput(line))
}

// Disconnect simulates a lost connection: the handshake events stay set
// but the disconnect callback runs with err.
func (m *MockConnectionManager) Disconnect(err error) {
	m.mu.Lock()
	cb := m.onDisconnect
	m.mu.Unlock()

	if cb != nil {
		cb(err)
	}
}

// Module returns the mock connection of the module at addr.
func (m *MockConnectionManager) Module(t testing.TB, addr pchk.Address) *MockModuleConnection {
	t.Helper()

	conn, err := m.AddressConn(addr, false)
	require.NoError(t, err)
	module, ok := conn.(*MockModuleConnection)
	require.True(t, ok, "%s is not a mock module connection", addr)
	return module
}

// Group returns the mock connection of the group at addr.
func (m *MockConnectionManager) Group(t testing.TB, addr pchk.Address) *MockGroupConnection {
	t.Helper()

	conn, err := m.AddressConn(addr, false)
	require.NoError(t, err)
	group, ok := conn.(*MockGroupConnection)
	require.True(t, ok, "%s is not a mock group connection", addr)
	return group
}

// replace drops the expectations registered for method and starts a new
// one matching any arguments. It reads ExpectedCalls without the mock's
// lock, so it must not run while the hub may call the mock: use it before
// setup or after hub.Hub.BlockTillDone.
func replace(m *mock.Mock, method string, numArgs int) *mock.Call {
	for _, call := range m.ExpectedCalls {
		if call.Method == method {
			call.Unset()
			break
		}
	}

	args := make([]any, numArgs)
	for i := range args {
		args[i] = mock.Anything
	}
	return m.On(method, args...)
}

// sentCommands returns argument pckArg of every recorded SendCommand.
// Like replace, it reads the mock without its lock.
func sentCommands(m *mock.Mock, pckArg int) []string {
	var out []string
	for _, call := range m.Calls {
		if call.Method != "SendCommand" {
			continue
		}
		if pck, ok := call.Arguments.Get(pckArg).(string); ok {
			out = append(out, pck)
		}
	}
	return out
}
