package pchk

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePCHK is a minimal PCHK server: it runs the login, answers the dec
// mode request and segment scan, and replies to configured commands.
type fakePCHK struct {
	ln net.Listener

	username  string
	password  string
	licenseOK bool
	segment   int                 // answers the segment scan when > 0
	replies   map[string][]string // command -> reply lines

	mu      sync.Mutex
	conn    net.Conn
	writeMu sync.Mutex

	received chan string
	wg       sync.WaitGroup
}

func startFakePCHK(t *testing.T, configure ...func(*fakePCHK)) *fakePCHK {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	f := &fakePCHK{
		ln:        ln,
		username:  "lcn",
		password:  "lcn",
		licenseOK: true,
		replies:   make(map[string][]string),
		received:  make(chan string, 256),
	}
	for _, c := range configure {
		c(f)
	}

	f.wg.Add(1)
	go f.serve()
	t.Cleanup(f.stop)
	return f
}

func (f *fakePCHK) port() int {
	return f.ln.Addr().(*net.TCPAddr).Port //nolint:forcetypeassert // Listener is TCP
}

func (f *fakePCHK) write(lines ...string) {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		return
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	for _, l := range lines {
		io.WriteString(conn, l+"\n") //nolint:errcheck // Client may have gone away
	}
}

func (f *fakePCHK) serve() {
	defer f.wg.Done()

	conn, err := f.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	scanner := bufio.NewScanner(conn)
	f.write("LCN-PCK/IP 1.0", "Username:")
	if !scanner.Scan() {
		return
	}
	user := scanner.Text()
	f.write("Password:")
	if !scanner.Scan() {
		return
	}
	pass := scanner.Text()

	if user != f.username || pass != f.password {
		f.write("Authentification failed.")
		return
	}
	f.write("OK")

	for scanner.Scan() {
		line := scanner.Text()
		select {
		case f.received <- line:
		default:
		}

		switch {
		case line == pckSetDecMode && f.licenseOK:
			f.write("(dec-mode)", "$io:#LCN:connected")
		case line == pckSetDecMode:
			f.write("$err:(license?)")
		case line == SegmentCouplerScan() && f.segment > 0:
			f.write(fmt.Sprintf("=M000%03d.SK%d", f.segment, f.segment))
		default:
			f.write(f.replies[line]...)
		}
	}
}

// closeClient drops the client connection, simulating a PCHK restart.
func (f *fakePCHK) closeClient() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		f.conn.Close()
	}
}

func (f *fakePCHK) stop() {
	f.ln.Close()
	f.closeClient()
	f.wg.Wait()
}

// expect waits until the server received line.
func (f *fakePCHK) expect(t *testing.T, line string) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case got := <-f.received:
			if got == line {
				return
			}
		case <-timeout:
			t.Fatalf("server did not receive %q", line)
		}
	}
}

func testConfig(f *fakePCHK) Config {
	return Config{
		Name:     "pchk",
		Host:     "127.0.0.1",
		Port:     f.port(),
		Username: "lcn",
		Password: "lcn",
		Settings: Settings{
			SKNumTries:         0,
			DimMode:            DimSteps200,
			NumTries:           2,
			AcknowledgeTimeout: 200 * time.Millisecond,
			DefaultTimeout:     200 * time.Millisecond,
		},
		ConnectTimeout: 2 * time.Second,
	}
}

func connectTest(t *testing.T, f *fakePCHK, mutate ...func(*Config)) *ConnectionManager {
	t.Helper()
	cfg := testConfig(f)
	for _, m := range mutate {
		m(&cfg)
	}

	mgr := NewConnectionManager(cfg, nil)
	require.NoError(t, mgr.Connect(context.Background()))
	t.Cleanup(func() { mgr.Close(context.Background()) }) //nolint:errcheck // Test cleanup
	return mgr
}

func TestConnect(t *testing.T) {
	f := startFakePCHK(t)
	mgr := connectTest(t, f)

	assert.True(t, mgr.AuthenticationCompleted().IsSet())
	assert.True(t, mgr.LicenseChecked().IsSet())
	assert.True(t, mgr.SegmentScanCompleted().IsSet())
	assert.True(t, mgr.IsReady())
	assert.Equal(t, 0, mgr.LocalSegmentID())

	f.expect(t, "!CHD")
	f.expect(t, "!OM1P")

	require.Eventually(t, mgr.IsBusConnected, time.Second, 10*time.Millisecond)
}

func TestConnect_AuthenticationFailed(t *testing.T) {
	f := startFakePCHK(t, func(f *fakePCHK) { f.password = "other" })

	mgr := NewConnectionManager(testConfig(f), nil)
	err := mgr.Connect(context.Background())

	assert.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.False(t, mgr.IsReady())
}

func TestConnect_LicenseError(t *testing.T) {
	f := startFakePCHK(t, func(f *fakePCHK) { f.licenseOK = false })

	mgr := NewConnectionManager(testConfig(f), nil)
	err := mgr.Connect(context.Background())

	assert.ErrorIs(t, err, ErrLicenseError)
	assert.True(t, mgr.AuthenticationCompleted().IsSet())
	assert.False(t, mgr.LicenseChecked().IsSet())
}

func TestConnect_Refused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port //nolint:forcetypeassert // Listener is TCP
	ln.Close()

	mgr := NewConnectionManager(Config{Host: "127.0.0.1", Port: port}, nil)
	assert.ErrorIs(t, mgr.Connect(context.Background()), ErrConnectionFailed)
}

func TestConnect_InvalidConfig(t *testing.T) {
	mgr := NewConnectionManager(Config{}, nil)
	assert.ErrorIs(t, mgr.Connect(context.Background()), ErrConnectionFailed)
}

func TestConnect_SegmentScan(t *testing.T) {
	f := startFakePCHK(t, func(f *fakePCHK) {
		f.segment = 5
		f.replies[">M000007.SN"] = []string{"=M000007.SN1AB20A123401FW190B11HW015"}
	})
	mgr := connectTest(t, f, func(c *Config) { c.Settings.SKNumTries = 3 })

	assert.Equal(t, 5, mgr.LocalSegmentID())

	// The local segment is addressed as 0 on the wire.
	conn, err := mgr.AddressConn(ModuleAddress(0, 7), false)
	require.NoError(t, err)
	assert.Equal(t, ModuleAddress(5, 7), conn.Address())

	module := conn.(ModuleConn) //nolint:forcetypeassert // Module address
	serials, err := module.RequestSerials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1AB20A1234", serials.SerialNumber())
}

func TestConnect_SegmentScanWithoutCoupler(t *testing.T) {
	f := startFakePCHK(t)
	mgr := connectTest(t, f, func(c *Config) {
		c.Settings.SKNumTries = 1
		c.Settings.DefaultTimeout = 50 * time.Millisecond
	})

	f.expect(t, ">G003003.SK")
	assert.Equal(t, 0, mgr.LocalSegmentID())
	assert.True(t, mgr.SegmentScanCompleted().IsSet())
}

func TestSendCommand_NotConnected(t *testing.T) {
	mgr := NewConnectionManager(Config{Host: "127.0.0.1"}, nil)

	ok, err := mgr.SendCommand(context.Background(), ">M000007.SN")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestAddressConn(t *testing.T) {
	f := startFakePCHK(t)
	mgr := connectTest(t, f)

	first, err := mgr.AddressConn(ModuleAddress(0, 7), false)
	require.NoError(t, err)
	again, err := mgr.AddressConn(ModuleAddress(0, 7), false)
	require.NoError(t, err)
	assert.Same(t, first, again)

	group, err := mgr.AddressConn(GroupAddress(0, 5), false)
	require.NoError(t, err)
	assert.True(t, group.IsGroup())
	_, isModule := group.(ModuleConn)
	assert.False(t, isModule)

	_, err = mgr.AddressConn(ModuleAddress(0, 300), false)
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestAddressConn_RequestSerials(t *testing.T) {
	f := startFakePCHK(t, func(f *fakePCHK) {
		f.replies[">M000007.SN"] = []string{"=M000007.SN1AB20A123401FW190B11HW015"}
	})
	mgr := connectTest(t, f)

	conn, err := mgr.AddressConn(ModuleAddress(0, 7), true)
	require.NoError(t, err)

	module := conn.(ModuleConn) //nolint:forcetypeassert // Module address
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, module.SerialKnown().Wait(ctx))
}

func TestModuleConnection_SendCommand(t *testing.T) {
	f := startFakePCHK(t, func(f *fakePCHK) {
		f.replies[">M000007!A1DI050000"] = []string{"-M000007!"}
		f.replies[">M000007!R81-------"] = []string{"-M000007005"}
	})
	mgr := connectTest(t, f)
	ctx := context.Background()

	conn, err := mgr.AddressConn(ModuleAddress(0, 7), false)
	require.NoError(t, err)

	ok, err := conn.SendCommand(ctx, false, DimOutput(0, 50, 0))
	require.NoError(t, err)
	assert.True(t, ok)
	f.expect(t, ">M000007.A1DI050000")

	ok, err = conn.SendCommand(ctx, true, DimOutput(0, 50, 0))
	require.NoError(t, err)
	assert.True(t, ok, "positive acknowledgement")

	ok, err = conn.SendCommand(ctx, true, ControlRelay(0, true))
	require.NoError(t, err)
	assert.False(t, ok, "negative acknowledgement")

	ok, err = conn.SendCommand(ctx, true, "SMR")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestModuleConnection_RequestName(t *testing.T) {
	f := startFakePCHK(t, func(f *fakePCHK) {
		f.replies[">M000007.NMN1"] = []string{"=M000007.N1Kitchen Ceiling "}
		f.replies[">M000007.NMN2"] = []string{"=M000007.N2                "}
	})
	mgr := connectTest(t, f)

	conn, err := mgr.AddressConn(ModuleAddress(0, 7), false)
	require.NoError(t, err)

	name, err := conn.(ModuleConn).RequestName(context.Background()) //nolint:forcetypeassert // Module address
	require.NoError(t, err)
	assert.Equal(t, "Kitchen Ceiling", name)
}

func TestModuleConnection_RequestName_Timeout(t *testing.T) {
	f := startFakePCHK(t)
	mgr := connectTest(t, f)

	conn, err := mgr.AddressConn(ModuleAddress(0, 7), false)
	require.NoError(t, err)

	_, err = conn.(ModuleConn).RequestName(context.Background()) //nolint:forcetypeassert // Module address
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestModuleConnection_StatusHandlers(t *testing.T) {
	f := startFakePCHK(t)
	mgr := connectTest(t, f, func(c *Config) { c.Settings.StatusInterval = 20 * time.Millisecond })
	ctx := context.Background()

	conn, err := mgr.AddressConn(ModuleAddress(0, 7), false)
	require.NoError(t, err)
	module := conn.(ModuleConn) //nolint:forcetypeassert // Module address

	require.NoError(t, module.StatusRequest(ctx, StatusRelays))
	f.expect(t, ">M000007.SMR")

	require.NoError(t, module.ActivateStatusRequestHandler(ctx, OutputStatusItem(0)))
	f.expect(t, ">M000007.SMA1")
	f.expect(t, ">M000007.SMA1")

	require.NoError(t, module.CancelStatusRequestHandler(ctx, OutputStatusItem(0)))
	assert.Error(t, module.ActivateStatusRequestHandler(ctx, StatusItem("bogus")))
}

func TestRegisterForInputs(t *testing.T) {
	f := startFakePCHK(t)
	mgr := connectTest(t, f)

	conn, err := mgr.AddressConn(ModuleAddress(0, 7), false)
	require.NoError(t, err)
	module := conn.(ModuleConn) //nolint:forcetypeassert // Module address

	all := make(chan Input, 16)
	unregisterAll := mgr.RegisterForInputs(func(in Input) { all <- in })
	defer unregisterAll()

	fromModule := make(chan ModInput, 16)
	unregister := module.RegisterForInputs(func(in ModInput) { fromModule <- in })

	f.write(":M000007A1050")

	want := ModOutputPercent{modBase: modBase{ModuleAddress(0, 7)}, Output: 0, Percent: 50}
	select {
	case in := <-fromModule:
		assert.Equal(t, want, in)
	case <-time.After(2 * time.Second):
		t.Fatal("module callback not called")
	}

	require.Eventually(t, func() bool {
		for {
			select {
			case in := <-all:
				if in == Input(want) {
					return true
				}
			default:
				return false
			}
		}
	}, 2*time.Second, 10*time.Millisecond)

	unregister()
	f.write(":M000007A1000")
	select {
	case in := <-fromModule:
		t.Fatalf("unexpected input after unregister: %v", in)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDispatch(t *testing.T) {
	mgr := NewConnectionManager(Config{Host: "127.0.0.1"}, nil)

	mgr.Dispatch(ModSK{SegmentID: 5})
	assert.Equal(t, 5, mgr.LocalSegmentID())
	assert.True(t, mgr.SegmentScanCompleted().IsSet())

	mgr.Dispatch(ModSK{SegmentID: 9})
	assert.Equal(t, 5, mgr.LocalSegmentID(), "only the first segment coupler reply counts")

	conn, err := mgr.AddressConn(ModuleAddress(0, 7), false)
	require.NoError(t, err)
	assert.Equal(t, ModuleAddress(5, 7), conn.Address())

	fromModule := make(chan ModInput, 4)
	unregister := conn.(ModuleConn).RegisterForInputs(func(in ModInput) { fromModule <- in }) //nolint:forcetypeassert // Module address
	defer unregister()

	all := make(chan Input, 4)
	defer mgr.RegisterForInputs(func(in Input) { all <- in })()

	mgr.Dispatch(ParseInput(":M000007A1050"))
	require.Len(t, fromModule, 1)
	require.Len(t, all, 1)

	mgr.Dispatch(ParseInput(":M000009A1050"))
	assert.Len(t, all, 2, "callbacks see inputs of unknown modules")
	_, ok := mgr.Child(ModuleAddress(0, 9))
	assert.False(t, ok, "inputs never create module connections")

	child, ok := mgr.Child(ModuleAddress(0, 7))
	require.True(t, ok)
	assert.Same(t, conn, child)
}

func TestConnectionLost(t *testing.T) {
	f := startFakePCHK(t)
	mgr := connectTest(t, f)

	lost := make(chan error, 1)
	mgr.SetOnDisconnect(func(err error) { lost <- err })

	f.closeClient()

	select {
	case err := <-lost:
		assert.ErrorIs(t, err, ErrConnectionFailed)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect callback not called")
	}
	assert.False(t, mgr.IsReady())

	_, err := mgr.SendCommand(context.Background(), ">M000007.SN")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestClose_Idempotent(t *testing.T) {
	f := startFakePCHK(t)
	mgr := connectTest(t, f)

	require.NoError(t, mgr.Close(context.Background()))
	require.NoError(t, mgr.Close(context.Background()))
	assert.ErrorIs(t, mgr.Connect(context.Background()), ErrNotConnected)
}

func TestGroupConnection_SendCommand(t *testing.T) {
	f := startFakePCHK(t)
	mgr := connectTest(t, f)

	conn, err := mgr.AddressConn(GroupAddress(0, 5), false)
	require.NoError(t, err)

	ok, err := conn.SendCommand(context.Background(), true, ControlRelay(1, false))
	require.NoError(t, err)
	assert.True(t, ok)
	f.expect(t, ">G000005.R8-0------")
}

func TestPing(t *testing.T) {
	f := startFakePCHK(t)
	connectTest(t, f, func(c *Config) { c.Settings.PingInterval = 20 * time.Millisecond })

	f.expect(t, "^ping1")
}

func TestEvent(t *testing.T) {
	var ev Event
	assert.False(t, ev.IsSet())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, ev.Wait(ctx), context.DeadlineExceeded)

	ev.Set()
	ev.Set()
	assert.True(t, ev.IsSet())
	assert.NoError(t, ev.Wait(context.Background()))
}
