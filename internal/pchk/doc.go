// Package pchk is a client for LCN-PCHK, the TCP gateway to the LCN
// building bus.
//
// Only the parts the gateway needs are implemented: the login handshake,
// license check and segment coupler scan, command framing for modules and
// groups, acknowledgements, serial and name requests, output and relay
// status, and keepalive pings.
//
// # Architecture
//
//	┌──────────────────────┐        ┌──────────────────────┐
//	│  ConnectionManager   │──TCP──▶│        PCHK          │
//	│   (connection.go)    │        └──────────────────────┘
//	│                      │
//	│ • handshake          │   AddressConn(addr)
//	│ • receive loop       │──────────────┐
//	│ • input routing      │              ▼
//	└──────────────────────┘   ┌──────────────────────┐
//	                           │ ModuleConnection /   │
//	                           │ GroupConnection      │
//	                           │   (module.go)        │
//	                           └──────────────────────┘
//
// Child connections are built through a ChildFactory passed to
// NewConnectionManager, so tests can substitute mock children without
// touching the manager.
//
// # Usage
//
//	mgr := pchk.NewConnectionManager(pchk.Config{
//	    Host:     "192.168.2.41",
//	    Port:     4114,
//	    Username: "lcn",
//	    Password: "lcn",
//	    Settings: pchk.DefaultSettings(),
//	}, nil)
//	if err := mgr.Connect(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Close(ctx)
//
//	conn, _ := mgr.AddressConn(pchk.ModuleAddress(0, 7), false)
//	_, err := conn.SendCommand(ctx, true, pchk.DimOutput(0, 50, pchk.TimeToRampValue(1000)))
package pchk
