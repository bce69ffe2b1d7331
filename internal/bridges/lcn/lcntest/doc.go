// Package lcntest provides mock PCHK connections, config entry fixtures
// and setup helpers for tests of the LCN integration.
//
// A typical test:
//
//	h := lcntest.NewHub(t)
//	entry := lcntest.EntryPCHK(t)
//	mgr := lcntest.InitIntegration(t, h, entry)
//
//	module := mgr.Module(t, pchk.ModuleAddress(0, 7))
//	module.AssertCalled(t, "ActivateStatusRequestHandler", mock.Anything, pchk.StatusOutput1)
//
//	dev := lcntest.GetDevice(t, h, entry, pchk.ModuleAddress(0, 7))
//
// The mocks never touch the network. MockConnectionManager completes its
// handshake on Connect and builds MockModuleConnection and
// MockGroupConnection children through a pchk.ChildFactory. Every request
// succeeds unless a test replaces the default (FailConnect,
// FailSendCommand, FailRequestName).
package lcntest
