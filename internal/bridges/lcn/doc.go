// Package lcn is the hub integration for LCN installations behind a PCHK
// coupler.
//
// Each config entry describes one coupler: its network address and
// credentials, the modules and groups configured behind it, and the
// light and switch entities bound to their outputs and relays.
//
// # Lifecycle
//
// SetupEntry connects to PCHK, registers the coupler and its modules in
// the device registry, builds the entities, activates status polling and
// subscribes to MQTT command topics. Module serials and names are read by
// hub tasks after setup returns. A failed connection is reported as
// hub.ErrEntryNotReady so the hub retries; a dropped connection reloads
// the entry.
//
// # MQTT Topics
//
//	graylogic/command/lcn/{entity}   commands (on, off, dim)
//	graylogic/ack/lcn/{entity}       command acknowledgements
//	graylogic/state/lcn/{entity}     entity state, retained
//	graylogic/health/lcn/{entry}     coupler health, retained
//
// # Site Config Import
//
// SetupComponent accepts the integrations.lcn block of the site config:
//
//	connections:
//	  - name: pchk
//	    host: 192.168.2.41
//	lights:
//	  - name: Ceiling
//	    address: pchk.s0.m7
//	    output: output1
//	    dimmable: true
//
// Package lcntest provides mock connections and fixtures for tests.
package lcn
