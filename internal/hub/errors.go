package hub

import "errors"

// Domain errors for the hub package.
var (
	// ErrEntryNotFound is returned when a config entry ID is unknown.
	ErrEntryNotFound = errors.New("hub: config entry not found")

	// ErrEntryExists is returned when adding an entry whose (domain, unique ID)
	// pair is already registered.
	ErrEntryExists = errors.New("hub: config entry already exists")

	// ErrInvalidEntry is returned when an entry fails validation.
	ErrInvalidEntry = errors.New("hub: invalid config entry")

	// ErrIntegrationNotFound is returned when no integration is registered
	// for an entry's domain.
	ErrIntegrationNotFound = errors.New("hub: integration not found")

	// ErrIntegrationExists is returned when registering a domain twice.
	ErrIntegrationExists = errors.New("hub: integration already registered")

	// ErrNoComponentSetup is returned when an integration does not support
	// component (YAML) setup.
	ErrNoComponentSetup = errors.New("hub: integration has no component setup")

	// ErrEntryAlreadyLoaded is returned when setting up a loaded entry.
	ErrEntryAlreadyLoaded = errors.New("hub: config entry already loaded")

	// ErrEntryNotReady is wrapped by integrations when setup failed for a
	// transient reason (device offline). The entry moves to setup_retry.
	ErrEntryNotReady = errors.New("hub: config entry not ready")

	// ErrStopped is returned when scheduling work on a stopped hub.
	ErrStopped = errors.New("hub: stopped")
)
