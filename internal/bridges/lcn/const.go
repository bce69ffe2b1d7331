package lcn

import "time"

// Domain is the integration domain used for config entries and device
// identifiers.
const Domain = "lcn"

// Manufacturer is reported for every LCN device.
const Manufacturer = "Issendorff"

// Config entry data keys.
const (
	ConfHost           = "host"
	ConfIPAddress      = "ip_address"
	ConfPort           = "port"
	ConfUsername       = "username"
	ConfPassword       = "password"
	ConfSKNumTries     = "sk_num_tries"
	ConfDimMode        = "dim_mode"
	ConfAcknowledge    = "acknowledge"
	ConfDevices        = "devices"
	ConfEntities       = "entities"
	ConfAddress        = "address"
	ConfName           = "name"
	ConfResource       = "resource"
	ConfDomain         = "domain"
	ConfDomainData     = "domain_data"
	ConfOutput         = "output"
	ConfDimmable       = "dimmable"
	ConfTransition     = "transition"
	ConfHardwareSerial = "hardware_serial"
	ConfSoftwareSerial = "software_serial"
	ConfHardwareType   = "hardware_type"
)

// Component import keys (integrations.lcn in the site config).
const (
	ConfConnections = "connections"
	ConfLights      = "lights"
	ConfSwitches    = "switches"
)

// Entity domains.
const (
	EntityLight  = "light"
	EntitySwitch = "switch"
)

// Defaults for entry data fields.
const (
	defaultUsername = "lcn"
	defaultPassword = "lcn"

	// unknownSerial marks serial fields not read from the module yet.
	unknownSerial = -1

	// commandTimeout bounds one MQTT command.
	commandTimeout = 5 * time.Second

	// defaultDeviceTaskTimeout bounds the background serial/name requests
	// issued for a module during setup.
	defaultDeviceTaskTimeout = 30 * time.Second
)
