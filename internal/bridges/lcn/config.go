package lcn

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-lcn/internal/pchk"
)

// EntryData is the decoded data of an LCN config entry: one PCHK coupler,
// the modules and groups behind it and the entities built on them.
type EntryData struct {
	Host        string         `json:"host"`
	IPAddress   string         `json:"ip_address"`
	Port        int            `json:"port"`
	Username    string         `json:"username"`
	Password    string         `json:"password"`
	SKNumTries  int            `json:"sk_num_tries"`
	DimMode     pchk.DimMode   `json:"dim_mode"`
	Acknowledge bool           `json:"acknowledge"`
	Devices     []DeviceConfig `json:"devices"`
	Entities    []EntityConfig `json:"entities"`
}

// DeviceConfig is a configured module or group.
// Serial fields are -1 until read from the module.
type DeviceConfig struct {
	Address        ConfigAddress `json:"address"`
	Name           string        `json:"name"`
	HardwareSerial int64         `json:"hardware_serial"`
	SoftwareSerial int64         `json:"software_serial"`
	HardwareType   int           `json:"hardware_type"`
}

// EntityConfig is a configured entity on a module or group.
type EntityConfig struct {
	Address    ConfigAddress `json:"address"`
	Name       string        `json:"name"`
	Resource   string        `json:"resource"`
	Domain     string        `json:"domain"`
	DomainData DomainData    `json:"domain_data"`
}

// DomainData holds the entity specific settings.
type DomainData struct {
	// Output is the controlled resource, "OUTPUT1".."OUTPUT4" or
	// "RELAY1".."RELAY8".
	Output string `json:"output"`

	// Dimmable enables brightness control of output lights.
	Dimmable bool `json:"dimmable,omitempty"`

	// Transition is the default ramp time in seconds.
	Transition float64 `json:"transition,omitempty"`
}

// DecodeEntryData decodes entry data produced from JSON, YAML or the
// database into EntryData and validates it.
func DecodeEntryData(data map[string]any) (EntryData, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return EntryData{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	ed := EntryData{Port: pchk.DefaultPort, SKNumTries: pchk.DefaultSKNumTries}
	if err := json.Unmarshal(raw, &ed); err != nil {
		return EntryData{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := ed.Validate(); err != nil {
		return EntryData{}, err
	}
	return ed, nil
}

// Validate checks required fields and entity definitions.
func (d EntryData) Validate() error {
	if d.Host == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidConfig, ConfHost)
	}
	if d.IPAddress == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidConfig, ConfIPAddress)
	}
	switch d.DimMode {
	case "", pchk.DimSteps50, pchk.DimSteps200:
	default:
		return fmt.Errorf("%w: unknown %s %q", ErrInvalidConfig, ConfDimMode, d.DimMode)
	}

	for _, e := range d.Entities {
		switch e.Domain {
		case EntityLight, EntitySwitch:
		default:
			return fmt.Errorf("%w: entity %q has unsupported domain %q", ErrInvalidConfig, e.Name, e.Domain)
		}
		if _, err := ParseResource(e.DomainData.Output); err != nil {
			return fmt.Errorf("%w: entity %q: %w", ErrInvalidConfig, e.Name, err)
		}
	}
	return nil
}

// Map encodes the data back into the generic form stored on config
// entries.
func (d EntryData) Map() (map[string]any, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encoding entry data: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("encoding entry data: %w", err)
	}
	return out, nil
}

// PCHKConfig returns the connection configuration for the coupler.
func (d EntryData) PCHKConfig(connectTimeout time.Duration) pchk.Config {
	settings := pchk.DefaultSettings()
	settings.SKNumTries = d.SKNumTries
	if d.DimMode != "" {
		settings.DimMode = d.DimMode
	}

	return pchk.Config{
		Name:           d.Host,
		Host:           d.IPAddress,
		Port:           d.Port,
		Username:       d.Username,
		Password:       d.Password,
		Settings:       settings,
		ConnectTimeout: connectTimeout,
	}
}

// device returns the configured device at addr, if any.
func (d EntryData) device(addr pchk.Address) (DeviceConfig, bool) {
	for _, dev := range d.Devices {
		if dev.Address.Address() == addr {
			return dev, true
		}
	}
	return DeviceConfig{}, false
}
