package device

import (
	"slices"
	"time"
)

// Identifier is an integration-owned key for a device.
// Domain names the owning integration ("lcn"); ID is unique within it.
type Identifier struct {
	Domain string `json:"domain"`
	ID     string `json:"id"`
}

// String returns "domain:id".
func (i Identifier) String() string {
	return i.Domain + ":" + i.ID
}

// Device represents a physical or logical device known to the hub.
// This matches the devices table in migrations/20260301_130000_devices.up.sql.
type Device struct {
	// Identity
	ID          string       `json:"id"`
	Identifiers []Identifier `json:"identifiers"`

	// Ownership: the config entries that registered this device
	ConfigEntryIDs []string `json:"config_entry_ids"`

	// Naming. NameByUser overrides Name when set.
	Name       string `json:"name"`
	NameByUser string `json:"name_by_user,omitempty"`

	// Metadata
	Manufacturer string `json:"manufacturer,omitempty"`
	Model        string `json:"model,omitempty"`
	SWVersion    string `json:"sw_version,omitempty"`
	HWVersion    string `json:"hw_version,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`

	// ViaDeviceID references the gateway device this one is reached through.
	ViaDeviceID string `json:"via_device_id,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DisplayName returns the user-assigned name if set, else the integration name.
func (d *Device) DisplayName() string {
	if d.NameByUser != "" {
		return d.NameByUser
	}
	return d.Name
}

// HasIdentifier reports whether the device carries the given identifier.
func (d *Device) HasIdentifier(id Identifier) bool {
	return slices.Contains(d.Identifiers, id)
}

// HasConfigEntry reports whether the device belongs to the given entry.
func (d *Device) HasConfigEntry(entryID string) bool {
	return slices.Contains(d.ConfigEntryIDs, entryID)
}

// DeepCopy creates an independent copy of the Device.
// Slices are cloned so modifications to the copy do not affect the original.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d
	cpy.Identifiers = slices.Clone(d.Identifiers)
	cpy.ConfigEntryIDs = slices.Clone(d.ConfigEntryIDs)
	return &cpy
}

// DeviceInfo describes a device as an integration sees it.
// It is the input to Registry.GetOrCreate.
type DeviceInfo struct {
	Identifiers  []Identifier
	Name         string
	Manufacturer string
	Model        string
	SWVersion    string
	HWVersion    string
	SerialNumber string

	// ViaDevice identifies the gateway device, if any.
	ViaDevice *Identifier
}

// Update describes a partial change to a device; nil fields are left as is.
type Update struct {
	Name         *string
	NameByUser   *string
	Manufacturer *string
	Model        *string
	SWVersion    *string
	HWVersion    *string
	SerialNumber *string
}

// apply copies the set fields of u onto d and reports whether anything changed.
func (u Update) apply(d *Device) bool {
	changed := false
	set := func(dst *string, src *string) {
		if src != nil && *dst != *src {
			*dst = *src
			changed = true
		}
	}
	set(&d.Name, u.Name)
	set(&d.NameByUser, u.NameByUser)
	set(&d.Manufacturer, u.Manufacturer)
	set(&d.Model, u.Model)
	set(&d.SWVersion, u.SWVersion)
	set(&d.HWVersion, u.HWVersion)
	set(&d.SerialNumber, u.SerialNumber)
	return changed
}

// String returns a pointer to s, for building an Update.
func String(s string) *string {
	return &s
}
