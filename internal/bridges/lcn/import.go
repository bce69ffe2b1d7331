package lcn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nerrad567/gray-logic-lcn/internal/hub"
	"github.com/nerrad567/gray-logic-lcn/internal/pchk"
)

// importConfig is the integrations.lcn block of the site config.
type importConfig struct {
	Connections []importConnection `json:"connections"`
	Lights      []importEntity     `json:"lights"`
	Switches    []importEntity     `json:"switches"`
}

type importConnection struct {
	Name        string `json:"name"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	SKNumTries  *int   `json:"sk_num_tries"`
	DimMode     string `json:"dim_mode"`
	Acknowledge bool   `json:"acknowledge"`
}

type importEntity struct {
	Name       string  `json:"name"`
	Address    string  `json:"address"`
	Output     string  `json:"output"`
	Dimmable   bool    `json:"dimmable"`
	Transition float64 `json:"transition"`
}

// SetupComponent imports the site config block: every connection becomes
// (or updates) a config entry with source "import", and the lights and
// switches are attached to the connection named in their address prefix,
// or to the first connection. Imported entries are set up right away; a
// coupler that is not reachable yet is left to the hub's retry.
func (i *Integration) SetupComponent(ctx context.Context, h *hub.Hub, config map[string]any) error {
	cfg, err := decodeImportConfig(config)
	if err != nil {
		return err
	}

	entries, err := cfg.entryData()
	if err != nil {
		return err
	}

	for _, data := range entries {
		if err := i.importEntry(ctx, h, data); err != nil {
			return err
		}
	}
	return nil
}

func decodeImportConfig(config map[string]any) (importConfig, error) {
	raw, err := json.Marshal(config)
	if err != nil {
		return importConfig{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	var cfg importConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return importConfig{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if len(cfg.Connections) == 0 {
		return importConfig{}, fmt.Errorf("%w: at least one connection is required", ErrInvalidConfig)
	}
	return cfg, nil
}

// entryData converts the import into one EntryData per connection, in
// connection order.
func (c importConfig) entryData() ([]EntryData, error) {
	out := make([]EntryData, 0, len(c.Connections))
	byName := make(map[string]int, len(c.Connections))

	for idx, conn := range c.Connections {
		name := strings.ToLower(strings.TrimSpace(conn.Name))
		if name == "" {
			return nil, fmt.Errorf("%w: connection %d has no name", ErrInvalidConfig, idx+1)
		}
		if _, dup := byName[name]; dup {
			return nil, fmt.Errorf("%w: duplicate connection %q", ErrInvalidConfig, conn.Name)
		}
		byName[name] = idx

		data := EntryData{
			Host:        conn.Name,
			IPAddress:   conn.Host,
			Port:        conn.Port,
			Username:    conn.Username,
			Password:    conn.Password,
			SKNumTries:  pchk.DefaultSKNumTries,
			DimMode:     pchk.DimMode(strings.ToUpper(conn.DimMode)),
			Acknowledge: conn.Acknowledge,
			Devices:     []DeviceConfig{},
			Entities:    []EntityConfig{},
		}
		if data.Port == 0 {
			data.Port = pchk.DefaultPort
		}
		if data.Username == "" {
			data.Username = defaultUsername
		}
		if data.Password == "" {
			data.Password = defaultPassword
		}
		if conn.SKNumTries != nil {
			data.SKNumTries = *conn.SKNumTries
		}
		if data.DimMode == "" {
			data.DimMode = pchk.DimSteps200
		}
		out = append(out, data)
	}

	add := func(domain string, ie importEntity) error {
		connName, addr, err := ParseTargetAddress(ie.Address)
		if err != nil {
			return fmt.Errorf("%s %q: %w", domain, ie.Name, err)
		}
		idx := 0
		if connName != "" {
			var ok bool
			if idx, ok = byName[connName]; !ok {
				return fmt.Errorf("%w: %s %q refers to unknown connection %q", ErrInvalidConfig, domain, ie.Name, connName)
			}
		}
		resource, err := ParseResource(ie.Output)
		if err != nil {
			return fmt.Errorf("%w: %s %q: %w", ErrInvalidConfig, domain, ie.Name, err)
		}

		data := &out[idx]
		if _, known := data.device(addr); !known {
			data.Devices = append(data.Devices, DeviceConfig{
				Address:        ConfigAddress(addr),
				HardwareSerial: unknownSerial,
				SoftwareSerial: unknownSerial,
				HardwareType:   unknownSerial,
			})
		}
		data.Entities = append(data.Entities, EntityConfig{
			Address:  ConfigAddress(addr),
			Name:     ie.Name,
			Resource: strings.ToLower(resource.String()),
			Domain:   domain,
			DomainData: DomainData{
				Output:     resource.String(),
				Dimmable:   domain == EntityLight && ie.Dimmable,
				Transition: ie.Transition,
			},
		})
		return nil
	}

	for _, l := range c.Lights {
		if err := add(EntityLight, l); err != nil {
			return nil, err
		}
	}
	for _, s := range c.Switches {
		if err := add(EntitySwitch, s); err != nil {
			return nil, err
		}
	}

	for _, data := range out {
		if err := data.Validate(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// importEntry creates the entry for data or updates the entry with the
// same host, keeping serials already read from the modules.
func (i *Integration) importEntry(ctx context.Context, h *hub.Hub, data EntryData) error {
	var existing *hub.ConfigEntry
	for _, e := range h.Entries(Domain) {
		if host, _ := e.Data[ConfHost].(string); strings.EqualFold(host, data.Host) {
			existing = e
			break
		}
	}

	if existing != nil {
		if old, err := DecodeEntryData(existing.Data); err == nil {
			for idx := range data.Devices {
				dc := &data.Devices[idx]
				if prev, ok := old.device(dc.Address.Address()); ok && prev.HardwareSerial > 0 {
					dc.Name = prev.Name
					dc.HardwareSerial = prev.HardwareSerial
					dc.SoftwareSerial = prev.SoftwareSerial
					dc.HardwareType = prev.HardwareType
				}
			}
		}
		return i.updateImportedEntry(ctx, h, existing, data)
	}

	m, err := data.Map()
	if err != nil {
		return err
	}
	entry := &hub.ConfigEntry{
		Domain: Domain,
		Title:  data.Host,
		Source: hub.SourceImport,
		Data:   m,
	}
	if err := h.AddEntry(ctx, entry); err != nil {
		return fmt.Errorf("importing %s: %w", data.Host, err)
	}
	i.logger.Info("LCN connection imported", "entry_id", entry.EntryID, "host", data.Host)

	return i.setupImported(ctx, h, entry.EntryID)
}

func (i *Integration) updateImportedEntry(ctx context.Context, h *hub.Hub, entry *hub.ConfigEntry, data EntryData) error {
	m, err := data.Map()
	if err != nil {
		return err
	}
	if err := h.UpdateEntry(ctx, entry.EntryID, data.Host, m); err != nil {
		return fmt.Errorf("updating %s: %w", data.Host, err)
	}
	i.logger.Info("LCN connection import updated", "entry_id", entry.EntryID, "host", data.Host)

	if entry.IsLoaded() {
		if err := h.UnloadEntry(ctx, entry.EntryID); err != nil {
			return err
		}
	}
	return i.setupImported(ctx, h, entry.EntryID)
}

func (i *Integration) setupImported(ctx context.Context, h *hub.Hub, entryID string) error {
	err := h.SetupEntry(ctx, entryID)
	switch {
	case errors.Is(err, hub.ErrEntryNotReady):
		i.logger.Warn("imported LCN connection not ready", "entry_id", entryID, "error", err)
		return nil
	case errors.Is(err, hub.ErrEntryAlreadyLoaded):
		return nil
	}
	return err
}
