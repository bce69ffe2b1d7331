package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, memory)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a device by its unique identifier.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// List retrieves all devices ordered by name.
	List(ctx context.Context) ([]Device, error)

	// Create inserts a new device.
	// Returns ErrDeviceExists if the ID is taken and ErrIdentifierConflict
	// if one of its identifiers belongs to another device.
	Create(ctx context.Context, device *Device) error

	// Update replaces an existing device, identifiers included.
	// Returns ErrDeviceNotFound if the device does not exist.
	Update(ctx context.Context, device *Device) error

	// Delete removes a device by ID.
	// Returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open, migrated SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectDeviceColumns = `
	SELECT id, config_entry_ids, identifiers, name, name_by_user, manufacturer,
		model, sw_version, hw_version, serial_number, via_device_id,
		created_at, updated_at
	FROM devices`

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, selectDeviceColumns+" WHERE id = ?", id)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return d, nil
}

// List retrieves all devices.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, selectDeviceColumns+" ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// Create inserts a new device and its identifier rows.
func (r *SQLiteRepository) Create(ctx context.Context, d *Device) error {
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	entryIDs, identifiers, err := marshalDeviceLists(d)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	_, err = tx.ExecContext(ctx, `
		INSERT INTO devices (id, config_entry_ids, identifiers, name, name_by_user,
			manufacturer, model, sw_version, hw_version, serial_number, via_device_id,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, entryIDs, identifiers, d.Name, nullString(d.NameByUser),
		nullString(d.Manufacturer), nullString(d.Model), nullString(d.SWVersion),
		nullString(d.HWVersion), nullString(d.SerialNumber), nullString(d.ViaDeviceID),
		d.CreatedAt.Format(time.RFC3339Nano), d.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}

	if err := insertIdentifiers(ctx, tx, d); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing device: %w", err)
	}
	return nil
}

// Update replaces an existing device and rewrites its identifier rows.
func (r *SQLiteRepository) Update(ctx context.Context, d *Device) error {
	d.UpdatedAt = time.Now().UTC()

	entryIDs, identifiers, err := marshalDeviceLists(d)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	result, err := tx.ExecContext(ctx, `
		UPDATE devices SET config_entry_ids = ?, identifiers = ?, name = ?,
			name_by_user = ?, manufacturer = ?, model = ?, sw_version = ?,
			hw_version = ?, serial_number = ?, via_device_id = ?, updated_at = ?
		WHERE id = ?`,
		entryIDs, identifiers, d.Name, nullString(d.NameByUser),
		nullString(d.Manufacturer), nullString(d.Model), nullString(d.SWVersion),
		nullString(d.HWVersion), nullString(d.SerialNumber), nullString(d.ViaDeviceID),
		d.UpdatedAt.Format(time.RFC3339Nano), d.ID,
	)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 { //nolint:errcheck // sqlite3 always reports rows affected
		return ErrDeviceNotFound
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM device_identifiers WHERE device_id = ?", d.ID); err != nil {
		return fmt.Errorf("clearing identifiers: %w", err)
	}
	if err := insertIdentifiers(ctx, tx, d); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing device: %w", err)
	}
	return nil
}

// Delete removes a device; identifier rows cascade.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 { //nolint:errcheck // sqlite3 always reports rows affected
		return ErrDeviceNotFound
	}
	return nil
}

func insertIdentifiers(ctx context.Context, tx *sql.Tx, d *Device) error {
	for _, ident := range d.Identifiers {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO device_identifiers (domain, identifier, device_id) VALUES (?, ?, ?)",
			ident.Domain, ident.ID, d.ID,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", ErrIdentifierConflict, ident)
			}
			return fmt.Errorf("inserting identifier %s: %w", ident, err)
		}
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*Device, error) {
	var (
		d                                          Device
		entryIDs, identifiers                      string
		nameByUser, manufacturer, model, swVersion sql.NullString
		hwVersion, serialNumber, viaDeviceID       sql.NullString
		createdAt, updatedAt                       string
	)

	if err := row.Scan(&d.ID, &entryIDs, &identifiers, &d.Name, &nameByUser,
		&manufacturer, &model, &swVersion, &hwVersion, &serialNumber, &viaDeviceID,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(entryIDs), &d.ConfigEntryIDs); err != nil {
		return nil, fmt.Errorf("decoding config_entry_ids: %w", err)
	}
	if err := json.Unmarshal([]byte(identifiers), &d.Identifiers); err != nil {
		return nil, fmt.Errorf("decoding identifiers: %w", err)
	}

	d.NameByUser = nameByUser.String
	d.Manufacturer = manufacturer.String
	d.Model = model.String
	d.SWVersion = swVersion.String
	d.HWVersion = hwVersion.String
	d.SerialNumber = serialNumber.String
	d.ViaDeviceID = viaDeviceID.String
	d.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt) //nolint:errcheck // Format is controlled
	d.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt) //nolint:errcheck // Format is controlled

	return &d, nil
}

func marshalDeviceLists(d *Device) (entryIDs, identifiers string, err error) {
	ids := d.ConfigEntryIDs
	if ids == nil {
		ids = []string{}
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return "", "", fmt.Errorf("encoding config_entry_ids: %w", err)
	}
	idents := d.Identifiers
	if idents == nil {
		idents = []Identifier{}
	}
	c, err := json.Marshal(idents)
	if err != nil {
		return "", "", fmt.Errorf("encoding identifiers: %w", err)
	}
	return string(b), string(c), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// MemoryRepository implements Repository in memory.
// It backs test hubs and dry runs without a database file.
type MemoryRepository struct {
	mu      sync.Mutex
	devices map[string]*Device
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{devices: make(map[string]*Device)}
}

// GetByID retrieves a device by its unique identifier.
func (m *MemoryRepository) GetByID(_ context.Context, id string) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.devices[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return d.DeepCopy(), nil
}

// List retrieves all devices ordered by name.
func (m *MemoryRepository) List(_ context.Context) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	devices := make([]Device, 0, len(m.devices))
	for _, d := range m.devices {
		devices = append(devices, *d.DeepCopy())
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Name < devices[j].Name })
	return devices, nil
}

// Create inserts a new device.
func (m *MemoryRepository) Create(_ context.Context, d *Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.devices[d.ID]; exists {
		return ErrDeviceExists
	}
	if err := m.checkIdentifiers(d); err != nil {
		return err
	}
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	m.devices[d.ID] = d.DeepCopy()
	return nil
}

// Update replaces an existing device.
func (m *MemoryRepository) Update(_ context.Context, d *Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.devices[d.ID]; !exists {
		return ErrDeviceNotFound
	}
	if err := m.checkIdentifiers(d); err != nil {
		return err
	}
	d.UpdatedAt = time.Now().UTC()
	m.devices[d.ID] = d.DeepCopy()
	return nil
}

// Delete removes a device by ID.
func (m *MemoryRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.devices[id]; !exists {
		return ErrDeviceNotFound
	}
	delete(m.devices, id)
	return nil
}

// checkIdentifiers enforces identifier uniqueness across devices.
// Caller must hold m.mu.
func (m *MemoryRepository) checkIdentifiers(d *Device) error {
	for _, other := range m.devices {
		if other.ID == d.ID {
			continue
		}
		for _, ident := range d.Identifiers {
			if other.HasIdentifier(ident) {
				return fmt.Errorf("%w: %s", ErrIdentifierConflict, ident)
			}
		}
	}
	return nil
}
