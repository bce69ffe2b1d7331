package hub

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// EntryRepository persists config entries. Runtime fields (State,
// RuntimeData) are not stored.
type EntryRepository interface {
	// List returns all stored entries, oldest first.
	List(ctx context.Context) ([]*ConfigEntry, error)

	// Save inserts or replaces an entry.
	Save(ctx context.Context, entry *ConfigEntry) error

	// Delete removes an entry. Returns ErrEntryNotFound if it does not exist.
	Delete(ctx context.Context, entryID string) error
}

// SQLiteEntryRepository implements EntryRepository on the config_entries table.
type SQLiteEntryRepository struct {
	db *sql.DB
}

// NewSQLiteEntryRepository creates a repository over an open, migrated database.
func NewSQLiteEntryRepository(db *sql.DB) *SQLiteEntryRepository {
	return &SQLiteEntryRepository{db: db}
}

// List returns all stored entries, oldest first.
func (r *SQLiteEntryRepository) List(ctx context.Context) ([]*ConfigEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT entry_id, domain, title, unique_id, source, data, options, created_at, updated_at
		FROM config_entries
		ORDER BY created_at, entry_id`)
	if err != nil {
		return nil, fmt.Errorf("querying config entries: %w", err)
	}
	defer rows.Close()

	var entries []*ConfigEntry
	for rows.Next() {
		var (
			e                    ConfigEntry
			uniqueID             sql.NullString
			data, options        string
			createdAt, updatedAt string
		)
		if err := rows.Scan(&e.EntryID, &e.Domain, &e.Title, &uniqueID, &e.Source,
			&data, &options, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning config entry: %w", err)
		}
		e.UniqueID = uniqueID.String
		if err := json.Unmarshal([]byte(data), &e.Data); err != nil {
			return nil, fmt.Errorf("decoding data of %s: %w", e.EntryID, err)
		}
		if err := json.Unmarshal([]byte(options), &e.Options); err != nil {
			return nil, fmt.Errorf("decoding options of %s: %w", e.EntryID, err)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt) //nolint:errcheck // Format is controlled
		e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt) //nolint:errcheck // Format is controlled
		e.State = StateNotLoaded
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating config entries: %w", err)
	}
	return entries, nil
}

// Save inserts or replaces an entry.
func (r *SQLiteEntryRepository) Save(ctx context.Context, e *ConfigEntry) error {
	data, err := json.Marshal(nonNil(e.Data))
	if err != nil {
		return fmt.Errorf("encoding data: %w", err)
	}
	options, err := json.Marshal(nonNil(e.Options))
	if err != nil {
		return fmt.Errorf("encoding options: %w", err)
	}

	var uniqueID sql.NullString
	if e.UniqueID != "" {
		uniqueID = sql.NullString{String: e.UniqueID, Valid: true}
	}

	const query = `
		INSERT INTO config_entries (entry_id, domain, title, unique_id, source, data, options, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (entry_id) DO UPDATE SET
			title = excluded.title,
			unique_id = excluded.unique_id,
			data = excluded.data,
			options = excluded.options,
			updated_at = excluded.updated_at`
	_, err = r.db.ExecContext(ctx, query,
		e.EntryID, e.Domain, e.Title, uniqueID, e.Source, string(data), string(options),
		e.CreatedAt.UTC().Format(time.RFC3339Nano), e.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("saving config entry %s: %w", e.EntryID, err)
	}
	return nil
}

// Delete removes an entry.
func (r *SQLiteEntryRepository) Delete(ctx context.Context, entryID string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM config_entries WHERE entry_id = ?", entryID)
	if err != nil {
		return fmt.Errorf("deleting config entry: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 { //nolint:errcheck // sqlite3 always reports rows affected
		return ErrEntryNotFound
	}
	return nil
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// MemoryEntryRepository implements EntryRepository in memory.
type MemoryEntryRepository struct {
	mu      sync.Mutex
	entries map[string]*ConfigEntry
}

// NewMemoryEntryRepository creates an empty in-memory repository.
func NewMemoryEntryRepository() *MemoryEntryRepository {
	return &MemoryEntryRepository{entries: make(map[string]*ConfigEntry)}
}

// List returns all stored entries, oldest first.
func (m *MemoryEntryRepository) List(_ context.Context) ([]*ConfigEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := make([]*ConfigEntry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e.clone())
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].EntryID < entries[j].EntryID
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries, nil
}

// Save inserts or replaces an entry.
func (m *MemoryEntryRepository) Save(_ context.Context, e *ConfigEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.EntryID] = e.clone()
	return nil
}

// Delete removes an entry.
func (m *MemoryEntryRepository) Delete(_ context.Context, entryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[entryID]; !ok {
		return ErrEntryNotFound
	}
	delete(m.entries, entryID)
	return nil
}
