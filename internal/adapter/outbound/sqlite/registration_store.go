// Package sqlite persists service registrations in an embedded SQLite
// database, giving a single-node deployment durable registry state
// without an external store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/Aussie-Gate/Aussiegate/internal/domain/registry"
)

const schema = `
CREATE TABLE IF NOT EXISTS service_registrations (
	service_id    TEXT PRIMARY KEY,
	version       INTEGER NOT NULL,
	registered_at INTEGER NOT NULL,
	payload       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_registrations_registered_at
	ON service_registrations (registered_at, service_id);
`

// RegistrationStore implements registry.Repository on SQLite. The full
// registration is stored as a JSON payload; version and registration
// time are lifted into columns for ordering and conflict checks.
type RegistrationStore struct {
	db *sql.DB
}

var _ registry.Repository = (*RegistrationStore)(nil)

// Open opens (creating if needed) the database at path and prepares
// the schema. Use ":memory:" for an ephemeral store.
func Open(path string) (*RegistrationStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// The sqlite driver serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent saves.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("prepare schema: %w", err)
	}
	return &RegistrationStore{db: db}, nil
}

// Close releases the database handle.
func (s *RegistrationStore) Close() error {
	return s.db.Close()
}

// FindAll returns every registration ordered by registration time.
func (s *RegistrationStore) FindAll(ctx context.Context) ([]*registry.ServiceRegistration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM service_registrations ORDER BY registered_at, service_id`)
	if err != nil {
		return nil, fmt.Errorf("query registrations: %w", err)
	}
	defer rows.Close()

	var out []*registry.ServiceRegistration
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		svc, err := decode(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	return out, rows.Err()
}

// FindByID returns the registration for an ID, or nil when absent.
func (s *RegistrationStore) FindByID(ctx context.Context, serviceID string) (*registry.ServiceRegistration, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM service_registrations WHERE service_id = ?`, serviceID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query registration %s: %w", serviceID, err)
	}
	return decode(payload)
}

// Save upserts a registration atomically.
func (s *RegistrationStore) Save(ctx context.Context, svc *registry.ServiceRegistration) error {
	payload, err := json.Marshal(svc)
	if err != nil {
		return fmt.Errorf("encode registration %s: %w", svc.ServiceID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO service_registrations (service_id, version, registered_at, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(service_id) DO UPDATE SET
			version = excluded.version,
			registered_at = excluded.registered_at,
			payload = excluded.payload`,
		svc.ServiceID, svc.Version, svc.RegisteredAt.UnixMilli(), string(payload))
	if err != nil {
		return fmt.Errorf("save registration %s: %w", svc.ServiceID, err)
	}
	return nil
}

// Delete removes a registration, reporting whether it existed.
func (s *RegistrationStore) Delete(ctx context.Context, serviceID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM service_registrations WHERE service_id = ?`, serviceID)
	if err != nil {
		return false, fmt.Errorf("delete registration %s: %w", serviceID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Exists reports whether a registration is present.
func (s *RegistrationStore) Exists(ctx context.Context, serviceID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM service_registrations WHERE service_id = ?`, serviceID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check registration %s: %w", serviceID, err)
	}
	return true, nil
}

// Count returns the number of registrations.
func (s *RegistrationStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM service_registrations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count registrations: %w", err)
	}
	return n, nil
}

func decode(payload string) (*registry.ServiceRegistration, error) {
	var svc registry.ServiceRegistration
	if err := json.Unmarshal([]byte(payload), &svc); err != nil {
		return nil, fmt.Errorf("decode registration: %w", err)
	}
	return &svc, nil
}
