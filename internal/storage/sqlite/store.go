// Package sqlite is a single-file Store backed by modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration

	"github.com/glogos/glogos/internal/protocol"
	"github.com/glogos/glogos/internal/storage"
)

type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens or creates the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS attestations (
			id          TEXT PRIMARY KEY,
			zone        TEXT NOT NULL,
			time_key    TEXT NOT NULL,
			body        TEXT NOT NULL,
			received_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_attestations_order ON attestations(time_key, id);
		CREATE INDEX IF NOT EXISTS idx_attestations_zone ON attestations(zone, time_key, id);
		CREATE TABLE IF NOT EXISTS attestation_refs (
			child_id TEXT NOT NULL REFERENCES attestations(id),
			position INTEGER NOT NULL,
			ref_id   TEXT NOT NULL,
			PRIMARY KEY (child_id, position)
		);
		CREATE INDEX IF NOT EXISTS idx_attestation_refs_ref ON attestation_refs(ref_id);
		CREATE TABLE IF NOT EXISTS zone_keys (
			zone          TEXT PRIMARY KEY,
			public_key    TEXT NOT NULL,
			registered_at TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("create sqlite tables: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	_ = s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return mapClosed(err)
	}
	return nil
}

func (s *Store) Put(ctx context.Context, a protocol.Attestation) (bool, error) {
	body, err := protocol.EncodeAttestation(a)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, mapClosed(err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	existing, ok, err := getTx(ctx, tx, a.ID)
	if err != nil {
		return false, err
	}
	if ok {
		if existing.Equal(a) {
			return true, nil
		}
		return false, storage.ErrConflict
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO attestations (id, zone, time_key, body, received_at)
		VALUES (?, ?, ?, ?, ?)
	`, a.ID.String(), a.Zone.String(), timeKey(a.Time), string(body), time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return false, fmt.Errorf("insert attestation: %w", err)
	}
	for i, ref := range a.Refs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO attestation_refs (child_id, position, ref_id) VALUES (?, ?, ?)
		`, a.ID.String(), i, ref.String()); err != nil {
			return false, fmt.Errorf("insert attestation ref: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit attestation: %w", err)
	}
	return false, nil
}

func (s *Store) Get(ctx context.Context, id protocol.AttestationID) (protocol.Attestation, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT body FROM attestations WHERE id = ?`, id.String())
	return scanBody(row)
}

func getTx(ctx context.Context, tx *sql.Tx, id protocol.AttestationID) (protocol.Attestation, bool, error) {
	row := tx.QueryRowContext(ctx, `SELECT body FROM attestations WHERE id = ?`, id.String())
	return scanBody(row)
}

func scanBody(row *sql.Row) (protocol.Attestation, bool, error) {
	var body string
	err := row.Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return protocol.Attestation{}, false, nil
	}
	if err != nil {
		return protocol.Attestation{}, false, mapClosed(err)
	}
	a, err := protocol.DecodeAttestation([]byte(body))
	if err != nil {
		return protocol.Attestation{}, false, fmt.Errorf("decode stored attestation: %w", err)
	}
	return a, true, nil
}

func (s *Store) Children(ctx context.Context, id protocol.AttestationID) ([]protocol.AttestationID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT child_id FROM attestation_refs WHERE ref_id = ? ORDER BY child_id
	`, id.String())
	if err != nil {
		return nil, mapClosed(err)
	}
	defer rows.Close()

	out := []protocol.AttestationID{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan child id: %w", err)
		}
		child, err := protocol.ParseAttestationID(raw)
		if err != nil {
			return nil, fmt.Errorf("stored child id: %w", err)
		}
		out = append(out, child)
	}
	return out, rows.Err()
}

func (s *Store) List(ctx context.Context, filter storage.ListFilter) ([]protocol.Attestation, error) {
	query := `SELECT body FROM attestations`
	args := []any{}
	if filter.Zone != nil {
		query += ` WHERE zone = ?`
		args = append(args, filter.Zone.String())
	}
	query += ` ORDER BY time_key, id LIMIT ?`
	args = append(args, filter.EffectiveLimit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapClosed(err)
	}
	defer rows.Close()

	out := []protocol.Attestation{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan attestation: %w", err)
		}
		a, err := protocol.DecodeAttestation([]byte(body))
		if err != nil {
			return nil, fmt.Errorf("decode stored attestation: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attestations`).Scan(&n); err != nil {
		return 0, mapClosed(err)
	}
	return n, nil
}

func (s *Store) PutZoneKey(ctx context.Context, zone protocol.ZoneID, publicKey []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO zone_keys (zone, public_key, registered_at) VALUES (?, ?, ?)
		ON CONFLICT(zone) DO NOTHING
	`, zone.String(), hex.EncodeToString(publicKey), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert zone key: %w", mapClosed(err))
	}
	return nil
}

func (s *Store) ZoneKey(ctx context.Context, zone protocol.ZoneID) ([]byte, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT public_key FROM zone_keys WHERE zone = ?`, zone.String()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, mapClosed(err)
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, false, fmt.Errorf("stored zone key: %w", err)
	}
	return key, true, nil
}

// timeKey renders t so that lexical order is numeric order across the full
// uint64 range; SQLite integers are signed.
func timeKey(t uint64) string {
	return fmt.Sprintf("%020d", t)
}

func mapClosed(err error) error {
	if err != nil && strings.Contains(err.Error(), "database is closed") {
		return storage.ErrClosed
	}
	return err
}
