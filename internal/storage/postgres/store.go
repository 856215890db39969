package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/glogos/glogos/internal/protocol"
	"github.com/glogos/glogos/internal/storage"
)

//go:embed migrations/001_init.sql
var migration001 string

const maxPutAttempts = 3

type Store struct {
	pool *pgxpool.Pool
}

func Open(ctx context.Context, dsn string, maxConns, minConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns >= 0 {
		cfg.MinConns = minConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store := &Store{pool: pool}
	if err := store.applyMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) applyMigrations(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, migration001); err != nil {
		return fmt.Errorf("apply migration 001: %w", err)
	}
	return nil
}

// Put retries when a concurrent writer wins the race for the same id, so the
// loser still gets the idempotent or conflict answer.
func (s *Store) Put(ctx context.Context, a protocol.Attestation) (bool, error) {
	body, err := protocol.EncodeAttestation(a)
	if err != nil {
		return false, err
	}
	var lastErr error
	for attempt := 0; attempt < maxPutAttempts; attempt++ {
		existed, err := s.putOnce(ctx, a, string(body))
		if err == nil || !isRetryable(err) {
			return existed, err
		}
		lastErr = err
	}
	return false, fmt.Errorf("insert attestation: %w", lastErr)
}

func (s *Store) putOnce(ctx context.Context, a protocol.Attestation, body string) (bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	existing, exists, err := s.getTx(ctx, tx, a.ID)
	if err != nil {
		return false, err
	}
	if exists {
		if err := tx.Commit(ctx); err != nil {
			return false, err
		}
		if existing.Equal(a) {
			return true, nil
		}
		return false, storage.ErrConflict
	}

	_, err = tx.Exec(ctx, `
INSERT INTO attestations (id, zone, subject, canon, time, proof, body, received_at)
VALUES ($1,$2,$3,$4,$5::numeric,$6,$7,NOW())
`, a.ID.String(), a.Zone.String(), a.Subject.String(), a.Canon.String(), strconv.FormatUint(a.Time, 10), a.Proof.String(), body)
	if err != nil {
		return false, err
	}
	if len(a.Refs) > 0 {
		rows := make([][]any, 0, len(a.Refs))
		for i, ref := range a.Refs {
			rows = append(rows, []any{a.ID.String(), int32(i), ref.String()})
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"attestation_refs"}, []string{"child_id", "position", "ref_id"}, pgx.CopyFromRows(rows)); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Store) Get(ctx context.Context, id protocol.AttestationID) (protocol.Attestation, bool, error) {
	return scanBody(s.pool.QueryRow(ctx, `SELECT body FROM attestations WHERE id = $1`, id.String()))
}

func (s *Store) getTx(ctx context.Context, tx pgx.Tx, id protocol.AttestationID) (protocol.Attestation, bool, error) {
	return scanBody(tx.QueryRow(ctx, `SELECT body FROM attestations WHERE id = $1`, id.String()))
}

func scanBody(row pgx.Row) (protocol.Attestation, bool, error) {
	var body string
	err := row.Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return protocol.Attestation{}, false, nil
	}
	if err != nil {
		return protocol.Attestation{}, false, err
	}
	a, err := protocol.DecodeAttestation([]byte(body))
	if err != nil {
		return protocol.Attestation{}, false, fmt.Errorf("decode stored attestation: %w", err)
	}
	return a, true, nil
}

func (s *Store) Children(ctx context.Context, id protocol.AttestationID) ([]protocol.AttestationID, error) {
	rows, err := s.pool.Query(ctx, `
SELECT DISTINCT child_id FROM attestation_refs WHERE ref_id = $1 ORDER BY child_id COLLATE "C"
`, id.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []protocol.AttestationID{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
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
	var (
		rows pgx.Rows
		err  error
	)
	if filter.Zone != nil {
		rows, err = s.pool.Query(ctx, `
SELECT body FROM attestations WHERE zone = $1 ORDER BY time, id COLLATE "C" LIMIT $2
`, filter.Zone.String(), filter.EffectiveLimit())
	} else {
		rows, err = s.pool.Query(ctx, `
SELECT body FROM attestations ORDER BY time, id COLLATE "C" LIMIT $1
`, filter.EffectiveLimit())
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []protocol.Attestation{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
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
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM attestations`).Scan(&n)
	return n, err
}

func (s *Store) PutZoneKey(ctx context.Context, zone protocol.ZoneID, publicKey []byte) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO zone_keys (zone, public_key, registered_at) VALUES ($1,$2,NOW())
ON CONFLICT (zone) DO NOTHING
`, zone.String(), publicKey)
	return err
}

func (s *Store) ZoneKey(ctx context.Context, zone protocol.ZoneID) ([]byte, bool, error) {
	var key []byte
	err := s.pool.QueryRow(ctx, `SELECT public_key FROM zone_keys WHERE zone = $1`, zone.String()).Scan(&key)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return key, true, nil
}

// isRetryable matches unique and serialization failures from concurrent Puts.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" || pgErr.Code == "40001"
}
