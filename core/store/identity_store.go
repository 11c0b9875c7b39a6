package store

import (
	"context"
	"database/sql"
	"errors"
)

// IdentityStore persists the remote-key to display-id mapping and the global
// sequence counter. The mapping is append-only: entries survive working-set
// truncation forever so a re-observed record always resolves to the same id.
type IdentityStore interface {
	GetDisplayID(ctx context.Context, remoteKey string) (string, error)
	// AssignDisplayID returns the existing display id for remoteKey, or bumps
	// the counter, builds a new id via build and stores the pair. The counter
	// bump and mapping insert are one transaction, so concurrent writers on
	// the shared store cannot hand out the same sequence number twice.
	AssignDisplayID(ctx context.Context, remoteKey string, build func(seq int64) string) (string, int64, error)
	LoadAll(ctx context.Context) (map[string]string, int64, error)
}

type identityStore struct {
	db *sql.DB
}

func NewIdentityStore(db *sql.DB) IdentityStore {
	return &identityStore{db: db}
}

func (s *identityStore) GetDisplayID(ctx context.Context, remoteKey string) (string, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT display_id FROM incident_identities WHERE remote_key=?`, remoteKey)
	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return id, nil
}

func (s *identityStore) AssignDisplayID(ctx context.Context, remoteKey string, build func(seq int64) string) (string, int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var existing string
	err = tx.QueryRowContext(ctx, `
		SELECT display_id FROM incident_identities WHERE remote_key=?`, remoteKey).Scan(&existing)
	if err == nil {
		return existing, 0, tx.Commit()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", 0, err
	}

	var seq int64
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO identity_counter(id, seq)
		VALUES (1, 1)
		ON CONFLICT (id)
		DO UPDATE SET seq = identity_counter.seq + 1
		RETURNING seq
	`).Scan(&seq); err != nil {
		return "", 0, err
	}
	displayID := build(seq)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO incident_identities(remote_key, display_id)
		VALUES(?,?)`, remoteKey, displayID); err != nil {
		return "", 0, err
	}
	if err := tx.Commit(); err != nil {
		return "", 0, err
	}
	return displayID, seq, nil
}

func (s *identityStore) LoadAll(ctx context.Context) (map[string]string, int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT remote_key, display_id FROM incident_identities`)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	mapping := map[string]string{}
	for rows.Next() {
		var key, id string
		if err := rows.Scan(&key, &id); err != nil {
			return nil, 0, err
		}
		mapping[key] = id
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT seq FROM identity_counter WHERE id=1`).Scan(&seq); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, 0, err
	}
	return mapping, seq.Int64, nil
}
