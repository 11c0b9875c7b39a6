package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"patrol-hub/core/incident"
)

// TrackerState is the full persisted view of the unviewed tracker: the
// unviewed snapshots, the pre-cleared suppression set and the clear-all
// timestamp. It is saved and loaded as one revision, never piecewise.
type TrackerState struct {
	Unviewed    []incident.Record
	PreCleared  []string
	LastClearAt int64 // unix milliseconds, 0 = never cleared
	Revision    int64
}

// Envelope is the broadcast record other sessions observe: unviewed keys
// only (to bound size) plus the writer and write time.
type Envelope struct {
	Revision    int64     `json:"revision"`
	WriterToken string    `json:"writer_token"`
	Keys        []string  `json:"keys"`
	CreatedAt   time.Time `json:"created_at"`
}

type SyncStore interface {
	// SaveState persists st atomically under a new revision and appends the
	// matching broadcast envelope. Returns the new revision.
	SaveState(ctx context.Context, st *TrackerState, writerToken string) (int64, error)
	LoadState(ctx context.Context) (*TrackerState, error)
	// CurrentRevision returns the latest revision and the token of the
	// session that wrote it.
	CurrentRevision(ctx context.Context) (int64, string, error)
	ListEnvelopes(ctx context.Context, limit int) ([]Envelope, error)
	PruneEnvelopes(ctx context.Context, keep int) (int64, error)
}

type syncStore struct {
	db *sql.DB
}

func NewSyncStore(db *sql.DB) SyncStore {
	return &syncStore{db: db}
}

func (s *syncStore) SaveState(ctx context.Context, st *TrackerState, writerToken string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var revision int64
	if err := tx.QueryRowContext(ctx, `
		UPDATE tracker_meta SET revision = revision + 1, last_clear_at = ?
		WHERE id = 1
		RETURNING revision`, nullableMillis(st.LastClearAt)).Scan(&revision); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM unviewed_incidents`); err != nil {
		return 0, err
	}
	keys := make([]string, 0, len(st.Unviewed))
	for _, rec := range st.Unviewed {
		snapshot, err := json.Marshal(rec)
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO unviewed_incidents(remote_key, display_id, occurred_at, snapshot)
			VALUES(?,?,?,?)`, rec.RemoteKey, rec.DisplayID, rec.OccurredAt, string(snapshot)); err != nil {
			return 0, err
		}
		keys = append(keys, rec.RemoteKey)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM precleared_incidents`); err != nil {
		return 0, err
	}
	for _, key := range st.PreCleared {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO precleared_incidents(remote_key) VALUES(?)
			ON CONFLICT (remote_key) DO NOTHING`, key); err != nil {
			return 0, err
		}
	}
	payload, err := json.Marshal(keys)
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sync_envelopes(revision, writer_token, payload)
		VALUES(?,?,?)`, revision, writerToken, string(payload)); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return revision, nil
}

func (s *syncStore) LoadState(ctx context.Context) (*TrackerState, error) {
	st := &TrackerState{}
	var lastClear sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `
		SELECT revision, last_clear_at FROM tracker_meta WHERE id=1`).Scan(&st.Revision, &lastClear); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return st, nil
		}
		return nil, err
	}
	if lastClear.Valid {
		st.LastClearAt = lastClear.Int64
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT snapshot FROM unviewed_incidents ORDER BY occurred_at DESC, remote_key ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var snapshot string
		if err := rows.Scan(&snapshot); err != nil {
			return nil, err
		}
		var rec incident.Record
		if err := json.Unmarshal([]byte(snapshot), &rec); err != nil {
			// A corrupt snapshot must not take the whole state down.
			continue
		}
		st.Unviewed = append(st.Unviewed, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	cleared, err := s.db.QueryContext(ctx, `SELECT remote_key FROM precleared_incidents`)
	if err != nil {
		return nil, err
	}
	defer cleared.Close()
	for cleared.Next() {
		var key string
		if err := cleared.Scan(&key); err != nil {
			return nil, err
		}
		st.PreCleared = append(st.PreCleared, key)
	}
	return st, cleared.Err()
}

func (s *syncStore) CurrentRevision(ctx context.Context) (int64, string, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT m.revision, COALESCE(e.writer_token, '')
		FROM tracker_meta m
		LEFT JOIN sync_envelopes e ON e.revision = m.revision
		WHERE m.id = 1`)
	var revision int64
	var writer string
	if err := row.Scan(&revision, &writer); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, "", nil
		}
		return 0, "", err
	}
	return revision, writer, nil
}

func (s *syncStore) ListEnvelopes(ctx context.Context, limit int) ([]Envelope, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT revision, writer_token, payload, created_at
		FROM sync_envelopes ORDER BY revision DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Envelope
	for rows.Next() {
		var env Envelope
		var payload, created string
		if err := rows.Scan(&env.Revision, &env.WriterToken, &payload, &created); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(payload), &env.Keys)
		env.CreatedAt = parseStoredTime(created)
		res = append(res, env)
	}
	return res, rows.Err()
}

// parseStoredTime handles the layouts sqlite emits for CURRENT_TIMESTAMP
// columns. A zero time is better than failing the whole listing.
func parseStoredTime(raw string) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339Nano, time.RFC3339} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts
		}
	}
	return time.Time{}
}

func (s *syncStore) PruneEnvelopes(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		keep = 1
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM sync_envelopes
		WHERE revision <= (SELECT MAX(revision) FROM sync_envelopes) - ?`, keep)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

func nullableMillis(v int64) any {
	if v <= 0 {
		return nil
	}
	return v
}
