// Package store provides a relational, restart-durable HistoryStore
// implementation.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"flora-consensus/core"
	"flora-consensus/pkg/crypto"
	"flora-consensus/pkg/utils"
)

const schema = `
CREATE TABLE IF NOT EXISTS app_state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS consensus_entries (
	epoch               INTEGER PRIMARY KEY,
	state_hash          TEXT NOT NULL,
	price               REAL NOT NULL,
	timestamp           TEXT NOT NULL,
	participants        TEXT NOT NULL,
	sources             TEXT NOT NULL,
	hcs_message         TEXT NOT NULL DEFAULT '',
	consensus_timestamp TEXT NOT NULL DEFAULT '',
	sequence_number     INTEGER
);
`

// SQLiteStore implements core.HistoryStore over a pure-Go SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// ensures its schema exists.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, utils.Wrap(err, "opening sqlite database")
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY under concurrent access
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, utils.Wrap(err, "applying sqlite schema")
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertConsensusEntry implements core.HistoryStore.
func (s *SQLiteStore) UpsertConsensusEntry(ctx context.Context, entry core.ConsensusEntry) error {
	participants, err := json.Marshal(entry.Participants)
	if err != nil {
		return utils.Wrap(err, "marshalling participants")
	}
	sources, err := json.Marshal(entry.Sources)
	if err != nil {
		return utils.Wrap(err, "marshalling sources")
	}
	var seq sql.NullInt64
	if entry.SequenceNumber != nil {
		seq = sql.NullInt64{Int64: *entry.SequenceNumber, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO consensus_entries (epoch, state_hash, price, timestamp, participants, sources, hcs_message, consensus_timestamp, sequence_number)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(epoch) DO UPDATE SET
			state_hash = excluded.state_hash,
			price = excluded.price,
			timestamp = excluded.timestamp,
			participants = excluded.participants,
			sources = excluded.sources,
			hcs_message = excluded.hcs_message,
			consensus_timestamp = excluded.consensus_timestamp,
			sequence_number = excluded.sequence_number
	`, entry.Epoch, entry.StateHash, entry.Price, entry.Timestamp, string(participants), string(sources), entry.HCSMessage, entry.ConsensusTimestamp, seq)
	if err != nil {
		return utils.Wrap(err, "upserting consensus entry")
	}
	return nil
}

// LoadHistory implements core.HistoryStore, returning entries sorted
// ascending by epoch.
func (s *SQLiteStore) LoadHistory(ctx context.Context) ([]core.ConsensusEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT epoch, state_hash, price, timestamp, participants, sources, hcs_message, consensus_timestamp, sequence_number
		FROM consensus_entries ORDER BY epoch ASC
	`)
	if err != nil {
		return nil, utils.Wrap(err, "querying consensus history")
	}
	defer rows.Close()

	var out []core.ConsensusEntry
	for rows.Next() {
		var (
			e                  core.ConsensusEntry
			participants       string
			sources            string
			seq                sql.NullInt64
		)
		if err := rows.Scan(&e.Epoch, &e.StateHash, &e.Price, &e.Timestamp, &participants, &sources, &e.HCSMessage, &e.ConsensusTimestamp, &seq); err != nil {
			return nil, utils.Wrap(err, "scanning consensus entry")
		}
		if err := json.Unmarshal([]byte(participants), &e.Participants); err != nil {
			return nil, utils.Wrap(err, "unmarshalling participants")
		}
		if err := json.Unmarshal([]byte(sources), &e.Sources); err != nil {
			return nil, utils.Wrap(err, "unmarshalling sources")
		}
		if seq.Valid {
			sn := seq.Int64
			e.SequenceNumber = &sn
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.Wrap(err, "iterating consensus history")
	}
	return out, nil
}

// PutSecret implements core.HistoryStore. Secrets share the app_state table
// with every other persisted value; callers are expected to pass
// already-wrapped ciphertext (see pkg/crypto), and the wrap prefix is what
// distinguishes a secret from a plain state value at rest.
func (s *SQLiteStore) PutSecret(ctx context.Context, key string, value []byte) error {
	if !crypto.IsWrapped(string(value)) {
		return fmt.Errorf("store: refusing to persist unwrapped secret %q", key)
	}
	return s.PutState(ctx, key, string(value))
}

// GetSecret implements core.HistoryStore.
func (s *SQLiteStore) GetSecret(ctx context.Context, key string) ([]byte, bool, error) {
	value, ok, err := s.GetState(ctx, key)
	if err != nil || !ok {
		return nil, ok, err
	}
	if !crypto.IsWrapped(value) {
		return nil, false, fmt.Errorf("store: app_state value for %q is not a wrapped secret", key)
	}
	return []byte(value), true, nil
}

// PutState implements core.HistoryStore, backing bootstrap-cache and
// last-seen-cursor persistence.
func (s *SQLiteStore) PutState(ctx context.Context, key string, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return utils.Wrap(err, fmt.Sprintf("storing app state %q", key))
	}
	return nil
}

// GetState implements core.HistoryStore.
func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM app_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, utils.Wrap(err, fmt.Sprintf("loading app state %q", key))
	}
	return value, true, nil
}

var _ core.HistoryStore = (*SQLiteStore)(nil)
