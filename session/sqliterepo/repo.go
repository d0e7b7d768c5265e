package sqliterepo

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/mfigueiredo/go-auth-client/session"

	_ "modernc.org/sqlite"
)

// Repo persists the single current-session slot in a SQLite database so the
// session survives process restarts. The record is stored as one JSON blob in
// a one-row table; Save is an atomic overwrite of that row.
type Repo struct {
	db     *sql.DB
	logger zerolog.Logger
}

var _ session.Store = (*Repo)(nil)

// New opens (or creates) the database at dbPath and prepares the slot table.
// Use ":memory:" for an in-memory database (useful in tests).
func New(dbPath string, logger zerolog.Logger) (*Repo, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
			return nil, errors.Wrap(err, "[sqliterepo.New] mkdir")
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrapf(err, "[sqliterepo.New] open sqlite %s", dbPath)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "[sqliterepo.New] pragma wal")
	}

	if _, err := db.Exec(
		`CREATE TABLE IF NOT EXISTS current_session (
			slot INTEGER PRIMARY KEY CHECK (slot = 1),
			record TEXT NOT NULL
		)`); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "[sqliterepo.New] create table")
	}

	return &Repo{
		db:     db,
		logger: logger.With().Str("component", "session-store").Logger(),
	}, nil
}

// Close closes the underlying database connection.
func (r *Repo) Close() error {
	return r.db.Close()
}

// Load returns the persisted session, or nil when the slot is empty. A record
// that fails to deserialize is discarded (logged and cleared), never surfaced
// as an error: a corrupted slot must not wedge initialization.
func (r *Repo) Load() (*session.Session, error) {
	var record string
	err := r.db.QueryRow(`SELECT record FROM current_session WHERE slot = 1`).Scan(&record)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "[Repo.Load] select")
	}

	var sess session.Session
	if err := json.Unmarshal([]byte(record), &sess); err != nil {
		r.logger.Warn().Err(err).Msg("discarding corrupted session record")
		_ = r.Clear()
		return nil, nil
	}
	if sess.ID == "" {
		r.logger.Warn().Msg("discarding session record without id")
		_ = r.Clear()
		return nil, nil
	}
	return &sess, nil
}

// Save overwrites the slot with the given session.
func (r *Repo) Save(sess *session.Session) error {
	if sess == nil {
		return errors.New("[Repo.Save] nil session")
	}
	record, err := sess.Encode()
	if err != nil {
		return errors.Wrap(err, "[Repo.Save] encode")
	}
	_, err = r.db.Exec(
		`INSERT INTO current_session (slot, record) VALUES (1, ?)
		 ON CONFLICT(slot) DO UPDATE SET record = excluded.record`,
		string(record))
	if err != nil {
		return errors.Wrap(err, "[Repo.Save] upsert")
	}
	return nil
}

// Clear removes the slot.
func (r *Repo) Clear() error {
	if _, err := r.db.Exec(`DELETE FROM current_session WHERE slot = 1`); err != nil {
		return errors.Wrap(err, "[Repo.Clear] delete")
	}
	return nil
}
