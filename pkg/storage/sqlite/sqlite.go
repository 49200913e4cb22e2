package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rexliu/delegate/pkg/core"
)

// ErrNotFound is returned when a settle targets a request that was never recorded.
var ErrNotFound = errors.New("journal: no such request")

// Options tunes the connection pragmas.
type Options struct {
	JournalMode string
	Synchronous string
}

// Store owns the SQLite journal for a profile.
type Store struct {
	db   *sql.DB
	path string
	opts Options
}

// Path returns the underlying SQLite file path.
func (s *Store) Path() string {
	return s.path
}

// Open initializes a SQLite database at path.
func Open(path string, opts ...Options) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, path: path, opts: Options{JournalMode: "DELETE", Synchronous: "FULL"}}
	if len(opts) > 0 {
		if opts[0].JournalMode != "" {
			s.opts.JournalMode = opts[0].JournalMode
		}
		if opts[0].Synchronous != "" {
			s.opts.Synchronous = opts[0].Synchronous
		}
	}
	return s, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Init ensures pragmas and schema are configured.
func (s *Store) Init(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("nil store")
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA journal_mode = %s;", pragmaWord(s.opts.JournalMode)),
		fmt.Sprintf("PRAGMA synchronous = %s;", pragmaWord(s.opts.Synchronous)),
		"PRAGMA busy_timeout = 5000;",
	}
	for _, stmt := range pragmas {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply pragma %q: %w", stmt, err)
		}
	}
	return s.applySchema(ctx)
}

// pragmaWord keeps only letters so config values cannot inject SQL.
func pragmaWord(v string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			return r
		}
		return -1
	}, v)
}

func (s *Store) applySchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`INSERT OR IGNORE INTO meta(key,value) VALUES ('schemaVersion','1');`,
		`CREATE TABLE IF NOT EXISTS interactions (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			outcome TEXT NOT NULL,
			error TEXT,
			opened_at INTEGER NOT NULL,
			closed_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_interactions_opened ON interactions(opened_at);`,
		`CREATE TABLE IF NOT EXISTS requests (
			id INTEGER NOT NULL,
			method TEXT NOT NULL,
			params TEXT,
			status TEXT NOT NULL CHECK (status IN ('pending','resolved','rejected')),
			error TEXT,
			created_at INTEGER NOT NULL,
			settled_at INTEGER,
			PRIMARY KEY (id, created_at)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_requests_status ON requests(status);`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Meta returns a meta value, or "" when unset.
func (s *Store) Meta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// SetMeta upserts a meta value.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO meta(key,value) VALUES(?,?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// RecordRequest stores a freshly dispatched request.
func (s *Store) RecordRequest(ctx context.Context, rec core.RequestRecord) error {
	if rec.CreatedAt == 0 {
		rec.CreatedAt = time.Now().UnixMilli()
	}
	if rec.Status == "" {
		rec.Status = core.RequestPending
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO requests(id, method, params, status, error, created_at)
		VALUES(?,?,?,?,?,?)`,
		int64(rec.ID), rec.Method, nullableJSON(rec.Params), string(rec.Status), nullable(rec.Error), rec.CreatedAt)
	return err
}

// SettleRequest marks the newest pending request with id as settled.
func (s *Store) SettleRequest(ctx context.Context, id uint64, status core.RequestStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE requests SET status = ?, error = ?, settled_at = ?
		WHERE id = ? AND created_at = (SELECT MAX(created_at) FROM requests WHERE id = ?)`,
		string(status), nullable(errMsg), time.Now().UnixMilli(), int64(id), int64(id))
	return wrapRowsAffected(res, err)
}

// RecordInteraction stores a settled remote-context interaction.
func (s *Store) RecordInteraction(ctx context.Context, rec core.Interaction) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO interactions(id, url, outcome, error, opened_at, closed_at)
		VALUES(?,?,?,?,?,?)`,
		rec.ID, rec.URL, string(rec.Outcome), nullable(rec.Error), rec.OpenedAt, rec.ClosedAt)
	return err
}

// ListInteractions returns the newest interactions first. limit <= 0 means all.
func (s *Store) ListInteractions(ctx context.Context, limit int) ([]core.Interaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, url, outcome, error, opened_at, closed_at
		FROM interactions
		ORDER BY opened_at DESC, id DESC
		LIMIT ?;
	`, sqlLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []core.Interaction{}
	for rows.Next() {
		var (
			rec     core.Interaction
			outcome string
			errMsg  *string
		)
		if err := rows.Scan(&rec.ID, &rec.URL, &outcome, &errMsg, &rec.OpenedAt, &rec.ClosedAt); err != nil {
			return nil, err
		}
		rec.Outcome = core.InteractionOutcome(outcome)
		if errMsg != nil {
			rec.Error = *errMsg
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListRequests returns the newest requests first. limit <= 0 means all.
func (s *Store) ListRequests(ctx context.Context, limit int) ([]core.RequestRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, method, params, status, error, created_at, settled_at
		FROM requests
		ORDER BY created_at DESC, id DESC
		LIMIT ?;
	`, sqlLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []core.RequestRecord{}
	for rows.Next() {
		var (
			id      int64
			rec     core.RequestRecord
			params  *string
			status  string
			errMsg  *string
			settled *int64
		)
		if err := rows.Scan(&id, &rec.Method, &params, &status, &errMsg, &rec.CreatedAt, &settled); err != nil {
			return nil, err
		}
		rec.ID = uint64(id)
		rec.Status = core.RequestStatus(status)
		if params != nil {
			rec.Params = json.RawMessage(*params)
		}
		if errMsg != nil {
			rec.Error = *errMsg
		}
		if settled != nil {
			rec.SettledAt = *settled
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Snapshot exports the journal for profile.
func (s *Store) Snapshot(ctx context.Context, profile string, limit int) (core.Snapshot, error) {
	interactions, err := s.ListInteractions(ctx, limit)
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("list interactions: %w", err)
	}
	requests, err := s.ListRequests(ctx, limit)
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("list requests: %w", err)
	}
	return core.Snapshot{Profile: profile, Interactions: interactions, Requests: requests}, nil
}

func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func wrapRowsAffected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}
