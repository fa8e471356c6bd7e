// Package sqlite persists accounts and game results in SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"matchrelay/internal/auth"
	"matchrelay/internal/match"
)

// Store is the SQLite-backed user and result store.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

// Open opens the database at path and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

// CreateUser inserts an account.
func (s *Store) CreateUser(ctx context.Context, u auth.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	createdAt := u.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO users (username, email, password_hash, photo_url, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.Username, u.Email, u.PasswordHash, u.PhotoURL, toMillis(createdAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return auth.ErrUserExists
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUser loads an account by username.
func (s *Store) GetUser(ctx context.Context, username string) (auth.User, error) {
	var (
		u         auth.User
		createdAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT username, email, password_hash, photo_url, created_at FROM users WHERE username = ?`,
		username,
	).Scan(&u.Username, &u.Email, &u.PasswordHash, &u.PhotoURL, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrUserNotFound
	}
	if err != nil {
		return auth.User{}, fmt.Errorf("get user: %w", err)
	}
	u.CreatedAt = fromMillis(createdAt)
	return u, nil
}

// Record stores a finished game. Recording the same session twice keeps
// the first row.
func (s *Store) Record(ctx context.Context, r match.Result) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO game_results (
		   session_id, player_a, player_b, winner, loser, outcome, reported_by, started_at, ended_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO NOTHING`,
		r.SessionID, r.PlayerA, r.PlayerB, r.Winner, r.Loser, r.Outcome, r.ReportedBy,
		toMillis(r.StartedAt), toMillis(r.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("insert game result: %w", err)
	}
	return nil
}

// ResultsFor returns the games identity played, most recent first.
func (s *Store) ResultsFor(ctx context.Context, identity string, limit int) ([]match.Result, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT session_id, player_a, player_b, winner, loser, outcome, reported_by, started_at, ended_at
		 FROM game_results
		 WHERE player_a = ? OR player_b = ?
		 ORDER BY ended_at DESC
		 LIMIT ?`,
		identity, identity, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query game results: %w", err)
	}
	defer rows.Close()

	var out []match.Result
	for rows.Next() {
		var (
			r                 match.Result
			started, finished int64
		)
		if err := rows.Scan(&r.SessionID, &r.PlayerA, &r.PlayerB, &r.Winner, &r.Loser, &r.Outcome, &r.ReportedBy, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan game result: %w", err)
		}
		r.StartedAt = fromMillis(started)
		r.EndedAt = fromMillis(finished)
		out = append(out, r)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
