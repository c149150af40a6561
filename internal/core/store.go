package core

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the SQLite ledger of checks, launches and terminations.
type Store struct{ db *sql.DB }

//go:embed migrations/*.sql
var migrationFS embed.FS

func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer; the CLI never needs more
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema, err := migrationFS.ReadFile("migrations/0001_init.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New("db not initialized")
	}
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) RecordCheck(ctx context.Context, fleet string, r Roster, rep Report) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO readiness_checks (fleet, ready, total, running, addresses, checked_at) VALUES (?, ?, ?, ?, ?, ?)`,
		fleet, r.Ready, rep.Total, rep.Running, strings.Join(r.Addresses, ","), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record check: %w", err)
	}
	return nil
}

type LaunchRecord struct {
	ID         string
	Fleet      string
	Mode       string
	Script     string
	Nodes      int
	LogPath    string
	LaunchedAt time.Time
}

func (s *Store) RecordLaunch(ctx context.Context, fleet string, l *Launch) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO launches (id, fleet, mode, script, nodes, log_path, launched_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.ID.String(), fleet, string(l.Mode), l.Script, len(l.Nodes), l.LogPath, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record launch: %w", err)
	}
	return nil
}

// RecentLaunches returns up to limit launches, newest first. An empty fleet
// matches every fleet.
func (s *Store) RecentLaunches(ctx context.Context, fleet string, limit int) ([]LaunchRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, fleet, mode, script, nodes, log_path, launched_at FROM launches
		 WHERE ? = '' OR fleet = ? ORDER BY launched_at DESC LIMIT ?`, fleet, fleet, limit)
	if err != nil {
		return nil, fmt.Errorf("query launches: %w", err)
	}
	defer rows.Close()
	var out []LaunchRecord
	for rows.Next() {
		var lr LaunchRecord
		if err := rows.Scan(&lr.ID, &lr.Fleet, &lr.Mode, &lr.Script, &lr.Nodes, &lr.LogPath, &lr.LaunchedAt); err != nil {
			return nil, fmt.Errorf("scan launch: %w", err)
		}
		out = append(out, lr)
	}
	return out, rows.Err()
}

func (s *Store) RecordTermination(ctx context.Context, res TerminationResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	now := time.Now().UTC()
	for _, g := range res.Groups {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO terminations (fleet, grp, instance_ids, terminated_at) VALUES (?, ?, ?, ?)`,
			res.Fleet, g.Group, strings.Join(g.IDs, ","), now); err != nil {
			return fmt.Errorf("record termination: %w", err)
		}
	}
	return tx.Commit()
}

// CountChecks returns how many readiness checks were recorded for fleet.
func (s *Store) CountChecks(ctx context.Context, fleet string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM readiness_checks WHERE fleet = ?`, fleet).Scan(&n)
	return n, err
}

func (s *Store) CountTerminations(ctx context.Context, fleet string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM terminations WHERE fleet = ?`, fleet).Scan(&n)
	return n, err
}
