package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/sunfall-smp/perkbridge/internal/domain"
	_ "modernc.org/sqlite"
)

// auditCap bounds the audit log; the oldest entries are dropped first
const auditCap = 1000

var (
	// ErrNotFound is returned when a requested record does not exist
	ErrNotFound = errors.New("record not found")
)

// formatTimestamp converts time.Time to SQLite-compatible UTC ISO8601 string
// The Z suffix ensures the Go sqlite driver parses it back as UTC
func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

//go:embed schema.sql
var schema string

// Store provides database access
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting pragmas: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Donator methods ---

// UpsertDonator creates or replaces a donator record. The handle is the
// case-sensitive key; at most one record exists per handle.
func (s *Store) UpsertDonator(ctx context.Context, d *domain.Donator) error {
	if err := domain.ValidateHandle(d.Handle); err != nil {
		return err
	}
	if d.Tier == "" {
		return fmt.Errorf("donator %q: tier must not be empty", d.Handle)
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO donators (handle, tier, is_admin, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(handle) DO UPDATE SET
			tier = excluded.tier,
			is_admin = excluded.is_admin
	`, d.Handle, d.Tier, d.IsAdmin, formatTimestamp(d.CreatedAt))
	return err
}

// GetDonator returns the donator record for a handle
func (s *Store) GetDonator(ctx context.Context, handle string) (*domain.Donator, error) {
	var d domain.Donator
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT handle, tier, is_admin, created_at FROM donators WHERE handle = ?
	`, handle).Scan(&d.Handle, &d.Tier, &d.IsAdmin, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &d, nil
}

// DeleteDonator removes a donator record
func (s *Store) DeleteDonator(ctx context.Context, handle string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM donators WHERE handle = ?", handle)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDonators returns all donator records ordered by handle
func (s *Store) ListDonators(ctx context.Context) ([]domain.Donator, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT handle, tier, is_admin, created_at FROM donators ORDER BY handle
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var donators []domain.Donator
	for rows.Next() {
		var d domain.Donator
		var createdAt string
		if err := rows.Scan(&d.Handle, &d.Tier, &d.IsAdmin, &createdAt); err != nil {
			return nil, err
		}
		d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		donators = append(donators, d)
	}
	return donators, rows.Err()
}

// --- Cooldown methods ---

// SetCooldown records the last accepted command for a handle
func (s *Store) SetCooldown(ctx context.Context, c *domain.Cooldown) error {
	if !c.ExpiresAt.After(c.LastUsed) {
		return fmt.Errorf("cooldown for %q: expiry must be after last use", c.Handle)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cooldowns (handle, command, last_used, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(handle) DO UPDATE SET
			command = excluded.command,
			last_used = excluded.last_used,
			expires_at = excluded.expires_at
	`, c.Handle, c.Command, formatTimestamp(c.LastUsed), formatTimestamp(c.ExpiresAt))
	return err
}

// GetCooldown returns the active cooldown for a handle. An expired cooldown
// is deleted lazily and reported as absent.
func (s *Store) GetCooldown(ctx context.Context, handle string, now time.Time) (*domain.Cooldown, error) {
	var c domain.Cooldown
	var lastUsed, expiresAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT handle, command, last_used, expires_at FROM cooldowns WHERE handle = ?
	`, handle).Scan(&c.Handle, &c.Command, &lastUsed, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.LastUsed, _ = time.Parse(time.RFC3339, lastUsed)
	c.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt)

	if !now.Before(c.ExpiresAt) {
		_, _ = s.db.ExecContext(ctx, "DELETE FROM cooldowns WHERE handle = ?", handle)
		return nil, ErrNotFound
	}
	return &c, nil
}

// --- Audit log methods ---

// AppendAudit writes an audit entry and trims the log to the newest entries
func (s *Store) AppendAudit(ctx context.Context, e *domain.AuditEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO audit_log (timestamp, handle, command, accepted, reason)
		VALUES (?, ?, ?, ?, ?)
	`, formatTimestamp(e.Timestamp), e.Handle, e.Command, e.Accepted, e.Reason)
	if err != nil {
		return err
	}
	e.ID, _ = res.LastInsertId()

	// FIFO eviction: keep only the newest auditCap rows
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM audit_log WHERE id NOT IN (
			SELECT id FROM audit_log ORDER BY id DESC LIMIT ?
		)
	`, auditCap); err != nil {
		return err
	}

	return tx.Commit()
}

// ListAudit returns the newest limit audit entries, most recent first
func (s *Store) ListAudit(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 || limit > auditCap {
		limit = auditCap
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, handle, command, accepted, reason
		FROM audit_log ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var ts string
		if err := rows.Scan(&e.ID, &ts, &e.Handle, &e.Command, &e.Accepted, &e.Reason); err != nil {
			return nil, err
		}
		e.Timestamp, _ = time.Parse(time.RFC3339, ts)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountAudit returns the number of retained audit entries
func (s *Store) CountAudit(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_log").Scan(&n)
	return n, err
}

// --- Counter methods ---

// Counter names
const (
	CounterAccepted = "accepted"
	CounterGranted  = "granted"
	CounterBlocked  = "blocked"
)

// IncrCounter increments one of the aggregate counters
func (s *Store) IncrCounter(ctx context.Context, name string) error {
	switch name {
	case CounterAccepted, CounterGranted, CounterBlocked:
	default:
		return fmt.Errorf("unknown counter %q", name)
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE counters SET %s = %s + 1 WHERE id = 1", name, name))
	return err
}

// GetCounters returns the aggregate counter totals
func (s *Store) GetCounters(ctx context.Context) (*domain.Counters, error) {
	var c domain.Counters
	err := s.db.QueryRowContext(ctx,
		"SELECT accepted, granted, blocked FROM counters WHERE id = 1",
	).Scan(&c.Accepted, &c.Granted, &c.Blocked)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
