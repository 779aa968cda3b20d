package storerecord

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Open opens the store database and applies the schema. Per the spec's
// "local file DB" default and the single-writer provisioning process, the
// connection pool is capped at one connection: SQLite has no useful
// concurrent-writer story here, and serializing through one *sql.DB
// connection is the cheapest way to get the per-store linearizability the
// Provisioning Worker's status-transition locking needs (see the worker
// pool's "one task per store" invariant).
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	dsn := strings.TrimPrefix(databaseURL, "file:")

	db, err := sql.Open("sqlite", dsn+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return db, nil
}

// Store is the Store Store: durable CRUD over Store Records.
type Store struct {
	db *sql.DB
}

// New wraps an already-opened database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func randSuffix(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return string(out), nil
}

// Create inserts a new Store Record in PROVISIONING status. The ID is
// derived as "<name>-<8 random lowercase alphanumerics>"; on the
// astronomically unlikely chance that suffix collides with an existing ID,
// it retries with a fresh suffix, making at most 3 attempts in all.
func (s *Store) Create(ctx context.Context, p CreateParams) (Record, error) {
	if err := p.validate(); err != nil {
		return Record{}, err
	}

	now := time.Now().UTC()
	rec := Record{
		Name:          p.Name,
		Engine:        p.Engine,
		Status:        StatusProvisioning,
		AdminUsername: p.AdminUsername,
		AdminEmail:    p.AdminEmail,
		AdminPassword: p.AdminPassword,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	const maxAttempts = 3
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		suffix, err := randSuffix(8)
		if err != nil {
			return Record{}, fmt.Errorf("generate id suffix: %w", err)
		}
		rec.ID = fmt.Sprintf("%s-%s", p.Name, suffix)
		rec.HelmRelease = rec.ID
		rec.Namespace = fmt.Sprintf("store-%s", rec.ID)

		_, err = s.db.ExecContext(ctx, `
			INSERT INTO stores (
				id, name, engine, namespace, helm_release, status,
				store_url, failure_reason,
				admin_username, admin_email, admin_password,
				created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, NULL, NULL, ?, ?, ?, ?, ?)`,
			rec.ID, rec.Name, string(rec.Engine), rec.Namespace, rec.HelmRelease, string(rec.Status),
			rec.AdminUsername, rec.AdminEmail, rec.AdminPassword,
			formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
		)
		if err == nil {
			return rec, nil
		}
		if isUniqueViolation(err) {
			if idCollision(err) {
				lastErr = err
				continue // retry with a new random suffix
			}
			return Record{}, ErrNameConflict
		}
		return Record{}, fmt.Errorf("insert store record: %w", err)
	}
	return Record{}, fmt.Errorf("generate unique store id after %d attempts: %w", maxAttempts, lastErr)
}

// idCollision best-effort distinguishes a primary-key collision (retryable)
// from the name-uniqueness index (not retryable, maps to ErrNameConflict).
// modernc.org/sqlite doesn't expose a typed constraint-name in its error, so
// this matches on the column SQLite names in its message: "stores.id" for
// the primary key, "stores.name" for stores_name_live_idx.
func idCollision(err error) bool {
	return strings.Contains(err.Error(), "stores.id")
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// timeLayout is RFC 3339 with a fixed-width nanosecond fraction, so stored
// timestamps sort in time order when compared as strings.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

const selectColumns = `id, name, engine, namespace, helm_release, status, store_url, failure_reason, admin_username, admin_email, admin_password, created_at, updated_at`

func scanRecord(row interface{ Scan(...any) error }) (Record, error) {
	var rec Record
	var engine, status, createdAt, updatedAt string
	var storeURL, failureReason sql.NullString

	err := row.Scan(
		&rec.ID, &rec.Name, &engine, &rec.Namespace, &rec.HelmRelease, &status,
		&storeURL, &failureReason,
		&rec.AdminUsername, &rec.AdminEmail, &rec.AdminPassword,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return Record{}, err
	}

	rec.Engine = Engine(engine)
	rec.Status = Status(status)
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	if storeURL.Valid {
		v := storeURL.String
		rec.StoreURL = &v
	}
	if failureReason.Valid {
		v := failureReason.String
		rec.FailureReason = &v
	}
	return rec, nil
}

// Get fetches a Store Record by ID.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM stores WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get store record: %w", err)
	}
	return rec, nil
}

// List returns all Store Records, most recently created first.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM stores ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list store records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan store record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListNonTerminal returns Records in PROVISIONING or DELETING status, used
// by the Recovery Controller on startup.
func (s *Store) ListNonTerminal(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM stores WHERE status IN (?, ?) ORDER BY created_at ASC`,
		string(StatusProvisioning), string(StatusDeleting),
	)
	if err != nil {
		return nil, fmt.Errorf("list non-terminal store records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan store record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// transitionOpts configures an UpdateStatus call.
type transitionOpts struct {
	storeURL      *string
	failureReason *string
}

// TransitionOption mutates fields alongside a status transition.
type TransitionOption func(*transitionOpts)

// WithStoreURL sets store_url (used on the PROVISIONING -> READY transition, I4).
func WithStoreURL(url string) TransitionOption {
	return func(o *transitionOpts) { o.storeURL = &url }
}

// WithFailureReason sets failure_reason (used on the PROVISIONING -> FAILED transition, I5).
func WithFailureReason(reason string) TransitionOption {
	return func(o *transitionOpts) { o.failureReason = &reason }
}

// UpdateStatus atomically validates and applies a status transition. It
// enforces I4 (store_url set iff entering READY, cleared otherwise) and I5
// (failure_reason set iff entering FAILED, cleared otherwise).
func (s *Store) UpdateStatus(ctx context.Context, id string, newStatus Status, opts ...TransitionOption) (Record, error) {
	var o transitionOpts
	for _, opt := range opts {
		opt(&o)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM stores WHERE id = ?`, id)
	current, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get store record: %w", err)
	}

	if !CanTransition(current.Status, newStatus) {
		return Record{}, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current.Status, newStatus)
	}
	if newStatus == StatusReady && o.storeURL == nil {
		return Record{}, errInvalid("store_url is required when entering READY")
	}
	if newStatus == StatusFailed && o.failureReason == nil {
		return Record{}, errInvalid("failure_reason is required when entering FAILED")
	}

	var storeURL, failureReason *string
	if newStatus == StatusReady {
		storeURL = o.storeURL
	}
	if newStatus == StatusFailed {
		failureReason = o.failureReason
	}

	now := formatTime(time.Now())
	_, err = tx.ExecContext(ctx,
		`UPDATE stores SET status = ?, store_url = ?, failure_reason = ?, updated_at = ? WHERE id = ?`,
		string(newStatus), storeURL, failureReason, now, id,
	)
	if err != nil {
		return Record{}, fmt.Errorf("update store record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("commit transaction: %w", err)
	}

	current.Status = newStatus
	current.StoreURL = storeURL
	current.FailureReason = failureReason
	current.UpdatedAt = parseTime(now)
	return current, nil
}

// Delete permanently removes a terminal Store Record. Not exposed over the
// REST surface; retained for operator tooling, mirroring DELETED
// being a true terminal state rather than a soft-delete marker a caller
// queries around.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM stores WHERE id = ? AND status = ?`, id, string(StatusDeleted))
	if err != nil {
		return fmt.Errorf("delete store record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete store record: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
