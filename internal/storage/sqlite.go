package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/mattn/go-sqlite3"

	"github.com/shohag/mediarelay/internal/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsTable = "schema_migrations"

type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrate: init source: %w", err)
	}

	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{
		MigrationsTable: migrationsTable,
	})
	if err != nil {
		return fmt.Errorf("migrate: init db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("migrate: init migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate: up: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- Failed requests ---

const failedRequestColumns = `id, user_id, chat_id, url, platform, error_message, message_ref, status, retry_count, operator_notified, created_at, processed_at`

func (s *SQLiteStorage) CreateFailedRequest(ctx context.Context, fr *models.FailedRequest) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO failed_requests (`+failedRequestColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fr.ID, fr.UserID, fr.ChatID, fr.URL, fr.Platform,
		models.Truncate(fr.ErrorMessage, models.MaxErrorMessageLen),
		fr.MessageRef, fr.Status, fr.RetryCount, boolToInt(fr.OperatorNotified), fr.CreatedAt, fr.ProcessedAt,
	)
	return err
}

func (s *SQLiteStorage) scanFailedRequest(row interface{ Scan(...interface{}) error }) (*models.FailedRequest, error) {
	var fr models.FailedRequest
	var notified int
	var processedAt sql.NullTime
	err := row.Scan(&fr.ID, &fr.UserID, &fr.ChatID, &fr.URL, &fr.Platform, &fr.ErrorMessage, &fr.MessageRef,
		&fr.Status, &fr.RetryCount, &notified, &fr.CreatedAt, &processedAt)
	if err != nil {
		return nil, err
	}
	fr.OperatorNotified = notified == 1
	if processedAt.Valid {
		t := processedAt.Time
		fr.ProcessedAt = &t
	}
	return &fr, nil
}

func (s *SQLiteStorage) GetFailedRequest(ctx context.Context, id string) (*models.FailedRequest, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+failedRequestColumns+` FROM failed_requests WHERE id = ?`, id)
	fr, err := s.scanFailedRequest(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return fr, err
}

func (s *SQLiteStorage) ListFailedRequests(ctx context.Context, status models.FailedRequestStatus, limit int) ([]models.FailedRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryFailedRequests(ctx,
		`SELECT `+failedRequestColumns+` FROM failed_requests WHERE status = ? ORDER BY created_at ASC LIMIT ?`,
		status, limit)
}

func (s *SQLiteStorage) ListUnnotified(ctx context.Context, limit int) ([]models.FailedRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryFailedRequests(ctx,
		`SELECT `+failedRequestColumns+` FROM failed_requests
		 WHERE operator_notified = 0 AND status = 'pending'
		 ORDER BY created_at ASC LIMIT ?`,
		limit)
}

func (s *SQLiteStorage) queryFailedRequests(ctx context.Context, query string, args ...interface{}) ([]models.FailedRequest, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.FailedRequest
	for rows.Next() {
		fr, err := s.scanFailedRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *fr)
	}
	return out, rows.Err()
}

// ClaimFailedRequest moves a pending or failed row to processing and bumps
// its retry count in a single conditional update. It returns (nil, nil) when
// the id is unknown and ErrConflict when the row is already completed or
// being processed.
func (s *SQLiteStorage) ClaimFailedRequest(ctx context.Context, id string) (*models.FailedRequest, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE failed_requests SET status = 'processing', retry_count = retry_count + 1
		 WHERE id = ? AND status IN ('pending', 'failed')`, id)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}

	fr, err := s.GetFailedRequest(ctx, id)
	if err != nil || fr == nil {
		return nil, err
	}
	if n == 0 {
		return fr, ErrConflict
	}
	return fr, nil
}

func (s *SQLiteStorage) FinishFailedRequest(ctx context.Context, id string, status models.FailedRequestStatus, errMsg string, processedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE failed_requests SET status = ?, error_message = ?, processed_at = ? WHERE id = ?`,
		status, models.Truncate(errMsg, models.MaxErrorMessageLen), processedAt, id,
	)
	return err
}

func (s *SQLiteStorage) MarkOperatorNotified(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE failed_requests SET operator_notified = 1 WHERE id = ?`, id)
	return err
}

func (s *SQLiteStorage) CountFailedRequests(ctx context.Context) (*QueueStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM failed_requests GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &QueueStats{}
	for rows.Next() {
		var status models.FailedRequestStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		switch status {
		case models.FailedPending:
			stats.Pending = n
		case models.FailedProcessing:
			stats.Processing = n
		case models.FailedCompleted:
			stats.Completed = n
		case models.FailedFailed:
			stats.Failed = n
		}
		stats.Total += n
	}
	return stats, rows.Err()
}

// --- Credentials ---

func (s *SQLiteStorage) CreateCredential(ctx context.Context, c *models.Credential) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (id, display_name, source_kind, raw_text, status, use_count, fail_count, last_used_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.DisplayName, c.SourceKind, c.RawText, c.Status, c.UseCount, c.FailCount, c.LastUsedAt, c.CreatedAt,
	)
	if isConstraintErr(err) {
		return ErrDuplicate
	}
	return err
}

func (s *SQLiteStorage) ListCredentials(ctx context.Context) ([]models.Credential, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, display_name, source_kind, raw_text, status, use_count, fail_count, last_used_at, created_at
		 FROM credentials ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []models.Credential
	for rows.Next() {
		var c models.Credential
		var lastUsed sql.NullTime
		if err := rows.Scan(&c.ID, &c.DisplayName, &c.SourceKind, &c.RawText, &c.Status, &c.UseCount, &c.FailCount, &lastUsed, &c.CreatedAt); err != nil {
			return nil, err
		}
		if lastUsed.Valid {
			t := lastUsed.Time
			c.LastUsedAt = &t
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

func (s *SQLiteStorage) UpdateCredentialUsage(ctx context.Context, id string, useCount, failCount int64, lastUsedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE credentials SET use_count = ?, fail_count = ?, last_used_at = ? WHERE id = ?`,
		useCount, failCount, lastUsedAt, id,
	)
	return err
}

func (s *SQLiteStorage) UpdateCredentialStatus(ctx context.Context, id string, status models.CredentialStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE credentials SET status = ? WHERE id = ?`, status, id)
	return err
}

func (s *SQLiteStorage) DeleteCredential(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE id = ?`, id)
	return err
}

func isConstraintErr(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
