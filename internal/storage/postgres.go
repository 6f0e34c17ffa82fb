package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/uicc-server/uicc-server-pro/internal/models"
)

// PostgresStore implements Store interface for PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate bootstraps the schema
func (s *PostgresStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS brand_overrides (
		iccid      TEXT PRIMARY KEY,
		brand      TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE TABLE IF NOT EXISTS event_logs (
		id          UUID PRIMARY KEY,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		phone_id    INT,
		slot_index  INT,
		iccid       TEXT,
		type        TEXT NOT NULL,
		level       TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		details     JSONB
	);
	CREATE INDEX IF NOT EXISTS idx_event_logs_created_at ON event_logs (created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_event_logs_phone_id ON event_logs (phone_id);`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// SetBrandOverride inserts or replaces a brand override
func (s *PostgresStore) SetBrandOverride(ctx context.Context, override *models.BrandOverride) error {
	if override.ICCID == "" {
		return ErrInvalidData
	}
	override.UpdatedAt = time.Now()

	query := `
		INSERT INTO brand_overrides (iccid, brand, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (iccid) DO UPDATE SET brand = $2, updated_at = $3`

	_, err := s.db.ExecContext(ctx, query, override.ICCID, override.Brand, override.UpdatedAt)
	return err
}

// GetBrandOverride fetches the brand override for an ICCID
func (s *PostgresStore) GetBrandOverride(ctx context.Context, iccid string) (*models.BrandOverride, error) {
	query := `SELECT iccid, brand, updated_at FROM brand_overrides WHERE iccid = $1`

	var o models.BrandOverride
	err := s.db.QueryRowContext(ctx, query, iccid).Scan(&o.ICCID, &o.Brand, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// DeleteBrandOverride removes the brand override for an ICCID
func (s *PostgresStore) DeleteBrandOverride(ctx context.Context, iccid string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM brand_overrides WHERE iccid = $1`, iccid)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListBrandOverrides lists brand overrides
func (s *PostgresStore) ListBrandOverrides(ctx context.Context, limit, offset int) ([]*models.BrandOverride, int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM brand_overrides`).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT iccid, brand, updated_at FROM brand_overrides ORDER BY updated_at DESC LIMIT $1 OFFSET $2`
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var overrides []*models.BrandOverride
	for rows.Next() {
		var o models.BrandOverride
		if err := rows.Scan(&o.ICCID, &o.Brand, &o.UpdatedAt); err != nil {
			return nil, 0, err
		}
		overrides = append(overrides, &o)
	}
	return overrides, total, rows.Err()
}

// CreateEventLog creates an event log entry
func (s *PostgresStore) CreateEventLog(ctx context.Context, event *models.EventLog) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO event_logs (
			id, created_at, phone_id, slot_index, iccid,
			type, level, description, details
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.db.ExecContext(ctx, query,
		event.ID, event.CreatedAt, event.PhoneID, event.SlotIndex, event.ICCID,
		event.Type, event.Level, event.Description, event.Details,
	)
	return err
}

// ListEventLogs lists event logs with filters
func (s *PostgresStore) ListEventLogs(ctx context.Context, filters EventLogFilters, limit, offset int) ([]*models.EventLog, int64, error) {
	where := " WHERE 1=1"
	args := []interface{}{}
	argCount := 0

	add := func(clause string, v interface{}) {
		argCount++
		where += fmt.Sprintf(" AND %s = $%d", clause, argCount)
		args = append(args, v)
	}

	if filters.PhoneID != nil {
		add("phone_id", *filters.PhoneID)
	}
	if filters.SlotIndex != nil {
		add("slot_index", *filters.SlotIndex)
	}
	if filters.ICCID != nil {
		add("iccid", *filters.ICCID)
	}
	if filters.Type != nil {
		add("type", *filters.Type)
	}
	if filters.Level != nil {
		add("level", *filters.Level)
	}
	if filters.StartTime != nil {
		argCount++
		where += fmt.Sprintf(" AND created_at >= $%d", argCount)
		args = append(args, *filters.StartTime)
	}
	if filters.EndTime != nil {
		argCount++
		where += fmt.Sprintf(" AND created_at <= $%d", argCount)
		args = append(args, *filters.EndTime)
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM event_logs"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT id, created_at, phone_id, slot_index, iccid, type, level, description, details
		FROM event_logs` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argCount+1, argCount+2)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var events []*models.EventLog
	for rows.Next() {
		var e models.EventLog
		if err := rows.Scan(&e.ID, &e.CreatedAt, &e.PhoneID, &e.SlotIndex, &e.ICCID,
			&e.Type, &e.Level, &e.Description, &e.Details); err != nil {
			return nil, 0, err
		}
		events = append(events, &e)
	}
	return events, total, rows.Err()
}
