package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the production tenant directory.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	s := &PostgresStore{pool: pool}

	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Ping verifies connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if s.pool == nil {
		return fmt.Errorf("postgres not initialized")
	}
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tenants (
			tenant_id TEXT PRIMARY KEY,
			data JSONB NOT NULL,
			limits_version BIGINT NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tenants_tier ON tenants ((data->>'tier'))`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) GetTenant(ctx context.Context, tenantID string) (*Record, error) {
	var (
		data          []byte
		limitsVersion int64
		createdAt     time.Time
		updatedAt     time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT data, limits_version, created_at, updated_at FROM tenants WHERE tenant_id = $1`,
		tenantID,
	).Scan(&data, &limitsVersion, &createdAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant %q: %w", tenantID, err)
	}

	rec := &Record{}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("decode tenant %q: %w", tenantID, err)
	}
	rec.TenantID = tenantID
	rec.LimitsVersion = uint64(limitsVersion)
	rec.CreatedAt = createdAt
	rec.UpdatedAt = updatedAt
	return rec, nil
}

// UpsertTenant writes the record, bumping limits_version when the row
// already exists so stale rate-limit buckets get replaced.
func (s *PostgresStore) UpsertTenant(ctx context.Context, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode tenant %q: %w", rec.TenantID, err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO tenants (tenant_id, data, limits_version, created_at, updated_at)
		VALUES ($1, $2, 1, NOW(), NOW())
		ON CONFLICT (tenant_id) DO UPDATE
		SET data = EXCLUDED.data,
		    limits_version = tenants.limits_version + 1,
		    updated_at = NOW()`,
		rec.TenantID, data,
	)
	if err != nil {
		return fmt.Errorf("upsert tenant %q: %w", rec.TenantID, err)
	}
	return nil
}

func (s *PostgresStore) ListTenants(ctx context.Context) ([]*Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT tenant_id, data, limits_version, created_at, updated_at FROM tenants ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var (
			tenantID      string
			data          []byte
			limitsVersion int64
			createdAt     time.Time
			updatedAt     time.Time
		)
		if err := rows.Scan(&tenantID, &data, &limitsVersion, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		rec := &Record{}
		if err := json.Unmarshal(data, rec); err != nil {
			return nil, fmt.Errorf("decode tenant %q: %w", tenantID, err)
		}
		rec.TenantID = tenantID
		rec.LimitsVersion = uint64(limitsVersion)
		rec.CreatedAt = createdAt
		rec.UpdatedAt = updatedAt
		out = append(out, rec)
	}
	return out, rows.Err()
}
