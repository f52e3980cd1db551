// Package postgres provides a PostgreSQL-backed tenant and membership store.
// It uses pgx/v5 for connection pooling. Driver errors that indicate a
// transient condition are wrapped with storage.ErrUnavailable so the tenant
// resolver can retry them.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhuss/simplecrm/pkg/storage"
)

// Store is a PostgreSQL-backed membership store.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a new PostgreSQL store with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Verify connectivity.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

// CreateTenant inserts a tenant row.
func (s *Store) CreateTenant(ctx context.Context, t storage.Tenant) error {
	_, err := s.pool.Exec(ctx,
		"INSERT INTO tenants (id, name) VALUES ($1, $2)",
		t.ID, t.Name,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return classify(fmt.Errorf("inserting tenant: %w", err))
	}
	return nil
}

// TenantExists reports whether a tenant with the given ID exists.
func (s *Store) TenantExists(ctx context.Context, tenantID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM tenants WHERE id = $1)",
		tenantID,
	).Scan(&exists)
	if err != nil {
		return false, classify(fmt.Errorf("querying tenant: %w", err))
	}
	return exists, nil
}

// GetMembership returns the subject's membership in the tenant, or
// storage.ErrNotFound when the subject is not a member.
func (s *Store) GetMembership(ctx context.Context, tenantID, subject string) (storage.Membership, error) {
	m := storage.Membership{TenantID: tenantID, Subject: subject}
	var role string

	err := s.pool.QueryRow(ctx,
		"SELECT role, created_at FROM tenant_members WHERE tenant_id = $1 AND subject = $2",
		tenantID, subject,
	).Scan(&role, &m.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return storage.Membership{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Membership{}, classify(fmt.Errorf("querying membership: %w", err))
	}

	m.Role = storage.Role(role)
	return m, nil
}

// ListMemberships returns all memberships of a subject ordered by tenant ID.
func (s *Store) ListMemberships(ctx context.Context, subject string) ([]storage.Membership, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT m.tenant_id, t.name, m.role, m.created_at
		FROM tenant_members m
		JOIN tenants t ON t.id = m.tenant_id
		WHERE m.subject = $1
		ORDER BY m.tenant_id
	`, subject)
	if err != nil {
		return nil, classify(fmt.Errorf("listing memberships: %w", err))
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (storage.Membership, error) {
		m := storage.Membership{Subject: subject}
		var role string
		if err := row.Scan(&m.TenantID, &m.TenantName, &role, &m.CreatedAt); err != nil {
			return m, err
		}
		m.Role = storage.Role(role)
		return m, nil
	})
	if err != nil {
		return nil, classify(fmt.Errorf("scanning memberships: %w", err))
	}
	return out, nil
}

// ListMembers returns the members of a tenant ordered by subject.
func (s *Store) ListMembers(ctx context.Context, tenantID string) ([]storage.Membership, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT subject, role, created_at
		FROM tenant_members
		WHERE tenant_id = $1
		ORDER BY subject
	`, tenantID)
	if err != nil {
		return nil, classify(fmt.Errorf("listing members: %w", err))
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (storage.Membership, error) {
		m := storage.Membership{TenantID: tenantID}
		var role string
		if err := row.Scan(&m.Subject, &role, &m.CreatedAt); err != nil {
			return m, err
		}
		m.Role = storage.Role(role)
		return m, nil
	})
	if err != nil {
		return nil, classify(fmt.Errorf("scanning members: %w", err))
	}
	return out, nil
}

// PutMember creates or updates a membership. Returns storage.ErrNotFound if
// the tenant does not exist.
func (s *Store) PutMember(ctx context.Context, m storage.Membership) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tenant_members (tenant_id, subject, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, subject) DO UPDATE SET role = EXCLUDED.role
	`, m.TenantID, m.Subject, string(m.Role))
	if err != nil {
		if isForeignKeyViolation(err) {
			return storage.ErrNotFound
		}
		return classify(fmt.Errorf("upserting membership: %w", err))
	}
	return nil
}

// RemoveMember deletes a membership. Returns storage.ErrNotFound if it did
// not exist.
func (s *Store) RemoveMember(ctx context.Context, tenantID, subject string) error {
	result, err := s.pool.Exec(ctx,
		"DELETE FROM tenant_members WHERE tenant_id = $1 AND subject = $2",
		tenantID, subject,
	)
	if err != nil {
		return classify(fmt.Errorf("deleting membership: %w", err))
	}
	if result.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// classify wraps transient driver failures with storage.ErrUnavailable.
// Caller cancellation is passed through untouched.
func classify(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}
	if isTransient(err) {
		return fmt.Errorf("%w: %w", storage.ErrUnavailable, err)
	}
	return err
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08: connection exception. 57P0x: operator intervention
		// (admin/crash shutdown). 53300: too_many_connections.
		return strings.HasPrefix(pgErr.Code, "08") ||
			strings.HasPrefix(pgErr.Code, "57P0") ||
			pgErr.Code == "53300"
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// isDuplicateKey checks if the error is a PostgreSQL unique violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// isForeignKeyViolation checks for a foreign key violation (23503).
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
