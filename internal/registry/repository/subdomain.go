package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/SubzoneRegistry/internal/registry/model"
)

const subdomainColumns = `id, label, owner_id, owner_email, record_type, target, status,
	dns_created, dns_error, created_at, approved_at, updated_at`

// SubdomainRepository stores subdomains in PostgreSQL.
type SubdomainRepository struct {
	db *pgxpool.Pool
}

// NewSubdomainRepository creates a new SubdomainRepository.
func NewSubdomainRepository(db *pgxpool.Pool) *SubdomainRepository {
	return &SubdomainRepository{db: db}
}

// Create inserts a new subdomain. Sets ID, CreatedAt and UpdatedAt.
// Returns ErrLabelTaken when the label is already claimed.
func (r *SubdomainRepository) Create(ctx context.Context, s *model.Subdomain) error {
	s.ID = uuid.New()
	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now

	_, err := r.db.Exec(ctx, `
		INSERT INTO subdomains (`+subdomainColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		s.ID, s.Label, s.OwnerID, s.OwnerEmail, s.RecordType, s.Target, s.Status,
		s.DNSCreated, s.DNSError, s.CreatedAt, s.ApprovedAt, s.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrLabelTaken
		}
		return fmt.Errorf("insert subdomain: %w", err)
	}
	return nil
}

// GetByID retrieves a subdomain by its UUID.
func (r *SubdomainRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Subdomain, error) {
	return r.scanOne(ctx, `SELECT `+subdomainColumns+` FROM subdomains WHERE id = $1`, id)
}

// GetByLabel retrieves a subdomain by its normalized label.
func (r *SubdomainRepository) GetByLabel(ctx context.Context, label string) (*model.Subdomain, error) {
	return r.scanOne(ctx, `SELECT `+subdomainColumns+` FROM subdomains WHERE label = $1`, label)
}

// List returns subdomains newest first. A cursor that no longer exists
// yields an empty page.
func (r *SubdomainRepository) List(ctx context.Context, f model.ListFilter) ([]*model.Subdomain, error) {
	query := `
		SELECT ` + subdomainColumns + ` FROM subdomains
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR owner_id = $2)
		  AND ($3::boolean IS NULL OR dns_created = $3)
		  AND ($4::uuid IS NULL OR (created_at, id) < (
		        SELECT created_at, id FROM subdomains WHERE id = $4))
		ORDER BY created_at DESC, id DESC
		LIMIT $5`

	rows, err := r.db.Query(ctx, query, string(f.Status), f.OwnerID, f.DNSCreated, f.Cursor, f.NormalizedLimit())
	if err != nil {
		return nil, fmt.Errorf("list subdomains: %w", err)
	}
	defer rows.Close()

	out := []*model.Subdomain{}
	for rows.Next() {
		s, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpdateTarget sets a new target together with the DNS outcome for it.
func (r *SubdomainRepository) UpdateTarget(ctx context.Context, id uuid.UUID, u model.DNSUpdate) (*model.Subdomain, error) {
	return r.scanOne(ctx, `
		UPDATE subdomains SET
			target      = $2,
			dns_created = $3,
			dns_error   = $4,
			updated_at  = $5
		WHERE id = $1
		RETURNING `+subdomainColumns,
		id, u.Target, u.DNSCreated, u.DNSError, time.Now().UTC())
}

// UpdateDNS records the outcome of a DNS write. The update applies only
// while the record still carries u.Target; otherwise ErrStaleTarget.
func (r *SubdomainRepository) UpdateDNS(ctx context.Context, id uuid.UUID, u model.DNSUpdate) (*model.Subdomain, error) {
	s, err := r.scanOne(ctx, `
		UPDATE subdomains SET
			dns_created = $3,
			dns_error   = $4,
			updated_at  = $5
		WHERE id = $1 AND target = $2
		RETURNING `+subdomainColumns,
		id, u.Target, u.DNSCreated, u.DNSError, time.Now().UTC())
	if errors.Is(err, ErrNotFound) {
		return nil, r.explainMiss(ctx, id, ErrStaleTarget)
	}
	return s, err
}

// TransitionStatus moves a record from one status to another. approvedAt
// is stored as given. Returns ErrStatusConflict when the record is not in
// the from status.
func (r *SubdomainRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to model.Status, approvedAt *time.Time) (*model.Subdomain, error) {
	s, err := r.scanOne(ctx, `
		UPDATE subdomains SET
			status      = $3,
			approved_at = $4,
			updated_at  = $5
		WHERE id = $1 AND status = $2
		RETURNING `+subdomainColumns,
		id, from, to, approvedAt, time.Now().UTC())
	if errors.Is(err, ErrNotFound) {
		return nil, r.explainMiss(ctx, id, ErrStatusConflict)
	}
	return s, err
}

// Delete permanently removes a subdomain, freeing its label.
func (r *SubdomainRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM subdomains WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete subdomain: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountByStatus returns the number of records per status.
func (r *SubdomainRepository) CountByStatus(ctx context.Context) (map[model.Status]int, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM subdomains GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count subdomains: %w", err)
	}
	defer rows.Close()

	counts := map[model.Status]int{}
	for rows.Next() {
		var st model.Status
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		counts[st] = n
	}
	return counts, rows.Err()
}

// explainMiss distinguishes a missing record from a failed condition.
func (r *SubdomainRepository) explainMiss(ctx context.Context, id uuid.UUID, conflict error) error {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM subdomains WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return conflict
}

func (r *SubdomainRepository) scanOne(ctx context.Context, query string, args ...any) (*model.Subdomain, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return r.scan(rows)
}

// scan reads one row; column order follows subdomainColumns.
func (r *SubdomainRepository) scan(rows pgx.Rows) (*model.Subdomain, error) {
	var s model.Subdomain
	err := rows.Scan(
		&s.ID, &s.Label, &s.OwnerID, &s.OwnerEmail, &s.RecordType, &s.Target, &s.Status,
		&s.DNSCreated, &s.DNSError, &s.CreatedAt, &s.ApprovedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
