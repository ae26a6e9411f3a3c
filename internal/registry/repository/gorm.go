package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/SubzoneRegistry/internal/registry/model"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// subdomainRow is the GORM mapping of the subdomains table.
type subdomainRow struct {
	ID         string    `gorm:"primaryKey;size:36"`
	Label      string    `gorm:"size:63;not null;uniqueIndex:subdomains_label_key"`
	OwnerID    string    `gorm:"not null;index"`
	OwnerEmail string    `gorm:"not null;default:''"`
	RecordType string    `gorm:"size:8;not null"`
	Target     string    `gorm:"not null"`
	Status     string    `gorm:"size:16;not null;index"`
	DNSCreated bool      `gorm:"column:dns_created;not null;default:false"`
	DNSError   *string   `gorm:"column:dns_error"`
	CreatedAt  time.Time `gorm:"not null;index"`
	ApprovedAt *time.Time
	UpdatedAt  time.Time `gorm:"not null"`
}

func (subdomainRow) TableName() string { return "subdomains" }

func rowFromModel(s *model.Subdomain) *subdomainRow {
	return &subdomainRow{
		ID:         s.ID.String(),
		Label:      s.Label,
		OwnerID:    s.OwnerID,
		OwnerEmail: s.OwnerEmail,
		RecordType: s.RecordType,
		Target:     s.Target,
		Status:     string(s.Status),
		DNSCreated: s.DNSCreated,
		DNSError:   s.DNSError,
		CreatedAt:  s.CreatedAt,
		ApprovedAt: s.ApprovedAt,
		UpdatedAt:  s.UpdatedAt,
	}
}

func (r *subdomainRow) toModel() (*model.Subdomain, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("parse subdomain id %q: %w", r.ID, err)
	}
	return &model.Subdomain{
		ID:         id,
		Label:      r.Label,
		OwnerID:    r.OwnerID,
		OwnerEmail: r.OwnerEmail,
		RecordType: r.RecordType,
		Target:     r.Target,
		Status:     model.Status(r.Status),
		DNSCreated: r.DNSCreated,
		DNSError:   r.DNSError,
		CreatedAt:  r.CreatedAt.UTC(),
		ApprovedAt: r.ApprovedAt,
		UpdatedAt:  r.UpdatedAt.UTC(),
	}, nil
}

// GormRepository stores subdomains in SQLite through GORM, for single-node
// deployments that do not run PostgreSQL.
type GormRepository struct {
	db *gorm.DB
}

// OpenSQLite opens (creating if needed) the SQLite database at path and
// migrates the subdomains table.
func OpenSQLite(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if err := db.AutoMigrate(&subdomainRow{}); err != nil {
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return db, nil
}

// NewGormRepository creates a GormRepository on an opened database.
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) Create(ctx context.Context, s *model.Subdomain) error {
	s.ID = uuid.New()
	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now

	if err := r.db.WithContext(ctx).Create(rowFromModel(s)).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrLabelTaken
		}
		return fmt.Errorf("insert subdomain: %w", err)
	}
	return nil
}

func (r *GormRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Subdomain, error) {
	return r.first(ctx, "id = ?", id.String())
}

func (r *GormRepository) GetByLabel(ctx context.Context, label string) (*model.Subdomain, error) {
	return r.first(ctx, "label = ?", label)
}

func (r *GormRepository) List(ctx context.Context, f model.ListFilter) ([]*model.Subdomain, error) {
	q := r.db.WithContext(ctx).Model(&subdomainRow{})
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	if f.OwnerID != "" {
		q = q.Where("owner_id = ?", f.OwnerID)
	}
	if f.DNSCreated != nil {
		q = q.Where("dns_created = ?", *f.DNSCreated)
	}
	if f.Cursor != nil {
		var c subdomainRow
		err := r.db.WithContext(ctx).Where("id = ?", f.Cursor.String()).First(&c).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return []*model.Subdomain{}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("load cursor: %w", err)
		}
		q = q.Where("created_at < ? OR (created_at = ? AND id < ?)", c.CreatedAt, c.CreatedAt, c.ID)
	}

	var rows []subdomainRow
	if err := q.Order("created_at DESC").Order("id DESC").Limit(f.NormalizedLimit()).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list subdomains: %w", err)
	}
	out := make([]*model.Subdomain, 0, len(rows))
	for i := range rows {
		s, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *GormRepository) UpdateTarget(ctx context.Context, id uuid.UUID, u model.DNSUpdate) (*model.Subdomain, error) {
	res := r.db.WithContext(ctx).Model(&subdomainRow{}).
		Where("id = ?", id.String()).
		Updates(map[string]any{
			"target":      u.Target,
			"dns_created": u.DNSCreated,
			"dns_error":   u.DNSError,
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, fmt.Errorf("update target: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *GormRepository) UpdateDNS(ctx context.Context, id uuid.UUID, u model.DNSUpdate) (*model.Subdomain, error) {
	res := r.db.WithContext(ctx).Model(&subdomainRow{}).
		Where("id = ? AND target = ?", id.String(), u.Target).
		Updates(map[string]any{
			"dns_created": u.DNSCreated,
			"dns_error":   u.DNSError,
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, fmt.Errorf("update dns: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, r.explainMiss(ctx, id, ErrStaleTarget)
	}
	return r.GetByID(ctx, id)
}

func (r *GormRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to model.Status, approvedAt *time.Time) (*model.Subdomain, error) {
	res := r.db.WithContext(ctx).Model(&subdomainRow{}).
		Where("id = ? AND status = ?", id.String(), string(from)).
		Updates(map[string]any{
			"status":      string(to),
			"approved_at": approvedAt,
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, fmt.Errorf("transition status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, r.explainMiss(ctx, id, ErrStatusConflict)
	}
	return r.GetByID(ctx, id)
}

func (r *GormRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Where("id = ?", id.String()).Delete(&subdomainRow{})
	if res.Error != nil {
		return fmt.Errorf("delete subdomain: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormRepository) CountByStatus(ctx context.Context) (map[model.Status]int, error) {
	var rows []struct {
		Status string
		N      int
	}
	err := r.db.WithContext(ctx).Model(&subdomainRow{}).
		Select("status, COUNT(*) AS n").Group("status").Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count subdomains: %w", err)
	}
	counts := map[model.Status]int{}
	for _, row := range rows {
		counts[model.Status(row.Status)] = row.N
	}
	return counts, nil
}

func (r *GormRepository) first(ctx context.Context, query string, args ...any) (*model.Subdomain, error) {
	var row subdomainRow
	err := r.db.WithContext(ctx).Where(query, args...).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

func (r *GormRepository) explainMiss(ctx context.Context, id uuid.UUID, conflict error) error {
	var n int64
	if err := r.db.WithContext(ctx).Model(&subdomainRow{}).Where("id = ?", id.String()).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return conflict
}
