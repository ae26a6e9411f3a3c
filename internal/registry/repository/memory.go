package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/SubzoneRegistry/internal/registry/model"
)

// MemoryRepository keeps subdomains in process memory. It is safe for
// concurrent use and enforces label uniqueness under its lock.
type MemoryRepository struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]*model.Subdomain
	byLabel map[string]uuid.UUID
	now     func() time.Time
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:    make(map[uuid.UUID]*model.Subdomain),
		byLabel: make(map[string]uuid.UUID),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRepository) Create(_ context.Context, s *model.Subdomain) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byLabel[s.Label]; taken {
		return ErrLabelTaken
	}
	s.ID = uuid.New()
	now := r.now()
	s.CreatedAt = now
	s.UpdatedAt = now

	cp := *s
	r.byID[cp.ID] = &cp
	r.byLabel[cp.Label] = cp.ID
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*model.Subdomain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *MemoryRepository) GetByLabel(_ context.Context, label string) (*model.Subdomain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byLabel[label]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r.byID[id]
	return &cp, nil
}

func (r *MemoryRepository) List(_ context.Context, f model.ListFilter) ([]*model.Subdomain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*model.Subdomain, 0, len(r.byID))
	for _, s := range r.byID {
		all = append(all, s)
	}
	sort.Slice(all, func(i, j int) bool { return newerFirst(all[i], all[j]) })

	var cursor *model.Subdomain
	if f.Cursor != nil {
		c, ok := r.byID[*f.Cursor]
		if !ok {
			return []*model.Subdomain{}, nil
		}
		cursor = c
	}

	limit := f.NormalizedLimit()
	out := []*model.Subdomain{}
	for _, s := range all {
		if cursor != nil && !newerFirst(cursor, s) {
			continue
		}
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		if f.OwnerID != "" && s.OwnerID != f.OwnerID {
			continue
		}
		if f.DNSCreated != nil && s.DNSCreated != *f.DNSCreated {
			continue
		}
		cp := *s
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *MemoryRepository) UpdateTarget(_ context.Context, id uuid.UUID, u model.DNSUpdate) (*model.Subdomain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	s.Target = u.Target
	s.DNSCreated = u.DNSCreated
	s.DNSError = u.DNSError
	s.UpdatedAt = r.now()
	cp := *s
	return &cp, nil
}

func (r *MemoryRepository) UpdateDNS(_ context.Context, id uuid.UUID, u model.DNSUpdate) (*model.Subdomain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Target != u.Target {
		return nil, ErrStaleTarget
	}
	s.DNSCreated = u.DNSCreated
	s.DNSError = u.DNSError
	s.UpdatedAt = r.now()
	cp := *s
	return &cp, nil
}

func (r *MemoryRepository) TransitionStatus(_ context.Context, id uuid.UUID, from, to model.Status, approvedAt *time.Time) (*model.Subdomain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Status != from {
		return nil, ErrStatusConflict
	}
	s.Status = to
	s.ApprovedAt = approvedAt
	s.UpdatedAt = r.now()
	cp := *s
	return &cp, nil
}

func (r *MemoryRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(r.byLabel, s.Label)
	delete(r.byID, id)
	return nil
}

func (r *MemoryRepository) CountByStatus(_ context.Context) (map[model.Status]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := map[model.Status]int{}
	for _, s := range r.byID {
		counts[s.Status]++
	}
	return counts, nil
}

// newerFirst orders by created_at DESC, id DESC.
func newerFirst(a, b *model.Subdomain) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID.String() > b.ID.String()
}
