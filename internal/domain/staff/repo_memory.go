package staff

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// -- Staff memory --

type staffRepoMemory struct {
	mu    sync.RWMutex
	staff map[uuid.UUID]*Staff
}

func NewStaffRepoMemory() StaffRepository {
	return &staffRepoMemory{staff: make(map[uuid.UUID]*Staff)}
}

func (r *staffRepoMemory) Create(_ context.Context, s *Staff) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.ID = uuid.New()
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	c := *s
	r.staff[s.ID] = &c
	return nil
}

func (r *staffRepoMemory) GetByID(_ context.Context, id uuid.UUID) (*Staff, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.staff[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *s
	return &c, nil
}

func (r *staffRepoMemory) Update(_ context.Context, s *Staff) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.staff[s.ID]
	if !ok {
		return ErrNotFound
	}
	s.CreatedAt = existing.CreatedAt
	s.UpdatedAt = time.Now()
	c := *s
	r.staff[s.ID] = &c
	return nil
}

func (r *staffRepoMemory) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.staff[id]; !ok {
		return ErrNotFound
	}
	delete(r.staff, id)
	return nil
}

func (r *staffRepoMemory) List(_ context.Context, f StaffFilter, limit, offset int) ([]*Staff, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var all []*Staff
	for _, s := range r.staff {
		if f.Role != "" && s.Role != f.Role {
			continue
		}
		if f.ActiveOnly && !s.IsActive {
			continue
		}
		c := *s
		all = append(all, &c)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Name != all[j].Name {
			return all[i].Name < all[j].Name
		}
		return all[i].ID.String() < all[j].ID.String()
	})
	return page(all, limit, offset), len(all), nil
}

// -- ShiftAssignment memory --

// Unlike the Postgres schema, deleting staff does not remove their
// assignments here.
type shiftRepoMemory struct {
	mu     sync.RWMutex
	shifts map[uuid.UUID]*ShiftAssignment
}

func NewShiftRepoMemory() ShiftRepository {
	return &shiftRepoMemory{shifts: make(map[uuid.UUID]*ShiftAssignment)}
}

func (r *shiftRepoMemory) Create(_ context.Context, a *ShiftAssignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.shifts {
		if existing.Date == a.Date && existing.Shift == a.Shift && existing.StaffID == a.StaffID {
			return ErrDuplicateShift
		}
	}
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	c := *a
	r.shifts[a.ID] = &c
	return nil
}

func (r *shiftRepoMemory) GetByID(_ context.Context, id uuid.UUID) (*ShiftAssignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.shifts[id]
	if !ok {
		return nil, ErrShiftNotFound
	}
	c := *a
	return &c, nil
}

func (r *shiftRepoMemory) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.shifts[id]; !ok {
		return ErrShiftNotFound
	}
	delete(r.shifts, id)
	return nil
}

func (r *shiftRepoMemory) List(_ context.Context, f ShiftFilter, limit, offset int) ([]*ShiftAssignment, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var all []*ShiftAssignment
	for _, a := range r.shifts {
		if f.Date != "" && a.Date != f.Date {
			continue
		}
		if f.Shift != "" && a.Shift != f.Shift {
			continue
		}
		if f.StaffID != nil && a.StaffID != *f.StaffID {
			continue
		}
		if f.Role != "" && a.Role != f.Role {
			continue
		}
		c := *a
		all = append(all, &c)
	}
	sort.Slice(all, func(i, j int) bool {
		x, y := all[i], all[j]
		if x.Date != y.Date {
			return x.Date < y.Date
		}
		if x.Shift != y.Shift {
			return x.Shift < y.Shift
		}
		return x.StaffName < y.StaffName
	})
	return page(all, limit, offset), len(all), nil
}

func page[T any](all []T, limit, offset int) []T {
	if offset >= len(all) {
		return []T{}
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end]
}
