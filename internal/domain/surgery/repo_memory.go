package surgery

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memState struct {
	surgeries map[string]*Surgery
	ongoing   map[string]*OngoingSurgery
}

func (st memState) clone() memState {
	out := memState{
		surgeries: make(map[string]*Surgery, len(st.surgeries)),
		ongoing:   make(map[string]*OngoingSurgery, len(st.ongoing)),
	}
	for id, s := range st.surgeries {
		out.surgeries[id] = s.Clone()
	}
	for id, o := range st.ongoing {
		out.ongoing[id] = cloneOngoing(o)
	}
	return out
}

func cloneOngoing(o *OngoingSurgery) *OngoingSurgery {
	c := *o
	c.ActualStartTime = cloneTime(o.ActualStartTime)
	c.EndTime = cloneTime(o.EndTime)
	return &c
}

// MemoryStore keeps documents in process. Transactions work on a copy of
// the whole state which replaces the live state only when fn succeeds.
type MemoryStore struct {
	mu    sync.RWMutex
	state memState
	now   func() time.Time
}

func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		state: memState{
			surgeries: make(map[string]*Surgery),
			ongoing:   make(map[string]*OngoingSurgery),
		},
		now: now,
	}
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Surgery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.state.surgeries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Set(_ context.Context, s *Surgery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.surgeries[s.ID] = s.Clone()
	return nil
}

func (m *MemoryStore) UpdateFields(_ context.Context, id string, f Fields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return mergeFields(m.state.surgeries, id, f)
}

func (m *MemoryStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memTx{state: m.state.clone(), now: m.now()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.state = tx.state
	return nil
}

func (m *MemoryStore) List(_ context.Context, f ListFilter, limit, offset int) ([]*Surgery, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matched []*Surgery
	for _, s := range m.state.surgeries {
		if f.match(s) {
			matched = append(matched, s)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].ScheduledAt.Equal(matched[j].ScheduledAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].ScheduledAt.Before(matched[j].ScheduledAt)
	})
	total := len(matched)
	if offset >= total {
		return []*Surgery{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	out := make([]*Surgery, 0, end-offset)
	for _, s := range matched[offset:end] {
		out = append(out, s.Clone())
	}
	return out, total, nil
}

func (m *MemoryStore) FindLatestByMRN(_ context.Context, mrn string) (*Surgery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *Surgery
	for _, s := range m.state.surgeries {
		if s.MRN != mrn {
			continue
		}
		if latest == nil || s.ScheduledAt.After(latest.ScheduledAt) {
			latest = s
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest.Clone(), nil
}

func (m *MemoryStore) ListOngoing(_ context.Context) ([]*OngoingSurgery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*OngoingSurgery, 0, len(m.state.ongoing))
	for _, o := range m.state.ongoing {
		out = append(out, cloneOngoing(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state.surgeries[id]; !ok {
		return ErrNotFound
	}
	delete(m.state.surgeries, id)
	delete(m.state.ongoing, id)
	return nil
}

type memTx struct {
	state memState
	now   time.Time
}

func (tx *memTx) Get(_ context.Context, id string) (*Surgery, error) {
	s, ok := tx.state.surgeries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (tx *memTx) Set(_ context.Context, s *Surgery) error {
	tx.state.surgeries[s.ID] = s.Clone()
	return nil
}

func (tx *memTx) UpdateFields(_ context.Context, id string, f Fields) error {
	return mergeFields(tx.state.surgeries, id, f)
}

func (tx *memTx) GetOngoing(_ context.Context, surgeryID string) (*OngoingSurgery, error) {
	o, ok := tx.state.ongoing[surgeryID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOngoing(o), nil
}

func (tx *memTx) SetOngoing(_ context.Context, o *OngoingSurgery) error {
	tx.state.ongoing[o.SurgeryID] = cloneOngoing(o)
	return nil
}

func (tx *memTx) Now(context.Context) (time.Time, error) { return tx.now, nil }

// mergeFields applies f the same way the Postgres store does: a shallow
// merge over the JSON document.
func mergeFields(docs map[string]*Surgery, id string, f Fields) error {
	s, ok := docs[id]
	if !ok {
		return ErrNotFound
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode surgery: %w", err)
	}
	doc := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode surgery: %w", err)
	}
	for k, v := range f {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode field %s: %w", k, err)
		}
		doc[k] = b
	}
	if raw, err = json.Marshal(doc); err != nil {
		return fmt.Errorf("encode surgery: %w", err)
	}
	var out Surgery
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("decode surgery: %w", err)
	}
	docs[id] = &out
	return nil
}

// -- OR rooms --

type orRoomRepoMemory struct {
	mu    sync.RWMutex
	rooms map[uuid.UUID]*ORRoom
}

func NewORRoomRepoMemory() ORRoomRepository {
	return &orRoomRepoMemory{rooms: make(map[uuid.UUID]*ORRoom)}
}

func (r *orRoomRepoMemory) Create(_ context.Context, o *ORRoom) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.rooms {
		if strings.EqualFold(existing.Name, o.Name) {
			return fmt.Errorf("%w: %q", ErrDuplicateRoom, o.Name)
		}
	}
	o.ID = uuid.New()
	o.CreatedAt = time.Now()
	o.UpdatedAt = o.CreatedAt
	c := *o
	r.rooms[o.ID] = &c
	return nil
}

func (r *orRoomRepoMemory) GetByID(_ context.Context, id uuid.UUID) (*ORRoom, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.rooms[id]
	if !ok {
		return nil, ErrRoomNotFound
	}
	c := *o
	return &c, nil
}

func (r *orRoomRepoMemory) GetByName(_ context.Context, name string) (*ORRoom, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.rooms {
		if strings.EqualFold(o.Name, name) {
			c := *o
			return &c, nil
		}
	}
	return nil, ErrRoomNotFound
}

func (r *orRoomRepoMemory) Update(_ context.Context, o *ORRoom) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.rooms[o.ID]
	if !ok {
		return ErrRoomNotFound
	}
	for id, other := range r.rooms {
		if id != o.ID && strings.EqualFold(other.Name, o.Name) {
			return fmt.Errorf("%w: %q", ErrDuplicateRoom, o.Name)
		}
	}
	o.CreatedAt = existing.CreatedAt
	o.UpdatedAt = time.Now()
	c := *o
	r.rooms[o.ID] = &c
	return nil
}

func (r *orRoomRepoMemory) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[id]; !ok {
		return ErrRoomNotFound
	}
	delete(r.rooms, id)
	return nil
}

func (r *orRoomRepoMemory) List(_ context.Context, limit, offset int) ([]*ORRoom, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var all []*ORRoom
	for _, o := range r.rooms {
		c := *o
		all = append(all, &c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	total := len(all)
	if offset >= total {
		return []*ORRoom{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return all[offset:end], total, nil
}
