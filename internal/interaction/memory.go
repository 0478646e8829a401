package interaction

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// MemoryStore keeps interactions and profiles in process memory.
type MemoryStore struct {
	mu        sync.Mutex
	items     map[string]*Interaction
	bySession map[string]string
	profiles  map[string]*UserProfile
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:     make(map[string]*Interaction),
		bySession: make(map[string]string),
		profiles:  make(map[string]*UserProfile),
		now:       time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, rec Interaction) (Interaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.bySession[rec.SessionID]; dup {
		return Interaction{}, errors.Errorf("session %s already exists", rec.SessionID)
	}
	now := s.now().UTC()
	rec.ID = uuid.NewString()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.Tags == nil {
		rec.Tags = []string{}
	}
	stored := clone(rec)
	s.items[rec.ID] = &stored
	s.bySession[rec.SessionID] = rec.ID
	return clone(stored), nil
}

func (s *MemoryStore) Update(_ context.Context, id string, p Patch) (Interaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.items[id]
	if !ok {
		return Interaction{}, errors.Wrapf(ErrNotFound, "id %s", id)
	}
	next := clone(*cur)
	if err := p.Apply(&next, s.now()); err != nil {
		return Interaction{}, err
	}
	*cur = next
	return clone(next), nil
}

func (s *MemoryStore) GetBySessionID(_ context.Context, sessionID string) (Interaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.bySession[sessionID]
	if !ok {
		return Interaction{}, errors.Wrapf(ErrNotFound, "session %s", sessionID)
	}
	return clone(*s.items[id]), nil
}

func (s *MemoryStore) List(_ context.Context, f Filter) ([]Interaction, error) {
	s.mu.Lock()
	out := make([]Interaction, 0, len(s.items))
	for _, rec := range s.items {
		if !f.From.IsZero() && rec.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && rec.CreatedAt.After(f.To) {
			continue
		}
		out = append(out, clone(*rec))
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > f.limit() {
		out = out[:f.limit()]
	}
	return out, nil
}

func (s *MemoryStore) GetProfile(_ context.Context, phone string) (UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[phone]
	if !ok {
		return UserProfile{}, errors.Wrapf(ErrNotFound, "profile %s", phone)
	}
	return *p, nil
}

func (s *MemoryStore) UpsertProfile(_ context.Context, p UserProfile) (UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	if cur, ok := s.profiles[p.Phone]; ok {
		p.ID = cur.ID
		p.CreatedAt = cur.CreatedAt
		p.TotalInteractions = cur.TotalInteractions
	} else {
		p.ID = uuid.NewString()
		p.CreatedAt = now
	}
	if p.Crops == nil {
		p.Crops = []string{}
	}
	p.UpdatedAt = now
	stored := p
	s.profiles[p.Phone] = &stored
	return stored, nil
}

func (s *MemoryStore) IncrementInteractions(_ context.Context, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[phone]
	if !ok {
		return nil
	}
	p.TotalInteractions++
	p.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func clone(rec Interaction) Interaction {
	rec.Tags = append([]string{}, rec.Tags...)
	return rec
}
