package authstate

import (
	"context"
	"sync"
)

// Record is the durable state of one browser session. It is the source of
// truth for the optimistic first render before the upstream identity check
// resolves. Fields are written individually; the coordinator never persists
// a whole Session.
type Record struct {
	LoggedIn     bool   `json:"logged_in"`
	Email        string `json:"email"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Store persists session records across reloads. Implementations must treat
// an unknown session ID as an empty record, not an error.
type Store interface {
	Load(ctx context.Context, sid string) (Record, error)
	SetLoggedIn(ctx context.Context, sid string, loggedIn bool) error
	// SetEmail stores the cached email. An empty value clears it.
	SetEmail(ctx context.Context, sid, email string) error
	SetTokens(ctx context.Context, sid, access, refresh string) error
	// Clear removes every field of the session record.
	Clear(ctx context.Context, sid string) error
}

// Watcher is implemented by stores that can deliver change events for a
// session written elsewhere (another tab, another gateway instance). The
// channel is closed when ctx is canceled. Deliveries are best-effort: a slow
// consumer may miss intermediate states but always converges on the last.
type Watcher interface {
	Watch(ctx context.Context, sid string) (<-chan Record, error)
}

// MemoryStore is the in-process Store used for single-instance deployments
// and tests. It also implements Watcher via direct listener fan-out.
type MemoryStore struct {
	mu        sync.Mutex
	records   map[string]Record
	listeners map[string][]chan Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:   make(map[string]Record),
		listeners: make(map[string][]chan Record),
	}
}

func (s *MemoryStore) Load(_ context.Context, sid string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[sid], nil
}

func (s *MemoryStore) SetLoggedIn(_ context.Context, sid string, loggedIn bool) error {
	s.update(sid, func(rec *Record) { rec.LoggedIn = loggedIn })
	return nil
}

func (s *MemoryStore) SetEmail(_ context.Context, sid, email string) error {
	s.update(sid, func(rec *Record) { rec.Email = email })
	return nil
}

func (s *MemoryStore) SetTokens(_ context.Context, sid, access, refresh string) error {
	s.update(sid, func(rec *Record) {
		rec.AccessToken = access
		rec.RefreshToken = refresh
	})
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, sid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, sid)
	for _, ch := range s.listeners[sid] {
		notify(ch, Record{})
	}
	return nil
}

func (s *MemoryStore) Watch(ctx context.Context, sid string) (<-chan Record, error) {
	ch := make(chan Record, 8)
	s.mu.Lock()
	s.listeners[sid] = append(s.listeners[sid], ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		remaining := s.listeners[sid][:0]
		for _, c := range s.listeners[sid] {
			if c != ch {
				remaining = append(remaining, c)
			}
		}
		s.listeners[sid] = remaining
		s.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

func (s *MemoryStore) update(sid string, mutate func(*Record)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.records[sid]
	mutate(&rec)
	s.records[sid] = rec
	for _, ch := range s.listeners[sid] {
		notify(ch, rec)
	}
}

// notify drops the event when the listener is not keeping up. Watchers only
// need the latest state, so losing an intermediate record is harmless.
func notify(ch chan Record, rec Record) {
	select {
	case ch <- rec:
	default:
	}
}
