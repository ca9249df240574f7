package memory

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"apk-builder-be/internal/entity"

	"github.com/patrickmn/go-cache"
)

var (
	ErrSessionExists   = errors.New("session already exists")
	ErrSessionNotFound = errors.New("session not found")
)

type record struct {
	mu      sync.Mutex
	session entity.Session
}

type SessionRepository struct {
	cache *cache.Cache

	hooksMu sync.RWMutex
	hooks   []func(id string)
}

// NewSessionRepository keeps sessions for ttl after their last update. A zero
// ttl never expires sessions; cleanup is the janitor interval.
func NewSessionRepository(ttl, cleanup time.Duration) *SessionRepository {
	expiration := ttl
	if expiration <= 0 {
		expiration = cache.NoExpiration
	}
	r := &SessionRepository{
		cache: cache.New(expiration, cleanup),
	}
	r.cache.OnEvicted(func(id string, _ interface{}) {
		r.hooksMu.RLock()
		defer r.hooksMu.RUnlock()
		for _, hook := range r.hooks {
			hook(id)
		}
	})
	return r
}

func (r *SessionRepository) OnEvicted(hook func(id string)) {
	r.hooksMu.Lock()
	r.hooks = append(r.hooks, hook)
	r.hooksMu.Unlock()
}

func (r *SessionRepository) Create(session *entity.Session) error {
	if err := r.cache.Add(session.ID, &record{session: *session}, cache.DefaultExpiration); err != nil {
		return fmt.Errorf("%w: %s", ErrSessionExists, session.ID)
	}
	return nil
}

func (r *SessionRepository) Get(id string) (entity.Session, bool) {
	rec, ok := r.load(id)
	if !ok {
		return entity.Session{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.session, true
}

func (r *SessionRepository) Update(id string, fn func(session *entity.Session) error) error {
	rec, ok := r.load(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	working := rec.session
	if err := fn(&working); err != nil {
		return err
	}
	rec.session = working

	// Refresh the sliding expiration; Replace is a no-op if the janitor won the race.
	_ = r.cache.Replace(id, rec, cache.DefaultExpiration)
	return nil
}

func (r *SessionRepository) Delete(id string) {
	r.cache.Delete(id)
}

func (r *SessionRepository) Count() int {
	return r.cache.ItemCount()
}

func (r *SessionRepository) load(id string) (*record, bool) {
	x, found := r.cache.Get(id)
	if !found {
		return nil, false
	}
	return x.(*record), true
}
