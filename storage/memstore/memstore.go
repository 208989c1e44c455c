// Package memstore provides an in-memory implementation of the storage
// interfaces. It is suitable for development, testing, and single-node
// setups that can afford to lose tokens on restart.
package memstore

import (
	"context"
	"sync"

	"github.com/mainhub/authority/storage"
)

// Store is an in-memory implementation of storage.TokenStore and
// storage.ApplicationStore. All maps are guarded by one RWMutex; the
// record values are copied on the way in and out so callers can never
// mutate shared state.
type Store struct {
	mu     sync.RWMutex
	tokens map[storage.Kind]map[string]storage.TokenRecord
	apps   map[string]storage.Application
}

var (
	_ storage.TokenStore       = (*Store)(nil)
	_ storage.ApplicationStore = (*Store)(nil)
)

// New creates an empty in-memory store.
func New() *Store {
	tokens := make(map[storage.Kind]map[string]storage.TokenRecord, 3)
	for _, kind := range storage.Kinds() {
		tokens[kind] = make(map[string]storage.TokenRecord)
	}
	return &Store{
		tokens: tokens,
		apps:   make(map[string]storage.Application),
	}
}

func key(clientID, uid string) string {
	return clientID + "\x00" + uid
}

// AddToken inserts a record into the kind's table.
func (s *Store) AddToken(_ context.Context, kind storage.Kind, rec *storage.TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[kind][key(rec.ClientID, rec.UID)] = *rec
	return nil
}

// GetToken retrieves a record by composite key.
func (s *Store) GetToken(_ context.Context, kind storage.Kind, clientID, uid string) (*storage.TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.tokens[kind][key(clientID, uid)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &rec, nil
}

// DeleteToken removes a record by composite key. Exactly one of any
// set of concurrent deleters observes claimed=true.
func (s *Store) DeleteToken(_ context.Context, kind storage.Kind, clientID, uid string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(clientID, uid)
	if _, ok := s.tokens[kind][k]; !ok {
		return false, nil
	}
	delete(s.tokens[kind], k)
	return true, nil
}

// DeleteExpiredTokens purges every record of the kind whose business
// expiry has passed.
func (s *Store) DeleteExpiredTokens(_ context.Context, kind storage.Kind, now int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, rec := range s.tokens[kind] {
		if rec.ExpiresAt <= now {
			delete(s.tokens[kind], k)
		}
	}
	return nil
}

// GetApplication retrieves an application by id.
func (s *Store) GetApplication(_ context.Context, id string) (*storage.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	app, ok := s.apps[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &app, nil
}

// ListApplications returns the whole client registry.
func (s *Store) ListApplications(_ context.Context) ([]*storage.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	apps := make([]*storage.Application, 0, len(s.apps))
	for id := range s.apps {
		app := s.apps[id]
		apps = append(apps, &app)
	}
	return apps, nil
}

// SeedApplication registers an application. The registry is normally
// maintained out-of-band; this serves development and tests.
func (s *Store) SeedApplication(app *storage.Application) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apps[app.ID] = *app
}
