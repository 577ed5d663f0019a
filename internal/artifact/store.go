// Package artifact holds short-lived command outputs until collected or
// expired. Nothing in the store outlives its TTL.
package artifact

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/webpilot/webpilot/pkg/models"
)

// Store is an in-memory TTL store keyed by artifact id.
type Store struct {
	ttl time.Duration
	log *zap.Logger

	mu      sync.RWMutex
	entries map[string]*models.Artifact

	sweepOnce sync.Once
	sweeping  bool
	stop      chan struct{}
	done      chan struct{}

	// now is swapped in tests to control expiry.
	now func() time.Time
}

// NewStore creates a store whose artifacts expire ttl after Put.
func NewStore(ttl time.Duration, log *zap.Logger) *Store {
	return &Store{
		ttl:     ttl,
		log:     log,
		entries: make(map[string]*models.Artifact),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		now:     time.Now,
	}
}

// Put stores the artifact and stamps its expiry. A duplicate id fails with
// Conflict; ids are never overwritten.
func (s *Store) Put(a *models.Artifact) error {
	now := s.now()
	a.CreatedAt = now
	a.ExpiresAt = now.Add(s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[a.ID]; exists {
		return fmt.Errorf("%w: artifact %s already stored", models.ErrConflict, a.ID)
	}
	s.entries[a.ID] = a
	return nil
}

// Get returns the artifact, NotFound if never stored (or already swept),
// or Expired if past its TTL. Expired entries are dropped on access.
func (s *Store) Get(id string) (*models.Artifact, error) {
	s.mu.RLock()
	a, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: artifact %s", models.ErrNotFound, id)
	}
	if a.Expired(s.now()) {
		s.mu.Lock()
		delete(s.entries, id)
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: artifact %s", models.ErrExpired, id)
	}
	return a, nil
}

// Take is fetch-and-delete: the artifact is released to the caller.
func (s *Store) Take(id string) (*models.Artifact, error) {
	a, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
	return a, nil
}

// Len returns the number of stored artifacts, expired ones included until
// the next sweep.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// StartSweep launches the background sweep that removes expired artifacts.
func (s *Store) StartSweep(interval time.Duration) {
	s.sweepOnce.Do(func() {
		s.sweeping = true
		go func() {
			defer close(s.done)
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-s.stop:
					return
				case <-ticker.C:
					s.sweep()
				}
			}
		}()
	})
}

func (s *Store) sweep() {
	now := s.now()
	s.mu.Lock()
	removed := 0
	for id, a := range s.entries {
		if a.Expired(now) {
			delete(s.entries, id)
			removed++
		}
	}
	s.mu.Unlock()
	if removed > 0 {
		s.log.Debug("artifact sweep", zap.Int("removed", removed))
	}
}

// Stop halts the sweep goroutine. Safe to call once after StartSweep.
func (s *Store) Stop() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	if s.sweeping {
		<-s.done
	}
}
