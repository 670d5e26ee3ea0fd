package flags

import (
	"context"
	"sync"
	"time"

	"github.com/home-voice-lab/internal/logging"
)

// Fetcher loads the full flag set from a backing store.
type Fetcher interface {
	Fetch(ctx context.Context) (map[string]bool, error)
}

// Store is a process-wide read-mostly flag cache refreshed on a fixed
// interval. Reads never block on the backing store: unavailability keeps
// the last-known values, and unknown flags default to disabled.
type Store struct {
	fetcher Fetcher
	ttl     time.Duration

	mu    sync.RWMutex
	flags map[string]bool

	cancel context.CancelFunc
	done   chan struct{}
}

const minTTL = 60 * time.Second

// NewStore builds a store around fetcher and starts the refresh loop. The
// TTL is floored at one minute.
func NewStore(fetcher Fetcher, ttl time.Duration) *Store {
	if ttl < minTTL {
		ttl = minTTL
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		fetcher: fetcher,
		ttl:     ttl,
		flags:   map[string]bool{},
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	_ = s.Refresh(ctx)
	go s.loop(ctx)
	return s
}

func (s *Store) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.Refresh(ctx)
		}
	}
}

// Refresh reloads the flag set once. Failures leave the cache untouched.
func (s *Store) Refresh(ctx context.Context) error {
	if s.fetcher == nil {
		return nil
	}
	fctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	m, err := s.fetcher.Fetch(fctx)
	if err != nil {
		logging.Warnw("feature flag refresh failed; keeping last-known values", "err", err)
		return err
	}
	s.mu.Lock()
	s.flags = m
	s.mu.Unlock()
	logging.Debugw("feature flags refreshed", "count", len(m))
	return nil
}

// Enabled implements session.FeatureFlags.
func (s *Store) Enabled(name string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flags[name]
}

// Close stops the refresh loop.
func (s *Store) Close() {
	s.cancel()
	<-s.done
}

// Static is a fixed flag set, handy for tests and single-binary deployments
// with no flag service.
type Static map[string]bool

// Enabled implements session.FeatureFlags.
func (s Static) Enabled(name string) bool { return s[name] }
