package flags

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fetcherFunc func(ctx context.Context) (map[string]bool, error)

func (f fetcherFunc) Fetch(ctx context.Context) (map[string]bool, error) { return f(ctx) }

func TestStoreServesFetchedFlags(t *testing.T) {
	s := NewStore(fetcherFunc(func(ctx context.Context) (map[string]bool, error) {
		return map[string]bool{"ai_follow_ups_enabled": true}, nil
	}), 0)
	defer s.Close()
	if !s.Enabled("ai_follow_ups_enabled") {
		t.Fatalf("fetched flag not served")
	}
	if s.Enabled("unknown_flag") {
		t.Fatalf("unknown flag should default to disabled")
	}
}

func TestStoreKeepsLastKnownOnFailure(t *testing.T) {
	fail := false
	s := NewStore(fetcherFunc(func(ctx context.Context) (map[string]bool, error) {
		if fail {
			return nil, errors.New("store down")
		}
		return map[string]bool{"a": true}, nil
	}), 0)
	defer s.Close()

	fail = true
	if err := s.Refresh(context.Background()); err == nil {
		t.Fatalf("expected refresh error")
	}
	if !s.Enabled("a") {
		t.Fatalf("failed refresh dropped last-known values")
	}
}

func TestStoreFlooresTTL(t *testing.T) {
	s := NewStore(nil, 0)
	defer s.Close()
	if s.ttl < minTTL {
		t.Fatalf("ttl = %v, want at least %v", s.ttl, minTTL)
	}
}

func TestNilStoreIsDisabled(t *testing.T) {
	var s *Store
	if s.Enabled("anything") {
		t.Fatalf("nil store reported a flag enabled")
	}
}

func TestStatic(t *testing.T) {
	s := Static{"on": true}
	if !s.Enabled("on") || s.Enabled("off") {
		t.Fatalf("static flag lookup broken")
	}
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]bool{"x": true, "y": false})
	}))
	defer srv.Close()
	f := &HTTPFetcher{URL: srv.URL, Client: srv.Client()}
	m, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !m["x"] || m["y"] {
		t.Fatalf("fetched map = %v", m)
	}
}

func TestHTTPFetcherErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	f := &HTTPFetcher{URL: srv.URL, Client: srv.Client()}
	if _, err := f.Fetch(context.Background()); err == nil {
		t.Fatalf("expected error on 500")
	}
}
