package config_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/bdobrica/Rinko/internal/rinko/config"
	appstore "github.com/bdobrica/Rinko/internal/rinko/store"
)

// newTestStore returns a config.Store over a fresh temporary database.
func newTestStore(t *testing.T) config.Store {
	t.Helper()
	s, err := appstore.New(filepath.Join(t.TempDir(), "rinko-config-test.db"))
	if err != nil {
		t.Fatalf("appstore.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return config.New(s)
}

func TestGetNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "nlp.model")
	if !errors.Is(err, config.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}
	if _, ok := store.Lookup(context.Background(), "nlp.model"); ok {
		t.Error("Lookup reported a value for an unset key")
	}
}

func TestSetAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "optimize.movie-profile", " HD-1080p "); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := store.Get(ctx, "optimize.movie-profile")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "HD-1080p" {
		t.Errorf("got %q, want %q", got, "HD-1080p")
	}
	if v, ok := store.Lookup(ctx, "optimize.movie-profile"); !ok || v != "HD-1080p" {
		t.Errorf("Lookup = %q, %v", v, ok)
	}
}

func TestSetOverwrite(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "nlp.model", "gpt-4o-mini"); err != nil {
		t.Fatalf("Set(1): %v", err)
	}
	if err := store.Set(ctx, "nlp.model", "gpt-4o"); err != nil {
		t.Fatalf("Set(2): %v", err)
	}
	got, err := store.Get(ctx, "nlp.model")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "gpt-4o" {
		t.Errorf("got %q, want %q", got, "gpt-4o")
	}
}

func TestSetRejectsInvalid(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		key, value string
		unknown    bool
	}{
		{key: "nlp.endpoint", value: "http://localhost", unknown: true},
		{key: "optimize.min-size-gb", value: "lots"},
		{key: "optimize.min-size-gb", value: "-5"},
		{key: "optimize.tv-profile", value: "   "},
	}
	for _, tt := range tests {
		err := store.Set(ctx, tt.key, tt.value)
		if err == nil {
			t.Errorf("Set(%q, %q) succeeded", tt.key, tt.value)
			continue
		}
		if got := errors.Is(err, config.ErrUnknownKey); got != tt.unknown {
			t.Errorf("Set(%q): errors.Is(ErrUnknownKey) = %v, err = %v", tt.key, got, err)
		}
	}
	if err := store.Set(ctx, "optimize.min-size-gb", "25.5"); err != nil {
		t.Errorf("Set(valid number): %v", err)
	}
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "optimize.tv-profile", "HD-720p"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Delete(ctx, "optimize.tv-profile"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, "optimize.tv-profile"); !errors.Is(err, config.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got: %v", err)
	}
	if err := store.Delete(ctx, "optimize.tv-profile"); err != nil {
		t.Fatalf("Delete (idempotent): %v", err)
	}
}

func TestList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	m, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List (empty): %v", err)
	}
	if m == nil || len(m) != 0 {
		t.Fatalf("List on empty store = %#v, want empty map", m)
	}

	pairs := map[string]string{
		"nlp.model":               "gpt-4o",
		"optimize.min-size-gb":    "30",
		"optimize.tv-min-size-gb": "120",
	}
	for k, v := range pairs {
		if err := store.Set(ctx, k, v); err != nil {
			t.Fatalf("Set(%q): %v", k, err)
		}
	}
	m, err = store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for k, want := range pairs {
		if got, ok := m[k]; !ok || got != want {
			t.Errorf("key %q: got %q (present %v), want %q", k, got, ok, want)
		}
	}
}

func TestKeyNamesFollowsAllowlistOrder(t *testing.T) {
	want := "`optimize.min-size-gb`, `optimize.tv-min-size-gb`, `optimize.movie-profile`, `optimize.tv-profile`, `nlp.model`"
	if got := config.KeyNames(); got != want {
		t.Errorf("KeyNames() = %q", got)
	}
}

// SQLite allows one writer; the goroutine count stays well within the
// busy_timeout set by store.New.
func TestConcurrentAccess(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i, k := range config.Keys {
		wg.Add(1)
		go func() {
			defer wg.Done()
			value := fmt.Sprintf("%d", i+1)
			if err := store.Set(ctx, k.Name, value); err != nil {
				t.Errorf("Set(%s): %v", k.Name, err)
				return
			}
			got, err := store.Get(ctx, k.Name)
			if err != nil {
				t.Errorf("Get(%s): %v", k.Name, err)
				return
			}
			if got != value {
				t.Errorf("%s: got %q, want %q", k.Name, got, value)
			}
		}()
	}
	wg.Wait()
}
