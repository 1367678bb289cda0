package arr_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bdobrica/Rinko/common/retry"
	"github.com/bdobrica/Rinko/internal/rinko/arr"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *arr.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return arr.NewClient(arr.Config{
		Service: "sonarr",
		BaseURL: srv.URL + "/",
		APIKey:  "secret-key",
		Retry:   retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
	})
}

func TestClient_GetSendsAPIKey(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Api-Key"); got != "secret-key" {
			t.Errorf("X-Api-Key = %q", got)
		}
		if r.URL.Path != "/api/v3/rootfolder" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`[{"id":1,"path":"/tv"}]`))
	})

	roots, err := c.RootFolders(context.Background())
	if err != nil {
		t.Fatalf("RootFolders: %v", err)
	}
	if len(roots) != 1 || roots[0].Path != "/tv" {
		t.Fatalf("roots = %+v", roots)
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`[]`))
	})

	if _, err := c.QualityProfiles(context.Background()); err != nil {
		t.Fatalf("QualityProfiles: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
}

func TestClient_DoesNotRetryNotFound(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "missing", http.StatusNotFound)
	})

	_, err := c.Command(context.Background(), 7)
	if !arr.IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestClient_WritesAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.RunCommand(context.Background(), map[string]any{"name": "SeriesSearch"})
	var se *arr.StatusError
	if !errors.As(err, &se) || se.Status != http.StatusInternalServerError {
		t.Fatalf("expected 500 StatusError, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestClient_ErrorBodyIsRedacted(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key secret-key", http.StatusUnauthorized)
	})

	err := c.Delete(context.Background(), "/api/v3/episodefile/3", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if strings.Contains(err.Error(), "secret-key") {
		t.Fatalf("error leaks API key: %v", err)
	}
}

func TestClient_NotConfigured(t *testing.T) {
	c := arr.NewClient(arr.Config{Service: "radarr"})
	if c.Configured() {
		t.Fatal("Configured() = true for empty config")
	}
	_, err := c.RootFolders(context.Background())
	if !errors.Is(err, arr.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestCommandPhase(t *testing.T) {
	if got := (&arr.Command{Status: "Completed"}).Phase(); got != "completed" {
		t.Errorf("Phase() = %q", got)
	}
	if got := (&arr.Command{Status: "queued", State: "Started"}).Phase(); got != "started" {
		t.Errorf("Phase() prefers State, got %q", got)
	}
	var nilCmd *arr.Command
	if got := nilCmd.Phase(); got != "" {
		t.Errorf("nil Phase() = %q", got)
	}
}

func TestRatingsScore(t *testing.T) {
	cases := []struct {
		r    arr.Ratings
		want float64
	}{
		{arr.Ratings{Value: 8.1}, 8.1},
		{arr.Ratings{IMDb: &arr.RatingValue{Value: 7.4}, TMDb: &arr.RatingValue{Value: 6}}, 7.4},
		{arr.Ratings{TMDb: &arr.RatingValue{Value: 6.2}}, 6.2},
		{arr.Ratings{}, 0},
	}
	for _, tc := range cases {
		if got := tc.r.Score(); got != tc.want {
			t.Errorf("Score(%+v) = %v, want %v", tc.r, got, tc.want)
		}
	}
}

func TestRatings_ListForm(t *testing.T) {
	var r arr.Ratings
	if err := json.Unmarshal([]byte(`[{"value":0},{"value":6.8,"votes":10}]`), &r); err != nil {
		t.Fatal(err)
	}
	if r.Score() != 6.8 {
		t.Fatalf("Score() = %v", r.Score())
	}
	if err := json.Unmarshal([]byte(`{"imdb":{"value":7.1}}`), &r); err != nil {
		t.Fatal(err)
	}
	if r.Score() != 7.1 {
		t.Fatalf("Score() = %v", r.Score())
	}
}

func TestClient_SystemStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/system/status" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{"appName":"Sonarr","version":"4.0.9"}`))
	})

	st, err := c.SystemStatus(context.Background())
	if err != nil {
		t.Fatalf("SystemStatus: %v", err)
	}
	if st.AppName != "Sonarr" || st.Version != "4.0.9" {
		t.Errorf("status = %+v", st)
	}
}
