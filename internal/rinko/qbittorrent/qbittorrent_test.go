package qbittorrent_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/bdobrica/Rinko/internal/rinko/qbittorrent"
)

type fakeQB struct {
	deleted url.Values
}

func (f *fakeQB) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v2/auth/login", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.Form.Get("username") != "admin" || r.Form.Get("password") != "hunter22" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "SID", Value: "abc", Path: "/"})
		w.Write([]byte("Ok."))
	})
	authed := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if c, err := r.Cookie("SID"); err != nil || c.Value != "abc" {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			h(w, r)
		}
	}
	mux.HandleFunc("GET /api/v2/torrents/info", authed(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"hash":"aaa","name":"Show.S01","size":5000000000,"category":"tv"},
			{"hash":"bbb","name":"Movie.2020","size":8000000000,"category":"movies"},
			{"hash":"ccc","name":"Broken","size":1,"category":"tv"},
			{"hash":"ddd","name":"Healthy","size":2,"category":"tv"}]`))
	}))
	mux.HandleFunc("GET /api/v2/torrents/trackers", authed(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("hash") {
		case "aaa":
			w.Write([]byte(`[{"url":"** [DHT] **","msg":""},{"url":"https://t","msg":"Torrent not Registered with this tracker: Unregistered torrent"}]`))
		case "bbb":
			w.Write([]byte(`[{"url":"https://t","msg":"unregistered"}]`))
		case "ccc":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.Write([]byte(`[{"url":"https://t","msg":"Working"}]`))
		}
	}))
	mux.HandleFunc("POST /api/v2/torrents/delete", authed(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		f.deleted = r.PostForm
	}))
	return mux
}

func newClient(t *testing.T, f *fakeQB) *qbittorrent.Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return qbittorrent.New(qbittorrent.Config{BaseURL: srv.URL, Username: "admin", Password: "hunter22"})
}

func TestFindUnregistered(t *testing.T) {
	c := newClient(t, &fakeQB{})

	all, err := c.FindUnregistered(context.Background(), qbittorrent.CategoryAll)
	if err != nil {
		t.Fatalf("FindUnregistered: %v", err)
	}
	if len(all) != 2 || all[0].Hash != "aaa" || all[1].Hash != "bbb" {
		t.Fatalf("all = %+v", all)
	}

	tv, err := c.FindUnregistered(context.Background(), qbittorrent.CategoryTV)
	if err != nil {
		t.Fatalf("FindUnregistered(tv): %v", err)
	}
	if len(tv) != 1 || tv[0].Hash != "aaa" {
		t.Fatalf("tv = %+v", tv)
	}
}

func TestDelete(t *testing.T) {
	f := &fakeQB{}
	c := newClient(t, f)

	n, err := c.Delete(context.Background(), []string{"aaa", "bbb"}, true)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n != 2 {
		t.Errorf("n = %d", n)
	}
	if f.deleted.Get("hashes") != "aaa|bbb" || f.deleted.Get("deleteFiles") != "true" {
		t.Errorf("form = %v", f.deleted)
	}

	if n, err := c.Delete(context.Background(), nil, true); n != 0 || err != nil {
		t.Errorf("empty Delete = %d, %v", n, err)
	}
}

func TestLoginFailure(t *testing.T) {
	srv := httptest.NewServer((&fakeQB{}).handler(t))
	defer srv.Close()
	c := qbittorrent.New(qbittorrent.Config{BaseURL: srv.URL, Username: "admin", Password: "wrong-password"})

	_, err := c.FindUnregistered(context.Background(), "")
	if !errors.Is(err, qbittorrent.ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
}

func TestNotConfigured(t *testing.T) {
	_, err := qbittorrent.New(qbittorrent.Config{}).FindUnregistered(context.Background(), "")
	if !errors.Is(err, qbittorrent.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
