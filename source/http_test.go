package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// reportServer serves a mutable body so tests can flip the page underneath
// the poller.
type reportServer struct {
	mu   sync.Mutex
	body string
	etag string
}

func (rs *reportServer) set(body, etag string) {
	rs.mu.Lock()
	rs.body, rs.etag = body, etag
	rs.mu.Unlock()
}

func (rs *reportServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rs.mu.Lock()
		body, etag := rs.body, rs.etag
		rs.mu.Unlock()
		if etag != "" {
			if r.Header.Get("If-None-Match") == etag {
				w.WriteHeader(http.StatusNotModified)
				return
			}
			w.Header().Set("ETag", etag)
		}
		w.Write([]byte(body))
	}
}

func TestHTTP_Fetch(t *testing.T) {
	rs := &reportServer{body: "<table><tr><td>x</td></tr></table>"}
	ts := httptest.NewServer(rs.handler())
	defer ts.Close()

	src := NewHTTP(ts.URL)
	if src.Name() != "http" {
		t.Errorf("Name() = %q", src.Name())
	}
	data, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(data) != rs.body {
		t.Errorf("Fetch = %q", data)
	}
}

func TestHTTP_FetchServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer ts.Close()

	if _, err := NewHTTP(ts.URL).Fetch(context.Background()); err == nil {
		t.Error("expected error for 500 response")
	}
}

func TestHTTP_ChangesOnBodyChange(t *testing.T) {
	rs := &reportServer{body: "v1"}
	ts := httptest.NewServer(rs.handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := NewHTTP(ts.URL, WithInterval(20*time.Millisecond))
	if _, err := src.Fetch(ctx); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	ch, err := src.Changes(ctx)
	if err != nil {
		t.Fatalf("Changes: %v", err)
	}

	rs.set("v2", "")
	waitChange(t, ch)
}

// WHAT: a 304 from a conditional request does not count as a change.
// WHY: the poller sends If-None-Match with the last ETag; a stable page must
// not wake the scanner.
func TestHTTP_ChangesHonorsETag(t *testing.T) {
	rs := &reportServer{body: "v1", etag: `"r1"`}
	ts := httptest.NewServer(rs.handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := NewHTTP(ts.URL, WithInterval(20*time.Millisecond))
	if _, err := src.Fetch(ctx); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	ch, err := src.Changes(ctx)
	if err != nil {
		t.Fatalf("Changes: %v", err)
	}

	select {
	case <-ch:
		t.Fatal("notified while the page was stable")
	case <-time.After(300 * time.Millisecond):
	}

	rs.set("v2", `"r2"`)
	waitChange(t, ch)
}

func TestHTTP_ChannelClosesOnCancel(t *testing.T) {
	rs := &reportServer{body: "v1"}
	ts := httptest.NewServer(rs.handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := NewHTTP(ts.URL, WithInterval(20*time.Millisecond)).Changes(ctx)
	if err != nil {
		t.Fatalf("Changes: %v", err)
	}
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("channel still open after cancel")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}
