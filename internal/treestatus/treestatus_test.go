package treestatus

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestIsOpen_OpenStatus(t *testing.T) {
	srv := newTestServer(t, 200, `{"result": {"status": "open"}}`)
	c := NewClient(srv.URL)

	open, err := c.IsOpen(context.Background(), "mozilla-central")
	if err != nil {
		t.Fatalf("IsOpen: %v", err)
	}
	if !open {
		t.Error("expected open = true")
	}
}

func TestIsOpen_ApprovalRequiredCountsAsOpen(t *testing.T) {
	srv := newTestServer(t, 200, `{"result": {"status": "approval required"}}`)
	c := NewClient(srv.URL)

	open, err := c.IsOpen(context.Background(), "comm-central")
	if err != nil {
		t.Fatalf("IsOpen: %v", err)
	}
	if !open {
		t.Error("expected open = true for approval required")
	}
}

func TestIsOpen_ClosedStatus(t *testing.T) {
	srv := newTestServer(t, 200, `{"result": {"status": "closed"}}`)
	c := NewClient(srv.URL)

	open, err := c.IsOpen(context.Background(), "mozilla-central")
	if err != nil {
		t.Fatalf("IsOpen: %v", err)
	}
	if open {
		t.Error("expected open = false")
	}
}

func TestIsOpen_UnknownTreeAssumedOpen(t *testing.T) {
	srv := newTestServer(t, 404, `{"detail": "tree not found"}`)
	c := NewClient(srv.URL)

	open, err := c.IsOpen(context.Background(), "nonexistent-tree")
	if err != nil {
		t.Fatalf("IsOpen: %v", err)
	}
	if !open {
		t.Error("expected unknown tree to be treated as open")
	}
}

func TestIsOpen_ServerErrorPropagates(t *testing.T) {
	srv := newTestServer(t, 500, `{"detail": "internal error"}`)
	c := NewClient(srv.URL)

	_, err := c.IsOpen(context.Background(), "mozilla-central")
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestIsOpen_EmptyRepositoryNameErrors(t *testing.T) {
	c := NewClient(DefaultURL)
	_, err := c.IsOpen(context.Background(), "")
	if err == nil {
		t.Fatal("expected error for empty repository name")
	}
}
