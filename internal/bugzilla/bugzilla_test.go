package bugzilla

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestUpdateBug_SendsAPIKeyAndFields(t *testing.T) {
	var gotKey, gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Bugzilla-API-Key")
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret-key")
	err := c.UpdateBug(context.Background(), 1234, map[string]string{"repository": "mozilla-central"})
	if err != nil {
		t.Fatalf("UpdateBug: %v", err)
	}
	if gotKey != "secret-key" {
		t.Errorf("API key = %q, want secret-key", gotKey)
	}
	if gotMethod != http.MethodPut {
		t.Errorf("method = %s, want PUT", gotMethod)
	}
	if gotPath != "/rest/bug/1234" {
		t.Errorf("path = %s, want /rest/bug/1234", gotPath)
	}
}

func TestUpdateBug_PropagatesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key")
	if err := c.UpdateBug(context.Background(), 1, nil); err == nil {
		t.Error("expected error on 500 response")
	}
}
