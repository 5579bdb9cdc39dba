package review

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T, responses map[string]string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for path, body := range responses {
		body := body
		mux.HandleFunc("/api/"+path, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, body)
		})
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestGetRevision_ParsesFieldsAndBlockingReviewers(t *testing.T) {
	srv := newTestServer(t, map[string]string{
		"differential.revision.search": `{
			"result": {
				"data": [{
					"id": 123,
					"phid": "PHID-DREV-abc",
					"fields": {
						"title": "Fix the thing",
						"bugzilla.bug-id": 555,
						"repositoryPHID": "PHID-REPO-1",
						"diffPHID": "PHID-DIFF-1",
						"status": {"value": "accepted"}
					},
					"attachments": {
						"reviewers": {
							"reviewers": [
								{"reviewerPHID": "PHID-USER-1", "status": "blocking", "isBlocking": true},
								{"reviewerPHID": "PHID-USER-2", "status": "accepted", "isBlocking": true}
							]
						}
					}
				}]
			},
			"error_code": null,
			"error_info": null
		}`,
	})

	c := NewClient(srv.URL, "dummy-key")
	rev, err := c.GetRevision(context.Background(), 123)
	if err != nil {
		t.Fatalf("GetRevision: %v", err)
	}
	if rev.Title != "Fix the thing" {
		t.Errorf("Title = %q", rev.Title)
	}
	if rev.BugID != 555 {
		t.Errorf("BugID = %d, want 555", rev.BugID)
	}
	if !rev.Accepted {
		t.Error("expected Accepted = true")
	}
	if len(rev.BlockingReviewers) != 1 || rev.BlockingReviewers[0] != "PHID-USER-1" {
		t.Errorf("BlockingReviewers = %v, want [PHID-USER-1]", rev.BlockingReviewers)
	}
}

func TestGetRevision_NotFound(t *testing.T) {
	srv := newTestServer(t, map[string]string{
		"differential.revision.search": `{"result": {"data": []}, "error_code": null, "error_info": null}`,
	})

	c := NewClient(srv.URL, "dummy-key")
	_, err := c.GetRevision(context.Background(), 999)
	if err == nil {
		t.Fatal("expected error for missing revision")
	}
}

func TestCall_ReturnsAPIError(t *testing.T) {
	srv := newTestServer(t, map[string]string{
		"differential.revision.search": `{"result": null, "error_code": "ERR-INVALID-AUTH", "error_info": "Bad API token"}`,
	})

	c := NewClient(srv.URL, "bad-key")
	_, err := c.GetRevision(context.Background(), 1)
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *APIError
	if ae, ok := asAPIError(err); ok {
		apiErr = ae
	}
	if apiErr == nil {
		t.Fatalf("expected wrapped *APIError, got %v", err)
	}
	if apiErr.Code != "ERR-INVALID-AUTH" {
		t.Errorf("Code = %q", apiErr.Code)
	}
}

func asAPIError(err error) (*APIError, bool) {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if ae, ok := err.(*APIError); ok {
			return ae, true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}
