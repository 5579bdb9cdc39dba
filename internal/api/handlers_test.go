package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"go.uber.org/zap"

	"github.com/mozilla-lando/landingd/internal/assess"
	"github.com/mozilla-lando/landingd/internal/review"
	"github.com/mozilla-lando/landingd/internal/stack"
)

type fakeReview struct {
	revisions map[int]*review.Revision
	diffs     map[int]*review.Diff
	repo      *review.Repository
}

func (f *fakeReview) GetRevision(ctx context.Context, id int) (*review.Revision, error) {
	return f.revisions[id], nil
}
func (f *fakeReview) GetDiff(ctx context.Context, id int) (*review.Diff, error) {
	return f.diffs[id], nil
}
func (f *fakeReview) GetRepository(ctx context.Context, phid string) (*review.Repository, error) {
	return f.repo, nil
}

// GetStackGraph returns a single-node, single-path graph seeded from the
// revision the caller asked about, so tests that don't care about the
// Stack Resolver's own behavior get an always-landable stack by default.
func (f *fakeReview) GetStackGraph(ctx context.Context, seedRevisionID int) (*stack.Graph, error) {
	seed := f.revisions[seedRevisionID]
	repoID := ""
	if f.repo != nil {
		repoID = f.repo.ShortName
	}
	id := stack.RevisionID(strconv.Itoa(seed.ID))
	nodes := map[stack.RevisionID]*stack.Revision{
		id: {ID: id, RepositoryID: repoID, Status: stack.Status{Closed: seed.Closed}},
	}
	return stack.BuildGraph(nodes, nil), nil
}

func newTestFakeReview() *fakeReview {
	return &fakeReview{
		revisions: map[int]*review.Revision{
			1: {ID: 1, PHID: "PHID-DREV-1", Title: "Fix the thing", DiffID: 10, RepositoryPHID: "PHID-REPO-1", Accepted: true},
		},
		diffs: map[int]*review.Diff{
			10: {ID: 10, RevisionID: 1},
		},
		repo: &review.Repository{PHID: "PHID-REPO-1", ShortName: "mozilla-central"},
	}
}

func TestHandleDryrun_NoWarnings(t *testing.T) {
	fr := newTestFakeReview()
	s := NewServer(nil, fr, nil, nil, nil, nil, zap.NewNop())

	body, _ := json.Marshal(dryrunRequest{Revisions: []revisionRequest{{ID: 1, DiffID: 10}}, RequesterEmail: "dev@example.com"})
	req := httptest.NewRequest(http.MethodPost, "/stacks/1/dryrun", bytes.NewReader(body))
	w := httptest.NewRecorder()

	s.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["blocker"] != nil {
		t.Errorf("expected no blocker, got %v", resp["blocker"])
	}
}

func TestHandleDryrun_MissingRevisions(t *testing.T) {
	s := NewServer(nil, newTestFakeReview(), nil, nil, nil, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/stacks/1/dryrun", bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()

	s.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHandleDryrun_MissingRequesterEmailBlocks(t *testing.T) {
	fr := newTestFakeReview()
	s := NewServer(nil, fr, nil, nil, nil, nil, zap.NewNop())

	body, _ := json.Marshal(dryrunRequest{Revisions: []revisionRequest{{ID: 1, DiffID: 10}}})
	req := httptest.NewRequest(http.MethodPost, "/stacks/1/dryrun", bytes.NewReader(body))
	w := httptest.NewRecorder()

	s.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["blocker"] != "Identity does not have a verified email address." {
		t.Errorf("expected the verified-email blocker, got %v", resp["blocker"])
	}
}

func TestHandleDryrun_StaleDiffBlocks(t *testing.T) {
	fr := newTestFakeReview()
	s := NewServer(nil, fr, nil, nil, nil, nil, zap.NewNop())

	body, _ := json.Marshal(dryrunRequest{Revisions: []revisionRequest{{ID: 1, DiffID: 9}}, RequesterEmail: "dev@example.com"})
	req := httptest.NewRequest(http.MethodPost, "/stacks/1/dryrun", bytes.NewReader(body))
	w := httptest.NewRecorder()

	s.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["blocker"] != "A requested diff is not the latest." {
		t.Errorf("expected the stale-diff blocker, got %v", resp["blocker"])
	}
}

func TestHandleDryrun_WIPTitleWarns(t *testing.T) {
	fr := newTestFakeReview()
	fr.revisions[1].Title = "WIP: not ready yet"

	checks := []assess.Check{func(rev *assess.Revision, diff *assess.Diff, repo *assess.Repository) *assess.Warning {
		if len(rev.Title) >= 3 && rev.Title[:3] == "WIP" {
			return &assess.Warning{ID: assess.WarningWIPTitle, RevisionID: rev.ID, Details: rev.Title}
		}
		return nil
	}}
	s := NewServer(nil, fr, nil, nil, checks, nil, zap.NewNop())

	body, _ := json.Marshal(dryrunRequest{Revisions: []revisionRequest{{ID: 1, DiffID: 10}}, RequesterEmail: "dev@example.com"})
	req := httptest.NewRequest(http.MethodPost, "/stacks/1/dryrun", bytes.NewReader(body))
	w := httptest.NewRecorder()

	s.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["confirmation_token"] == nil {
		t.Error("expected a confirmation_token when a warning fired")
	}
}

func TestHandleGet_InvalidID(t *testing.T) {
	// nil *landing.Store would panic on Get; this test only exercises the
	// id-parsing failure path which doesn't reach the store.
	s := NewServer(nil, newTestFakeReview(), nil, nil, nil, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/landing_jobs/not-a-number", nil)
	w := httptest.NewRecorder()

	s.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHandleTryPush_RejectsMissingFields(t *testing.T) {
	s := NewServer(nil, newTestFakeReview(), nil, nil, nil, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/try/push", bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()

	s.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHandleTryPush_RejectsInvalidBase64(t *testing.T) {
	s := NewServer(nil, newTestFakeReview(), nil, nil, nil, nil, zap.NewNop())

	body, _ := json.Marshal(tryPushRequest{
		BaseCommit:     "abc123def456",
		Patches:        []string{"not-valid-base64!!!"},
		RequesterEmail: "dev@example.com",
		RepositoryName: "try",
	})
	req := httptest.NewRequest(http.MethodPost, "/try/push", bytes.NewReader(body))
	w := httptest.NewRecorder()

	s.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400, body = %s", w.Code, w.Body.String())
	}
}

func TestHandleListQueue_RequiresRepositoryParam(t *testing.T) {
	s := NewServer(nil, newTestFakeReview(), nil, nil, nil, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/landing_jobs", nil)
	w := httptest.NewRecorder()

	s.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

type fakeRepoLookup struct {
	urls         map[string]string
	accessGroups map[string]string
}

func (f *fakeRepoLookup) Lookup(shortName string) (string, bool) {
	url, ok := f.urls[shortName]
	return url, ok
}

func (f *fakeRepoLookup) AccessGroup(shortName string) string {
	return f.accessGroups[shortName]
}

func TestHandleSubmit_RejectsUnknownRepository(t *testing.T) {
	s := NewServer(nil, newTestFakeReview(), &fakeRepoLookup{urls: map[string]string{"mozilla-central": "https://hg.mozilla.org/mozilla-central"}}, nil, nil, nil, zap.NewNop())

	body, _ := json.Marshal(submitRequest{Revisions: []revisionRequest{{ID: 1, DiffID: 10}}, RequesterEmail: "dev@example.com", RepositoryName: "not-configured"})
	req := httptest.NewRequest(http.MethodPost, "/landing_jobs", bytes.NewReader(body))
	w := httptest.NewRecorder()

	s.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404, body = %s", w.Code, w.Body.String())
	}
}

type fakeIdentity struct {
	members map[string]bool
}

func (f *fakeIdentity) IsMember(email, accessGroup string) bool {
	return f.members[email+"/"+accessGroup]
}

func TestHandleSubmit_RejectsNonMemberOfAccessGroup(t *testing.T) {
	repos := &fakeRepoLookup{
		urls:         map[string]string{"mozilla-central": "https://hg.mozilla.org/mozilla-central"},
		accessGroups: map[string]string{"mozilla-central": "scm_level_3"},
	}
	identity := &fakeIdentity{members: map[string]bool{}}
	s := NewServer(nil, newTestFakeReview(), repos, identity, nil, nil, zap.NewNop())

	body, _ := json.Marshal(submitRequest{Revisions: []revisionRequest{{ID: 1, DiffID: 10}}, RequesterEmail: "dev@example.com", RepositoryName: "mozilla-central"})
	req := httptest.NewRequest(http.MethodPost, "/landing_jobs", bytes.NewReader(body))
	w := httptest.NewRecorder()

	s.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body = %s", w.Code, w.Body.String())
	}
	var resp map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["blocker"] != "Identity is not a member of the scm_level_3 access group." {
		t.Errorf("expected the access-group blocker, got %v", resp["blocker"])
	}
}

func TestHandleCancel_RequiresRequesterEmail(t *testing.T) {
	s := NewServer(nil, newTestFakeReview(), nil, nil, nil, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodDelete, "/landing_jobs/1", nil)
	w := httptest.NewRecorder()

	s.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400, body = %s", w.Code, w.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	s := NewServer(nil, newTestFakeReview(), nil, nil, nil, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	s.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}
