package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mozilla-lando/landingd/internal/landing"
	"github.com/mozilla-lando/landingd/internal/metrics"
	"github.com/mozilla-lando/landingd/internal/patch"
)

// revisionRequest carries a single revision id and the diff id the client
// last saw for it, so the Assessment Engine can detect a diff that has
// moved on since the caller last looked (the "latest-diff" blocker).
type revisionRequest struct {
	ID     int `json:"id"`
	DiffID int `json:"diff_id"`
}

type dryrunRequest struct {
	Revisions      []revisionRequest `json:"revisions"`
	RequesterEmail string            `json:"requester_email"`
}

// handleDryrun runs the Assessment Engine against a candidate revision
// stack without creating a landing job, returning blockers/warnings and a
// confirmation token the client must echo back to handleSubmit if
// warnings fired.
func (s *Server) handleDryrun(w http.ResponseWriter, r *http.Request) {
	var req dryrunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid request body", err.Error(), nil)
		return
	}
	if len(req.Revisions) == 0 {
		writeProblem(w, http.StatusBadRequest, "revisions is required", "", nil)
		return
	}

	assessment, _, err := s.assembleAssessment(r.Context(), req.RequesterEmail, req.Revisions)
	if err != nil {
		writeProblem(w, http.StatusBadGateway, "Failed to assess revision stack", err.Error(), nil)
		return
	}

	writeJSON(w, http.StatusOK, assessment.ToResponse())
}

type submitRequest struct {
	Revisions         []revisionRequest `json:"revisions"`
	RequesterEmail    string            `json:"requester_email"`
	RepositoryName    string            `json:"repository_name"`
	RepositoryURL     string            `json:"repository_url"`
	ConfirmationToken string            `json:"confirmation_token"`
	TargetCommitHash  string            `json:"target_commit_hash"`
}

// handleSubmit re-runs the assessment (the stack may have changed since
// the client's last dryrun), enforces the blocker/confirmation-token gate,
// and if it passes, submits a new landing job.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid request body", err.Error(), nil)
		return
	}
	if len(req.Revisions) == 0 || req.RequesterEmail == "" || req.RepositoryName == "" {
		writeProblem(w, http.StatusBadRequest, "revisions, requester_email and repository_name are required", "", nil)
		return
	}
	configuredURL, ok := s.lookupRepository(req.RepositoryName)
	if !ok {
		writeProblem(w, http.StatusNotFound, "Unknown repository", req.RepositoryName, nil)
		return
	}
	if configuredURL != "" {
		req.RepositoryURL = configuredURL
	}

	assessment, revs, err := s.assembleAssessment(r.Context(), req.RequesterEmail, req.Revisions)
	if err != nil {
		writeProblem(w, http.StatusBadGateway, "Failed to assess revision stack", err.Error(), nil)
		return
	}

	if err := assessment.RaiseIfBlockedOrUnacknowledged(req.ConfirmationToken); err != nil {
		writeAssessmentError(w, err, assessment)
		return
	}

	revisions := make([]landing.RevisionRef, len(revs))
	for i, rev := range revs {
		revisions[i] = landing.RevisionRef{Index: i, RevisionID: strconv.Itoa(rev.ID), DiffID: rev.DiffID, BugID: rev.BugID}
	}

	opts := landing.CreateOpts{
		RequesterEmail: req.RequesterEmail,
		RepositoryName: req.RepositoryName,
		RepositoryURL:  req.RepositoryURL,
		Revisions:      revisions,
	}
	if req.TargetCommitHash != "" {
		opts.TargetCommitHash = &req.TargetCommitHash
	}

	job, err := s.store.Submit(r.Context(), opts)
	if err != nil {
		writeProblem(w, http.StatusConflict, "Failed to submit landing job", err.Error(), nil)
		return
	}

	writeJSON(w, http.StatusCreated, job.Serialize())
}

func writeAssessmentError(w http.ResponseWriter, err error, assessment interface {
	ToResponse() map[string]interface{}
}) {
	writeProblem(w, http.StatusBadRequest, err.Error(), "", assessment.ToResponse())
}

// handleGet returns a single landing job's current state.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid job id", err.Error(), nil)
		return
	}

	job, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Failed to fetch landing job", err.Error(), nil)
		return
	}
	if job == nil {
		writeProblem(w, http.StatusNotFound, "Landing job not found", "", nil)
		return
	}

	writeJSON(w, http.StatusOK, job.Serialize())
}

// handleCancel cancels a SUBMITTED or DEFERRED job, rejecting any job
// already IN_PROGRESS or in a terminal state, and rejecting any caller
// who isn't the job's own requester.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid job id", err.Error(), nil)
		return
	}
	requesterEmail := r.URL.Query().Get("requester_email")
	if requesterEmail == "" {
		writeProblem(w, http.StatusBadRequest, "requester_email query parameter is required", "", nil)
		return
	}

	job, err := s.store.Cancel(r.Context(), id, requesterEmail)
	if err != nil {
		var forbidden *landing.ErrCancelForbidden
		if errors.As(err, &forbidden) {
			writeProblem(w, http.StatusForbidden, "Only the job's requester may cancel it", err.Error(), nil)
			return
		}
		writeProblem(w, http.StatusConflict, "Failed to cancel landing job", err.Error(), nil)
		return
	}

	writeJSON(w, http.StatusOK, job.Serialize())
}

// handleListQueue lists the active jobs for the given repositories,
// sampling the current queue depth into metrics.QueueDepth as it serves
// the request.
func (s *Server) handleListQueue(w http.ResponseWriter, r *http.Request) {
	repos := r.URL.Query()["repository"]
	if len(repos) == 0 {
		writeProblem(w, http.StatusBadRequest, "at least one repository query parameter is required", "", nil)
		return
	}

	jobs, err := s.store.ListQueue(r.Context(), repos)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Failed to list queue", err.Error(), nil)
		return
	}

	counts := make(map[string]int)
	out := make([]landing.Summary, len(jobs))
	for i, j := range jobs {
		out[i] = j.Serialize()
		if j.Status != landing.StatusInProgress {
			counts[j.RepositoryName]++
		}
	}
	for _, repoName := range repos {
		metrics.QueueDepth.WithLabelValues(repoName).Set(float64(counts[repoName]))
	}

	writeJSON(w, http.StatusOK, out)
}

type tryPushRequest struct {
	BaseCommit     string   `json:"base_commit"`
	Patches        []string `json:"patches"` // base64-encoded
	PatchFormat    string   `json:"patch_format"`
	RequesterEmail string   `json:"requester_email"`
	RepositoryName string   `json:"repository_name"`
	RepositoryURL  string   `json:"repository_url"`
}

// handleTryPush implements the supplemented try/git push surface: patches
// are parsed and validated up-front, but the Assessment Engine is
// deliberately bypassed — try pushes are not Phabricator-stack landings.
func (s *Server) handleTryPush(w http.ResponseWriter, r *http.Request) {
	var req tryPushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid request body", err.Error(), nil)
		return
	}
	if req.BaseCommit == "" || len(req.Patches) == 0 || req.RequesterEmail == "" || req.RepositoryName == "" {
		writeProblem(w, http.StatusBadRequest, "base_commit, patches, requester_email and repository_name are required", "", nil)
		return
	}
	configuredURL, ok := s.lookupRepository(req.RepositoryName)
	if !ok {
		writeProblem(w, http.StatusNotFound, "Unknown repository", req.RepositoryName, nil)
		return
	}
	if configuredURL != "" {
		req.RepositoryURL = configuredURL
	}

	dialect := patch.DialectGitFormatPatch
	if req.PatchFormat == "hgexport" {
		dialect = patch.DialectHgExport
	}

	revisions := make([]landing.RevisionRef, 0, len(req.Patches))
	for i, encoded := range req.Patches {
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid base64 patch content", err.Error(), nil)
			return
		}
		if _, err := patch.Parse(dialect, raw); err != nil {
			writeProblem(w, http.StatusBadRequest, "Failed to parse patch", err.Error(), nil)
			return
		}
		// try pushes don't carry review-service revision ids; the patch
		// bytes travel with the job itself instead of being fetched from
		// the review service at land time.
		revisions = append(revisions, landing.RevisionRef{Index: i, PatchDialect: string(dialect), PatchContent: raw})
	}

	opts := landing.CreateOpts{
		RequesterEmail:   req.RequesterEmail,
		RepositoryName:   req.RepositoryName,
		RepositoryURL:    req.RepositoryURL,
		Revisions:        revisions,
		TargetCommitHash: &req.BaseCommit,
	}

	job, err := s.store.Submit(r.Context(), opts)
	if err != nil {
		writeProblem(w, http.StatusConflict, "Failed to submit try push", err.Error(), nil)
		return
	}

	writeJSON(w, http.StatusCreated, job.Serialize())
}
