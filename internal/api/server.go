// Package api implements the Public Request API: the JSON HTTP surface
// external clients (and the review-service UI) use to dry-run an
// assessment, submit a landing job, check or cancel one, and push
// try/git patches directly.
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/mozilla-lando/landingd/internal/assess"
	"github.com/mozilla-lando/landingd/internal/landing"
	"github.com/mozilla-lando/landingd/internal/review"
	"github.com/mozilla-lando/landingd/internal/stack"
)

// RepositoryLookup resolves a repository short name to its landability
// configuration (its URL and access_group), letting handlers check them
// without importing internal/config directly.
type RepositoryLookup interface {
	Lookup(shortName string) (url string, ok bool)
	AccessGroup(shortName string) string
}

// IdentityLookup verifies that a requester's email is a member of a
// repository's landing access group. A nil IdentityLookup (tests, or a
// deployment that hasn't wired one) permits every identity, the same
// fail-open default RepositoryLookup uses for unconfigured repositories.
type IdentityLookup interface {
	IsMember(email, accessGroup string) bool
}

// Server holds the Public Request API's dependencies and exposes an
// http.Handler via Routes(), in the spirit of the teacher's web.Server
// holding its store/db/port and exposing Start().
type Server struct {
	store          *landing.Store
	reviewSvc      review.Service
	repos          RepositoryLookup
	identity       IdentityLookup
	warningChecks  []assess.Check
	blockingChecks []assess.BlockingCheck
	log            *zap.Logger
}

// NewServer builds a Server with its collaborators already constructed.
func NewServer(store *landing.Store, reviewSvc review.Service, repos RepositoryLookup, identity IdentityLookup,
	warningChecks []assess.Check, blockingChecks []assess.BlockingCheck, log *zap.Logger) *Server {
	return &Server{
		store:          store,
		reviewSvc:      reviewSvc,
		repos:          repos,
		identity:       identity,
		warningChecks:  warningChecks,
		blockingChecks: blockingChecks,
		log:            log,
	}
}

// Routes builds the chi router for the Public Request API.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/landing_jobs", s.handleListQueue)
	r.Post("/landing_jobs", s.handleSubmit)
	r.Get("/landing_jobs/{id}", s.handleGet)
	r.Delete("/landing_jobs/{id}", s.handleCancel)
	r.Post("/stacks/{revision_id}/dryrun", s.handleDryrun)
	r.Post("/try/push", s.handleTryPush)

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// lookupRepository resolves a short name against the configured
// repository list. With no RepositoryLookup wired in (tests, or a
// deployment that hasn't set one up), every name is allowed and the
// caller's own repository_url is left untouched.
func (s *Server) lookupRepository(shortName string) (string, bool) {
	if s.repos == nil {
		return "", true
	}
	return s.repos.Lookup(shortName)
}

// accessGroupFor returns the configured access group for a repository, or
// "" if none is configured or no RepositoryLookup is wired in.
func (s *Server) accessGroupFor(shortName string) string {
	if s.repos == nil {
		return ""
	}
	return s.repos.AccessGroup(shortName)
}

// identityBlocker enforces step 1 of the Assessment Engine: the requester
// must carry a verified email, and if the target repository requires
// membership in an access group, the requester must belong to it. With no
// IdentityLookup wired in, membership is assumed — only the verified-email
// check, which needs no collaborator, is always enforced.
func (s *Server) identityBlocker(requesterEmail string, repo *assess.Repository) string {
	if requesterEmail == "" {
		return "Identity does not have a verified email address."
	}
	if repo == nil || repo.AccessGroup == "" || s.identity == nil {
		return ""
	}
	if !s.identity.IsMember(requesterEmail, repo.AccessGroup) {
		return fmt.Sprintf("Identity is not a member of the %s access group.", repo.AccessGroup)
	}
	return ""
}

// stackPathBlocker resolves the full dependency graph for the requested
// stack via the Stack Resolver and checks that the requested revision
// sequence is a prefix of one of its landable paths. A mismatch means
// either a revision outside the requested set blocks the chain, or the
// caller asked to land a subset that doesn't correspond to any
// contiguous, currently-landable run starting at an open root.
func (s *Server) stackPathBlocker(ctx context.Context, seedRevisionID int, requested []stack.RevisionID) (string, error) {
	graph, err := s.reviewSvc.GetStackGraph(ctx, seedRevisionID)
	if err != nil {
		return "", fmt.Errorf("resolving stack graph: %w", err)
	}

	repoNames := map[string]bool{}
	for _, n := range graph.Nodes {
		repoNames[n.RepositoryID] = true
	}
	landableRepos := map[string]bool{}
	for name := range repoNames {
		if _, ok := s.lookupRepository(name); ok {
			landableRepos[name] = true
		}
	}

	result := stack.CalculateLandableSubgraphs(graph, landableRepos, nil)
	for _, path := range result.Paths {
		if isPrefixOfPath(requested, path) {
			return "", nil
		}
	}
	return "The requested set of revisions are not landable.", nil
}

func isPrefixOfPath(requested, path []stack.RevisionID) bool {
	if len(requested) > len(path) {
		return false
	}
	for i, id := range requested {
		if path[i] != id {
			return false
		}
	}
	return true
}

// assembleAssessment fetches each revision, its current diff, and its
// repository from the review service and runs the Assessment Engine over
// them, the shared core of the dryrun and submit endpoints. In addition to
// the per-revision warning/blocking checks, it evaluates the four
// stack-level blocker categories: requester identity, path validity
// against the Stack Resolver's landable paths, staleness of the requested
// diffs, and an active (SUBMITTED, IN_PROGRESS or DEFERRED) landing job
// for any of the requested revisions in the same repository. Revisions of
// the stack that were not requested are not checked.
func (s *Server) assembleAssessment(ctx context.Context, requesterEmail string, revisionReqs []revisionRequest) (*assess.Assessment, []*review.Revision, error) {
	revs := make([]*assess.Revision, 0, len(revisionReqs))
	diffs := make(map[string]*assess.Diff)
	var repo *assess.Repository
	var fetched []*review.Revision
	requestedPath := make([]stack.RevisionID, 0, len(revisionReqs))
	var staleDiffBlocker string
	revisionIDs := make([]string, 0, len(revisionReqs))

	for _, rr := range revisionReqs {
		rev, err := s.reviewSvc.GetRevision(ctx, rr.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("fetching revision %d: %w", rr.ID, err)
		}
		fetched = append(fetched, rev)

		diff, err := s.reviewSvc.GetDiff(ctx, rev.DiffID)
		if err != nil {
			return nil, nil, fmt.Errorf("fetching diff for revision %d: %w", rr.ID, err)
		}

		if repo == nil {
			reviewRepo, err := s.reviewSvc.GetRepository(ctx, rev.RepositoryPHID)
			if err != nil {
				return nil, nil, fmt.Errorf("fetching repository for revision %d: %w", rr.ID, err)
			}
			repo = &assess.Repository{
				ShortName:          reviewRepo.ShortName,
				AccessGroup:        s.accessGroupFor(reviewRepo.ShortName),
				NextSoftFreezeDate: reviewRepo.NextSoftFreezeDate,
				NextMergeDate:      reviewRepo.NextMergeDate,
			}
		}

		key := fmt.Sprintf("%d", rev.ID)
		revs = append(revs, &assess.Revision{
			ID:                key,
			Title:             rev.Title,
			BugID:             rev.BugID,
			IsSecure:          rev.SecureRevision,
			Accepted:          rev.Accepted,
			HasBlockingReview: len(rev.BlockingReviewers) > 0,
			CurrentDiffID:     rev.DiffID,
		})
		diffs[key] = &assess.Diff{ID: diff.ID, Warnings: diff.Warnings}
		requestedPath = append(requestedPath, stack.RevisionID(key))
		revisionIDs = append(revisionIDs, key)

		if staleDiffBlocker == "" && rr.DiffID != 0 && rr.DiffID != rev.DiffID {
			staleDiffBlocker = "A requested diff is not the latest."
		}
	}

	a := assess.Run(revs, diffs, repo, s.warningChecks, s.blockingChecks)

	var stackBlockers []string
	if blocker := s.identityBlocker(requesterEmail, repo); blocker != "" {
		stackBlockers = append(stackBlockers, blocker)
	}
	if len(revisionReqs) > 0 {
		pathBlocker, err := s.stackPathBlocker(ctx, revisionReqs[0].ID, requestedPath)
		if err != nil {
			return nil, nil, err
		}
		if pathBlocker != "" {
			stackBlockers = append(stackBlockers, pathBlocker)
		}
	}
	if staleDiffBlocker != "" {
		stackBlockers = append(stackBlockers, staleDiffBlocker)
	}
	if s.store != nil && repo != nil {
		inProgress, err := s.store.HasInProgress(ctx, repo.ShortName, revisionIDs)
		if err != nil {
			return nil, nil, fmt.Errorf("checking for an in-progress landing: %w", err)
		}
		if inProgress {
			stackBlockers = append(stackBlockers, "A landing for revisions in this stack is already in progress.")
		}
	}
	a.Blockers = append(stackBlockers, a.Blockers...)

	return a, fetched, nil
}
