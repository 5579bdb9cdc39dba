// Package worker implements the Landing Worker: the serial, per-repository
// loop that claims landing jobs, applies their patches to a Mercurial
// working copy, runs the configured autoformatter, and pushes upstream.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/mozilla-lando/landingd/internal/landing"
	"github.com/mozilla-lando/landingd/internal/metrics"
	"github.com/mozilla-lando/landingd/internal/patch"
	"github.com/mozilla-lando/landingd/internal/worktree"
)

// TreeStatus reports whether a repository's tree currently accepts
// landings. It does not report whether the tree is gated behind
// release-manager approval.
type TreeStatus interface {
	IsOpen(ctx context.Context, repositoryName string) (bool, error)
}

// BugTracker notifies a bug-tracking service of a landed commit. Satisfied
// by *uplift.Updater. Best-effort from the worker's point of view: a
// failure here never fails the landing itself, which is why NotifyLanded
// has no error return.
type BugTracker interface {
	NotifyLanded(ctx context.Context, commitMessage, repositoryName, commitID string)
}

// RepoUpdateNotifier pings the review service so it refreshes its view of
// a repository after a push, the Go analog of phab_trigger_repo_update.
// Best-effort; failures are logged and swallowed.
type RepoUpdateNotifier interface {
	TriggerRepoUpdate(ctx context.Context, phabIdentifier string) error
}

// PatchSource resolves a job's revisions into parsed patch Records, in
// landing order, typically by fetching raw diffs from the review service
// and running them through internal/patch.
type PatchSource interface {
	PatchesForJob(ctx context.Context, job *landing.Job) ([]*patch.Record, error)
}

// RepositoryConfig is the subset of repository configuration the worker
// needs per landing attempt.
type RepositoryConfig struct {
	Name                 string
	AutoformatEnabled    bool
	ApprovalRequired     bool
	ForcePush            bool
	PhabIdentifier       string
}

// Worker drives the claim/apply/push loop for a fixed set of repositories.
type Worker struct {
	store         *landing.Store
	repos         map[string]*worktree.Repo
	repoConfig    map[string]RepositoryConfig
	treeStatus    TreeStatus
	bugTracker    BugTracker
	notifier      RepoUpdateNotifier
	patches       PatchSource
	log           *zap.Logger
	progress      io.Writer
	graceSeconds  int
	throttle      time.Duration
}

// Option configures optional Worker collaborators.
type Option func(*Worker)

func WithBugTracker(b BugTracker) Option       { return func(w *Worker) { w.bugTracker = b } }
func WithRepoUpdateNotifier(n RepoUpdateNotifier) Option { return func(w *Worker) { w.notifier = n } }
func WithProgress(out io.Writer) Option        { return func(w *Worker) { w.progress = out } }
func WithGraceSeconds(s int) Option            { return func(w *Worker) { w.graceSeconds = s } }
func WithThrottle(d time.Duration) Option      { return func(w *Worker) { w.throttle = d } }

func New(store *landing.Store, repos map[string]*worktree.Repo, repoConfig map[string]RepositoryConfig,
	treeStatus TreeStatus, patches PatchSource, log *zap.Logger, opts ...Option) *Worker {
	w := &Worker{
		store:        store,
		repos:        repos,
		repoConfig:   repoConfig,
		treeStatus:   treeStatus,
		patches:      patches,
		log:          log,
		graceSeconds: 5 * 60,
		throttle:     3 * time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Worker) logf(format string, args ...interface{}) {
	if w.progress != nil {
		fmt.Fprintf(w.progress, "  → "+format+"\n", args...)
	}
}

// repositoryNames returns the set of repository names this worker claims
// jobs for, in map-iteration order (claim ordering itself is enforced by
// the store's ORDER BY, not by this slice's order).
func (w *Worker) repositoryNames() []string {
	names := make([]string, 0, len(w.repos))
	for name := range w.repos {
		names = append(names, name)
	}
	return names
}

// openRepositoryNames returns the subset of this worker's configured
// repositories whose tree is currently open, computing
// applicable_repos ∩ {open trees} before a claim is ever attempted so
// that a closed-tree job is observed but never claimed — claiming it
// and deferring it afterward would flip it to IN_PROGRESS and increment
// attempts for no reason. A repository whose tree status check itself
// errors is excluded for this iteration rather than claimed
// speculatively.
func (w *Worker) openRepositoryNames(ctx context.Context) []string {
	all := w.repositoryNames()
	open := make([]string, 0, len(all))
	for _, name := range all {
		ok, err := w.treeStatus.IsOpen(ctx, name)
		if err != nil {
			w.log.Warn("tree status check failed, skipping repository this iteration", zap.String("repository", name), zap.Error(err))
			continue
		}
		if ok {
			open = append(open, name)
		}
	}
	return open
}

// RunOnce claims at most one job and processes it to completion (or to a
// deferred/failed outcome), returning whether a job was claimed at all —
// callers use this to decide whether to throttle before the next
// iteration, mirroring LandingWorker.loop's "last job finished" tracking.
func (w *Worker) RunOnce(ctx context.Context) (claimed bool, err error) {
	repos := w.openRepositoryNames(ctx)
	if len(repos) == 0 {
		return false, nil
	}
	job, err := w.store.ClaimNext(ctx, repos, w.graceSeconds)
	if err != nil {
		return false, fmt.Errorf("claiming next job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	start := time.Now()
	w.logf("claimed job %d for %s (attempt %d)", job.ID, job.RepositoryName, job.Attempts)

	w.processJob(ctx, job)

	elapsed := time.Since(start)
	metrics.JobDurationSeconds.WithLabelValues(job.RepositoryName).Observe(elapsed.Seconds())
	metrics.PushOutcomesTotal.WithLabelValues(job.RepositoryName, outcomeLabel(job.Status)).Inc()

	duration := int(elapsed.Seconds())
	job.DurationSeconds = &duration
	if err := w.store.Save(ctx, job); err != nil {
		return true, fmt.Errorf("saving job %d after processing: %w", job.ID, err)
	}
	return true, nil
}

// outcomeLabel maps a terminal-or-deferred job status onto a
// metrics.Outcome* label.
func outcomeLabel(status landing.Status) string {
	switch status {
	case landing.StatusLanded:
		return metrics.OutcomeLanded
	case landing.StatusDeferred:
		return metrics.OutcomeDeferred
	default:
		return metrics.OutcomeFailed
	}
}

// Run loops RunOnce until ctx is cancelled, throttling between iterations
// that claimed nothing, matching base.Worker._start's sleep-then-poll
// shape.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		claimed, err := w.RunOnce(ctx)
		if err != nil {
			w.log.Error("worker iteration failed", zap.Error(err))
		}
		if !claimed {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.throttle):
			}
		}
	}
}

// processJob runs the full run_job algorithm against an already-claimed,
// IN_PROGRESS job, applying whatever status transition the outcome calls
// for directly onto the in-memory job. Save is the caller's
// responsibility.
func (w *Worker) processJob(ctx context.Context, job *landing.Job) {
	repo, ok := w.repos[job.RepositoryName]
	if !ok {
		w.fail(job, fmt.Errorf("no repository configured for %q", job.RepositoryName))
		return
	}
	cfg := w.repoConfig[job.RepositoryName]

	open, err := w.treeStatus.IsOpen(ctx, job.RepositoryName)
	if err != nil {
		w.fail(job, fmt.Errorf("checking tree status: %w", err))
		return
	}
	if !open {
		w.defer_(job, "tree is closed")
		return
	}

	scope := repo.ForPush(job.RequesterEmail)
	defer scope.Close()
	w.log.Info("push scope opened", zap.Int64("job_id", job.ID), zap.String("correlation_id", scope.CorrelationID))

	target := ""
	if job.TargetCommitHash != nil {
		target = *job.TargetCommitHash
	}
	baseCset, err := repo.UpdateRepo(target)
	if err != nil {
		w.handleVCSError(job, err)
		return
	}

	patches, err := w.patches.PatchesForJob(ctx, job)
	if err != nil {
		w.fail(job, fmt.Errorf("fetching patches: %w", err))
		return
	}

	for _, rec := range patches {
		if err := repo.ApplyPatch(rec); err != nil {
			w.handleVCSError(job, err)
			return
		}
	}

	if cfg.AutoformatEnabled {
		replacements, err := repo.FormatStack(baseCset)
		if err != nil {
			// Open Question resolution: autoformat failure is terminal
			// (FAIL), not retryable. A formatter failure reflects a
			// static defect in the patch or formatter config, not a
			// transient condition a bare retry would resolve.
			w.fail(job, fmt.Errorf("autoformat failed: %w", err))
			return
		}
		for _, r := range replacements {
			job.FormattedReplacements = append(job.FormattedReplacements, landing.HashReplacement{OldHash: r.OldHash, NewHash: r.NewHash})
		}
	}

	commitID, err := repo.Push(cfg.ForcePush)
	if err != nil {
		w.handleVCSError(job, err)
		return
	}

	if err := job.Transition(landing.ActionLand, landing.TransitionFields{CommitID: &commitID}); err != nil {
		w.log.Error("invalid transition after successful push", zap.Error(err))
		return
	}
	w.logf("landed job %d as %s", job.ID, commitID)

	w.notifyPostLanding(ctx, job, cfg)
}

// handleVCSError maps a typed worktree error onto the job's next status:
// push races and tree-state errors are transient and get DEFERRED so the
// worker retries later; everything else is terminal.
func (w *Worker) handleVCSError(job *landing.Job, err error) {
	var lostRace *worktree.LostPushRace
	var treeClosed *worktree.TreeClosed
	var approvalRequired *worktree.TreeApprovalRequired
	switch {
	case errors.As(err, &lostRace):
		w.defer_(job, err.Error())
	case errors.As(err, &treeClosed):
		w.defer_(job, err.Error())
	case errors.As(err, &approvalRequired):
		w.defer_(job, err.Error())
	default:
		var conflict *worktree.PatchConflict
		if errors.As(err, &conflict) {
			job.ErrorBreakdown = &landing.ErrorBreakdown{
				RevisionID:  job.HeadRevision().RevisionID,
				FailedPaths: toFailedPaths(conflict.FailedPaths),
				RejectPaths: conflict.RejectPaths,
			}
		}
		w.fail(job, err)
	}
}

func toFailedPaths(paths []string) []landing.FailedPath {
	out := make([]landing.FailedPath, len(paths))
	for i, p := range paths {
		out[i] = landing.FailedPath{Path: p}
	}
	return out
}

func (w *Worker) fail(job *landing.Job, cause error) {
	msg := cause.Error()
	if err := job.Transition(landing.ActionFail, landing.TransitionFields{Error: &msg}); err != nil {
		w.log.Error("invalid FAIL transition", zap.Error(err))
	}
	w.logf("job %d failed: %s", job.ID, msg)
}

func (w *Worker) defer_(job *landing.Job, reason string) {
	if err := job.Transition(landing.ActionDefer, landing.TransitionFields{Error: &reason}); err != nil {
		w.log.Error("invalid DEFER transition", zap.Error(err))
	}
	w.logf("job %d deferred: %s", job.ID, reason)
}

// notifyPostLanding runs the best-effort bug-tracker and review-service
// notifications after a successful landing. Failures here are logged, not
// propagated — the landing itself already succeeded.
func (w *Worker) notifyPostLanding(ctx context.Context, job *landing.Job, cfg RepositoryConfig) {
	if w.bugTracker != nil {
		if msg := bugReferenceMessage(job); msg != "" {
			w.bugTracker.NotifyLanded(ctx, msg, job.RepositoryName, job.LandedCommitID)
		}
	}
	if cfg.PhabIdentifier != "" && w.notifier != nil {
		if err := w.notifier.TriggerRepoUpdate(ctx, cfg.PhabIdentifier); err != nil {
			w.log.Warn("repository update notification failed", zap.Int64("job_id", job.ID), zap.Error(err))
		}
	}
}

// bugReferenceMessage builds a synthetic commit-message fragment ("bug
// 1234 bug 5678") out of the bug ids the review service attached to each
// revision in the stack, so uplift.Updater.NotifyLanded's ParseBugs pass
// finds them without the worker needing the real VCS commit message.
func bugReferenceMessage(job *landing.Job) string {
	msg := ""
	for _, rev := range job.Revisions {
		if rev.BugID != 0 {
			msg += fmt.Sprintf("bug %d ", rev.BugID)
		}
	}
	return msg
}
