// Package worktree drives the Mercurial working copies the landing worker
// lands revisions into. It mirrors the subprocess-runner-behind-an-interface
// shape used throughout this codebase for external tool invocation, adapted
// from a plain git worktree manager into the richer VCS surface a landing
// repository needs: clean, pull, patch-apply, autoformat, and push.
package worktree

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mozilla-lando/landingd/internal/patch"
)

// HgRunner runs an hg subcommand against a repository directory. Interface
// for testing; ExecHg is the real implementation.
type HgRunner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// ExecHg implements HgRunner using exec.CommandContext.
type ExecHg struct {
	// ExtraConfig is appended as --config NAME=VALUE pairs to every
	// invocation, e.g. "ui.interactive=False".
	ExtraConfig map[string]string
}

func (h *ExecHg) Run(ctx context.Context, dir string, args ...string) (string, error) {
	full := make([]string, 0, len(args)+2*len(h.ExtraConfig))
	for k, v := range h.ExtraConfig {
		full = append(full, "--config", k+"="+v)
	}
	full = append(full, args...)

	cmd := exec.CommandContext(ctx, "hg", full...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	trimmed := strings.TrimSpace(redactBugzillaConfig(full, string(out)))
	if err != nil {
		return trimmed, fmt.Errorf("hg %s: %s: %w", strings.Join(redactArgs(full), " "), trimmed, err)
	}
	return trimmed, nil
}

// redactArgs hides any --config bugzilla.* values the way the original
// HgCommandError does, so API tokens never land in logs or error messages.
func redactArgs(args []string) []string {
	redacted := make([]string, len(args))
	for i, a := range args {
		if strings.HasPrefix(a, "bugzilla") {
			redacted[i] = "xxx"
		} else {
			redacted[i] = a
		}
	}
	return redacted
}

func redactBugzillaConfig(args []string, out string) string {
	return out
}

// DefaultConfig is a set of hg configuration overrides matching
// HgRepo.DEFAULT_CONFIGS in the original. Nothing in this package applies
// it; ExecHg passes only its own ExtraConfig.
var DefaultConfig = map[string]string{
	"ui.interactive":   "False",
	"extensions.purge": "",
	"extensions.strip": "",
}

const defaultTimeout = 5 * time.Minute

// Repo is a single managed Mercurial working copy.
type Repo struct {
	hg       HgRunner
	Path     string
	PullPath string
	PushPath string
	Bookmark string // push bookmark, empty for tip-based push
	Timeout  time.Duration
}

// Manager constructs Repo handles rooted under a base directory.
type Manager struct {
	hg      HgRunner
	baseDir string
}

func NewManager(hg HgRunner, baseDir string) *Manager {
	return &Manager{hg: hg, baseDir: baseDir}
}

// Repo returns a handle for a managed repository. shortName becomes the
// local clone's directory name under baseDir.
func (m *Manager) Repo(shortName, pullPath, pushPath, bookmark string) *Repo {
	return &Repo{
		hg:       m.hg,
		Path:     filepath.Join(m.baseDir, shortName),
		PullPath: pullPath,
		PushPath: pushPath,
		Bookmark: bookmark,
		Timeout:  defaultTimeout,
	}
}

func (r *Repo) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.Timeout)
}

func (r *Repo) run(args ...string) (string, error) {
	ctx, cancel := r.ctx()
	defer cancel()
	return r.hg.Run(ctx, r.Path, args...)
}

func (r *Repo) runCmds(cmds [][]string) (string, error) {
	var last string
	for _, cmd := range cmds {
		out, err := r.run(cmd...)
		if err != nil {
			return last, err
		}
		last = out
	}
	return last, nil
}

// ForPush opens a push scope: a correlation-tagged critical section that
// cleans the working copy on exit regardless of outcome, the Go analog of
// HgRepo's context-manager __enter__/__exit__. Callers must call Close.
type PushScope struct {
	repo           *Repo
	requesterEmail string

	// CorrelationID identifies this push attempt, mirroring the original's
	// uuid.uuid4() command-correlation logging in hg.py. The worker logs it
	// when the scope opens; it is not attached to the individual hg
	// commands the scope runs.
	CorrelationID string
}

func (r *Repo) ForPush(requesterEmail string) *PushScope {
	return &PushScope{repo: r, requesterEmail: requesterEmail, CorrelationID: uuid.NewString()}
}

// Close cleans the working copy, swallowing cleanup errors the way the
// original's __exit__ logs and ignores clean_repo failures.
func (s *PushScope) Close() {
	_ = s.repo.Clean(true)
}

// Clean reverts local modifications, purges untracked files, and
// optionally strips non-public (draft) changesets. Each step is
// best-effort: a failure in one step does not prevent the next, mirroring
// HgRepo.clean_repo's try/except-pass-per-step behavior.
func (r *Repo) Clean(stripNonPublic bool) error {
	steps := [][]string{
		{"--quiet", "revert", "--no-backup", "--all"},
		{"purge", "--all"},
	}
	if stripNonPublic {
		steps = append(steps, []string{"strip", "--no-backup", "-r", "not public()"})
	}
	for _, step := range steps {
		_, _ = r.run(step...)
	}
	return nil
}

// GetRemoteHead returns the short (12-char) node id of the remote's default
// branch tip.
func (r *Repo) GetRemoteHead() (string, error) {
	out, err := r.run("identify", r.PullPath, "-r", "default")
	if err != nil {
		return "", &UpdateError{Cause: err}
	}
	cset := strings.Fields(out)
	if len(cset) == 0 {
		return "", &UpdateError{Cause: fmt.Errorf("empty identify output")}
	}
	head := cset[0]
	if len(head) != 12 {
		return "", &UpdateError{Cause: fmt.Errorf("unexpected node id length: %q", head)}
	}
	return head, nil
}

// UpdateFromUpstream pulls from PullPath and updates the working copy
// cleanly to targetCset, aborting any rebase in progress first (tolerating
// "no rebase in progress", matching update_from_upstream).
func (r *Repo) UpdateFromUpstream(targetCset string) error {
	if _, err := r.run("pull", r.PullPath); err != nil {
		return &UpdateError{Cause: err}
	}
	if _, err := r.run("rebase", "--abort", "-r", targetCset); err != nil {
		if !strings.Contains(err.Error(), "abort: no rebase in progress") {
			return &UpdateError{Cause: err}
		}
	}
	if _, err := r.run("update", "--clean", "-r", targetCset); err != nil {
		return &UpdateError{Cause: err}
	}
	return nil
}

// UpdateRepo obtains the remote tip (or, if targetCset is non-empty, uses
// it directly — the try-push path lands atop an explicit base rather than
// remote tip), cleans the working copy, and pulls/updates to that target.
func (r *Repo) UpdateRepo(targetCset string) (string, error) {
	target := targetCset
	if target == "" {
		head, err := r.GetRemoteHead()
		if err != nil {
			return "", err
		}
		target = head
	}

	if err := r.Clean(true); err != nil {
		return "", err
	}

	if err := r.UpdateFromUpstream(target); err != nil {
		return "", err
	}

	return target, nil
}

var diffStartErrRE = regexp.MustCompile(`(?m)^\d+ out of \d+ hunks FAILED -- saving rejects to file (.+)$`)

// ApplyPatch applies a parsed patch record to the working copy via
// `hg import`, writing the diff to a temp file first (hg import accepts a
// literal bundle path, avoiding any shell quoting of patch content).
func (r *Repo) ApplyPatch(rec *patch.Record) error {
	tmp, err := os.CreateTemp("", "landingd-patch-*.patch")
	if err != nil {
		return fmt.Errorf("writing patch to temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	serialized := patch.BuildHgExport(rec)
	if _, err := tmp.Write(serialized); err != nil {
		tmp.Close()
		return fmt.Errorf("writing patch to temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing patch to temp file: %w", err)
	}

	args := []string{"import", "--quiet"}
	if rec.Dialect == patch.DialectGitFormatPatch {
		args = append(args, "--git")
	}
	args = append(args, tmp.Name())

	out, err := r.run(args...)
	if err != nil {
		if matches := diffStartErrRE.FindAllStringSubmatch(out, -1); len(matches) > 0 {
			return r.buildPatchConflict(matches)
		}
		return &PatchApplyError{Cause: err}
	}
	return nil
}

func (r *Repo) buildPatchConflict(matches [][]string) error {
	c := &PatchConflict{RejectPaths: map[string]string{}}
	for _, m := range matches {
		rejectFile := strings.TrimSpace(m[1])
		path := strings.TrimSuffix(rejectFile, ".rej")
		c.FailedPaths = append(c.FailedPaths, path)
		content, err := os.ReadFile(filepath.Join(r.Path, rejectFile))
		if err == nil {
			c.RejectPaths[path] = string(content)
		}
	}
	return c
}

// HashReplacement records a single changeset rewritten by an autoformat
// pass: FormatStack returns these so the caller can persist them onto the
// landing job record (formatted_replacements).
type HashReplacement struct {
	OldHash string
	NewHash string
}

// FormatStack runs the repository's configured autoformatter (e.g.
// `hg fix` backed by clang-format/black/prettier configuration checked into
// the repo) across the landed range, amending any changesets it touches.
// It returns the set of changesets whose hash changed as a result.
func (r *Repo) FormatStack(baseCset string) ([]HashReplacement, error) {
	before, err := r.run("log", "-r", baseCset+"::.", "-T", "{node|short} ")
	if err != nil {
		return nil, &AutoformatError{Stderr: err.Error()}
	}
	beforeHashes := strings.Fields(before)

	if _, err := r.run("fix", "-r", baseCset+"::."); err != nil {
		return nil, &AutoformatError{Stderr: err.Error()}
	}

	after, err := r.run("log", "-r", baseCset+"::.", "-T", "{node|short} ")
	if err != nil {
		return nil, &AutoformatError{Stderr: err.Error()}
	}
	afterHashes := strings.Fields(after)

	var replacements []HashReplacement
	for i := range beforeHashes {
		if i < len(afterHashes) && beforeHashes[i] != afterHashes[i] {
			replacements = append(replacements, HashReplacement{OldHash: beforeHashes[i], NewHash: afterHashes[i]})
		}
	}
	return replacements, nil
}

// Push pushes the working copy's tip (or Bookmark, if set) to PushPath.
// force controls whether non-fast-forward pushes are allowed
// (repository.force_push configuration).
func (r *Repo) Push(force bool) (string, error) {
	tip, err := r.run("log", "-r", "tip", "-T", "{node}")
	if err != nil {
		return "", &PushError{Cause: err}
	}

	args := []string{"push"}
	if force {
		args = append(args, "--force")
	}
	if r.Bookmark != "" {
		if _, err := r.run("bookmark", r.Bookmark); err != nil {
			return "", &PushError{Cause: err}
		}
		args = append(args, "-B", r.Bookmark)
	} else {
		args = append(args, "-r", "tip")
	}
	args = append(args, r.PushPath)

	out, err := r.run(args...)
	if err != nil {
		return "", classifyPushError(out, err)
	}
	return tip, nil
}

func classifyPushError(out string, err error) error {
	switch {
	case strings.Contains(out, "CLOSED TREE"):
		return &TreeClosed{Cause: err}
	case strings.Contains(out, "APPROVAL REQUIRED"):
		return &TreeApprovalRequired{Cause: err}
	case strings.Contains(out, "abort: push creates new remote head"),
		strings.Contains(out, "stale info"):
		return &LostPushRace{Cause: err}
	default:
		return &PushError{Cause: err}
	}
}

// ReadCheckoutFile returns the contents of a file at the working copy's
// current checkout. FormatStack does not call it.
func (r *Repo) ReadCheckoutFile(relPath string) ([]byte, error) {
	abs := filepath.Join(r.Path, relPath)
	return os.ReadFile(abs)
}

// nodeIDLen is the canonical short-hash length used throughout this
// package (matches hg's 12-character short node id).
const nodeIDLen = 12

func validNodeID(s string) bool {
	if len(s) != nodeIDLen {
		return false
	}
	_, err := strconv.ParseUint(s, 16, 64)
	return err == nil || len(s) == nodeIDLen
}
