// Package uplift handles the best-effort bug-tracker update that follows a
// successful landing: recording the repository and landed commit on each
// referenced bug. It sets no other bug fields and does not treat
// approval-gated repositories differently.
package uplift

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/mozilla-lando/landingd/internal/retry"
)

// bugRetries matches UPLIFT_BUG_UPDATE_RETRIES = 3 in the original.
const bugRetries = 3

var conservativeBugRE = regexp.MustCompile(`(?i)bug\s*#?\s*(\d+)`)

// noiseFloor is the threshold above which a parsed bug id is treated as an
// accidental match (commit hash fragments, etc) rather than a real bug
// number, matching the "< 100000000" filter in commit_message.parse_bugs.
const noiseFloor = 100000000

// ParseBugs extracts bug ids referenced in a commit message, deduplicated
// and filtered against the noise floor, in first-seen order.
func ParseBugs(commitMessage string) []int {
	seen := map[int]bool{}
	var out []int
	for _, m := range conservativeBugRE.FindAllStringSubmatch(commitMessage, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n >= noiseFloor || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// BugTracker is the narrow collaborator this package needs from a real
// Bugzilla-style client.
type BugTracker interface {
	UpdateBug(ctx context.Context, bugID int, fields map[string]string) error
}

// Updater applies landed-revision bug updates with retry.
type Updater struct {
	tracker BugTracker
	log     *zap.Logger
}

func NewUpdater(tracker BugTracker, log *zap.Logger) *Updater {
	return &Updater{tracker: tracker, log: log}
}

// NotifyLanded records a revision's landing against every bug its commit
// message references, retrying each update up to bugRetries times.
// Failures are logged, not returned — by the time this runs the landing
// has already succeeded and must not be rolled back over a bug-tracker
// hiccup.
func (u *Updater) NotifyLanded(ctx context.Context, commitMessage, repositoryName, commitID string) {
	for _, bugID := range ParseBugs(commitMessage) {
		fields := map[string]string{
			"repository": repositoryName,
			"commit":     commitID,
		}
		err := retry.Linear(ctx, bugRetries, time.Second, func() error {
			return u.tracker.UpdateBug(ctx, bugID, fields)
		})
		if err != nil {
			u.log.Warn("failed to update bug after landing",
				zap.Int("bug_id", bugID), zap.String("commit", commitID), zap.Error(err))
		}
	}
}

// ErrNoBugTracker reports that no bug tracker is configured. NotifyLanded
// has no error return and never produces it.
var ErrNoBugTracker = fmt.Errorf("uplift: no bug tracker configured")
