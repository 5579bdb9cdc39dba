// Package landing implements the Landing Job store and its state machine:
// the durable queue of revision stacks waiting to be pushed upstream.
package landing

import "time"

// Status is a Landing Job's lifecycle state. Transitions between these are
// validated by Transition, which is the only way a Status may change.
type Status string

const (
	StatusSubmitted  Status = "SUBMITTED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDeferred   Status = "DEFERRED"
	StatusFailed     Status = "FAILED"
	StatusLanded     Status = "LANDED"
	StatusCancelled  Status = "CANCELLED"
)

// activeStatuses are the non-terminal statuses. Store.ClaimNext claims
// only from SUBMITTED and DEFERRED; IN_PROGRESS jobs are not reclaimed.
var activeStatuses = []Status{StatusSubmitted, StatusDeferred, StatusInProgress}

// HashReplacement records one changeset rewritten by an autoformat pass.
type HashReplacement struct {
	OldHash string `json:"old_hash"`
	NewHash string `json:"new_hash"`
}

// ErrorBreakdown captures structured detail about a merge conflict,
// populated when a patch fails to apply cleanly.
type ErrorBreakdown struct {
	RevisionID  string            `json:"revision_id"`
	Content     string            `json:"content,omitempty"`
	RejectPaths map[string]string `json:"reject_paths,omitempty"`
	FailedPaths []FailedPath      `json:"failed_paths,omitempty"`
}

type FailedPath struct {
	Path        string `json:"path"`
	URL         string `json:"url,omitempty"`
	ChangesetID string `json:"changeset_id,omitempty"`
}

// RevisionRef is one revision/diff pair carried by a Landing Job, in
// landing order.
type RevisionRef struct {
	Index      int
	RevisionID string
	DiffID     int
	BugID      int

	// PatchDialect and PatchContent carry an already-parsed patch inline
	// for jobs that don't originate from the review service (try/git
	// pushes). Empty for ordinary Phabricator-stack revisions, whose
	// patch content is fetched from the review service at land time.
	PatchDialect string
	PatchContent []byte
}

// Job is the durable record of one landing attempt for a revision stack.
type Job struct {
	ID                    int64
	Status                Status
	RequesterEmail        string
	RepositoryName        string
	RepositoryURL         string
	Revisions             []RevisionRef
	LandedCommitID        string
	Error                 string
	ErrorBreakdown        *ErrorBreakdown
	Attempts              int
	Priority              int
	DurationSeconds       *int
	FormattedReplacements []HashReplacement
	TargetCommitHash      *string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// HeadRevision returns the last (most downstream) revision in the job's
// landing order, matching LandingJob.head_revision.
func (j *Job) HeadRevision() *RevisionRef {
	if len(j.Revisions) == 0 {
		return nil
	}
	return &j.Revisions[len(j.Revisions)-1]
}

// Summary is the JSON shape returned by the Public Request API for a job,
// matching LandingJob.serialize().
type Summary struct {
	ID             int64           `json:"id"`
	Status         Status          `json:"status"`
	RequesterEmail string          `json:"requester_email"`
	RepositoryName string         `json:"repository_name"`
	LandedCommitID string          `json:"landed_commit_id,omitempty"`
	Error          string          `json:"error,omitempty"`
	ErrorBreakdown *ErrorBreakdown `json:"details,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Serialize returns the job's wire representation, including the details
// field only when an error breakdown is present, matching the original's
// conditional "details" key.
func (j *Job) Serialize() Summary {
	return Summary{
		ID:             j.ID,
		Status:         j.Status,
		RequesterEmail: j.RequesterEmail,
		RepositoryName: j.RepositoryName,
		LandedCommitID: j.LandedCommitID,
		Error:          j.Error,
		ErrorBreakdown: j.ErrorBreakdown,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
}
