// Package assess implements the landability assessment engine: the
// blocking and warning checks run against a revision stack before it is
// accepted for landing, and the confirmation-token scheme that lets a
// client re-submit after acknowledging warnings.
package assess

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// WarningID names one of the sequential, non-skippable warning checks.
// IDs are stable and persisted alongside acknowledgements, so they are
// never renumbered once shipped.
type WarningID int

const (
	WarningBlockingReviews WarningID = iota
	WarningPreviouslyLandedSameDiff
	WarningPreviouslyLandedOlderDiff
	WarningNotAccepted
	WarningReviewsNotCurrent
	WarningSecureRevision
	WarningMissingTestingTag
	WarningDiffWarning
	WarningWIPTitle
	WarningSoftCodeFreeze
	WarningUnresolvedComments
)

var warningDisplay = map[WarningID]string{
	WarningBlockingReviews:            "Has blocking reviews.",
	WarningPreviouslyLandedSameDiff:   "This diff was already landed.",
	WarningPreviouslyLandedOlderDiff:  "A previous version of this revision was already landed.",
	WarningNotAccepted:                "Not accepted.",
	WarningReviewsNotCurrent:          "Reviews are not current.",
	WarningSecureRevision:             "Secure revision.",
	WarningMissingTestingTag:          "Testing tag is missing.",
	WarningDiffWarning:                "Diff has a warning attached.",
	WarningWIPTitle:                   "Revision title indicates work in progress.",
	WarningSoftCodeFreeze:             "Repository is in a soft code freeze.",
	WarningUnresolvedComments:         "Has unresolved comments.",
}

// Warning is a single fired warning instance, attached to a specific
// revision and carrying free-form details used both for display and as
// input to the confirmation token.
type Warning struct {
	ID         WarningID
	RevisionID string
	Display    string
	Details    string
}

// Check evaluates one revision/diff/repo triple and returns nil if the
// warning does not apply, or a *Warning if it does.
type Check func(rev *Revision, diff *Diff, repo *Repository) *Warning

// Revision, Diff, Repository are the minimal views the assessment engine
// needs; the caller (internal/api) is responsible for populating them
// from the review service client.
type Revision struct {
	ID             string
	Title          string
	BugID          int
	IsSecure       bool
	HasTestingTag  bool
	Accepted       bool
	ReviewsCurrent bool
	HasBlockingReview bool
	HasUnresolvedComments bool
	LastLandedDiffID  int
	CurrentDiffID     int
}

type Diff struct {
	ID       int
	Warnings []string
}

type Repository struct {
	ShortName           string
	AccessGroup         string
	ApprovalRequired     bool
	SoftFreezeOffset     string // e.g. "-0800"
	NextSoftFreezeDate   *time.Time
	NextMergeDate        *time.Time
}

// BlockingCheck evaluates a blocking condition; a non-empty string blocks
// the revision.
type BlockingCheck func(rev *Revision, diff *Diff, repo *Repository) string

// Assessment is the result of running the blocking and warning checks
// against a landable path, mirroring TransplantAssessment.
type Assessment struct {
	Blockers []string
	Warnings []Warning
}

// Run evaluates every warning and blocking check against the given
// revision/diff/repo. Warning checks run in ID order so the resulting
// warning list (and therefore the confirmation token) is deterministic.
func Run(revs []*Revision, diffs map[string]*Diff, repo *Repository, warningChecks []Check, blockingChecks []BlockingCheck) *Assessment {
	a := &Assessment{}
	for _, rev := range revs {
		diff := diffs[rev.ID]
		for _, check := range warningChecks {
			if w := check(rev, diff, repo); w != nil {
				a.Warnings = append(a.Warnings, *w)
			}
		}
		for _, check := range blockingChecks {
			if reason := check(rev, diff, repo); reason != "" {
				a.Blockers = append(a.Blockers, reason)
			}
		}
	}
	return a
}

// warningGroup is the JSON shape of one bucket of the same warning id in
// the wire response.
type warningGroup struct {
	ID       int      `json:"id"`
	Display  string   `json:"display"`
	Instances []warningInstance `json:"instances"`
}

type warningInstance struct {
	RevisionID string `json:"revision_id"`
	Details    string `json:"details"`
}

// ToResponse buckets warnings by ID into the wire shape the Public Request
// API returns, matching TransplantAssessment.to_dict.
func (a *Assessment) ToResponse() map[string]interface{} {
	groups := map[WarningID]*warningGroup{}
	var order []WarningID
	for _, w := range a.Warnings {
		g, ok := groups[w.ID]
		if !ok {
			g = &warningGroup{ID: int(w.ID), Display: warningDisplay[w.ID]}
			groups[w.ID] = g
			order = append(order, w.ID)
		}
		g.Instances = append(g.Instances, warningInstance{RevisionID: w.RevisionID, Details: w.Details})
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	warningsOut := make([]*warningGroup, 0, len(order))
	for _, id := range order {
		warningsOut = append(warningsOut, groups[id])
	}

	resp := map[string]interface{}{
		"blocker":              firstOrNil(a.Blockers),
		"warnings":             warningsOut,
		"confirmation_token":   a.ConfirmationToken(),
	}
	return resp
}

func firstOrNil(blockers []string) interface{} {
	if len(blockers) == 0 {
		return nil
	}
	return blockers[0]
}

// ConfirmationToken hashes the sorted (id, revision_id, details) tuples of
// every fired warning, returning nil (empty string) when there are no
// warnings to confirm. Does not need to byte-match the original Python's
// json.dumps output — only needs to be stable and collision-resistant
// within this implementation, which sha256-over-canonical-JSON satisfies.
func (a *Assessment) ConfirmationToken() *string {
	if len(a.Warnings) == 0 {
		return nil
	}

	type tuple struct {
		ID         int    `json:"id"`
		RevisionID string `json:"revision_id"`
		Details    string `json:"details"`
	}
	tuples := make([]tuple, 0, len(a.Warnings))
	for _, w := range a.Warnings {
		tuples = append(tuples, tuple{ID: int(w.ID), RevisionID: w.RevisionID, Details: w.Details})
	}
	sort.Slice(tuples, func(i, j int) bool {
		if tuples[i].ID != tuples[j].ID {
			return tuples[i].ID < tuples[j].ID
		}
		if tuples[i].RevisionID != tuples[j].RevisionID {
			return tuples[i].RevisionID < tuples[j].RevisionID
		}
		return tuples[i].Details < tuples[j].Details
	})

	encoded, err := json.Marshal(tuples)
	if err != nil {
		// Marshal of a plain struct slice cannot fail in practice.
		panic(fmt.Sprintf("assess: marshaling confirmation token input: %v", err))
	}
	sum := sha256.Sum256(encoded)
	token := hex.EncodeToString(sum[:])
	return &token
}

// ErrBlocked is returned by RaiseIfBlockedOrUnacknowledged when the
// assessment carries one or more blockers.
type ErrBlocked struct{ Blockers []string }

func (e *ErrBlocked) Error() string { return "Landing is Blocked" }

// ErrUnacknowledgedWarnings is returned when warnings fired but the caller
// supplied no confirmation token.
type ErrUnacknowledgedWarnings struct{ Token string }

func (e *ErrUnacknowledgedWarnings) Error() string { return "Unacknowledged Warnings" }

// ErrAcknowledgedWarningsChanged is returned when the caller's supplied
// confirmation token no longer matches the current warning set (the
// revision stack changed between dry-run and submission).
type ErrAcknowledgedWarningsChanged struct{ Current string }

func (e *ErrAcknowledgedWarningsChanged) Error() string { return "Acknowledged Warnings Have Changed" }

// RaiseIfBlockedOrUnacknowledged enforces the submission gate: any
// blocker fails outright; any warning requires a confirmation token that
// matches the current warning set exactly.
func (a *Assessment) RaiseIfBlockedOrUnacknowledged(confirmationToken string) error {
	if len(a.Blockers) > 0 {
		return &ErrBlocked{Blockers: a.Blockers}
	}

	token := a.ConfirmationToken()
	if token == nil {
		return nil
	}

	if confirmationToken == "" {
		return &ErrUnacknowledgedWarnings{Token: *token}
	}
	if confirmationToken != *token {
		return &ErrAcknowledgedWarningsChanged{Current: *token}
	}
	return nil
}
