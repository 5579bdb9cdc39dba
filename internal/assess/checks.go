package assess

import "time"

// CheckBlockingReviews fires when a revision has a reviewer whose review
// itself blocks landing (e.g. "Request Changes").
func CheckBlockingReviews(rev *Revision, diff *Diff, repo *Repository) *Warning {
	if rev.HasBlockingReview {
		return &Warning{ID: WarningBlockingReviews, RevisionID: rev.ID, Display: warningDisplay[WarningBlockingReviews]}
	}
	return nil
}

// CheckPreviouslyLanded fires when the revision (or an older diff of it)
// has already landed, distinguishing "same diff, already landed" from
// "an older diff was already landed" wording the way the original does.
func CheckPreviouslyLanded(rev *Revision, diff *Diff, repo *Repository) *Warning {
	if rev.LastLandedDiffID == 0 {
		return nil
	}
	if rev.LastLandedDiffID == rev.CurrentDiffID {
		return &Warning{
			ID:         WarningPreviouslyLandedSameDiff,
			RevisionID: rev.ID,
			Display:    warningDisplay[WarningPreviouslyLandedSameDiff],
			Details:    "This exact diff was already landed.",
		}
	}
	if rev.LastLandedDiffID < rev.CurrentDiffID {
		return &Warning{
			ID:         WarningPreviouslyLandedOlderDiff,
			RevisionID: rev.ID,
			Display:    warningDisplay[WarningPreviouslyLandedOlderDiff],
			Details:    "An older diff of this revision was already landed.",
		}
	}
	return nil
}

// CheckNotAccepted fires when the revision hasn't been marked accepted by
// review.
func CheckNotAccepted(rev *Revision, diff *Diff, repo *Repository) *Warning {
	if !rev.Accepted {
		return &Warning{ID: WarningNotAccepted, RevisionID: rev.ID, Display: warningDisplay[WarningNotAccepted]}
	}
	return nil
}

// CheckReviewsNotCurrent fires when the diff being landed isn't the diff
// that was most recently reviewed.
func CheckReviewsNotCurrent(rev *Revision, diff *Diff, repo *Repository) *Warning {
	if !rev.ReviewsCurrent {
		return &Warning{ID: WarningReviewsNotCurrent, RevisionID: rev.ID, Display: warningDisplay[WarningReviewsNotCurrent]}
	}
	return nil
}

// CheckSecureRevision fires when the revision is flagged secure, which
// requires extra handling (sec-approval) outside the normal flow.
func CheckSecureRevision(rev *Revision, diff *Diff, repo *Repository) *Warning {
	if rev.IsSecure {
		return &Warning{ID: WarningSecureRevision, RevisionID: rev.ID, Display: warningDisplay[WarningSecureRevision]}
	}
	return nil
}

// CheckMissingTestingTag fires whenever the revision lacks a testing tag.
// The repository's configuration is not consulted.
func CheckMissingTestingTag(rev *Revision, diff *Diff, repo *Repository) *Warning {
	if !rev.HasTestingTag {
		return &Warning{ID: WarningMissingTestingTag, RevisionID: rev.ID, Display: warningDisplay[WarningMissingTestingTag]}
	}
	return nil
}

// CheckDiffWarning surfaces sanitised diff-warning records (static-analysis
// findings attached to the diff by the review service) read-only.
func CheckDiffWarning(rev *Revision, diff *Diff, repo *Repository) *Warning {
	if diff == nil || len(diff.Warnings) == 0 {
		return nil
	}
	return &Warning{
		ID:         WarningDiffWarning,
		RevisionID: rev.ID,
		Display:    warningDisplay[WarningDiffWarning],
		Details:    diff.Warnings[0],
	}
}

// CheckWIPTitle fires when the revision title starts with a work-in-progress
// marker ("WIP:", "[WIP]", "DONTLAND").
func CheckWIPTitle(rev *Revision, diff *Diff, repo *Repository) *Warning {
	title := rev.Title
	for _, marker := range []string{"WIP:", "[WIP]", "DONTLAND"} {
		if len(title) >= len(marker) && title[:len(marker)] == marker {
			return &Warning{ID: WarningWIPTitle, RevisionID: rev.ID, Display: warningDisplay[WarningWIPTitle]}
		}
	}
	return nil
}

// CheckUnresolvedComments fires when the revision has open review
// comments the author hasn't resolved.
func CheckUnresolvedComments(rev *Revision, diff *Diff, repo *Repository) *Warning {
	if rev.HasUnresolvedComments {
		return &Warning{ID: WarningUnresolvedComments, RevisionID: rev.ID, Display: warningDisplay[WarningUnresolvedComments]}
	}
	return nil
}

// codeFreezeLocation is the fixed Pacific-time offset the soft code freeze
// window is evaluated in, matching CODE_FREEZE_OFFSET = "-0800" in the
// original (Lando does not adjust for daylight saving here).
var codeFreezeLocation = time.FixedZone("PST", -8*60*60)

// CheckSoftCodeFreeze fires when `now` falls within the repository's
// configured soft-freeze window (between NextSoftFreezeDate and
// NextMergeDate), both given in Pacific time by the product-details feed.
func CheckSoftCodeFreeze(now time.Time) Check {
	return func(rev *Revision, diff *Diff, repo *Repository) *Warning {
		if repo == nil || repo.NextSoftFreezeDate == nil || repo.NextMergeDate == nil {
			return nil
		}
		nowPT := now.In(codeFreezeLocation)
		if !nowPT.Before(*repo.NextSoftFreezeDate) && nowPT.Before(*repo.NextMergeDate) {
			return &Warning{
				ID:         WarningSoftCodeFreeze,
				RevisionID: rev.ID,
				Display:    warningDisplay[WarningSoftCodeFreeze],
				Details:    "Repository is in the soft code freeze preceding a merge day.",
			}
		}
		return nil
	}
}

// DefaultWarningChecks is the full sequential, non-skippable warning
// check list run for every submitted stack, matching
// get_landable_repos_for_revision_data / DEFAULT checks in the original.
func DefaultWarningChecks(now time.Time) []Check {
	return []Check{
		CheckBlockingReviews,
		CheckPreviouslyLanded,
		CheckNotAccepted,
		CheckReviewsNotCurrent,
		CheckSecureRevision,
		CheckMissingTestingTag,
		CheckDiffWarning,
		CheckWIPTitle,
		CheckSoftCodeFreeze(now),
		CheckUnresolvedComments,
	}
}
