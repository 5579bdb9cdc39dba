package review

import (
	"context"
	"fmt"

	"github.com/mozilla-lando/landingd/internal/landing"
	"github.com/mozilla-lando/landingd/internal/patch"
)

// PatchSource resolves a landing job's revisions into parsed patch
// Records, satisfying worker.PatchSource. A revision carrying its own
// PatchContent (a try/git push) is parsed directly; everything else is
// fetched from the review service as a raw Mercurial diff.
type PatchSource struct {
	svc Service
}

func NewPatchSource(svc Service) *PatchSource {
	return &PatchSource{svc: svc}
}

// PatchesForJob returns one Record per revision, in the job's landing
// order.
func (p *PatchSource) PatchesForJob(ctx context.Context, job *landing.Job) ([]*patch.Record, error) {
	out := make([]*patch.Record, len(job.Revisions))
	for i, ref := range job.Revisions {
		if len(ref.PatchContent) > 0 {
			rec, err := patch.Parse(patch.Dialect(ref.PatchDialect), ref.PatchContent)
			if err != nil {
				return nil, fmt.Errorf("parsing inline patch for revision index %d: %w", ref.Index, err)
			}
			out[i] = rec
			continue
		}

		diff, err := p.svc.GetDiff(ctx, ref.DiffID)
		if err != nil {
			return nil, fmt.Errorf("fetching diff %d for revision %s: %w", ref.DiffID, ref.RevisionID, err)
		}
		out[i] = &patch.Record{
			Dialect:       patch.DialectHgExport,
			AuthorName:    diff.AuthorName,
			AuthorEmail:   diff.AuthorEmail,
			CommitMessage: diff.CommitMessage,
			Diff:          []byte(diff.RawDiff),
		}
	}
	return out, nil
}
