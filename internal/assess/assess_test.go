package assess

import "testing"

func TestConfirmationToken_EmptyWhenNoWarnings(t *testing.T) {
	a := &Assessment{}
	if a.ConfirmationToken() != nil {
		t.Error("expected nil confirmation token for no warnings")
	}
}

func TestConfirmationToken_SameWarningsSameToken(t *testing.T) {
	a1 := &Assessment{Warnings: []Warning{
		{ID: WarningNotAccepted, RevisionID: "D1"},
		{ID: WarningWIPTitle, RevisionID: "D2"},
	}}
	a2 := &Assessment{Warnings: []Warning{
		{ID: WarningWIPTitle, RevisionID: "D2"},
		{ID: WarningNotAccepted, RevisionID: "D1"},
	}}

	t1 := a1.ConfirmationToken()
	t2 := a2.ConfirmationToken()
	if t1 == nil || t2 == nil || *t1 != *t2 {
		t.Errorf("expected matching tokens regardless of order, got %v and %v", t1, t2)
	}
}

func TestConfirmationToken_DifferentWarningsDifferentToken(t *testing.T) {
	a1 := &Assessment{Warnings: []Warning{{ID: WarningNotAccepted, RevisionID: "D1"}}}
	a2 := &Assessment{Warnings: []Warning{{ID: WarningWIPTitle, RevisionID: "D1"}}}

	t1 := a1.ConfirmationToken()
	t2 := a2.ConfirmationToken()
	if t1 == nil || t2 == nil || *t1 == *t2 {
		t.Error("expected different tokens for different warning sets")
	}
}

func TestRaiseIfBlockedOrUnacknowledged_Blocked(t *testing.T) {
	a := &Assessment{Blockers: []string{"Has an open ancestor revision that is blocked."}}
	err := a.RaiseIfBlockedOrUnacknowledged("")
	if err == nil || err.Error() != "Landing is Blocked" {
		t.Fatalf("expected blocked error, got %v", err)
	}
}

func TestRaiseIfBlockedOrUnacknowledged_UnacknowledgedWarning(t *testing.T) {
	a := &Assessment{Warnings: []Warning{{ID: WarningNotAccepted, RevisionID: "D1"}}}
	err := a.RaiseIfBlockedOrUnacknowledged("")
	if err == nil || err.Error() != "Unacknowledged Warnings" {
		t.Fatalf("expected unacknowledged warnings error, got %v", err)
	}
}

func TestRaiseIfBlockedOrUnacknowledged_StaleToken(t *testing.T) {
	a := &Assessment{Warnings: []Warning{{ID: WarningNotAccepted, RevisionID: "D1"}}}
	err := a.RaiseIfBlockedOrUnacknowledged("stale-token-value")
	if err == nil || err.Error() != "Acknowledged Warnings Have Changed" {
		t.Fatalf("expected changed-warnings error, got %v", err)
	}
}

func TestRaiseIfBlockedOrUnacknowledged_MatchingTokenPasses(t *testing.T) {
	a := &Assessment{Warnings: []Warning{{ID: WarningNotAccepted, RevisionID: "D1"}}}
	token := *a.ConfirmationToken()
	if err := a.RaiseIfBlockedOrUnacknowledged(token); err != nil {
		t.Errorf("expected no error with matching token, got %v", err)
	}
}

func TestCheckWIPTitle(t *testing.T) {
	cases := []struct {
		title string
		fires bool
	}{
		{"WIP: add feature", true},
		{"[WIP] add feature", true},
		{"DONTLAND testing CI", true},
		{"Bug 123 - add feature", false},
	}
	for _, tc := range cases {
		rev := &Revision{ID: "D1", Title: tc.title}
		w := CheckWIPTitle(rev, nil, nil)
		if tc.fires && w == nil {
			t.Errorf("expected warning for title %q", tc.title)
		}
		if !tc.fires && w != nil {
			t.Errorf("unexpected warning for title %q", tc.title)
		}
	}
}

func TestRun_CollectsWarningsAndBlockers(t *testing.T) {
	revs := []*Revision{
		{ID: "D1", Title: "Bug 1", Accepted: false},
	}
	warningChecks := []Check{CheckNotAccepted}
	blockingChecks := []BlockingCheck{
		func(rev *Revision, diff *Diff, repo *Repository) string {
			if rev.IsSecure {
				return "secure revisions cannot land without sec-approval"
			}
			return ""
		},
	}

	result := Run(revs, nil, nil, warningChecks, blockingChecks)
	if len(result.Warnings) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(result.Warnings))
	}
	if len(result.Blockers) != 0 {
		t.Fatalf("expected no blockers, got %v", result.Blockers)
	}
}
