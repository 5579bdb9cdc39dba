package landing

import "testing"

func strp(s string) *string { return &s }

func TestTransition_StartRequiresNoFields(t *testing.T) {
	j := &Job{Status: StatusSubmitted}
	if err := j.Transition(ActionStart, TransitionFields{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if j.Status != StatusInProgress {
		t.Errorf("expected IN_PROGRESS, got %s", j.Status)
	}
}

func TestTransition_StartFromDeferredAllowed(t *testing.T) {
	j := &Job{Status: StatusDeferred}
	if err := j.Transition(ActionStart, TransitionFields{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTransition_StartFromLandedRejected(t *testing.T) {
	j := &Job{Status: StatusLanded}
	if err := j.Transition(ActionStart, TransitionFields{}); err == nil {
		t.Fatal("expected error transitioning from terminal status")
	}
}

func TestTransition_LandRequiresCommitID(t *testing.T) {
	j := &Job{Status: StatusInProgress}
	if err := j.Transition(ActionLand, TransitionFields{}); err == nil {
		t.Fatal("expected error: LAND requires a commit id")
	}

	if err := j.Transition(ActionLand, TransitionFields{CommitID: strp("abcdef012345")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if j.Status != StatusLanded || j.LandedCommitID != "abcdef012345" {
		t.Errorf("unexpected job state: %+v", j)
	}
}

func TestTransition_LandRejectsExtraError(t *testing.T) {
	j := &Job{Status: StatusInProgress}
	err := j.Transition(ActionLand, TransitionFields{CommitID: strp("abcdef012345"), Error: strp("oops")})
	if err == nil {
		t.Fatal("expected error: LAND does not accept an error message")
	}
}

func TestTransition_FailRequiresError(t *testing.T) {
	j := &Job{Status: StatusInProgress}
	if err := j.Transition(ActionFail, TransitionFields{}); err == nil {
		t.Fatal("expected error: FAIL requires an error message")
	}

	if err := j.Transition(ActionFail, TransitionFields{Error: strp("merge conflict")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if j.Status != StatusFailed || j.Error != "merge conflict" {
		t.Errorf("unexpected job state: %+v", j)
	}
}

func TestTransition_FailIsTerminal(t *testing.T) {
	j := &Job{Status: StatusFailed}
	if err := j.Transition(ActionDefer, TransitionFields{Error: strp("x")}); err == nil {
		t.Fatal("expected FAILED to be terminal: no further transitions allowed")
	}
}

func TestTransition_DeferAllowsReclaim(t *testing.T) {
	j := &Job{Status: StatusInProgress}
	if err := j.Transition(ActionDefer, TransitionFields{Error: strp("tree closed")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if j.Status != StatusDeferred {
		t.Errorf("expected DEFERRED, got %s", j.Status)
	}
	// A deferred job can be started again.
	if err := j.Transition(ActionStart, TransitionFields{}); err != nil {
		t.Fatalf("expected DEFERRED job to be reclaimable, got error: %v", err)
	}
}

func TestTransition_CancelFromSubmitted(t *testing.T) {
	j := &Job{Status: StatusSubmitted}
	if err := j.Transition(ActionCancel, TransitionFields{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if j.Status != StatusCancelled {
		t.Errorf("expected CANCELLED, got %s", j.Status)
	}
}

func TestTransition_CancelFromInProgressRejected(t *testing.T) {
	j := &Job{Status: StatusInProgress}
	if err := j.Transition(ActionCancel, TransitionFields{}); err == nil {
		t.Fatal("expected error: cannot cancel a job already being landed")
	}
}

func TestTransition_UnknownAction(t *testing.T) {
	j := &Job{Status: StatusSubmitted}
	if err := j.Transition(Action("BOGUS"), TransitionFields{}); err == nil {
		t.Fatal("expected error for unknown action")
	}
}
