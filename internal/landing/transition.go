package landing

import "fmt"

// Action is one of the fixed set of transitions that can be applied to a
// job, each of which targets exactly one Status and requires an exact set
// of fields, mirroring LandingJobAction / transition_status's required
// params dispatch table.
type Action string

const (
	ActionStart    Action = "START"    // -> IN_PROGRESS
	ActionLand     Action = "LAND"     // -> LANDED
	ActionFail     Action = "FAIL"     // -> FAILED
	ActionDefer    Action = "DEFER"    // -> DEFERRED
	ActionCancel   Action = "CANCEL"   // -> CANCELLED
)

// TransitionFields carries the named fields a given Action requires. Which
// fields are required is defined per-action in transitionRules; supplying
// an unrequired field or omitting a required one is an error.
// ErrorBreakdown is the exception: it is optional for every action and is
// not checked.
type TransitionFields struct {
	CommitID       *string
	Error          *string
	ErrorBreakdown *ErrorBreakdown
}

type transitionRule struct {
	target           Status
	requireCommitID  bool
	requireError     bool
	allowedFrom      []Status
}

var transitionRules = map[Action]transitionRule{
	ActionStart: {
		target:      StatusInProgress,
		allowedFrom: []Status{StatusSubmitted, StatusDeferred},
	},
	ActionLand: {
		target:          StatusLanded,
		requireCommitID: true,
		allowedFrom:     []Status{StatusInProgress},
	},
	ActionFail: {
		target:       StatusFailed,
		requireError: true,
		allowedFrom:  []Status{StatusInProgress},
	},
	ActionDefer: {
		target:       StatusDeferred,
		requireError: true,
		allowedFrom:  []Status{StatusInProgress},
	},
	ActionCancel: {
		target:      StatusCancelled,
		allowedFrom: []Status{StatusSubmitted, StatusDeferred},
	},
}

// Transition validates and applies an action to the job in place. It
// enforces that the job is currently in one of the action's allowed
// source statuses, and that exactly the fields the action requires are
// present — matching transition_status's `sorted(required_params) !=
// sorted(kwargs.keys())` check.
func (j *Job) Transition(action Action, fields TransitionFields) error {
	rule, ok := transitionRules[action]
	if !ok {
		return fmt.Errorf("landing: unknown action %q", action)
	}

	allowed := false
	for _, s := range rule.allowedFrom {
		if j.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("landing: cannot apply %s to job %d in status %s", action, j.ID, j.Status)
	}

	if rule.requireCommitID && (fields.CommitID == nil || *fields.CommitID == "") {
		return fmt.Errorf("landing: action %s requires a commit id", action)
	}
	if !rule.requireCommitID && fields.CommitID != nil {
		return fmt.Errorf("landing: action %s does not accept a commit id", action)
	}
	if rule.requireError && (fields.Error == nil || *fields.Error == "") {
		return fmt.Errorf("landing: action %s requires an error message", action)
	}
	if !rule.requireError && fields.Error != nil {
		return fmt.Errorf("landing: action %s does not accept an error message", action)
	}

	j.Status = rule.target
	if fields.CommitID != nil {
		j.LandedCommitID = *fields.CommitID
	}
	if fields.Error != nil {
		j.Error = *fields.Error
	}
	if fields.ErrorBreakdown != nil {
		j.ErrorBreakdown = fields.ErrorBreakdown
	}
	return nil
}
