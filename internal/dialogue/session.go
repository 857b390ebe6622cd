// Package dialogue runs the multi-turn slot-filling conversation that turns
// free text into a staked commitment. Sessions are in-process and volatile;
// an evicted session simply restarts the flow.
package dialogue

import (
	"time"

	"github.com/punchamoorthee/bettask/internal/domain"
)

// Stage is a dialogue session's position in the slot-filling flow.
type Stage string

const (
	StageCollectingGoal      Stage = "collecting_goal"
	StageCollectingAmount    Stage = "collecting_amount"
	StageChoosingRecurrence  Stage = "choosing_recurrence"
	StageCollectingFrequency Stage = "collecting_frequency"
	StageConfirming          Stage = "confirming"
)

// Session is the mutable state of one user's open commitment-creation flow.
// Exactly one session per user exists at a time.
type Session struct {
	UserID     domain.UserID
	Stage      Stage
	Goal       string
	Amount     int64
	StakeAll   bool
	Recurrence domain.Recurrence
	StartedAt  time.Time
}

// ValidationError carries the user-facing re-prompt for rejected input. The
// session stage and collected slots are preserved when it is returned.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }
