package protocol

import "time"

// ActionOp names an effect a poll had (or failed to have) on the inventory.
type ActionOp string

const (
	OpPartCreated     ActionOp = "part_created"
	OpBoxTubeCreated  ActionOp = "box_tube_created"
	OpSkippedExisting ActionOp = "skipped_existing"
	OpDraftCreated    ActionOp = "draft_created"
	OpDraftUpdated    ActionOp = "draft_updated"
	OpDraftDeleted    ActionOp = "draft_deleted"
	OpDraftFinalized  ActionOp = "draft_finalized"
	OpPartDeleted     ActionOp = "part_deleted"
	OpBoxTubeDeleted  ActionOp = "box_tube_deleted"
	OpCategoryDeleted ActionOp = "category_deleted"
	OpFailed          ActionOp = "failed"
)

// Action is a single entry in a poll report.
type Action struct {
	Ticket string     `json:"ticket,omitempty"`
	Kind   RecordKind `json:"kind,omitempty"`
	Op     ActionOp   `json:"op"`
	Detail string     `json:"detail,omitempty"`
}

// PollReport summarizes one reconciliation pass.
type PollReport struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Tickets     int       `json:"tickets"`
	EmptyStreak int       `json:"empty_streak"`
	Wiped       bool      `json:"wiped"`
	Aborted     string    `json:"aborted,omitempty"`
	Actions     []Action  `json:"actions"`
}

// Add appends an action to the report.
func (r *PollReport) Add(ticket string, kind RecordKind, op ActionOp, detail string) {
	r.Actions = append(r.Actions, Action{Ticket: ticket, Kind: kind, Op: op, Detail: detail})
}

// Count returns how many actions of the given op the report holds.
func (r *PollReport) Count(op ActionOp) int {
	n := 0
	for _, a := range r.Actions {
		if a.Op == op {
			n++
		}
	}
	return n
}

// Notable reports whether anything worth telling an operator happened.
func (r *PollReport) Notable() bool {
	if r.Wiped || r.Aborted != "" {
		return true
	}
	for _, a := range r.Actions {
		switch a.Op {
		case OpPartCreated, OpBoxTubeCreated, OpDraftFinalized,
			OpPartDeleted, OpBoxTubeDeleted, OpCategoryDeleted:
			return true
		}
	}
	return false
}
