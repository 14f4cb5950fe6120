// Package journal keeps a history of poll reports for operators. The
// reconciler never reads it back; every poll still rebuilds its view of
// both systems from scratch.
package journal

import (
	"errors"
	"time"

	"github.com/h1v3-io/fabsync/pkg/protocol"
)

// ErrNotFound is returned when a poll ID is unknown.
var ErrNotFound = errors.New("not found")

// Store is the persistence interface for poll reports.
type Store interface {
	// RecordPoll saves a finished poll and its actions.
	RecordPoll(report *protocol.PollReport) error
	// GetPoll retrieves a poll by ID, including its actions.
	GetPoll(id string) (*protocol.PollReport, error)
	// ListPolls returns polls matching the filter, newest first, without actions.
	ListPolls(filter Filter) ([]*protocol.PollReport, error)
	// CountPolls returns the number of polls matching the filter.
	CountPolls(filter Filter) (int, error)
	// TicketActions returns what polls did to one ticket, newest first.
	TicketActions(ticket string, limit int) ([]TicketAction, error)
	// Prune deletes polls started before the cutoff.
	Prune(before time.Time) (int64, error)
}

// Filter constrains poll list queries.
type Filter struct {
	Since       time.Time // zero = no lower bound
	OnlyNotable bool      // wipes, aborts and polls with failures or changes
	Limit       int       // 0 = no limit
}

// TicketAction is one journal entry for a ticket.
type TicketAction struct {
	PollID string    `json:"poll_id"`
	At     time.Time `json:"at"`
	protocol.Action
}
