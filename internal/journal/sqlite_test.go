package journal

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/h1v3-io/fabsync/pkg/protocol"
)

func newTestStore(t *testing.T, retention time.Duration) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	s, err := NewSQLiteStore(path, retention)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var t0 = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

func report(id string, at time.Time, actions ...protocol.Action) *protocol.PollReport {
	return &protocol.PollReport{
		ID:         id,
		StartedAt:  at,
		FinishedAt: at.Add(1500 * time.Millisecond),
		Tickets:    len(actions),
		Actions:    actions,
	}
}

func TestRecordAndGetPoll(t *testing.T) {
	s := newTestStore(t, 0)

	r := report("p-1", t0,
		protocol.Action{Ticket: "HAR-1", Kind: protocol.KindPart, Op: protocol.OpPartCreated},
		protocol.Action{Ticket: "HAR-2", Kind: protocol.KindBoxTube, Op: protocol.OpFailed, Detail: "create box tube: 500"},
	)
	if err := s.RecordPoll(r); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, err := s.GetPoll("p-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.StartedAt.Equal(r.StartedAt) || !got.FinishedAt.Equal(r.FinishedAt) {
		t.Errorf("times = %v .. %v", got.StartedAt, got.FinishedAt)
	}
	if got.Tickets != 2 {
		t.Errorf("tickets = %d", got.Tickets)
	}
	if len(got.Actions) != 2 {
		t.Fatalf("actions = %d, want 2", len(got.Actions))
	}
	if got.Actions[1] != r.Actions[1] {
		t.Errorf("action = %+v, want %+v", got.Actions[1], r.Actions[1])
	}
}

func TestRecordPoll_Upsert(t *testing.T) {
	s := newTestStore(t, 0)

	r := report("p-1", t0, protocol.Action{Ticket: "HAR-1", Op: protocol.OpDraftCreated})
	s.RecordPoll(r)
	r.Aborted = "ticket search failed"
	r.Actions = nil
	if err := s.RecordPoll(r); err != nil {
		t.Fatalf("re-record: %v", err)
	}

	got, _ := s.GetPoll("p-1")
	if got.Aborted != "ticket search failed" || len(got.Actions) != 0 {
		t.Errorf("got %+v", got)
	}
}

func TestGetPollNotFound(t *testing.T) {
	s := newTestStore(t, 0)
	_, err := s.GetPoll("nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListPolls(t *testing.T) {
	s := newTestStore(t, 0)

	s.RecordPoll(report("quiet", t0, protocol.Action{Ticket: "HAR-1", Op: protocol.OpSkippedExisting}))
	s.RecordPoll(report("created", t0.Add(time.Minute), protocol.Action{Ticket: "HAR-2", Op: protocol.OpPartCreated}))
	failed := report("failed", t0.Add(2*time.Minute), protocol.Action{Ticket: "HAR-3", Op: protocol.OpFailed})
	s.RecordPoll(failed)
	wiped := report("wiped", t0.Add(3*time.Minute))
	wiped.Wiped = true
	wiped.EmptyStreak = 2
	s.RecordPoll(wiped)

	all, err := s.ListPolls(Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 4 || all[0].ID != "wiped" || all[3].ID != "quiet" {
		t.Fatalf("order = %v", ids(all))
	}
	if !all[0].Wiped || all[0].EmptyStreak != 2 {
		t.Errorf("wiped poll = %+v", all[0])
	}
	if all[0].Actions != nil {
		t.Errorf("list should not load actions")
	}

	notable, _ := s.ListPolls(Filter{OnlyNotable: true})
	if got := ids(notable); fmt.Sprint(got) != "[wiped failed created]" {
		t.Errorf("notable = %v", got)
	}

	recent, _ := s.ListPolls(Filter{Since: t0.Add(90 * time.Second), Limit: 1})
	if got := ids(recent); fmt.Sprint(got) != "[wiped]" {
		t.Errorf("recent = %v", got)
	}

	n, err := s.CountPolls(Filter{Since: t0.Add(time.Minute)})
	if err != nil || n != 3 {
		t.Errorf("count = %d, %v", n, err)
	}
}

func TestTicketActions(t *testing.T) {
	s := newTestStore(t, 0)

	s.RecordPoll(report("p-1", t0,
		protocol.Action{Ticket: "HAR-1", Kind: protocol.KindPart, Op: protocol.OpDraftCreated},
		protocol.Action{Ticket: "HAR-2", Kind: protocol.KindPart, Op: protocol.OpDraftCreated},
	))
	s.RecordPoll(report("p-2", t0.Add(time.Minute),
		protocol.Action{Ticket: "HAR-1", Kind: protocol.KindPart, Op: protocol.OpDraftFinalized},
	))

	got, err := s.TicketActions("HAR-1", 0)
	if err != nil {
		t.Fatalf("ticket actions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("actions = %d, want 2", len(got))
	}
	if got[0].PollID != "p-2" || got[0].Op != protocol.OpDraftFinalized || !got[0].At.Equal(t0.Add(time.Minute)) {
		t.Errorf("newest = %+v", got[0])
	}

	limited, _ := s.TicketActions("HAR-1", 1)
	if len(limited) != 1 {
		t.Errorf("limited = %d", len(limited))
	}

	none, _ := s.TicketActions("HAR-9", 0)
	if none == nil || len(none) != 0 {
		t.Errorf("unknown ticket = %v, want empty slice", none)
	}
}

func TestPrune(t *testing.T) {
	s := newTestStore(t, 0)
	s.RecordPoll(report("old", t0, protocol.Action{Ticket: "HAR-1", Op: protocol.OpPartCreated}))
	s.RecordPoll(report("new", t0.Add(48*time.Hour)))

	n, err := s.Prune(t0.Add(24 * time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("prune = %d, %v", n, err)
	}
	if _, err := s.GetPoll("old"); err == nil {
		t.Error("old poll survived prune")
	}
	if acts, _ := s.TicketActions("HAR-1", 0); len(acts) != 0 {
		t.Errorf("actions of pruned poll survived: %v", acts)
	}
}

func TestRetentionPrunesOnRecord(t *testing.T) {
	s := newTestStore(t, 24*time.Hour)
	s.now = func() time.Time { return t0.Add(30 * time.Hour) }

	s.RecordPoll(report("old", t0))
	s.RecordPoll(report("new", t0.Add(29*time.Hour)))

	n, _ := s.CountPolls(Filter{})
	if n != 1 {
		t.Errorf("count = %d, want 1 after retention", n)
	}
}

func ids(rs []*protocol.PollReport) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.ID)
	}
	return out
}
