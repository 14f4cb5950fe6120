// Package reconcile mirrors fabrication tickets into the inventory service.
//
// Each call to Poll rebuilds its view of both systems from scratch: tickets
// are normalized and classified, incomplete ones are kept as drafts, complete
// ones are materialized exactly once, and records whose tickets disappeared
// are swept. The only state carried between polls is the count of
// consecutive polls that returned no tickets.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/h1v3-io/fabsync/pkg/protocol"
)

// DefaultWipeThreshold is the number of consecutive empty polls after which
// every part, category and box/tube is deleted.
const DefaultWipeThreshold = 2

// TicketSource is the read side: the ticket tracker.
type TicketSource interface {
	// Search returns the tickets matching the configured filter.
	Search(ctx context.Context) ([]protocol.Ticket, error)
	// Summary returns the summary of a single ticket (used for epics).
	Summary(ctx context.Context, key string) (string, error)
	// Download fetches an attachment's content.
	Download(ctx context.Context, att protocol.Attachment) ([]byte, error)
}

// Store is the write side: the inventory service.
type Store interface {
	ListCategories(ctx context.Context) ([]protocol.Category, error)
	FindCategories(ctx context.Context, material string, thickness float64) ([]protocol.Category, error)
	CreateCategory(ctx context.Context, material string, thickness float64) (protocol.Category, error)
	DeleteCategory(ctx context.Context, id protocol.ID) error

	ListParts(ctx context.Context, categoryID protocol.ID) ([]protocol.Part, error)
	CreatePart(ctx context.Context, categoryID protocol.ID, p protocol.Part, file protocol.File) (protocol.Part, error)
	DeletePart(ctx context.Context, id protocol.ID) error

	ListBoxTubes(ctx context.Context) ([]protocol.BoxTube, error)
	CreateBoxTube(ctx context.Context, b protocol.BoxTube, file protocol.File) (protocol.BoxTube, error)
	DeleteBoxTube(ctx context.Context, id protocol.ID) error

	ListDrafts(ctx context.Context) ([]protocol.Draft, error)
	CreateDraft(ctx context.Context, ticket string, kind protocol.RecordKind, meta protocol.DraftMetadata, file *protocol.File) (protocol.Draft, error)
	UpdateDraftMetadata(ctx context.Context, id protocol.ID, meta protocol.DraftMetadata) error
	UpdateDraftFile(ctx context.Context, id protocol.ID, file protocol.File) error
	FinalizeDraft(ctx context.Context, id protocol.ID, categoryID protocol.ID) error
	DeleteDraft(ctx context.Context, id protocol.ID) error
}

// Notifier is told about polls that changed something.
type Notifier interface {
	Notify(ctx context.Context, report *protocol.PollReport) error
}

// Recorder persists finished poll reports.
type Recorder interface {
	RecordPoll(report *protocol.PollReport) error
}

// Reconciler runs polls. It is not safe to call Poll concurrently; Status
// may be called from any goroutine.
type Reconciler struct {
	source        TicketSource
	store         Store
	teamID        string
	logger        *slog.Logger
	notifier      Notifier
	recorder      Recorder
	attachmentExt string
	wipeThreshold int
	now           func() time.Time

	mu         sync.Mutex
	emptyPolls int
	last       *protocol.PollReport
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// WithNotifier sets where notable poll reports are sent.
func WithNotifier(n Notifier) Option {
	return func(r *Reconciler) { r.notifier = n }
}

// WithRecorder sets where every poll report is persisted.
func WithRecorder(rec Recorder) Option {
	return func(r *Reconciler) { r.recorder = rec }
}

// WithAttachmentExt sets the attachment extension that qualifies a file.
func WithAttachmentExt(ext string) Option {
	return func(r *Reconciler) { r.attachmentExt = ext }
}

// WithWipeThreshold sets how many consecutive empty polls trigger a full wipe.
func WithWipeThreshold(n int) Option {
	return func(r *Reconciler) { r.wipeThreshold = n }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// New creates a reconciler for the given team.
func New(source TicketSource, store Store, teamID string, opts ...Option) *Reconciler {
	r := &Reconciler{
		source:        source,
		store:         store,
		teamID:        teamID,
		logger:        slog.Default(),
		attachmentExt: DefaultAttachmentExt,
		wipeThreshold: DefaultWipeThreshold,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.wipeThreshold < 1 {
		r.wipeThreshold = DefaultWipeThreshold
	}
	return r
}

// Status is a snapshot of the reconciler for status endpoints.
type Status struct {
	TeamID      string               `json:"team_id"`
	EmptyStreak int                  `json:"empty_streak"`
	Threshold   int                  `json:"wipe_threshold"`
	LastPoll    *protocol.PollReport `json:"last_poll,omitempty"`
}

// Status returns the current empty-poll streak and the last poll report.
func (r *Reconciler) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{
		TeamID:      r.teamID,
		EmptyStreak: r.emptyPolls,
		Threshold:   r.wipeThreshold,
		LastPoll:    r.last,
	}
}

// pollState is everything a single poll derives; it is discarded afterwards.
type pollState struct {
	report     *protocol.PollReport
	log        *slog.Logger
	drafts     *draftIndex
	categories map[categoryKey]protocol.ID
	epics      map[string]epicLookup
	// records holds the ticket keys owning a part or box tube; nil until
	// first needed.
	records map[string]bool
}

type epicLookup struct {
	summary string
	err     error
}

// Poll runs one reconciliation pass. The returned error is non-nil only
// when the pass was aborted before touching any ticket; per-ticket and
// per-record failures are logged and listed in the report instead.
func (r *Reconciler) Poll(ctx context.Context) (*protocol.PollReport, error) {
	report := &protocol.PollReport{ID: uuid.NewString(), StartedAt: r.now()}
	log := r.logger.With("poll", report.ID)
	defer r.finish(ctx, report, log)

	tickets, err := r.source.Search(ctx)
	if err != nil {
		report.Aborted = "ticket search failed: " + err.Error()
		log.Error("ticket search failed, skipping poll", "error", err)
		return report, fmt.Errorf("reconcile: search tickets: %w", err)
	}
	report.Tickets = len(tickets)

	drafts, err := r.store.ListDrafts(ctx)
	if err != nil {
		report.Aborted = "draft listing failed: " + err.Error()
		log.Error("draft listing failed, skipping poll", "error", err)
		return report, fmt.Errorf("reconcile: list drafts: %w", err)
	}

	ps := &pollState{
		report:     report,
		log:        log,
		drafts:     newDraftIndex(drafts),
		categories: make(map[categoryKey]protocol.ID),
		epics:      make(map[string]epicLookup),
	}

	log.Info("poll started", "tickets", len(tickets), "drafts", len(drafts))

	live := make(map[string]bool, len(tickets))
	for _, t := range tickets {
		epic, epicErr := r.resolveEpic(ctx, ps, t.ParentKey)
		t.Epic = epic
		n := Normalize(t, r.attachmentExt)
		if n.Key == "" {
			log.Warn("ticket without key ignored", "name", n.Name)
			continue
		}
		live[n.Key] = true
		if epicErr != nil {
			// An unknown epic would make the ticket look incomplete.
			log.Warn("epic unresolved, skipping ticket", "ticket", n.Key, "epic_key", t.ParentKey, "error", epicErr)
			ps.report.Add(n.Key, n.Kind, protocol.OpFailed, "resolve epic: "+epicErr.Error())
			continue
		}
		r.reconcileTicket(ctx, ps, n)
	}

	r.sweep(ctx, ps, live)
	return report, nil
}

func (r *Reconciler) finish(ctx context.Context, report *protocol.PollReport, log *slog.Logger) {
	report.FinishedAt = r.now()

	r.mu.Lock()
	r.last = report
	r.mu.Unlock()

	log.Info("poll finished",
		"tickets", report.Tickets,
		"created", report.Count(protocol.OpPartCreated)+report.Count(protocol.OpBoxTubeCreated),
		"finalized", report.Count(protocol.OpDraftFinalized),
		"drafts_created", report.Count(protocol.OpDraftCreated),
		"drafts_updated", report.Count(protocol.OpDraftUpdated),
		"failed", report.Count(protocol.OpFailed),
		"empty_streak", report.EmptyStreak,
		"wiped", report.Wiped,
		"duration", report.FinishedAt.Sub(report.StartedAt).String(),
	)

	if r.recorder != nil {
		if err := r.recorder.RecordPoll(report); err != nil {
			log.Warn("failed to record poll", "error", err)
		}
	}
	if r.notifier != nil && report.Notable() {
		if err := r.notifier.Notify(ctx, report); err != nil {
			log.Warn("failed to send poll notification", "error", err)
		}
	}
}

// resolveEpic returns the summary of a ticket's parent, memoised per poll
// along with any lookup error.
func (r *Reconciler) resolveEpic(ctx context.Context, ps *pollState, parentKey string) (string, error) {
	if parentKey == "" {
		return "", nil
	}
	if e, ok := ps.epics[parentKey]; ok {
		return e.summary, e.err
	}
	epic, err := r.source.Summary(ctx, parentKey)
	if err != nil {
		ps.log.Warn("epic lookup failed", "epic_key", parentKey, "error", err)
		epic = ""
	}
	ps.epics[parentKey] = epicLookup{summary: epic, err: err}
	return epic, err
}

func (r *Reconciler) bumpEmptyPolls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emptyPolls++
	return r.emptyPolls
}

func (r *Reconciler) resetEmptyPolls() {
	r.mu.Lock()
	r.emptyPolls = 0
	r.mu.Unlock()
}
