package reconcile

import (
	"context"
	"log/slog"

	"github.com/h1v3-io/fabsync/pkg/protocol"
)

type draftKey struct {
	ticket string
	kind   protocol.RecordKind
}

// draftIndex looks drafts up by (ticket, kind), falling back to any draft
// of the ticket. Drafts created before kinds were tracked have an empty kind.
type draftIndex struct {
	byKey    map[draftKey]protocol.Draft
	byTicket map[string][]protocol.Draft
}

func newDraftIndex(drafts []protocol.Draft) *draftIndex {
	ix := &draftIndex{
		byKey:    make(map[draftKey]protocol.Draft, len(drafts)),
		byTicket: make(map[string][]protocol.Draft, len(drafts)),
	}
	for _, d := range drafts {
		ix.add(d)
	}
	return ix
}

func (ix *draftIndex) add(d protocol.Draft) {
	k := draftKey{d.Ticket, d.Kind}
	if _, dup := ix.byKey[k]; !dup {
		ix.byKey[k] = d
	}
	ix.byTicket[d.Ticket] = append(ix.byTicket[d.Ticket], d)
}

func (ix *draftIndex) lookup(ticket string, kind protocol.RecordKind) (protocol.Draft, bool) {
	if d, ok := ix.byKey[draftKey{ticket, kind}]; ok {
		return d, true
	}
	if ds := ix.byTicket[ticket]; len(ds) > 0 {
		return ds[0], true
	}
	return protocol.Draft{}, false
}

func (ix *draftIndex) forget(d protocol.Draft) {
	ds := ix.byTicket[d.Ticket]
	kept := make([]protocol.Draft, 0, len(ds))
	for _, x := range ds {
		if x.ID != d.ID {
			kept = append(kept, x)
		}
	}

	k := draftKey{d.Ticket, d.Kind}
	if cur, ok := ix.byKey[k]; ok && cur.ID == d.ID {
		delete(ix.byKey, k)
		for _, x := range kept {
			if x.Kind == d.Kind {
				ix.byKey[k] = x
				break
			}
		}
	}

	if len(kept) == 0 {
		delete(ix.byTicket, d.Ticket)
		return
	}
	ix.byTicket[d.Ticket] = kept
}

// reconcileTicket advances one ticket's draft state machine by one poll.
func (r *Reconciler) reconcileTicket(ctx context.Context, ps *pollState, n Normalized) {
	log := ps.log.With("ticket", n.Key, "kind", n.Kind)

	// At most one draft per ticket survives: every draft of another kind
	// goes. Legacy drafts without a kind are reused.
	for _, d := range append([]protocol.Draft(nil), ps.drafts.byTicket[n.Key]...) {
		if d.Kind == "" || d.Kind == n.Kind {
			continue
		}
		if err := r.store.DeleteDraft(ctx, d.ID); err != nil {
			log.Error("failed to delete draft of stale kind", "draft", d.ID, "draft_kind", d.Kind, "error", err)
			ps.report.Add(n.Key, n.Kind, protocol.OpFailed, "delete stale-kind draft: "+err.Error())
			return
		}
		log.Info("draft deleted after kind change", "draft", d.ID, "draft_kind", d.Kind)
		ps.report.Add(n.Key, d.Kind, protocol.OpDraftDeleted, "kind changed to "+string(n.Kind))
		ps.drafts.forget(d)
	}
	draft, found := ps.drafts.lookup(n.Key, n.Kind)

	switch {
	case !n.Complete() && !found:
		owned, ok := r.ownsRecord(ctx, ps, n, log)
		if !ok {
			return
		}
		if owned {
			// Complete never flips back to incomplete.
			log.Warn("incomplete ticket already has a record, no draft created")
			ps.report.Add(n.Key, n.Kind, protocol.OpSkippedExisting, "incomplete")
			return
		}
		r.createDraft(ctx, ps, n, log)
	case !n.Complete():
		r.updateDraft(ctx, ps, n, draft, log)
	case found:
		owned, ok := r.ownsRecord(ctx, ps, n, log)
		if !ok {
			return
		}
		if owned {
			r.discardDraft(ctx, ps, n, draft, log)
			return
		}
		r.finalizeDraft(ctx, ps, n, draft, log)
	case n.Kind == protocol.KindBoxTube:
		r.materialize(ctx, ps, n, "")
	default:
		categoryID, ok := r.resolveCategory(ctx, ps, n.Material, n.Thickness)
		if !ok {
			ps.report.Add(n.Key, n.Kind, protocol.OpFailed, "category unresolved")
			return
		}
		r.materialize(ctx, ps, n, categoryID)
	}
}

// ownsRecord reports whether the ticket already has a part or box tube.
// ok is false when that could not be checked; the failure is reported.
func (r *Reconciler) ownsRecord(ctx context.Context, ps *pollState, n Normalized, log *slog.Logger) (owned, ok bool) {
	records, err := r.materializedTickets(ctx, ps)
	if err != nil {
		log.Error("existing record check failed", "error", err)
		ps.report.Add(n.Key, n.Kind, protocol.OpFailed, "list existing: "+err.Error())
		return false, false
	}
	return records[n.Key], true
}

// discardDraft removes a draft whose ticket already owns a record instead
// of finalizing it into a second one.
func (r *Reconciler) discardDraft(ctx context.Context, ps *pollState, n Normalized, d protocol.Draft, log *slog.Logger) {
	if err := r.store.DeleteDraft(ctx, d.ID); err != nil {
		log.Error("failed to delete draft of materialized ticket", "draft", d.ID, "error", err)
		ps.report.Add(n.Key, n.Kind, protocol.OpFailed, "delete draft: "+err.Error())
		return
	}
	ps.drafts.forget(d)
	log.Info("draft deleted, ticket already has a record", "draft", d.ID)
	ps.report.Add(n.Key, d.Kind, protocol.OpDraftDeleted, "record exists")
}

func (r *Reconciler) createDraft(ctx context.Context, ps *pollState, n Normalized, log *slog.Logger) {
	file, err := r.fetchAttachment(ctx, n)
	if err != nil {
		// The draft is created without a file; the next poll attaches it.
		log.Warn("attachment download failed, creating draft without file", "file", n.Attachment.Filename, "error", err)
		file = nil
	}

	d, err := r.store.CreateDraft(ctx, n.Key, n.Kind, n.Metadata(), file)
	if err != nil {
		log.Error("failed to create draft", "error", err)
		ps.report.Add(n.Key, n.Kind, protocol.OpFailed, "create draft: "+err.Error())
		return
	}
	if d.Ticket == "" {
		d.Ticket = n.Key
	}
	if d.Kind == "" {
		d.Kind = n.Kind
	}
	ps.drafts.add(d)
	log.Info("draft created", "draft", d.ID, "has_file", file != nil)
	ps.report.Add(n.Key, n.Kind, protocol.OpDraftCreated, "")
}

func (r *Reconciler) updateDraft(ctx context.Context, ps *pollState, n Normalized, d protocol.Draft, log *slog.Logger) {
	if err := r.store.UpdateDraftMetadata(ctx, d.ID, n.Metadata()); err != nil {
		log.Error("failed to update draft metadata", "draft", d.ID, "error", err)
		ps.report.Add(n.Key, n.Kind, protocol.OpFailed, "update draft metadata: "+err.Error())
		return
	}
	if err := r.syncDraftFile(ctx, n, d); err != nil {
		log.Error("failed to update draft file", "draft", d.ID, "error", err)
		ps.report.Add(n.Key, n.Kind, protocol.OpFailed, "update draft file: "+err.Error())
		return
	}
	log.Debug("draft updated", "draft", d.ID)
	ps.report.Add(n.Key, n.Kind, protocol.OpDraftUpdated, "")
}

// finalizeDraft brings a complete ticket's draft up to date and promotes it.
// Any failing step leaves the draft in place for the next poll.
func (r *Reconciler) finalizeDraft(ctx context.Context, ps *pollState, n Normalized, d protocol.Draft, log *slog.Logger) {
	if err := r.store.UpdateDraftMetadata(ctx, d.ID, n.Metadata()); err != nil {
		log.Error("failed to update draft metadata before finalize", "draft", d.ID, "error", err)
		ps.report.Add(n.Key, n.Kind, protocol.OpFailed, "update draft metadata: "+err.Error())
		return
	}
	if err := r.syncDraftFile(ctx, n, d); err != nil {
		log.Error("failed to update draft file before finalize", "draft", d.ID, "error", err)
		ps.report.Add(n.Key, n.Kind, protocol.OpFailed, "update draft file: "+err.Error())
		return
	}

	var categoryID protocol.ID
	if n.Kind == protocol.KindPart {
		id, ok := r.resolveCategory(ctx, ps, n.Material, n.Thickness)
		if !ok {
			ps.report.Add(n.Key, n.Kind, protocol.OpFailed, "category unresolved")
			return
		}
		categoryID = id
	}

	if err := r.store.FinalizeDraft(ctx, d.ID, categoryID); err != nil {
		log.Error("failed to finalize draft", "draft", d.ID, "category", categoryID, "error", err)
		ps.report.Add(n.Key, n.Kind, protocol.OpFailed, "finalize draft: "+err.Error())
		return
	}
	ps.drafts.forget(d)
	ps.noteRecord(n.Key)
	log.Info("draft finalized", "draft", d.ID, "category", categoryID)
	ps.report.Add(n.Key, n.Kind, protocol.OpDraftFinalized, "")
}

// syncDraftFile uploads the ticket's attachment when the draft has none or
// holds a file with a different name.
func (r *Reconciler) syncDraftFile(ctx context.Context, n Normalized, d protocol.Draft) error {
	if n.Attachment == nil {
		return nil
	}
	if d.HasFile() && d.FileName == n.Attachment.Filename {
		return nil
	}
	file, err := r.fetchAttachment(ctx, n)
	if err != nil {
		return err
	}
	return r.store.UpdateDraftFile(ctx, d.ID, *file)
}

// fetchAttachment downloads the ticket's attachment; nil when it has none.
func (r *Reconciler) fetchAttachment(ctx context.Context, n Normalized) (*protocol.File, error) {
	if n.Attachment == nil {
		return nil, nil
	}
	data, err := r.source.Download(ctx, *n.Attachment)
	if err != nil {
		return nil, err
	}
	return &protocol.File{Name: n.Attachment.Filename, Data: data}, nil
}
