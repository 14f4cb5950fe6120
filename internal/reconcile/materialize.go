package reconcile

import (
	"context"

	"github.com/h1v3-io/fabsync/pkg/protocol"
)

// materialize creates the terminal record for a complete ticket unless one
// already carries its key. It reports whether a record was created.
func (r *Reconciler) materialize(ctx context.Context, ps *pollState, n Normalized, categoryID protocol.ID) bool {
	log := ps.log.With("ticket", n.Key, "kind", n.Kind)

	exists, err := r.recordExists(ctx, n.Kind, n.Key, categoryID)
	if err != nil {
		// Without the listing we cannot rule out a duplicate.
		log.Error("existing record check failed", "category", categoryID, "error", err)
		ps.report.Add(n.Key, n.Kind, protocol.OpFailed, "list existing: "+err.Error())
		return false
	}
	if exists {
		log.Debug("record already exists")
		ps.report.Add(n.Key, n.Kind, protocol.OpSkippedExisting, "")
		return false
	}

	file, err := r.fetchAttachment(ctx, n)
	if err != nil || file == nil {
		log.Error("attachment download failed", "error", err)
		detail := "attachment unavailable"
		if err != nil {
			detail = "download attachment: " + err.Error()
		}
		ps.report.Add(n.Key, n.Kind, protocol.OpFailed, detail)
		return false
	}

	switch n.Kind {
	case protocol.KindBoxTube:
		payload := protocol.BoxTube{Name: n.Name, Epic: n.Epic, Ticket: n.Key, Quantity: n.Quantity, TeamID: r.teamID}
		created, err := r.store.CreateBoxTube(ctx, payload, *file)
		if err != nil {
			log.Error("failed to create box tube", "payload", payload, "file", file.Name, "error", err)
			ps.report.Add(n.Key, n.Kind, protocol.OpFailed, "create box tube: "+err.Error())
			return false
		}
		ps.noteRecord(n.Key)
		log.Info("box tube created", "id", created.ID)
		ps.report.Add(n.Key, n.Kind, protocol.OpBoxTubeCreated, "")
	default:
		payload := protocol.Part{Name: n.Name, Epic: n.Epic, Ticket: n.Key, Quantity: n.Quantity}
		created, err := r.store.CreatePart(ctx, categoryID, payload, *file)
		if err != nil {
			log.Error("failed to create part", "category", categoryID, "payload", payload, "file", file.Name, "error", err)
			ps.report.Add(n.Key, n.Kind, protocol.OpFailed, "create part: "+err.Error())
			return false
		}
		ps.noteRecord(n.Key)
		log.Info("part created", "id", created.ID, "category", categoryID)
		ps.report.Add(n.Key, n.Kind, protocol.OpPartCreated, "")
	}
	return true
}

// recordExists checks the record's scope (the category's parts, or all box
// tubes) for one already carrying the ticket key.
func (r *Reconciler) recordExists(ctx context.Context, kind protocol.RecordKind, ticket string, categoryID protocol.ID) (bool, error) {
	if kind == protocol.KindBoxTube {
		existing, err := r.store.ListBoxTubes(ctx)
		if err != nil {
			return false, err
		}
		for _, b := range existing {
			if b.Ticket == ticket {
				return true, nil
			}
		}
		return false, nil
	}

	existing, err := r.store.ListParts(ctx, categoryID)
	if err != nil {
		return false, err
	}
	for _, p := range existing {
		if p.Ticket == ticket {
			return true, nil
		}
	}
	return false, nil
}

// materializedTickets returns the keys of every ticket owning a part or box
// tube, listing the inventory once per poll.
func (r *Reconciler) materializedTickets(ctx context.Context, ps *pollState) (map[string]bool, error) {
	if ps.records != nil {
		return ps.records, nil
	}
	records := make(map[string]bool)
	cats, err := r.store.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range cats {
		parts, err := r.store.ListParts(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		for _, p := range parts {
			records[p.Ticket] = true
		}
	}
	boxes, err := r.store.ListBoxTubes(ctx)
	if err != nil {
		return nil, err
	}
	for _, b := range boxes {
		records[b.Ticket] = true
	}
	ps.records = records
	return records, nil
}

func (ps *pollState) noteRecord(ticket string) {
	if ps.records != nil {
		ps.records[ticket] = true
	}
}
