package reconcile

import (
	"context"
	"strings"

	"github.com/h1v3-io/fabsync/pkg/protocol"
)

// sweep removes inventory state no longer backed by a live ticket. It runs
// after every ticket of the poll has been processed.
func (r *Reconciler) sweep(ctx context.Context, ps *pollState, live map[string]bool) {
	r.sweepDrafts(ctx, ps, live)

	if len(live) == 0 {
		streak := r.bumpEmptyPolls()
		ps.report.EmptyStreak = streak
		if streak < r.wipeThreshold {
			ps.log.Warn("no tickets returned, skipping cleanup", "empty_streak", streak, "threshold", r.wipeThreshold)
			return
		}
		ps.log.Warn("no tickets for consecutive polls, wiping inventory", "empty_streak", streak)
		r.wipe(ctx, ps)
		ps.report.Wiped = true
		r.resetEmptyPolls()
		return
	}

	r.resetEmptyPolls()
	r.sweepParts(ctx, ps, live)
	r.sweepBoxTubes(ctx, ps, live)
}

// sweepParts deletes parts of vanished tickets, then any category left
// without parts.
func (r *Reconciler) sweepParts(ctx context.Context, ps *pollState, live map[string]bool) {
	cats, err := r.store.ListCategories(ctx)
	if err != nil {
		ps.log.Error("failed to list categories for cleanup", "error", err)
		return
	}

	for _, cat := range cats {
		log := ps.log.With("category", cat.ID)
		parts, err := r.store.ListParts(ctx, cat.ID)
		if err != nil {
			log.Error("failed to list parts for cleanup", "error", err)
			continue
		}

		remaining := 0
		for _, p := range parts {
			if live[p.Ticket] {
				remaining++
				continue
			}
			if err := r.store.DeletePart(ctx, p.ID); err != nil {
				log.Error("failed to delete stale part", "part", p.ID, "ticket", p.Ticket, "error", err)
				remaining++
				continue
			}
			log.Info("stale part deleted", "part", p.ID, "ticket", p.Ticket)
			ps.report.Add(p.Ticket, protocol.KindPart, protocol.OpPartDeleted, "")
		}

		if remaining > 0 {
			continue
		}
		if err := r.store.DeleteCategory(ctx, cat.ID); err != nil {
			log.Error("failed to delete empty category", "error", err)
			continue
		}
		log.Info("empty category deleted", "material", cat.Material, "thickness", cat.Thickness)
		ps.report.Add("", "", protocol.OpCategoryDeleted, categoryLabel(cat))
	}
}

func (r *Reconciler) sweepBoxTubes(ctx context.Context, ps *pollState, live map[string]bool) {
	boxes, err := r.store.ListBoxTubes(ctx)
	if err != nil {
		ps.log.Error("failed to list box tubes for cleanup", "error", err)
		return
	}
	for _, b := range boxes {
		if live[b.Ticket] {
			continue
		}
		if err := r.store.DeleteBoxTube(ctx, b.ID); err != nil {
			ps.log.Error("failed to delete stale box tube", "box_tube", b.ID, "ticket", b.Ticket, "error", err)
			continue
		}
		ps.log.Info("stale box tube deleted", "box_tube", b.ID, "ticket", b.Ticket)
		ps.report.Add(b.Ticket, protocol.KindBoxTube, protocol.OpBoxTubeDeleted, "")
	}
}

// sweepDrafts deletes drafts whose ticket vanished, but only within key
// prefixes (projects) that still have a live ticket this poll. Drafts of
// other projects are never touched.
func (r *Reconciler) sweepDrafts(ctx context.Context, ps *pollState, live map[string]bool) {
	prefixes := make(map[string]bool, len(live))
	for key := range live {
		prefixes[keyPrefix(key)] = true
	}
	if len(prefixes) == 0 {
		return
	}

	drafts, err := r.store.ListDrafts(ctx)
	if err != nil {
		ps.log.Error("failed to list drafts for cleanup", "error", err)
		return
	}
	for _, d := range drafts {
		if live[d.Ticket] || !prefixes[keyPrefix(d.Ticket)] {
			continue
		}
		if err := r.store.DeleteDraft(ctx, d.ID); err != nil {
			ps.log.Error("failed to delete stale draft", "draft", d.ID, "ticket", d.Ticket, "error", err)
			continue
		}
		ps.log.Info("stale draft deleted", "draft", d.ID, "ticket", d.Ticket)
		ps.report.Add(d.Ticket, d.Kind, protocol.OpDraftDeleted, "ticket gone")
	}
}

// wipe deletes every part, category and box tube. Drafts are left to
// sweepDrafts.
func (r *Reconciler) wipe(ctx context.Context, ps *pollState) {
	cats, err := r.store.ListCategories(ctx)
	if err != nil {
		ps.log.Error("wipe: failed to list categories", "error", err)
	}
	for _, cat := range cats {
		parts, err := r.store.ListParts(ctx, cat.ID)
		if err != nil {
			ps.log.Error("wipe: failed to list parts", "category", cat.ID, "error", err)
		}
		for _, p := range parts {
			if err := r.store.DeletePart(ctx, p.ID); err != nil {
				ps.log.Error("wipe: failed to delete part", "part", p.ID, "error", err)
				continue
			}
			ps.report.Add(p.Ticket, protocol.KindPart, protocol.OpPartDeleted, "wipe")
		}
		if err := r.store.DeleteCategory(ctx, cat.ID); err != nil {
			ps.log.Error("wipe: failed to delete category", "category", cat.ID, "error", err)
			continue
		}
		ps.report.Add("", "", protocol.OpCategoryDeleted, categoryLabel(cat))
	}

	boxes, err := r.store.ListBoxTubes(ctx)
	if err != nil {
		ps.log.Error("wipe: failed to list box tubes", "error", err)
	}
	for _, b := range boxes {
		if err := r.store.DeleteBoxTube(ctx, b.ID); err != nil {
			ps.log.Error("wipe: failed to delete box tube", "box_tube", b.ID, "error", err)
			continue
		}
		ps.report.Add(b.Ticket, protocol.KindBoxTube, protocol.OpBoxTubeDeleted, "wipe")
	}
}

// keyPrefix returns the project part of a ticket key ("HAR" for "HAR-12").
func keyPrefix(key string) string {
	prefix, _, _ := strings.Cut(key, "-")
	return prefix
}

func categoryLabel(c protocol.Category) string {
	return c.Material + " " + canonicalThickness(c.Thickness)
}
