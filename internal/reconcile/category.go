package reconcile

import (
	"context"
	"strconv"
	"strings"

	"github.com/h1v3-io/fabsync/pkg/protocol"
)

// categoryKey identifies a category by exact material and canonical
// decimal thickness.
type categoryKey struct {
	material  string
	thickness string
}

func newCategoryKey(material string, thickness float64) categoryKey {
	return categoryKey{material: strings.TrimSpace(material), thickness: canonicalThickness(thickness)}
}

func canonicalThickness(t float64) string {
	return strconv.FormatFloat(t, 'f', -1, 64)
}

// resolveCategory returns the id of the (material, thickness) category,
// creating it if the inventory has none. ok is false when the inventory
// could not be read or written; the ticket is retried next poll.
func (r *Reconciler) resolveCategory(ctx context.Context, ps *pollState, material string, thickness float64) (protocol.ID, bool) {
	key := newCategoryKey(material, thickness)
	if id, ok := ps.categories[key]; ok {
		return id, true
	}
	log := ps.log.With("material", key.material, "thickness", key.thickness)

	found, err := r.store.FindCategories(ctx, key.material, thickness)
	if err != nil {
		log.Error("category lookup failed", "error", err)
		return "", false
	}
	for _, c := range found {
		if newCategoryKey(c.Material, c.Thickness) == key {
			ps.categories[key] = c.ID
			return c.ID, true
		}
	}

	created, err := r.store.CreateCategory(ctx, key.material, thickness)
	if err != nil {
		log.Error("category create failed", "error", err)
		return "", false
	}
	log.Info("category created", "category", created.ID)
	ps.categories[key] = created.ID
	return created.ID, true
}
