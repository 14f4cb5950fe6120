package reconcile

import (
	"math"
	"strconv"
	"strings"

	"github.com/h1v3-io/fabsync/pkg/protocol"
)

// DefaultAttachmentExt is the CAD exchange format the shop floor consumes.
const DefaultAttachmentExt = ".step"

// Normalized is a ticket with typed, validated fields. Absent values are
// zero: quantities and thicknesses are never non-positive once normalized.
type Normalized struct {
	Key        string
	Name       string
	Epic       string
	Quantity   int
	Material   string
	Thickness  float64
	Attachment *protocol.Attachment
	Kind       protocol.RecordKind
}

// Normalize extracts typed fields from a raw ticket. Malformed values
// become absent rather than errors.
func Normalize(t protocol.Ticket, attachmentExt string) Normalized {
	if attachmentExt == "" {
		attachmentExt = DefaultAttachmentExt
	}
	name := strings.TrimSpace(t.Summary)
	return Normalized{
		Key:        strings.TrimSpace(t.Key),
		Name:       name,
		Epic:       strings.TrimSpace(t.Epic),
		Quantity:   safePositiveInt(t.Quantity),
		Material:   strings.TrimSpace(t.Material),
		Thickness:  safePositiveFloat(t.Thickness),
		Attachment: selectAttachment(t.Attachments, attachmentExt),
		Kind:       Classify(name),
	}
}

// Classify derives the record kind from a ticket name.
func Classify(name string) protocol.RecordKind {
	if strings.Contains(strings.ToLower(name), "tube") {
		return protocol.KindBoxTube
	}
	return protocol.KindPart
}

// Complete reports whether the ticket carries everything needed to
// materialize its record.
func (n Normalized) Complete() bool {
	common := n.Name != "" && n.Epic != "" && n.Key != "" && n.Quantity > 0 && n.Attachment != nil
	if !common {
		return false
	}
	if n.Kind == protocol.KindPart {
		return n.HasCategory()
	}
	return true
}

// HasCategory reports whether both category coordinates are present.
func (n Normalized) HasCategory() bool {
	return n.Material != "" && n.Thickness > 0
}

// Metadata renders the draft metadata for the ticket's current state.
func (n Normalized) Metadata() protocol.DraftMetadata {
	var meta protocol.DraftMetadata
	if n.Name != "" {
		meta.Name = &n.Name
	}
	if n.Epic != "" {
		meta.Epic = &n.Epic
	}
	if n.Quantity > 0 {
		q := n.Quantity
		meta.Quantity = &q
	}
	if n.Kind == protocol.KindPart && n.HasCategory() {
		meta.PendingCategory = &protocol.PendingCategory{Material: n.Material, Thickness: n.Thickness}
	}
	return meta
}

// safePositiveInt parses a positive integer. Whole floats such as "4.0"
// are accepted since Jira number fields serialize that way.
func safePositiveInt(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n > 0 {
			return n
		}
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0
	}
	return int(f)
}

func safePositiveFloat(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return 0
	}
	return f
}

func selectAttachment(atts []protocol.Attachment, ext string) *protocol.Attachment {
	ext = strings.ToLower(ext)
	for i := range atts {
		if strings.HasSuffix(strings.ToLower(atts[i].Filename), ext) {
			a := atts[i]
			return &a
		}
	}
	return nil
}
