package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// RecordKind is the kind of inventory record a ticket materializes into.
type RecordKind string

const (
	KindPart    RecordKind = "part"
	KindBoxTube RecordKind = "box_tube"
)

// ParseRecordKind maps a stored kind string onto the closed set of kinds.
// An empty string yields ("", nil): drafts created before kinds were
// tracked carry no kind.
func ParseRecordKind(s string) (RecordKind, error) {
	switch RecordKind(strings.TrimSpace(s)) {
	case KindPart:
		return KindPart, nil
	case KindBoxTube:
		return KindBoxTube, nil
	case "":
		return "", nil
	}
	return "", fmt.Errorf("unknown record kind %q", s)
}

// ID is an opaque inventory identifier. The inventory service emits
// numeric ids for some resources and string ids for others.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Category groups parts by material and thickness.
type Category struct {
	ID        ID      `json:"id"`
	Material  string  `json:"material"`
	Thickness float64 `json:"thickness"`
}

// Part is a materialized record belonging to a category.
type Part struct {
	ID         ID     `json:"id,omitempty"`
	Name       string `json:"name"`
	Epic       string `json:"epic"`
	Ticket     string `json:"ticket"`
	Quantity   int    `json:"quantity"`
	CategoryID ID     `json:"category_id,omitempty"`
}

// BoxTube is a materialized box or tube record, scoped to a team.
type BoxTube struct {
	ID       ID     `json:"id,omitempty"`
	Name     string `json:"name"`
	Epic     string `json:"epic"`
	Ticket   string `json:"ticket"`
	Quantity int    `json:"quantity"`
	TeamID   string `json:"team_id"`
}

// PendingCategory is the category a part draft will be filed under once
// finalized.
type PendingCategory struct {
	Material  string  `json:"material"`
	Thickness float64 `json:"thickness"`
}

// DraftMetadata is the mutable part of a draft. Nil fields are sent as
// JSON null so that values cleared upstream are cleared on the draft too.
type DraftMetadata struct {
	Name            *string          `json:"name"`
	Epic            *string          `json:"epic"`
	Quantity        *int             `json:"quantity"`
	PendingCategory *PendingCategory `json:"pending_category"`
}

// Draft is an in-progress materialization of an incomplete ticket.
type Draft struct {
	ID       ID            `json:"id"`
	Ticket   string        `json:"ticket"`
	Kind     RecordKind    `json:"kind,omitempty"`
	Metadata DraftMetadata `json:"metadata"`
	FileName string        `json:"file_name,omitempty"`
}

// HasFile reports whether the draft currently carries an attachment.
func (d Draft) HasFile() bool { return d.FileName != "" }
