package protocol

// Ticket is a fabrication request as read from the ticket source.
// Field values are raw text; normalization happens in the reconciler.
type Ticket struct {
	Key         string       `json:"key"`
	Summary     string       `json:"summary"`
	ParentKey   string       `json:"parent_key,omitempty"`
	Epic        string       `json:"epic,omitempty"` // resolved summary of ParentKey
	Quantity    string       `json:"quantity,omitempty"`
	Material    string       `json:"material,omitempty"`
	Thickness   string       `json:"thickness,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment is a file attached to a ticket. Content is fetched on demand.
type Attachment struct {
	ID         string `json:"id"`
	Filename   string `json:"filename"`
	ContentURL string `json:"content"`
	Size       int64  `json:"size"`
}

// File is a downloaded attachment payload.
type File struct {
	Name string
	Data []byte
}
