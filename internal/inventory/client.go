package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"time"

	"github.com/h1v3-io/fabsync/pkg/protocol"
)

// Client talks to the inventory service's REST API.
type Client struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.client = c }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.client = &http.Client{Timeout: d} }
}

// New creates a client for the service rooted at baseURL (e.g. http://localhost:3000/api).
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		client:  &http.Client{Timeout: 60 * time.Second},
		baseURL: baseURL,
		apiKey:  apiKey,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type teamResponse struct {
	ID protocol.ID `json:"id"`
}

// TeamID returns the id of the team the API key belongs to.
func (c *Client) TeamID(ctx context.Context) (string, error) {
	team, err := call[teamResponse](ctx, c, "get team", http.MethodGet, "/team", nil, "")
	if err != nil {
		return "", err
	}
	if team.ID == "" {
		return "", fmt.Errorf("inventory: get team: response carried no id")
	}
	return team.ID.String(), nil
}

// --- Categories ---

// ListCategories returns every category.
func (c *Client) ListCategories(ctx context.Context) ([]protocol.Category, error) {
	return call[[]protocol.Category](ctx, c, "list categories", http.MethodGet, "/pc", nil, "")
}

// FindCategories queries categories by material and thickness. The service
// may match loosely; callers filter the result.
func (c *Client) FindCategories(ctx context.Context, material string, thickness float64) ([]protocol.Category, error) {
	q := url.Values{}
	q.Set("material", material)
	q.Set("thickness", strconv.FormatFloat(thickness, 'f', -1, 64))
	return call[[]protocol.Category](ctx, c, "find categories", http.MethodGet, "/pc?"+q.Encode(), nil, "")
}

// CreateCategory creates a category and returns it with its new id.
func (c *Client) CreateCategory(ctx context.Context, material string, thickness float64) (protocol.Category, error) {
	body, err := json.Marshal(protocol.Category{Material: material, Thickness: thickness})
	if err != nil {
		return protocol.Category{}, fmt.Errorf("inventory: create category: %w", err)
	}
	cat, err := call[protocol.Category](ctx, c, "create category", http.MethodPost, "/pc", bytes.NewReader(body), "application/json")
	if err != nil {
		return protocol.Category{}, err
	}
	if cat.ID == "" {
		return protocol.Category{}, fmt.Errorf("inventory: create category: response carried no id")
	}
	return cat, nil
}

// DeleteCategory deletes a category.
func (c *Client) DeleteCategory(ctx context.Context, id protocol.ID) error {
	_, err := call[discard](ctx, c, "delete category", http.MethodDelete, "/pc/"+url.PathEscape(id.String()), nil, "")
	return err
}

// --- Parts ---

// ListParts returns the parts filed under a category.
func (c *Client) ListParts(ctx context.Context, categoryID protocol.ID) ([]protocol.Part, error) {
	return call[[]protocol.Part](ctx, c, "list parts", http.MethodGet, "/pc/"+url.PathEscape(categoryID.String())+"/parts", nil, "")
}

type partData struct {
	Name     string `json:"name"`
	Epic     string `json:"epic"`
	Ticket   string `json:"ticket"`
	Quantity int    `json:"quantity"`
}

// CreatePart uploads a part and its file under a category.
func (c *Client) CreatePart(ctx context.Context, categoryID protocol.ID, p protocol.Part, file protocol.File) (protocol.Part, error) {
	data := partData{Name: p.Name, Epic: p.Epic, Ticket: p.Ticket, Quantity: p.Quantity}
	body, contentType, err := multipartBody(data, &file)
	if err != nil {
		return protocol.Part{}, fmt.Errorf("inventory: create part: %w", err)
	}
	return call[protocol.Part](ctx, c, "create part", http.MethodPost, "/pc/"+url.PathEscape(categoryID.String())+"/parts", body, contentType)
}

// DeletePart deletes a part.
func (c *Client) DeletePart(ctx context.Context, id protocol.ID) error {
	_, err := call[discard](ctx, c, "delete part", http.MethodDelete, "/parts/"+url.PathEscape(id.String()), nil, "")
	return err
}

// --- Box/tubes ---

// ListBoxTubes returns every box/tube.
func (c *Client) ListBoxTubes(ctx context.Context) ([]protocol.BoxTube, error) {
	return call[[]protocol.BoxTube](ctx, c, "list box tubes", http.MethodGet, "/boxtubes", nil, "")
}

// CreateBoxTube uploads a box/tube and its file.
func (c *Client) CreateBoxTube(ctx context.Context, b protocol.BoxTube, file protocol.File) (protocol.BoxTube, error) {
	b.ID = ""
	body, contentType, err := multipartBody(b, &file)
	if err != nil {
		return protocol.BoxTube{}, fmt.Errorf("inventory: create box tube: %w", err)
	}
	return call[protocol.BoxTube](ctx, c, "create box tube", http.MethodPost, "/boxtubes", body, contentType)
}

// DeleteBoxTube deletes a box/tube.
func (c *Client) DeleteBoxTube(ctx context.Context, id protocol.ID) error {
	_, err := call[discard](ctx, c, "delete box tube", http.MethodDelete, "/boxtubes/"+url.PathEscape(id.String()), nil, "")
	return err
}

// --- Drafts ---

// ListDrafts returns every draft.
func (c *Client) ListDrafts(ctx context.Context) ([]protocol.Draft, error) {
	return call[[]protocol.Draft](ctx, c, "list drafts", http.MethodGet, "/drafts", nil, "")
}

type draftData struct {
	Ticket   string                 `json:"ticket"`
	Kind     protocol.RecordKind    `json:"kind"`
	Metadata protocol.DraftMetadata `json:"metadata"`
}

// CreateDraft creates a draft. file may be nil when the ticket has no
// attachment yet.
func (c *Client) CreateDraft(ctx context.Context, ticket string, kind protocol.RecordKind, meta protocol.DraftMetadata, file *protocol.File) (protocol.Draft, error) {
	body, contentType, err := multipartBody(draftData{Ticket: ticket, Kind: kind, Metadata: meta}, file)
	if err != nil {
		return protocol.Draft{}, fmt.Errorf("inventory: create draft: %w", err)
	}
	return call[protocol.Draft](ctx, c, "create draft", http.MethodPost, "/drafts", body, contentType)
}

// UpdateDraftMetadata replaces a draft's metadata.
func (c *Client) UpdateDraftMetadata(ctx context.Context, id protocol.ID, meta protocol.DraftMetadata) error {
	body, err := json.Marshal(map[string]any{"metadata": meta})
	if err != nil {
		return fmt.Errorf("inventory: update draft metadata: %w", err)
	}
	_, err = call[discard](ctx, c, "update draft metadata", http.MethodPatch, "/drafts/"+url.PathEscape(id.String()), bytes.NewReader(body), "application/json")
	return err
}

// UpdateDraftFile replaces a draft's attachment.
func (c *Client) UpdateDraftFile(ctx context.Context, id protocol.ID, file protocol.File) error {
	body, contentType, err := multipartBody(nil, &file)
	if err != nil {
		return fmt.Errorf("inventory: update draft file: %w", err)
	}
	_, err = call[discard](ctx, c, "update draft file", http.MethodPatch, "/drafts/"+url.PathEscape(id.String())+"/file", body, contentType)
	return err
}

// FinalizeDraft asks the service to promote a draft into its terminal
// record. categoryID is required for part drafts and empty otherwise.
func (c *Client) FinalizeDraft(ctx context.Context, id protocol.ID, categoryID protocol.ID) error {
	payload := map[string]any{}
	if categoryID != "" {
		payload["category_id"] = categoryID.String()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("inventory: finalize draft: %w", err)
	}
	_, err = call[discard](ctx, c, "finalize draft", http.MethodPost, "/drafts/"+url.PathEscape(id.String())+"/finalize", bytes.NewReader(body), "application/json")
	return err
}

// DeleteDraft deletes a draft.
func (c *Client) DeleteDraft(ctx context.Context, id protocol.ID) error {
	_, err := call[discard](ctx, c, "delete draft", http.MethodDelete, "/drafts/"+url.PathEscape(id.String()), nil, "")
	return err
}

// --- helpers ---

// call sends a request and decodes the response into T.
func call[T any](ctx context.Context, c *Client, op, method, path string, body io.Reader, contentType string) (T, error) {
	resp, err := c.do(ctx, method, path, body, contentType)
	return decode[T](op, resp, err)
}

// do sends a request and returns the raw response.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return c.client.Do(req)
}

// multipartBody builds a form with an optional JSON "data" part and an
// optional "file" part.
func multipartBody(data any, file *protocol.File) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if data != nil {
		payload, err := json.Marshal(data)
		if err != nil {
			return nil, "", fmt.Errorf("marshal data: %w", err)
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="data"`)
		h.Set("Content-Type", "application/json")
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(payload); err != nil {
			return nil, "", err
		}
	}

	if file != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, file.Name))
		h.Set("Content-Type", "application/octet-stream")
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(file.Data); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
