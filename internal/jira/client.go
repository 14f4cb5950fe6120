package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/h1v3-io/fabsync/pkg/protocol"
)

// DefaultJQL selects unassigned CNC router work that is ready to fabricate.
const DefaultJQL = `project = Hardware AND assignee = Empty AND status = "Ready to Fabricate" AND Machinery = "CNC Router"`

const pageSize = 100

// Client reads tickets from a Jira server over its REST API.
type Client struct {
	client   *http.Client
	server   string
	username string
	password string
	jql      string
	fields   Fields
	logger   *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithJQL overrides the search filter.
func WithJQL(jql string) Option {
	return func(c *Client) { c.jql = jql }
}

// WithFields overrides the custom field ids. Empty ids keep their default.
func WithFields(f Fields) Option {
	return func(c *Client) { c.fields = f.withDefaults() }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithLogger sets the logger for malformed-ticket warnings.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Jira client authenticating with basic auth.
func New(server, username, password string, opts ...Option) *Client {
	c := &Client{
		client:   &http.Client{Timeout: 60 * time.Second},
		server:   strings.TrimSuffix(server, "/"),
		username: username,
		password: password,
		jql:      DefaultJQL,
		fields:   DefaultFields,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// --- wire format ---

type searchResponse struct {
	StartAt    int     `json:"startAt"`
	MaxResults int     `json:"maxResults"`
	Total      int     `json:"total"`
	Issues     []issue `json:"issues"`
}

type issue struct {
	Key    string                     `json:"key"`
	Fields map[string]json.RawMessage `json:"fields"`
}

type attachment struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Content  string `json:"content"`
	Size     int64  `json:"size"`
}

// Search returns every ticket matching the configured JQL, following
// pagination until the reported total is reached.
func (c *Client) Search(ctx context.Context) ([]protocol.Ticket, error) {
	fields := strings.Join([]string{"summary", "attachment", c.fields.Epic, c.fields.Quantity, c.fields.Material, c.fields.Thickness}, ",")

	var tickets []protocol.Ticket
	startAt := 0
	for {
		q := url.Values{}
		q.Set("jql", c.jql)
		q.Set("fields", fields)
		q.Set("startAt", strconv.Itoa(startAt))
		q.Set("maxResults", strconv.Itoa(pageSize))

		var page searchResponse
		if err := c.getJSON(ctx, "/rest/api/2/search?"+q.Encode(), &page); err != nil {
			return nil, fmt.Errorf("jira: search: %w", err)
		}
		for _, is := range page.Issues {
			tickets = append(tickets, c.toTicket(is))
		}

		startAt += len(page.Issues)
		if len(page.Issues) == 0 || startAt >= page.Total {
			break
		}
	}
	return tickets, nil
}

// Summary returns the summary of a single issue, used to resolve epic names.
func (c *Client) Summary(ctx context.Context, key string) (string, error) {
	var is issue
	if err := c.getJSON(ctx, "/rest/api/2/issue/"+url.PathEscape(key)+"?fields=summary", &is); err != nil {
		return "", fmt.Errorf("jira: issue %s: %w", key, err)
	}
	return flatten(is.Fields["summary"]), nil
}

// Download fetches the content of an attachment.
func (c *Client) Download(ctx context.Context, att protocol.Attachment) ([]byte, error) {
	if att.ContentURL == "" {
		return nil, fmt.Errorf("jira: attachment %s has no content url", att.Filename)
	}
	resp, err := c.get(ctx, att.ContentURL)
	if err != nil {
		return nil, fmt.Errorf("jira: download %s: %w", att.Filename, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("jira: download %s: read: %w", att.Filename, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jira: download %s: HTTP %d", att.Filename, resp.StatusCode)
	}
	return data, nil
}

func (c *Client) toTicket(is issue) protocol.Ticket {
	t := protocol.Ticket{
		Key:       is.Key,
		Summary:   flatten(is.Fields["summary"]),
		ParentKey: flatten(is.Fields[c.fields.Epic]),
		Quantity:  flatten(is.Fields[c.fields.Quantity]),
		Material:  flatten(is.Fields[c.fields.Material]),
		Thickness: flatten(is.Fields[c.fields.Thickness]),
	}

	var atts []attachment
	if raw, ok := is.Fields["attachment"]; ok {
		if err := json.Unmarshal(raw, &atts); err != nil {
			c.logger.Warn("malformed attachment field, ticket treated as having none", "ticket", is.Key, "error", err)
			atts = nil
		}
	}
	for _, a := range atts {
		t.Attachments = append(t.Attachments, protocol.Attachment{
			ID:         a.ID,
			Filename:   a.Filename,
			ContentURL: a.Content,
			Size:       a.Size,
		})
	}
	return t
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	resp, err := c.get(ctx, c.server+path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if len(body) > 300 {
			body = body[:300]
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	return c.client.Do(req)
}
