package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"

	"github.com/h1v3-io/fabsync/pkg/protocol"
)

var errBoom = errors.New("boom")

type fakeSource struct {
	tickets   []protocol.Ticket
	summaries map[string]string
	files     map[string][]byte

	searchErr   error
	downloadErr error

	searches  int
	summaryOf []string
}

func (s *fakeSource) Search(ctx context.Context) ([]protocol.Ticket, error) {
	s.searches++
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	return append([]protocol.Ticket(nil), s.tickets...), nil
}

func (s *fakeSource) Summary(ctx context.Context, key string) (string, error) {
	s.summaryOf = append(s.summaryOf, key)
	sum, ok := s.summaries[key]
	if !ok {
		return "", fmt.Errorf("no issue %s", key)
	}
	return sum, nil
}

func (s *fakeSource) Download(ctx context.Context, att protocol.Attachment) ([]byte, error) {
	if s.downloadErr != nil {
		return nil, s.downloadErr
	}
	if data, ok := s.files[att.ID]; ok {
		return data, nil
	}
	return []byte("solid " + att.Filename), nil
}

type storedPart struct {
	protocol.Part
	category protocol.ID
	file     string
}

type storedBox struct {
	protocol.BoxTube
	file string
}

// fakeStore is an in-memory inventory. fail maps an operation name
// ("CreatePart", "DeleteDraft", ...) to the error it returns.
type fakeStore struct {
	mu         sync.Mutex
	seq        int
	categories []protocol.Category
	parts      []storedPart
	boxes      []storedBox
	drafts     []protocol.Draft
	finalized  map[protocol.ID]protocol.ID

	fail  map[string]error
	calls []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{fail: map[string]error{}, finalized: map[protocol.ID]protocol.ID{}}
}

func (s *fakeStore) nextID() protocol.ID {
	s.seq++
	return protocol.ID(fmt.Sprint(s.seq))
}

func (s *fakeStore) enter(op string) error {
	s.calls = append(s.calls, op)
	return s.fail[op]
}

func (s *fakeStore) count(op string) int {
	n := 0
	for _, c := range s.calls {
		if c == op {
			n++
		}
	}
	return n
}

func (s *fakeStore) ListCategories(ctx context.Context) ([]protocol.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListCategories"); err != nil {
		return nil, err
	}
	return append([]protocol.Category(nil), s.categories...), nil
}

func (s *fakeStore) FindCategories(ctx context.Context, material string, thickness float64) ([]protocol.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("FindCategories"); err != nil {
		return nil, err
	}
	// Loose server-side match, as a real search endpoint might do.
	var out []protocol.Category
	for _, c := range s.categories {
		if c.Material == material || c.Thickness == thickness {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *fakeStore) CreateCategory(ctx context.Context, material string, thickness float64) (protocol.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("CreateCategory"); err != nil {
		return protocol.Category{}, err
	}
	c := protocol.Category{ID: s.nextID(), Material: material, Thickness: thickness}
	s.categories = append(s.categories, c)
	return c, nil
}

func (s *fakeStore) DeleteCategory(ctx context.Context, id protocol.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("DeleteCategory"); err != nil {
		return err
	}
	for i, c := range s.categories {
		if c.ID == id {
			s.categories = append(s.categories[:i], s.categories[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("category %s not found", id)
}

func (s *fakeStore) ListParts(ctx context.Context, categoryID protocol.ID) ([]protocol.Part, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListParts"); err != nil {
		return nil, err
	}
	var out []protocol.Part
	for _, p := range s.parts {
		if p.category == categoryID {
			out = append(out, p.Part)
		}
	}
	return out, nil
}

func (s *fakeStore) CreatePart(ctx context.Context, categoryID protocol.ID, p protocol.Part, file protocol.File) (protocol.Part, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("CreatePart"); err != nil {
		return protocol.Part{}, err
	}
	p.ID = s.nextID()
	p.CategoryID = categoryID
	s.parts = append(s.parts, storedPart{Part: p, category: categoryID, file: file.Name})
	return p, nil
}

func (s *fakeStore) DeletePart(ctx context.Context, id protocol.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("DeletePart"); err != nil {
		return err
	}
	for i, p := range s.parts {
		if p.ID == id {
			s.parts = append(s.parts[:i], s.parts[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("part %s not found", id)
}

func (s *fakeStore) ListBoxTubes(ctx context.Context) ([]protocol.BoxTube, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListBoxTubes"); err != nil {
		return nil, err
	}
	out := make([]protocol.BoxTube, 0, len(s.boxes))
	for _, b := range s.boxes {
		out = append(out, b.BoxTube)
	}
	return out, nil
}

func (s *fakeStore) CreateBoxTube(ctx context.Context, b protocol.BoxTube, file protocol.File) (protocol.BoxTube, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("CreateBoxTube"); err != nil {
		return protocol.BoxTube{}, err
	}
	b.ID = s.nextID()
	s.boxes = append(s.boxes, storedBox{BoxTube: b, file: file.Name})
	return b, nil
}

func (s *fakeStore) DeleteBoxTube(ctx context.Context, id protocol.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("DeleteBoxTube"); err != nil {
		return err
	}
	for i, b := range s.boxes {
		if b.ID == id {
			s.boxes = append(s.boxes[:i], s.boxes[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("box tube %s not found", id)
}

func (s *fakeStore) ListDrafts(ctx context.Context) ([]protocol.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListDrafts"); err != nil {
		return nil, err
	}
	return append([]protocol.Draft(nil), s.drafts...), nil
}

func (s *fakeStore) CreateDraft(ctx context.Context, ticket string, kind protocol.RecordKind, meta protocol.DraftMetadata, file *protocol.File) (protocol.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("CreateDraft"); err != nil {
		return protocol.Draft{}, err
	}
	d := protocol.Draft{ID: s.nextID(), Ticket: ticket, Kind: kind, Metadata: meta}
	if file != nil {
		d.FileName = file.Name
	}
	s.drafts = append(s.drafts, d)
	return d, nil
}

func (s *fakeStore) draft(id protocol.ID) (int, error) {
	for i, d := range s.drafts {
		if d.ID == id {
			return i, nil
		}
	}
	return -1, fmt.Errorf("draft %s not found", id)
}

func (s *fakeStore) UpdateDraftMetadata(ctx context.Context, id protocol.ID, meta protocol.DraftMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("UpdateDraftMetadata"); err != nil {
		return err
	}
	i, err := s.draft(id)
	if err != nil {
		return err
	}
	s.drafts[i].Metadata = meta
	return nil
}

func (s *fakeStore) UpdateDraftFile(ctx context.Context, id protocol.ID, file protocol.File) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("UpdateDraftFile"); err != nil {
		return err
	}
	i, err := s.draft(id)
	if err != nil {
		return err
	}
	s.drafts[i].FileName = file.Name
	return nil
}

// FinalizeDraft promotes the draft the way the inventory does: a part lands
// in the given category, a box tube in the box tube list.
func (s *fakeStore) FinalizeDraft(ctx context.Context, id protocol.ID, categoryID protocol.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("FinalizeDraft"); err != nil {
		return err
	}
	i, err := s.draft(id)
	if err != nil {
		return err
	}
	d := s.drafts[i]
	s.drafts = append(s.drafts[:i], s.drafts[i+1:]...)
	s.finalized[id] = categoryID

	name, epic, qty := "", "", 0
	if d.Metadata.Name != nil {
		name = *d.Metadata.Name
	}
	if d.Metadata.Epic != nil {
		epic = *d.Metadata.Epic
	}
	if d.Metadata.Quantity != nil {
		qty = *d.Metadata.Quantity
	}
	if d.Kind == protocol.KindBoxTube {
		s.boxes = append(s.boxes, storedBox{
			BoxTube: protocol.BoxTube{ID: s.nextID(), Name: name, Epic: epic, Ticket: d.Ticket, Quantity: qty},
			file:    d.FileName,
		})
		return nil
	}
	s.parts = append(s.parts, storedPart{
		Part:     protocol.Part{ID: s.nextID(), Name: name, Epic: epic, Ticket: d.Ticket, Quantity: qty, CategoryID: categoryID},
		category: categoryID,
		file:     d.FileName,
	})
	return nil
}

func (s *fakeStore) DeleteDraft(ctx context.Context, id protocol.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("DeleteDraft"); err != nil {
		return err
	}
	i, err := s.draft(id)
	if err != nil {
		return err
	}
	s.drafts = append(s.drafts[:i], s.drafts[i+1:]...)
	return nil
}

func (s *fakeStore) partTickets() []string {
	out := make([]string, 0, len(s.parts))
	for _, p := range s.parts {
		out = append(out, p.Ticket)
	}
	sort.Strings(out)
	return out
}

func (s *fakeStore) boxTickets() []string {
	out := make([]string, 0, len(s.boxes))
	for _, b := range s.boxes {
		out = append(out, b.Ticket)
	}
	sort.Strings(out)
	return out
}

func (s *fakeStore) draftTickets() []string {
	out := make([]string, 0, len(s.drafts))
	for _, d := range s.drafts {
		out = append(out, d.Ticket+"/"+string(d.Kind))
	}
	sort.Strings(out)
	return out
}

type fakeNotifier struct {
	reports []*protocol.PollReport
	err     error
}

func (n *fakeNotifier) Notify(ctx context.Context, r *protocol.PollReport) error {
	n.reports = append(n.reports, r)
	return n.err
}

type fakeRecorder struct {
	reports []*protocol.PollReport
}

func (f *fakeRecorder) RecordPoll(r *protocol.PollReport) error {
	f.reports = append(f.reports, r)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestReconciler(src *fakeSource, store *fakeStore, opts ...Option) *Reconciler {
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	return New(src, store, "team-7", opts...)
}

func mustPoll(t *testing.T, r *Reconciler) *protocol.PollReport {
	t.Helper()
	report, err := r.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	return report
}

func stepAttachment(name string) []protocol.Attachment {
	return []protocol.Attachment{{ID: "att-" + name, Filename: name, ContentURL: "https://jira.test/att/" + name}}
}

func partTicket(key string) protocol.Ticket {
	return protocol.Ticket{
		Key:         key,
		Summary:     "Bracket " + key,
		ParentKey:   "HAR-1",
		Quantity:    "4",
		Material:    "Aluminium",
		Thickness:   "3",
		Attachments: stepAttachment(key + ".step"),
	}
}

func boxTicket(key string) protocol.Ticket {
	return protocol.Ticket{
		Key:         key,
		Summary:     "Square tube " + key,
		ParentKey:   "HAR-1",
		Quantity:    "2",
		Attachments: stepAttachment(key + ".step"),
	}
}
