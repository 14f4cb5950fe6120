package protocol

import (
	"encoding/json"
	"testing"
)

func TestIDUnmarshal(t *testing.T) {
	var got struct {
		A ID `json:"a"`
		B ID `json:"b"`
		C ID `json:"c"`
	}
	if err := json.Unmarshal([]byte(`{"a": 42, "b": "cat-7", "c": null}`), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.A != "42" {
		t.Errorf("numeric id = %q", got.A)
	}
	if got.B != "cat-7" {
		t.Errorf("string id = %q", got.B)
	}
	if got.C != "" {
		t.Errorf("null id = %q", got.C)
	}
}

func TestIDUnmarshal_Invalid(t *testing.T) {
	var id ID
	if err := json.Unmarshal([]byte(`{"x":1}`), &id); err == nil {
		t.Error("expected error for object id")
	}
}

func TestParseRecordKind(t *testing.T) {
	cases := map[string]RecordKind{
		"part":       KindPart,
		" box_tube ": KindBoxTube,
		"":           "",
	}
	for in, want := range cases {
		got, err := ParseRecordKind(in)
		if err != nil {
			t.Errorf("ParseRecordKind(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseRecordKind(%q) = %q, want %q", in, got, want)
		}
	}
	if _, err := ParseRecordKind("sheet"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestDraftMetadataNulls(t *testing.T) {
	data, err := json.Marshal(DraftMetadata{})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"name":null,"epic":null,"quantity":null,"pending_category":null}`
	if string(data) != want {
		t.Errorf("got %s, want %s", data, want)
	}
}

func TestPollReportNotable(t *testing.T) {
	r := &PollReport{}
	r.Add("HAR-1", KindPart, OpDraftUpdated, "")
	if r.Notable() {
		t.Error("draft update alone should not be notable")
	}
	r.Add("HAR-2", KindPart, OpPartCreated, "")
	if !r.Notable() {
		t.Error("part creation should be notable")
	}
	if r.Count(OpDraftUpdated) != 1 || r.Count(OpPartCreated) != 1 {
		t.Errorf("counts = %d/%d", r.Count(OpDraftUpdated), r.Count(OpPartCreated))
	}

	wiped := &PollReport{Wiped: true}
	if !wiped.Notable() {
		t.Error("wipe should be notable")
	}
}

func TestInventoryNumbersAcceptStrings(t *testing.T) {
	var cats []Category
	data := `[{"id":1,"material":"Aluminum","thickness":"0.25"},{"id":2,"material":"Steel","thickness":2},{"id":3,"material":"Brass","thickness":null}]`
	if err := json.Unmarshal([]byte(data), &cats); err != nil {
		t.Fatalf("unmarshal categories: %v", err)
	}
	want := []Category{
		{ID: "1", Material: "Aluminum", Thickness: 0.25},
		{ID: "2", Material: "Steel", Thickness: 2},
		{ID: "3", Material: "Brass"},
	}
	if len(cats) != len(want) {
		t.Fatalf("categories = %+v", cats)
	}
	for i := range want {
		if cats[i] != want[i] {
			t.Errorf("category %d = %+v, want %+v", i, cats[i], want[i])
		}
	}

	var part Part
	if err := json.Unmarshal([]byte(`{"id":9,"ticket":"HAR-100","quantity":"4","category_id":3}`), &part); err != nil {
		t.Fatalf("unmarshal part: %v", err)
	}
	if part.Quantity != 4 || part.Ticket != "HAR-100" || part.CategoryID != "3" {
		t.Errorf("part = %+v", part)
	}

	var box BoxTube
	if err := json.Unmarshal([]byte(`{"id":"b1","ticket":"HAR-101","quantity":"2.0","team_id":17}`), &box); err != nil {
		t.Fatalf("unmarshal box tube: %v", err)
	}
	if box.Quantity != 2 || box.TeamID != "17" {
		t.Errorf("box tube = %+v", box)
	}

	var d Draft
	if err := json.Unmarshal([]byte(`{"id":5,"ticket":"HAR-102","metadata":{"name":"Bracket","quantity":"6","pending_category":{"material":"Steel","thickness":"1.5"}}}`), &d); err != nil {
		t.Fatalf("unmarshal draft: %v", err)
	}
	if d.Metadata.Quantity == nil || *d.Metadata.Quantity != 6 {
		t.Errorf("draft quantity = %v", d.Metadata.Quantity)
	}
	if pc := d.Metadata.PendingCategory; pc == nil || pc.Thickness != 1.5 {
		t.Errorf("pending category = %+v", pc)
	}
	if d.Metadata.Name == nil || *d.Metadata.Name != "Bracket" {
		t.Errorf("draft name = %v", d.Metadata.Name)
	}
}

func TestInventoryNumbersRejectGarbage(t *testing.T) {
	var c Category
	if err := json.Unmarshal([]byte(`{"thickness":"thick"}`), &c); err == nil {
		t.Error("expected error for non-numeric thickness")
	}
	var p Part
	if err := json.Unmarshal([]byte(`{"quantity":"2.5"}`), &p); err == nil {
		t.Error("expected error for fractional quantity")
	}
}
