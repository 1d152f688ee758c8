package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestValueFlatten(t *testing.T) {
	cases := []struct {
		v    Value
		want string
	}{
		{StringValue("NPC"), "NPC"},
		{NumberValue(3), "3"},
		{NumberValue(2.5), "2.5"},
		{IntValue(9007199254740993), "9007199254740993"},
		{UintValue(18446744073709551615), "18446744073709551615"},
		{BoolValue(true), "true"},
		{ListValue([]string{"a", "b"}), "a,b"},
		{ListValue(nil), ""},
	}
	for _, tc := range cases {
		if got := tc.v.Flatten(); got != tc.want {
			t.Errorf("Flatten(%+v) = %q, want %q", tc.v, got, tc.want)
		}
	}
}

func TestNoteFileName(t *testing.T) {
	cases := map[string]string{
		"note.md":          "note",
		"a/b/Deep Note.md": "Deep Note",
		".md":              ".md",
		"noext":            "noext",
	}
	for path, want := range cases {
		if got := (NoteFile{Path: path}).Name(); got != want {
			t.Errorf("Name(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestRecordPayload(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r := &Record{
		File:        NoteFile{Path: "npc/Bob.md", Size: 42, ModifiedAt: ts, CreatedAt: ts},
		WordCount:   7,
		Frontmatter: map[string]Value{"type": StringValue("NPC"), "tags": ListValue([]string{"a", "b"})},
		Tags:        []string{"a", "b"},
		Links:       []string{"Note A"},
	}
	p := r.Payload()
	if p["frontmatter_type"] != "NPC" {
		t.Errorf("frontmatter_type = %v", p["frontmatter_type"])
	}
	if p["frontmatter_tags"] != "a,b" || p["tags"] != "a,b" {
		t.Errorf("tags = %v / %v", p["frontmatter_tags"], p["tags"])
	}
	if p["note_name"] != "Bob" {
		t.Errorf("note_name = %v", p["note_name"])
	}
	if _, ok := p["inline_tags"]; ok {
		t.Error("empty inline_tags should be omitted")
	}
	if p["wikilinks"] != "Note A" {
		t.Errorf("wikilinks = %v", p["wikilinks"])
	}
}

func TestLogEntryJSON(t *testing.T) {
	e := LogEntry{
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Labels:    map[string]string{"vault": "v"},
		Line:      `{"word_count":1}`,
	}
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"timestamp":"2024-05-01T12:00:00Z","labels":{"vault":"v"},"line":"{\"word_count\":1}"}`
	if string(data) != want {
		t.Errorf("json = %s\nwant  %s", data, want)
	}
}
