// Package models defines the domain types for vaultlog.
package models

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// NoteFile is a note discovered on disk. Identity is AbsPath.
type NoteFile struct {
	AbsPath    string    `json:"-"`
	Path       string    `json:"path"`
	Vault      string    `json:"vault"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// Name returns the file name without the extension.
func (n NoteFile) Name() string {
	base := n.Path
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.LastIndex(base, "."); i > 0 {
		base = base[:i]
	}
	return base
}

// Record is the metadata derived from one note.
type Record struct {
	File        NoteFile
	Checksum    string
	WordCount   int
	LineCount   int
	CharCount   int
	Frontmatter map[string]Value
	Tags        []string
	InlineTags  []string
	Links       []string
}

// FrontmatterKey is the emitted name of a header field.
func FrontmatterKey(field string) string {
	return "frontmatter_" + field
}

// Payload returns the flat map emitted as the log line.
func (r *Record) Payload() map[string]any {
	out := map[string]any{
		"file_path":   r.File.Path,
		"note_name":   r.File.Name(),
		"file_size":   r.File.Size,
		"checksum":    r.Checksum,
		"created_at":  r.File.CreatedAt.Format(time.RFC3339),
		"modified_at": r.File.ModifiedAt.Format(time.RFC3339),
		"word_count":  r.WordCount,
		"line_count":  r.LineCount,
		"char_count":  r.CharCount,
	}
	for k, v := range r.Frontmatter {
		out[FrontmatterKey(k)] = v.Flatten()
	}
	if len(r.Tags) > 0 {
		out["tags"] = JoinList(r.Tags)
	}
	if len(r.InlineTags) > 0 {
		out["inline_tags"] = JoinList(r.InlineTags)
	}
	if len(r.Links) > 0 {
		out["wikilinks"] = JoinList(r.Links)
	}
	return out
}

// MarshalJSON encodes the record as its payload.
func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Payload())
}

// ValueKind enumerates the header value shapes that survive extraction.
type ValueKind int

// Value kinds.
const (
	KindString ValueKind = iota
	KindNumber
	KindBool
	KindList
)

// Value is a header field value: exactly one of string, number, boolean or
// list of strings. Integer numbers also keep their exact decimal text in Str,
// since Num cannot hold every 64-bit integer.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
	List []string
}

// StringValue returns a string value.
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }

// NumberValue returns a floating-point number value.
func NumberValue(n float64) Value { return Value{Kind: KindNumber, Num: n} }

// IntValue returns an integer number value that flattens without loss.
func IntValue(n int64) Value {
	return Value{Kind: KindNumber, Num: float64(n), Str: strconv.FormatInt(n, 10)}
}

// UintValue is IntValue for integers above the int64 range.
func UintValue(n uint64) Value {
	return Value{Kind: KindNumber, Num: float64(n), Str: strconv.FormatUint(n, 10)}
}

// BoolValue returns a boolean value.
func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// ListValue returns a list of strings.
func ListValue(items []string) Value { return Value{Kind: KindList, List: items} }

// Flatten renders the value as a single string. Lists are comma-joined.
func (v Value) Flatten() string {
	switch v.Kind {
	case KindNumber:
		if v.Str != "" {
			return v.Str
		}
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindList:
		return JoinList(v.List)
	default:
		return v.Str
	}
}

// JoinList is the single flatten rule for string lists.
func JoinList(items []string) string {
	return strings.Join(items, ",")
}

// LogEntry is one immutable line of the event log.
type LogEntry struct {
	Timestamp time.Time
	Labels    map[string]string
	Line      string
}

type logEntryJSON struct {
	Timestamp string            `json:"timestamp"`
	Labels    map[string]string `json:"labels"`
	Line      string            `json:"line"`
}

// MarshalJSON encodes the entry with an RFC3339 timestamp.
func (e LogEntry) MarshalJSON() ([]byte, error) {
	labels := e.Labels
	if labels == nil {
		labels = map[string]string{}
	}
	return json.Marshal(logEntryJSON{
		Timestamp: e.Timestamp.Format(time.RFC3339Nano),
		Labels:    labels,
		Line:      e.Line,
	})
}
