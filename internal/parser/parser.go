// Package parser extracts header fields, statistics, tags, and wikilinks from
// Markdown note text.
package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/starford/vaultlog/internal/models"
)

const delim = "---"

var (
	wikilinkRe  = regexp.MustCompile(`\[\[([^\[\]]+?)\]\]`)
	inlineTagRe = regexp.MustCompile(`(?:^|[^\p{L}\p{N}_])#([\p{L}\p{N}_-]+)`)
)

// ErrMalformedHeader is returned when a delimited header block is not a valid
// YAML mapping.
var ErrMalformedHeader = errors.New("malformed header block")

// Result holds everything derived from the text of one note.
type Result struct {
	Frontmatter map[string]models.Value
	Body        string
	WordCount   int
	LineCount   int
	CharCount   int
	Tags        []string
	InlineTags  []string
	Links       []string
	// Dropped lists header fields whose values had an unsupported type.
	Dropped []string
}

// Extract parses raw note text. A missing header yields an empty mapping; a
// header that is present but not a YAML mapping yields ErrMalformedHeader.
func Extract(text string) (*Result, error) {
	block, body, ok := splitHeader(text)

	raw := map[string]any{}
	if ok {
		if err := yaml.Unmarshal([]byte(block), &raw); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedHeader, err)
		}
		if raw == nil {
			raw = map[string]any{}
		}
	}

	fm, dropped := convertHeader(raw)

	return &Result{
		Frontmatter: fm,
		Body:        body,
		WordCount:   len(strings.Fields(text)),
		LineCount:   strings.Count(text, "\n"),
		CharCount:   utf8.RuneCountInString(text),
		Tags:        declaredTags(raw),
		InlineTags:  extractInlineTags(body),
		Links:       extractLinks(body),
		Dropped:     dropped,
	}, nil
}

// splitHeader separates the header block from the body. The text must start
// with a delimiter line and a second delimiter line must follow; otherwise the
// whole text is body.
func splitHeader(text string) (block, body string, ok bool) {
	first, rest, found := strings.Cut(text, "\n")
	if !found || !isDelim(first) {
		return "", text, false
	}

	offset := 0
	for offset <= len(rest) {
		line, _, more := strings.Cut(rest[offset:], "\n")
		if isDelim(line) {
			block = rest[:offset]
			body = ""
			if next := offset + len(line) + 1; next <= len(rest) {
				body = rest[next:]
			}
			return block, body, true
		}
		if !more {
			break
		}
		offset += len(line) + 1
	}
	return "", text, false
}

func isDelim(line string) bool {
	return strings.TrimRight(line, " \t\r") == delim
}

// convertHeader maps decoded YAML values onto models.Value. Fields whose value
// is not a scalar or a list of scalars are dropped individually.
func convertHeader(raw map[string]any) (map[string]models.Value, []string) {
	out := make(map[string]models.Value, len(raw))
	var dropped []string
	for k, v := range raw {
		val, ok := toValue(v)
		if !ok {
			dropped = append(dropped, k)
			continue
		}
		out[k] = val
	}
	return out, dropped
}

func toValue(v any) (models.Value, bool) {
	switch t := v.(type) {
	case []any:
		items := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := scalarString(item)
			if !ok {
				return models.Value{}, false
			}
			items = append(items, s)
		}
		return models.ListValue(items), true
	case string:
		return models.StringValue(t), true
	case bool:
		return models.BoolValue(t), true
	case int:
		return models.IntValue(int64(t)), true
	case int64:
		return models.IntValue(t), true
	case uint64:
		return models.UintValue(t), true
	case float64:
		return models.NumberValue(t), true
	case time.Time:
		return models.StringValue(t.Format(time.RFC3339)), true
	default:
		return models.Value{}, false
	}
}

func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case uint64:
		return strconv.FormatUint(t, 10), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case time.Time:
		return t.Format(time.RFC3339), true
	default:
		return "", false
	}
}

// declaredTags returns the header "tags" list, trimmed and deduplicated.
func declaredTags(raw map[string]any) []string {
	list, ok := raw["tags"].([]any)
	if !ok {
		return nil
	}
	seen := make(map[string]struct{}, len(list))
	var out []string
	for _, item := range list {
		s, ok := scalarString(item)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// extractInlineTags returns deduplicated #tags from body in order of first
// appearance. A '#' preceded by a word character does not start a tag.
func extractInlineTags(body string) []string {
	matches := inlineTagRe.FindAllStringSubmatch(body, -1)
	seen := make(map[string]struct{}, len(matches))
	var out []string
	for _, m := range matches {
		t := m[1]
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// extractLinks returns deduplicated wikilink targets, dropping aliases.
func extractLinks(body string) []string {
	matches := wikilinkRe.FindAllStringSubmatch(body, -1)
	seen := make(map[string]struct{}, len(matches))
	var out []string
	for _, m := range matches {
		target, _, _ := strings.Cut(m[1], "|")
		target = strings.TrimSpace(target)
		if target == "" {
			continue
		}
		if _, ok := seen[target]; ok {
			continue
		}
		seen[target] = struct{}{}
		out = append(out, target)
	}
	return out
}
