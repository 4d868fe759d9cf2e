// document.go: structural view over a JSON-with-comments configuration file
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package mcpguard

import (
	"encoding/json"

	"github.com/tailscale/hujson"
)

// configDocument pairs the raw text of a configuration file with its parsed
// structural tree. Tree nodes carry byte offsets into the raw text, so exact
// source spans can be extracted and spliced without reserialization.
//
// A configDocument is ephemeral: it is constructed fresh before every
// structural query and discarded after any edit, because offsets are only
// valid against the text they were parsed from. Callers never reuse a tree
// across edits.
type configDocument struct {
	path string
	raw  []byte
	root hujson.Value
}

// entrySpan identifies one named entry's exact source range in the raw text.
// The range covers the entry's value only, with surrounding whitespace,
// comments and separators excluded.
type entrySpan struct {
	name  string
	start int
	end   int
}

// parseConfigDocument parses raw as JSON-with-comments.
func parseConfigDocument(path string, raw []byte) (*configDocument, error) {
	root, err := hujson.Parse(raw)
	if err != nil {
		return nil, NewConfigParseError(path, err)
	}
	return &configDocument{path: path, raw: raw, root: root}, nil
}

// container returns the first recognized top-level container key, in the
// fixed priority order, together with its object node. ok is false when no
// recognized container is present or the document root is not an object.
func (d *configDocument) container() (key string, obj *hujson.Object, ok bool) {
	rootObj, isObj := d.root.Value.(*hujson.Object)
	if !isObj {
		return "", nil, false
	}

	for _, candidate := range containerKeys {
		for i := range rootObj.Members {
			member := &rootObj.Members[i]
			if d.memberName(member) != candidate {
				continue
			}
			container, isContainer := member.Value.Value.(*hujson.Object)
			if !isContainer {
				continue
			}
			return candidate, container, true
		}
	}
	return "", nil, false
}

// entries returns the source spans of every entry inside the active
// container, in document order.
func (d *configDocument) entries() []entrySpan {
	_, container, ok := d.container()
	if !ok {
		return nil
	}

	spans := make([]entrySpan, 0, len(container.Members))
	for i := range container.Members {
		member := &container.Members[i]
		spans = append(spans, entrySpan{
			name:  d.memberName(member),
			start: member.Value.StartOffset,
			end:   member.Value.EndOffset,
		})
	}
	return spans
}

// fragment extracts the exact source text of a span. This is the verbatim
// slice of the document, never a reserialization.
func (d *configDocument) fragment(span entrySpan) string {
	return string(d.raw[span.start:span.end])
}

// splice replaces a span's exact byte range with replacement text and
// returns the resulting document text. Everything outside the span is
// carried over untouched.
func (d *configDocument) splice(span entrySpan, replacement string) []byte {
	out := make([]byte, 0, len(d.raw)-(span.end-span.start)+len(replacement))
	out = append(out, d.raw[:span.start]...)
	out = append(out, replacement...)
	out = append(out, d.raw[span.end:]...)
	return out
}

// indentFor derives the indentation context of a span: the whitespace prefix
// of the line the span starts on, and the document's indent unit. Inserted
// text rendered with these matches the surrounding formatting.
func (d *configDocument) indentFor(span entrySpan) (prefix, unit string) {
	lineStart := span.start
	for lineStart > 0 && d.raw[lineStart-1] != '\n' {
		lineStart--
	}
	wsEnd := lineStart
	for wsEnd < len(d.raw) && (d.raw[wsEnd] == ' ' || d.raw[wsEnd] == '\t') {
		wsEnd++
	}
	prefix = string(d.raw[lineStart:wsEnd])

	unit = detectIndentUnit(d.raw)
	return prefix, unit
}

// memberName decodes an object member's name from its exact source span.
// Falls back to the empty string for names that are not valid JSON strings.
func (d *configDocument) memberName(member *hujson.ObjectMember) string {
	start, end := member.Name.StartOffset, member.Name.EndOffset
	if start < 0 || end > len(d.raw) || start >= end {
		return ""
	}
	var name string
	if err := json.Unmarshal(d.raw[start:end], &name); err != nil {
		return ""
	}
	return name
}

// detectIndentUnit inspects the first indented line of the document and
// returns its leading run of spaces or tabs. Defaults to two spaces.
func detectIndentUnit(raw []byte) string {
	atLineStart := true
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c == '\n' {
			atLineStart = true
			continue
		}
		if !atLineStart {
			continue
		}
		if c == ' ' || c == '\t' {
			j := i
			for j < len(raw) && raw[j] == c {
				j++
			}
			if j < len(raw) && raw[j] != '\n' && raw[j] != '\r' {
				return string(raw[i:j])
			}
			i = j
			continue
		}
		atLineStart = false
	}
	return "  "
}

// parseServerEntry decodes a JSON-with-comments fragment into a ServerEntry.
func parseServerEntry(fragment string) (ServerEntry, error) {
	std, err := hujson.Standardize([]byte(fragment))
	if err != nil {
		return ServerEntry{}, err
	}
	var entry ServerEntry
	if err := json.Unmarshal(std, &entry); err != nil {
		return ServerEntry{}, err
	}
	return entry, nil
}

// marshalEntryIndented renders an entry as indented JSON suitable for
// splicing at a value position: the first line carries no prefix, each
// subsequent line is indented relative to prefix by unit.
func marshalEntryIndented(entry ServerEntry, prefix, unit string) (string, error) {
	b, err := json.MarshalIndent(entry, prefix, unit)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
