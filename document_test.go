// document_test.go: structural document view tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package mcpguard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const commentedConfig = `{
  // editor settings live above the servers
  "mcpServers": {
    /* primary server */
    "alpha": {
      "command": "node",
      "args": ["server.js"] // entry point
    },
    "beta": {
      "url": "https://api.example.com/mcp"
    }, // trailing comma comment
  }
}
`

func TestParseConfigDocument(t *testing.T) {
	doc, err := parseConfigDocument("/tmp/settings.json", []byte(commentedConfig))
	require.NoError(t, err)
	require.NotNil(t, doc)

	_, err = parseConfigDocument("/tmp/settings.json", []byte(`{"mcpServers": {`))
	require.Error(t, err)
}

func TestConfigDocument_Container(t *testing.T) {
	t.Run("first recognized key wins", func(t *testing.T) {
		doc, err := parseConfigDocument("t", []byte(commentedConfig))
		require.NoError(t, err)

		key, container, ok := doc.container()
		require.True(t, ok)
		assert.Equal(t, "mcpServers", key)
		assert.Len(t, container.Members, 2)
	})

	t.Run("priority order over document order", func(t *testing.T) {
		// servers appears first in the document, but mcpServers has higher
		// priority.
		raw := `{"servers": {"a": {}}, "mcpServers": {"b": {}}}`
		doc, err := parseConfigDocument("t", []byte(raw))
		require.NoError(t, err)

		key, _, ok := doc.container()
		require.True(t, ok)
		assert.Equal(t, "mcpServers", key)
	})

	t.Run("fallback container keys", func(t *testing.T) {
		for _, key := range []string{"servers", "contextServers"} {
			raw := `{"` + key + `": {"a": {"command": "x"}}}`
			doc, err := parseConfigDocument("t", []byte(raw))
			require.NoError(t, err)

			got, _, ok := doc.container()
			require.True(t, ok, "container key %s", key)
			assert.Equal(t, key, got)
		}
	})

	t.Run("no recognized container", func(t *testing.T) {
		doc, err := parseConfigDocument("t", []byte(`{"editor": {"fontSize": 12}}`))
		require.NoError(t, err)
		_, _, ok := doc.container()
		assert.False(t, ok)

		doc, err = parseConfigDocument("t", []byte(`[1, 2, 3]`))
		require.NoError(t, err)
		_, _, ok = doc.container()
		assert.False(t, ok)
	})
}

func TestConfigDocument_EntriesAndFragments(t *testing.T) {
	doc, err := parseConfigDocument("t", []byte(commentedConfig))
	require.NoError(t, err)

	spans := doc.entries()
	require.Len(t, spans, 2)
	assert.Equal(t, "alpha", spans[0].name)
	assert.Equal(t, "beta", spans[1].name)

	// Fragments are verbatim source slices of the entry values.
	alpha := doc.fragment(spans[0])
	assert.Contains(t, alpha, `"command": "node"`)
	assert.Contains(t, alpha, "// entry point")
	assert.True(t, alpha[0] == '{' && alpha[len(alpha)-1] == '}')

	beta := doc.fragment(spans[1])
	assert.Contains(t, beta, `"url": "https://api.example.com/mcp"`)
	assert.NotContains(t, beta, "trailing comma comment")
}

func TestConfigDocument_SpliceTouchesOnlySpan(t *testing.T) {
	doc, err := parseConfigDocument("t", []byte(commentedConfig))
	require.NoError(t, err)

	spans := doc.entries()
	require.Len(t, spans, 2)

	out := string(doc.splice(spans[0], `{"command": "replaced"}`))

	// Everything outside the replaced span survives byte for byte.
	assert.Contains(t, out, "// editor settings live above the servers")
	assert.Contains(t, out, "/* primary server */")
	assert.Contains(t, out, "// trailing comma comment")
	assert.Contains(t, out, `"url": "https://api.example.com/mcp"`)
	assert.Contains(t, out, `{"command": "replaced"}`)
	assert.NotContains(t, out, `"command": "node"`)

	// The result must still parse, with the same entry names.
	redoc, err := parseConfigDocument("t", []byte(out))
	require.NoError(t, err)
	respans := redoc.entries()
	require.Len(t, respans, 2)
	assert.Equal(t, "alpha", respans[0].name)
}

func TestConfigDocument_IndentFor(t *testing.T) {
	doc, err := parseConfigDocument("t", []byte(commentedConfig))
	require.NoError(t, err)

	spans := doc.entries()
	require.NotEmpty(t, spans)

	prefix, unit := doc.indentFor(spans[0])
	assert.Equal(t, "    ", prefix, "entries sit two levels deep")
	assert.Equal(t, "  ", unit)
}

func TestDetectIndentUnit(t *testing.T) {
	assert.Equal(t, "  ", detectIndentUnit([]byte("{\n  \"a\": 1\n}")))
	assert.Equal(t, "    ", detectIndentUnit([]byte("{\n    \"a\": 1\n}")))
	assert.Equal(t, "\t", detectIndentUnit([]byte("{\n\t\"a\": 1\n}")))
	// No indented lines: fall back to two spaces.
	assert.Equal(t, "  ", detectIndentUnit([]byte(`{"a": 1}`)))
}

func TestParseServerEntry(t *testing.T) {
	entry, err := parseServerEntry(`{
		// comments are allowed inside fragments
		"command": "node",
		"args": ["server.js"],
		"env": {"TOKEN": "t"},
	}`)
	require.NoError(t, err)
	assert.Equal(t, "node", entry.Command)
	assert.Equal(t, []string{"server.js"}, entry.Args)
	assert.Equal(t, map[string]string{"TOKEN": "t"}, entry.Env)

	_, err = parseServerEntry(`{"command": `)
	require.Error(t, err)
}

func TestMarshalEntryIndented(t *testing.T) {
	text, err := marshalEntryIndented(ServerEntry{
		Command: "proxy",
		Args:    []string{"a", "b"},
	}, "    ", "  ")
	require.NoError(t, err)

	// First line is unprefixed (it lands at a value position); continuation
	// lines carry the prefix plus one unit.
	assert.Contains(t, text, "{\n      \"command\": \"proxy\"")
	assert.Contains(t, text, "\n    }")
}
