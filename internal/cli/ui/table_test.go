package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable(t *testing.T) {
	var buf bytes.Buffer
	table := NewTable(&buf, true, "Name", "Type", "Nullable")
	table.AddRow("first_name", "text_short", "no")
	table.AddRow("hectares", "number")
	table.AddRow("crops", "entity", "yes", "ignored")
	table.Render()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "Name        Type        Nullable", lines[0])
	assert.Equal(t, "──────────  ──────────  ────────", lines[1])
	assert.Equal(t, "first_name  text_short  no", lines[2])
	assert.Equal(t, "hectares    number", lines[3])
	assert.Equal(t, "crops       entity      yes", lines[4])
	assert.Equal(t, 3, table.Len())
}

func TestTable_NoHeaders(t *testing.T) {
	var buf bytes.Buffer
	table := NewTable(&buf, true)
	table.AddRow("x")
	table.Render()
	assert.Empty(t, buf.String())
}

func TestKeyValueTable(t *testing.T) {
	var buf bytes.Buffer
	kv := NewKeyValueTable(&buf, true)
	kv.AddRow("Entity", "farmers")
	kv.AddRow("Signature", "ab12")
	kv.Render()

	assert.Equal(t, "Entity:    farmers\nSignature: ab12\n", buf.String())
}
