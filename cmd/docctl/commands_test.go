package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/kevinxiao27/egdoc/doc"
	"github.com/kevinxiao27/egdoc/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// docctl runs one command line against the store in dir and returns its
// trimmed output.
func docctl(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(append([]string{"--store", dir}, args...), &out)
	return strings.TrimSpace(out.String()), err
}

func mustRun(t *testing.T, dir string, args ...string) string {
	t.Helper()
	out, err := docctl(t, dir, args...)
	require.NoError(t, err, "docctl %v", args)
	return out
}

func TestPutGetDump(t *testing.T) {
	dir := t.TempDir()

	mustRun(t, dir, "put", "title", "groceries", "-m", "first")
	mustRun(t, dir, "put", "count", "3", "-t", "int")
	mustRun(t, dir, "put", "done", "false", "-t", "bool")

	assert.Equal(t, `"groceries"`, mustRun(t, dir, "get", "title"))
	assert.Equal(t, "3", mustRun(t, dir, "get", "count"))

	var content map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(mustRun(t, dir, "dump")), &content))
	assert.Equal(t, map[string]any{"title": "groceries", "count": 3, "done": false}, content)

	assert.Contains(t, mustRun(t, dir, "dump", "-f", "json"), `"title": "groceries"`)
	assert.Equal(t, "default", mustRun(t, dir, "docs"))

	var history []changeInfo
	require.NoError(t, yaml.Unmarshal([]byte(mustRun(t, dir, "history")), &history))
	require.Len(t, history, 3)
	assert.Equal(t, "first", history[0].Message)
	assert.Empty(t, history[0].Deps)
	assert.Equal(t, []string{history[1].Hash}, history[2].Deps)
	assert.Equal(t, history[2].Hash, mustRun(t, dir, "heads"))
}

func TestTextCommands(t *testing.T) {
	dir := t.TempDir()

	id := mustRun(t, dir, "-d", "notes", "mktext", "body")
	assert.Equal(t, "hello", mustRun(t, dir, "-d", "notes", "-o", id, "splice", "0", "0", "hello"))
	assert.Equal(t, "hello world", mustRun(t, dir, "-d", "notes", "-o", id, "splice", "5", "0", " world"))
	assert.Equal(t, "hello", mustRun(t, dir, "-d", "notes", "-o", id, "splice", "5", "6"))
	assert.Equal(t, "hello", mustRun(t, dir, "-d", "notes", "-o", id, "text"))
	assert.Equal(t, `"e"`, mustRun(t, dir, "-d", "notes", "-o", id, "get", "1"))

	_, err := docctl(t, dir, "-d", "notes", "-o", id, "splice", "9", "0", "x")
	assert.ErrorIs(t, err, doc.ErrOutOfRange)
	assert.Equal(t, "hello", mustRun(t, dir, "-d", "notes", "-o", id, "text"))
}

func TestCommandErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := docctl(t, dir, "put", "n", "x", "-t", "int")
	assert.Error(t, err)
	_, err = docctl(t, dir, "put", "n", "1", "-t", "complex")
	assert.Error(t, err)
	_, err = docctl(t, dir, "get", "missing")
	assert.ErrorIs(t, err, doc.ErrNotFound)
	_, err = docctl(t, dir, "-d", "nothing", "rm")
	assert.ErrorIs(t, err, store.ErrNoDocument)
	_, err = docctl(t, dir, "dump", "-f", "xml")
	assert.Error(t, err)
	_, err = docctl(t, dir, "-o", "not-an-id", "text")
	assert.Error(t, err)

	mustRun(t, dir, "-d", "gone", "put", "k", "v")
	mustRun(t, dir, "-d", "gone", "rm")
	assert.Equal(t, "", mustRun(t, dir, "docs"))
}
