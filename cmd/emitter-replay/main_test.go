package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const passing = `name: pass
callbacks: [cb]
steps:
  - on speak cb
  - emit speak hello
expect:
  - cb speak hello
`

const failing = `name: fail
callbacks: [cb]
steps:
  - on speak cb
expect:
  - cb speak hello
`

func writeScenario(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))
	return path
}

func TestRun_Passing(t *testing.T) {
	path := writeScenario(t, passing)

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-scenario", path, "-surface", "emitter"}, &stdout, &stderr)

	assert.Equal(t, 0, code, stderr.String())
	assert.Equal(t, "# pass (emitter)\ncb speak hello\n", stdout.String())
	assert.Contains(t, stderr.String(), "[emitter-replay] [INFO] pass (emitter): ok, 1 entries")
}

func TestRun_Failing(t *testing.T) {
	path := writeScenario(t, failing)

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{path}, &stdout, &stderr)

	assert.Equal(t, 1, code)
	assert.Contains(t, stdout.String(), "# fail (emitter)")
	assert.Contains(t, stdout.String(), "# fail (factory)")
	assert.Contains(t, stderr.String(), "[ERROR]")
}

func TestRun_BadFlags(t *testing.T) {
	path := writeScenario(t, passing)

	for name, args := range map[string][]string{
		"NoScenario": {},
		"Surface":    {"-surface", "class", path},
		"Format":     {"-format", "xml", path},
		"LogLevel":   {"-log-level", "loud", path},
		"Unknown":    {"-nope"},
	} {
		t.Run(name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			assert.Equal(t, 2, run(context.Background(), args, &stdout, &stderr))
			assert.Empty(t, stdout.String())
		})
	}
}

func TestRun_MissingFile(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-scenario", filepath.Join(t.TempDir(), "missing.yaml")}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "missing.yaml")
}

func TestRun_Version(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 0, run(context.Background(), []string{"-version"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "version: "+version)
}

func TestRun_CompressedJSON(t *testing.T) {
	path := writeScenario(t, passing)
	out := filepath.Join(t.TempDir(), "traces.json.zst")

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-format", "json", "-out", out, "-log-level", "error", path}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	assert.Empty(t, stdout.String())
	assert.Empty(t, stderr.String())

	compressed, err := os.ReadFile(out)
	require.NoError(t, err)

	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()

	doc, err := dec.DecodeAll(compressed, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(2), gjson.GetBytes(doc, "traces.#").Int())
	assert.Equal(t, "hello", gjson.GetBytes(doc, "traces.1.entries.0.args.0").String())
}

func TestRun_PlainFile(t *testing.T) {
	path := writeScenario(t, passing)
	out := filepath.Join(t.TempDir(), "traces.txt")

	var stdout, stderr bytes.Buffer
	require.Equal(t, 0, run(context.Background(), []string{"-surface", "factory", "-out", out, path}, &stdout, &stderr))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "# pass (factory)\ncb speak hello\n", string(data))
}

func TestRun_SelfEmittingScenarioFails(t *testing.T) {
	path := writeScenario(t, `name: loop
callbacks: ["again > emit win"]
steps:
  - on win again
  - emit win
`)

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-surface", "emitter", path}, &stdout, &stderr)

	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "emit nesting too deep")
	assert.Contains(t, stdout.String(), "# loop (emitter)")
}

func TestWriteTraces_CreateError(t *testing.T) {
	out := filepath.Join(t.TempDir(), "missing", "traces.txt")
	assert.Error(t, writeTraces(&bytes.Buffer{}, out, "text", nil))
}
