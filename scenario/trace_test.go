package scenario

import (
	"bytes"
	"context"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"gopkg.in/yaml.v3"

	"github.com/thisisjoshhansen/event-emitter/internal/logmon"
)

func sampleTraces(t *testing.T) []*Trace {
	t.Helper()

	sc := Scenario{
		Name:      "sample",
		Surface:   SurfaceEmitter,
		Callbacks: []string{"cb", "boom!"},
		Steps: []string{
			`emit nothing`,
			`on speak cb`,
			`b:on win boom`,
			`emit speak "hello world" 3`,
			`b:emit win`,
		},
	}

	traces, err := NewRunner().RunAll(context.Background(), sc, "")
	require.NoError(t, err)
	return traces
}

func TestTrace_Lines(t *testing.T) {
	traces := sampleTraces(t)
	require.Len(t, traces, 1)

	assert.Equal(t, []string{
		`cb speak "hello world" 3`,
		`b:boom win`,
		`b:panic win boom`,
	}, traces[0].Lines())
}

func TestEntry_StringKeepsTypes(t *testing.T) {
	e := Entry{Instance: defaultInstance, Callback: "cb", Key: "k", Args: []any{"1", 1, "true", true, "north"}}
	assert.Equal(t, `cb k "1" 1 "true" true north`, e.String())
}

func TestTrace_Match(t *testing.T) {
	tr := &Trace{Entries: []Entry{{Instance: defaultInstance, Callback: "cb", Key: "win"}}}

	assert.NoError(t, tr.Match([]string{"  cb win "}))
	assert.ErrorIs(t, tr.Match(nil), ErrExpectation)
	assert.ErrorIs(t, tr.Match([]string{"cb lose"}), ErrExpectation)

	empty := &Trace{}
	assert.NoError(t, empty.Match([]string{}))
	assert.Contains(t, empty.Match([]string{"cb win"}).Error(), "(nothing)")
}

func TestEncode_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, FormatJSON, sampleTraces(t)))

	doc := buf.String()
	require.True(t, gjson.Valid(doc))

	assert.Equal(t, "sample", gjson.Get(doc, "traces.0.scenario").String())
	assert.Equal(t, "emitter", gjson.Get(doc, "traces.0.surface").String())
	assert.Equal(t, int64(3), gjson.Get(doc, "traces.0.entries.#").Int())

	first := gjson.Get(doc, "traces.0.entries.0")
	assert.Equal(t, "cb", first.Get("callback").String())
	assert.Equal(t, "hello world", first.Get("args.0").String())
	assert.Equal(t, int64(3), first.Get("args.1").Int())
	assert.False(t, first.Get("panic").Exists())

	last := gjson.Get(doc, "traces.0.entries.2")
	assert.Equal(t, "b", last.Get("instance").String())
	assert.Equal(t, "boom", last.Get("panic").String())
	assert.False(t, last.Get("callback").Exists())
	assert.False(t, last.Get("args").Exists())
}

func TestEncode_JSONEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, FormatJSON, []*Trace{{Scenario: "quiet", Surface: SurfaceFactory}}))

	doc := buf.String()
	assert.True(t, gjson.Get(doc, "traces.0.entries").IsArray())
	assert.Equal(t, int64(0), gjson.Get(doc, "traces.0.entries.#").Int())
}

func TestEncode_YAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, FormatYAML, sampleTraces(t)))

	var doc struct {
		Traces []struct {
			Scenario string           `yaml:"scenario"`
			Entries  []map[string]any `yaml:"entries"`
		} `yaml:"traces"`
	}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &doc))
	require.Len(t, doc.Traces, 1)
	assert.Equal(t, "sample", doc.Traces[0].Scenario)
	require.Len(t, doc.Traces[0].Entries, 3)
	assert.Equal(t, "boom", doc.Traces[0].Entries[2]["panic"])
}

func TestEncode_CBOR(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, FormatCBOR, sampleTraces(t)))

	var doc traceDocument
	require.NoError(t, cbor.Unmarshal(buf.Bytes(), &doc))
	require.Len(t, doc.Traces, 1)
	assert.Equal(t, SurfaceEmitter, doc.Traces[0].Surface)
	assert.Equal(t, "b:panic win boom", doc.Traces[0].Entries[2].String())
}

func TestEncode_Text(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, FormatText, sampleTraces(t)))

	assert.Equal(t, "# sample (emitter)\n"+
		"cb speak \"hello world\" 3\n"+
		"b:boom win\n"+
		"b:panic win boom\n", buf.String())
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{
		"":     FormatText,
		"JSON": FormatJSON,
		"yaml": FormatYAML,
		"cbor": FormatCBOR,
	} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseFormat("xml")
	assert.Error(t, err)
	assert.Error(t, Encode(&bytes.Buffer{}, Format("xml"), nil))
}

func TestRunner_Spans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer provider.Shutdown(context.Background())

	runner := NewRunner(WithTracer(provider.Tracer("test")))

	sc := Scenario{
		Name:      "spans",
		Surface:   SurfaceFactory,
		Callbacks: []string{"cb"},
		Steps:     []string{"on win cb", "emit win", "cancel missing"},
	}
	_, err := runner.Run(context.Background(), sc, SurfaceFactory)
	require.ErrorIs(t, err, ErrUnknownHandle)

	spans := recorder.Ended()
	require.Len(t, spans, 4)

	run := spans[3]
	assert.Equal(t, "scenario.run", run.Name())
	assert.Equal(t, codes.Error, run.Status().Code)

	for i, span := range spans[:3] {
		assert.Equal(t, "scenario.step", span.Name())
		assert.Equal(t, run.SpanContext().SpanID(), span.Parent().SpanID())
		assert.Equal(t, int64(i+1), attributeValue(span, "step.index").AsInt64())
	}
	assert.Equal(t, "emit", attributeValue(spans[1], "step.verb").AsString())
	assert.Equal(t, codes.Error, spans[2].Status().Code)
}

func attributeValue(span sdktrace.ReadOnlySpan, key string) attribute.Value {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value
		}
	}
	return attribute.Value{}
}

func TestRunner_Logs(t *testing.T) {
	var out bytes.Buffer
	logger := logmon.NewLogMonitorWriter(&out)
	logger.SetLogLevel(logmon.LevelDebug)

	sc := Scenario{Name: "logged", Callbacks: []string{"cb"}, Steps: []string{"on win cb", "emit win"}}
	_, err := NewRunner(WithLogger(logger)).Run(context.Background(), sc, SurfaceEmitter)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "[DEBUG] logged (emitter): step 2: emit win")
	assert.Contains(t, out.String(), "[INFO] logged (emitter): ok, 1 entries")
}
