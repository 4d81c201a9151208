package scenario

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/tidwall/sjson"
	"gopkg.in/yaml.v3"
)

// Entry is one listener call, or one panic that aborted an emit.
type Entry struct {
	Instance string `yaml:"instance" cbor:"instance"`
	Callback string `yaml:"callback,omitempty" cbor:"callback,omitempty"`
	Key      string `yaml:"key" cbor:"key"`
	Args     []any  `yaml:"args,omitempty" cbor:"args,omitempty"`
	Panic    string `yaml:"panic,omitempty" cbor:"panic,omitempty"`
}

// String renders the entry as an expectation line: `[instance:]callback key args...`
// or `[instance:]panic key value`. The default instance is not written.
func (e Entry) String() string {
	var b strings.Builder
	if e.Instance != "" && e.Instance != defaultInstance {
		b.WriteString(e.Instance + ":")
	}

	if e.Panic != "" {
		b.WriteString("panic " + e.Key + " " + quoteArg(e.Panic))
		return b.String()
	}

	b.WriteString(e.Callback + " " + e.Key)
	for _, arg := range e.Args {
		b.WriteByte(' ')
		b.WriteString(formatArg(arg))
	}
	return b.String()
}

func formatArg(arg any) string {
	if s, ok := arg.(string); ok {
		return quoteArg(s)
	}
	return fmt.Sprint(arg)
}

// quoteArg quotes strings holding blanks or quotes, and strings that would
// read back as another type, so that "1" and 1 render differently.
func quoteArg(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\n\"'") {
		return strconv.Quote(s)
	}
	if v, ok := parseArg(s).(string); !ok || v != s {
		return strconv.Quote(s)
	}
	return s
}

// Trace is the record of a single replay.
type Trace struct {
	Scenario string  `yaml:"scenario" cbor:"scenario"`
	Surface  Surface `yaml:"surface" cbor:"surface"`
	Entries  []Entry `yaml:"entries" cbor:"entries"`
}

// Lines renders every entry with Entry.String.
func (t *Trace) Lines() []string {
	lines := make([]string, len(t.Entries))
	for i, e := range t.Entries {
		lines[i] = e.String()
	}
	return lines
}

// Match compares the trace with the expected lines, in order. Whitespace
// around expected lines is ignored.
func (t *Trace) Match(expect []string) error {
	got := t.Lines()

	mismatch := len(got) != len(expect)
	for i := 0; !mismatch && i < len(got); i++ {
		mismatch = got[i] != strings.TrimSpace(expect[i])
	}
	if !mismatch {
		return nil
	}

	return fmt.Errorf("%w\nwant:\n%s\ngot:\n%s",
		ErrExpectation, indent(expect), indent(got))
}

func indent(lines []string) string {
	if len(lines) == 0 {
		return "  (nothing)"
	}
	return "  " + strings.Join(lines, "\n  ")
}

// ------------------------------------- Encoding -------------------------------------

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatCBOR Format = "cbor"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatText, FormatJSON, FormatYAML, FormatCBOR:
		return f, nil
	case "":
		return FormatText, nil
	}
	return "", fmt.Errorf("unknown format %q, want text, json, yaml or cbor", s)
}

// traceDocument is the top level of every structured encoding
type traceDocument struct {
	Traces []*Trace `yaml:"traces" cbor:"traces"`
}

// Encode writes traces to w in the given format.
func Encode(w io.Writer, format Format, traces []*Trace) error {
	switch format {
	case FormatText:
		return encodeText(w, traces)
	case FormatJSON:
		doc, err := encodeJSON(traces)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, doc+"\n")
		return err
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(traceDocument{Traces: traces}); err != nil {
			return err
		}
		return enc.Close()
	case FormatCBOR:
		return cbor.NewEncoder(w).Encode(traceDocument{Traces: traces})
	}
	return fmt.Errorf("unknown format %q", format)
}

func encodeText(w io.Writer, traces []*Trace) error {
	for _, t := range traces {
		if _, err := fmt.Fprintf(w, "# %s (%s)\n", t.Scenario, t.Surface); err != nil {
			return err
		}
		for _, line := range t.Lines() {
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
	}
	return nil
}

// encodeJSON builds {"traces":[...]} one field at a time so that entries only
// carry the fields they use.
func encodeJSON(traces []*Trace) (string, error) {
	doc := `{"traces":[]}`

	for _, t := range traces {
		item := `{}`
		var err error
		if item, err = sjson.Set(item, "scenario", t.Scenario); err != nil {
			return "", err
		}
		if item, err = sjson.Set(item, "surface", string(t.Surface)); err != nil {
			return "", err
		}
		if item, err = sjson.SetRaw(item, "entries", `[]`); err != nil {
			return "", err
		}

		for _, e := range t.Entries {
			entry, err := encodeJSONEntry(e)
			if err != nil {
				return "", err
			}
			if item, err = sjson.SetRaw(item, "entries.-1", entry); err != nil {
				return "", err
			}
		}

		if doc, err = sjson.SetRaw(doc, "traces.-1", item); err != nil {
			return "", err
		}
	}

	return doc, nil
}

func encodeJSONEntry(e Entry) (string, error) {
	fields := []struct {
		path  string
		value any
		skip  bool
	}{
		{"instance", e.Instance, false},
		{"callback", e.Callback, e.Callback == ""},
		{"key", e.Key, false},
		{"args", e.Args, len(e.Args) == 0},
		{"panic", e.Panic, e.Panic == ""},
	}

	entry := `{}`
	for _, f := range fields {
		if f.skip {
			continue
		}
		var err error
		if entry, err = sjson.Set(entry, f.path, f.value); err != nil {
			return "", fmt.Errorf("encoding %s: %w", f.path, err)
		}
	}
	return entry, nil
}
