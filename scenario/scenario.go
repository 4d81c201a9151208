package scenario

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/billziss-gh/golib/shlex"
	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownStep     = errors.New("unknown step")
	ErrUnknownCallback = errors.New("unknown callback")
	ErrUnknownHandle   = errors.New("unknown handle")
	ErrExpectation     = errors.New("trace does not match expectation")
	ErrEmitDepth       = errors.New("emit nesting too deep")
)

// Surface selects which emitter API a scenario is replayed against
type Surface string

const (
	SurfaceEmitter Surface = "emitter"
	SurfaceFactory Surface = "factory"
	SurfaceBoth    Surface = "both"
)

// ParseSurface validates a surface name. An empty name means both.
func ParseSurface(s string) (Surface, error) {
	switch Surface(strings.ToLower(strings.TrimSpace(s))) {
	case SurfaceEmitter:
		return SurfaceEmitter, nil
	case SurfaceFactory:
		return SurfaceFactory, nil
	case "", SurfaceBoth:
		return SurfaceBoth, nil
	}
	return "", fmt.Errorf("unknown surface %q, want emitter, factory or both", s)
}

// Expand returns the concrete surfaces s stands for.
func (s Surface) Expand() []Surface {
	if s == SurfaceBoth || s == "" {
		return []Surface{SurfaceEmitter, SurfaceFactory}
	}
	return []Surface{s}
}

// Scenario is a scripted sequence of subscriptions and emits.
type Scenario struct {
	Name      string   `yaml:"name"`
	Surface   Surface  `yaml:"surface"`
	Callbacks []string `yaml:"callbacks"`
	Steps     []string `yaml:"steps"`

	// Expect lists the trace lines the replay must produce, in order. A
	// missing expect section disables the check.
	Expect []string `yaml:"expect"`
}

// LoadFile reads all scenarios of a YAML file.
func LoadFile(path string) ([]Scenario, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scenarios, err := Load(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return scenarios, nil
}

// Load decodes one scenario per YAML document and validates each of them.
func Load(r io.Reader) ([]Scenario, error) {
	decoder := yaml.NewDecoder(r)

	var scenarios []Scenario
	for {
		var sc Scenario
		err := decoder.Decode(&sc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decoding scenario %d: %w", len(scenarios)+1, err)
		}

		if sc.Name == "" {
			sc.Name = fmt.Sprintf("scenario-%d", len(scenarios)+1)
		}
		if _, err := sc.compile(); err != nil {
			return nil, fmt.Errorf("scenario %q: %w", sc.Name, err)
		}
		scenarios = append(scenarios, sc)
	}

	return scenarios, nil
}

// ------------------------------------- Compiled form -------------------------------------

const defaultInstance = "default"

type verb string

const (
	verbOn     verb = "on"
	verbOff    verb = "off"
	verbCancel verb = "cancel"
	verbEmit   verb = "emit"
)

type step struct {
	line     string
	instance string
	verb     verb
	key      string
	callback string
	handle   string
	args     []any
}

type callbackDecl struct {
	name   string
	panics bool
	then   *step
}

type program struct {
	callbacks map[string]callbackDecl
	order     []string
	steps     []step
}

func (sc Scenario) compile() (*program, error) {
	if _, err := ParseSurface(string(sc.Surface)); err != nil {
		return nil, err
	}

	prog := &program{callbacks: make(map[string]callbackDecl, len(sc.Callbacks))}
	for _, decl := range sc.Callbacks {
		cb, err := parseCallback(decl)
		if err != nil {
			return nil, err
		}
		if _, found := prog.callbacks[cb.name]; found {
			return nil, fmt.Errorf("callback %q declared twice", cb.name)
		}
		prog.callbacks[cb.name] = cb
		prog.order = append(prog.order, cb.name)
	}

	checkRefs := func(st step) error {
		if st.callback != "" {
			if _, found := prog.callbacks[st.callback]; !found {
				return fmt.Errorf("%w %q", ErrUnknownCallback, st.callback)
			}
		}
		return nil
	}

	for _, cb := range prog.callbacks {
		if cb.then == nil {
			continue
		}
		if err := checkRefs(*cb.then); err != nil {
			return nil, fmt.Errorf("callback %q: %w", cb.name, err)
		}
	}

	for i, line := range sc.Steps {
		st, err := parseStep(line)
		if err == nil {
			err = checkRefs(st)
		}
		if err != nil {
			return nil, fmt.Errorf("step %d %q: %w", i+1, line, err)
		}
		prog.steps = append(prog.steps, st)
	}

	return prog, nil
}

// parseCallback reads "name", "name!" (panics when called) or
// "name > step" (runs step when called).
func parseCallback(decl string) (callbackDecl, error) {
	name, nested, hasNested := strings.Cut(decl, ">")
	name = strings.TrimSpace(name)

	cb := callbackDecl{name: strings.TrimSuffix(name, "!")}
	cb.panics = cb.name != name
	if cb.name == "" || strings.ContainsAny(cb.name, " \t:") {
		return cb, fmt.Errorf("invalid callback declaration %q", decl)
	}

	if hasNested {
		st, err := parseStep(strings.TrimSpace(nested))
		if err != nil {
			return cb, fmt.Errorf("callback %q: %w", cb.name, err)
		}
		cb.then = &st
	}
	return cb, nil
}

// parseStep reads a shell-quoted step line such as `b:emit speak "hello world"`.
func parseStep(line string) (step, error) {
	st := step{line: line, instance: defaultInstance}

	fields := shlex.Posix.Split(line)
	if len(fields) == 0 {
		return st, fmt.Errorf("%w: empty step", ErrUnknownStep)
	}

	head := fields[0]
	if instance, v, found := strings.Cut(head, ":"); found {
		if instance == "" {
			return st, fmt.Errorf("%w: empty instance in %q", ErrUnknownStep, head)
		}
		st.instance, head = instance, v
	}
	st.verb = verb(strings.ToLower(head))
	rest := fields[1:]

	switch st.verb {
	case verbOn:
		switch {
		case len(rest) == 2:
		case len(rest) == 4 && rest[2] == "as":
			st.handle = rest[3]
		default:
			return st, fmt.Errorf("%w: want on <key> <callback> [as <handle>]", ErrUnknownStep)
		}
		st.key, st.callback = rest[0], rest[1]

	case verbOff:
		if len(rest) != 2 {
			return st, fmt.Errorf("%w: want off <key> <callback>", ErrUnknownStep)
		}
		st.key, st.callback = rest[0], rest[1]

	case verbCancel:
		if len(rest) != 1 {
			return st, fmt.Errorf("%w: want cancel <handle>", ErrUnknownStep)
		}
		st.handle = rest[0]

	case verbEmit:
		if len(rest) < 1 {
			return st, fmt.Errorf("%w: want emit <key> [args...]", ErrUnknownStep)
		}
		st.key = rest[0]
		for _, arg := range rest[1:] {
			st.args = append(st.args, parseArg(arg))
		}

	default:
		return st, fmt.Errorf("%w %q", ErrUnknownStep, head)
	}

	return st, nil
}

// parseArg decodes a scalar argument the way YAML would, so that 1 is an int
// and true a bool. Anything that is not a scalar stays a string. Shell quotes
// are gone by now, so a string that looks like a number needs YAML quotes
// inside shell quotes: '"1"'.
func parseArg(arg string) any {
	var v any
	if err := yaml.Unmarshal([]byte(arg), &v); err != nil {
		return arg
	}

	switch v.(type) {
	case string, int, float64, bool:
		return v
	}
	return arg
}
