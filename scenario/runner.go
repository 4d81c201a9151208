package scenario

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/thisisjoshhansen/event-emitter/event"
	"github.com/thisisjoshhansen/event-emitter/internal/logmon"
)

const tracerName = "github.com/thisisjoshhansen/event-emitter/scenario"

// maxEmitDepth bounds emits started from inside listeners
const maxEmitDepth = 64

// target is the part of an emitter surface a replay drives
type target interface {
	On(key string, cb *event.Callback) context.CancelFunc
	Off(key string, cb *event.Callback)
	Emit(key string, args ...any)
}

type emitterTarget struct {
	em *event.EventEmitter[string]
}

func (t emitterTarget) On(key string, cb *event.Callback) context.CancelFunc { return t.em.On(key, cb) }
func (t emitterTarget) Off(key string, cb *event.Callback)                   { t.em.Off(key, cb) }
func (t emitterTarget) Emit(key string, args ...any)                         { t.em.Emit(key, args...) }

type factoryTarget struct {
	listener *event.Listener[string]
	emit     event.EmitFunc[string]
}

func (t factoryTarget) On(key string, cb *event.Callback) context.CancelFunc {
	return t.listener.On(key, cb)
}
func (t factoryTarget) Off(key string, cb *event.Callback) { t.listener.Off(key, cb) }
func (t factoryTarget) Emit(key string, args ...any)       { t.emit(key, args...) }

func newTarget(surface Surface) target {
	if surface == SurfaceFactory {
		listener, emit := event.NewEmitterListener[string]()
		return factoryTarget{listener: listener, emit: emit}
	}
	return emitterTarget{em: event.NewEventEmitter[string]()}
}

// ------------------------------------- Runner -------------------------------------

type Option func(*Runner)

// WithTracer replaces the tracer obtained from the global provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Runner) { r.tracer = tracer }
}

// WithLogger sends replay progress to logger.
func WithLogger(logger *logmon.LogMonitor) Option {
	return func(r *Runner) { r.logger = logger }
}

// Runner replays scenarios against fresh emitters.
type Runner struct {
	tracer trace.Tracer
	logger *logmon.LogMonitor
}

func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		tracer: otel.Tracer(tracerName),
		logger: logmon.NewLogMonitorWriter(io.Discard),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunAll replays sc once per surface it names, or on surface when that is
// not empty. Traces are returned even when some runs fail.
func (r *Runner) RunAll(ctx context.Context, sc Scenario, surface Surface) ([]*Trace, error) {
	if surface == "" {
		surface = sc.Surface
	}

	var traces []*Trace
	var errs []error
	for _, s := range surface.Expand() {
		tr, err := r.Run(ctx, sc, s)
		if tr != nil {
			traces = append(traces, tr)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return traces, errors.Join(errs...)
}

// Run replays sc against surface and checks the resulting trace.
func (r *Runner) Run(ctx context.Context, sc Scenario, surface Surface) (*Trace, error) {
	ctx, span := r.tracer.Start(ctx, "scenario.run", trace.WithAttributes(
		attribute.String("scenario.name", sc.Name),
		attribute.String("scenario.surface", string(surface)),
	))
	defer span.End()

	tr, err := r.run(ctx, sc, surface)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Errorf("%s (%s): %v", sc.Name, surface, err)
		return tr, err
	}

	span.SetAttributes(attribute.Int("trace.entries", len(tr.Entries)))
	r.logger.Infof("%s (%s): ok, %d entries", sc.Name, surface, len(tr.Entries))
	return tr, nil
}

func (r *Runner) run(ctx context.Context, sc Scenario, surface Surface) (*Trace, error) {
	prog, err := sc.compile()
	if err != nil {
		return nil, fmt.Errorf("scenario %q: %w", sc.Name, err)
	}

	rp := &replay{
		surface:   surface,
		trace:     &Trace{Scenario: sc.Name, Surface: surface},
		targets:   make(map[string]target),
		handles:   make(map[string]context.CancelFunc),
		callbacks: make(map[string]*event.Callback, len(prog.callbacks)),
	}
	for _, name := range prog.order {
		rp.callbacks[name] = rp.newCallback(prog.callbacks[name])
	}

	for i, st := range prog.steps {
		_, span := r.tracer.Start(ctx, "scenario.step", trace.WithAttributes(
			attribute.Int("step.index", i+1),
			attribute.String("step.verb", string(st.verb)),
			attribute.String("step.instance", st.instance),
			attribute.String("step.key", st.key),
		))

		r.logger.Debugf("%s (%s): step %d: %s", sc.Name, surface, i+1, st.line)
		err := rp.exec(st)
		if err == nil {
			err = rp.fatal
		}
		if err != nil {
			err = fmt.Errorf("scenario %q step %d %q: %w", sc.Name, i+1, st.line, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		if err != nil {
			return rp.trace, err
		}
	}

	if sc.Expect != nil {
		if err := rp.trace.Match(sc.Expect); err != nil {
			return rp.trace, fmt.Errorf("scenario %q (%s): %w", sc.Name, surface, err)
		}
	}
	return rp.trace, nil
}

// replay holds the state of a single run
type replay struct {
	surface   Surface
	trace     *Trace
	targets   map[string]target
	handles   map[string]context.CancelFunc
	callbacks map[string]*event.Callback

	// emitting is the stack of emits in progress, the top one is the emit
	// whose listeners are running
	emitting []frame

	// fatal fails the step even when a listener panic swallowed the error
	fatal error
}

type frame struct {
	instance string
	key      string
}

func (rp *replay) target(instance string) target {
	t, found := rp.targets[instance]
	if !found {
		t = newTarget(rp.surface)
		rp.targets[instance] = t
	}
	return t
}

func (rp *replay) newCallback(decl callbackDecl) *event.Callback {
	return event.Func(func(args ...any) {
		current := frame{instance: defaultInstance}
		if n := len(rp.emitting); n > 0 {
			current = rp.emitting[n-1]
		}

		// args belong to the emitter, keep a copy
		rp.trace.Entries = append(rp.trace.Entries, Entry{
			Instance: current.instance,
			Callback: decl.name,
			Key:      current.key,
			Args:     append([]any(nil), args...),
		})

		if decl.then != nil {
			if err := rp.exec(*decl.then); err != nil {
				panic(err)
			}
		}
		if decl.panics {
			panic(decl.name)
		}
	})
}

func (rp *replay) exec(st step) error {
	switch st.verb {
	case verbOn:
		cancel := rp.target(st.instance).On(st.key, rp.callbacks[st.callback])
		if st.handle != "" {
			rp.handles[st.handle] = cancel
		}

	case verbOff:
		rp.target(st.instance).Off(st.key, rp.callbacks[st.callback])

	case verbCancel:
		cancel, found := rp.handles[st.handle]
		if !found {
			return fmt.Errorf("%w %q", ErrUnknownHandle, st.handle)
		}
		cancel()

	case verbEmit:
		return rp.emit(st)

	default:
		return fmt.Errorf("%w %q", ErrUnknownStep, st.verb)
	}
	return nil
}

// emit dispatches and records a listener panic instead of propagating it
func (rp *replay) emit(st step) error {
	if len(rp.emitting) >= maxEmitDepth {
		err := fmt.Errorf("%w: more than %d nested emits of %q", ErrEmitDepth, maxEmitDepth, st.key)
		if rp.fatal == nil {
			rp.fatal = err
		}
		return err
	}

	rp.emitting = append(rp.emitting, frame{instance: st.instance, key: st.key})
	defer func() {
		rp.emitting = rp.emitting[:len(rp.emitting)-1]

		if v := recover(); v != nil {
			rp.trace.Entries = append(rp.trace.Entries, Entry{
				Instance: st.instance,
				Key:      st.key,
				Panic:    panicMessage(v),
			})
		}
	}()

	rp.target(st.instance).Emit(st.key, st.args...)
	return nil
}

func panicMessage(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return strings.TrimSpace(fmt.Sprint(v))
}
