package logmon

import (
	"container/ring"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/thisisjoshhansen/event-emitter/event"
)

type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

const historyChunks = 1024

// logDataKey is the single event a LogMonitor emits for every write
const logDataKey = "logdata"

type LogMonitor struct {
	mu     sync.Mutex
	buffer *ring.Ring
	stdout io.Writer

	// subscribers to written log data
	subs *event.Registry[string]

	level      LogLevel
	prefix     string
	timeFormat string
}

func NewLogMonitor() *LogMonitor {
	return NewLogMonitorWriter(os.Stdout)
}

func NewLogMonitorWriter(stdout io.Writer) *LogMonitor {
	return &LogMonitor{
		buffer: ring.New(historyChunks),
		stdout: stdout,
		subs:   event.NewRegistry[string](),
		level:  LevelInfo,
	}
}

func (w *LogMonitor) Write(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}

	n, err = w.stdout.Write(p)
	if err != nil {
		return n, err
	}

	// keep a private copy, callers may reuse p
	chunk := make([]byte, len(p))
	copy(chunk, p)

	w.mu.Lock()
	w.buffer.Value = chunk
	w.buffer = w.buffer.Next()
	w.mu.Unlock()

	w.subs.Dispatch(logDataKey, chunk)
	return n, nil
}

// GetHistory returns the retained log output, oldest first.
func (w *LogMonitor) GetHistory() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()

	var history []byte
	w.buffer.Do(func(p any) {
		if chunk, ok := p.([]byte); ok {
			history = append(history, chunk...)
		}
	})
	return history
}

// OnLogData calls fn with every chunk written after it subscribed. Callbacks
// run on the writer's goroutine.
func (w *LogMonitor) OnLogData(fn func(data []byte)) context.CancelFunc {
	return w.subs.Subscribe(logDataKey, event.Func(func(args ...any) {
		fn(args[0].([]byte))
	}))
}

func (w *LogMonitor) SetPrefix(prefix string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prefix = prefix
}

func (w *LogMonitor) SetLogLevel(level LogLevel) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.level = level
}

func (w *LogMonitor) SetTimeFormat(format string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.timeFormat = format
}

func (w *LogMonitor) formatMessage(level string, msg string) []byte {
	w.mu.Lock()
	prefix, timeFormat := w.prefix, w.timeFormat
	w.mu.Unlock()

	var b strings.Builder
	if timeFormat != "" {
		b.WriteString(time.Now().Format(timeFormat))
		b.WriteByte(' ')
	}
	if prefix != "" {
		b.WriteString("[" + prefix + "] ")
	}
	b.WriteString("[" + level + "] ")
	b.WriteString(msg)
	if !strings.HasSuffix(msg, "\n") {
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

func (w *LogMonitor) log(level LogLevel, msg string) {
	w.mu.Lock()
	threshold := w.level
	w.mu.Unlock()

	if level < threshold {
		return
	}

	// a failed write has nowhere left to be reported
	_, _ = w.Write(w.formatMessage(level.String(), msg))
}

func (w *LogMonitor) Debug(msg string) { w.log(LevelDebug, msg) }
func (w *LogMonitor) Info(msg string)  { w.log(LevelInfo, msg) }
func (w *LogMonitor) Warn(msg string)  { w.log(LevelWarn, msg) }
func (w *LogMonitor) Error(msg string) { w.log(LevelError, msg) }

func (w *LogMonitor) Debugf(format string, v ...any) { w.log(LevelDebug, fmt.Sprintf(format, v...)) }
func (w *LogMonitor) Infof(format string, v ...any)  { w.log(LevelInfo, fmt.Sprintf(format, v...)) }
func (w *LogMonitor) Warnf(format string, v ...any)  { w.log(LevelWarn, fmt.Sprintf(format, v...)) }
func (w *LogMonitor) Errorf(format string, v ...any) { w.log(LevelError, fmt.Sprintf(format, v...)) }

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	}
	return "UNKNOWN"
}

// LevelFromString parses a log level name, case insensitive.
func LevelFromString(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}
