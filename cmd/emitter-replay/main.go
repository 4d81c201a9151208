package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/thisisjoshhansen/event-emitter/internal/logmon"
	"github.com/thisisjoshhansen/event-emitter/scenario"
)

var version string = "0"
var commit string = "abcd1234"
var date = "unknown"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run is main without the process exit, it returns the exit code
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("emitter-replay", flag.ContinueOnError)
	flags.SetOutput(stderr)

	scenarioPath := flags.String("scenario", "", "scenario file, more files may follow as arguments")
	surfaceStr := flags.String("surface", "", "surface to replay against: emitter, factory or both (default from scenario)")
	formatStr := flags.String("format", "text", "trace format: text, json, yaml or cbor")
	outPath := flags.String("out", "", "write traces to this file instead of stdout, a .zst suffix compresses it")
	logLevel := flags.String("log-level", "info", "log level: debug, info, warn or error")
	logTimeFormat := flags.String("log-time-format", "", "Go time layout prefixed to log lines, empty disables timestamps")
	showVersion := flags.Bool("version", false, "show version of build")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *showVersion {
		fmt.Fprintf(stdout, "version: %s (%s), built at %s\n", version, commit, date)
		return 0
	}

	logger := logmon.NewLogMonitorWriter(stderr)
	logger.SetPrefix("emitter-replay")
	level, err := logmon.LevelFromString(*logLevel)
	if err != nil {
		logger.Error(err.Error())
		return 2
	}
	logger.SetLogLevel(level)
	logger.SetTimeFormat(*logTimeFormat)

	var paths []string
	if *scenarioPath != "" {
		paths = append(paths, *scenarioPath)
	}
	paths = append(paths, flags.Args()...)
	if len(paths) == 0 {
		logger.Error("no scenario file given, use -scenario <file>")
		return 2
	}

	surface := scenario.Surface("")
	if *surfaceStr != "" {
		if surface, err = scenario.ParseSurface(*surfaceStr); err != nil {
			logger.Error(err.Error())
			return 2
		}
	}

	format, err := scenario.ParseFormat(*formatStr)
	if err != nil {
		logger.Error(err.Error())
		return 2
	}

	shutdown, err := setupTracing(ctx)
	if err != nil {
		logger.Errorf("tracing disabled: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			logger.Warnf("flushing traces: %v", err)
		}
	}()

	runner := scenario.NewRunner(scenario.WithLogger(logger))

	var traces []*scenario.Trace
	failed := false
	for _, path := range paths {
		scenarios, err := scenario.LoadFile(path)
		if err != nil {
			logger.Error(err.Error())
			failed = true
			continue
		}

		for _, sc := range scenarios {
			if ctx.Err() != nil {
				logger.Warn("interrupted")
				return 1
			}

			result, err := runner.RunAll(ctx, sc, surface)
			traces = append(traces, result...)
			if err != nil {
				failed = true
			}
		}
	}

	if err := writeTraces(stdout, *outPath, format, traces); err != nil {
		logger.Errorf("writing traces: %v", err)
		return 1
	}

	if failed {
		return 1
	}
	return 0
}

// writeTraces encodes traces to stdout, or to path when it is set
func writeTraces(stdout io.Writer, path string, format scenario.Format, traces []*scenario.Trace) error {
	if path == "" {
		return scenario.Encode(stdout, format, traces)
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := encodeFile(file, path, format, traces); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// encodeFile writes the encoded traces to file, through zstd when path ends in .zst
func encodeFile(file io.Writer, path string, format scenario.Format, traces []*scenario.Trace) error {
	if !strings.HasSuffix(path, ".zst") {
		return scenario.Encode(file, format, traces)
	}

	enc, err := zstd.NewWriter(file)
	if err != nil {
		return err
	}
	if err := scenario.Encode(enc, format, traces); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// setupTracing installs an OTLP/HTTP exporter when the standard OTEL
// environment variables point to a collector. The returned function flushes
// and stops it.
func setupTracing(ctx context.Context) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }

	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" && os.Getenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT") == "" {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return noop, err
	}

	provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}
