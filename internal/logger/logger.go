// Package logger holds the process-wide structured logger of the rule
// service. Records go to stdout as JSON, or to an OTLP collector through the
// slog bridge when an endpoint is configured. Warnings and errors are
// sampled; their counters are not.
package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

type Level = slog.Level

const (
	LevelTrace   = slog.Level(-8)
	LevelDebug   = slog.LevelDebug
	LevelInfo    = slog.LevelInfo
	LevelWarning = slog.LevelWarn
	LevelError   = slog.LevelError
	LevelFatal   = slog.Level(12)
)

var (
	Logger          *slog.Logger
	errorSampleRate atomic.Int32
	programLevel    = new(slog.LevelVar)

	shutdownMu   sync.Mutex
	shutdownFunc func(context.Context) error
)

// Counters for the health endpoint, incremented regardless of sampling
var (
	TotalErrors    atomic.Int64
	TotalWarnings  atomic.Int64
	Evaluations    atomic.Int64
	FailedRuns     atomic.Int64
	Total4xxErrors atomic.Int64
	Total5xxErrors atomic.Int64
)

func init() {
	errorSampleRate.Store(1)
	programLevel.Set(LevelInfo)
	setup(os.Stdout)
}

// Options configures the logger at startup
type Options struct {
	// Level is a level name such as "debug" or "warn"
	Level string

	// ErrorSampleRate logs one out of every N warnings and errors
	ErrorSampleRate int

	// Output defaults to stdout
	Output io.Writer

	// OTELEndpoint is an OTLP gRPC collector URL such as
	// http://localhost:4317. When set, records are exported there instead
	// of being written to Output.
	OTELEndpoint string

	// ServiceName identifies the process in exported records
	ServiceName string
}

// Configure replaces the process logger. An unknown level falls back to
// INFO, and a collector that cannot be set up falls back to JSON output;
// both are reported as an error after the logger is installed.
func Configure(opts Options) error {
	level, levelErr := ParseLevel(opts.Level)
	programLevel.Set(level)

	if opts.ErrorSampleRate > 0 {
		errorSampleRate.Store(int32(opts.ErrorSampleRate))
	}

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	// a previous provider is replaced, not leaked
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := Shutdown(ctx); err != nil {
		levelErr = errors.Join(levelErr, err)
	}

	if opts.OTELEndpoint == "" {
		setup(out)
		return levelErr
	}

	shutdown, err := setupOTEL(ctx, opts.OTELEndpoint, opts.ServiceName)
	if err != nil {
		setup(out)
		return errors.Join(levelErr, fmt.Errorf("OTEL logging disabled: %w", err))
	}
	shutdownMu.Lock()
	shutdownFunc = shutdown
	shutdownMu.Unlock()
	return levelErr
}

func setup(w io.Writer) {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: programLevel})
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// setupOTEL routes the process logger through the slog bridge to an OTLP
// gRPC exporter
func setupOTEL(ctx context.Context, endpoint, serviceName string) (func(context.Context) error, error) {
	if serviceName == "" {
		serviceName = "businessrules"
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := otlploggrpc.New(ctx, otlploggrpc.WithEndpointURL(endpoint))
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)

	handler := &levelHandler{
		level:   programLevel,
		handler: otelslog.NewHandler(serviceName, otelslog.WithLoggerProvider(provider)),
	}
	Logger = slog.New(handler)
	slog.SetDefault(Logger)

	return provider.Shutdown, nil
}

// levelHandler applies the process level to a handler that has no level of
// its own
type levelHandler struct {
	level   slog.Leveler
	handler slog.Handler
}

func (h *levelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *levelHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.handler.Handle(ctx, r)
}

func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelHandler{level: h.level, handler: h.handler.WithAttrs(attrs)}
}

func (h *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{level: h.level, handler: h.handler.WithGroup(name)}
}

// Shutdown flushes and closes the OTEL provider, if one is installed
func Shutdown(ctx context.Context) error {
	shutdownMu.Lock()
	fn := shutdownFunc
	shutdownFunc = nil
	shutdownMu.Unlock()

	if fn == nil {
		return nil
	}
	return fn(ctx)
}

func SetLevel(level slog.Level) {
	programLevel.Set(level)
}

func GetLevel() slog.Level {
	return programLevel.Level()
}

// ParseLevel converts a level name to slog.Level. An empty name is INFO.
func ParseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "TRACE":
		return LevelTrace, nil
	case "DEBUG":
		return LevelDebug, nil
	case "", "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarning, nil
	case "ERROR":
		return LevelError, nil
	case "FATAL":
		return LevelFatal, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %s (defaulting to INFO)", levelStr)
	}
}

func shouldSample() bool {
	rate := errorSampleRate.Load()
	if rate <= 1 {
		return true
	}
	return rand.Intn(int(rate)) == 0
}

func Trace(msg string, args ...any) {
	Logger.Log(context.Background(), LevelTrace, msg, args...)
}

func Debug(msg string, args ...any) {
	Logger.Debug(msg, args...)
}

func Info(msg string, args ...any) {
	Logger.Info(msg, args...)
}

// Warn logs with sampling; the warning counter is always incremented
func Warn(msg string, args ...any) {
	TotalWarnings.Add(1)
	if shouldSample() {
		Logger.Warn(msg, args...)
	}
}

// Error logs with sampling; the error counter is always incremented
func Error(msg string, args ...any) {
	TotalErrors.Add(1)
	if shouldSample() {
		Logger.Error(msg, args...)
	}
}

// Fatal logs and exits
func Fatal(msg string, args ...any) {
	Logger.Log(context.Background(), LevelFatal, msg, args...)
	os.Exit(1)
}

// RecordEvaluation counts one orchestrator run
func RecordEvaluation(err error) {
	Evaluations.Add(1)
	if err != nil {
		FailedRuns.Add(1)
	}
}

// RecordStatus counts HTTP error responses by class
func RecordStatus(status int) {
	switch {
	case status >= 500:
		Total5xxErrors.Add(1)
		TotalErrors.Add(1)
	case status >= 400:
		Total4xxErrors.Add(1)
		TotalWarnings.Add(1)
	}
}

// Stats is a snapshot of the counters
type Stats struct {
	Evaluations int64 `json:"evaluations"`
	FailedRuns  int64 `json:"failedRuns"`
	Errors      int64 `json:"errors"`
	Warnings    int64 `json:"warnings"`
	Client4xx   int64 `json:"client4xx"`
	Server5xx   int64 `json:"server5xx"`
}

func Snapshot() Stats {
	return Stats{
		Evaluations: Evaluations.Load(),
		FailedRuns:  FailedRuns.Load(),
		Errors:      TotalErrors.Load(),
		Warnings:    TotalWarnings.Load(),
		Client4xx:   Total4xxErrors.Load(),
		Server5xx:   Total5xxErrors.Load(),
	}
}
