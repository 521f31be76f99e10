// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging assembles the structured logger the validation engine
// runs under.
//
// The orchestrator logs every session admission, stage transition, and
// provider fallback as slog key-value records. One Logger fans each
// record out to up to three destinations:
//
//   - stderr, text or JSON, for the operator running `parity serve`
//   - a per-day NDJSON file under LogDir, for inspecting what happened
//     to a validation session after the fact
//   - an optional LogExporter, the seam for shipping entries to a
//     log collector
//
// The file destination is always JSON regardless of the stderr format,
// since it exists to be grepped and parsed, not read live.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// Levels
// =============================================================================

// Level is the minimum severity a record needs to be emitted.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns "DEBUG", "INFO", "WARN", or "ERROR".
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// =============================================================================
// Configuration
// =============================================================================

// Config selects the destinations and the floor level. The zero value
// writes Info and above to stderr as text.
type Config struct {
	// Level is the minimum level across all destinations.
	Level Level

	// LogDir enables the file destination. The file is named
	// "{Service}_{YYYY-MM-DD}.log" and appended to across restarts, so
	// a session interrupted by a crash keeps its earlier records. A
	// leading ~ expands to the home directory.
	LogDir string

	// Service tags every record, e.g. "orchestrator" for the server
	// and "cli" for client commands. Defaults to "parity".
	Service string

	// JSON switches the stderr destination from text to JSON.
	JSON bool

	// Quiet drops the stderr destination. Records still reach the
	// file and the exporter.
	Quiet bool

	// Exporter, when set, receives every emitted record as a LogEntry.
	Exporter LogExporter
}

// LogExporter ships log entries to an external collector. Export is
// called inline on the logging path and must be cheap; implementations
// buffer internally and drain on Flush.
type LogExporter interface {
	Export(ctx context.Context, entry LogEntry) error
	Flush(ctx context.Context) error
	Close() error
}

// LogEntry is the destination-neutral form of one record.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Service   string         `json:"service,omitempty"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// =============================================================================
// Logger
// =============================================================================

// Logger wraps a slog.Logger with ownership of the file and exporter
// destinations. Loggers derived via With share those destinations.
type Logger struct {
	slog *slog.Logger
	sink *sink
}

// sink holds the closable destinations shared by a Logger and its
// With-derived children.
type sink struct {
	once     sync.Once
	file     *os.File
	exporter LogExporter
	err      error
}

// New builds a Logger for the given configuration. Destination setup
// failures (unwritable LogDir, unopenable file) are reported to stderr
// and that destination is skipped; the logger itself always works.
func New(config Config) *Logger {
	service := config.Service
	if service == "" {
		service = "parity"
	}
	opts := &slog.HandlerOptions{Level: config.Level.slogLevel()}
	s := &sink{}

	var handlers []slog.Handler
	if !config.Quiet {
		if config.JSON {
			handlers = append(handlers, slog.NewJSONHandler(os.Stderr, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(os.Stderr, opts))
		}
	}

	if config.LogDir != "" {
		dir := expandPath(config.LogDir)
		name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
		if err := os.MkdirAll(dir, 0o750); err != nil {
			fmt.Fprintf(os.Stderr, "logging: cannot create %s: %v\n", dir, err)
		} else if f, err := os.OpenFile(filepath.Join(dir, name),
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640); err != nil {
			fmt.Fprintf(os.Stderr, "logging: cannot open log file: %v\n", err)
		} else {
			s.file = f
			handlers = append(handlers, slog.NewJSONHandler(f, opts))
		}
	}

	if config.Exporter != nil {
		s.exporter = config.Exporter
		handlers = append(handlers, &exporterHandler{
			exporter: config.Exporter,
			service:  service,
			level:    config.Level.slogLevel(),
		})
	}

	var h slog.Handler
	switch len(handlers) {
	case 0:
		h = slog.NewTextHandler(io.Discard, opts)
	case 1:
		h = handlers[0]
	default:
		h = &multiHandler{handlers: handlers}
	}

	return &Logger{
		slog: slog.New(h).With("service", service),
		sink: s,
	}
}

func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.slog.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.slog.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

// With returns a Logger that adds the attributes to every record, e.g.
// With("request_id", id) for session-scoped logging.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...), sink: l.sink}
}

// Slog exposes the underlying slog.Logger for code that takes one, such
// as slog.SetDefault and the service constructors.
func (l *Logger) Slog() *slog.Logger { return l.slog }

// Close flushes the exporter and closes the log file. Safe to call more
// than once; later calls return the first outcome.
func (l *Logger) Close() error {
	l.sink.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if l.sink.exporter != nil {
			if err := l.sink.exporter.Flush(ctx); err != nil && l.sink.err == nil {
				l.sink.err = err
			}
			if err := l.sink.exporter.Close(); err != nil && l.sink.err == nil {
				l.sink.err = err
			}
		}
		if l.sink.file != nil {
			if err := l.sink.file.Close(); err != nil && l.sink.err == nil {
				l.sink.err = err
			}
		}
	})
	return l.sink.err
}

// =============================================================================
// Handlers
// =============================================================================

// multiHandler fans one record out to every destination.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, inner := range h.handlers {
		if inner.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, inner := range h.handlers {
		if inner.Enabled(ctx, r.Level) {
			if err := inner.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, inner := range h.handlers {
		next[i] = inner.WithAttrs(attrs)
	}
	return &multiHandler{handlers: next}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, inner := range h.handlers {
		next[i] = inner.WithGroup(name)
	}
	return &multiHandler{handlers: next}
}

// exporterHandler adapts a LogExporter to slog. Export errors are
// swallowed: a collector outage must never disturb the serving path.
type exporterHandler struct {
	exporter LogExporter
	service  string
	level    slog.Level
	attrs    []slog.Attr
}

func (h *exporterHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *exporterHandler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make(map[string]any, r.NumAttrs()+len(h.attrs))
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})
	_ = h.exporter.Export(ctx, LogEntry{
		Timestamp: r.Time,
		Level:     r.Level.String(),
		Message:   r.Message,
		Service:   h.service,
		Attrs:     attrs,
	})
	return nil
}

func (h *exporterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

// WithGroup is accepted but flattened; exported entries keep a flat
// attribute map.
func (h *exporterHandler) WithGroup(string) slog.Handler { return h }

// =============================================================================
// Helpers and test doubles
// =============================================================================

// expandPath resolves a leading ~ against the home directory.
func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}

// BufferedExporter collects entries in memory. It backs exporter tests
// here and in packages that accept a LogExporter.
type BufferedExporter struct {
	mu      sync.Mutex
	entries []LogEntry
	closed  bool
}

// NewBufferedExporter returns an empty buffered exporter.
func NewBufferedExporter() *BufferedExporter {
	return &BufferedExporter{}
}

func (e *BufferedExporter) Export(_ context.Context, entry LogEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = append(e.entries, entry)
	return nil
}

func (e *BufferedExporter) Flush(context.Context) error { return nil }

func (e *BufferedExporter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// Entries returns a copy of everything exported so far.
func (e *BufferedExporter) Entries() []LogEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]LogEntry(nil), e.entries...)
}

// Closed reports whether Close has been called.
func (e *BufferedExporter) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

var _ LogExporter = (*BufferedExporter)(nil)
