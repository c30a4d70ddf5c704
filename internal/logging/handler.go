// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package logging provides structured logging with OpenTelemetry trace context.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel/trace"
)

// Output formats accepted by Setup.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// traceHandler adds the trace and span IDs of the record's context.
type traceHandler struct {
	slog.Handler
}

// Handle adds trace context to the log record.
func (h traceHandler) Handle(ctx context.Context, r slog.Record) error {
	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.HasTraceID() {
		r.AddAttrs(slog.String("trace_id", spanCtx.TraceID().String()))
	}
	if spanCtx.HasSpanID() {
		r.AddAttrs(slog.String("span_id", spanCtx.SpanID().String()))
	}

	//nolint:wrapcheck // Handler interface requires unwrapped error passthrough
	return h.Handler.Handle(ctx, r)
}

// WithAttrs returns a new handler with the given attributes.
func (h traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return traceHandler{h.Handler.WithAttrs(attrs)}
}

// WithGroup returns a new handler with the given group.
func (h traceHandler) WithGroup(name string) slog.Handler {
	return traceHandler{h.Handler.WithGroup(name)}
}

// ParseLevel parses debug, info, warn or error (case-insensitive). Empty
// means info.
func ParseLevel(level string) (slog.Level, error) {
	if level == "" {
		return slog.LevelInfo, nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return 0, oops.Code("LOG_INVALID_LEVEL").With("level", level).Wrap(err)
	}
	return l, nil
}

// Setup creates a logger that writes format ("json" or "text", default
// json) to w (default os.Stderr) at level and above. Every record carries
// the service and version attributes.
func Setup(service, version, format, level string, w io.Writer) (*slog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var base slog.Handler
	switch strings.ToLower(format) {
	case "", FormatJSON:
		base = slog.NewJSONHandler(w, opts)
	case FormatText:
		base = slog.NewTextHandler(w, opts)
	default:
		return nil, oops.Code("LOG_INVALID_FORMAT").
			With("format", format).
			Errorf("unknown log format %q", format)
	}

	base = base.WithAttrs([]slog.Attr{
		slog.String("service", service),
		slog.String("version", version),
	})
	return slog.New(traceHandler{base}), nil
}
