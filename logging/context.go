package logging

import (
	"context"
	"log/slog"
)

type contextKey int

const (
	requestIDKey contextKey = iota
	operationKey
	trapIDKey
)

// contextFields lists the identifiers copied from a context into each record,
// in output order.
var contextFields = []struct {
	key  contextKey
	attr string
}{
	{requestIDKey, "request_id"},
	{operationKey, "operation"},
	{trapIDKey, "trap_id"},
}

// WithRequestID stores the HTTP request id. An empty id leaves ctx unchanged.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withValue(ctx, requestIDKey, id)
}

// WithOperation stores the SNMP operation being served (get, set, ...).
func WithOperation(ctx context.Context, op string) context.Context {
	return withValue(ctx, operationKey, op)
}

// WithTrapID stores the id of the trap record being processed.
func WithTrapID(ctx context.Context, id string) context.Context {
	return withValue(ctx, trapIDKey, id)
}

// RequestID returns the request id stored in ctx, if any.
func RequestID(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

func withValue(ctx context.Context, key contextKey, v string) context.Context {
	if v == "" {
		return ctx
	}
	return context.WithValue(ctx, key, v)
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(key).(string)
	return s
}

// extractContextFields returns the identifiers present in ctx as attributes.
func extractContextFields(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	for _, f := range contextFields {
		if v := stringValue(ctx, f.key); v != "" {
			attrs = append(attrs, slog.String(f.attr, v))
		}
	}
	return attrs
}

// contextHandler adds context identifiers to records before delegating.
type contextHandler struct {
	slog.Handler
}

func (h contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs := extractContextFields(ctx); len(attrs) > 0 {
		r.AddAttrs(attrs...)
	}
	return h.Handler.Handle(ctx, r)
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{h.Handler.WithAttrs(attrs)}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{h.Handler.WithGroup(name)}
}
