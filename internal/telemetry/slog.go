package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
)

// Handler is a slog.Handler that passes every record on to next and also
// emits it through the global OTel logger provider.
type Handler struct {
	next   slog.Handler
	logger otellog.Logger
	attrs  []otellog.KeyValue
	prefix string
}

// NewHandler wraps next. Records are emitted to OTel under scope.
func NewHandler(next slog.Handler, scope string) *Handler {
	return &Handler{next: next, logger: global.GetLoggerProvider().Logger(scope)}
}

// Enabled defers to the wrapped handler.
func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle emits r to OTel, then to the wrapped handler.
func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	var rec otellog.Record
	rec.SetTimestamp(r.Time)
	rec.SetBody(otellog.StringValue(r.Message))
	rec.SetSeverity(severity(r.Level))
	rec.SetSeverityText(r.Level.String())
	rec.AddAttributes(h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		rec.AddAttributes(convertAttr(h.prefix, a)...)
		return true
	})
	h.logger.Emit(ctx, rec)

	return h.next.Handle(ctx, r)
}

// WithAttrs returns a handler that adds attrs to every record.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.next = h.next.WithAttrs(attrs)
	cp.attrs = append([]otellog.KeyValue(nil), h.attrs...)
	for _, a := range attrs {
		cp.attrs = append(cp.attrs, convertAttr(h.prefix, a)...)
	}
	return &cp
}

// WithGroup returns a handler that qualifies later attributes with name.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	cp := *h
	cp.next = h.next.WithGroup(name)
	cp.prefix = h.prefix + name + "."
	return &cp
}

func severity(l slog.Level) otellog.Severity {
	switch {
	case l >= slog.LevelError:
		return otellog.SeverityError
	case l >= slog.LevelWarn:
		return otellog.SeverityWarn
	case l >= slog.LevelInfo:
		return otellog.SeverityInfo
	default:
		return otellog.SeverityDebug
	}
}

// convertAttr flattens a slog attribute into OTel key-values. Groups become
// dotted keys.
func convertAttr(prefix string, a slog.Attr) []otellog.KeyValue {
	v := a.Value.Resolve()
	key := prefix + a.Key
	switch v.Kind() {
	case slog.KindGroup:
		var out []otellog.KeyValue
		groupPrefix := prefix
		if a.Key != "" {
			groupPrefix = key + "."
		}
		for _, ga := range v.Group() {
			out = append(out, convertAttr(groupPrefix, ga)...)
		}
		return out
	case slog.KindString:
		return []otellog.KeyValue{otellog.String(key, v.String())}
	case slog.KindInt64:
		return []otellog.KeyValue{otellog.Int64(key, v.Int64())}
	case slog.KindUint64:
		return []otellog.KeyValue{otellog.Int64(key, int64(v.Uint64()))} //nolint:gosec // counters fit
	case slog.KindFloat64:
		return []otellog.KeyValue{otellog.Float64(key, v.Float64())}
	case slog.KindBool:
		return []otellog.KeyValue{otellog.Bool(key, v.Bool())}
	case slog.KindDuration, slog.KindTime:
		return []otellog.KeyValue{otellog.String(key, v.String())}
	default:
		if err, ok := v.Any().(error); ok {
			return []otellog.KeyValue{otellog.String(key, err.Error())}
		}
		return []otellog.KeyValue{otellog.String(key, strings.TrimSpace(fmt.Sprint(v.Any())))}
	}
}
