package tracing

import (
	"context"
	"errors"
	"strings"

	"github.com/smallbiznis/farerouter/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Legacy callers without W3C propagation send the parent span in these headers.
const (
	headerTraceID = "X-Trace-Id"
	headerSpanID  = "X-Span-Id"
)

const maxAttributeLength = 256

var blockedAttributeKeys = map[attribute.Key]struct{}{
	"raw_offer":     {},
	"authorization": {},
	"cookie":        {},
	"password":      {},
}

// ExtractContext restores the remote trace context carried by the request.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	ctx = otel.GetTextMapPropagator().Extract(ctx, carrier)
	if trace.SpanContextFromContext(ctx).IsValid() {
		return ctx
	}
	return correlation.ContextWithRemoteSpan(ctx,
		strings.TrimSpace(carrier.Get(headerTraceID)),
		strings.TrimSpace(carrier.Get(headerSpanID)),
	)
}

// SafeAttributes drops sensitive keys and truncates long string values.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, blocked := blockedAttributeKeys[attr.Key]; blocked {
			continue
		}
		if attr.Value.Type() == attribute.STRING {
			if value := attr.Value.AsString(); len(value) > maxAttributeLength {
				attr = attribute.String(string(attr.Key), value[:maxAttributeLength])
			}
		}
		out = append(out, attr)
	}
	return out
}

// SafeError returns an error whose message fits on a span.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.TrimSpace(err.Error())
	if len(msg) > maxAttributeLength {
		msg = msg[:maxAttributeLength]
	}
	return errors.New(msg)
}
