package cache

import (
	"context"

	"github.com/getsentry/sentry-go"
)

// StartCacheSpan creates a new span for a cache operation. Returns nil when
// no sentry hub is attached to the context.
func StartCacheSpan(ctx context.Context, cacheName, operation string, params map[string]interface{}) *sentry.Span {
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		return nil
	}

	span := sentry.StartSpan(ctx, "cache."+cacheName+"."+operation)
	if span != nil {
		span.Description = "cache." + cacheName + "." + operation
		span.Op = "db.cache"
		span.SetData("cache", cacheName)
		span.SetData("operation", operation)

		for k, v := range params {
			span.SetData(k, v)
		}
	}

	return span
}

// FinishSpan safely finishes a span, handling nil spans
func FinishSpan(span *sentry.Span) {
	if span != nil {
		span.Finish()
	}
}
