package clickhouse

import (
	"context"

	"github.com/getsentry/sentry-go"
)

// StartRepositorySpan starts a span for a clickhouse repository operation.
// Returns nil when there is no active transaction on the context.
func StartRepositorySpan(ctx context.Context, repository, operation string, params map[string]interface{}) *sentry.Span {
	if hub := sentry.GetHubFromContext(ctx); hub == nil {
		return nil
	}

	span := sentry.StartSpan(ctx, "repository."+repository+"."+operation)
	span.Op = "db.clickhouse"
	span.SetData("repository", repository)
	span.SetData("operation", operation)
	for key, value := range params {
		span.SetData(key, value)
	}
	return span
}

// FinishSpan finishes the span if it exists
func FinishSpan(span *sentry.Span) {
	if span != nil {
		span.Finish()
	}
}

// SetSpanError marks the span as failed
func SetSpanError(span *sentry.Span, err error) {
	if span != nil && err != nil {
		span.Status = sentry.SpanStatusInternalError
		span.SetData("error", err.Error())
	}
}

// SetSpanSuccess marks the span as successful
func SetSpanSuccess(span *sentry.Span) {
	if span != nil {
		span.Status = sentry.SpanStatusOK
	}
}
