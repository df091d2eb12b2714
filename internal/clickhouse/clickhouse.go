package clickhouse

import (
	"context"
	"fmt"

	clickhouse_go "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/hirewire/billing/internal/config"
	"github.com/hirewire/billing/internal/sentry"
)

type ClickHouseStore struct {
	conn   driver.Conn
	sentry *sentry.Service
}

func NewClickHouseStore(config *config.Configuration, sentryService *sentry.Service) (*ClickHouseStore, error) {
	options := config.ClickHouse.GetClientOptions()
	conn, err := clickhouse_go.Open(options)
	if err != nil {
		return nil, fmt.Errorf("init clickhouse client: %w", err)
	}

	return &ClickHouseStore{
		conn:   conn,
		sentry: sentryService,
	}, nil
}

// GetConn returns a connection that traces every operation
func (s *ClickHouseStore) GetConn() driver.Conn {
	return &tracedConn{
		conn:   s.conn,
		sentry: s.sentry,
	}
}

// GetRawConn returns the untraced connection
func (s *ClickHouseStore) GetRawConn() driver.Conn {
	return s.conn
}

func (s *ClickHouseStore) Close() error {
	return s.conn.Close()
}

// WithSpan creates a new context with a ClickHouse span for monitoring
// database operations
func (s *ClickHouseStore) WithSpan(ctx context.Context, operation string, params map[string]interface{}) (context.Context, *sentry.SpanFinisher) {
	if s.sentry == nil {
		return ctx, &sentry.SpanFinisher{}
	}

	span, newCtx := s.sentry.StartClickHouseSpan(ctx, operation, params)
	return newCtx, &sentry.SpanFinisher{Span: span}
}

// tracedConn wraps the ClickHouse Conn interface with tracing. Batches from
// PrepareBatch are returned unwrapped; the span covers the prepare call.
type tracedConn struct {
	conn   driver.Conn
	sentry *sentry.Service
}

func (tc *tracedConn) Contributors() []string {
	return tc.conn.Contributors()
}

func (tc *tracedConn) ServerVersion() (*driver.ServerVersion, error) {
	return tc.conn.ServerVersion()
}

func (tc *tracedConn) Select(ctx context.Context, dest any, query string, args ...any) error {
	ctx, finish := tc.span(ctx, "clickhouse.select", map[string]interface{}{
		"query":      truncateQuery(query),
		"args_count": len(args),
	})
	defer finish.Finish()

	return tc.conn.Select(ctx, dest, query, args...)
}

func (tc *tracedConn) Query(ctx context.Context, query string, args ...any) (driver.Rows, error) {
	ctx, finish := tc.span(ctx, "clickhouse.query", map[string]interface{}{
		"query":      truncateQuery(query),
		"args_count": len(args),
	})
	defer finish.Finish()

	return tc.conn.Query(ctx, query, args...)
}

func (tc *tracedConn) QueryRow(ctx context.Context, query string, args ...any) driver.Row {
	ctx, finish := tc.span(ctx, "clickhouse.query_row", map[string]interface{}{
		"query":      truncateQuery(query),
		"args_count": len(args),
	})
	defer finish.Finish()

	return tc.conn.QueryRow(ctx, query, args...)
}

func (tc *tracedConn) PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error) {
	ctx, finish := tc.span(ctx, "clickhouse.prepare_batch", map[string]interface{}{
		"query": truncateQuery(query),
	})
	defer finish.Finish()

	return tc.conn.PrepareBatch(ctx, query, opts...)
}

func (tc *tracedConn) Exec(ctx context.Context, query string, args ...any) error {
	ctx, finish := tc.span(ctx, "clickhouse.exec", map[string]interface{}{
		"query":      truncateQuery(query),
		"args_count": len(args),
	})
	defer finish.Finish()

	return tc.conn.Exec(ctx, query, args...)
}

func (tc *tracedConn) AsyncInsert(ctx context.Context, query string, wait bool, args ...any) error {
	ctx, finish := tc.span(ctx, "clickhouse.async_insert", map[string]interface{}{
		"query": truncateQuery(query),
		"wait":  wait,
	})
	defer finish.Finish()

	return tc.conn.AsyncInsert(ctx, query, wait, args...)
}

func (tc *tracedConn) Ping(ctx context.Context) error {
	ctx, finish := tc.span(ctx, "clickhouse.ping", nil)
	defer finish.Finish()

	return tc.conn.Ping(ctx)
}

func (tc *tracedConn) Stats() driver.Stats {
	return tc.conn.Stats()
}

func (tc *tracedConn) Close() error {
	return tc.conn.Close()
}

func (tc *tracedConn) span(ctx context.Context, operation string, params map[string]interface{}) (context.Context, *sentry.SpanFinisher) {
	if tc.sentry == nil {
		return ctx, &sentry.SpanFinisher{}
	}

	span, newCtx := tc.sentry.StartClickHouseSpan(ctx, operation, params)
	return newCtx, &sentry.SpanFinisher{Span: span}
}

// truncateQuery keeps span payloads small
func truncateQuery(query string) string {
	const maxLen = 200
	if len(query) <= maxLen {
		return query
	}
	return query[:maxLen] + "..."
}
