package postgres

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

const selfPackage = "github.com/linnemanlabs/bodyguard/internal/postgres."

var queryObserver atomic.Pointer[observerHolder]

type observerHolder struct{ QueryObserver }

type queryKey struct{}

// queryInfo is stashed in the context between TraceQueryStart and TraceQueryEnd.
type queryInfo struct {
	sql    string
	args   []any
	start  time.Time
	caller string
}

// QueryObserver receives per-query metrics (wired by main for Prometheus).
type QueryObserver interface {
	ObserveQuery(ctx context.Context, operation, caller, outcome string, dur time.Duration)
}

// QueryObserverFunc adapts a plain function to QueryObserver.
type QueryObserverFunc func(ctx context.Context, operation, caller, outcome string, dur time.Duration)

// ObserveQuery implements QueryObserver.
func (f QueryObserverFunc) ObserveQuery(ctx context.Context, operation, caller, outcome string, dur time.Duration) {
	f(ctx, operation, caller, outcome, dur)
}

// SetQueryObserver sets the global query observer. nil clears it.
func SetQueryObserver(o QueryObserver) {
	if o == nil {
		queryObserver.Store(nil)
		return
	}
	queryObserver.Store(&observerHolder{QueryObserver: o})
}

func getQueryObserver() QueryObserver {
	h := queryObserver.Load()
	if h == nil {
		return nil
	}
	return h.QueryObserver
}

// loggingTracer wraps another pgx.QueryTracer (otelpgx) and adds a structured
// log line and an observer callback for every query.
type loggingTracer struct {
	inner  pgx.QueryTracer
	logger log.Logger
}

func wrapQueryTracer(inner pgx.QueryTracer, logger log.Logger) pgx.QueryTracer {
	if logger == nil {
		logger = log.Nop()
	}
	return loggingTracer{inner: inner, logger: logger}
}

func (t loggingTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	info := &queryInfo{
		sql:    data.SQL,
		args:   data.Args,
		start:  time.Now(),
		caller: findDBCaller(),
	}

	// inner creates the span first so the caller lands on the db span.
	if t.inner != nil {
		ctx = t.inner.TraceQueryStart(ctx, conn, data)
	}
	if span := trace.SpanFromContext(ctx); span.IsRecording() && info.caller != "" {
		span.SetAttributes(attribute.String("db.caller", info.caller))
	}

	return context.WithValue(ctx, queryKey{}, info)
}

func (t loggingTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	if t.inner != nil {
		t.inner.TraceQueryEnd(ctx, conn, data)
	}

	info, _ := ctx.Value(queryKey{}).(*queryInfo)
	if info == nil {
		info = &queryInfo{}
	}

	var dur time.Duration
	if !info.start.IsZero() {
		dur = time.Since(info.start)
	}

	op := operationName(data.CommandTag.String(), info.sql)
	outcome := "ok"
	if data.Err != nil {
		outcome = "error"
	}

	if obs := getQueryObserver(); obs != nil {
		caller := info.caller
		if caller == "" {
			caller = "unknown"
		}
		obs.ObserveQuery(ctx, op, caller, outcome, dur)
	}

	fields := []any{
		"db.statement", info.sql,
		"db.args", len(info.args),
		"db.duration", dur.Seconds(),
		"db.operation.name", op,
	}
	if data.Err == nil {
		fields = append(fields, "db.rows", data.CommandTag.RowsAffected())
	}
	if info.caller != "" {
		fields = append(fields, "db.caller", info.caller)
	}

	if data.Err != nil {
		var pgErr *pgconn.PgError
		if errors.As(data.Err, &pgErr) {
			fields = append(fields,
				"db.error_code", pgErr.Code,
				"db.error_constraint", pgErr.ConstraintName,
			)
		}
		t.logger.Error(ctx, data.Err, "db query failed", fields...)
		return
	}
	t.logger.Info(ctx, "db query", fields...)
}

// operationName prefers the command tag and falls back to the first SQL word.
func operationName(tag, sql string) string {
	for _, s := range []string{tag, sql} {
		if f := strings.Fields(s); len(f) > 0 {
			return strings.ToUpper(f[0])
		}
	}
	return "UNKNOWN"
}

// findDBCaller returns the first application frame issuing the query.
func findDBCaller() string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	for {
		fr, more := frames.Next()
		fn := fr.Function
		if fn != "" &&
			!strings.HasPrefix(fn, "runtime.") &&
			!strings.Contains(fn, "github.com/jackc/pgx/v5") &&
			!strings.Contains(fn, "github.com/exaring/otelpgx") &&
			!strings.HasPrefix(fn, selfPackage) {
			return shortenFuncName(fn)
		}
		if !more {
			return ""
		}
	}
}

func shortenFuncName(fn string) string {
	if i := strings.LastIndex(fn, "/"); i >= 0 && i+1 < len(fn) {
		fn = fn[i+1:]
	}
	if dot := strings.Index(fn, "."); dot >= 0 && dot+1 < len(fn) {
		fn = fn[dot+1:]
	}
	return fn
}
