// Package pgstore provides a PostgreSQL implementation of audit.Sink.
package pgstore

import (
	"context"
	_ "embed"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/bodyguard/internal/audit"
)

var tracer = otel.Tracer("github.com/linnemanlabs/bodyguard/internal/audit/pgstore")

//go:embed schema.sql
var schema string

// Store appends audit events to the action_events table.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Store. The caller owns
// the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const insertEvent = `INSERT INTO action_events (action_id, kind, type, status, details, occurred_at)
	VALUES ($1, $2, $3, $4, $5, $6)`

// Write implements audit.Sink.
func (s *Store) Write(ctx context.Context, ev audit.Event) error {
	ctx, span := tracer.Start(ctx, "pgstore.Write", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
		attribute.String("action.id", ev.ActionID),
	))
	defer span.End()

	_, err := s.pool.Exec(ctx, insertEvent,
		ev.ActionID, string(ev.Kind), string(ev.Type), string(ev.Status), ev.Details, ev.At)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert action event: %w", err)
	}
	return nil
}

// Count returns the number of events stored for an action.
func (s *Store) Count(ctx context.Context, actionID string) (int, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Count", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM action_events WHERE action_id = $1`, actionID).Scan(&n)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("count action events: %w", err)
	}
	return n, nil
}
