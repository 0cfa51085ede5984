package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// AuditLog represents a record stored in activity_logs.
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// ErrAuditIncomplete is returned for entries missing action/entity/entity_id.
var ErrAuditIncomplete = errors.New("audit log requires action/entity/entity_id")

// AuditLogger writes records into activity_logs. It is always handed the
// transaction of the mutation it describes so both commit together.
type AuditLogger struct{}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger() *AuditLogger {
	return &AuditLogger{}
}

// Record persists the log entry using db.
func (l *AuditLogger) Record(ctx context.Context, db DBTX, log AuditLog) error {
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return ErrAuditIncomplete
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	_, err = db.Exec(ctx, `INSERT INTO activity_logs (actor_id, action, entity, entity_id, meta, occurred_at) VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`,
		log.ActorID, log.Action, log.Entity, log.EntityID, metaJSON, at)
	return err
}
