package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/forgeline/forgeline/internal/shared"
)

// PostgreSQL SQLSTATE codes the repositories react to.
const (
	CodeUniqueViolation      = "23505"
	CodeForeignKeyViolation  = "23503"
	CodeCheckViolation       = "23514"
	CodeSerializationFailure = "40001"
	CodeDeadlockDetected     = "40P01"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsUniqueViolation reports whether err is a unique constraint failure.
func IsUniqueViolation(err error) bool {
	return pgCode(err) == CodeUniqueViolation
}

// IsCheckViolation reports whether err is a CHECK constraint failure.
func IsCheckViolation(err error) bool {
	return pgCode(err) == CodeCheckViolation
}

// IsSerializationFailure reports whether the transaction lost a concurrency
// race and may be retried by the caller.
func IsSerializationFailure(err error) bool {
	code := pgCode(err)
	return code == CodeSerializationFailure || code == CodeDeadlockDetected
}

// ConstraintName returns the violated constraint, if any.
func ConstraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}

// Classify converts a repository failure into the engine error taxonomy.
// Already classified errors pass through; lost concurrency races become
// conflicts; unique violations become business rule errors on entity;
// everything else is a storage failure tagged with op.
func Classify(op, entity, id string, err error) error {
	switch {
	case err == nil:
		return nil
	case shared.IsClassified(err):
		return err
	case IsSerializationFailure(err):
		return shared.Conflict(entity, id)
	case IsUniqueViolation(err):
		return shared.BusinessRule(entity, id, "already exists (%s)", ConstraintName(err))
	case IsCheckViolation(err):
		return shared.BusinessRule(entity, id, "violates constraint %s", ConstraintName(err))
	default:
		return shared.Storage(op, err)
	}
}
