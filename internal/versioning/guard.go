// Package versioning implements optimistic concurrency and soft deletion for
// every mutable entity. All statements are conditional on the version the
// caller last read; a write that matches no row never overwrites silently.
package versioning

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/forgeline/forgeline/internal/shared"
)

var identifier = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Table names a versioned table and the entity label used in errors.
type Table struct {
	Name   string
	Entity string
}

// Assignment is one column = value pair of a versioned update.
type Assignment struct {
	Column string
	Value  any
}

// Set is shorthand for an Assignment.
func Set(column string, value any) Assignment {
	return Assignment{Column: column, Value: value}
}

// State is the concurrency-relevant part of a row.
type State struct {
	Version int64
	Deleted bool
}

// ErrNoAssignments is returned by Update without any column to change.
var ErrNoAssignments = errors.New("versioning: no columns to update")

// Update applies sets to the live row id when its version equals expected,
// bumping the version. It returns the new version.
func Update(ctx context.Context, db shared.DBTX, t Table, id, expected int64, sets ...Assignment) (int64, error) {
	query, args, err := buildUpdate(t, id, expected, sets)
	if err != nil {
		return 0, err
	}
	var version int64
	err = db.QueryRow(ctx, query, args...).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, resolveMiss(ctx, db, t, id, expected, false)
	}
	if err != nil {
		return 0, err
	}
	return version, nil
}

// SoftDelete tombstones the live row id at the given time.
func SoftDelete(ctx context.Context, db shared.DBTX, t Table, id, expected int64, at time.Time) (int64, error) {
	query := fmt.Sprintf(`UPDATE %s SET deleted_at = $1, version = version + 1, updated_at = NOW() WHERE id = $2 AND version = $3 AND deleted_at IS NULL RETURNING version`, t.Name)
	var version int64
	err := db.QueryRow(ctx, query, at, id, expected).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, resolveMiss(ctx, db, t, id, expected, false)
	}
	if err != nil {
		return 0, err
	}
	return version, nil
}

// Restore clears the tombstone of a soft-deleted row.
func Restore(ctx context.Context, db shared.DBTX, t Table, id, expected int64) (int64, error) {
	query := fmt.Sprintf(`UPDATE %s SET deleted_at = NULL, version = version + 1, updated_at = NOW() WHERE id = $1 AND version = $2 AND deleted_at IS NOT NULL RETURNING version`, t.Name)
	var version int64
	err := db.QueryRow(ctx, query, id, expected).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, resolveMiss(ctx, db, t, id, expected, true)
	}
	if err != nil {
		return 0, err
	}
	return version, nil
}

// Lock takes a row lock on id and returns its state. mode is "UPDATE" or
// "SHARE".
func Lock(ctx context.Context, db shared.DBTX, t Table, id int64, mode string) (State, error) {
	if mode != "UPDATE" && mode != "SHARE" {
		return State{}, fmt.Errorf("versioning: unsupported lock mode %q", mode)
	}
	query := fmt.Sprintf(`SELECT version, deleted_at IS NOT NULL FROM %s WHERE id = $1 FOR %s`, t.Name, mode)
	var st State
	err := db.QueryRow(ctx, query, id).Scan(&st.Version, &st.Deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return State{}, shared.NotFound(t.Entity, strconv.FormatInt(id, 10))
	}
	if err != nil {
		return State{}, err
	}
	return st, nil
}

// Expect checks a locked live row against the caller's version.
func Expect(t Table, id int64, st State, expected int64) error {
	if st.Deleted {
		return shared.NotFound(t.Entity, strconv.FormatInt(id, 10))
	}
	if st.Version != expected {
		return shared.Conflict(t.Entity, strconv.FormatInt(id, 10))
	}
	return nil
}

func buildUpdate(t Table, id, expected int64, sets []Assignment) (string, []any, error) {
	if len(sets) == 0 {
		return "", nil, ErrNoAssignments
	}
	if !identifier.MatchString(t.Name) {
		return "", nil, fmt.Errorf("versioning: invalid table %q", t.Name)
	}
	clauses := make([]string, 0, len(sets)+2)
	args := make([]any, 0, len(sets)+2)
	for _, s := range sets {
		if !identifier.MatchString(s.Column) {
			return "", nil, fmt.Errorf("versioning: invalid column %q", s.Column)
		}
		switch s.Column {
		case "id", "version", "deleted_at", "updated_at":
			return "", nil, fmt.Errorf("versioning: column %q is managed by the guard", s.Column)
		}
		args = append(args, s.Value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", s.Column, len(args)))
	}
	clauses = append(clauses, "version = version + 1", "updated_at = NOW()")
	args = append(args, id, expected)
	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id = $%d AND version = $%d AND deleted_at IS NULL RETURNING version`,
		t.Name, strings.Join(clauses, ", "), len(args)-1, len(args))
	return query, args, nil
}

// resolveMiss explains why a conditional statement matched no row.
func resolveMiss(ctx context.Context, db shared.DBTX, t Table, id, expected int64, wantDeleted bool) error {
	ref := strconv.FormatInt(id, 10)
	var st State
	query := fmt.Sprintf(`SELECT version, deleted_at IS NOT NULL FROM %s WHERE id = $1`, t.Name)
	err := db.QueryRow(ctx, query, id).Scan(&st.Version, &st.Deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.NotFound(t.Entity, ref)
	}
	if err != nil {
		return err
	}
	if st.Deleted && !wantDeleted {
		return shared.NotFound(t.Entity, ref)
	}
	if st.Version != expected {
		return shared.Conflict(t.Entity, ref)
	}
	if !st.Deleted && wantDeleted {
		return shared.BusinessRule(t.Entity, ref, "is not deleted")
	}
	// Same version and state: the row changed and changed back under us.
	return shared.Conflict(t.Entity, ref)
}
