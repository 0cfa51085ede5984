package users

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forgeline/forgeline/internal/platform/db"
	"github.com/forgeline/forgeline/internal/shared"
	"github.com/forgeline/forgeline/internal/versioning"
)

var usersTable = versioning.Table{Name: "users", Entity: "user"}

// TxRepository is the transaction-bound store used by Service.
type TxRepository interface {
	Get(ctx context.Context, id int64, includeDeleted bool) (User, error)
	Insert(ctx context.Context, in CreateInput) (User, error)
	UpdateProfile(ctx context.Context, in UpdateProfileInput) (int64, error)
	SetValidated(ctx context.Context, in SetValidatedInput) (int64, error)
	SoftDelete(ctx context.Context, ref VersionedRef, at time.Time) (int64, error)
	Restore(ctx context.Context, ref VersionedRef) (int64, error)
	RecordAudit(ctx context.Context, log shared.AuditLog) error
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool  *pgxpool.Pool
	audit *shared.AuditLogger
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, audit: shared.NewAuditLogger()}
}

// WithTx executes fn inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{db: tx, audit: r.audit})
	})
}

// Get returns a live user.
func (r *Repository) Get(ctx context.Context, id int64) (User, error) {
	return getUser(ctx, r.pool, id, false)
}

type txRepo struct {
	db    shared.DBTX
	audit *shared.AuditLogger
}

const userColumns = `id, email, name, user_type, role, validated, version, deleted_at, created_at, updated_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Type, &u.Role, &u.Validated, &u.Version, &u.DeletedAt, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func getUser(ctx context.Context, q shared.DBTX, id int64, includeDeleted bool) (User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	u, err := scanUser(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, shared.NotFound("user", strconv.FormatInt(id, 10))
	}
	return u, err
}

func (t *txRepo) Get(ctx context.Context, id int64, includeDeleted bool) (User, error) {
	return getUser(ctx, t.db, id, includeDeleted)
}

func (t *txRepo) Insert(ctx context.Context, in CreateInput) (User, error) {
	return scanUser(t.db.QueryRow(ctx, `
		INSERT INTO users (email, name, user_type, role, validated, version)
		VALUES ($1, $2, $3, $4, FALSE, 1)
		RETURNING `+userColumns, in.Email, in.Name, in.Type, in.Role))
}

func (t *txRepo) UpdateProfile(ctx context.Context, in UpdateProfileInput) (int64, error) {
	return versioning.Update(ctx, t.db, usersTable, in.ID, in.Version,
		versioning.Set("name", in.Name),
		versioning.Set("user_type", in.Type),
		versioning.Set("role", in.Role))
}

func (t *txRepo) SetValidated(ctx context.Context, in SetValidatedInput) (int64, error) {
	return versioning.Update(ctx, t.db, usersTable, in.ID, in.Version, versioning.Set("validated", in.Validated))
}

func (t *txRepo) SoftDelete(ctx context.Context, ref VersionedRef, at time.Time) (int64, error) {
	return versioning.SoftDelete(ctx, t.db, usersTable, ref.ID, ref.Version, at)
}

func (t *txRepo) Restore(ctx context.Context, ref VersionedRef) (int64, error) {
	return versioning.Restore(ctx, t.db, usersTable, ref.ID, ref.Version)
}

func (t *txRepo) RecordAudit(ctx context.Context, log shared.AuditLog) error {
	return t.audit.Record(ctx, t.db, log)
}
