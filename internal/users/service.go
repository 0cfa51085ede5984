package users

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/forgeline/forgeline/internal/platform/db"
	"github.com/forgeline/forgeline/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (User, error)
}

// Service handles user business logic. Every mutation is version-checked and
// audited in the same transaction.
type Service struct {
	repo   RepositoryPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// Get returns a live user. Customers may only read themselves.
func (s *Service) Get(ctx context.Context, actor shared.Actor, id int64) (User, error) {
	if !actor.IsBackOffice() && actor.UserID != id {
		return User{}, shared.Forbidden("customers may only read their own account")
	}
	u, err := s.repo.Get(ctx, id)
	if err != nil {
		return User{}, s.fail("get user", id, err)
	}
	return u, nil
}

// Create registers a new, not yet validated account.
func (s *Service) Create(ctx context.Context, actor shared.Actor, in CreateInput) (User, error) {
	if actor.Role != shared.RoleAdmin {
		return User{}, shared.Forbidden("only admins may create accounts")
	}
	if err := shared.ValidateStruct(in); err != nil {
		return User{}, err
	}
	var created User
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		u, err := tx.Insert(ctx, in)
		if err != nil {
			return err
		}
		created = u
		return tx.RecordAudit(ctx, s.audit(actor, "user.create", u.ID, map[string]any{
			"email": in.Email, "type": in.Type, "role": in.Role,
		}))
	})
	if err != nil {
		return User{}, s.fail("create user", 0, err)
	}
	return created, nil
}

// UpdateProfile changes name, pricing tier and role. Only admins may change
// roles.
func (s *Service) UpdateProfile(ctx context.Context, actor shared.Actor, in UpdateProfileInput) (User, error) {
	if !actor.IsBackOffice() {
		return User{}, shared.Forbidden("profile changes require staff or admin")
	}
	if err := shared.ValidateStruct(in); err != nil {
		return User{}, err
	}
	return s.mutate(ctx, "update user", in.ID, func(ctx context.Context, tx TxRepository) (shared.AuditLog, error) {
		current, err := tx.Get(ctx, in.ID, false)
		if err != nil {
			return shared.AuditLog{}, err
		}
		if current.Role != in.Role && actor.Role != shared.RoleAdmin {
			return shared.AuditLog{}, shared.Forbidden("only admins may change roles")
		}
		version, err := tx.UpdateProfile(ctx, in)
		if err != nil {
			return shared.AuditLog{}, err
		}
		return s.audit(actor, "user.update", in.ID, map[string]any{
			"from_version": in.Version, "to_version": version,
			"type": in.Type, "role": in.Role,
		}), nil
	})
}

// SetValidated opens or closes the ordering gate of a user.
func (s *Service) SetValidated(ctx context.Context, actor shared.Actor, in SetValidatedInput) (User, error) {
	if !actor.IsBackOffice() {
		return User{}, shared.Forbidden("validation requires staff or admin")
	}
	if err := shared.ValidateStruct(in); err != nil {
		return User{}, err
	}
	return s.mutate(ctx, "validate user", in.ID, func(ctx context.Context, tx TxRepository) (shared.AuditLog, error) {
		version, err := tx.SetValidated(ctx, in)
		if err != nil {
			return shared.AuditLog{}, err
		}
		return s.audit(actor, "user.validate", in.ID, map[string]any{
			"validated": in.Validated, "to_version": version,
		}), nil
	})
}

// Delete soft-deletes a user.
func (s *Service) Delete(ctx context.Context, actor shared.Actor, ref VersionedRef) (User, error) {
	if actor.Role != shared.RoleAdmin {
		return User{}, shared.Forbidden("only admins may delete accounts")
	}
	if err := shared.ValidateStruct(ref); err != nil {
		return User{}, err
	}
	if actor.UserID == ref.ID {
		return User{}, shared.BusinessRule("user", strconv.FormatInt(ref.ID, 10), "cannot delete own account")
	}
	return s.mutate(ctx, "delete user", ref.ID, func(ctx context.Context, tx TxRepository) (shared.AuditLog, error) {
		version, err := tx.SoftDelete(ctx, ref, s.now())
		if err != nil {
			return shared.AuditLog{}, err
		}
		return s.audit(actor, "user.delete", ref.ID, map[string]any{"to_version": version}), nil
	})
}

// Restore clears the tombstone of a deleted user.
func (s *Service) Restore(ctx context.Context, actor shared.Actor, ref VersionedRef) (User, error) {
	if actor.Role != shared.RoleAdmin {
		return User{}, shared.Forbidden("only admins may restore accounts")
	}
	if err := shared.ValidateStruct(ref); err != nil {
		return User{}, err
	}
	return s.mutate(ctx, "restore user", ref.ID, func(ctx context.Context, tx TxRepository) (shared.AuditLog, error) {
		version, err := tx.Restore(ctx, ref)
		if err != nil {
			return shared.AuditLog{}, err
		}
		return s.audit(actor, "user.restore", ref.ID, map[string]any{"to_version": version}), nil
	})
}

// mutate runs fn, records its audit entry and reloads the user, all inside
// one transaction.
func (s *Service) mutate(ctx context.Context, op string, id int64, fn func(context.Context, TxRepository) (shared.AuditLog, error)) (User, error) {
	var out User
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := fn(ctx, tx)
		if err != nil {
			return err
		}
		if err := tx.RecordAudit(ctx, entry); err != nil {
			return err
		}
		out, err = tx.Get(ctx, id, true)
		return err
	})
	if err != nil {
		return User{}, s.fail(op, id, err)
	}
	return out, nil
}

func (s *Service) audit(actor shared.Actor, action string, id int64, meta map[string]any) shared.AuditLog {
	return shared.AuditLog{
		ActorID:  actor.UserID,
		Action:   action,
		Entity:   "user",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
		At:       s.now(),
	}
}

func (s *Service) fail(op string, id int64, err error) error {
	err = db.Classify(op, "user", strconv.FormatInt(id, 10), err)
	if shared.KindOf(err) == shared.KindStorage {
		s.logger.Error(op+" failed", slog.Int64("user_id", id), slog.Any("error", err))
	}
	return err
}
