package users

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/forgeline/forgeline/internal/shared"
)

type memoryRepo struct {
	mu     sync.Mutex
	users  map[int64]User
	audits []shared.AuditLog
	nextID int64
}

type memoryTx struct {
	repo   *memoryRepo
	users  map[int64]User
	audits []shared.AuditLog
}

func newMemoryRepo(users ...User) *memoryRepo {
	r := &memoryRepo{users: make(map[int64]User)}
	for _, u := range users {
		r.users[u.ID] = u
		if u.ID > r.nextID {
			r.nextID = u.ID
		}
	}
	return r
}

// WithTx serialises transactions and applies their writes only on success.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &memoryTx{repo: r, users: make(map[int64]User, len(r.users))}
	for id, u := range r.users {
		tx.users[id] = u
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.users = tx.users
	r.audits = append(r.audits, tx.audits...)
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok || u.DeletedAt != nil {
		return User{}, shared.NotFound("user", strconv.FormatInt(id, 10))
	}
	return u, nil
}

func (tx *memoryTx) Get(ctx context.Context, id int64, includeDeleted bool) (User, error) {
	u, ok := tx.users[id]
	if !ok || (!includeDeleted && u.DeletedAt != nil) {
		return User{}, shared.NotFound("user", strconv.FormatInt(id, 10))
	}
	return u, nil
}

func (tx *memoryTx) Insert(ctx context.Context, in CreateInput) (User, error) {
	tx.repo.nextID++
	u := User{ID: tx.repo.nextID, Email: in.Email, Name: in.Name, Type: in.Type, Role: in.Role, Version: 1}
	tx.users[u.ID] = u
	return u, nil
}

func (tx *memoryTx) guard(id, expected int64, wantDeleted bool) (User, error) {
	ref := strconv.FormatInt(id, 10)
	u, ok := tx.users[id]
	switch {
	case !ok:
		return User{}, shared.NotFound("user", ref)
	case !wantDeleted && u.DeletedAt != nil:
		return User{}, shared.NotFound("user", ref)
	case u.Version != expected:
		return User{}, shared.Conflict("user", ref)
	case wantDeleted && u.DeletedAt == nil:
		return User{}, shared.BusinessRule("user", ref, "is not deleted")
	}
	u.Version++
	return u, nil
}

func (tx *memoryTx) UpdateProfile(ctx context.Context, in UpdateProfileInput) (int64, error) {
	u, err := tx.guard(in.ID, in.Version, false)
	if err != nil {
		return 0, err
	}
	u.Name, u.Type, u.Role = in.Name, in.Type, in.Role
	tx.users[u.ID] = u
	return u.Version, nil
}

func (tx *memoryTx) SetValidated(ctx context.Context, in SetValidatedInput) (int64, error) {
	u, err := tx.guard(in.ID, in.Version, false)
	if err != nil {
		return 0, err
	}
	u.Validated = in.Validated
	tx.users[u.ID] = u
	return u.Version, nil
}

func (tx *memoryTx) SoftDelete(ctx context.Context, ref VersionedRef, at time.Time) (int64, error) {
	u, err := tx.guard(ref.ID, ref.Version, false)
	if err != nil {
		return 0, err
	}
	u.DeletedAt = &at
	tx.users[u.ID] = u
	return u.Version, nil
}

func (tx *memoryTx) Restore(ctx context.Context, ref VersionedRef) (int64, error) {
	u, err := tx.guard(ref.ID, ref.Version, true)
	if err != nil {
		return 0, err
	}
	u.DeletedAt = nil
	tx.users[u.ID] = u
	return u.Version, nil
}

func (tx *memoryTx) RecordAudit(ctx context.Context, log shared.AuditLog) error {
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return shared.ErrAuditIncomplete
	}
	tx.audits = append(tx.audits, log)
	return nil
}

var (
	admin    = shared.Actor{UserID: 1, Type: shared.UserTypeBusiness, Role: shared.RoleAdmin, Validated: true}
	staff    = shared.Actor{UserID: 2, Type: shared.UserTypeBusiness, Role: shared.RoleStaff, Validated: true}
	customer = shared.Actor{UserID: 10, Type: shared.UserTypeIndividual, Role: shared.RoleCustomer}
)

func seedCustomer() User {
	return User{ID: 10, Email: "buyer@example.com", Name: "Buyer", Type: shared.UserTypeIndividual, Role: shared.RoleCustomer, Version: 1}
}

func TestConcurrentUpdatesFromSameVersion(t *testing.T) {
	repo := newMemoryRepo(seedCustomer())
	svc := NewService(repo, nil)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for _, tier := range []shared.UserType{shared.UserTypeBusiness, shared.UserTypeIndividual} {
		wg.Add(1)
		go func(tier shared.UserType) {
			defer wg.Done()
			_, err := svc.UpdateProfile(context.Background(), staff, UpdateProfileInput{
				ID: 10, Version: 1, Name: "Buyer Ltd", Type: tier, Role: shared.RoleCustomer,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case shared.KindOf(err) == shared.KindConflict:
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(tier)
	}
	wg.Wait()

	require.Equal(t, 1, successes)
	require.Equal(t, 1, conflicts)
	require.Equal(t, int64(2), repo.users[10].Version)
	require.Len(t, repo.audits, 1)
}

func TestSetValidatedBumpsVersionAndAudits(t *testing.T) {
	repo := newMemoryRepo(seedCustomer())
	svc := NewService(repo, nil)

	u, err := svc.SetValidated(context.Background(), staff, SetValidatedInput{ID: 10, Version: 1, Validated: true})
	require.NoError(t, err)
	require.True(t, u.Validated)
	require.Equal(t, int64(2), u.Version)
	require.Len(t, repo.audits, 1)
	require.Equal(t, "user.validate", repo.audits[0].Action)
	require.Equal(t, int64(2), repo.audits[0].ActorID)

	_, err = svc.SetValidated(context.Background(), staff, SetValidatedInput{ID: 10, Version: 1, Validated: false})
	require.ErrorIs(t, err, shared.ErrConflict)
	require.True(t, repo.users[10].Validated)
}

func TestRoleChangesRequireAdmin(t *testing.T) {
	repo := newMemoryRepo(seedCustomer())
	svc := NewService(repo, nil)
	in := UpdateProfileInput{ID: 10, Version: 1, Name: "Buyer", Type: shared.UserTypeIndividual, Role: shared.RoleStaff}

	_, err := svc.UpdateProfile(context.Background(), staff, in)
	require.ErrorIs(t, err, shared.ErrForbidden)

	_, err = svc.UpdateProfile(context.Background(), customer, in)
	require.ErrorIs(t, err, shared.ErrForbidden)

	u, err := svc.UpdateProfile(context.Background(), admin, in)
	require.NoError(t, err)
	require.Equal(t, shared.RoleStaff, u.Role)
}

func TestSoftDeleteAndRestore(t *testing.T) {
	repo := newMemoryRepo(seedCustomer())
	svc := NewService(repo, nil)
	ctx := context.Background()

	deleted, err := svc.Delete(ctx, admin, VersionedRef{ID: 10, Version: 1})
	require.NoError(t, err)
	require.NotNil(t, deleted.DeletedAt)
	require.Equal(t, int64(2), deleted.Version)

	_, err = svc.Get(ctx, admin, 10)
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.SetValidated(ctx, staff, SetValidatedInput{ID: 10, Version: 2, Validated: true})
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.Restore(ctx, admin, VersionedRef{ID: 10, Version: 1})
	require.ErrorIs(t, err, shared.ErrConflict)

	restored, err := svc.Restore(ctx, admin, VersionedRef{ID: 10, Version: 2})
	require.NoError(t, err)
	require.Nil(t, restored.DeletedAt)
	require.Equal(t, int64(3), restored.Version)

	_, err = svc.Restore(ctx, admin, VersionedRef{ID: 10, Version: 3})
	require.ErrorIs(t, err, shared.ErrBusinessRule)

	_, err = svc.Delete(ctx, admin, VersionedRef{ID: 1, Version: 1})
	require.ErrorIs(t, err, shared.ErrBusinessRule)
}

func TestCustomerReadsOnlySelf(t *testing.T) {
	repo := newMemoryRepo(seedCustomer(), User{ID: 11, Email: "other@example.com", Version: 1})
	svc := NewService(repo, nil)

	u, err := svc.Get(context.Background(), customer, 10)
	require.NoError(t, err)
	require.Equal(t, "buyer@example.com", u.Email)

	_, err = svc.Get(context.Background(), customer, 11)
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestCreateValidatesInput(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)

	_, err := svc.Create(context.Background(), admin, CreateInput{Email: "nope", Name: "X", Type: shared.UserTypeBusiness, Role: shared.RoleCustomer})
	require.ErrorIs(t, err, shared.ErrValidation)

	u, err := svc.Create(context.Background(), admin, CreateInput{Email: "new@example.com", Name: "New", Type: shared.UserTypeBusiness, Role: shared.RoleCustomer})
	require.NoError(t, err)
	require.False(t, u.Validated)
	require.Equal(t, int64(1), u.Version)
	require.Len(t, repo.audits, 1)
}
