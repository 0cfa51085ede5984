package shared

import "context"

// UserType selects the pricing tier of an actor.
type UserType string

const (
	UserTypeIndividual UserType = "INDIVIDUAL"
	UserTypeBusiness   UserType = "BUSINESS"
)

// Role gates administrative operations.
type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleAdmin    Role = "ADMIN"
	RoleStaff    Role = "STAFF"
)

// Actor is the caller identity supplied by the identity collaborator. The
// engine trusts it and performs no credential checks.
type Actor struct {
	UserID    int64
	Type      UserType
	Role      Role
	Validated bool
}

// IsBackOffice reports whether the actor may run administrative transitions.
func (a Actor) IsBackOffice() bool {
	return a.Role == RoleAdmin || a.Role == RoleStaff
}

// Valid reports whether the actor carries a usable identity.
func (a Actor) Valid() bool {
	if a.UserID <= 0 {
		return false
	}
	switch a.Type {
	case UserTypeIndividual, UserTypeBusiness:
	default:
		return false
	}
	switch a.Role {
	case RoleCustomer, RoleAdmin, RoleStaff:
		return true
	}
	return false
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
