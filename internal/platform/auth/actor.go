package auth

import (
	"context"

	"github.com/google/uuid"

	"github.com/odontoclinic/clinic/internal/domain/odontology"
)

var rolePriority = map[string]int{
	string(odontology.RoleStudent):   1,
	string(odontology.RoleProfessor): 2,
	string(odontology.RoleAdmin):     3,
}

// ActorFromContext builds the acting user from the authenticated identity.
// When several clinic roles are held the most privileged one wins. A missing
// or non-UUID subject is an authorization error.
func ActorFromContext(ctx context.Context) (odontology.User, error) {
	id, err := uuid.Parse(UserIDFromContext(ctx))
	if err != nil || id == uuid.Nil {
		return odontology.User{}, odontology.Unauthorized("no authenticated user")
	}

	var role odontology.Role
	best := 0
	for _, r := range RolesFromContext(ctx) {
		if p := rolePriority[r]; p > best {
			best, role = p, odontology.Role(r)
		}
	}
	return odontology.User{ID: id, Name: UserNameFromContext(ctx), Role: role}, nil
}
