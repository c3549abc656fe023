package enums

import "fmt"

// ActorRole identifies who is acting on a request.
type ActorRole string

const (
	ActorRoleAdmin  ActorRole = "admin"
	ActorRolePublic ActorRole = "public"
	ActorRoleSystem ActorRole = "system"
)

func (r ActorRole) String() string {
	return string(r)
}

// IsValid reports whether the role is known.
func (r ActorRole) IsValid() bool {
	switch r {
	case ActorRoleAdmin, ActorRolePublic, ActorRoleSystem:
		return true
	}
	return false
}

// ParseActorRole converts raw input into ActorRole.
func ParseActorRole(value string) (ActorRole, error) {
	r := ActorRole(value)
	if !r.IsValid() {
		return "", fmt.Errorf("invalid actor role %q", value)
	}
	return r, nil
}
