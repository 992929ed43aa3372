package approval

import (
	"fmt"
	"strings"

	"github.com/pesio-ai/be-proc-requisitions/internal/repository"
)

// Role is a portal role label. Actors may hold several.
type Role string

const (
	RoleUser              Role = "user"
	RoleHOD               Role = "hod"
	RoleTechnicalReviewer Role = "technical_reviewer"
	RoleAdmin             Role = "admin"
	RolePurchasing        Role = "purchasing"
)

var knownRoles = map[Role]bool{
	RoleUser:              true,
	RoleHOD:               true,
	RoleTechnicalReviewer: true,
	RoleAdmin:             true,
	RolePurchasing:        true,
}

// ParseRoles turns a comma separated list into roles, rejecting unknown labels.
func ParseRoles(s string) ([]Role, error) {
	var roles []Role
	for _, part := range strings.Split(s, ",") {
		r := Role(strings.ToLower(strings.TrimSpace(part)))
		if r == "" {
			continue
		}
		if !knownRoles[r] {
			return nil, fmt.Errorf("unknown role %q", r)
		}
		roles = append(roles, r)
	}
	return roles, nil
}

// Actor is the authenticated party attempting an operation.
type Actor struct {
	ID          string
	Roles       []Role
	Departments []string
}

// Has reports whether the actor holds role r exactly.
func (a Actor) Has(r Role) bool {
	for _, have := range a.Roles {
		if have == r {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the actor holds the admin role.
func (a Actor) IsAdmin() bool { return a.Has(RoleAdmin) }

// InDepartment reports whether the actor belongs to department d.
func (a Actor) InDepartment(d string) bool {
	for _, have := range a.Departments {
		if strings.EqualFold(have, d) {
			return true
		}
	}
	return false
}

// stageRole returns the role responsible for items in status s.
func stageRole(s repository.Status) (Role, bool) {
	switch s {
	case repository.StatusPending:
		return RoleHOD, true
	case repository.StatusPendingTR:
		return RoleTechnicalReviewer, true
	}
	return "", false
}

// actingRole returns the role under which the actor may act on an item in
// status s. Admin stands in for either stage role.
func (a Actor) actingRole(s repository.Status) (Role, bool) {
	role, ok := stageRole(s)
	if !ok {
		return "", false
	}
	if a.Has(role) {
		return role, true
	}
	if a.IsAdmin() {
		return RoleAdmin, true
	}
	return "", false
}

// Validate checks the actor carries an identity and at least one known role.
func (a Actor) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("actor id is required")
	}
	if len(a.Roles) == 0 {
		return fmt.Errorf("actor must hold at least one role")
	}
	for _, r := range a.Roles {
		if !knownRoles[r] {
			return fmt.Errorf("unknown role %q", r)
		}
	}
	return nil
}
