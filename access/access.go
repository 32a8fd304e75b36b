// Package access holds the authorization policy for every record
// lifecycle: who may create, read, update, soft-delete and change the
// status of donor registrations, payments, users and catalog services.
package access

import (
	"fmt"
	"strings"

	"github.com/jmcleod/donorhub/internal/derrors"
)

// Role is a user's authorization role.
type Role string

const (
	RoleAdmin      Role = "ADMIN"
	RoleUser       Role = "USER"
	RoleSupervisor Role = "SUPERVISOR"
	RoleModerator  Role = "MODERATOR"
)

// Roles lists every valid role.
var Roles = []Role{RoleAdmin, RoleUser, RoleSupervisor, RoleModerator}

// ParseRole accepts a role name in any case.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	switch r {
	case RoleAdmin, RoleUser, RoleSupervisor, RoleModerator:
		return r, nil
	}
	return "", derrors.Validation("invalid role %q", s)
}

// Resource names a kind of governed record.
type Resource string

const (
	ResourceDonorRegistration Resource = "DonorRegistration"
	ResourcePayment           Resource = "Payment"
	ResourceUser              Resource = "User"
	ResourceService           Resource = "Service"
)

// Operation is an action on a resource.
type Operation string

const (
	OpCreate     Operation = "create"
	OpRead       Operation = "read"
	OpUpdate     Operation = "update"
	OpSoftDelete Operation = "soft_delete"
	OpReject     Operation = "reject"
	OpSetStatus  Operation = "set_status"
	OpList       Operation = "list"
)

// Identity is an authenticated caller. The zero value is anonymous.
type Identity struct {
	UserID int64
	Role   Role
}

// Anonymous reports whether id carries no authenticated user.
func (id Identity) Anonymous() bool { return id.UserID == 0 || id.Role == "" }

// IsAdmin reports whether id holds the ADMIN role.
func (id Identity) IsAdmin() bool { return id.Role == RoleAdmin }

type rule int

const (
	authenticated rule = iota
	ownerOnly
	adminOnly
)

// adminOnlyOps lists the operations reserved for administrators. Any
// operation not listed is owner-scoped, except OpCreate which only needs
// an authenticated caller.
var adminOnlyOps = map[Resource]map[Operation]bool{
	ResourceDonorRegistration: {OpReject: true},
	ResourcePayment:           {OpSetStatus: true, OpSoftDelete: true},
	ResourceUser:              {OpList: true, OpSetStatus: true},
	ResourceService:           {OpCreate: true, OpUpdate: true, OpSoftDelete: true, OpSetStatus: true},
}

func ruleFor(res Resource, op Operation) rule {
	if adminOnlyOps[res][op] {
		return adminOnly
	}
	if op == OpCreate {
		return authenticated
	}
	return ownerOnly
}

// CanAccess reports whether actor may perform op on a record of res owned
// by ownerID. It has no side effects.
func CanAccess(actor Identity, res Resource, ownerID int64, op Operation) bool {
	if actor.Anonymous() {
		return false
	}
	switch actor.Role {
	case RoleAdmin:
		return true
	case RoleUser, RoleSupervisor, RoleModerator:
		switch ruleFor(res, op) {
		case authenticated:
			return true
		case ownerOnly:
			return ownerID != 0 && ownerID == actor.UserID
		case adminOnly:
			return false
		}
	}
	return false
}

// Authorize is CanAccess as an error: Unauthorized for anonymous callers,
// Forbidden when the policy denies the operation.
func Authorize(actor Identity, res Resource, ownerID int64, op Operation) error {
	if actor.Anonymous() {
		return derrors.Unauthorized("authentication required")
	}
	if !CanAccess(actor, res, ownerID, op) {
		return derrors.Forbidden("not permitted to %s %s", strings.ReplaceAll(string(op), "_", " "), res)
	}
	return nil
}

// RequireAdmin returns Forbidden unless actor is an administrator.
func RequireAdmin(actor Identity, what string) error {
	if actor.Anonymous() {
		return derrors.Unauthorized("authentication required")
	}
	if !actor.IsAdmin() {
		return derrors.Forbidden("%s requires the %s role", what, RoleAdmin)
	}
	return nil
}

func (id Identity) String() string {
	if id.Anonymous() {
		return "anonymous"
	}
	return fmt.Sprintf("%s#%d", id.Role, id.UserID)
}
