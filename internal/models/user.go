package models

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Role represents user roles in the system
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleManager    Role = "manager"
	RoleTechnician Role = "technician"
	RoleViewer     Role = "viewer"
)

// Actions checked by the HTTP layer before calling into the engine.
const (
	ActionSubmitReading    = "submit_reading"
	ActionRequestAmendment = "request_amendment"
	ActionReviewAmendment  = "review_amendment"
	ActionDecideUpgrade    = "decide_upgrade"
	ActionRunServiceCheck  = "run_service_check"
	ActionViewFleet        = "view_fleet"
	ActionManageFleet      = "manage_fleet"
)

// User is the identity a token is issued for. Accounts live in the
// surrounding application.
type User struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Username string             `bson:"username" json:"username"`
	Role     Role               `bson:"role" json:"role"`
}

// Claims represents JWT claims
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
	Exp      int64  `json:"exp"`
}

// IsValidRole checks if a role is valid
func IsValidRole(role Role) bool {
	switch role {
	case RoleAdmin, RoleManager, RoleTechnician, RoleViewer:
		return true
	default:
		return false
	}
}

// HasPermission checks if a user has permission for a specific action
func (u *User) HasPermission(action string) bool {
	switch u.Role {
	case RoleAdmin:
		return true
	case RoleManager:
		return action != ActionRunServiceCheck
	case RoleTechnician:
		return action == ActionSubmitReading || action == ActionRequestAmendment ||
			action == ActionDecideUpgrade || action == ActionViewFleet
	case RoleViewer:
		return action == ActionViewFleet
	default:
		return false
	}
}
