package models

import (
	"testing"
)

func TestIsValidRole(t *testing.T) {
	tests := []struct {
		name     string
		role     Role
		expected bool
	}{
		{"admin role", RoleAdmin, true},
		{"manager role", RoleManager, true},
		{"technician role", RoleTechnician, true},
		{"viewer role", RoleViewer, true},
		{"invalid role", "operator", false},
		{"empty role", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsValidRole(tt.role)
			if result != tt.expected {
				t.Errorf("IsValidRole(%s) = %v, want %v", tt.role, result, tt.expected)
			}
		})
	}
}

func TestUser_HasPermission(t *testing.T) {
	admin := &User{Role: RoleAdmin}
	manager := &User{Role: RoleManager}
	technician := &User{Role: RoleTechnician}
	viewer := &User{Role: RoleViewer}
	unknown := &User{Role: "contractor"}

	tests := []struct {
		name     string
		user     *User
		action   string
		expected bool
	}{
		// Admin permissions - should have all permissions
		{"admin can run service check", admin, ActionRunServiceCheck, true},
		{"admin can review amendment", admin, ActionReviewAmendment, true},

		// Manager reviews but does not trigger fleet-wide checks
		{"manager can review amendment", manager, ActionReviewAmendment, true},
		{"manager can decide upgrade", manager, ActionDecideUpgrade, true},
		{"manager cannot run service check", manager, ActionRunServiceCheck, false},
		{"manager can manage fleet", manager, ActionManageFleet, true},

		// Technician works on the floor
		{"technician can submit reading", technician, ActionSubmitReading, true},
		{"technician can request amendment", technician, ActionRequestAmendment, true},
		{"technician can decide upgrade", technician, ActionDecideUpgrade, true},
		{"technician cannot review amendment", technician, ActionReviewAmendment, false},
		{"technician cannot run service check", technician, ActionRunServiceCheck, false},
		{"technician cannot manage fleet", technician, ActionManageFleet, false},

		// Viewer permissions - read-only access
		{"viewer can view fleet", viewer, ActionViewFleet, true},
		{"viewer cannot submit reading", viewer, ActionSubmitReading, false},
		{"viewer cannot review amendment", viewer, ActionReviewAmendment, false},

		{"unknown role has nothing", unknown, ActionViewFleet, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.user.HasPermission(tt.action)
			if result != tt.expected {
				t.Errorf("User with role %s HasPermission(%s) = %v, want %v",
					tt.user.Role, tt.action, result, tt.expected)
			}
		})
	}
}
