package permission

import "sync"

// Officer capabilities. The placement-office role carries all of them; students and
// employees carry none.
const (
	StudentRecords    = "students.records"
	EmployeeRecords   = "employees.records"
	PostOpportunities = "opportunities.post"
	RunHackathons     = "hackathons.run"
	ViewAnalytics     = "analytics.view"
)

// Catalog lists every portal capability in registration order.
var Catalog = []string{
	StudentRecords,
	EmployeeRecords,
	PostOpportunities,
	RunHackathons,
	ViewAnalytics,
}

// DefaultRoles is the fixed role to capability bundle used by the portal.
func DefaultRoles() map[string][]string {
	return map[string][]string{
		"student":  {},
		"employee": {},
		"tpo":      append([]string(nil), Catalog...),
	}
}

var (
	defaultOnce    sync.Once
	defaultManager *RoleManager
	defaultErr     error
)

// Default returns the frozen role manager built from [Catalog] and [DefaultRoles].
func Default() (*RoleManager, error) {
	defaultOnce.Do(func() {
		defaultManager, defaultErr = Build(Catalog, DefaultRoles())
	})
	return defaultManager, defaultErr
}

// Build registers perms, composes roles, and freezes both.
func Build(perms []string, roles map[string][]string) (*RoleManager, error) {
	registry := NewRegistry()
	for _, p := range perms {
		if _, err := registry.Register(p); err != nil {
			return nil, err
		}
	}
	registry.Freeze()

	rm := NewRoleManager(registry)
	for name, list := range roles {
		if err := rm.RegisterRole(name, list); err != nil {
			return nil, err
		}
	}
	rm.Freeze()

	return rm, nil
}
