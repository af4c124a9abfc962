package profile

import (
	"time"
)

// Links holds optional professional URLs. Empty means absent.
type Links struct {
	LinkedIn  string `json:"linkedin,omitempty"`
	GitHub    string `json:"github,omitempty"`
	Portfolio string `json:"portfolio,omitempty"`
}

// Capabilities are the administrative flags of the placement-office role. They are
// derived from the role's permission mask and never edited directly.
type Capabilities struct {
	StudentRecords    bool `json:"student_records"`
	EmployeeRecords   bool `json:"employee_records"`
	PostOpportunities bool `json:"post_opportunities"`
	RunHackathons     bool `json:"run_hackathons"`
	ViewAnalytics     bool `json:"view_analytics"`
}

// OrgMetadata describes the placement office an officer belongs to.
type OrgMetadata struct {
	Department     string `json:"department"`
	Designation    string `json:"designation"`
	OfficeLocation string `json:"office_location"`
	Website        string `json:"website,omitempty"`
}

// DefaultDepartment is the organization department seeded for officer profiles.
const DefaultDepartment = "Training & Placement"

// RoleDetails is the role-specific payload of a [Profile]. The set of
// implementations is closed: [*StudentDetails], [*EmployeeDetails], [*OfficerDetails].
type RoleDetails interface {
	Role() Role
	clone() RoleDetails
}

type StudentDetails struct {
	StudentID      string `json:"student_id"`
	Institution    string `json:"institution"`
	Program        string `json:"program"`
	GraduationYear int    `json:"graduation_year"`
}

func (*StudentDetails) Role() Role { return RoleStudent }

func (d *StudentDetails) clone() RoleDetails {
	out := *d
	return &out
}

type EmployeeDetails struct {
	EmployeeID        string `json:"employee_id"`
	Employer          string `json:"employer"`
	JobTitle          string `json:"job_title"`
	YearsOfExperience int    `json:"years_of_experience"`
}

func (*EmployeeDetails) Role() Role { return RoleEmployee }

func (d *EmployeeDetails) clone() RoleDetails {
	out := *d
	return &out
}

type OfficerDetails struct {
	OfficerID    string       `json:"officer_id"`
	Employer     string       `json:"employer"`
	Capabilities Capabilities `json:"capabilities"`
	Organization OrgMetadata  `json:"organization"`
}

func (*OfficerDetails) Role() Role { return RoleTPO }

func (d *OfficerDetails) clone() RoleDetails {
	out := *d
	return &out
}

// Profile is the authoritative application record for one identity.
type Profile struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id"`
	Email       string      `json:"email"`
	DisplayName string      `json:"display_name"`
	Phone       string      `json:"phone"`
	Role        Role        `json:"role"`
	Skills      []string    `json:"skills"`
	Links       Links       `json:"links"`
	Details     RoleDetails `json:"details"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// New seeds a profile for userID with role defaults and both timestamps set to now.
// An invalid role falls back to [DefaultRole].
func New(userID, email string, role Role, now time.Time) *Profile {
	if !role.Valid() {
		role = DefaultRole
	}
	p := &Profile{
		UserID:      userID,
		Email:       NormalizeEmail(email),
		DisplayName: DisplayNameFromEmail(email),
		Role:        role,
		Skills:      []string{},
		Details:     seedDetails(role),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	applyCapabilities(p)
	return p
}

func seedDetails(role Role) RoleDetails {
	switch role {
	case RoleEmployee:
		return &EmployeeDetails{}
	case RoleTPO:
		return &OfficerDetails{
			Organization: OrgMetadata{Department: DefaultDepartment},
		}
	default:
		return &StudentDetails{}
	}
}

// Student returns the student payload when the profile is a student.
func (p *Profile) Student() (*StudentDetails, bool) {
	if p == nil {
		return nil, false
	}
	d, ok := p.Details.(*StudentDetails)
	return d, ok
}

// Employee returns the employee payload when the profile is an employee.
func (p *Profile) Employee() (*EmployeeDetails, bool) {
	if p == nil {
		return nil, false
	}
	d, ok := p.Details.(*EmployeeDetails)
	return d, ok
}

// Officer returns the placement-office payload when the profile is a tpo.
func (p *Profile) Officer() (*OfficerDetails, bool) {
	if p == nil {
		return nil, false
	}
	d, ok := p.Details.(*OfficerDetails)
	return d, ok
}

// Clone returns a deep copy. Snapshots handed to readers are always clones.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	out := *p
	out.Skills = append([]string(nil), p.Skills...)
	if p.Details != nil {
		out.Details = p.Details.clone()
	}
	return &out
}
