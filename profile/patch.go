package profile

import "time"

// Patch is a partial profile update. A nil field means "not supplied". Role-specific
// fields only apply when the resulting role owns them; Employer applies to both
// employees and officers.
type Patch struct {
	DisplayName *string   `json:"display_name,omitempty"`
	Phone       *string   `json:"phone,omitempty"`
	Role        *Role     `json:"role,omitempty"`
	Skills      *[]string `json:"skills,omitempty"`
	LinkedIn    *string   `json:"linkedin,omitempty"`
	GitHub      *string   `json:"github,omitempty"`
	Portfolio   *string   `json:"portfolio,omitempty"`

	StudentID      *string `json:"student_id,omitempty"`
	Institution    *string `json:"institution,omitempty"`
	Program        *string `json:"program,omitempty"`
	GraduationYear *int    `json:"graduation_year,omitempty"`

	EmployeeID        *string `json:"employee_id,omitempty"`
	Employer          *string `json:"employer,omitempty"`
	JobTitle          *string `json:"job_title,omitempty"`
	YearsOfExperience *int    `json:"years_of_experience,omitempty"`

	OfficerID      *string `json:"officer_id,omitempty"`
	Department     *string `json:"department,omitempty"`
	Designation    *string `json:"designation,omitempty"`
	OfficeLocation *string `json:"office_location,omitempty"`
	Website        *string `json:"website,omitempty"`
}

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T {
	return &v
}

// Merge overlays other on top of p and returns the result. Fields set in other win.
func (p Patch) Merge(other Patch) Patch {
	out := p
	pick(&out.DisplayName, other.DisplayName)
	pick(&out.Phone, other.Phone)
	pick(&out.Role, other.Role)
	pick(&out.Skills, other.Skills)
	pick(&out.LinkedIn, other.LinkedIn)
	pick(&out.GitHub, other.GitHub)
	pick(&out.Portfolio, other.Portfolio)
	pick(&out.StudentID, other.StudentID)
	pick(&out.Institution, other.Institution)
	pick(&out.Program, other.Program)
	pick(&out.GraduationYear, other.GraduationYear)
	pick(&out.EmployeeID, other.EmployeeID)
	pick(&out.Employer, other.Employer)
	pick(&out.JobTitle, other.JobTitle)
	pick(&out.YearsOfExperience, other.YearsOfExperience)
	pick(&out.OfficerID, other.OfficerID)
	pick(&out.Department, other.Department)
	pick(&out.Designation, other.Designation)
	pick(&out.OfficeLocation, other.OfficeLocation)
	pick(&out.Website, other.Website)
	return out
}

func pick[T any](dst **T, src *T) {
	if src != nil {
		*dst = src
	}
}

// Apply merges patch into p and stamps UpdatedAt. A role change re-seeds the payload
// for the new role; common fields survive.
func (p *Profile) Apply(patch Patch, now time.Time) error {
	if patch.Role != nil {
		role := *patch.Role
		if !role.Valid() {
			return ErrInvalidRole
		}
		if role != p.Role || p.Details == nil || p.Details.Role() != role {
			p.Role = role
			p.Details = seedDetails(role)
		}
	}

	set(&p.DisplayName, patch.DisplayName)
	set(&p.Phone, patch.Phone)
	if patch.Skills != nil {
		p.Skills = dedupeSkills(*patch.Skills)
	}
	set(&p.Links.LinkedIn, patch.LinkedIn)
	set(&p.Links.GitHub, patch.GitHub)
	set(&p.Links.Portfolio, patch.Portfolio)

	switch d := p.Details.(type) {
	case *StudentDetails:
		set(&d.StudentID, patch.StudentID)
		set(&d.Institution, patch.Institution)
		set(&d.Program, patch.Program)
		set(&d.GraduationYear, patch.GraduationYear)
	case *EmployeeDetails:
		set(&d.EmployeeID, patch.EmployeeID)
		set(&d.Employer, patch.Employer)
		set(&d.JobTitle, patch.JobTitle)
		set(&d.YearsOfExperience, patch.YearsOfExperience)
	case *OfficerDetails:
		set(&d.OfficerID, patch.OfficerID)
		set(&d.Employer, patch.Employer)
		set(&d.Organization.Department, patch.Department)
		set(&d.Organization.Designation, patch.Designation)
		set(&d.Organization.OfficeLocation, patch.OfficeLocation)
		set(&d.Organization.Website, patch.Website)
	}

	applyCapabilities(p)
	p.UpdatedAt = now
	return nil
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}
