package profile

import (
	"strings"

	"github.com/MrEthical07/portalAuth/permission"
)

// Normalize returns a copy of p that downstream readers can render without nil
// checks: the role is valid, the payload matches the role, officer capabilities
// reflect the role mask, skills are de-duplicated, and the display name is set.
func Normalize(p *Profile) *Profile {
	if p == nil {
		return nil
	}
	out := p.Clone()

	if !out.Role.Valid() {
		if out.Details != nil && out.Details.Role().Valid() {
			out.Role = out.Details.Role()
		} else {
			out.Role = DefaultRole
		}
	}
	if out.Details == nil || out.Details.Role() != out.Role {
		out.Details = seedDetails(out.Role)
	}
	if off, ok := out.Details.(*OfficerDetails); ok && off.Organization.Department == "" {
		off.Organization.Department = DefaultDepartment
	}

	out.Email = NormalizeEmail(out.Email)
	if strings.TrimSpace(out.DisplayName) == "" {
		out.DisplayName = DisplayNameFromEmail(out.Email)
	}
	out.Skills = dedupeSkills(out.Skills)
	applyCapabilities(out)

	return out
}

// dedupeSkills trims entries, drops empties, and keeps the first occurrence of each
// skill compared case-insensitively. Order is preserved.
func dedupeSkills(skills []string) []string {
	out := make([]string, 0, len(skills))
	seen := make(map[string]struct{}, len(skills))
	for _, s := range skills {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		key := strings.ToLower(s)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}

func applyCapabilities(p *Profile) {
	off, ok := p.Details.(*OfficerDetails)
	if !ok {
		return
	}
	off.Capabilities = CapabilitiesFor(p.Role)
}

// CapabilitiesFor reports the capability bundle of role from the default role masks.
func CapabilitiesFor(role Role) Capabilities {
	rm, err := permission.Default()
	if err != nil {
		return Capabilities{}
	}
	name := string(role)
	return Capabilities{
		StudentRecords:    rm.Has(name, permission.StudentRecords),
		EmployeeRecords:   rm.Has(name, permission.EmployeeRecords),
		PostOpportunities: rm.Has(name, permission.PostOpportunities),
		RunHackathons:     rm.Has(name, permission.RunHackathons),
		ViewAnalytics:     rm.Has(name, permission.ViewAnalytics),
	}
}
