package profile

import (
	"encoding/json"
	"fmt"
	"time"
)

type profileJSON struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Email       string          `json:"email"`
	DisplayName string          `json:"display_name"`
	Phone       string          `json:"phone"`
	Role        Role            `json:"role"`
	Skills      []string        `json:"skills"`
	Links       Links           `json:"links"`
	Details     json.RawMessage `json:"details,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// UnmarshalJSON decodes the role payload according to the decoded role.
func (p *Profile) UnmarshalJSON(data []byte) error {
	var raw profileJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	details, err := DecodeDetails(raw.Role, raw.Details)
	if err != nil {
		return err
	}

	*p = Profile{
		ID:          raw.ID,
		UserID:      raw.UserID,
		Email:       raw.Email,
		DisplayName: raw.DisplayName,
		Phone:       raw.Phone,
		Role:        raw.Role,
		Skills:      raw.Skills,
		Links:       raw.Links,
		Details:     details,
		CreatedAt:   raw.CreatedAt,
		UpdatedAt:   raw.UpdatedAt,
	}
	return nil
}

// DecodeDetails decodes a role payload. Empty data yields nil; an unknown role is an
// error.
func DecodeDetails(role Role, data []byte) (RoleDetails, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}

	var d RoleDetails
	switch role {
	case RoleStudent:
		d = &StudentDetails{}
	case RoleEmployee:
		d = &EmployeeDetails{}
	case RoleTPO:
		d = &OfficerDetails{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if err := json.Unmarshal(data, d); err != nil {
		return nil, err
	}
	return d, nil
}
