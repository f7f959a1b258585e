package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// UserID is the backend's user identifier. The backend emits it as a JSON
// number; it is kept as a string so callers never do arithmetic on it.
type UserID string

// UnmarshalJSON accepts both JSON numbers and strings.
func (id *UserID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = UserID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("user id: %w", err)
	}
	*id = UserID(n.String())
	return nil
}

// User is the profile record returned by the backend for the signed-in
// visitor. It is replaced wholesale on login and session initialization.
type User struct {
	ID          UserID `json:"id"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Role        string `json:"role"`
	CompanyName string `json:"company_name,omitempty"`
}

// IsWholesale reports whether the user belongs to a wholesale tier.
func (u *User) IsWholesale() bool {
	return u != nil && IsWholesale(u.Role)
}
