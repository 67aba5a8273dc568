package types

// Role is the role claimed by an authenticated user
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleFarmer Role = "farmer"
	RoleAdmin  Role = "admin"
)

// Identity is the authenticated caller as provided by the authentication layer
type Identity struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Validate checks that the identity carries a user id
func (i Identity) Validate() error {
	if i.ID == "" {
		return ErrMissingIdentity
	}
	return nil
}
