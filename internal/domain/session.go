package domain

import "time"

// Role is the kind of client behind a connection.
type Role string

// List of connection roles
const (
	RoleCourier    Role = "courier"
	RoleRestaurant Role = "restaurant"
	RoleCustomer   Role = "customer"
)

var allowedRoles = [...]Role{RoleCourier, RoleRestaurant, RoleCustomer}

// Valid checks if the Role is one of the known roles.
func (r Role) Valid() bool {
	for _, v := range allowedRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Session is one live connection and the identity behind it.
type Session struct {
	ID          string
	Role        Role
	Identity    string
	ConnectedAt time.Time
	LastSeenAt  time.Time
}

// IsCourier reports whether the session belongs to a courier.
func (s Session) IsCourier() bool { return s.Role == RoleCourier }
