package enums

import "fmt"

// ConnectionRole classifies a live dashboard connection.
type ConnectionRole string

const (
	ConnectionRoleAdmin  ConnectionRole = "admin"
	ConnectionRoleWorker ConnectionRole = "worker"
	ConnectionRolePublic ConnectionRole = "public"
)

var validConnectionRoles = []ConnectionRole{
	ConnectionRoleAdmin,
	ConnectionRoleWorker,
	ConnectionRolePublic,
}

// String implements fmt.Stringer.
func (r ConnectionRole) String() string {
	return string(r)
}

// IsValid reports whether the value is a known ConnectionRole.
func (r ConnectionRole) IsValid() bool {
	for _, candidate := range validConnectionRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseConnectionRole converts raw input into a ConnectionRole.
func ParseConnectionRole(value string) (ConnectionRole, error) {
	for _, candidate := range validConnectionRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid connection role %q", value)
}
