package model

// Role is a server-wide access level. Every user holds exactly one.
type Role string

const (
	RoleAdmin        Role = "server:admin"
	RoleUser         Role = "server:user"
	RoleGuest        Role = "server:guest"
	RoleArchivedUser Role = "server:archived-user"
)

// Roles lists every server role, highest privilege first.
var Roles = []Role{RoleAdmin, RoleUser, RoleGuest, RoleArchivedUser}

func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleUser, RoleGuest, RoleArchivedUser:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }
