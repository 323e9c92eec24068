package user

import "time"

type Role string

const (
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

// User is a shop operator allowed into the admin API.
type User struct {
	ID        uint
	Email     string
	Password  string
	Role      Role
	CreatedAt time.Time
}
