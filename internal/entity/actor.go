package entity

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// Actor is the caller identity supplied by the session provider.
type Actor struct {
	ID   int64 `json:"id"`
	Role Role  `json:"role"`
}

func (a *Actor) IsAdmin() bool {
	return a != nil && a.Role == RoleAdmin
}

// SystemActor is used by workers and consumers acting on behalf of the service.
var SystemActor = &Actor{ID: 0, Role: RoleAdmin}
