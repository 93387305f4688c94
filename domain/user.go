package domain

type User struct {
	ID        int64  `json:"id" db:"id"`
	Username  string `json:"username" db:"username"`
	Email     string `json:"email" db:"email"`
	Password  string `json:"password,omitempty" db:"password"`
	Role      string `json:"role" db:"role"`
	CreatedAt string `json:"created_at,omitempty" db:"created_at"`
}

// Staff roles. The username of the authenticated staff member is recorded
// as the actor on every stock audit entry.
const (
	RolePharmacist = "pharmacist"
	RoleManager    = "manager"
)
