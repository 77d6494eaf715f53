package models

import "go.mongodb.org/mongo-driver/bson/primitive"

// Role is the actor kind a user acts as.
type Role string

const (
	RoleManufacturer Role = "Manufacturer"
	RoleDistributor  Role = "Distributor"
	RolePharmacy     Role = "Pharmacy"
	RoleFDA          Role = "FDA"
	RolePatient      Role = "Patient"
)

// Roles lists every known role.
var Roles = []Role{RoleManufacturer, RoleDistributor, RolePharmacy, RoleFDA, RolePatient}

// ParseRole returns the Role named by s.
func ParseRole(s string) (Role, bool) {
	for _, r := range Roles {
		if string(r) == s {
			return r, true
		}
	}
	return "", false
}

// UserStatusActive is the status of accounts allowed to sign in.
const UserStatusActive = "active"

// User struct matches the document in MongoDB
type User struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Email    string             `bson:"email" json:"email"`
	Name     string             `bson:"name" json:"name"`
	Password string             `bson:"password" json:"-"`
	Role     Role               `bson:"role" json:"role"`
	Status   string             `bson:"status" json:"status"`
}

// Active reports whether the account may sign in. Profiles created before
// statuses existed have none and count as active.
func (u User) Active() bool {
	return u.Status == "" || u.Status == UserStatusActive
}
