package protocol

// Role identifies a user's position in the care ecosystem. Roles gate both
// REST authorization and role-targeted notification fan-out.
type Role string

// Role constants.
const (
	RolePatient       Role = "patient"
	RoleHospitalStaff Role = "hospital_staff"
	RolePharmacyStaff Role = "pharmacy_staff"
	RoleAdmin         Role = "admin"
)

// KnownRoles lists every valid role.
var KnownRoles = []Role{RolePatient, RoleHospitalStaff, RolePharmacyStaff, RoleAdmin}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleHospitalStaff, RolePharmacyStaff, RoleAdmin:
		return true
	}
	return false
}

// Staff reports whether r is a staff-level role (hospital, pharmacy, or admin).
func (r Role) Staff() bool {
	return r == RoleHospitalStaff || r == RolePharmacyStaff || r == RoleAdmin
}
