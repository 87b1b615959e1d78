package stream

// Role is the permission level of a caller.
type Role string

const (
	RoleAdmin           Role = "admin"
	RoleOwner           Role = "owner"
	RoleFuneralDirector Role = "funeral_director"
	RoleViewer          Role = "viewer"
	// RoleSystem marks automated writers such as the poller.
	RoleSystem Role = "system"
)

// Actor identifies who initiated an action.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// SystemActor is used for engine-initiated writes.
var SystemActor = Actor{ID: "system", Role: RoleSystem}

// CanManage reports whether a may administer streams of m.
func (a Actor) CanManage(m *Memorial) bool {
	if a.ID == "" {
		return false
	}
	switch a.Role {
	case RoleAdmin, RoleSystem:
		return true
	case RoleOwner:
		return m != nil && m.OwnerID == a.ID
	case RoleFuneralDirector:
		return m != nil && m.FuneralDirectorID != "" && m.FuneralDirectorID == a.ID
	}
	return false
}
