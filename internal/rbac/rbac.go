package rbac

type Role string
type Action string

const (
	RoleGuest  Role = "guest"
	RoleMember Role = "member"
	RoleBoard  Role = "board"
	RoleAdmin  Role = "admin"
)

const (
	ActionView       Action = "view"
	ActionCreate     Action = "create"
	ActionUpdate     Action = "update"
	ActionApprove    Action = "approve"
	ActionDisapprove Action = "disapprove"
	ActionReset      Action = "reset"
)

// Can reports whether role holds action on every activity.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin, RoleBoard:
		return true
	case RoleMember:
		return action == ActionView || action == ActionCreate
	case RoleGuest:
		return action == ActionView
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleGuest, RoleMember, RoleBoard, RoleAdmin:
		return Role(role)
	default:
		return RoleGuest
	}
}

// Resource is an access-controlled record owned by a creator and
// optionally by an organ.
type Resource interface {
	ResourceCreator() string
	ResourceOrgan() *int64
}

// Actor is the signed-in user an access decision is made for.
type Actor struct {
	UserID string
	Role   Role
	Organs []int64
}

func (a Actor) MemberOf(organID int64) bool {
	for _, id := range a.Organs {
		if id == organID {
			return true
		}
	}
	return false
}

// CanEditOrgan reports whether the actor may act on behalf of the organ.
func (a Actor) CanEditOrgan(organID int64) bool {
	if a.Role == RoleAdmin || a.Role == RoleBoard {
		return true
	}
	return a.MemberOf(organID)
}

// Allowed checks action against one resource. Members may update what they
// created and what belongs to an organ they are part of.
func Allowed(actor Actor, action Action, resource Resource) bool {
	if Can(actor.Role, action) {
		return true
	}
	if action != ActionUpdate || actor.Role != RoleMember || actor.UserID == "" {
		return false
	}
	if resource.ResourceCreator() == actor.UserID {
		return true
	}
	if organ := resource.ResourceOrgan(); organ != nil {
		return actor.MemberOf(*organ)
	}
	return false
}
