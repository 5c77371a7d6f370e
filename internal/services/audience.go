package services

// AudienceKind selects how a dispatch resolves its target connections.
type AudienceKind string

const (
	AudienceUser AudienceKind = "user"
	AudienceAll  AudienceKind = "all"
	AudienceRole AudienceKind = "role"
)

// Audience describes who a dispatch targets: a single user, every connected
// client, or the members of a role.
type Audience struct {
	Kind     AudienceKind
	UserID   int64
	RoleCode string
}

// SingleUser targets the live connections of one user.
func SingleUser(userID int64) Audience {
	return Audience{Kind: AudienceUser, UserID: userID}
}

// AllUsers targets every live connection.
func AllUsers() Audience {
	return Audience{Kind: AudienceAll}
}

// RoleMembers targets the live connections of every user holding the role.
func RoleMembers(code string) Audience {
	return Audience{Kind: AudienceRole, RoleCode: code}
}
