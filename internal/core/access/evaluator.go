package access

// Resource is the permission-relevant view of a post
type Resource struct {
	TypeBase     string
	GroupIDs     []string
	FollowerIDs  []int64
	FollowingIDs []int64
	Public       bool
}

// Scope is what a credential may see, independent of any single post.
// Single-post checks call Allows; repositories compile the same Scope into
// their bulk filters so both paths agree rule for rule.
type Scope struct {
	TypeBases   []string
	GroupIDs    []string
	FollowerID  int64
	FollowingID int64
	AllPosts    bool
}

// ScopeFor derives the read scope of a credential
func ScopeFor(c Credential) Scope {
	switch c.kind {
	case KindApp:
		if containsString(c.scopes, ScopeReadPosts) {
			return Scope{AllPosts: true}
		}
		return Scope{TypeBases: copyStrings(c.postTypes)}
	case KindFollower:
		return Scope{FollowerID: c.identity, GroupIDs: copyStrings(c.groups)}
	case KindFollowing:
		return Scope{FollowingID: c.identity, GroupIDs: copyStrings(c.groups)}
	default:
		return Scope{}
	}
}

// PublicOnly reports whether the scope admits nothing beyond public posts
func (s Scope) PublicOnly() bool {
	return !s.AllPosts && len(s.TypeBases) == 0 && len(s.GroupIDs) == 0 &&
		s.FollowerID == 0 && s.FollowingID == 0
}

// Allows applies the read rules in order; the first matching rule wins
func (s Scope) Allows(r Resource) bool {
	if r.Public {
		return true
	}
	if s.AllPosts {
		return true
	}
	if r.TypeBase != "" && containsString(s.TypeBases, r.TypeBase) {
		return true
	}
	if s.FollowerID != 0 && containsInt64(r.FollowerIDs, s.FollowerID) {
		return true
	}
	if s.FollowingID != 0 && containsInt64(r.FollowingIDs, s.FollowingID) {
		return true
	}
	for _, g := range s.GroupIDs {
		if containsString(r.GroupIDs, g) {
			return true
		}
	}
	return false
}

// CanRead reports whether the credential may read the resource
func CanRead(r Resource, c Credential) bool {
	return ScopeFor(c).Allows(r)
}

// CanNotify reports whether the credential may be told about the resource.
// Notification eligibility follows the read rules exactly.
func CanNotify(r Resource, c Credential) bool {
	return ScopeFor(c).Allows(r)
}

func containsInt64(list []int64, v int64) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
