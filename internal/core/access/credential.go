package access

import (
	"errors"
	"fmt"
)

// Kind tags the variant of a Credential
type Kind int

const (
	KindAnonymous Kind = iota
	KindFollower
	KindFollowing
	KindApp
)

// Scopes an app authorization can carry
const (
	// ScopeReadPosts lets an app read every post regardless of type
	ScopeReadPosts = "read_posts"
	// ScopeWritePosts lets an app create, update and delete posts
	ScopeWritePosts = "write_posts"
)

// ErrUnknownCredential is returned by credential resolvers when a token maps to nothing
var ErrUnknownCredential = errors.New("unknown credential")

func (k Kind) String() string {
	switch k {
	case KindFollower:
		return "follower"
	case KindFollowing:
		return "following"
	case KindApp:
		return "app"
	default:
		return "anonymous"
	}
}

// ParseKind converts the stored name of a credential kind back to a Kind
func ParseKind(s string) (Kind, error) {
	switch s {
	case "anonymous", "":
		return KindAnonymous, nil
	case "follower":
		return KindFollower, nil
	case "following":
		return KindFollowing, nil
	case "app":
		return KindApp, nil
	}
	return KindAnonymous, fmt.Errorf("unknown credential kind %q", s)
}

// Credential is the authenticated actor making a request.
// The zero value is the anonymous credential.
type Credential struct {
	kind      Kind
	identity  int64
	entity    string
	groups    []string
	scopes    []string
	postTypes []string
}

// Anonymous returns the credential of an unauthenticated caller
func Anonymous() Credential {
	return Credential{}
}

// Follower returns a credential for the follower with the given id and current groups
func Follower(id int64, groups ...string) Credential {
	return Credential{kind: KindFollower, identity: id, groups: copyStrings(groups)}
}

// Following returns a credential for the following with the given id and current groups
func Following(id int64, groups ...string) Credential {
	return Credential{kind: KindFollowing, identity: id, groups: copyStrings(groups)}
}

// App returns a credential for an app authorization.
// postTypes holds the type bases the authorization may read.
func App(id int64, scopes []string, postTypes []string) Credential {
	return Credential{
		kind:      KindApp,
		identity:  id,
		scopes:    copyStrings(scopes),
		postTypes: copyStrings(postTypes),
	}
}

// New builds a credential from stored fields, used by credential resolvers
func New(kind Kind, id int64, groups, scopes, postTypes []string) Credential {
	switch kind {
	case KindFollower:
		return Follower(id, groups...)
	case KindFollowing:
		return Following(id, groups...)
	case KindApp:
		return App(id, scopes, postTypes)
	default:
		return Anonymous()
	}
}

// WithEntity returns a copy of c bound to the entity URI of the follower or
// following it identifies. Apps and anonymous callers carry no entity.
func (c Credential) WithEntity(entity string) Credential {
	if c.kind != KindFollower && c.kind != KindFollowing {
		return c
	}
	c.entity = entity
	return c
}

func (c Credential) Kind() Kind { return c.kind }

// Identity is the permissible foreign key of the credential (0 when anonymous)
func (c Credential) Identity() int64 { return c.identity }

// Entity is the entity URI bound to a follower or following credential, "" when unbound
func (c Credential) Entity() string { return c.entity }

func (c Credential) Groups() []string { return copyStrings(c.groups) }

func (c Credential) Scopes() []string { return copyStrings(c.scopes) }

// PostTypes lists the type bases an app authorization was granted
func (c Credential) PostTypes() []string { return copyStrings(c.postTypes) }

func (c Credential) IsAnonymous() bool { return c.kind == KindAnonymous }

// HasScope reports whether an app credential carries the scope
func (c Credential) HasScope(scope string) bool {
	if c.kind != KindApp {
		return false
	}
	return containsString(c.scopes, scope)
}

func (c Credential) String() string {
	if c.kind == KindAnonymous {
		return "anonymous"
	}
	return fmt.Sprintf("%s:%d", c.kind, c.identity)
}

func copyStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
