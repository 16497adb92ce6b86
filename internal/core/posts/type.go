package posts

import (
	"fmt"
	"regexp"
	"strings"
)

// typeURIPattern matches <base>/v<dotted numeric version>[#fragment]
var typeURIPattern = regexp.MustCompile(`^(.+)/v([0-9]+(?:\.[0-9]+)*)(?:#(.*))?$`)

// TypeDescriptor is a parsed post type URI
type TypeDescriptor struct {
	Base     string `json:"base"`
	Version  string `json:"version,omitempty"`
	Fragment string `json:"fragment,omitempty"`
}

// ParseType splits a post type URI such as https://tent.io/types/status/v0.1.0
// into its base and version. A URI without a version suffix is rejected.
func ParseType(uri string) (TypeDescriptor, error) {
	m := typeURIPattern.FindStringSubmatch(strings.TrimSpace(uri))
	if m == nil {
		return TypeDescriptor{}, fmt.Errorf("%w: %q", ErrInvalidTypeFormat, uri)
	}
	return TypeDescriptor{Base: m[1], Version: m[2], Fragment: m[3]}, nil
}

// ParseTypeFilter is the lenient form used by query filters and subscriptions:
// a bare base without a version matches every version of that base.
func ParseTypeFilter(uri string) (TypeDescriptor, error) {
	uri = strings.TrimSpace(uri)
	if t, err := ParseType(uri); err == nil {
		return t, nil
	}
	if uri == "" || strings.ContainsAny(uri, " \t\n") {
		return TypeDescriptor{}, fmt.Errorf("%w: %q", ErrInvalidTypeFormat, uri)
	}
	base := strings.TrimSuffix(uri, "/")
	if i := strings.Index(base, "#"); i >= 0 {
		base = base[:i]
	}
	if base == "" {
		return TypeDescriptor{}, fmt.Errorf("%w: %q", ErrInvalidTypeFormat, uri)
	}
	return TypeDescriptor{Base: base}, nil
}

// URI rebuilds the type URI
func (t TypeDescriptor) URI() string {
	if t.Version == "" {
		return t.Base
	}
	uri := t.Base + "/v" + t.Version
	if t.Fragment != "" {
		uri += "#" + t.Fragment
	}
	return uri
}

// Matches reports whether a post of type other satisfies t used as a filter.
// An empty filter version matches any version; fragments are ignored.
func (t TypeDescriptor) Matches(other TypeDescriptor) bool {
	if t.Base != other.Base {
		return false
	}
	return t.Version == "" || t.Version == other.Version
}

func (t TypeDescriptor) String() string { return t.URI() }
