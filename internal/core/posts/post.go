package posts

import (
	"github.com/jnwheeler44/tentd/internal/core/access"
)

// millisecondThreshold is 3000-01-01T00:00:00Z in seconds. Any published_at
// above it is taken to be in milliseconds.
const millisecondThreshold int64 = 32503680000

// Mention references another entity, and optionally one of its posts
type Mention struct {
	Entity string `json:"entity" validate:"required"`
	Post   string `json:"post,omitempty"`
}

// Attachment describes a file attached to a post
type Attachment struct {
	ID          string `json:"id,omitempty"`
	Category    string `json:"category" validate:"required"`
	ContentType string `json:"content_type" validate:"required"`
	Name        string `json:"name" validate:"required"`
	Digest      string `json:"digest,omitempty"`
	Size        int64  `json:"size" validate:"gte=0"`
}

// Grant is one permission row: exactly one of FollowerID, FollowingID or GroupID is set.
// Entity carries the grantee's entity URI for identity grants.
type Grant struct {
	FollowerID  *int64 `json:"follower_id,omitempty"`
	FollowingID *int64 `json:"following_id,omitempty"`
	GroupID     string `json:"group_id,omitempty"`
	Entity      string `json:"entity,omitempty"`
}

// Permissions is the visibility rule set of a post
type Permissions struct {
	Grants []Grant `json:"grants,omitempty"`
	Public bool    `json:"public"`
}

// AttachmentRule is a partial match on attachment fields; empty fields are absent
type AttachmentRule struct {
	ID       string `json:"id,omitempty"`
	Category string `json:"category,omitempty"`
	Type     string `json:"type,omitempty"`
	Name     string `json:"name,omitempty"`
}

// View is a named projection: content key paths plus attachment selector rules
type View struct {
	Content     []string         `json:"content,omitempty"`
	Attachments []AttachmentRule `json:"attachments,omitempty"`
}

// AppRef identifies the application a post originated from
type AppRef struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
	ID   int64  `json:"id,omitempty"`
}

// Post is the latest state of a versioned content item.
// Timestamps are Unix seconds.
type Post struct {
	Content     map[string]any  `json:"content"`
	Views       map[string]View `json:"views,omitempty"`
	App         *AppRef         `json:"app,omitempty"`
	FollowingID *int64          `json:"following_id,omitempty"`
	DeletedAt   *int64          `json:"deleted_at,omitempty"`
	Type        TypeDescriptor  `json:"type"`
	PublicID    string          `json:"id"`
	Entity      string          `json:"entity"`
	Licenses    []string        `json:"licenses"`
	Mentions    []Mention       `json:"mentions"`
	Attachments []Attachment    `json:"attachments"`
	Permissions Permissions     `json:"permissions"`
	ID          int64           `json:"-"`
	PublishedAt int64           `json:"published_at"`
	ReceivedAt  int64           `json:"received_at"`
	UpdatedAt   int64           `json:"updated_at"`
	Version     int             `json:"version"`
}

// PostVersion is an immutable snapshot of a post at one version.
// Permissions are the post's current permissions; versions share them.
type PostVersion struct {
	Content     map[string]any  `json:"content"`
	Views       map[string]View `json:"views,omitempty"`
	App         *AppRef         `json:"app,omitempty"`
	FollowingID *int64          `json:"following_id,omitempty"`
	Type        TypeDescriptor  `json:"type"`
	PublicID    string          `json:"id"`
	Entity      string          `json:"entity"`
	Licenses    []string        `json:"licenses"`
	Mentions    []Mention       `json:"mentions"`
	Attachments []Attachment    `json:"attachments"`
	Permissions Permissions     `json:"permissions"`
	PostID      int64           `json:"-"`
	PublishedAt int64           `json:"published_at"`
	ReceivedAt  int64           `json:"received_at"`
	UpdatedAt   int64           `json:"updated_at"`
	Version     int             `json:"version"`
}

// Resource returns the permission-relevant view of the permissions for a type base
func (p Permissions) Resource(typeBase string) access.Resource {
	res := access.Resource{Public: p.Public, TypeBase: typeBase}
	for _, g := range p.Grants {
		switch {
		case g.FollowerID != nil:
			res.FollowerIDs = append(res.FollowerIDs, *g.FollowerID)
		case g.FollowingID != nil:
			res.FollowingIDs = append(res.FollowingIDs, *g.FollowingID)
		case g.GroupID != "":
			res.GroupIDs = append(res.GroupIDs, g.GroupID)
		}
	}
	return res
}

// Resource returns the permission-relevant view of the post
func (p *Post) Resource() access.Resource {
	return p.Permissions.Resource(p.Type.Base)
}

// Snapshot captures the current state of the post as a version
func (p *Post) Snapshot() *PostVersion {
	c := p.Clone()
	return &PostVersion{
		PostID:      c.ID,
		PublicID:    c.PublicID,
		Version:     c.Version,
		Entity:      c.Entity,
		Type:        c.Type,
		Licenses:    c.Licenses,
		Content:     c.Content,
		Mentions:    c.Mentions,
		Attachments: c.Attachments,
		Permissions: c.Permissions,
		Views:       c.Views,
		App:         c.App,
		FollowingID: c.FollowingID,
		PublishedAt: c.PublishedAt,
		ReceivedAt:  c.ReceivedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

// Clone returns a deep copy of the post
func (p *Post) Clone() *Post {
	if p == nil {
		return nil
	}
	c := *p
	c.Content = CloneDocument(p.Content)
	c.Views = cloneViews(p.Views)
	c.Licenses = append([]string(nil), p.Licenses...)
	c.Mentions = append([]Mention(nil), p.Mentions...)
	c.Attachments = append([]Attachment(nil), p.Attachments...)
	c.Permissions = p.Permissions.Clone()
	if p.App != nil {
		app := *p.App
		c.App = &app
	}
	c.FollowingID = cloneInt64(p.FollowingID)
	c.DeletedAt = cloneInt64(p.DeletedAt)
	return &c
}

// Clone returns a deep copy of the version
func (v *PostVersion) Clone() *PostVersion {
	if v == nil {
		return nil
	}
	c := *v
	c.Content = CloneDocument(v.Content)
	c.Views = cloneViews(v.Views)
	c.Licenses = append([]string(nil), v.Licenses...)
	c.Mentions = append([]Mention(nil), v.Mentions...)
	c.Attachments = append([]Attachment(nil), v.Attachments...)
	c.Permissions = v.Permissions.Clone()
	if v.App != nil {
		app := *v.App
		c.App = &app
	}
	c.FollowingID = cloneInt64(v.FollowingID)
	return &c
}

// Clone returns a deep copy of the permissions
func (p Permissions) Clone() Permissions {
	out := Permissions{Public: p.Public}
	for _, g := range p.Grants {
		out.Grants = append(out.Grants, Grant{
			FollowerID:  cloneInt64(g.FollowerID),
			FollowingID: cloneInt64(g.FollowingID),
			GroupID:     g.GroupID,
			Entity:      g.Entity,
		})
	}
	return out
}

// CloneDocument deep-copies a JSON-like document. Nested maps and slices are
// copied; scalars are shared.
func CloneDocument(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies one JSON-like value
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneDocument(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = CloneValue(e)
		}
		return out
	default:
		return v
	}
}

// NormalizeTimestamp converts a timestamp given in milliseconds to seconds.
// Values that are plausible as seconds are returned unchanged.
func NormalizeTimestamp(ts int64) int64 {
	if ts > millisecondThreshold {
		return ts / 1000
	}
	return ts
}

func cloneViews(views map[string]View) map[string]View {
	if views == nil {
		return nil
	}
	out := make(map[string]View, len(views))
	for name, v := range views {
		out[name] = View{
			Content:     append([]string(nil), v.Content...),
			Attachments: append([]AttachmentRule(nil), v.Attachments...),
		}
	}
	return out
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
