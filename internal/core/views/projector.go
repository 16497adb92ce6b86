package views

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/jnwheeler44/tentd/internal/core/posts"
)

// Built-in view names
const (
	ViewFull = "full"
	ViewMeta = "meta"
)

// Options controls how a post is rendered for a caller
type Options struct {
	View        string
	Exclude     []string
	Permissions bool
	App         bool
}

// ParseOptions reads view, exclude, permissions and app from query parameters.
// Boolean flags accept anything strconv.ParseBool accepts; bad values read as false.
func ParseOptions(values url.Values) Options {
	opts := Options{View: strings.TrimSpace(values.Get("view"))}
	for _, raw := range values["exclude"] {
		for _, key := range strings.Split(raw, ",") {
			if key = strings.TrimSpace(key); key != "" {
				opts.Exclude = append(opts.Exclude, key)
			}
		}
	}
	opts.Permissions, _ = strconv.ParseBool(values.Get("permissions"))
	opts.App, _ = strconv.ParseBool(values.Get("app"))
	return opts
}

// source is the common shape of posts and versions
type source struct {
	content     map[string]any
	views       map[string]posts.View
	app         *posts.AppRef
	followingID *int64
	typ         posts.TypeDescriptor
	publicID    string
	entity      string
	licenses    []string
	mentions    []posts.Mention
	attachments []posts.Attachment
	permissions posts.Permissions
	publishedAt int64
	receivedAt  int64
	updatedAt   int64
	version     int
}

// Project renders a post as a JSON-compatible document
func Project(p *posts.Post, opts Options) map[string]any {
	return project(source{
		content:     p.Content,
		views:       p.Views,
		app:         p.App,
		followingID: p.FollowingID,
		typ:         p.Type,
		publicID:    p.PublicID,
		entity:      p.Entity,
		licenses:    p.Licenses,
		mentions:    p.Mentions,
		attachments: p.Attachments,
		permissions: p.Permissions,
		publishedAt: p.PublishedAt,
		receivedAt:  p.ReceivedAt,
		updatedAt:   p.UpdatedAt,
		version:     p.Version,
	}, opts)
}

// ProjectVersion renders one version of a post
func ProjectVersion(v *posts.PostVersion, opts Options) map[string]any {
	return project(source{
		content:     v.Content,
		views:       v.Views,
		app:         v.App,
		followingID: v.FollowingID,
		typ:         v.Type,
		publicID:    v.PublicID,
		entity:      v.Entity,
		licenses:    v.Licenses,
		mentions:    v.Mentions,
		attachments: v.Attachments,
		permissions: v.Permissions,
		publishedAt: v.PublishedAt,
		receivedAt:  v.ReceivedAt,
		updatedAt:   v.UpdatedAt,
		version:     v.Version,
	}, opts)
}

// ProjectAll renders a page of posts, preserving order
func ProjectAll(list []*posts.Post, opts Options) []map[string]any {
	out := make([]map[string]any, 0, len(list))
	for _, p := range list {
		out = append(out, Project(p, opts))
	}
	return out
}

// ProjectVersions renders a list of versions, preserving order
func ProjectVersions(list []*posts.PostVersion, opts Options) []map[string]any {
	out := make([]map[string]any, 0, len(list))
	for _, v := range list {
		out = append(out, ProjectVersion(v, opts))
	}
	return out
}

func project(s source, opts Options) map[string]any {
	doc := map[string]any{
		"id":           s.publicID,
		"version":      s.version,
		"entity":       s.entity,
		"type":         s.typ.URI(),
		"licenses":     stringList(s.licenses),
		"content":      posts.CloneDocument(s.content),
		"mentions":     mentionList(s.mentions),
		"app":          appDoc(s.app),
		"attachments":  attachmentList(s.attachments),
		"permissions":  permissionsDoc(s.permissions, opts.Permissions),
		"published_at": s.publishedAt,
	}
	if doc["content"] == nil {
		doc["content"] = map[string]any{}
	}

	if opts.App {
		doc["received_at"] = s.receivedAt
		doc["updated_at"] = s.updatedAt
		if s.followingID != nil {
			doc["following_id"] = *s.followingID
		} else {
			doc["following_id"] = nil
		}
	}

	switch opts.View {
	case "", ViewFull:
	case ViewMeta:
		delete(doc, "content")
		delete(doc, "attachments")
	default:
		if view, ok := s.views[opts.View]; ok {
			doc["content"] = selectContent(s.content, view.Content)
			doc["attachments"] = attachmentList(selectAttachments(s.attachments, view.Attachments))
		}
	}

	for _, key := range opts.Exclude {
		delete(doc, key)
	}
	return doc
}

// selectContent deep-merges the subtrees addressed by each path.
// Paths are "/"-separated keys; missing paths contribute nothing.
func selectContent(content map[string]any, paths []string) map[string]any {
	out := map[string]any{}
	for _, path := range paths {
		keys := splitPath(path)
		if len(keys) == 0 {
			continue
		}
		value, ok := lookupPath(content, keys)
		if !ok {
			continue
		}
		mergeInto(out, nest(keys, posts.CloneValue(value)))
	}
	return out
}

func splitPath(path string) []string {
	var keys []string
	for _, k := range strings.Split(path, "/") {
		if k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

func lookupPath(doc map[string]any, keys []string) (any, bool) {
	var cur any = doc
	for _, k := range keys {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[k]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// nest wraps value in one map per key, outermost first
func nest(keys []string, value any) map[string]any {
	out := map[string]any{keys[len(keys)-1]: value}
	for i := len(keys) - 2; i >= 0; i-- {
		out = map[string]any{keys[i]: out}
	}
	return out
}

func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		existing, ok := dst[k].(map[string]any)
		incoming, isMap := v.(map[string]any)
		if ok && isMap {
			mergeInto(existing, incoming)
			continue
		}
		dst[k] = v
	}
}

// selectAttachments keeps attachments matching any rule, in original order.
// A rule matches when every field it sets is equal.
func selectAttachments(list []posts.Attachment, rules []posts.AttachmentRule) []posts.Attachment {
	out := []posts.Attachment{}
	for _, a := range list {
		for _, r := range rules {
			if ruleMatches(r, a) {
				out = append(out, a)
				break
			}
		}
	}
	return out
}

func ruleMatches(r posts.AttachmentRule, a posts.Attachment) bool {
	if r.ID != "" && r.ID != a.ID {
		return false
	}
	if r.Category != "" && r.Category != a.Category {
		return false
	}
	if r.Type != "" && r.Type != a.ContentType {
		return false
	}
	if r.Name != "" && r.Name != a.Name {
		return false
	}
	return true
}

func stringList(in []string) []any {
	out := make([]any, 0, len(in))
	for _, s := range in {
		out = append(out, s)
	}
	return out
}

func mentionList(in []posts.Mention) []any {
	out := make([]any, 0, len(in))
	for _, m := range in {
		doc := map[string]any{"entity": m.Entity}
		if m.Post != "" {
			doc["post"] = m.Post
		}
		out = append(out, doc)
	}
	return out
}

func attachmentList(in []posts.Attachment) []any {
	out := make([]any, 0, len(in))
	for _, a := range in {
		doc := map[string]any{
			"category":     a.Category,
			"content_type": a.ContentType,
			"name":         a.Name,
			"size":         a.Size,
		}
		if a.ID != "" {
			doc["id"] = a.ID
		}
		if a.Digest != "" {
			doc["digest"] = a.Digest
		}
		out = append(out, doc)
	}
	return out
}

func appDoc(app *posts.AppRef) any {
	if app == nil {
		return nil
	}
	doc := map[string]any{"name": app.Name}
	if app.URL != "" {
		doc["url"] = app.URL
	}
	if app.ID != 0 {
		doc["id"] = app.ID
	}
	return doc
}

func permissionsDoc(p posts.Permissions, detailed bool) map[string]any {
	doc := map[string]any{"public": p.Public}
	if !detailed {
		return doc
	}
	groups := []any{}
	entities := map[string]any{}
	for _, g := range p.Grants {
		if g.GroupID != "" {
			groups = append(groups, g.GroupID)
			continue
		}
		if g.Entity != "" {
			entities[g.Entity] = true
		}
	}
	doc["groups"] = groups
	doc["entities"] = entities
	return doc
}
