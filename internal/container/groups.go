package container

import (
	"iter"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/tobischo/gokeepasslib/v3"
)

// GroupRef identifies a group by its slash-separated path from the root.
type GroupRef struct {
	Path    string
	UUID    string
	Depth   int
	Entries int
}

// ListGroups yields every group depth-first. The sequence is lazy and can be
// ranged over again to restart the traversal.
func ListGroups(c *Container) iter.Seq[GroupRef] {
	return func(yield func(GroupRef) bool) {
		if c == nil || c.db.Content == nil || c.db.Content.Root == nil {
			return
		}
		walkGroups("", 0, c.db.Content.Root.Groups, yield)
	}
}

func walkGroups(prefix string, depth int, groups []gokeepasslib.Group, yield func(GroupRef) bool) bool {
	for _, g := range groups {
		path := joinPath(prefix, g.Name)
		ref := GroupRef{Path: path, UUID: uuidString(g.UUID), Depth: depth, Entries: len(g.Entries)}
		if !yield(ref) {
			return false
		}
		if !walkGroups(path, depth+1, g.Groups, yield) {
			return false
		}
	}
	return true
}

// MatchGroups filters ListGroups with a doublestar pattern such as
// "Root/**/VPN".
func MatchGroups(c *Container, pattern string) (iter.Seq[GroupRef], error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, doublestar.ErrBadPattern
	}
	return func(yield func(GroupRef) bool) {
		for g := range ListGroups(c) {
			if ok, _ := doublestar.Match(pattern, g.Path); ok && !yield(g) {
				return
			}
		}
	}, nil
}
