package types

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// Common system-wide constants
const (
	DefaultMaxFileSize = 10 * 1024 * 1024 // 10MB per file, larger files are almost always generated

	// NameKind is the Kind carried by name locations.
	NameKind = "name"
)

// Resource identifies one unit of source: a slash separated path relative to
// the project root. The index only ever references resources, it never owns them.
type Resource string

// Ext returns the lower-cased extension including the leading dot.
func (r Resource) Ext() string {
	return strings.ToLower(path.Ext(string(r)))
}

// Path returns the resource path in slash form.
func (r Resource) Path() string {
	return string(r)
}

func (r Resource) String() string {
	return string(r)
}

// LayerID names a partition of the index. Facts in different layers never collide.
type LayerID string

// Element is a named program entity scoped to a resource.
type Element struct {
	Resource Resource
	Name     string // qualified, dot separated
}

// SimpleName returns the last segment of the qualified name.
func (e Element) SimpleName() string {
	if i := strings.LastIndexByte(e.Name, '.'); i >= 0 {
		return e.Name[i+1:]
	}
	return e.Name
}

// Location is an element at a span of its resource. Locations are comparable and
// are used directly as map keys by the storage backends.
type Location struct {
	Element
	Kind   string
	Offset int
	Length int
}

// NameLocation returns the resource-less location keying the global name space.
func NameLocation(name string) Location {
	return Location{Element: Element{Name: name}, Kind: NameKind}
}

// IsName reports whether l keys the global name space instead of a span of a resource.
func (l Location) IsName() bool {
	return l.Resource == ""
}

// End returns the offset one past the last byte of the span.
func (l Location) End() int {
	return l.Offset + l.Length
}

// Contains reports whether other lies inside l in the same resource.
func (l Location) Contains(other Location) bool {
	return l.Resource == other.Resource && other.Offset >= l.Offset && other.End() <= l.End()
}

func (l Location) String() string {
	if l.IsName() {
		return fmt.Sprintf("name:%s", l.Name)
	}
	return fmt.Sprintf("%s:%d+%d %s %s", l.Resource, l.Offset, l.Length, l.Kind, l.Name)
}

// Less orders locations by resource, offset, length, kind and name.
func (l Location) Less(other Location) bool {
	if l.Resource != other.Resource {
		return l.Resource < other.Resource
	}
	if l.Offset != other.Offset {
		return l.Offset < other.Offset
	}
	if l.Length != other.Length {
		return l.Length < other.Length
	}
	if l.Kind != other.Kind {
		return l.Kind < other.Kind
	}
	return l.Name < other.Name
}

// SortLocations sorts in place and returns the slice.
func SortLocations(locs []Location) []Location {
	sort.Slice(locs, func(i, j int) bool { return locs[i].Less(locs[j]) })
	return locs
}

// SortResources sorts in place and returns the slice.
func SortResources(rs []Resource) []Resource {
	sort.Slice(rs, func(i, j int) bool { return rs[i] < rs[j] })
	return rs
}

// LocationSet is a set of locations.
type LocationSet map[Location]struct{}

// NewLocationSet builds a set from locs.
func NewLocationSet(locs ...Location) LocationSet {
	s := make(LocationSet, len(locs))
	for _, l := range locs {
		s[l] = struct{}{}
	}
	return s
}

func (s LocationSet) Add(l Location) {
	s[l] = struct{}{}
}

func (s LocationSet) Has(l Location) bool {
	_, ok := s[l]
	return ok
}

// Sorted returns the members in Location order.
func (s LocationSet) Sorted() []Location {
	out := make([]Location, 0, len(s))
	for l := range s {
		out = append(out, l)
	}
	return SortLocations(out)
}

// LocationInfo holds the edges of one location within one layer.
type LocationInfo struct {
	Sources      []Location // locations with an edge pointing at this one
	Destinations []Location // locations this one points at
}

// IsEmpty reports whether the location has no edges left.
func (i *LocationInfo) IsEmpty() bool {
	return i == nil || (len(i.Sources) == 0 && len(i.Destinations) == 0)
}

// LocationsAffectedByRemovalOfSelf returns the locations that pointed at this one
// and therefore become dangling when it disappears.
func (i *LocationInfo) LocationsAffectedByRemovalOfSelf() []Location {
	if i == nil {
		return nil
	}
	return i.Sources
}
