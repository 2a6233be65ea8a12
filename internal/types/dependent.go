package types

import "fmt"

// DependentKind tags the variant held by a DependentEntity.
type DependentKind uint8

const (
	// DependentFile names another resource whose FileInfo references ours.
	DependentFile DependentKind = iota + 1
	// DependentLocationKind names one destination in one layer that our locations point at.
	DependentLocationKind
)

func (k DependentKind) String() string {
	switch k {
	case DependentFile:
		return "file"
	case DependentLocationKind:
		return "location"
	default:
		return "unknown"
	}
}

// DependentEntity records what must be invalidated when a resource's locations go stale.
// It is a closed sum type; construct it with DependentFileInfo or DependentLocation and
// switch on Kind. The zero value is invalid.
type DependentEntity struct {
	Kind     DependentKind
	Resource Resource // DependentFile
	Layer    LayerID  // DependentLocationKind
	Location Location // DependentLocationKind
}

// DependentFileInfo returns the variant naming a dependent resource.
func DependentFileInfo(r Resource) DependentEntity {
	return DependentEntity{Kind: DependentFile, Resource: r}
}

// DependentLocation returns the variant naming a destination location in a layer.
func DependentLocation(layer LayerID, loc Location) DependentEntity {
	return DependentEntity{Kind: DependentLocationKind, Layer: layer, Location: loc}
}

func (d DependentEntity) String() string {
	switch d.Kind {
	case DependentFile:
		return fmt.Sprintf("file(%s)", d.Resource)
	case DependentLocationKind:
		return fmt.Sprintf("location(%s, %s)", d.Layer, d.Location)
	default:
		return "invalid"
	}
}
