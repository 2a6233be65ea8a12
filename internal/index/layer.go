package index

import "github.com/standardbeagle/xref/internal/types"

// Well-known layers written by the source processors.
const (
	// LayerDeclarations holds declaration -> name location edges.
	LayerDeclarations types.LayerID = "declarations"
	// LayerReferences holds use site -> declaration edges.
	LayerReferences types.LayerID = "references"
	// LayerUnresolved holds use site -> name location edges for uses no declaration matched yet.
	LayerUnresolved types.LayerID = "unresolved"
	// LayerContains holds container declaration -> member declaration edges.
	LayerContains types.LayerID = "contains"
	// LayerImports holds import site -> module name location edges.
	LayerImports types.LayerID = "imports"
)

// LayerDescriptor is the configuration-time description of a layer.
type LayerDescriptor struct {
	ID          types.LayerID
	Description string
}

// Instantiate creates the runtime layer for d.
func (d LayerDescriptor) Instantiate() *Layer {
	return &Layer{id: d.ID, description: d.Description}
}

// StandardLayers returns the descriptors of the well-known layers.
func StandardLayers() []LayerDescriptor {
	return []LayerDescriptor{
		{ID: LayerDeclarations, Description: "declared elements keyed by simple name"},
		{ID: LayerReferences, Description: "uses resolved to their declarations"},
		{ID: LayerUnresolved, Description: "uses without a known declaration"},
		{ID: LayerContains, Description: "members of container declarations"},
		{ID: LayerImports, Description: "imported modules"},
	}
}

// Layer is a named namespace of facts inside a configuration instance.
type Layer struct {
	id           types.LayerID
	description  string
	contributors []ProcessorID
}

func (l *Layer) ID() types.LayerID {
	return l.id
}

func (l *Layer) Description() string {
	return l.description
}

// Contributors lists the processors allowed to write into the layer, sorted by id.
func (l *Layer) Contributors() []ProcessorID {
	return append([]ProcessorID(nil), l.contributors...)
}
