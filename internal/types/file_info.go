package types

// CrossReference records that Source wrote an edge from Location into Target,
// where Target belongs to the resource whose FileInfo holds the entry.
type CrossReference struct {
	Source   Resource
	Location Location
	Target   Location
}

// FileInfo summarises what a resource contributes to the index and who depends on it.
// A FileInfo is replaced wholesale on reindex and never mutated in place.
type FileInfo struct {
	Resource             Resource
	ModStamp             int64
	SourceLocations      []Location
	InternalDependencies []DependentEntity
	ExternalDependencies []DependentEntity
	ReferencedBy         []CrossReference
}

// Dependencies returns internal followed by external dependencies.
func (fi *FileInfo) Dependencies() []DependentEntity {
	if fi == nil {
		return nil
	}
	out := make([]DependentEntity, 0, len(fi.InternalDependencies)+len(fi.ExternalDependencies))
	out = append(out, fi.InternalDependencies...)
	return append(out, fi.ExternalDependencies...)
}

// Clone returns a deep copy.
func (fi *FileInfo) Clone() *FileInfo {
	if fi == nil {
		return nil
	}
	return &FileInfo{
		Resource:             fi.Resource,
		ModStamp:             fi.ModStamp,
		SourceLocations:      append([]Location(nil), fi.SourceLocations...),
		InternalDependencies: append([]DependentEntity(nil), fi.InternalDependencies...),
		ExternalDependencies: append([]DependentEntity(nil), fi.ExternalDependencies...),
		ReferencedBy:         append([]CrossReference(nil), fi.ReferencedBy...),
	}
}

// ResourceStamp pairs a stored resource with the stamp it was indexed at.
type ResourceStamp struct {
	Resource Resource
	ModStamp int64
}
