package memstore

import (
	"sort"

	"github.com/standardbeagle/xref/internal/types"
)

// state is one version of the index. A committed state is never mutated again;
// transactions work on a clone.
type state struct {
	files  map[types.Resource]*types.FileInfo
	layers map[types.LayerID]*layerEdges
}

type layerEdges struct {
	out map[types.Location]types.LocationSet
	in  map[types.Location]types.LocationSet
}

func newState() *state {
	return &state{
		files:  make(map[types.Resource]*types.FileInfo),
		layers: make(map[types.LayerID]*layerEdges),
	}
}

// clone copies the maps and edge sets. FileInfo values are shared since they are
// replaced, never modified.
func (s *state) clone() *state {
	c := &state{
		files:  make(map[types.Resource]*types.FileInfo, len(s.files)),
		layers: make(map[types.LayerID]*layerEdges, len(s.layers)),
	}
	for r, fi := range s.files {
		c.files[r] = fi
	}
	for id, l := range s.layers {
		c.layers[id] = &layerEdges{out: cloneAdjacency(l.out), in: cloneAdjacency(l.in)}
	}
	return c
}

func cloneAdjacency(m map[types.Location]types.LocationSet) map[types.Location]types.LocationSet {
	out := make(map[types.Location]types.LocationSet, len(m))
	for k, set := range m {
		cp := make(types.LocationSet, len(set))
		for l := range set {
			cp[l] = struct{}{}
		}
		out[k] = cp
	}
	return out
}

func (s *state) layer(id types.LayerID) *layerEdges {
	l, ok := s.layers[id]
	if !ok {
		l = &layerEdges{
			out: make(map[types.Location]types.LocationSet),
			in:  make(map[types.Location]types.LocationSet),
		}
		s.layers[id] = l
	}
	return l
}

func (s *state) hasEdge(id types.LayerID, src, dst types.Location) bool {
	l, ok := s.layers[id]
	if !ok {
		return false
	}
	return l.out[src].Has(dst)
}

func (s *state) addEdge(id types.LayerID, src, dst types.Location) {
	l := s.layer(id)
	link(l.out, src, dst)
	link(l.in, dst, src)
}

func (s *state) removeEdge(id types.LayerID, src, dst types.Location) {
	l, ok := s.layers[id]
	if !ok {
		return
	}
	unlink(l.out, src, dst)
	unlink(l.in, dst, src)
}

func link(m map[types.Location]types.LocationSet, from, to types.Location) {
	set, ok := m[from]
	if !ok {
		set = make(types.LocationSet)
		m[from] = set
	}
	set.Add(to)
}

func unlink(m map[types.Location]types.LocationSet, from, to types.Location) {
	set, ok := m[from]
	if !ok {
		return
	}
	delete(set, to)
	if len(set) == 0 {
		delete(m, from)
	}
}

func (s *state) locationInfo(id types.LayerID, loc types.Location) *types.LocationInfo {
	l, ok := s.layers[id]
	if !ok {
		return nil
	}
	in, out := l.in[loc], l.out[loc]
	if len(in) == 0 && len(out) == 0 {
		return nil
	}
	return &types.LocationInfo{Sources: in.Sorted(), Destinations: out.Sorted()}
}

func (s *state) names(id types.LayerID) []string {
	l, ok := s.layers[id]
	if !ok {
		return nil
	}
	var names []string
	for loc := range l.in {
		if loc.IsName() {
			names = append(names, loc.Name)
		}
	}
	sort.Strings(names)
	return names
}

func (s *state) resources() []types.ResourceStamp {
	out := make([]types.ResourceStamp, 0, len(s.files))
	for r, fi := range s.files {
		out = append(out, types.ResourceStamp{Resource: r, ModStamp: fi.ModStamp})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Resource < out[j].Resource })
	return out
}

// locationCount counts the distinct locations on edges and in file infos.
func (s *state) locationCount() int {
	seen := make(types.LocationSet)
	for _, l := range s.layers {
		for loc := range l.out {
			seen.Add(loc)
		}
		for loc := range l.in {
			seen.Add(loc)
		}
	}
	for _, fi := range s.files {
		for _, loc := range fi.SourceLocations {
			seen.Add(loc)
		}
		for _, deps := range [][]types.DependentEntity{fi.InternalDependencies, fi.ExternalDependencies} {
			for _, dep := range deps {
				if dep.Kind == types.DependentLocationKind {
					seen.Add(dep.Location)
				}
			}
		}
		for _, ref := range fi.ReferencedBy {
			seen.Add(ref.Location)
			seen.Add(ref.Target)
		}
	}
	return len(seen)
}

// layerIDs returns every layer holding edges, sorted so undo logs replay deterministically.
func (s *state) layerIDs() []types.LayerID {
	ids := make([]types.LayerID, 0, len(s.layers))
	for id := range s.layers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
