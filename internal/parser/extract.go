package parser

import (
	"sort"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

// declaration is one declared element found in a file. Offsets are byte offsets.
type declaration struct {
	kind      string
	name      string // simple name
	qualified string
	nameStart int
	nameEnd   int
	nodeStart int
	nodeEnd   int
	receiver  string
	parent    int // index into unit.decls, -1 at top level
}

func (d *declaration) contains(o *declaration) bool {
	if d.nodeStart == o.nodeStart && d.nodeEnd == o.nodeEnd {
		return false
	}
	return d.nodeStart <= o.nodeStart && o.nodeEnd <= d.nodeEnd
}

// span is a captured name or path.
type span struct {
	text  string
	start int
	end   int
}

// unit is everything the processors need from one parse of a file.
type unit struct {
	decls   []declaration
	imports []span
	refs    []span
}

// extractDeclarations runs the declaration query over the tree and nests the
// results by node range.
func extractDeclarations(query *tree_sitter.Query, tree *tree_sitter.Tree, content []byte) ([]declaration, []span) {
	qc := tree_sitter.NewQueryCursor()
	defer qc.Close()
	matches := qc.Matches(query, tree.RootNode(), content)
	captureNames := query.CaptureNames()

	var decls []declaration
	var imports []span
	seen := make(map[int]bool)
	for match := matches.Next(); match != nil; match = matches.Next() {
		var d declaration
		hasName := false
		for _, c := range match.Captures {
			name := captureNames[c.Index]
			start, end := int(c.Node.StartByte()), int(c.Node.EndByte())
			switch {
			case name == "import.path":
				if path := trimImport(string(content[start:end])); path != "" {
					imports = append(imports, span{text: path, start: start, end: end})
				}
			case name == "import":
			case strings.HasSuffix(name, ".receiver"):
				d.receiver = receiverType(string(content[start:end]))
			case strings.HasSuffix(name, ".name"):
				d.kind = strings.TrimSuffix(name, ".name")
				d.name = string(content[start:end])
				d.nameStart, d.nameEnd = start, end
				hasName = true
			default:
				d.nodeStart, d.nodeEnd = start, end
			}
		}
		if !hasName || d.name == "" || d.name == "_" || seen[d.nameStart] {
			continue
		}
		if d.nodeEnd == 0 {
			d.nodeStart, d.nodeEnd = d.nameStart, d.nameEnd
		}
		seen[d.nameStart] = true
		decls = append(decls, d)
	}
	nest(decls)
	return decls, imports
}

// nest assigns parents and qualified names. Outer declarations sort first.
func nest(decls []declaration) {
	sort.SliceStable(decls, func(i, j int) bool {
		if decls[i].nodeStart != decls[j].nodeStart {
			return decls[i].nodeStart < decls[j].nodeStart
		}
		if decls[i].nodeEnd != decls[j].nodeEnd {
			return decls[i].nodeEnd > decls[j].nodeEnd
		}
		return decls[i].nameStart < decls[j].nameStart
	})
	var stack []int
	for i := range decls {
		d := &decls[i]
		for len(stack) > 0 && !decls[stack[len(stack)-1]].contains(d) {
			stack = stack[:len(stack)-1]
		}
		d.parent = -1
		d.qualified = d.name
		switch {
		case d.receiver != "":
			d.qualified = d.receiver + "." + d.name
		case len(stack) > 0:
			p := &decls[stack[len(stack)-1]]
			d.parent = stack[len(stack)-1]
			d.qualified = p.qualified + "." + d.name
			if d.kind == "function" && typeKinds[p.kind] {
				d.kind = "method"
			}
		}
		stack = append(stack, i)
	}
}

// extractReferences runs the reference query, skipping declaration names.
func extractReferences(query *tree_sitter.Query, tree *tree_sitter.Tree, content []byte, decls []declaration) []span {
	declared := make(map[int]bool, len(decls))
	for _, d := range decls {
		declared[d.nameStart] = true
	}
	qc := tree_sitter.NewQueryCursor()
	defer qc.Close()
	matches := qc.Matches(query, tree.RootNode(), content)

	var refs []span
	seen := make(map[int]bool)
	for match := matches.Next(); match != nil; match = matches.Next() {
		for _, c := range match.Captures {
			start, end := int(c.Node.StartByte()), int(c.Node.EndByte())
			if declared[start] || seen[start] || end <= start {
				continue
			}
			seen[start] = true
			refs = append(refs, span{text: string(content[start:end]), start: start, end: end})
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].start < refs[j].start })
	return refs
}

// receiverType returns the type name of a Go receiver list such as "(s *Server[T])".
func receiverType(list string) string {
	list = strings.Trim(list, "()")
	fields := strings.Fields(list)
	if len(fields) == 0 {
		return ""
	}
	t := strings.TrimLeft(fields[len(fields)-1], "*")
	if i := strings.IndexByte(t, '['); i >= 0 {
		t = t[:i]
	}
	return t
}

func trimImport(path string) string {
	return strings.Trim(strings.TrimSpace(path), "\"'`<>")
}
