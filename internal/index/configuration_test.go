package index_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "github.com/standardbeagle/xref/internal/errors"
	"github.com/standardbeagle/xref/internal/index"
	"github.com/standardbeagle/xref/internal/types"
)

func nopFactory() index.Processor { return &references{} }

func reg(id index.ProcessorID, exts []string, uses ...index.ProcessorID) index.Registration {
	return index.Registration{
		Info:    index.ProcessorInfo{ID: id, Version: 1, Extensions: exts, Uses: uses},
		Factory: nopFactory,
	}
}

func TestDescribeIsDeterministic(t *testing.T) {
	regs := testRegistrations(&counters{})
	layers := index.StandardLayers()

	a, err := index.Build(regs, layers)
	require.NoError(t, err)

	reversedRegs := []index.Registration{regs[1], regs[0]}
	reversedLayers := make([]index.LayerDescriptor, len(layers))
	for i, l := range layers {
		reversedLayers[len(layers)-1-i] = l
	}
	b, err := index.Build(reversedRegs, reversedLayers)
	require.NoError(t, err)

	assert.Equal(t, a.Describe(), b.Describe())
	assert.Equal(t, "test.decl 1 .t .t2\n"+
		"test.refs 1 .t\n"+
		"contains\ndeclarations\nimports\nreferences\nunresolved\n", a.Describe())
}

func TestDescribeChangesWithConfiguration(t *testing.T) {
	base, err := index.Build([]index.Registration{reg("a", []string{".go"})}, nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		regs   []index.Registration
		layers []index.LayerDescriptor
	}{
		{"extra processor", []index.Registration{reg("a", []string{".go"}), reg("b", []string{".go"})}, nil},
		{"extra extension", []index.Registration{reg("a", []string{".go", ".mod"})}, nil},
		{"extra layer", []index.Registration{reg("a", []string{".go"})}, []index.LayerDescriptor{{ID: "l"}}},
		{"new version", []index.Registration{{Info: index.ProcessorInfo{ID: "a", Version: 2, Extensions: []string{".go"}}, Factory: nopFactory}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := index.Build(tt.regs, tt.layers)
			require.NoError(t, err)
			assert.NotEqual(t, base.Describe(), c.Describe())
		})
	}
}

func TestBuildNormalizesExtensions(t *testing.T) {
	c, err := index.Build([]index.Registration{reg("a", []string{"GO", ".Go", " .mod "})}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{".go", ".mod"}, c.Registrations()[0].Info.Extensions)
	assert.Equal(t, []string{".go", ".mod"}, c.Extensions())
}

func TestBuildRejectsBadWiring(t *testing.T) {
	layers := []index.LayerDescriptor{{ID: "decl"}}
	tests := []struct {
		name      string
		regs      []index.Registration
		layers    []index.LayerDescriptor
		processor string
	}{
		{"self use", []index.Registration{reg("a", []string{".go"}, "a")}, nil, "a"},
		{"missing use", []index.Registration{reg("a", []string{".go"}, "ghost")}, nil, "a"},
		{"duplicate id", []index.Registration{reg("a", []string{".go"}), reg("a", []string{".py"})}, nil, "a"},
		{"use cycle", []index.Registration{reg("a", []string{".go"}, "b"), reg("b", []string{".go"}, "a")}, nil, "a"},
		{"no extensions", []index.Registration{reg("a", nil)}, nil, "a"},
		{"no factory", []index.Registration{{Info: index.ProcessorInfo{ID: "a", Extensions: []string{".go"}}}}, nil, "a"},
		{"unknown layer", []index.Registration{{
			Info:        index.ProcessorInfo{ID: "a", Extensions: []string{".go"}},
			Contributes: []types.LayerID{"refs"},
			Factory:     nopFactory,
		}}, layers, "a"},
		{"duplicate layer", nil, []index.LayerDescriptor{{ID: "decl"}, {ID: "decl"}}, ""},
		{"empty processor id", []index.Registration{reg("", []string{".go"})}, nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := index.Build(tt.regs, tt.layers)
			require.Error(t, err)
			assert.Nil(t, c)
			var ce *xerrors.ConfigurationError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.processor, ce.Processor)
			assert.True(t, xerrors.IsConfiguration(err))
		})
	}
}

func TestSelfUseAlwaysRejected(t *testing.T) {
	for _, id := range []index.ProcessorID{"a", "go.declarations", "x.y.z"} {
		_, err := index.Build([]index.Registration{
			reg("other", []string{".go"}),
			reg(id, []string{".go"}, "other", id),
		}, nil)
		var ce *xerrors.ConfigurationError
		require.ErrorAs(t, err, &ce, "processor %s", id)
		assert.Contains(t, ce.Error(), "uses itself")
	}
}

func TestInstantiateWiresLayers(t *testing.T) {
	c, err := index.Build(testRegistrations(&counters{}), index.StandardLayers())
	require.NoError(t, err)
	inst := c.Instantiate()

	assert.Same(t, c, inst.Configuration())
	require.Len(t, inst.Layers(), 5)
	assert.Equal(t, index.LayerContains, inst.Layers()[0].ID())
	assert.Equal(t, []index.ProcessorID{declProcessor}, inst.Layer(index.LayerDeclarations).Contributors())
	assert.Equal(t, []index.ProcessorID{refsProcessor}, inst.Layer(index.LayerUnresolved).Contributors())
	assert.Empty(t, inst.Layer(index.LayerImports).Contributors())
	assert.Nil(t, inst.Layer("missing"))

	// a second instance gets its own layers
	assert.NotSame(t, inst.Layer(index.LayerDeclarations), c.Instantiate().Layer(index.LayerDeclarations))
}
