package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lattice/internal/types"
	"lattice/internal/view"
)

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(types.NewRegistry(), view.NewRegistry())
	require.NoError(t, err)
	return r
}

// demoDescriptor is a minimal but complete plugin: one type hierarchy, one
// format, two views, one transformer, one action.
func demoDescriptor() Descriptor {
	return Descriptor{
		Name:        "demo",
		Version:     "1.0.0",
		Description: "Demo sequence tools",
		Types: []TypeDef{
			{Name: "Seq", Predicates: []types.Predicate{"Aligned"}},
			{Name: "Table"},
		},
		Views: []ViewDef{
			{TypeName: "Seq", Kind: "seq-str"},
			{TypeName: "Seq", Kind: "seq-upper"},
		},
		Transformers: []TransformerDef{
			{From: "seq-str", To: "seq-upper", Func: func(v any) (any, error) { return v, nil }},
		},
		Formats: []Format{{
			Name:  "fasta",
			Types: []string{"Seq"},
			View:  "seq-str",
			Encode: func(v any, dir string) error {
				return os.WriteFile(filepath.Join(dir, "sequences.fasta"), []byte(fmt.Sprint(v)), 0o644)
			},
			Decode: func(dir string) (any, error) {
				data, err := os.ReadFile(filepath.Join(dir, "sequences.fasta"))
				return string(data), err
			},
		}},
		Actions: []Action{{
			Name:        "align",
			Kind:        KindMethod,
			Description: "Align sequences",
			Inputs:      []InputSpec{{Name: "seq", Constraint: "Seq", View: "seq-str"}},
			Parameters:  []ParamSpec{{Name: "mode", Kind: ParamString, Choices: []any{"fast", "exact"}}},
			Outputs:     []OutputSpec{{Name: "aligned", Type: "Seq[Aligned]", View: "seq-str", Format: "fasta"}},
			Method: func(ctx context.Context, inputs, params map[string]any) ([]any, error) {
				return []any{inputs["seq"]}, nil
			},
		}},
	}
}

func TestRegisterAndLookup(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Register(demoDescriptor()))

	a, err := r.Action("demo", "align")
	require.NoError(t, err)
	assert.Equal(t, "demo", a.Plugin())
	assert.Equal(t, "demo:align", a.Ref())
	assert.Equal(t, "1.0.0", a.Version) // inherited from the descriptor

	_, err = r.Format("fasta")
	assert.NoError(t, err)
	assert.True(t, r.Types().Registered("Seq"))
	assert.Equal(t, []view.Kind{"seq-str", "seq-upper"}, r.Views().KindsFor("Seq"))
}

func TestRegisterIsIdempotent(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Register(demoDescriptor()))
	assert.NoError(t, r.Register(demoDescriptor()))
	assert.Len(t, r.Plugins(), 1)
}

func TestRegisterRejectsChangedDefinition(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Register(demoDescriptor()))
	changed := demoDescriptor()
	changed.Actions[0].Outputs[0].Type = "Seq"
	err := r.Register(changed)
	assert.ErrorIs(t, err, ErrDuplicateRegistration)
}

func TestRegisterRejectsTypeCollisionAcrossPlugins(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Register(demoDescriptor()))
	other := demoDescriptor()
	other.Name = "other"
	err := r.Register(other)
	assert.ErrorIs(t, err, ErrDuplicateRegistration)
}

func TestFailedRegistrationInstallsNothing(t *testing.T) {
	r := newRegistry(t)
	bad := demoDescriptor()
	bad.Actions[0].Inputs[0].Constraint = "Ghost"
	err := r.Register(bad)
	require.ErrorIs(t, err, types.ErrUnknownType)

	// Atomicity: nothing from the failed descriptor leaked in.
	assert.Empty(t, r.Plugins())
	assert.False(t, r.Types().Registered("Seq"))
	_, err = r.Action("demo", "align")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.Format("fasta")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegisterRejectsContradictoryPredicateGroup(t *testing.T) {
	r := newRegistry(t)
	desc := demoDescriptor()
	desc.Types[0].Exclusive = [][]types.Predicate{{"DNA", "RNA"}}
	desc.Actions[0].Inputs[0].Constraint = "Seq[DNA,RNA]"
	err := r.Register(desc)
	assert.ErrorIs(t, err, types.ErrTypeConflict)
	assert.Empty(t, r.Plugins())
}

func TestRegisterRejectsVisualizerWithOutputs(t *testing.T) {
	r := newRegistry(t)
	desc := demoDescriptor()
	desc.Actions = append(desc.Actions, Action{
		Name:       "plot",
		Kind:       KindVisualizer,
		Inputs:     []InputSpec{{Name: "seq", Constraint: "Seq", View: "seq-str"}},
		Outputs:    []OutputSpec{{Name: "oops", Type: "Seq", View: "seq-str"}},
		Visualizer: func(ctx context.Context, dir string, inputs, params map[string]any) error { return nil },
	})
	assert.Error(t, r.Register(desc))
}

func TestDescribe(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Register(demoDescriptor()))

	d, err := r.Describe("demo", "align")
	require.NoError(t, err)
	assert.Equal(t, "demo", d.Plugin)
	assert.Equal(t, KindMethod, d.Kind)
	require.Len(t, d.Inputs, 1)
	assert.Equal(t, "Seq", d.Inputs[0].Constraint)
	require.Len(t, d.Parameters, 1)
	assert.True(t, d.Parameters[0].Required)
	assert.Equal(t, []any{"fast", "exact"}, d.Parameters[0].Choices)
	require.Len(t, d.Outputs, 1)
	assert.Equal(t, "Seq[Aligned]", d.Outputs[0].Type)

	_, err = r.Describe("demo", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEnumeration(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Register(demoDescriptor()))
	assert.Equal(t, []string{"demo"}, r.Plugins())
	assert.Equal(t, []string{"align"}, r.Actions("demo"))
	assert.Nil(t, r.Actions("ghost"))
}
