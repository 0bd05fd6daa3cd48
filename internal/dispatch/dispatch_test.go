package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lattice/internal/artifact"
	"lattice/internal/plugin"
	"lattice/internal/provenance"
	"lattice/internal/types"
	"lattice/internal/view"
)

var errSimulated = errors.New("simulated plugin failure")

func float(f float64) *float64 { return &f }

// fixture wires a registry with one plugin covering every action kind plus
// a dispatcher and graph to run it against.
type fixture struct {
	plugins *plugin.Registry
	graph   *provenance.Graph
	d       *Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg, err := plugin.NewRegistry(types.NewRegistry(), view.NewRegistry())
	require.NoError(t, err)

	desc := plugin.Descriptor{
		Name:    "demo",
		Version: "1.0.0",
		Types: []plugin.TypeDef{
			{Name: "Data"},
			{Name: "Seq", Parent: "Data", Predicates: []types.Predicate{"Aligned", "Trimmed"}},
			{Name: "Table", Parent: "Data"},
		},
		Views: []plugin.ViewDef{
			{TypeName: "Seq", Kind: "seq-str"},
			{TypeName: "Seq", Kind: "seq-upper"},
			{TypeName: "Seq", Kind: "seq-exotic"}, // no transformer reaches it
			{TypeName: "Table", Kind: "table-rows"},
		},
		Transformers: []plugin.TransformerDef{
			{From: "seq-str", To: "seq-upper", Func: func(v any) (any, error) {
				return strings.ToUpper(v.(string)), nil
			}},
		},
		Actions: []plugin.Action{
			{
				Name:   "align",
				Kind:   plugin.KindMethod,
				Inputs: []plugin.InputSpec{{Name: "seq", Constraint: "Seq", View: "seq-str"}},
				Parameters: []plugin.ParamSpec{
					{Name: "mode", Kind: plugin.ParamString, Choices: []any{"fast", "exact"}},
					{Name: "min_score", Kind: plugin.ParamFloat, Default: 0.5, HasDefault: true, Min: float(0), Max: float(1)},
				},
				Outputs: []plugin.OutputSpec{{Name: "aligned", Type: "Seq[Aligned]", View: "seq-str"}},
				Method: func(ctx context.Context, inputs, params map[string]any) ([]any, error) {
					return []any{"aligned:" + inputs["seq"].(string)}, nil
				},
			},
			{
				Name:    "shout",
				Kind:    plugin.KindMethod,
				Inputs:  []plugin.InputSpec{{Name: "seq", Constraint: "Seq", View: "seq-upper"}},
				Outputs: []plugin.OutputSpec{{Name: "loud", Type: "Seq", View: "seq-upper"}},
				Method: func(ctx context.Context, inputs, params map[string]any) ([]any, error) {
					return []any{inputs["seq"]}, nil
				},
			},
			{
				Name:    "boom",
				Kind:    plugin.KindMethod,
				Inputs:  []plugin.InputSpec{{Name: "seq", Constraint: "Seq", View: "seq-str"}},
				Outputs: []plugin.OutputSpec{{Name: "out", Type: "Seq", View: "seq-str"}},
				Method: func(ctx context.Context, inputs, params map[string]any) ([]any, error) {
					return nil, errSimulated
				},
			},
			{
				Name:    "miscount",
				Kind:    plugin.KindMethod,
				Inputs:  []plugin.InputSpec{{Name: "seq", Constraint: "Seq", View: "seq-str"}},
				Outputs: []plugin.OutputSpec{{Name: "out", Type: "Seq", View: "seq-str"}},
				Method: func(ctx context.Context, inputs, params map[string]any) ([]any, error) {
					return []any{"a", "b"}, nil
				},
			},
			{
				Name:   "plot",
				Kind:   plugin.KindVisualizer,
				Inputs: []plugin.InputSpec{{Name: "seq", Constraint: "Seq", View: "seq-str"}},
				Visualizer: func(ctx context.Context, dir string, inputs, params map[string]any) error {
					html := "<html><body>" + inputs["seq"].(string) + "</body></html>"
					return os.WriteFile(filepath.Join(dir, "index.html"), []byte(html), 0o644)
				},
			},
			{
				Name:    "refine",
				Kind:    plugin.KindPipeline,
				Inputs:  []plugin.InputSpec{{Name: "seq", Constraint: "Seq", View: "seq-str"}},
				Outputs: []plugin.OutputSpec{{Name: "refined", Type: "Seq[Aligned]", View: "seq-str"}},
				Pipeline: func(ctx context.Context, pc plugin.PipelineContext, inputs map[string]*artifact.Result, params map[string]any) ([]*artifact.Result, error) {
					first, err := pc.Invoke(ctx, "demo", "align", inputs, map[string]any{"mode": "fast"})
					if err != nil {
						return nil, err
					}
					second, err := pc.Invoke(ctx, "demo", "align",
						map[string]*artifact.Result{"seq": first[0]},
						map[string]any{"mode": "exact"})
					if err != nil {
						return nil, err
					}
					return second, nil
				},
			},
		},
	}
	require.NoError(t, reg.Register(desc))

	graph := provenance.NewGraph()
	return &fixture{plugins: reg, graph: graph, d: New(reg, graph)}
}

func (f *fixture) importSeq(t *testing.T, value string, preds ...types.Predicate) *artifact.Result {
	t.Helper()
	typ := f.plugins.Types().MustMake("Seq", preds...)
	res, err := artifact.Import(f.graph, typ, "", "seq-str", value)
	require.NoError(t, err)
	return res
}

func TestInvokeMethod(t *testing.T) {
	f := newFixture(t)
	in := f.importSeq(t, "acgt")

	outs, err := f.d.Invoke(context.Background(), "demo", "align",
		map[string]*artifact.Result{"seq": in}, map[string]any{"mode": "fast"})
	require.NoError(t, err)
	require.Len(t, outs, 1)

	out := outs[0]
	assert.Equal(t, "Seq[Aligned]", out.Type().String())
	assert.Equal(t, "aligned:acgt", out.Value())

	node, ok := f.graph.Node(out.Node())
	require.True(t, ok)
	assert.Equal(t, provenance.KindAction, node.Kind)
	assert.Equal(t, "demo", node.Plugin)
	assert.Equal(t, "align", node.Action)
	assert.Equal(t, "1.0.0", node.Version)
	assert.Equal(t, "aligned", node.OutputName)
	assert.Equal(t, []provenance.NodeID{in.Node()}, node.Parents)
	assert.Equal(t, "fast", node.Parameters["mode"])
	// The omitted parameter was defaulted and recorded.
	assert.Equal(t, 0.5, node.Parameters["min_score"])
}

func TestRepeatedInvocationsAreDistinct(t *testing.T) {
	f := newFixture(t)
	in := f.importSeq(t, "acgt")
	params := map[string]any{"mode": "fast"}

	a, err := f.d.Invoke(context.Background(), "demo", "align", map[string]*artifact.Result{"seq": in}, params)
	require.NoError(t, err)
	b, err := f.d.Invoke(context.Background(), "demo", "align", map[string]*artifact.Result{"seq": in}, params)
	require.NoError(t, err)

	// Same computation twice: identical payloads, distinct identities.
	assert.Equal(t, a[0].Value(), b[0].Value())
	assert.NotEqual(t, a[0].UUID(), b[0].UUID())
	assert.NotEqual(t, a[0].Node(), b[0].Node())
}

func TestSubtypeSatisfiesConstraint(t *testing.T) {
	f := newFixture(t)
	in := f.importSeq(t, "acgt", "Aligned", "Trimmed")

	outs, err := f.d.Invoke(context.Background(), "demo", "align",
		map[string]*artifact.Result{"seq": in}, map[string]any{"mode": "exact"})
	require.NoError(t, err)
	assert.Equal(t, "aligned:acgt", outs[0].Value())
}

func TestTypeMismatch(t *testing.T) {
	f := newFixture(t)
	typ := f.plugins.Types().MustMake("Table")
	table, err := artifact.Import(f.graph, typ, "", "table-rows", [][]string{{"a"}})
	require.NoError(t, err)

	_, err = f.d.Invoke(context.Background(), "demo", "align",
		map[string]*artifact.Result{"seq": table}, map[string]any{"mode": "fast"})
	var tm *TypeMismatchError
	require.ErrorAs(t, err, &tm)
	assert.Equal(t, "seq", tm.Input)
	assert.Equal(t, "Seq", tm.Expected)
	assert.Equal(t, "Table", tm.Actual)
}

func TestMissingAndUndeclaredInputs(t *testing.T) {
	f := newFixture(t)

	_, err := f.d.Invoke(context.Background(), "demo", "align", nil, map[string]any{"mode": "fast"})
	var tm *TypeMismatchError
	require.ErrorAs(t, err, &tm)
	assert.Equal(t, "(missing)", tm.Actual)

	in := f.importSeq(t, "acgt")
	extra := f.importSeq(t, "tgca")
	_, err = f.d.Invoke(context.Background(), "demo", "align",
		map[string]*artifact.Result{"seq": in, "mystery": extra}, map[string]any{"mode": "fast"})
	require.ErrorAs(t, err, &tm)
	assert.Equal(t, "mystery", tm.Input)
}

func TestValidationAggregatesViolations(t *testing.T) {
	f := newFixture(t)
	in := f.importSeq(t, "acgt")

	_, err := f.d.Invoke(context.Background(), "demo", "align",
		map[string]*artifact.Result{"seq": in},
		map[string]any{"min_score": 3.0, "depth": 7})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	require.Len(t, ve.Violations, 3)
	joined := strings.Join(ve.Violations, "\n")
	assert.Contains(t, joined, `"depth" is not declared`)
	assert.Contains(t, joined, `"mode" is required`)
	assert.Contains(t, joined, `"min_score" must be <= 1`)
}

func TestValidationChecksChoicesAndKinds(t *testing.T) {
	f := newFixture(t)
	in := f.importSeq(t, "acgt")
	inputs := map[string]*artifact.Result{"seq": in}

	_, err := f.d.Invoke(context.Background(), "demo", "align", inputs, map[string]any{"mode": "sloppy"})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Violations[0], "must be one of")

	_, err = f.d.Invoke(context.Background(), "demo", "align", inputs, map[string]any{"mode": 12})
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Violations[0], "must be a string")
}

func TestChoicesBridgeIntegerAndFloat(t *testing.T) {
	act := &plugin.Action{
		Name: "bin",
		Parameters: []plugin.ParamSpec{{
			Name: "weight", Kind: plugin.ParamFloat, Choices: []any{0.5, 1.0, 2.0},
		}},
	}

	// Integers promote to float for the kind check, so they match float
	// choices too. The supplied representation is preserved.
	out, err := validateParams(act, map[string]any{"weight": 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), out["weight"])

	out, err = validateParams(act, map[string]any{"weight": 0.5})
	require.NoError(t, err)
	assert.Equal(t, 0.5, out["weight"])

	_, err = validateParams(act, map[string]any{"weight": 0.75})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Violations[0], "must be one of")

	// The bridge works in the other direction as well: integer-declared
	// choices accept an equal float.
	act.Parameters[0].Choices = []any{1, 2}
	_, err = validateParams(act, map[string]any{"weight": 2.0})
	require.NoError(t, err)
}

func TestTransformErrorOnDisconnectedViews(t *testing.T) {
	f := newFixture(t)
	typ := f.plugins.Types().MustMake("Seq")
	in, err := artifact.Import(f.graph, typ, "", "seq-exotic", "acgt")
	require.NoError(t, err)

	_, err = f.d.Invoke(context.Background(), "demo", "shout",
		map[string]*artifact.Result{"seq": in}, nil)
	var te *TransformError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, view.ErrNoPath)
}

func TestMaterializeConvertsInputViews(t *testing.T) {
	f := newFixture(t)
	in := f.importSeq(t, "acgt")

	outs, err := f.d.Invoke(context.Background(), "demo", "shout",
		map[string]*artifact.Result{"seq": in}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ACGT", outs[0].Value())
}

func TestExecErrorWrapsPluginFailure(t *testing.T) {
	f := newFixture(t)
	in := f.importSeq(t, "acgt")

	_, err := f.d.Invoke(context.Background(), "demo", "boom",
		map[string]*artifact.Result{"seq": in}, nil)
	var ee *ExecError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "demo", ee.Plugin)
	assert.Equal(t, "boom", ee.Action)
	assert.Equal(t, "1.0.0", ee.Version)
	assert.ErrorIs(t, err, errSimulated)

	// A failed action records nothing.
	assert.Equal(t, 1, f.graph.Len())
}

func TestOutputCountMismatchIsExecError(t *testing.T) {
	f := newFixture(t)
	in := f.importSeq(t, "acgt")

	_, err := f.d.Invoke(context.Background(), "demo", "miscount",
		map[string]*artifact.Result{"seq": in}, nil)
	var ee *ExecError
	require.ErrorAs(t, err, &ee)
	assert.Contains(t, ee.Error(), "signature declares 1")
}

func TestVisualizer(t *testing.T) {
	f := newFixture(t)
	in := f.importSeq(t, "acgt")

	outs, err := f.d.Invoke(context.Background(), "demo", "plot",
		map[string]*artifact.Result{"seq": in}, nil)
	require.NoError(t, err)
	require.Len(t, outs, 1)

	out := outs[0]
	assert.Equal(t, plugin.VisualizationType, out.Type().String())
	assert.Equal(t, plugin.VisualizationFormat, out.Format())

	dir, ok := out.Value().(string)
	require.True(t, ok)
	t.Cleanup(func() { os.RemoveAll(dir) })
	data, err := os.ReadFile(filepath.Join(dir, "index.html"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "acgt")
}

func TestPipelineRecordsNestedCalls(t *testing.T) {
	f := newFixture(t)
	in := f.importSeq(t, "acgt")

	outs, err := f.d.Invoke(context.Background(), "demo", "refine",
		map[string]*artifact.Result{"seq": in}, nil)
	require.NoError(t, err)
	require.Len(t, outs, 1)

	out := outs[0]
	assert.Equal(t, "Seq[Aligned]", out.Type().String())
	assert.Equal(t, "aligned:aligned:acgt", out.Value())

	node, ok := f.graph.Node(out.Node())
	require.True(t, ok)
	assert.Equal(t, provenance.KindPipeline, node.Kind)
	assert.Equal(t, []provenance.NodeID{in.Node()}, node.Parents)

	// Both nested invocations appear in execution order.
	require.Len(t, node.Calls, 2)
	for _, c := range node.Calls {
		assert.Equal(t, "demo", c.Plugin)
		assert.Equal(t, "align", c.Action)
	}
	first, ok := f.graph.Node(node.Calls[0].Node)
	require.True(t, ok)
	second, ok := f.graph.Node(node.Calls[1].Node)
	require.True(t, ok)
	assert.Equal(t, "fast", first.Parameters["mode"])
	assert.Equal(t, "exact", second.Parameters["mode"])
	assert.Equal(t, []provenance.NodeID{first.ID}, second.Parents)

	// The pipeline's subgraph closes over the import and every nested call.
	sub, err := f.graph.Subgraph(out.Node())
	require.NoError(t, err)
	ids := make(map[provenance.NodeID]bool, len(sub))
	for _, n := range sub {
		ids[n.ID] = true
	}
	for _, want := range []provenance.NodeID{in.Node(), first.ID, second.ID, node.ID} {
		assert.True(t, ids[want], "subgraph missing %s", want)
	}
}

func TestUnknownActionIsNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.d.Invoke(context.Background(), "demo", "ghost", nil, nil)
	assert.ErrorIs(t, err, plugin.ErrNotFound)
	_, err = f.d.Invoke(context.Background(), "ghost", "align", nil, nil)
	assert.ErrorIs(t, err, plugin.ErrNotFound)
}

func TestParameterNormalization(t *testing.T) {
	f := newFixture(t)
	in := f.importSeq(t, "acgt")

	// int32 min_score promotes to float; the recorded value is the
	// normalized one.
	outs, err := f.d.Invoke(context.Background(), "demo", "align",
		map[string]*artifact.Result{"seq": in},
		map[string]any{"mode": "fast", "min_score": int32(1)})
	require.NoError(t, err)

	node, ok := f.graph.Node(outs[0].Node())
	require.True(t, ok)
	assert.Equal(t, int64(1), node.Parameters["min_score"])
}

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Action: "demo:align", Violations: []string{"a", "b"}}
	assert.Equal(t, "invalid parameters for demo:align: a; b", err.Error())
	fmtErr := fmt.Errorf("run: %w", err)
	var ve *ValidationError
	assert.ErrorAs(t, fmtErr, &ve)
}
