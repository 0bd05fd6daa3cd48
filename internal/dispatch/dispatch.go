// Package dispatch validates, converts, and invokes plugin-contributed
// actions. Invoke is the single entry point front ends call; everything a
// plugin function receives has passed parameter validation, semantic type
// checks, and view materialization, and everything it returns leaves as a
// provenance-stamped Result.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"lattice/internal/artifact"
	"lattice/internal/logging"
	"lattice/internal/plugin"
	"lattice/internal/provenance"
)

// Dispatcher invokes actions against a plugin registry and records every
// production in the provenance graph. Safe for concurrent Invoke calls as
// long as callers do not share a Result's materialization concurrently
// unsynchronized (Results guard their own view cache).
type Dispatcher struct {
	plugins *plugin.Registry
	graph   *provenance.Graph
	env     provenance.Environment
	log     *slog.Logger
}

// New returns a dispatcher bound to a populated plugin registry and a
// provenance graph. The runtime environment is captured once.
func New(plugins *plugin.Registry, graph *provenance.Graph) *Dispatcher {
	return &Dispatcher{
		plugins: plugins,
		graph:   graph,
		env:     provenance.CaptureEnvironment(),
		log:     logging.New("dispatch"),
	}
}

// Graph returns the provenance graph productions are recorded into.
func (d *Dispatcher) Graph() *provenance.Graph { return d.graph }

// Invoke runs one action: validates parameters against the declared
// constraints, checks every input's semantic type, materializes the views
// the underlying function needs, executes it, and wraps each declared
// output as a Result whose provenance node references the input Results'
// nodes. Returns outputs in signature order.
func (d *Dispatcher) Invoke(ctx context.Context, pluginName, actionName string, inputs map[string]*artifact.Result, params map[string]any) ([]*artifact.Result, error) {
	return d.invoke(ctx, pluginName, actionName, inputs, params, nil)
}

func (d *Dispatcher) invoke(ctx context.Context, pluginName, actionName string, inputs map[string]*artifact.Result, params map[string]any, rec *callRecorder) ([]*artifact.Result, error) {
	act, err := d.plugins.Action(pluginName, actionName)
	if err != nil {
		return nil, err
	}
	ref := act.Ref()

	vparams, err := validateParams(act, params)
	if err != nil {
		return nil, err
	}
	if err := d.checkInputTypes(act, inputs); err != nil {
		return nil, err
	}

	d.log.Debug("invoking action",
		slog.String("action", ref),
		slog.String("kind", string(act.Kind)),
		slog.Int("inputs", len(inputs)))

	var results []*artifact.Result
	switch act.Kind {
	case plugin.KindMethod:
		results, err = d.runMethod(ctx, act, inputs, vparams)
	case plugin.KindVisualizer:
		results, err = d.runVisualizer(ctx, act, inputs, vparams)
	case plugin.KindPipeline:
		results, err = d.runPipeline(ctx, act, inputs, vparams)
	default:
		err = fmt.Errorf("action %s: unknown kind %q", ref, act.Kind)
	}
	if err != nil {
		return nil, err
	}

	if rec != nil {
		rec.note(act, results)
	}
	return results, nil
}

// checkInputTypes verifies each declared input is present and satisfies its
// constraint. Undeclared extras are rejected too: a silently-ignored input
// would break the lineage guarantee that every parent appears in
// provenance.
func (d *Dispatcher) checkInputTypes(act *plugin.Action, inputs map[string]*artifact.Result) error {
	declared := make(map[string]struct{}, len(act.Inputs))
	for _, spec := range act.Inputs {
		declared[spec.Name] = struct{}{}
		res, ok := inputs[spec.Name]
		if !ok {
			return &TypeMismatchError{Action: act.Ref(), Input: spec.Name, Expected: spec.Constraint, Actual: "(missing)"}
		}
		constraint, err := d.plugins.Types().Parse(spec.Constraint)
		if err != nil {
			return fmt.Errorf("action %s input %s: %w", act.Ref(), spec.Name, err)
		}
		if !d.plugins.Types().Matches(res.Type(), constraint) {
			return &TypeMismatchError{
				Action:   act.Ref(),
				Input:    spec.Name,
				Expected: constraint.String(),
				Actual:   res.Type().String(),
			}
		}
	}
	for name := range inputs {
		if _, ok := declared[name]; !ok {
			return &TypeMismatchError{Action: act.Ref(), Input: name, Expected: "(not declared)", Actual: inputs[name].Type().String()}
		}
	}
	return nil
}

// materialize converts every input Result into the view kind the action's
// function expects.
func (d *Dispatcher) materialize(act *plugin.Action, inputs map[string]*artifact.Result) (map[string]any, error) {
	views := make(map[string]any, len(act.Inputs))
	for _, spec := range act.Inputs {
		res := inputs[spec.Name]
		v, err := res.Materialize(d.plugins.Views(), spec.View)
		if err != nil {
			return nil, &TransformError{Action: act.Ref(), Input: spec.Name, Err: err}
		}
		views[spec.Name] = v
	}
	return views, nil
}

func (d *Dispatcher) runMethod(ctx context.Context, act *plugin.Action, inputs map[string]*artifact.Result, vparams map[string]any) ([]*artifact.Result, error) {
	views, err := d.materialize(act, inputs)
	if err != nil {
		return nil, err
	}
	outs, err := act.Method(ctx, views, vparams)
	if err != nil {
		return nil, &ExecError{Plugin: act.Plugin(), Action: act.Name, Version: act.Version, Err: err}
	}
	if len(outs) != len(act.Outputs) {
		return nil, &ExecError{
			Plugin: act.Plugin(), Action: act.Name, Version: act.Version,
			Err: fmt.Errorf("returned %d outputs, signature declares %d", len(outs), len(act.Outputs)),
		}
	}
	return d.wrapOutputs(act, provenance.KindAction, inputs, vparams, outs, nil)
}

func (d *Dispatcher) runVisualizer(ctx context.Context, act *plugin.Action, inputs map[string]*artifact.Result, vparams map[string]any) ([]*artifact.Result, error) {
	views, err := d.materialize(act, inputs)
	if err != nil {
		return nil, err
	}
	dir, err := os.MkdirTemp("", "lattice-viz-")
	if err != nil {
		return nil, fmt.Errorf("visualizer output dir: %w", err)
	}
	if err := act.Visualizer(ctx, dir, views, vparams); err != nil {
		return nil, &ExecError{Plugin: act.Plugin(), Action: act.Name, Version: act.Version, Err: err}
	}
	node, err := d.record(act, provenance.KindAction, "visualization", uuid.NewString(), inputs, vparams, nil)
	if err != nil {
		return nil, err
	}
	typ := d.plugins.Types().MustMake(plugin.VisualizationType)
	res, err := artifact.New(node.UUID, typ, plugin.VisualizationFormat, plugin.VisualizationView, dir, node.ID, d.graph)
	if err != nil {
		return nil, err
	}
	return []*artifact.Result{res}, nil
}

func (d *Dispatcher) runPipeline(ctx context.Context, act *plugin.Action, inputs map[string]*artifact.Result, vparams map[string]any) ([]*artifact.Result, error) {
	rec := &callRecorder{}
	nested := &pipelineContext{d: d, ctx: ctx, rec: rec}
	outs, err := act.Pipeline(ctx, nested, inputs, vparams)
	if err != nil {
		return nil, &ExecError{Plugin: act.Plugin(), Action: act.Name, Version: act.Version, Err: err}
	}
	if len(outs) != len(act.Outputs) {
		return nil, &ExecError{
			Plugin: act.Plugin(), Action: act.Name, Version: act.Version,
			Err: fmt.Errorf("returned %d outputs, signature declares %d", len(outs), len(act.Outputs)),
		}
	}
	// A pipeline returns Results from its nested calls; each is re-wrapped
	// under the pipeline's own node so lineage shows the composed call,
	// with the nested invocations recorded in order.
	results := make([]*artifact.Result, len(outs))
	for i, spec := range act.Outputs {
		res := outs[i]
		if res == nil {
			return nil, &ExecError{
				Plugin: act.Plugin(), Action: act.Name, Version: act.Version,
				Err: fmt.Errorf("output %s is nil", spec.Name),
			}
		}
		declared, err := d.plugins.Types().Parse(spec.Type)
		if err != nil {
			return nil, fmt.Errorf("action %s output %s: %w", act.Ref(), spec.Name, err)
		}
		if !d.plugins.Types().Matches(res.Type(), declared) {
			return nil, &ExecError{
				Plugin: act.Plugin(), Action: act.Name, Version: act.Version,
				Err: fmt.Errorf("output %s: expected %s, got %s", spec.Name, declared, res.Type()),
			}
		}
		node, err := d.record(act, provenance.KindPipeline, spec.Name, uuid.NewString(), inputs, vparams, rec.calls)
		if err != nil {
			return nil, err
		}
		wrapped, err := artifact.New(node.UUID, res.Type(), res.Format(), res.ViewKind(), res.Value(), node.ID, d.graph)
		if err != nil {
			return nil, err
		}
		results[i] = wrapped
	}
	return results, nil
}

// wrapOutputs stamps one provenance node per declared output and wraps the
// raw values as Results.
func (d *Dispatcher) wrapOutputs(act *plugin.Action, kind provenance.Kind, inputs map[string]*artifact.Result, vparams map[string]any, outs []any, calls []provenance.CallRecord) ([]*artifact.Result, error) {
	results := make([]*artifact.Result, len(outs))
	for i, spec := range act.Outputs {
		typ, err := d.plugins.Types().Parse(spec.Type)
		if err != nil {
			return nil, fmt.Errorf("action %s output %s: %w", act.Ref(), spec.Name, err)
		}
		node, err := d.record(act, kind, spec.Name, uuid.NewString(), inputs, vparams, calls)
		if err != nil {
			return nil, err
		}
		res, err := artifact.New(node.UUID, typ, spec.Format, spec.View, outs[i], node.ID, d.graph)
		if err != nil {
			return nil, err
		}
		results[i] = res
	}
	return results, nil
}

// record appends the provenance node for one produced output. Parents are
// the input Results' nodes in signature order.
func (d *Dispatcher) record(act *plugin.Action, kind provenance.Kind, outputName, id string, inputs map[string]*artifact.Result, vparams map[string]any, calls []provenance.CallRecord) (*provenance.Node, error) {
	parents := make([]provenance.NodeID, 0, len(inputs))
	seen := make(map[provenance.NodeID]struct{}, len(inputs))
	for _, spec := range act.Inputs {
		n := inputs[spec.Name].Node()
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		parents = append(parents, n)
	}
	return d.graph.Record(provenance.Spec{
		Kind:        kind,
		Plugin:      act.Plugin(),
		Action:      act.Name,
		Version:     act.Version,
		OutputName:  outputName,
		UUID:        id,
		Parameters:  vparams,
		Parents:     parents,
		Environment: d.env,
		Calls:       calls,
	})
}

// callRecorder accumulates the ordered nested-invocation records of one
// pipeline run.
type callRecorder struct {
	calls []provenance.CallRecord
}

func (r *callRecorder) note(act *plugin.Action, results []*artifact.Result) {
	for _, res := range results {
		r.calls = append(r.calls, provenance.CallRecord{
			Plugin:  act.Plugin(),
			Action:  act.Name,
			Version: act.Version,
			Node:    res.Node(),
		})
	}
}

// pipelineContext routes nested invocations through the owning dispatcher
// so composed pipelines stay fully auditable.
type pipelineContext struct {
	d   *Dispatcher
	ctx context.Context
	rec *callRecorder
}

func (p *pipelineContext) Invoke(ctx context.Context, pluginName, actionName string, inputs map[string]*artifact.Result, params map[string]any) ([]*artifact.Result, error) {
	return p.d.invoke(ctx, pluginName, actionName, inputs, params, p.rec)
}

var _ plugin.PipelineContext = (*pipelineContext)(nil)
