// Package plugin holds the declarative registration surface: plugins
// describe their contributed semantic types, formats, views, transformers,
// and actions in a Descriptor, and the Registry installs them atomically
// into the shared type and view registries.
package plugin

import (
	"context"
	"fmt"

	"lattice/internal/artifact"
	"lattice/internal/view"
)

// ActionKind distinguishes the three action shapes.
type ActionKind string

const (
	// KindMethod is a pure data-to-data transform.
	KindMethod ActionKind = "method"
	// KindVisualizer renders data into a terminal output directory and
	// produces no typed data output.
	KindVisualizer ActionKind = "visualizer"
	// KindPipeline orchestrates calls to other actions.
	KindPipeline ActionKind = "pipeline"
)

// ParamKind is the primitive type of a parameter value.
type ParamKind string

const (
	ParamInt    ParamKind = "int"
	ParamFloat  ParamKind = "float"
	ParamBool   ParamKind = "bool"
	ParamString ParamKind = "string"
)

// InputSpec declares one named action input. Constraint is a type
// expression in the registry grammar ("Seq[Aligned] | Table"); it is parsed
// and validated at plugin registration. View names the in-memory
// representation the action's function expects for this input.
type InputSpec struct {
	Name        string
	Description string
	Constraint  string
	View        view.Kind
}

// ParamSpec declares one named primitive parameter with its constraints.
type ParamSpec struct {
	Name        string
	Description string
	Kind        ParamKind
	Default     any  // applied when the caller omits the parameter
	HasDefault  bool
	Choices     []any    // non-empty: value must be one of these
	Min, Max    *float64 // numeric range, either side optional
}

// OutputSpec declares one named typed output.
type OutputSpec struct {
	Name        string
	Description string
	Type        string // type expression, resolved at registration
	View        view.Kind
	Format      string // on-disk format when archived
}

// MethodFunc is the underlying function of a Method action: materialized
// views in, one value per declared output out.
type MethodFunc func(ctx context.Context, inputs map[string]any, params map[string]any) ([]any, error)

// VisualizerFunc renders into outputDir and returns nothing.
type VisualizerFunc func(ctx context.Context, outputDir string, inputs map[string]any, params map[string]any) error

// PipelineContext is handed to pipeline functions so nested invocations go
// through the dispatcher and are recorded in the pipeline's provenance.
type PipelineContext interface {
	Invoke(ctx context.Context, plugin, action string, inputs map[string]*artifact.Result, params map[string]any) ([]*artifact.Result, error)
}

// PipelineFunc orchestrates nested actions and returns one Result per
// declared output.
type PipelineFunc func(ctx context.Context, pc PipelineContext, inputs map[string]*artifact.Result, params map[string]any) ([]*artifact.Result, error)

// Action is one plugin-contributed operation with a declared signature.
// Immutable once registered; owned by exactly one plugin.
type Action struct {
	Name        string
	Version     string
	Description string
	Kind        ActionKind
	Inputs      []InputSpec
	Parameters  []ParamSpec
	Outputs     []OutputSpec

	// Exactly one of these is set, matching Kind.
	Method     MethodFunc
	Visualizer VisualizerFunc
	Pipeline   PipelineFunc

	plugin string // owner, set by Registry.Register
}

// Plugin returns the owning plugin name.
func (a *Action) Plugin() string { return a.plugin }

// Ref returns the namespaced "plugin:action" identity.
func (a *Action) Ref() string { return a.plugin + ":" + a.Name }

func (a *Action) validate() error {
	switch a.Kind {
	case KindMethod:
		if a.Method == nil {
			return fmt.Errorf("action %s: method func missing", a.Name)
		}
	case KindVisualizer:
		if a.Visualizer == nil {
			return fmt.Errorf("action %s: visualizer func missing", a.Name)
		}
		if len(a.Outputs) != 0 {
			return fmt.Errorf("action %s: visualizers declare no typed outputs", a.Name)
		}
	case KindPipeline:
		if a.Pipeline == nil {
			return fmt.Errorf("action %s: pipeline func missing", a.Name)
		}
	default:
		return fmt.Errorf("action %s: unknown kind %q", a.Name, a.Kind)
	}
	if a.Kind != KindVisualizer && len(a.Outputs) == 0 {
		return fmt.Errorf("action %s: at least one output required", a.Name)
	}
	for _, p := range a.Parameters {
		switch p.Kind {
		case ParamInt, ParamFloat, ParamBool, ParamString:
		default:
			return fmt.Errorf("action %s: parameter %s: unknown kind %q", a.Name, p.Name, p.Kind)
		}
	}
	return nil
}
