package plugin

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"gopkg.in/yaml.v3"

	"lattice/internal/logging"
	"lattice/internal/types"
	"lattice/internal/view"
)

var (
	// ErrNotFound is returned for lookups of unregistered plugins,
	// actions, or formats.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateRegistration is returned when a (plugin, name) pair is
	// re-registered with a differing definition. Re-registering an
	// identical descriptor is an idempotent no-op.
	ErrDuplicateRegistration = errors.New("duplicate registration")
)

// TypeDef declares one contributed semantic type.
type TypeDef struct {
	Name       string
	Parent     string
	Predicates []types.Predicate
	Exclusive  [][]types.Predicate // mutually exclusive predicate groups
}

// ViewDef binds a view kind to a semantic type name.
type ViewDef struct {
	TypeName string
	Kind     view.Kind
}

// TransformerDef declares one conversion edge.
type TransformerDef struct {
	From view.Kind
	To   view.Kind
	Func view.Func
}

// Descriptor enumerates everything one plugin contributes. It is plain
// data: inspectable and testable in isolation before registration.
type Descriptor struct {
	Name         string
	Version      string
	Website      string
	Description  string
	Types        []TypeDef
	Views        []ViewDef
	Formats      []Format
	Transformers []TransformerDef
	Actions      []Action
}

// installed is the registry's record of one accepted plugin.
type installed struct {
	desc        Descriptor
	fingerprint string
}

// Registry installs plugin descriptors into the shared type and view
// registries and owns action and format lookup. Populate during
// initialization; read-only during dispatch.
type Registry struct {
	types   *types.Registry
	views   *view.Registry
	plugins map[string]*installed
	actions map[string]*Action // "plugin:action"
	formats map[string]Format  // by format name
	typeOwn map[string]string  // type name -> owning plugin
	log     *slog.Logger
}

// NewRegistry returns a registry with the builtin visualization vocabulary
// pre-installed.
func NewRegistry(tr *types.Registry, vr *view.Registry) (*Registry, error) {
	r := &Registry{
		types:   tr,
		views:   vr,
		plugins: make(map[string]*installed),
		actions: make(map[string]*Action),
		formats: make(map[string]Format),
		typeOwn: make(map[string]string),
		log:     logging.New("plugin-registry"),
	}
	if err := tr.Register(VisualizationType); err != nil {
		return nil, err
	}
	vr.RegisterView(VisualizationType, VisualizationView)
	r.formats[VisualizationFormat] = visualizationFormat()
	return r, nil
}

// Types returns the underlying type registry.
func (r *Registry) Types() *types.Registry { return r.types }

// Views returns the underlying view registry.
func (r *Registry) Views() *view.Registry { return r.views }

// Register installs a plugin's contributions. Registration is atomic: the
// descriptor is fully validated first and any error leaves every registry
// untouched, so a failed plugin is simply not installed. Registering a
// plugin whose definition matches the already-installed one is a no-op;
// a differing definition fails with ErrDuplicateRegistration.
func (r *Registry) Register(desc Descriptor) error {
	if desc.Name == "" || desc.Version == "" {
		return fmt.Errorf("plugin descriptor requires name and version")
	}
	fp, err := fingerprint(desc)
	if err != nil {
		return err
	}
	if prev, ok := r.plugins[desc.Name]; ok {
		if prev.fingerprint == fp {
			return nil
		}
		return fmt.Errorf("%w: plugin %s re-registered with differing definition", ErrDuplicateRegistration, desc.Name)
	}
	if err := r.validate(desc); err != nil {
		return fmt.Errorf("plugin %s: %w", desc.Name, err)
	}
	r.apply(desc, fp)
	r.log.Info("plugin installed",
		slog.String("plugin", desc.Name),
		slog.String("version", desc.Version),
		slog.Int("types", len(desc.Types)),
		slog.Int("actions", len(desc.Actions)))
	return nil
}

// validate checks the whole descriptor against a staged clone of the
// current registries without mutating anything shared. Types contributed by
// the descriptor itself count as known for formats, views, and action
// signatures.
func (r *Registry) validate(desc Descriptor) error {
	staged := r.types.Clone()
	for _, td := range desc.Types {
		if r.types.Registered(td.Name) {
			return fmt.Errorf("%w: type %s already contributed by plugin %s",
				ErrDuplicateRegistration, td.Name, r.typeOwn[td.Name])
		}
		var opts []types.RegisterOption
		if td.Parent != "" {
			opts = append(opts, types.WithParent(td.Parent))
		}
		opts = append(opts, types.WithPredicates(td.Predicates...))
		for _, group := range td.Exclusive {
			opts = append(opts, types.WithExclusive(group...))
		}
		if err := staged.Register(td.Name, opts...); err != nil {
			return err
		}
	}
	known := staged.Registered
	seenViews := make(map[view.Kind]struct{})
	for _, k := range desc.Views {
		if k.TypeName == "" || k.Kind == "" {
			return fmt.Errorf("view binding requires type and kind")
		}
		if !known(k.TypeName) {
			return fmt.Errorf("view %s: %w: %s", k.Kind, types.ErrUnknownType, k.TypeName)
		}
		seenViews[k.Kind] = struct{}{}
	}
	viewKnown := func(k view.Kind) bool {
		_, staged := seenViews[k]
		return staged || r.views.Registered(k)
	}
	for _, td := range desc.Transformers {
		if !viewKnown(td.From) || !viewKnown(td.To) {
			return fmt.Errorf("transformer %s to %s: %w", td.From, td.To, view.ErrUnknownView)
		}
		if td.Func == nil {
			return fmt.Errorf("transformer %s to %s: nil func", td.From, td.To)
		}
	}
	for _, f := range desc.Formats {
		if err := f.validate(); err != nil {
			return err
		}
		if _, ok := r.formats[f.Name]; ok {
			return fmt.Errorf("%w: format %s", ErrDuplicateRegistration, f.Name)
		}
		for _, tn := range f.Types {
			if _, err := staged.Parse(tn); err != nil {
				return fmt.Errorf("format %s: %w", f.Name, err)
			}
		}
	}
	seenActions := make(map[string]struct{})
	for i := range desc.Actions {
		a := &desc.Actions[i]
		if a.Name == "" {
			return fmt.Errorf("action with empty name")
		}
		if _, ok := seenActions[a.Name]; ok {
			return fmt.Errorf("%w: action %s declared twice", ErrDuplicateRegistration, a.Name)
		}
		seenActions[a.Name] = struct{}{}
		if a.Version == "" {
			a.Version = desc.Version
		}
		if err := a.validate(); err != nil {
			return err
		}
		for _, in := range a.Inputs {
			if _, err := staged.Parse(in.Constraint); err != nil {
				return fmt.Errorf("action %s input %s: %w", a.Name, in.Name, err)
			}
			if in.View != "" && !viewKnown(in.View) {
				return fmt.Errorf("action %s input %s: %w: %s", a.Name, in.Name, view.ErrUnknownView, in.View)
			}
		}
		for _, out := range a.Outputs {
			if _, err := staged.Parse(out.Type); err != nil {
				return fmt.Errorf("action %s output %s: %w", a.Name, out.Name, err)
			}
			if out.View != "" && !viewKnown(out.View) {
				return fmt.Errorf("action %s output %s: %w: %s", a.Name, out.Name, view.ErrUnknownView, out.View)
			}
			if out.Format != "" {
				if _, ok := r.formats[out.Format]; !ok && !descHasFormat(desc, out.Format) {
					return fmt.Errorf("action %s output %s: %w: format %s", a.Name, out.Name, ErrNotFound, out.Format)
				}
			}
		}
	}
	return nil
}

func descHasFormat(desc Descriptor, name string) bool {
	for _, f := range desc.Formats {
		if f.Name == name {
			return true
		}
	}
	return false
}

// apply installs a validated descriptor. Must not fail.
func (r *Registry) apply(desc Descriptor, fp string) {
	for _, td := range desc.Types {
		var opts []types.RegisterOption
		if td.Parent != "" {
			opts = append(opts, types.WithParent(td.Parent))
		}
		opts = append(opts, types.WithPredicates(td.Predicates...))
		for _, group := range td.Exclusive {
			opts = append(opts, types.WithExclusive(group...))
		}
		if err := r.types.Register(td.Name, opts...); err != nil {
			// validate() already proved this cannot happen.
			panic(fmt.Sprintf("apply type %s after validation: %v", td.Name, err))
		}
		r.typeOwn[td.Name] = desc.Name
	}
	for _, vd := range desc.Views {
		r.views.RegisterView(vd.TypeName, vd.Kind)
	}
	for _, td := range desc.Transformers {
		if err := r.views.RegisterTransformer(td.From, td.To, td.Func); err != nil {
			panic(fmt.Sprintf("apply transformer after validation: %v", err))
		}
	}
	for _, f := range desc.Formats {
		r.formats[f.Name] = f
	}
	for i := range desc.Actions {
		a := desc.Actions[i]
		a.plugin = desc.Name
		if a.Version == "" {
			a.Version = desc.Version
		}
		r.actions[desc.Name+":"+a.Name] = &a
	}
	r.plugins[desc.Name] = &installed{desc: desc, fingerprint: fp}
}

// Action looks up a registered action by plugin and name.
func (r *Registry) Action(pluginName, actionName string) (*Action, error) {
	a, ok := r.actions[pluginName+":"+actionName]
	if !ok {
		return nil, fmt.Errorf("%w: action %s:%s", ErrNotFound, pluginName, actionName)
	}
	return a, nil
}

// Format looks up a registered format by name.
func (r *Registry) Format(name string) (Format, error) {
	f, ok := r.formats[name]
	if !ok {
		return Format{}, fmt.Errorf("%w: format %s", ErrNotFound, name)
	}
	return f, nil
}

// Plugins returns the installed plugin names in lexical order.
func (r *Registry) Plugins() []string {
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Actions returns the action names contributed by one plugin, lexically.
func (r *Registry) Actions(pluginName string) []string {
	inst, ok := r.plugins[pluginName]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(inst.desc.Actions))
	for _, a := range inst.desc.Actions {
		names = append(names, a.Name)
	}
	sort.Strings(names)
	return names
}

// fingerprint renders the comparable identity of a descriptor: everything
// declarative, nothing functional. Two descriptors with equal fingerprints
// are the same registration.
func fingerprint(desc Descriptor) (string, error) {
	type actionSig struct {
		Name       string       `yaml:"name"`
		Version    string       `yaml:"version"`
		Kind       ActionKind   `yaml:"kind"`
		Inputs     []InputSpec  `yaml:"inputs"`
		Parameters []ParamSpec  `yaml:"parameters"`
		Outputs    []OutputSpec `yaml:"outputs"`
	}
	type shadow struct {
		Name    string      `yaml:"name"`
		Version string      `yaml:"version"`
		Types   []TypeDef   `yaml:"types"`
		Views   []ViewDef   `yaml:"views"`
		Formats []string    `yaml:"formats"`
		Edges   [][2]string `yaml:"edges"`
		Actions []actionSig `yaml:"actions"`
	}
	s := shadow{Name: desc.Name, Version: desc.Version, Types: desc.Types, Views: desc.Views}
	for _, f := range desc.Formats {
		s.Formats = append(s.Formats, f.Name)
	}
	for _, t := range desc.Transformers {
		s.Edges = append(s.Edges, [2]string{string(t.From), string(t.To)})
	}
	for _, a := range desc.Actions {
		s.Actions = append(s.Actions, actionSig{
			Name: a.Name, Version: a.Version, Kind: a.Kind,
			Inputs: a.Inputs, Parameters: a.Parameters, Outputs: a.Outputs,
		})
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("fingerprint descriptor %s: %w", desc.Name, err)
	}
	return string(data), nil
}

