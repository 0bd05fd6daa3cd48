package plugin

import "fmt"

// ActionDescription is the full signature of an action, exposed so front
// ends can build their own UIs and help text without touching internals.
type ActionDescription struct {
	Plugin      string             `yaml:"plugin"`
	Name        string             `yaml:"name"`
	Version     string             `yaml:"version"`
	Kind        ActionKind         `yaml:"kind"`
	Description string             `yaml:"description,omitempty"`
	Inputs      []InputDescription `yaml:"inputs,omitempty"`
	Parameters  []ParamDescription `yaml:"parameters,omitempty"`
	Outputs     []OutputDescription `yaml:"outputs,omitempty"`
}

// InputDescription describes one declared input and its type constraint.
type InputDescription struct {
	Name        string `yaml:"name"`
	Constraint  string `yaml:"constraint"`
	Description string `yaml:"description,omitempty"`
}

// ParamDescription describes one declared parameter and its constraints.
type ParamDescription struct {
	Name        string    `yaml:"name"`
	Kind        ParamKind `yaml:"kind"`
	Description string    `yaml:"description,omitempty"`
	Required    bool      `yaml:"required"`
	Default     any       `yaml:"default,omitempty"`
	Choices     []any     `yaml:"choices,omitempty"`
	Min         *float64  `yaml:"min,omitempty"`
	Max         *float64  `yaml:"max,omitempty"`
}

// OutputDescription describes one declared output.
type OutputDescription struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Format      string `yaml:"format,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// Describe returns the full signature of a registered action.
func (r *Registry) Describe(pluginName, actionName string) (ActionDescription, error) {
	a, err := r.Action(pluginName, actionName)
	if err != nil {
		return ActionDescription{}, err
	}
	d := ActionDescription{
		Plugin:      a.Plugin(),
		Name:        a.Name,
		Version:     a.Version,
		Kind:        a.Kind,
		Description: a.Description,
	}
	for _, in := range a.Inputs {
		d.Inputs = append(d.Inputs, InputDescription{
			Name:        in.Name,
			Constraint:  in.Constraint,
			Description: in.Description,
		})
	}
	for _, p := range a.Parameters {
		d.Parameters = append(d.Parameters, ParamDescription{
			Name:        p.Name,
			Kind:        p.Kind,
			Description: p.Description,
			Required:    !p.HasDefault,
			Default:     p.Default,
			Choices:     p.Choices,
			Min:         p.Min,
			Max:         p.Max,
		})
	}
	for _, o := range a.Outputs {
		d.Outputs = append(d.Outputs, OutputDescription{
			Name:        o.Name,
			Type:        o.Type,
			Format:      o.Format,
			Description: o.Description,
		})
	}
	if a.Kind == KindVisualizer {
		d.Outputs = append(d.Outputs, OutputDescription{
			Name:        "visualization",
			Type:        VisualizationType,
			Format:      VisualizationFormat,
			Description: "Rendered output",
		})
	}
	return d, nil
}

// DescribePlugin returns a short human-readable header for one plugin.
func (r *Registry) DescribePlugin(pluginName string) (string, error) {
	inst, ok := r.plugins[pluginName]
	if !ok {
		return "", fmt.Errorf("%w: plugin %s", ErrNotFound, pluginName)
	}
	return fmt.Sprintf("%s %s: %s", inst.desc.Name, inst.desc.Version, inst.desc.Description), nil
}
