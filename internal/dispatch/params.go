package dispatch

import (
	"fmt"

	"lattice/internal/plugin"
)

// validateParams checks every supplied parameter against the action's
// declared constraints and applies defaults for omitted ones. All
// violations are collected before failing so plugin authors and front ends
// see the complete picture in one pass.
func validateParams(act *plugin.Action, params map[string]any) (map[string]any, error) {
	var violations []string
	out := make(map[string]any, len(act.Parameters))

	declared := make(map[string]plugin.ParamSpec, len(act.Parameters))
	for _, spec := range act.Parameters {
		declared[spec.Name] = spec
	}
	for name := range params {
		if _, ok := declared[name]; !ok {
			violations = append(violations, fmt.Sprintf("parameter %q is not declared by %s", name, act.Ref()))
		}
	}

	for _, spec := range act.Parameters {
		raw, supplied := params[spec.Name]
		if !supplied {
			if spec.HasDefault {
				out[spec.Name] = normalize(spec.Default)
				continue
			}
			violations = append(violations, fmt.Sprintf("parameter %q is required", spec.Name))
			continue
		}
		v := normalize(raw)
		if msg := checkKind(spec, v); msg != "" {
			violations = append(violations, msg)
			continue
		}
		if msg := checkChoices(spec, v); msg != "" {
			violations = append(violations, msg)
			continue
		}
		if msg := checkRange(spec, v); msg != "" {
			violations = append(violations, msg)
			continue
		}
		out[spec.Name] = v
	}

	if len(violations) > 0 {
		return nil, &ValidationError{Action: act.Ref(), Violations: violations}
	}
	return out, nil
}

// normalize collapses integer and float widths so comparisons against
// choices and ranges are uniform, and so values round-trip through YAML
// provenance records unchanged.
func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case uint:
		return int64(n)
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case float32:
		return float64(n)
	default:
		return v
	}
}

func checkKind(spec plugin.ParamSpec, v any) string {
	switch spec.Kind {
	case plugin.ParamInt:
		if _, ok := v.(int64); !ok {
			return fmt.Sprintf("parameter %q must be an integer, got %T", spec.Name, v)
		}
	case plugin.ParamFloat:
		switch v.(type) {
		case float64, int64: // integers promote
		default:
			return fmt.Sprintf("parameter %q must be a number, got %T", spec.Name, v)
		}
	case plugin.ParamBool:
		if _, ok := v.(bool); !ok {
			return fmt.Sprintf("parameter %q must be a boolean, got %T", spec.Name, v)
		}
	case plugin.ParamString:
		if _, ok := v.(string); !ok {
			return fmt.Sprintf("parameter %q must be a string, got %T", spec.Name, v)
		}
	}
	return ""
}

func checkChoices(spec plugin.ParamSpec, v any) string {
	if len(spec.Choices) == 0 {
		return ""
	}
	for _, c := range spec.Choices {
		if choiceEqual(normalize(c), v) {
			return ""
		}
	}
	return fmt.Sprintf("parameter %q must be one of %v, got %v", spec.Name, spec.Choices, v)
}

// choiceEqual compares a declared choice against a supplied value, bridging
// the int-to-float promotion checkKind allows.
func choiceEqual(c, v any) bool {
	if c == v {
		return true
	}
	cf, cok := asFloat(c)
	vf, vok := asFloat(v)
	return cok && vok && cf == vf
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func checkRange(spec plugin.ParamSpec, v any) string {
	if spec.Min == nil && spec.Max == nil {
		return ""
	}
	var f float64
	switch n := v.(type) {
	case int64:
		f = float64(n)
	case float64:
		f = n
	default:
		return "" // non-numeric kinds never declare ranges
	}
	if spec.Min != nil && f < *spec.Min {
		return fmt.Sprintf("parameter %q must be >= %v, got %v", spec.Name, *spec.Min, v)
	}
	if spec.Max != nil && f > *spec.Max {
		return fmt.Sprintf("parameter %q must be <= %v, got %v", spec.Name, *spec.Max, v)
	}
	return ""
}
