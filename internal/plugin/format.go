package plugin

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"lattice/internal/view"
)

// EncodeFunc writes a view value into dir as the format's on-disk layout.
type EncodeFunc func(v any, dir string) error

// DecodeFunc reads the format's on-disk layout from dir into a view value.
type DecodeFunc func(dir string) (any, error)

// Format is a concrete on-disk encoding bound to one or more semantic
// types. Immutable once registered.
type Format struct {
	Name        string
	Description string
	Types       []string  // type expressions this format can carry
	View        view.Kind // the view kind Encode consumes and Decode produces
	Encode      EncodeFunc
	Decode      DecodeFunc
}

func (f Format) validate() error {
	if f.Name == "" {
		return fmt.Errorf("format with empty name")
	}
	if f.Encode == nil || f.Decode == nil {
		return fmt.Errorf("format %s: encode and decode are both required", f.Name)
	}
	if f.View == "" {
		return fmt.Errorf("format %s: view kind required", f.Name)
	}
	return nil
}

// Builtin vocabulary for visualizer outputs. Every registry carries these
// so rendered results archive uniformly regardless of plugin.
const (
	// VisualizationType is the semantic type of every visualizer output.
	VisualizationType = "Visualization"
	// VisualizationView is the view kind: a path to a rendered directory.
	VisualizationView view.Kind = "rendered-dir"
	// VisualizationFormat is the on-disk format: the directory tree as-is.
	VisualizationFormat = "visualization-dir"
)

// visualizationFormat copies a rendered directory in and out of the data
// section untouched.
func visualizationFormat() Format {
	return Format{
		Name:        VisualizationFormat,
		Description: "Rendered visualization directory",
		Types:       []string{VisualizationType},
		View:        VisualizationView,
		Encode: func(v any, dir string) error {
			src, ok := v.(string)
			if !ok {
				return fmt.Errorf("visualization view must be a directory path, got %T", v)
			}
			return copyTree(src, dir)
		},
		Decode: func(dir string) (any, error) {
			// dir is decoder scratch space and is reclaimed after Decode
			// returns, so the tree moves to a directory the result owns.
			out, err := os.MkdirTemp("", "lattice-viz-")
			if err != nil {
				return nil, err
			}
			if err := copyTree(dir, out); err != nil {
				os.RemoveAll(out)
				return nil, err
			}
			return out, nil
		},
	}
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		out, err := os.Create(target)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, in); err != nil {
			out.Close()
			return err
		}
		return out.Close()
	})
}
