package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"lattice/internal/artifact"
	"lattice/internal/plugin"
	"lattice/internal/provenance"
)

// verifyParallelism bounds the checksum fan-out during Read and Validate.
const verifyParallelism = 8

// Read verifies and loads an archived Result. Every checksum is checked
// before anything is materialized; type and format names are resolved
// against the live registries; the provenance subgraph is adopted into
// graph as read-only history. Any integrity failure invalidates the whole
// read.
func Read(ctx context.Context, path string, plugins *plugin.Registry, graph *provenance.Graph) (*artifact.Result, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer zr.Close()

	root, meta, err := manifest(&zr.Reader)
	if err != nil {
		return nil, err
	}
	if err := verify(ctx, &zr.Reader, root); err != nil {
		return nil, err
	}

	typ, err := plugins.Types().Parse(meta.Type)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, meta.Type)
	}
	format, err := plugins.Format(meta.Format)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, meta.Format)
	}

	if err := adoptProvenance(&zr.Reader, root, graph); err != nil {
		return nil, err
	}
	rootID := provenance.NodeID(meta.Node)
	if _, ok := graph.Node(rootID); !ok {
		return nil, fmt.Errorf("%w: root provenance node %s missing", ErrCorrupt, meta.Node)
	}

	value, err := decodeData(&zr.Reader, root, format)
	if err != nil {
		return nil, err
	}
	return artifact.New(meta.UUID, typ, meta.Format, format.View, value, rootID, graph)
}

// Peek returns the archive's manifest without extracting or verifying the
// data section. The version gate still applies.
func Peek(path string) (Manifest, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer zr.Close()
	_, meta, err := manifest(&zr.Reader)
	return meta, err
}

// Validate runs the full checksum pass without materializing the Result.
// No registry is needed: only integrity and version are checked.
func Validate(ctx context.Context, path string) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer zr.Close()
	root, _, err := manifest(&zr.Reader)
	if err != nil {
		return err
	}
	return verify(ctx, &zr.Reader, root)
}

// History verifies an archive and returns its provenance subgraph in
// dependency order, without resolving types or formats. Front ends use it
// to render lineage for archives whose plugins are not installed.
func History(ctx context.Context, path string) ([]*provenance.Node, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer zr.Close()
	root, meta, err := manifest(&zr.Reader)
	if err != nil {
		return nil, err
	}
	if err := verify(ctx, &zr.Reader, root); err != nil {
		return nil, err
	}
	graph := provenance.NewGraph()
	if err := adoptProvenance(&zr.Reader, root, graph); err != nil {
		return nil, err
	}
	return graph.Subgraph(provenance.NodeID(meta.Node))
}

// Extract verifies an archive and copies its data section into dir without
// running a format decoder.
func Extract(ctx context.Context, path, dir string) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer zr.Close()
	root, _, err := manifest(&zr.Reader)
	if err != nil {
		return err
	}
	if err := verify(ctx, &zr.Reader, root); err != nil {
		return err
	}
	for _, f := range zr.File {
		name := strings.TrimPrefix(f.Name, root+"/")
		rel, ok := strings.CutPrefix(name, dataPrefix)
		if !ok || rel == "" || strings.HasSuffix(name, "/") {
			continue
		}
		dst := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		data, err := readEntry(&zr.Reader, f.Name)
		if err != nil {
			return err
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// Digest returns the content identity of an archive: a hash over the
// checksums of its data and provenance entries. It is stable across
// repeated writes of the same (data, provenance) pair because the varying
// metadata.yaml is excluded.
func Digest(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer zr.Close()
	root, _, err := manifest(&zr.Reader)
	if err != nil {
		return "", err
	}
	sums, err := readChecksums(&zr.Reader, root)
	if err != nil {
		return "", err
	}
	names := make([]string, 0, len(sums))
	for name := range sums {
		if strings.HasPrefix(name, dataPrefix) || strings.HasPrefix(name, provenancePrefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	h := sha256.New()
	for _, name := range names {
		fmt.Fprintf(h, "%s  %s\n", sums[name], name)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// manifest locates the single root directory, enforces the version gate,
// and decodes metadata.yaml.
func manifest(zr *zip.Reader) (string, Manifest, error) {
	root, err := rootDir(zr)
	if err != nil {
		return "", Manifest{}, err
	}
	vdata, err := readEntry(zr, root+"/"+versionName)
	if err != nil {
		return "", Manifest{}, err
	}
	version, framework, err := parseVersionFile(vdata)
	if err != nil {
		return "", Manifest{}, err
	}
	mdata, err := readEntry(zr, root+"/"+metadataName)
	if err != nil {
		return "", Manifest{}, err
	}
	var meta Manifest
	if err := yaml.Unmarshal(mdata, &meta); err != nil {
		return "", Manifest{}, fmt.Errorf("%w: metadata.yaml: %v", ErrCorrupt, err)
	}
	if meta.UUID != root {
		return "", Manifest{}, fmt.Errorf("%w: metadata uuid %s does not match root %s", ErrCorrupt, meta.UUID, root)
	}
	meta.Version = version
	meta.Framework = framework
	return root, meta, nil
}

// rootDir finds the single top-level directory all entries live under.
func rootDir(zr *zip.Reader) (string, error) {
	root := ""
	for _, f := range zr.File {
		top, _, ok := strings.Cut(f.Name, "/")
		if !ok || top == "" {
			return "", fmt.Errorf("%w: entry %q outside root directory", ErrCorrupt, f.Name)
		}
		if root == "" {
			root = top
		} else if top != root {
			return "", fmt.Errorf("%w: multiple root directories %q and %q", ErrCorrupt, root, top)
		}
	}
	if root == "" {
		return "", fmt.Errorf("%w: empty archive", ErrCorrupt)
	}
	return root, nil
}

// verify checks every entry against the checksum manifest, both ways:
// unlisted extras and listed-but-missing entries are corruption. Hashing
// fans out across entries; the first failure cancels the rest.
func verify(ctx context.Context, zr *zip.Reader, root string) error {
	sums, err := readChecksums(zr, root)
	if err != nil {
		return err
	}
	present := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		name := strings.TrimPrefix(f.Name, root+"/")
		if name == checksumsName {
			continue
		}
		// Notes are checksum-exempt so attaching or removing one does not
		// invalidate the archive. Each note carries its own manifest,
		// checked when it is loaded.
		if strings.HasPrefix(name, annotationsPrefix) {
			continue
		}
		if _, listed := sums[name]; !listed {
			return fmt.Errorf("%w: entry %s not covered by checksums", ErrCorrupt, name)
		}
		present[name] = f
	}
	for name := range sums {
		if _, ok := present[name]; !ok {
			return fmt.Errorf("%w: entry %s listed but missing", ErrCorrupt, name)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(verifyParallelism)
	for name, f := range present {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rc, err := f.Open()
			if err != nil {
				return fmt.Errorf("%w: open %s: %v", ErrCorrupt, name, err)
			}
			defer rc.Close()
			h := sha256.New()
			if _, err := io.Copy(h, rc); err != nil {
				return fmt.Errorf("%w: read %s: %v", ErrCorrupt, name, err)
			}
			if got := hex.EncodeToString(h.Sum(nil)); got != sums[name] {
				return fmt.Errorf("%w: checksum mismatch for %s", ErrCorrupt, name)
			}
			return nil
		})
	}
	return g.Wait()
}

// readChecksums parses the sha256sum-style manifest.
func readChecksums(zr *zip.Reader, root string) (map[string]string, error) {
	data, err := readEntry(zr, root+"/"+checksumsName)
	if err != nil {
		return nil, err
	}
	sums := make(map[string]string)
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		sum, name, ok := strings.Cut(line, "  ")
		if !ok || len(sum) != sha256.Size*2 {
			return nil, fmt.Errorf("%w: malformed checksum line %q", ErrCorrupt, line)
		}
		sums[name] = sum
	}
	return sums, nil
}

// adoptProvenance decodes every provenance record and adopts the nodes in
// dependency order. Adoption re-verifies each node's content hash, so a
// tampered record fails even though its file checksum matched.
func adoptProvenance(zr *zip.Reader, root string, graph *provenance.Graph) error {
	var nodes []*provenance.Node
	for _, f := range zr.File {
		name := strings.TrimPrefix(f.Name, root+"/")
		if !strings.HasPrefix(name, provenancePrefix) || !strings.HasSuffix(name, ".yaml") {
			continue
		}
		data, err := readEntry(zr, f.Name)
		if err != nil {
			return err
		}
		n, err := provenance.Decode(data)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrCorrupt, name, err)
		}
		nodes = append(nodes, n)
	}
	// Records carry parent references; adopt in passes so parents always
	// land first regardless of entry order.
	for len(nodes) > 0 {
		progressed := false
		remaining := nodes[:0]
		for _, n := range nodes {
			if ready(n, graph) {
				if err := graph.Adopt(n); err != nil {
					return fmt.Errorf("%w: provenance node %s: %v", ErrCorrupt, n.ID, err)
				}
				progressed = true
			} else {
				remaining = append(remaining, n)
			}
		}
		if !progressed {
			return fmt.Errorf("%w: provenance records with unresolvable parents", ErrCorrupt)
		}
		nodes = remaining
	}
	return nil
}

func ready(n *provenance.Node, graph *provenance.Graph) bool {
	for _, p := range n.Parents {
		if _, ok := graph.Node(p); !ok {
			return false
		}
	}
	for _, c := range n.Calls {
		if _, ok := graph.Node(c.Node); !ok {
			return false
		}
	}
	return true
}

// decodeData extracts the data section to a scratch directory and runs the
// format decoder over it.
func decodeData(zr *zip.Reader, root string, format plugin.Format) (any, error) {
	dir, err := os.MkdirTemp("", "lattice-archive-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)
	for _, f := range zr.File {
		name := strings.TrimPrefix(f.Name, root+"/")
		rel, ok := strings.CutPrefix(name, dataPrefix)
		if !ok || rel == "" || strings.HasSuffix(name, "/") {
			continue
		}
		dst := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return nil, err
		}
		data, err := readEntry(zr, f.Name)
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return nil, err
		}
	}
	value, err := format.Decode(dir)
	if err != nil {
		return nil, fmt.Errorf("decode data with format %s: %w", format.Name, err)
	}
	return value, nil
}

func readEntry(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name == name {
			rc, err := f.Open()
			if err != nil {
				return nil, fmt.Errorf("%w: open %s: %v", ErrCorrupt, name, err)
			}
			defer rc.Close()
			var buf bytes.Buffer
			if _, err := io.Copy(&buf, rc); err != nil {
				return nil, fmt.Errorf("%w: read %s: %v", ErrCorrupt, name, err)
			}
			return buf.Bytes(), nil
		}
	}
	return nil, fmt.Errorf("%w: missing entry %s", ErrCorrupt, name)
}
