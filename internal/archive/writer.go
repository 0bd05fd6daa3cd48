package archive

import (
	"archive/zip"
	"crypto/sha256"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"lattice/internal/artifact"
	"lattice/internal/plugin"
	"lattice/internal/provenance"
)

// Zip entry timestamps are pinned so identical content produces identical
// bytes. The wall-clock write time lives in metadata.yaml instead.
var zipEpoch = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

type entry struct {
	name string
	data []byte
}

// Write serializes a Result into a zip archive at path. The Result's data
// is encoded with its registered format; every ancestor provenance node is
// embedded metadata-only; checksums over all other entries are computed
// and written last. Only the root Result's data section is embedded.
func Write(res *artifact.Result, plugins *plugin.Registry, path string) error {
	if res.Format() == "" {
		return fmt.Errorf("result %s has no format, cannot archive", res.UUID())
	}
	format, err := plugins.Format(res.Format())
	if err != nil {
		return fmt.Errorf("archive %s: %w", res.UUID(), err)
	}
	value, err := res.Materialize(plugins.Views(), format.View)
	if err != nil {
		return fmt.Errorf("archive %s: %w", res.UUID(), err)
	}

	dataEntries, dataSize, err := encodeData(format, value)
	if err != nil {
		return fmt.Errorf("archive %s: %w", res.UUID(), err)
	}
	provEntries, err := encodeProvenance(res)
	if err != nil {
		return fmt.Errorf("archive %s: %w", res.UUID(), err)
	}

	meta := Manifest{
		UUID:      res.UUID(),
		Type:      res.Type().String(),
		Format:    res.Format(),
		Node:      string(res.Node()),
		WrittenAt: time.Now().UTC().Truncate(time.Second),
		DataSize:  dataSize,
	}
	metaData, err := yaml.Marshal(meta)
	if err != nil {
		return fmt.Errorf("archive %s: encode metadata: %w", res.UUID(), err)
	}

	entries := []entry{
		{versionName, versionFile(provenance.FrameworkVersion)},
		{metadataName, metaData},
	}
	entries = append(entries, dataEntries...)
	entries = append(entries, provEntries...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })
	entries = append(entries, entry{checksumsName, renderChecksums(entries)})

	return writeZip(path, res.UUID(), entries)
}

// encodeData runs the format encoder into a scratch directory and collects
// the produced tree as data/ entries in lexical order.
func encodeData(format plugin.Format, value any) ([]entry, int64, error) {
	dir, err := os.MkdirTemp("", "lattice-archive-")
	if err != nil {
		return nil, 0, err
	}
	defer os.RemoveAll(dir)
	if err := format.Encode(value, dir); err != nil {
		return nil, 0, fmt.Errorf("encode data with format %s: %w", format.Name, err)
	}

	var entries []entry
	var size int64
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		size += int64(len(data))
		entries = append(entries, entry{dataPrefix + filepath.ToSlash(rel), data})
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	if len(entries) == 0 {
		return nil, 0, fmt.Errorf("format %s produced no data files", format.Name)
	}
	return entries, size, nil
}

// encodeProvenance serializes the Result's full ancestry, one YAML record
// per node.
func encodeProvenance(res *artifact.Result) ([]entry, error) {
	nodes, err := res.Graph().Subgraph(res.Node())
	if err != nil {
		return nil, fmt.Errorf("collect provenance: %w", err)
	}
	entries := make([]entry, 0, len(nodes))
	for _, n := range nodes {
		data, err := provenance.Encode(n)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry{provenancePrefix + string(n.ID) + ".yaml", data})
	}
	return entries, nil
}

// renderChecksums produces the checksum manifest in sha256sum style, one
// line per entry, already in entry order.
func renderChecksums(entries []entry) []byte {
	var b []byte
	for _, e := range entries {
		sum := sha256.Sum256(e.data)
		b = fmt.Appendf(b, "%x  %s\n", sum, e.name)
	}
	return b
}

// writeZip writes all entries under a single <uuid>/ root with pinned
// timestamps, to a temp file renamed into place.
func writeZip(path, root string, entries []entry) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".lattice-*.zip")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	zw := zip.NewWriter(tmp)
	for _, e := range entries {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     root + "/" + e.name,
			Method:   zip.Deflate,
			Modified: zipEpoch,
		})
		if err != nil {
			return fmt.Errorf("write %s: %w", e.name, err)
		}
		if _, err := w.Write(e.data); err != nil {
			return fmt.Errorf("write %s: %w", e.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
