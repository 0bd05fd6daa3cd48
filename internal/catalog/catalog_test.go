package catalog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lattice/internal/archive"
	"lattice/internal/artifact"
	"lattice/internal/plugin"
	"lattice/internal/provenance"
	"lattice/internal/types"
	"lattice/internal/view"
)

func openCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), ".lattice", "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func entry(digest, uuid string) Entry {
	return Entry{
		Digest:    digest,
		UUID:      uuid,
		Path:      "/archives/" + uuid + ".zip",
		Type:      "Seq[Aligned]",
		Format:    "fasta",
		Size:      1024,
		WrittenAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	c, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, c.Put(entry("d1", "u1")))
	require.NoError(t, c.Close())

	// Reopening migrates nothing and keeps the data.
	c, err = Open(path)
	require.NoError(t, err)
	defer c.Close()
	got, err := c.ByDigest("d1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UUID)
}

func TestPutAndLookup(t *testing.T) {
	c := openCatalog(t)
	e := entry("d1", "u1")
	require.NoError(t, c.Put(e))

	got, err := c.ByDigest("d1")
	require.NoError(t, err)
	assert.Equal(t, e.Path, got.Path)
	assert.Equal(t, e.Type, got.Type)
	assert.True(t, got.WrittenAt.Equal(e.WrittenAt))
	assert.False(t, got.AddedAt.IsZero())

	_, err = c.ByDigest("ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPutUpsertsByDigest(t *testing.T) {
	c := openCatalog(t)
	require.NoError(t, c.Put(entry("d1", "u1")))

	moved := entry("d1", "u1")
	moved.Path = "/moved/u1.zip"
	require.NoError(t, c.Put(moved))

	got, err := c.ByDigest("d1")
	require.NoError(t, err)
	assert.Equal(t, "/moved/u1.zip", got.Path)
	all, err := c.List()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestByUUIDAndList(t *testing.T) {
	c := openCatalog(t)
	require.NoError(t, c.Put(entry("d1", "u1")))
	require.NoError(t, c.Put(entry("d2", "u1")))
	require.NoError(t, c.Put(entry("d3", "u2")))

	byUUID, err := c.ByUUID("u1")
	require.NoError(t, err)
	assert.Len(t, byUUID, 2)

	all, err := c.List()
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRemove(t *testing.T) {
	c := openCatalog(t)
	require.NoError(t, c.Put(entry("d1", "u1")))
	require.NoError(t, c.Remove("d1"))
	_, err := c.ByDigest("d1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, c.Remove("d1"))
}

func TestPutRejectsIncompleteEntry(t *testing.T) {
	c := openCatalog(t)
	assert.Error(t, c.Put(Entry{Digest: "d1"}))
}

func TestIndexArchive(t *testing.T) {
	reg, err := plugin.NewRegistry(types.NewRegistry(), view.NewRegistry())
	require.NoError(t, err)
	require.NoError(t, reg.Register(plugin.Descriptor{
		Name:    "demo",
		Version: "1.0.0",
		Types:   []plugin.TypeDef{{Name: "Seq"}},
		Views:   []plugin.ViewDef{{TypeName: "Seq", Kind: "seq-str"}},
		Formats: []plugin.Format{{
			Name:  "fasta",
			Types: []string{"Seq"},
			View:  "seq-str",
			Encode: func(v any, dir string) error {
				return os.WriteFile(filepath.Join(dir, "sequences.fasta"), []byte(v.(string)), 0o644)
			},
			Decode: func(dir string) (any, error) {
				data, err := os.ReadFile(filepath.Join(dir, "sequences.fasta"))
				return string(data), err
			},
		}},
	}))
	graph := provenance.NewGraph()
	typ := reg.Types().MustMake("Seq")
	res, err := artifact.Import(graph, typ, "fasta", "seq-str", "acgt")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), res.UUID()+".zip")
	require.NoError(t, archive.Write(res, reg, path))

	c := openCatalog(t)
	e, err := c.Index(path)
	require.NoError(t, err)
	assert.Equal(t, res.UUID(), e.UUID)
	assert.Equal(t, "Seq", e.Type)
	assert.Equal(t, "fasta", e.Format)
	assert.Positive(t, e.Size)

	got, err := c.ByDigest(e.Digest)
	require.NoError(t, err)
	assert.Equal(t, e.Path, got.Path)

	// Indexing the same archive again is a stable upsert.
	again, err := c.Index(path)
	require.NoError(t, err)
	assert.Equal(t, e.Digest, again.Digest)
	all, err := c.List()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
