package archive

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// maxNoteSize bounds the contents of a single note.
const maxNoteSize = 10 << 20

const (
	noteKind     = "note"
	noteFileName = "note.txt"
)

// Note is a free-form text annotation attached to an archive after it is
// written. Notes live under the annotations/ section, outside the root
// checksum manifest, so attaching or removing one never invalidates the
// archive. Each note directory carries its own manifest instead, making
// the note itself tamper-evident. Names are unique per archive.
type Note struct {
	ID             string    `yaml:"id"`
	Name           string    `yaml:"name"`
	Kind           string    `yaml:"kind"`
	CreatedAt      time.Time `yaml:"created-at"`
	RootUUID       string    `yaml:"root-uuid"`
	ReferencedUUID string    `yaml:"referenced-uuid"`
	Contents       string    `yaml:"-"`
}

// Annotate attaches a note to the archive at path and returns it. The
// contents must be UTF-8 and at most 10 MiB. The archive is rewritten in
// place atomically; its data, provenance, and checksum entries are carried
// over byte for byte.
func Annotate(path, name, contents string) (Note, error) {
	if err := validateNoteName(name); err != nil {
		return Note{}, err
	}
	if len(contents) > maxNoteSize {
		return Note{}, fmt.Errorf("note %q exceeds maximum size of %d bytes", name, maxNoteSize)
	}
	if !utf8.ValidString(contents) {
		return Note{}, fmt.Errorf("note %q contents are not valid UTF-8", name)
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		return Note{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer zr.Close()
	root, _, err := manifest(&zr.Reader)
	if err != nil {
		return Note{}, err
	}
	existing, err := loadNotes(&zr.Reader, root)
	if err != nil {
		return Note{}, err
	}
	for _, n := range existing {
		if n.Name == name {
			return Note{}, fmt.Errorf("%w: %q", ErrDuplicateNote, name)
		}
	}

	note := Note{
		ID:        uuid.NewString(),
		Name:      name,
		Kind:      noteKind,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		// Notes currently only refer to the archive they are attached to.
		RootUUID:       root,
		ReferencedUUID: root,
		Contents:       contents,
	}
	entries, err := noteEntries(root, note)
	if err != nil {
		return Note{}, err
	}
	if err := amendZip(path, &zr.Reader, keepAll, entries); err != nil {
		return Note{}, err
	}
	return note, nil
}

// Notes lists the annotations attached to the archive at path, name-sorted.
// Every note's own checksum manifest is verified; notes of unknown kinds
// load metadata-only.
func Notes(path string) ([]Note, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer zr.Close()
	root, _, err := manifest(&zr.Reader)
	if err != nil {
		return nil, err
	}
	return loadNotes(&zr.Reader, root)
}

// RemoveNote detaches the named note, rewriting the archive in place.
func RemoveNote(path, name string) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer zr.Close()
	root, _, err := manifest(&zr.Reader)
	if err != nil {
		return err
	}
	notes, err := loadNotes(&zr.Reader, root)
	if err != nil {
		return err
	}
	id := ""
	for _, n := range notes {
		if n.Name == name {
			id = n.ID
			break
		}
	}
	if id == "" {
		return fmt.Errorf("%w: %q", ErrNoteNotFound, name)
	}
	drop := root + "/" + annotationsPrefix + id + "/"
	keep := func(entryName string) bool {
		return !strings.HasPrefix(entryName, drop)
	}
	return amendZip(path, &zr.Reader, keep, nil)
}

// validateNoteName accepts letters, digits, '_' and '-', not starting with
// a digit.
func validateNoteName(name string) error {
	if name == "" {
		return fmt.Errorf("note name is empty")
	}
	for i, r := range name {
		if unicode.IsLetter(r) || r == '_' || r == '-' {
			continue
		}
		if unicode.IsDigit(r) && i > 0 {
			continue
		}
		return fmt.Errorf("note name %q may contain only letters, digits, '_' and '-', and must not start with a digit", name)
	}
	return nil
}

// noteEntries renders a note's archive entries: its metadata, contents,
// and the per-note checksum manifest covering both.
func noteEntries(root string, n Note) ([]entry, error) {
	meta, err := yaml.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("encode note %q: %w", n.Name, err)
	}
	dir := root + "/" + annotationsPrefix + n.ID + "/"
	files := []entry{
		{metadataName, meta},
		{noteFileName, []byte(n.Contents)},
	}
	sums := renderChecksums(files)
	entries := make([]entry, 0, len(files)+1)
	for _, f := range files {
		entries = append(entries, entry{dir + f.name, f.data})
	}
	entries = append(entries, entry{dir + checksumsName, sums})
	return entries, nil
}

// loadNotes collects every annotation directory, verifying each note's own
// checksum manifest both ways.
func loadNotes(zr *zip.Reader, root string) ([]Note, error) {
	prefix := root + "/" + annotationsPrefix
	byID := make(map[string]map[string][]byte)
	for _, f := range zr.File {
		rest, ok := strings.CutPrefix(f.Name, prefix)
		if !ok || strings.HasSuffix(f.Name, "/") {
			continue
		}
		id, file, ok := strings.Cut(rest, "/")
		if !ok || id == "" || file == "" {
			return nil, fmt.Errorf("%w: stray annotation entry %s", ErrCorrupt, f.Name)
		}
		data, err := readEntry(zr, f.Name)
		if err != nil {
			return nil, err
		}
		if byID[id] == nil {
			byID[id] = make(map[string][]byte)
		}
		byID[id][file] = data
	}

	notes := make([]Note, 0, len(byID))
	for id, files := range byID {
		n, err := loadNote(id, files)
		if err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	sort.Slice(notes, func(i, j int) bool { return notes[i].Name < notes[j].Name })
	return notes, nil
}

func loadNote(id string, files map[string][]byte) (Note, error) {
	sumData, ok := files[checksumsName]
	if !ok {
		return Note{}, fmt.Errorf("%w: annotation %s has no checksum manifest", ErrCorrupt, id)
	}
	sums := make(map[string]string)
	for _, line := range strings.Split(strings.TrimRight(string(sumData), "\n"), "\n") {
		sum, name, ok := strings.Cut(line, "  ")
		if !ok || len(sum) != sha256.Size*2 {
			return Note{}, fmt.Errorf("%w: annotation %s: malformed checksum line %q", ErrCorrupt, id, line)
		}
		sums[name] = sum
	}
	for name, data := range files {
		if name == checksumsName {
			continue
		}
		want, listed := sums[name]
		if !listed {
			return Note{}, fmt.Errorf("%w: annotation %s: entry %s not covered by checksums", ErrCorrupt, id, name)
		}
		sum := sha256.Sum256(data)
		if hex.EncodeToString(sum[:]) != want {
			return Note{}, fmt.Errorf("%w: annotation %s: checksum mismatch for %s", ErrCorrupt, id, name)
		}
	}
	for name := range sums {
		if _, ok := files[name]; !ok {
			return Note{}, fmt.Errorf("%w: annotation %s: entry %s listed but missing", ErrCorrupt, id, name)
		}
	}

	var n Note
	if err := yaml.Unmarshal(files[metadataName], &n); err != nil {
		return Note{}, fmt.Errorf("%w: annotation %s: %v", ErrCorrupt, id, err)
	}
	if n.ID != id {
		return Note{}, fmt.Errorf("%w: annotation %s metadata claims id %s", ErrCorrupt, id, n.ID)
	}
	if n.Kind == noteKind {
		contents, ok := files[noteFileName]
		if !ok {
			return Note{}, fmt.Errorf("%w: note %q is missing its %s entry", ErrCorrupt, n.Name, noteFileName)
		}
		n.Contents = string(contents)
	}
	return n, nil
}

func keepAll(string) bool { return true }

// amendZip rewrites the archive at path, carrying over the entries keep
// accepts byte for byte and appending add. The add entries already carry
// the root prefix. Written to a temp file renamed into place, like the
// initial write.
func amendZip(path string, zr *zip.Reader, keep func(string) bool, add []entry) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".lattice-*.zip")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	zw := zip.NewWriter(tmp)
	for _, f := range zr.File {
		if !keep(f.Name) {
			continue
		}
		if err := zw.Copy(f); err != nil {
			return fmt.Errorf("carry over %s: %w", f.Name, err)
		}
	}
	for _, e := range add {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     e.name,
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
