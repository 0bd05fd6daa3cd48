// Package archive persists Results as self-describing, checksummed zip
// containers. An archive holds the root Result's format-encoded data, the
// full ancestor provenance subgraph, and a checksum manifest covering every
// other entry except the annotations section, which carries per-note
// manifests instead. Archives are byte-stable for a given (data,
// provenance) pair across repeated writes; the only varying content is the
// written-at timestamp in metadata.yaml and the checksum entry covering it.
package archive

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrCorrupt is returned when any checksum, entry, or structural
	// check fails. A corrupt archive is never partially read.
	ErrCorrupt = errors.New("corrupt archive")
	// ErrUnknownType is returned when an archive references a semantic
	// type the current registry cannot resolve.
	ErrUnknownType = errors.New("archive references unknown type")
	// ErrUnknownFormat is returned when an archive references a format
	// the current registry cannot resolve.
	ErrUnknownFormat = errors.New("archive references unknown format")
	// ErrUnsupportedVersion is returned for archives written with a
	// different major format version.
	ErrUnsupportedVersion = errors.New("unsupported archive version")
	// ErrDuplicateNote is returned when a note name is already attached
	// to the archive.
	ErrDuplicateNote = errors.New("duplicate note name")
	// ErrNoteNotFound is returned when a named note is not attached.
	ErrNoteNotFound = errors.New("note not found")
)

// FormatVersion is the container version written into new archives.
// Readers reject a differing major version and accept unknown minors,
// ignoring unrecognized optional metadata fields.
const FormatVersion = "2.1"

const (
	versionName      = "VERSION"
	metadataName     = "metadata.yaml"
	checksumsName    = "checksums.sha256"
	dataPrefix        = "data/"
	provenancePrefix  = "provenance/"
	annotationsPrefix = "annotations/"

	frameworkName = "lattice"
)

// Manifest is the identifying metadata of an archive, readable without
// extracting or verifying the data section.
type Manifest struct {
	UUID      string    `yaml:"uuid"`
	Type      string    `yaml:"type"`
	Format    string    `yaml:"format"`
	Node      string    `yaml:"node"` // root provenance node ID
	Version   string    `yaml:"-"`    // container version, from VERSION
	Framework string    `yaml:"-"`
	WrittenAt time.Time `yaml:"written-at"`
	DataSize  int64     `yaml:"data-size"`
}

// versionFile renders the VERSION entry: the framework name, the container
// format version, and the framework release that wrote the archive.
func versionFile(framework string) []byte {
	return []byte(fmt.Sprintf("%s\narchive: %s\nframework: %s\n", frameworkName, FormatVersion, framework))
}

// parseVersionFile extracts the container and framework versions and
// enforces the major-version gate.
func parseVersionFile(data []byte) (version, framework string, err error) {
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) < 2 || lines[0] != frameworkName {
		return "", "", fmt.Errorf("%w: malformed VERSION entry", ErrCorrupt)
	}
	version, ok := strings.CutPrefix(lines[1], "archive: ")
	if !ok {
		return "", "", fmt.Errorf("%w: malformed VERSION entry", ErrCorrupt)
	}
	if len(lines) > 2 {
		framework, _ = strings.CutPrefix(lines[2], "framework: ")
	}
	major, _, found := strings.Cut(version, ".")
	if !found {
		return "", "", fmt.Errorf("%w: malformed version %q", ErrCorrupt, version)
	}
	if _, err := strconv.Atoi(major); err != nil {
		return "", "", fmt.Errorf("%w: malformed version %q", ErrCorrupt, version)
	}
	wantMajor, _, _ := strings.Cut(FormatVersion, ".")
	if major != wantMajor {
		return "", "", fmt.Errorf("%w: archive version %s, reader supports %s.x", ErrUnsupportedVersion, version, wantMajor)
	}
	return version, framework, nil
}
