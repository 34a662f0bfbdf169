package object

import "fmt"

// Type is the small closed enumeration of stored object kinds (spec.md §3).
// Numeric codes are stable on the wire; unknown codes must be rejected on
// read.
type Type int8

const (
	// Chunk is a content-defined byte range of a file.
	Chunk Type = 0
	// File references one or more chunks (or, for single-chunk files, is
	// represented directly by the chunk object).
	File Type = 1
	// Directory lists the entries of one filesystem directory.
	Directory Type = 2
	// Snapshot is the root object of one `put` operation.
	Snapshot Type = 3
	// Link stores a symbolic link's target bytes.
	Link Type = 4

	// legacyDirectory and legacySnapshot are read-only wire variants
	// produced by older writers (see original_source's Directory2/
	// Snapshot2). This engine's writer never emits them; the reader
	// accepts these type codes and decodes their entries with the
	// current entry layout. A legacy entry-header layout that differs
	// from it is not supported.
	legacyDirectory Type = 5
	legacySnapshot  Type = 6
)

var typeNames = map[Type]string{
	Chunk:           "Chunk",
	File:            "File",
	Directory:       "Directory",
	Snapshot:        "Snapshot",
	Link:            "Link",
	legacyDirectory: "Directory (legacy)",
	legacySnapshot:  "Snapshot (legacy)",
}

// String returns a human-readable name, or a numeric fallback for codes
// reserved for forward compatibility.
func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", int8(t))
}

// Valid reports whether t is a recognized object type code.
func (t Type) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

// IsLegacyDirectory reports whether t is the legacy Directory2 wire variant.
func (t Type) IsLegacyDirectory() bool { return t == legacyDirectory }

// IsLegacySnapshot reports whether t is the legacy Snapshot2 wire variant.
func (t Type) IsLegacySnapshot() bool { return t == legacySnapshot }
