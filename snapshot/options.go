package snapshot

import "fmt"

// PutSettings enumerates the options spec.md §4.7 names for `put`, plus
// the xattr-capture extension from SPEC_FULL.md §3.1.
type PutSettings struct {
	// Name is the snapshot header's name field (<= 511 bytes); may be
	// empty. Mutually exclusive with Raw.
	Name string
	// FollowSymlinks, if true, makes `stat` follow links when walking;
	// otherwise a symlink is stored as a Link object.
	FollowSymlinks bool
	// Raw requires exactly one root; no snapshot or tag is created, and
	// Put returns that root's own object OID directly.
	Raw bool
	// CaptureXattrs populates each directory entry's extended-attribute
	// blob with the path's POSIX xattrs (SPEC_FULL.md §3.1); off by
	// default, so default wire bytes match the distilled spec exactly.
	CaptureXattrs bool
}

func (s PutSettings) validate(rootCount int) error {
	if s.Raw && rootCount != 1 {
		return fmt.Errorf("snapshot: raw mode requires exactly one root, got %d", rootCount)
	}
	if s.Raw && s.Name != "" {
		return fmt.Errorf("snapshot: raw and name are mutually exclusive")
	}
	if len(s.Name) > snapshotNameSize-1 {
		return fmt.Errorf("snapshot: name too long (%d bytes, max %d)", len(s.Name), snapshotNameSize-1)
	}
	return nil
}

// GetSettings enumerates the options spec.md §4.8 names for `get`.
type GetSettings struct {
	// Flat collapses a snapshot's roots to their final path component
	// under the destination, instead of recreating each root's full
	// stored subpath.
	Flat bool
}
