// Package backend defines the storage abstraction that a repository
// writes its encrypted blobs through, and the set of concrete
// implementations (local filesystem, S3-compatible object storage, SFTP)
// that satisfy it.
package backend

import (
	"context"
	"errors"
	"io"

	"github.com/rekord-project/rekord/oid"
)

// ErrNotExist is returned by Read when the requested path does not
// exist. Backends must translate their own not-found
// signal (os.ErrNotExist, an S3 404, an SFTP "no such file") into this
// sentinel so callers never need to branch on backend type.
var ErrNotExist = errors.New("backend: object does not exist")

// ErrAlreadyExists is for a backend with write-once semantics that
// refuses to overwrite an existing path. Content addressing means two
// writes of the same path always carry the same bytes, so backends are
// free to treat this as success instead; none of the bundled backends
// returns it.
var ErrAlreadyExists = errors.New("backend: object already exists")

// Backend is the minimal set of operations a repository needs from a
// storage location. All paths are backend-relative (no leading slash)
// and use forward slashes regardless of host OS.
type Backend interface {
	// Write stores size bytes read from r at path. Implementations
	// write to a temporary location and rename/move into place so a
	// reader never observes a partial object. Whether an existing object
	// at path is replaced (S3, SFTP) or left untouched (local) depends on
	// the backend.
	Write(ctx context.Context, path string, size int64, r io.Reader) error

	// Read returns a reader for the object at path. The caller must
	// Close it.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes the object at path. Deleting a path that does not
	// exist is not an error.
	Delete(ctx context.Context, path string) error

	// Exists reports whether an object is present at path.
	Exists(ctx context.Context, path string) (bool, error)

	// List returns every path stored under prefix, recursively.
	List(ctx context.Context, prefix string) ([]string, error)

	// Close releases any resources (connection pools, sessions) held by
	// the backend.
	Close() error
}

// BlobPath returns the backend-relative path of the stored object id,
// sharded into one of 256 buckets by the first hex byte of the id
// (spec.md §9, resolved to the 2-hex-digit convention — see
// SPEC_FULL.md §4.4).
func BlobPath(id oid.ID) string {
	return "blobs/" + id.Bucket() + "/" + id.String()
}

// KeyPath returns the backend-relative path of the named keyring slot
// ("full" or "write").
func KeyPath(slot string) string {
	return "keys/" + slot
}

// TagPrefix is the backend-relative directory under which tag files are
// stored.
const TagPrefix = "tags/"

// TagPath returns the backend-relative path of a tag with the given
// filename (opaque, carries no information — spec.md §3).
func TagPath(name string) string {
	return TagPrefix + name
}
