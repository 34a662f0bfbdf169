package snapshot

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rekord-project/rekord"
	"github.com/rekord-project/rekord/object"
	"github.com/rekord-project/rekord/oid"
	"github.com/rekord-project/rekord/repository"
)

// WalkFunc is called once per entry encountered by Walk, with path built
// from the root (joined with "/", independent of the host's filesystem
// separator). Returning an error stops the walk and that error is
// returned by Walk.
type WalkFunc func(path string, entry DirEntry) error

// Walk traverses the tree rooted at id — a Snapshot or Directory object
// — calling fn for every entry, recursing into readable subdirectories.
// Grounded on the teacher's fstree.Snapshot.Walk (clients/go/fstree/
// snapshot.go), generalized to fetch each tree node through the
// repository instead of an in-memory map.
func Walk(ctx context.Context, repo *repository.Repository, id oid.ID, fn WalkFunc) error {
	typ, data, err := repo.ReadObject(ctx, id)
	if err != nil {
		return err
	}

	switch {
	case typ == object.Snapshot || typ.IsLegacySnapshot():
		_, roots, _, err := DecodeSnapshot(data)
		if err != nil {
			return rekord.NewError("snapshot.Walk", rekord.KindCorrupt, err)
		}
		for _, root := range roots {
			name := rootWalkName(root.Name)
			if err := fn(name, root); err != nil {
				return err
			}
			if root.Kind == KindDirectory && root.Readable {
				if err := walkDirectory(ctx, repo, root.Child, name, fn); err != nil {
					return err
				}
			}
		}
		return nil

	case typ == object.Directory || typ.IsLegacyDirectory():
		return walkDirectory(ctx, repo, id, "", fn)

	default:
		return fmt.Errorf("snapshot: Walk requires a Snapshot or Directory object, got %s", typ)
	}
}

func walkDirectory(ctx context.Context, repo *repository.Repository, id oid.ID, prefix string, fn WalkFunc) error {
	typ, data, err := repo.ReadObject(ctx, id)
	if err != nil {
		return err
	}
	if typ != object.Directory && !typ.IsLegacyDirectory() {
		return fmt.Errorf("snapshot: expected directory object, got %s", typ)
	}
	entries, _, err := DecodeDirectory(data)
	if err != nil {
		return rekord.NewError("snapshot.Walk", rekord.KindCorrupt, err)
	}

	for _, e := range entries {
		path := e.Name
		if prefix != "" {
			path = prefix + "/" + e.Name
		}
		if err := fn(path, e); err != nil {
			return err
		}
		if e.Kind == KindDirectory && e.Readable {
			if err := walkDirectory(ctx, repo, e.Child, path, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

func rootWalkName(stored string) string {
	name := stored
	for len(name) > 0 && name[0] == '/' {
		name = name[1:]
	}
	if name == "" {
		return stored
	}
	return name
}

// Diff is the set of path-level changes between two snapshots, keyed by
// the walk path Walk produces.
type Diff struct {
	Added    []string
	Removed  []string
	Modified []string
}

// IsEmpty reports whether the diff contains no changes.
func (d *Diff) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Modified) == 0
}

// TotalChanges returns the total number of changed paths.
func (d *Diff) TotalChanges() int {
	return len(d.Added) + len(d.Removed) + len(d.Modified)
}

// DiffSnapshots compares the file/link content of two snapshots,
// identifying changes by object id rather than by content re-read. An
// oldID of oid.ID{} (the zero value) treats every path in newID as
// added, matching the teacher's "old may be nil" convention.
func DiffSnapshots(ctx context.Context, repo *repository.Repository, oldID, newID oid.ID) (*Diff, error) {
	newPaths, err := collectFilePaths(ctx, repo, newID)
	if err != nil {
		return nil, fmt.Errorf("snapshot: diff: walk new snapshot: %w", err)
	}

	diff := &Diff{}

	if oldID.IsZero() {
		for path := range newPaths {
			diff.Added = append(diff.Added, path)
		}
		sort.Strings(diff.Added)
		return diff, nil
	}

	oldPaths, err := collectFilePaths(ctx, repo, oldID)
	if err != nil {
		return nil, fmt.Errorf("snapshot: diff: walk old snapshot: %w", err)
	}

	for path, newChild := range newPaths {
		oldChild, ok := oldPaths[path]
		if !ok {
			diff.Added = append(diff.Added, path)
		} else if oldChild != newChild {
			diff.Modified = append(diff.Modified, path)
		}
	}
	for path := range oldPaths {
		if _, ok := newPaths[path]; !ok {
			diff.Removed = append(diff.Removed, path)
		}
	}

	sort.Strings(diff.Added)
	sort.Strings(diff.Removed)
	sort.Strings(diff.Modified)
	return diff, nil
}

func collectFilePaths(ctx context.Context, repo *repository.Repository, id oid.ID) (map[string]oid.ID, error) {
	paths := make(map[string]oid.ID)
	err := Walk(ctx, repo, id, func(path string, e DirEntry) error {
		if e.Kind == KindFile || e.Kind == KindLink {
			paths[path] = e.Child
		}
		return nil
	})
	return paths, err
}

// Info summarizes one tagged snapshot, as listed by List.
type Info struct {
	OID          oid.ID
	Name         string
	CreatedAt    time.Time
	LogicalBytes int64
	StoredBytes  int64
}

// List fetches every tag, reads and decodes the Snapshot object it
// names, and returns one Info per valid tag sorted oldest first. A tag
// that cannot be read or unsealed is dropped by repository.ListTags
// without a warning; a tag whose Snapshot object cannot be read or
// decoded is skipped with a warning rather than failing the whole
// listing.
func List(ctx context.Context, repo *repository.Repository, warn WarnFunc) ([]Info, error) {
	if warn == nil {
		warn = func(string, ...any) {}
	}

	ids, err := repo.ListTags(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]Info, 0, len(ids))
	for _, id := range ids {
		typ, data, err := repo.ReadObject(ctx, id)
		if err != nil {
			warn("read snapshot %s: %v", id, err)
			continue
		}
		if typ != object.Snapshot && !typ.IsLegacySnapshot() {
			warn("tag %s does not name a snapshot object (type %s)", id, typ)
			continue
		}
		header, _, _, err := DecodeSnapshot(data)
		if err != nil {
			warn("decode snapshot %s: %v", id, err)
			continue
		}
		infos = append(infos, Info{
			OID:          id,
			Name:         header.Name,
			CreatedAt:    time.Unix(header.CreatedAt, 0),
			LogicalBytes: header.LogicalBytes,
			StoredBytes:  header.StoredBytes,
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.Before(infos[j].CreatedAt) })
	return infos, nil
}
