package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/rekord-project/rekord"
	"github.com/rekord-project/rekord/async"
	"github.com/rekord-project/rekord/object"
	"github.com/rekord-project/rekord/oid"
	"github.com/rekord-project/rekord/repository"
)

type reader struct {
	repo     *repository.Repository
	settings GetSettings
	warn     WarnFunc

	dirPool  *async.Pool
	filePool *async.Pool

	bytes int64
}

// Get reconstructs the object named by id under destination: a Snapshot
// recreates every root (each root's stored absolute path becomes a
// subpath of destination, or just its final component when settings.Flat
// is set); any other object type is restored directly as destination
// itself (spec.md §4.8). It returns the number of regular-file bytes
// written.
func Get(ctx context.Context, repo *repository.Repository, id oid.ID, settings GetSettings, destination string, warn WarnFunc) (int64, error) {
	if warn == nil {
		warn = func(string, ...any) {}
	}
	r := &reader{
		repo:     repo,
		settings: settings,
		warn:     warn,
		dirPool:  async.NewPool(repo.Threads()),
		filePool: async.NewPool(repo.Threads()),
	}

	typ, data, err := repo.ReadObject(ctx, id)
	if err != nil {
		return 0, err
	}

	if typ == object.Snapshot || typ.IsLegacySnapshot() {
		_, roots, _, derr := DecodeSnapshot(data)
		if derr != nil {
			return 0, rekord.NewError("snapshot.Get", rekord.KindCorrupt, derr)
		}
		if err := prepareDestinationDir(destination); err != nil {
			return 0, err
		}

		group := r.dirPool.NewGroup(ctx)
		for _, root := range roots {
			root := root
			rel := rootRelativePath(root.Name, settings.Flat)
			childDest := filepath.Join(destination, filepath.FromSlash(rel))
			group.Run(func(ctx context.Context) error {
				_, err := r.restoreEntry(ctx, root, childDest, group)
				return err
			})
		}
		if ok := group.Sync(); !ok {
			return atomic.LoadInt64(&r.bytes), rekord.NewError("snapshot.Get", rekord.KindBackend,
				fmt.Errorf("restoring one or more roots failed"))
		}
		return atomic.LoadInt64(&r.bytes), nil
	}

	group := r.dirPool.NewGroup(ctx)
	n, err := r.materializeObject(ctx, typ, data, destination, group)
	if err != nil {
		return 0, err
	}
	if ok := group.Sync(); !ok {
		return atomic.LoadInt64(&r.bytes), rekord.NewError("snapshot.Get", rekord.KindBackend,
			fmt.Errorf("restore failed"))
	}
	atomic.AddInt64(&r.bytes, n)
	return atomic.LoadInt64(&r.bytes), nil
}

// restoreEntry fetches e's child object and materializes it at dest.
// An entry that was never successfully captured (Stated or Readable
// false) is skipped with a warning rather than failing the restore,
// mirroring the writer's own tolerance for unreadable source entries.
func (r *reader) restoreEntry(ctx context.Context, e DirEntry, dest string, group *async.Group) (int64, error) {
	if !e.Stated || !e.Readable {
		r.warn("skipping entry %q: not captured", e.Name)
		return 0, nil
	}

	typ, data, err := r.repo.ReadObject(ctx, e.Child)
	if err != nil {
		return 0, err
	}
	n, err := r.materializeObject(ctx, typ, data, dest, group)
	if err != nil {
		return 0, err
	}
	atomic.AddInt64(&r.bytes, n)
	return n, nil
}

// materializeObject writes the already-decoded object (typ, data) to
// dest, recursing through the directory pool for Directory objects.
func (r *reader) materializeObject(ctx context.Context, typ object.Type, data []byte, dest string, group *async.Group) (int64, error) {
	switch {
	case typ == object.Directory || typ.IsLegacyDirectory():
		entries, _, err := DecodeDirectory(data)
		if err != nil {
			return 0, rekord.NewError("snapshot.Get", rekord.KindCorrupt, err)
		}
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return 0, rekord.NewError("snapshot.Get", rekord.KindBackend, err)
		}
		if err := r.restoreChildren(ctx, entries, dest, group); err != nil {
			return 0, err
		}
		return 0, nil

	case typ == object.Chunk:
		return r.writeChunkDirect(data, dest)

	case typ == object.File:
		refs, total, err := DecodeFile(data)
		if err != nil {
			return 0, rekord.NewError("snapshot.Get", rekord.KindCorrupt, err)
		}
		return r.writeFile(ctx, refs, total, dest)

	case typ == object.Link:
		return r.writeLink(data, dest)

	default:
		return 0, rekord.NewError("snapshot.Get", rekord.KindCorrupt,
			fmt.Errorf("unsupported object type %s at %s", typ, dest))
	}
}

// restoreChildren dispatches each entry of a decoded directory onto a
// sub-group of group, running the dispatch and wait under group.Recurse
// so a deeply nested tree does not need one pool slot per level of
// depth. An entry whose name escapes its parent directory (absolute,
// "..", or separator-bearing) aborts the whole restore rather than
// being silently dropped (spec.md §8's unsafe-path rejection).
func (r *reader) restoreChildren(ctx context.Context, entries []DirEntry, destDir string, group *async.Group) error {
	sub := group.NewSubgroup()
	var ok bool
	group.Recurse(func() {
		for _, e := range entries {
			e := e
			sub.Run(func(ctx context.Context) error {
				name, err := sanitizeEntryName(e.Name)
				if err != nil {
					return rekord.NewError("snapshot.Get", rekord.KindUnsafePath, err)
				}
				childDest := filepath.Join(destDir, name)
				_, err = r.restoreEntry(ctx, e, childDest, sub)
				return err
			})
		}
		ok = sub.Sync()
	})
	if !ok {
		return rekord.NewError("snapshot.Get", rekord.KindBackend,
			fmt.Errorf("restoring %s: a child task failed", destDir))
	}
	return nil
}

// writeFile reconstructs a multi-chunk file, fetching and placing each
// chunk concurrently on the file pool via positional writes to a single
// shared file descriptor.
func (r *reader) writeFile(ctx context.Context, refs []ChunkRef, total uint64, dest string) (int64, error) {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, rekord.NewError("snapshot.Get", rekord.KindBackend, err)
	}
	defer f.Close()
	if err := f.Truncate(int64(total)); err != nil {
		return 0, rekord.NewError("snapshot.Get", rekord.KindBackend, err)
	}

	group := r.filePool.NewGroup(ctx)
	for _, ref := range refs {
		ref := ref
		group.Run(func(ctx context.Context) error {
			typ, data, err := r.repo.ReadObject(ctx, ref.OID)
			if err != nil {
				return err
			}
			if typ != object.Chunk {
				return fmt.Errorf("expected chunk object for %s, got %s", ref.OID, typ)
			}
			if uint32(len(data)) != ref.Length {
				return fmt.Errorf("chunk %s: length %d, expected %d", ref.OID, len(data), ref.Length)
			}
			_, err = f.WriteAt(data, ref.Offset)
			return err
		})
	}
	if ok := group.Sync(); !ok {
		return 0, rekord.NewError("snapshot.Get", rekord.KindBackend,
			fmt.Errorf("restoring %s: a chunk write failed", dest))
	}
	return int64(total), nil
}

func (r *reader) writeChunkDirect(data []byte, dest string) (int64, error) {
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return 0, rekord.NewError("snapshot.Get", rekord.KindBackend, err)
	}
	return int64(len(data)), nil
}

func (r *reader) writeLink(target []byte, dest string) (int64, error) {
	if err := os.Symlink(string(target), dest); err != nil {
		r.warn("create symlink %s: %v", dest, err)
		return 0, nil
	}
	return 0, nil
}

// prepareDestinationDir ensures destination exists as a directory and is
// empty, creating it if necessary (spec.md §4.8: "destination must not
// exist, or must be an empty directory").
func prepareDestinationDir(destination string) error {
	info, err := os.Stat(destination)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(destination, 0o755); err != nil {
			return rekord.NewError("snapshot.Get", rekord.KindBackend, err)
		}
		return nil
	}
	if err != nil {
		return rekord.NewError("snapshot.Get", rekord.KindBackend, err)
	}
	if !info.IsDir() {
		return rekord.NewError("snapshot.Get", rekord.KindUnsafePath,
			fmt.Errorf("destination %s exists and is not a directory", destination))
	}
	entries, err := os.ReadDir(destination)
	if err != nil {
		return rekord.NewError("snapshot.Get", rekord.KindBackend, err)
	}
	if len(entries) > 0 {
		return rekord.NewError("snapshot.Get", rekord.KindUnsafePath,
			fmt.Errorf("destination %s is not empty", destination))
	}
	return nil
}

// rootRelativePath maps one snapshot root's stored portable path to a
// path relative to the restore destination: its full subpath by
// default, or just its final component when flat is set.
func rootRelativePath(stored string, flat bool) string {
	clean := strings.TrimPrefix(stored, "/")
	if flat || clean == "" {
		return filepath.Base(filepath.FromSlash(stored))
	}
	return clean
}

// sanitizeEntryName rejects any directory-entry name that could escape
// its parent directory once joined onto a restore destination.
func sanitizeEntryName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty entry name")
	}
	if name == "." || name == ".." {
		return "", fmt.Errorf("unsafe entry name %q", name)
	}
	if strings.ContainsAny(name, "/\\") {
		return "", fmt.Errorf("entry name %q contains a path separator", name)
	}
	return name, nil
}
