// Package snapshot implements the tree walker and reconstructor described
// in spec.md §4.7/§4.8, grounded on original_source's rk_Disk::Put/Get
// (disk.cc) and the teacher's fstree package for the directory-pool/
// file-pool concurrency shape.
package snapshot

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rekord-project/rekord"
	"github.com/rekord-project/rekord/async"
	"github.com/rekord-project/rekord/cache"
	"github.com/rekord-project/rekord/chunker"
	"github.com/rekord-project/rekord/object"
	"github.com/rekord-project/rekord/oid"
	"github.com/rekord-project/rekord/repository"
)

// WarnFunc receives a notice about a per-entry problem that was swallowed
// rather than aborting the whole `put` (spec.md §7): an unreadable file,
// an unsupported entry type, a failed readdir. The default is a no-op.
type WarnFunc func(format string, args ...any)

type writer struct {
	repo     *repository.Repository
	settings PutSettings
	warn     WarnFunc

	dirPool  *async.Pool
	filePool *async.Pool

	logicalBytes int64
	storedBytes  int64
	seed         uint64
}

// Put walks each of roots and stores the resulting tree, returning either
// the created snapshot's OID (the common case) or, in raw mode, the
// single root's own object OID directly. The two returned byte counts are
// the cumulative logical (pre-dedup) and stored (post-dedup, post-
// encryption) sizes of everything this call actually wrote.
func Put(ctx context.Context, repo *repository.Repository, roots []string, settings PutSettings, warn WarnFunc) (oid.ID, int64, int64, error) {
	if err := settings.validate(len(roots)); err != nil {
		return oid.ID{}, 0, 0, rekord.NewError("snapshot.Put", rekord.KindConfig, err)
	}
	if warn == nil {
		warn = func(string, ...any) {}
	}

	threads := repo.Threads()
	w := &writer{
		repo:     repo,
		settings: settings,
		warn:     warn,
		dirPool:  async.NewPool(threads),
		filePool: async.NewPool(threads),
		seed:     seedFromKey(repo.PublicKey()),
	}

	type resolvedRoot struct {
		abs, stored string
	}
	resolved := make([]resolvedRoot, len(roots))
	for i, raw := range roots {
		abs, stored, err := resolveRoot(raw)
		if err != nil {
			return oid.ID{}, 0, 0, rekord.NewError("snapshot.Put", rekord.KindConfig, err)
		}
		resolved[i] = resolvedRoot{abs: abs, stored: stored}
	}

	group := w.dirPool.NewGroup(ctx)
	entries := make([]DirEntry, len(resolved))
	stats := make([][]cache.StatEntry, len(resolved))

	for i, root := range resolved {
		i, root := i, root
		group.Run(func(ctx context.Context) error {
			e, st, err := w.putChild(ctx, root.abs, root.stored, group)
			entries[i] = e
			stats[i] = st
			return err
		})
	}
	if ok := group.Sync(); !ok {
		return oid.ID{}, 0, 0, rekord.NewError("snapshot.Put", rekord.KindBackend,
			fmt.Errorf("a backend error aborted the snapshot"))
	}

	var rootStats []cache.StatEntry
	for _, st := range stats {
		rootStats = append(rootStats, st...)
	}
	if err := repo.Cache().StoreStats(ctx, rootStats); err != nil {
		w.warn("cache update for root set: %v", err)
	}

	logical := atomic.LoadInt64(&w.logicalBytes)

	if settings.Raw {
		return entries[0].Child, logical, atomic.LoadInt64(&w.storedBytes), nil
	}

	var cumulative uint64
	for _, e := range entries {
		cumulative += subtreeBytes(e)
	}

	header := SnapshotHeader{
		Name:         settings.Name,
		CreatedAt:    time.Now().Unix(),
		LogicalBytes: logical,
		StoredBytes:  atomic.LoadInt64(&w.storedBytes),
	}
	plaintext, err := EncodeSnapshot(header, entries, cumulative)
	if err != nil {
		return oid.ID{}, 0, 0, rekord.NewError("snapshot.Put", rekord.KindCorrupt, err)
	}

	id, err := object.DeriveOID(object.Snapshot, plaintext, repo.PublicKey())
	if err != nil {
		return oid.ID{}, 0, 0, rekord.NewError("snapshot.Put", rekord.KindCorrupt, err)
	}
	written, err := repo.WriteObject(ctx, id, object.Snapshot, plaintext)
	if err != nil {
		return oid.ID{}, 0, 0, err
	}
	atomic.AddInt64(&w.storedBytes, written)

	if _, err := repo.WriteTag(ctx, id); err != nil {
		return oid.ID{}, 0, 0, err
	}

	return id, logical, atomic.LoadInt64(&w.storedBytes), nil
}

// putChild stats path (following symlinks only if settings.FollowSymlinks
// is set) and dispatches to the matching putX helper. Any stat or readdir
// failure is swallowed per spec.md §7: the returned entry simply keeps
// Stated/Readable false rather than aborting the walk. Backend write
// failures, by contrast, are fatal and propagate.
func (w *writer) putChild(ctx context.Context, absPath, name string, group *async.Group) (DirEntry, []cache.StatEntry, error) {
	var info os.FileInfo
	var err error
	if w.settings.FollowSymlinks {
		info, err = os.Stat(absPath)
	} else {
		info, err = os.Lstat(absPath)
	}
	if err != nil {
		w.warn("stat %s: %v", absPath, err)
		return DirEntry{Name: name, Kind: KindUnknown}, nil, nil
	}

	entry := DirEntry{Name: name, Stated: true}
	fillStat(&entry, info)
	if w.settings.CaptureXattrs {
		if x, err := readXattrs(absPath); err != nil {
			w.warn("read xattrs %s: %v", absPath, err)
		} else {
			entry.Xattrs = x
		}
	}

	switch {
	case info.Mode()&os.ModeSymlink != 0:
		e, err := w.putLink(ctx, absPath, entry)
		return e, nil, err
	case info.IsDir():
		e, err := w.putDirectory(ctx, absPath, entry, group)
		return e, nil, err
	case info.Mode().IsRegular():
		e, st, err := w.putFile(ctx, absPath, entry)
		var stats []cache.StatEntry
		if st != nil {
			stats = []cache.StatEntry{*st}
		}
		return e, stats, err
	default:
		w.warn("skipping unsupported file type at %s", absPath)
		return entry, nil, nil
	}
}

func (w *writer) putLink(ctx context.Context, path string, entry DirEntry) (DirEntry, error) {
	entry.Kind = KindLink

	target, err := os.Readlink(path)
	if err != nil {
		w.warn("readlink %s: %v", path, err)
		return entry, nil
	}

	plaintext := []byte(target)
	id, err := object.DeriveOID(object.Link, plaintext, w.repo.PublicKey())
	if err != nil {
		return entry, rekord.NewError("snapshot.putLink", rekord.KindCorrupt, err)
	}
	written, err := w.repo.WriteObject(ctx, id, object.Link, plaintext)
	if err != nil {
		return entry, err
	}
	atomic.AddInt64(&w.storedBytes, written)
	atomic.AddInt64(&w.logicalBytes, int64(len(plaintext)))

	entry.Child = id
	entry.Readable = true
	entry.Size = uint64(len(plaintext))
	return entry, nil
}

// putDirectory lists path, walks every child concurrently on a sub-group
// of the directory pool (dispatched under group.Recurse so a directory
// chain deeper than the pool's thread count cannot deadlock it), then
// writes one Directory object once every child has finished. Children's
// cache.StatEntry results are committed in a single transaction per
// directory (spec.md §4.7's "single transaction at the end of each
// directory's processing").
func (w *writer) putDirectory(ctx context.Context, path string, entry DirEntry, group *async.Group) (DirEntry, error) {
	entry.Kind = KindDirectory

	children, err := os.ReadDir(path)
	if err != nil {
		w.warn("read dir %s: %v", path, err)
		return entry, nil
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Name() < children[j].Name() })

	childEntries := make([]DirEntry, len(children))
	var cumulative uint64
	var statsMu sync.Mutex
	var stats []cache.StatEntry

	sub := group.NewSubgroup()
	var ok bool
	group.Recurse(func() {
		for i, child := range children {
			i, childPath, childName := i, filepath.Join(path, child.Name()), child.Name()
			sub.Run(func(ctx context.Context) error {
				e, st, err := w.putChild(ctx, childPath, childName, sub)
				childEntries[i] = e
				atomic.AddUint64(&cumulative, subtreeBytes(e))
				if len(st) > 0 {
					statsMu.Lock()
					stats = append(stats, st...)
					statsMu.Unlock()
				}
				return err
			})
		}
		ok = sub.Sync()
	})
	if !ok {
		return entry, fmt.Errorf("snapshot: directory %s: a child task failed", path)
	}

	if err := w.repo.Cache().StoreStats(ctx, stats); err != nil {
		w.warn("cache update for %s: %v", path, err)
	}

	plaintext, err := EncodeDirectory(childEntries, cumulative)
	if err != nil {
		return entry, rekord.NewError("snapshot.putDirectory", rekord.KindCorrupt, err)
	}
	id, err := object.DeriveOID(object.Directory, plaintext, w.repo.PublicKey())
	if err != nil {
		return entry, rekord.NewError("snapshot.putDirectory", rekord.KindCorrupt, err)
	}
	written, err := w.repo.WriteObject(ctx, id, object.Directory, plaintext)
	if err != nil {
		return entry, err
	}
	atomic.AddInt64(&w.storedBytes, written)

	entry.Child = id
	entry.Readable = true
	entry.Size = cumulative
	return entry, nil
}

// putFile first checks the stat cache: an unchanged (mtime, mode, size)
// tuple lets it reuse the previously recorded object id without reading
// the file at all. Otherwise it chunks and uploads the file's content
// concurrently on the file pool, collapsing to a bare chunk reference
// (no separate File object) when exactly one chunk results, per spec.md
// §3's single-chunk shortcut.
func (w *writer) putFile(ctx context.Context, path string, entry DirEntry) (DirEntry, *cache.StatEntry, error) {
	entry.Kind = KindFile

	if cached, ok, err := w.repo.Cache().LookupStat(ctx, path); err == nil && ok {
		if cached.Mtime == entry.Mtime && cached.Mode == entry.Mode && cached.Size == int64(entry.Size) {
			entry.Child = cached.ID
			entry.Readable = true
			atomic.AddInt64(&w.logicalBytes, int64(entry.Size))
			return entry, nil, nil
		}
	}

	f, err := os.Open(path)
	if err != nil {
		w.warn("open %s: %v", path, err)
		return entry, nil, nil
	}
	defer f.Close()

	refs, totalLength, storedDelta, err := w.chunkAndUpload(ctx, f)
	if err != nil {
		return entry, nil, err
	}
	atomic.AddInt64(&w.storedBytes, storedDelta)
	atomic.AddInt64(&w.logicalBytes, int64(totalLength))

	var id oid.ID
	if len(refs) == 1 {
		id = refs[0].OID
	} else {
		plaintext := EncodeFile(refs, totalLength)
		fid, err := object.DeriveOID(object.File, plaintext, w.repo.PublicKey())
		if err != nil {
			return entry, nil, rekord.NewError("snapshot.putFile", rekord.KindCorrupt, err)
		}
		written, err := w.repo.WriteObject(ctx, fid, object.File, plaintext)
		if err != nil {
			return entry, nil, err
		}
		atomic.AddInt64(&w.storedBytes, written)
		id = fid
	}

	entry.Child = id
	entry.Readable = true
	entry.Size = totalLength

	stat := cache.StatEntry{
		Path: path,
		Stat: cache.FileStat{Mtime: entry.Mtime, Mode: entry.Mode, Size: int64(totalLength), ID: id},
	}
	return entry, &stat, nil
}

// chunkAndUpload feeds f through the content-defined chunker, dispatching
// each emitted chunk's hash+upload to the file pool while the (single-
// goroutine) splitter keeps reading ahead. Each chunk reserves its slot
// in refs synchronously, in emission order, so refs stays correctly
// ordered regardless of which upload finishes first.
func (w *writer) chunkAndUpload(ctx context.Context, f *os.File) ([]ChunkRef, uint64, int64, error) {
	splitter, err := chunker.New(chunker.DefaultAverage, chunker.DefaultMin, chunker.DefaultMax, w.seed)
	if err != nil {
		return nil, 0, 0, err
	}

	group := w.filePool.NewGroup(ctx)

	var mu sync.Mutex
	var refs []ChunkRef
	var storedDelta int64

	emit := func(c chunker.Chunk) error {
		data := append([]byte(nil), c.Data...)
		offset := c.Offset

		mu.Lock()
		idx := len(refs)
		refs = append(refs, ChunkRef{})
		mu.Unlock()

		group.Run(func(ctx context.Context) error {
			id, err := object.DeriveOID(object.Chunk, data, w.repo.PublicKey())
			if err != nil {
				return err
			}
			written, err := w.repo.WriteObject(ctx, id, object.Chunk, data)
			if err != nil {
				return err
			}
			atomic.AddInt64(&storedDelta, written)

			mu.Lock()
			refs[idx] = ChunkRef{Offset: offset, Length: uint32(len(data)), OID: id}
			mu.Unlock()
			return nil
		})
		return nil
	}

	readBuf := make([]byte, 1<<20)
	var pending []byte

	for {
		n, rerr := f.Read(readBuf)
		if n > 0 {
			pending = append(pending, readBuf[:n]...)
			consumed, serr := splitter.Split(pending, false, emit)
			if serr != nil {
				group.Sync()
				return nil, 0, 0, serr
			}
			pending = pending[:copy(pending, pending[consumed:])]
		}
		if rerr == io.EOF {
			consumed, serr := splitter.Split(pending, true, emit)
			if serr != nil {
				group.Sync()
				return nil, 0, 0, serr
			}
			pending = pending[:copy(pending, pending[consumed:])]
			break
		}
		if rerr != nil {
			group.Sync()
			return nil, 0, 0, rerr
		}
	}

	if ok := group.Sync(); !ok {
		return nil, 0, 0, fmt.Errorf("snapshot: chunk upload failed")
	}

	var total uint64
	if len(refs) > 0 {
		last := refs[len(refs)-1]
		total = uint64(last.Offset) + uint64(last.Length)
	}
	return refs, total, storedDelta, nil
}
