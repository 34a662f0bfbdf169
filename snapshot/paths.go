package snapshot

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// resolveRoot turns a user-supplied root argument into an absolute
// filesystem path (for local I/O) and a backend-portable stored form
// (forward slashes, Windows drive letters folded into a leading
// `/c/...` segment), per spec.md §4.7 step 1.
func resolveRoot(raw string) (absPath, storedName string, err error) {
	if raw == "" {
		return "", "", fmt.Errorf("empty root path")
	}
	for _, part := range strings.Split(filepath.ToSlash(raw), "/") {
		if part == ".." {
			return "", "", fmt.Errorf("root path %q contains '..'", raw)
		}
	}

	abs, err := filepath.Abs(raw)
	if err != nil {
		return "", "", fmt.Errorf("resolve root %q: %w", raw, err)
	}
	return abs, toPortablePath(abs), nil
}

// toPortablePath rewrites an absolute path into the stable, host-
// independent form stored on the wire: forward slashes, and a Windows
// drive letter (`C:\foo`) folded to `/c/foo`.
func toPortablePath(p string) string {
	p = filepath.ToSlash(p)
	if len(p) >= 2 && p[1] == ':' && isDriveLetter(p[0]) {
		p = "/" + strings.ToLower(string(p[0])) + p[2:]
	}
	return p
}

func isDriveLetter(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}

// fillStat populates the stat-derived fields of a directory entry.
// Mode is recorded as the POSIX permission bits only; entry Kind already
// carries the file type, so there is no need to fold Go's FileMode type
// bits into the wire form. Owner/group come from the platform's raw
// stat struct where available; Birthtime holds that struct's ctime
// (inode change time) there and the mtime elsewhere. The file's
// creation time is not read.
func fillStat(e *DirEntry, info os.FileInfo) {
	e.Mtime = info.ModTime().Unix()
	e.Birthtime = e.Mtime
	e.Mode = uint32(info.Mode().Perm())
	e.Size = uint64(info.Size())

	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		e.UID = st.Uid
		e.GID = st.Gid
		e.Birthtime = st.Ctim.Sec
	}
}

// seedFromKey derives the chunker's 64-bit seed from the repository's
// public key, matching spec.md §4.2's "seed derived from the repository
// salt."
func seedFromKey(pub [32]byte) uint64 {
	return binary.BigEndian.Uint64(pub[:8])
}

// subtreeBytes is the contribution of one directory entry to its
// parent's cumulative "total regular-file bytes" trailer (spec.md §3):
// files and subdirectories count their own (already-cumulative) size,
// symlinks do not count as regular file content.
func subtreeBytes(e DirEntry) uint64 {
	if e.Kind == KindLink {
		return 0
	}
	return e.Size
}
