package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rekord-project/rekord"
	"github.com/rekord-project/rekord/object"
)

// TestGetRejectsUnsafePath builds a Directory object containing an entry
// whose name escapes its parent via "..", and a Snapshot rooted on it,
// directly through the object layer (bypassing the writer, which would
// never produce such a name) to exercise the reader's own defense.
func TestGetRejectsUnsafePath(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	payload := []byte("evil payload")
	chunkID, err := object.DeriveOID(object.Chunk, payload, repo.PublicKey())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := repo.WriteObject(ctx, chunkID, object.Chunk, payload); err != nil {
		t.Fatal(err)
	}

	malicious := DirEntry{
		Child: chunkID, Stated: true, Readable: true,
		Kind: KindFile, Name: "../escape.txt", Size: uint64(len(payload)),
	}
	dirPlaintext, err := EncodeDirectory([]DirEntry{malicious}, uint64(len(payload)))
	if err != nil {
		t.Fatal(err)
	}
	dirID, err := object.DeriveOID(object.Directory, dirPlaintext, repo.PublicKey())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := repo.WriteObject(ctx, dirID, object.Directory, dirPlaintext); err != nil {
		t.Fatal(err)
	}

	root := DirEntry{
		Child: dirID, Stated: true, Readable: true,
		Kind: KindDirectory, Name: "/tmp/victim", Size: uint64(len(payload)),
	}
	header := SnapshotHeader{Name: "malicious", CreatedAt: 1, LogicalBytes: int64(len(payload)), StoredBytes: int64(len(payload))}
	snapPlaintext, err := EncodeSnapshot(header, []DirEntry{root}, uint64(len(payload)))
	if err != nil {
		t.Fatal(err)
	}
	snapID, err := object.DeriveOID(object.Snapshot, snapPlaintext, repo.PublicKey())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := repo.WriteObject(ctx, snapID, object.Snapshot, snapPlaintext); err != nil {
		t.Fatal(err)
	}

	dest := filepath.Join(t.TempDir(), "out")
	if _, err := Get(ctx, repo, snapID, GetSettings{}, dest, nil); !rekord.IsKind(err, rekord.KindUnsafePath) {
		t.Fatalf("err = %v, want KindUnsafePath", err)
	}
}

func TestGetRejectsNonEmptyDestination(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "a.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}
	id, _, _, err := Put(ctx, repo, []string{src}, PutSettings{Name: "n"}, nil)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	dest := t.TempDir()
	if err := os.WriteFile(filepath.Join(dest, "occupied"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Get(ctx, repo, id, GetSettings{}, dest, nil); !rekord.IsKind(err, rekord.KindUnsafePath) {
		t.Fatalf("err = %v, want KindUnsafePath", err)
	}
}
