package snapshot

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rekord-project/rekord/oid"
)

func TestPutGetRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	src := t.TempDir()
	if err := os.MkdirAll(filepath.Join(src, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "sub", "a.txt"), []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}
	bigContent := bytes.Repeat([]byte("x"), 9<<20) // over the 8 MiB chunk maximum, so it spans more than one chunk
	if err := os.WriteFile(filepath.Join(src, "top.txt"), bigContent, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("a.txt", filepath.Join(src, "sub", "link")); err != nil {
		t.Fatal(err)
	}

	id, logical, stored, err := Put(ctx, repo, []string{src}, PutSettings{Name: "roundtrip"}, nil)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if logical == 0 || stored == 0 {
		t.Fatalf("expected nonzero byte counts, got logical=%d stored=%d", logical, stored)
	}

	dest := filepath.Join(t.TempDir(), "out")
	n, err := Get(ctx, repo, id, GetSettings{Flat: true}, dest, nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if n == 0 {
		t.Fatal("expected Get to report nonzero restored bytes")
	}

	restoredRoot := filepath.Join(dest, filepath.Base(src))

	got, err := os.ReadFile(filepath.Join(restoredRoot, "sub", "a.txt"))
	if err != nil {
		t.Fatalf("read restored file: %v", err)
	}
	if string(got) != "hello world" {
		t.Fatalf("content = %q, want %q", got, "hello world")
	}

	gotTop, err := os.ReadFile(filepath.Join(restoredRoot, "top.txt"))
	if err != nil {
		t.Fatalf("read restored top file: %v", err)
	}
	if !bytes.Equal(gotTop, bigContent) {
		t.Fatalf("restored top.txt content mismatch (%d bytes, want %d)", len(gotTop), len(bigContent))
	}

	target, err := os.Readlink(filepath.Join(restoredRoot, "sub", "link"))
	if err != nil {
		t.Fatalf("readlink: %v", err)
	}
	if target != "a.txt" {
		t.Fatalf("link target = %q, want %q", target, "a.txt")
	}
}

func TestPutRawModeReturnsFileObjectDirectly(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	src := t.TempDir()
	path := filepath.Join(src, "single.txt")
	if err := os.WriteFile(path, []byte("a single small file"), 0o644); err != nil {
		t.Fatal(err)
	}

	id, _, _, err := Put(ctx, repo, []string{path}, PutSettings{Raw: true}, nil)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	dest := filepath.Join(t.TempDir(), "out.txt")
	if _, err := Get(ctx, repo, id, GetSettings{}, dest, nil); err != nil {
		t.Fatalf("Get: %v", err)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read restored file: %v", err)
	}
	if string(got) != "a single small file" {
		t.Fatalf("content = %q, want %q", got, "a single small file")
	}

	tags, err := repo.ListTags(ctx)
	if err != nil {
		t.Fatalf("ListTags: %v", err)
	}
	if len(tags) != 0 {
		t.Fatalf("raw Put created %d tags, want 0", len(tags))
	}
}

func TestPutDedupsIdenticalContent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	src := t.TempDir()
	content := []byte("duplicate content, stored once")
	if err := os.WriteFile(filepath.Join(src, "a.txt"), content, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "b.txt"), content, 0o644); err != nil {
		t.Fatal(err)
	}

	id, _, _, err := Put(ctx, repo, []string{src}, PutSettings{}, nil)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	children := make(map[string]oid.ID)
	if err := Walk(ctx, repo, id, func(path string, e DirEntry) error {
		if e.Kind == KindFile {
			children[filepath.Base(path)] = e.Child
		}
		return nil
	}); err != nil {
		t.Fatalf("Walk: %v", err)
	}

	a, ok := children["a.txt"]
	if !ok {
		t.Fatal("a.txt not found in walk")
	}
	b, ok := children["b.txt"]
	if !ok {
		t.Fatal("b.txt not found in walk")
	}
	if a != b {
		t.Fatalf("a.txt child = %v, b.txt child = %v, want equal (content-addressed dedup)", a, b)
	}
}

func TestPutSkipsUnchangedFileViaCache(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "f.txt"), []byte("cached content"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, _, stored1, err := Put(ctx, repo, []string{src}, PutSettings{Raw: true}, nil)
	if err != nil {
		t.Fatalf("Put (1st): %v", err)
	}
	if stored1 == 0 {
		t.Fatal("expected nonzero stored bytes on first put")
	}

	_, _, stored2, err := Put(ctx, repo, []string{src}, PutSettings{Raw: true}, nil)
	if err != nil {
		t.Fatalf("Put (2nd): %v", err)
	}
	if stored2 != 0 {
		t.Fatalf("second put of an unchanged tree stored %d bytes, want 0", stored2)
	}
}
