package snapshot

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rekord-project/rekord"
	"github.com/rekord-project/rekord/backend"
	"github.com/rekord-project/rekord/oid"
)

// TestParallelPutsOfDistinctTreesAreSafe exercises P6's "parallel
// safety" property: N concurrent Put calls into the same repository,
// each over its own tree, must each restore correctly with no
// cross-contamination.
func TestParallelPutsOfDistinctTreesAreSafe(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	const n = 5
	srcs := make([]string, n)
	contents := make([]string, n)
	for i := 0; i < n; i++ {
		src := t.TempDir()
		content := bytes.Repeat([]byte{byte('a' + i)}, 4096)
		if err := os.WriteFile(filepath.Join(src, "f.txt"), content, 0o644); err != nil {
			t.Fatal(err)
		}
		srcs[i] = src
		contents[i] = string(content)
	}

	ids := make([]oid.ID, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, _, _, err := Put(ctx, repo, []string{srcs[i]}, PutSettings{Name: "concurrent"}, nil)
			ids[i] = id
			errs[i] = err
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
	}

	for i := 0; i < n; i++ {
		dest := filepath.Join(t.TempDir(), "out")
		if _, err := Get(ctx, repo, ids[i], GetSettings{Flat: true}, dest, nil); err != nil {
			t.Fatalf("Get %d: %v", i, err)
		}
		got, err := os.ReadFile(filepath.Join(dest, "f.txt"))
		if err != nil {
			t.Fatalf("read restored file %d: %v", i, err)
		}
		if string(got) != contents[i] {
			t.Fatalf("tree %d restored with wrong content", i)
		}
	}
}

// TestCorruptObjectIsolation exercises P7: flipping a bit in one stored
// chunk must fail Get of any snapshot referencing it, while List and an
// unrelated Put still succeed.
func TestCorruptObjectIsolation(t *testing.T) {
	repo, dir := newTestRepoWithDir(t)
	ctx := context.Background()

	src := t.TempDir()
	content := bytes.Repeat([]byte("z"), 4096)
	if err := os.WriteFile(filepath.Join(src, "f.txt"), content, 0o644); err != nil {
		t.Fatal(err)
	}
	id, _, _, err := Put(ctx, repo, []string{src}, PutSettings{Name: "victim"}, nil)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	var childID oid.ID
	var found bool
	if err := Walk(ctx, repo, id, func(path string, e DirEntry) error {
		if e.Kind == KindFile {
			childID = e.Child
			found = true
		}
		return nil
	}); err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if !found {
		t.Fatal("walk found no file entry")
	}

	blobPath := filepath.Join(dir, backend.BlobPath(childID))
	data, err := os.ReadFile(blobPath)
	if err != nil {
		t.Fatalf("read blob: %v", err)
	}
	data[len(data)-1] ^= 0xFF
	if err := os.WriteFile(blobPath, data, 0o644); err != nil {
		t.Fatalf("corrupt blob: %v", err)
	}

	dest := filepath.Join(t.TempDir(), "out")
	_, err = Get(ctx, repo, id, GetSettings{}, dest, nil)
	if err == nil {
		t.Fatal("Get succeeded against a corrupted object, want an error")
	}
	if !rekord.IsKind(err, rekord.KindCorrupt) && !rekord.IsKind(err, rekord.KindAuth) {
		t.Fatalf("err = %v, want KindCorrupt or KindAuth", err)
	}

	if _, err := List(ctx, repo, nil); err != nil {
		t.Fatalf("List after corruption: %v", err)
	}

	otherSrc := t.TempDir()
	if err := os.WriteFile(filepath.Join(otherSrc, "g.txt"), []byte("unrelated"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, _, err := Put(ctx, repo, []string{otherSrc}, PutSettings{Name: "unrelated"}, nil); err != nil {
		t.Fatalf("Put of an unrelated tree after corruption: %v", err)
	}
}
