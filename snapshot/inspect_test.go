package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rekord-project/rekord/oid"
)

func hasPathSuffix(paths []string, suffix string) bool {
	for _, p := range paths {
		if p == suffix || strings.HasSuffix(p, "/"+suffix) {
			return true
		}
	}
	return false
}

func TestListAndDiffSnapshots(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "a.txt"), []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}

	id1, _, _, err := Put(ctx, repo, []string{src}, PutSettings{Name: "first"}, nil)
	if err != nil {
		t.Fatalf("Put (1st): %v", err)
	}

	if err := os.WriteFile(filepath.Join(src, "b.txt"), []byte("v2"), 0o644); err != nil {
		t.Fatal(err)
	}
	id2, _, _, err := Put(ctx, repo, []string{src}, PutSettings{Name: "second"}, nil)
	if err != nil {
		t.Fatalf("Put (2nd): %v", err)
	}

	infos, err := List(ctx, repo, nil)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("List returned %d entries, want 2", len(infos))
	}
	names := map[string]bool{infos[0].Name: true, infos[1].Name: true}
	if !names["first"] || !names["second"] {
		t.Fatalf("List names = %v, want {first, second}", names)
	}

	diff, err := DiffSnapshots(ctx, repo, id1, id2)
	if err != nil {
		t.Fatalf("DiffSnapshots: %v", err)
	}
	if len(diff.Added) != 1 || !hasPathSuffix(diff.Added, "b.txt") {
		t.Fatalf("diff.Added = %v, want exactly one entry ending in b.txt", diff.Added)
	}
	if len(diff.Removed) != 0 {
		t.Fatalf("diff.Removed = %v, want none", diff.Removed)
	}
	if len(diff.Modified) != 0 {
		t.Fatalf("diff.Modified = %v, want none", diff.Modified)
	}
	if diff.IsEmpty() {
		t.Fatal("diff.IsEmpty() = true, want false")
	}
	if diff.TotalChanges() != 1 {
		t.Fatalf("diff.TotalChanges() = %d, want 1", diff.TotalChanges())
	}
}

func TestDiffSnapshotsWithZeroOldTreatsAllAsAdded(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "only.txt"), []byte("content"), 0o644); err != nil {
		t.Fatal(err)
	}
	id, _, _, err := Put(ctx, repo, []string{src}, PutSettings{Name: "only"}, nil)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	diff, err := DiffSnapshots(ctx, repo, oid.ID{}, id)
	if err != nil {
		t.Fatalf("DiffSnapshots: %v", err)
	}
	if len(diff.Added) != 1 || !hasPathSuffix(diff.Added, "only.txt") {
		t.Fatalf("diff.Added = %v, want exactly one entry ending in only.txt", diff.Added)
	}
}
