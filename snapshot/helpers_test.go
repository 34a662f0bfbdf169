package snapshot

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rekord-project/rekord/config"
	"github.com/rekord-project/rekord/repository"
)

func newTestRepo(t *testing.T) *repository.Repository {
	t.Helper()
	repo, _ := newTestRepoWithDir(t)
	return repo
}

// newTestRepoWithDir also returns the repository's backing directory, for
// tests that need to reach in and corrupt a blob file directly.
func newTestRepoWithDir(t *testing.T) (*repository.Repository, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "repo")
	cfg := config.Config{Scheme: config.SchemeLocal, Path: dir, Threads: 4}

	if _, err := repository.Create(cfg, "fullpass", "writepass"); err != nil {
		t.Fatalf("repository.Create: %v", err)
	}
	repo, err := repository.Open(context.Background(), cfg, "fullpass")
	if err != nil {
		t.Fatalf("repository.Open: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo, dir
}
