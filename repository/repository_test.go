package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rekord-project/rekord"
	"github.com/rekord-project/rekord/config"
	"github.com/rekord-project/rekord/object"
)

func newTestRepo(t *testing.T) (config.Config, [32]byte) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "repo")
	cfg := config.Config{Scheme: config.SchemeLocal, Path: dir, Threads: 2}

	pub, err := Create(cfg, "fullpass", "writepass")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return cfg, pub
}

func TestOpenFullAndWriteMode(t *testing.T) {
	cfg, _ := newTestRepo(t)
	ctx := context.Background()

	full, err := Open(ctx, cfg, "fullpass")
	if err != nil {
		t.Fatalf("Open(full): %v", err)
	}
	defer full.Close()
	if full.Mode().String() != "ReadWrite" {
		t.Fatalf("mode = %v, want ReadWrite", full.Mode())
	}

	write, err := Open(ctx, cfg, "writepass")
	if err != nil {
		t.Fatalf("Open(write): %v", err)
	}
	defer write.Close()
	if write.Mode().String() != "WriteOnly" {
		t.Fatalf("mode = %v, want WriteOnly", write.Mode())
	}

	if _, err := Open(ctx, cfg, "wrong"); !rekord.IsKind(err, rekord.KindAuth) {
		t.Fatalf("err = %v, want KindAuth", err)
	}
}

func TestWriteReadHasObjectRoundTrip(t *testing.T) {
	cfg, _ := newTestRepo(t)
	ctx := context.Background()

	repo, err := Open(ctx, cfg, "fullpass")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer repo.Close()

	plaintext := []byte("hello, rekord!")
	id, err := object.DeriveOID(object.Chunk, plaintext, repo.PublicKey())
	if err != nil {
		t.Fatalf("DeriveOID: %v", err)
	}

	has, err := repo.HasObject(ctx, id)
	if err != nil {
		t.Fatalf("HasObject: %v", err)
	}
	if has {
		t.Fatal("expected object to be absent before writing")
	}

	n, err := repo.WriteObject(ctx, id, object.Chunk, plaintext)
	if err != nil {
		t.Fatalf("WriteObject: %v", err)
	}
	if n == 0 {
		t.Fatal("expected a nonzero byte count on first write")
	}

	n2, err := repo.WriteObject(ctx, id, object.Chunk, plaintext)
	if err != nil {
		t.Fatalf("WriteObject (second): %v", err)
	}
	if n2 != 0 {
		t.Fatalf("second write of the same object = %d bytes, want 0 (no-op)", n2)
	}

	typ, got, err := repo.ReadObject(ctx, id)
	if err != nil {
		t.Fatalf("ReadObject: %v", err)
	}
	if typ != object.Chunk {
		t.Fatalf("type = %v, want Chunk", typ)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("plaintext = %q, want %q", got, plaintext)
	}
}

func TestWriteTagAndListTags(t *testing.T) {
	cfg, _ := newTestRepo(t)
	ctx := context.Background()

	repo, err := Open(ctx, cfg, "fullpass")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer repo.Close()

	plaintext := []byte("snapshot contents")
	id, err := object.DeriveOID(object.Snapshot, plaintext, repo.PublicKey())
	if err != nil {
		t.Fatalf("DeriveOID: %v", err)
	}
	if _, err := repo.WriteObject(ctx, id, object.Snapshot, plaintext); err != nil {
		t.Fatalf("WriteObject: %v", err)
	}
	if _, err := repo.WriteTag(ctx, id); err != nil {
		t.Fatalf("WriteTag: %v", err)
	}

	tags, err := repo.ListTags(ctx)
	if err != nil {
		t.Fatalf("ListTags: %v", err)
	}
	if len(tags) != 1 || tags[0] != id {
		t.Fatalf("ListTags = %v, want [%v]", tags, id)
	}
}

func TestReadObjectRejectedInWriteOnlyMode(t *testing.T) {
	cfg, _ := newTestRepo(t)
	ctx := context.Background()

	full, err := Open(ctx, cfg, "fullpass")
	if err != nil {
		t.Fatalf("Open(full): %v", err)
	}
	plaintext := []byte("x")
	id, _ := object.DeriveOID(object.Chunk, plaintext, full.PublicKey())
	if _, err := full.WriteObject(ctx, id, object.Chunk, plaintext); err != nil {
		t.Fatalf("WriteObject: %v", err)
	}
	full.Close()

	write, err := Open(ctx, cfg, "writepass")
	if err != nil {
		t.Fatalf("Open(write): %v", err)
	}
	defer write.Close()

	if _, _, err := write.ReadObject(ctx, id); !rekord.IsKind(err, rekord.KindAuth) {
		t.Fatalf("err = %v, want KindAuth", err)
	}
}
