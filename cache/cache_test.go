package cache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rekord-project/rekord/oid"
)

func openTest(t *testing.T) *Cache {
	t.Helper()
	dir := t.TempDir()
	c, err := OpenFile(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestKnownObjectRoundTrip(t *testing.T) {
	c := openTest(t)
	ctx := context.Background()

	id := oid.MustParse("aa" + stringRepeat("0", 62))

	known, err := c.KnownObject(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if known {
		t.Fatal("expected unknown object before marking")
	}

	if err := c.MarkObject(ctx, id); err != nil {
		t.Fatal(err)
	}

	known, err = c.KnownObject(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if !known {
		t.Fatal("expected known object after marking")
	}
}

func TestStatRoundTrip(t *testing.T) {
	c := openTest(t)
	ctx := context.Background()

	id := oid.MustParse("bb" + stringRepeat("1", 62))
	want := FileStat{Mtime: 123, Mode: 0o644, Size: 4096, ID: id}

	if err := c.StoreStat(ctx, "/some/path", want); err != nil {
		t.Fatal(err)
	}

	got, ok, err := c.LookupStat(ctx, "/some/path")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected stat to be found")
	}
	if got != want {
		t.Fatalf("LookupStat = %+v, want %+v", got, want)
	}
}

func TestLookupStatMissing(t *testing.T) {
	c := openTest(t)
	ctx := context.Background()

	_, ok, err := c.LookupStat(ctx, "/does/not/exist")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected missing stat to report not-found")
	}
}

func stringRepeat(s string, n int) string {
	out := make([]byte, 0, n*len(s))
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}
