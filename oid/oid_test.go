package oid

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseRoundTrip(t *testing.T) {
	var raw [Size]byte
	for i := range raw {
		raw[i] = byte(i)
	}
	id, err := FromBytes(raw[:])
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}

	s := id.String()
	if len(s) != Size*2 {
		t.Fatalf("String() length = %d, want %d", len(s), Size*2)
	}

	back, err := Parse(s)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if back != id {
		t.Fatalf("round trip mismatch: got %v want %v", back, id)
	}
	if !bytes.Equal(back[:], raw[:]) {
		t.Fatalf("round trip bytes mismatch")
	}
}

func TestParseErrors(t *testing.T) {
	cases := []string{
		"",
		"abcd",
		"gg" + strings.Repeat("0", Size*2-2),
		strings.Repeat("0", Size*2-1),
	}
	for _, c := range cases {
		if _, err := Parse(c); err == nil {
			t.Errorf("Parse(%q) expected error, got nil", c)
		}
	}
}

func TestFromBytesWrongLength(t *testing.T) {
	if _, err := FromBytes(make([]byte, 31)); err == nil {
		t.Fatal("expected error for short buffer")
	}
	if _, err := FromBytes(make([]byte, 33)); err == nil {
		t.Fatal("expected error for long buffer")
	}
}

func TestBucket(t *testing.T) {
	id := MustParse("ff" + strings.Repeat("0", Size*2-2))
	if got := id.Bucket(); got != "ff" {
		t.Fatalf("Bucket() = %q, want %q", got, "ff")
	}
}

func TestMapKey(t *testing.T) {
	m := make(map[ID]int)
	var a, b ID
	a[31] = 1
	b[31] = 2
	m[a] = 1
	m[b] = 2
	if m[a] != 1 || m[b] != 2 {
		t.Fatal("ID does not behave as a stable map key")
	}
}

func TestIsZero(t *testing.T) {
	if !Zero.IsZero() {
		t.Fatal("Zero.IsZero() = false")
	}
	var id ID
	id[0] = 1
	if id.IsZero() {
		t.Fatal("non-zero ID reported as zero")
	}
}
