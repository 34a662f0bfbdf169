package object

import (
	"bytes"
	"crypto/rand"
	"testing"

	"golang.org/x/crypto/nacl/box"
)

func genKeypair(t *testing.T) (pub, sec [32]byte) {
	t.Helper()
	p, s, err := box.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	return *p, *s
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	pub, sec := genKeypair(t)

	cases := [][]byte{
		nil,
		[]byte("hello"),
		make([]byte, segmentSize),
		make([]byte, segmentSize+1),
		make([]byte, segmentSize*3+17),
	}
	for i, data := range cases {
		if len(data) > 0 {
			if _, err := rand.Read(data); err != nil {
				t.Fatal(err)
			}
		}

		envelope, err := EncodeBytes(File, pub, data)
		if err != nil {
			t.Fatalf("case %d: Encode: %v", i, err)
		}

		typ, plain, err := Decode(bytes.NewReader(envelope), pub, sec)
		if err != nil {
			t.Fatalf("case %d: Decode: %v", i, err)
		}
		if typ != File {
			t.Fatalf("case %d: type = %v, want File", i, typ)
		}
		if !bytes.Equal(plain, data) {
			t.Fatalf("case %d: round-trip mismatch (got %d bytes, want %d)", i, len(plain), len(data))
		}
	}
}

func TestDecodeWrongKeyFails(t *testing.T) {
	pub, _ := genKeypair(t)
	_, otherSec := genKeypair(t)

	envelope, err := EncodeBytes(Chunk, pub, []byte("secret"))
	if err != nil {
		t.Fatal(err)
	}

	if _, _, err := Decode(bytes.NewReader(envelope), pub, otherSec); err == nil {
		t.Fatal("expected decode with wrong secret key to fail")
	}
}

func TestDecodeCorruptionDetected(t *testing.T) {
	pub, sec := genKeypair(t)

	data := make([]byte, segmentSize+500)
	if _, err := rand.Read(data); err != nil {
		t.Fatal(err)
	}

	envelope, err := EncodeBytes(Directory, pub, data)
	if err != nil {
		t.Fatal(err)
	}

	flipped := append([]byte(nil), envelope...)
	flipped[len(flipped)-10] ^= 0xFF

	if _, _, err := Decode(bytes.NewReader(flipped), pub, sec); err == nil {
		t.Fatal("expected corrupted envelope to fail authentication")
	}
}

func TestDecodeRejectsUnsupportedVersion(t *testing.T) {
	pub, sec := genKeypair(t)

	envelope, err := EncodeBytes(Snapshot, pub, []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	envelope[0] = Version + 1

	if _, _, err := Decode(bytes.NewReader(envelope), pub, sec); err == nil {
		t.Fatal("expected future version to be rejected")
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	pub, sec := genKeypair(t)

	envelope, err := EncodeBytes(Link, pub, []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	envelope[1] = 99

	if _, _, err := Decode(bytes.NewReader(envelope), pub, sec); err == nil {
		t.Fatal("expected unknown type code to be rejected")
	}
}

func TestDecodeRejectsTruncatedEnvelope(t *testing.T) {
	pub, sec := genKeypair(t)

	envelope, err := EncodeBytes(File, pub, make([]byte, segmentSize+100))
	if err != nil {
		t.Fatal(err)
	}

	truncated := envelope[:len(envelope)-5]
	if _, _, err := Decode(bytes.NewReader(truncated), pub, sec); err == nil {
		t.Fatal("expected truncated envelope to be rejected")
	}
}

func TestDeriveOIDDeterministic(t *testing.T) {
	pub, _ := genKeypair(t)
	data := []byte("content defined chunking")

	a, err := DeriveOID(Chunk, data, pub)
	if err != nil {
		t.Fatal(err)
	}
	b, err := DeriveOID(Chunk, data, pub)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatal("DeriveOID is not deterministic for identical inputs")
	}
}

func TestDeriveOIDTypeTweak(t *testing.T) {
	pub, _ := genKeypair(t)
	data := []byte("same bytes, different declared type")

	chunkID, err := DeriveOID(Chunk, data, pub)
	if err != nil {
		t.Fatal(err)
	}
	fileID, err := DeriveOID(File, data, pub)
	if err != nil {
		t.Fatal(err)
	}
	if chunkID == fileID {
		t.Fatal("identical plaintext under different types must not alias to the same OID")
	}
}

func TestDeriveOIDRepositoryTweak(t *testing.T) {
	pubA, _ := genKeypair(t)
	pubB, _ := genKeypair(t)
	data := []byte("same bytes, different repository")

	idA, err := DeriveOID(Chunk, data, pubA)
	if err != nil {
		t.Fatal(err)
	}
	idB, err := DeriveOID(Chunk, data, pubB)
	if err != nil {
		t.Fatal(err)
	}
	if idA == idB {
		t.Fatal("identical plaintext under different repository keys must not alias to the same OID")
	}
}
