// Package object implements the on-wire envelope that wraps every stored
// object: authenticated, per-object symmetric encryption under a key
// sealed to the repository's public key (spec.md §4.3).
package object

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/rekord-project/rekord/oid"
)

// Version is the current envelope wire version. Decode rejects any
// version greater than this.
const Version = 2

// segmentSize is the plaintext size of every encryption segment except
// possibly the last (spec.md §4.3: "Chunk size for encryption segments
// is exactly 32 KiB of plaintext").
const segmentSize = 32 * 1024

// segmentOverhead is the bytes an encrypted segment adds on top of its
// plaintext: one tag byte (message/final, standing in for libsodium's
// secretstream tag) plus the 16-byte Poly1305 authentication tag.
const segmentOverhead = 1 + chacha20poly1305.Overhead

const (
	tagMessage byte = 0
	tagFinal   byte = 1
)

// headerSize is the fixed XChaCha20-Poly1305 stream header: a random base
// nonce prefix that, combined with a per-segment counter, derives each
// segment's nonce.
const headerSize = chacha20poly1305.NonceSizeX

// EnvelopeOverhead is the total number of bytes the envelope adds before
// any encrypted segments: version + type + sealed key + stream header.
const EnvelopeOverhead = 1 + 1 + 32 + sealOverhead + headerSize

// Encode writes the envelope form of plaintext (of declared type typ) to
// w, sealed to repoPub. It returns the total number of bytes written.
// Encode streams its output segment-by-segment so callers do not need to
// buffer the whole ciphertext, though the plaintext itself is taken as a
// single slice (the largest plaintexts this engine handles — single
// chunks — are already bounded to a few MiB, so this is never a whole
// multi-gigabyte file at once).
func Encode(w io.Writer, typ Type, repoPub [32]byte, plaintext []byte) (int64, error) {
	var key [32]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return 0, fmt.Errorf("object: generate object key: %w", err)
	}

	sealedKey, err := sealAnonymous(key[:], repoPub)
	if err != nil {
		return 0, err
	}

	var header [headerSize]byte
	if _, err := io.ReadFull(rand.Reader, header[:]); err != nil {
		return 0, fmt.Errorf("object: generate stream header: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return 0, fmt.Errorf("object: init cipher: %w", err)
	}

	var written int64

	writeAll := func(buf []byte) error {
		n, err := w.Write(buf)
		written += int64(n)
		if err != nil {
			return fmt.Errorf("object: write envelope: %w", err)
		}
		return nil
	}

	if err := writeAll([]byte{byte(Version), byte(typ)}); err != nil {
		return written, err
	}
	if err := writeAll(sealedKey); err != nil {
		return written, err
	}
	if err := writeAll(header[:]); err != nil {
		return written, err
	}

	remaining := plaintext
	var seg uint64
	for {
		n := segmentSize
		final := false
		if n >= len(remaining) {
			n = len(remaining)
			final = true
		}
		chunk := remaining[:n]
		remaining = remaining[n:]

		tag := tagMessage
		if final {
			tag = tagFinal
		}

		nonce := segmentNonce(header, seg)
		plain := make([]byte, 0, len(chunk)+1)
		plain = append(plain, chunk...)
		plain = append(plain, tag)

		cipher := aead.Seal(nil, nonce[:], plain, nil)
		if err := writeAll(cipher); err != nil {
			return written, err
		}

		seg++
		if final {
			break
		}
	}

	return written, nil
}

// EncodeBytes is a convenience wrapper around Encode that returns the
// envelope as a single buffer.
func EncodeBytes(typ Type, repoPub [32]byte, plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := Encode(&buf, typ, repoPub, plaintext); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads an envelope from r, unseals it with the repository's
// keypair, and returns the object's declared type and plaintext.
func Decode(r io.Reader, repoPub, repoSec [32]byte) (Type, []byte, error) {
	var fixed [2 + sealOverhead + 32]byte // version, type, sealed 32-byte key
	if _, err := io.ReadFull(r, fixed[:2]); err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	version := fixed[0]
	typ := Type(int8(fixed[1]))

	if version > Version {
		return 0, nil, fmt.Errorf("%w: got %d, support up to %d", ErrUnsupportedVersion, version, Version)
	}
	if !typ.Valid() {
		return 0, nil, fmt.Errorf("%w: code %d", ErrUnknownType, typ)
	}

	sealedKey := make([]byte, 32+sealOverhead)
	if _, err := io.ReadFull(r, sealedKey); err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}

	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}

	keyBytes, err := openAnonymous(sealedKey, repoPub, repoSec)
	if err != nil {
		return 0, nil, err
	}
	if len(keyBytes) != 32 {
		return 0, nil, fmt.Errorf("%w: unsealed key has wrong length", ErrCorrupt)
	}
	var key [32]byte
	copy(key[:], keyBytes)

	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return 0, nil, fmt.Errorf("object: init cipher: %w", err)
	}

	var plaintext []byte
	segBuf := make([]byte, segmentSize+segmentOverhead)

	var seg uint64
	sawFinal := false
	for {
		n, err := io.ReadFull(r, segBuf)
		if err == io.EOF && n == 0 {
			break
		}
		if err != nil && err != io.ErrUnexpectedEOF {
			return 0, nil, fmt.Errorf("%w: %v", ErrTruncated, err)
		}

		cipher := segBuf[:n]
		nonce := segmentNonce(header, seg)
		plain, derr := aead.Open(nil, nonce[:], cipher, nil)
		if derr != nil {
			return 0, nil, fmt.Errorf("%w: segment %d: %v", ErrCorrupt, seg, derr)
		}
		if len(plain) == 0 {
			return 0, nil, fmt.Errorf("%w: empty segment", ErrCorrupt)
		}

		tag := plain[len(plain)-1]
		data := plain[:len(plain)-1]
		plaintext = append(plaintext, data...)

		sawFinal = tag == tagFinal
		seg++

		if err == io.ErrUnexpectedEOF || n < len(segBuf) {
			break
		}
	}

	if !sawFinal {
		return 0, nil, ErrTruncated
	}

	return typ, plaintext, nil
}

// segmentNonce derives the per-segment nonce from the stream header by
// overwriting its final 8 bytes with a big-endian segment counter. The
// header's leading bytes are fresh random per object, so nonce reuse
// across distinct objects requires colliding both the random prefix and
// the counter, which does not happen in practice.
func segmentNonce(header [headerSize]byte, seg uint64) [headerSize]byte {
	nonce := header
	binary.BigEndian.PutUint64(nonce[headerSize-8:], seg)
	return nonce
}

// DeriveOID computes the content-addressed identifier of plaintext P
// under type T: BLAKE3 keyed with repoPub XOR (T placed in byte 31),
// which prevents the same bytes stored under two different types from
// aliasing to the same OID (spec.md §4.3).
func DeriveOID(typ Type, plaintext []byte, repoPub [32]byte) (oid.ID, error) {
	key := repoPub
	key[31] ^= byte(typ)

	h, err := blake3.NewKeyed(key[:])
	if err != nil {
		return oid.ID{}, fmt.Errorf("object: keyed hash: %w", err)
	}
	if _, err := h.Write(plaintext); err != nil {
		return oid.ID{}, err
	}

	sum := h.Sum(nil)
	return oid.FromBytes(sum)
}
