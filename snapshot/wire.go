// Package snapshot implements the writer and reader described in
// spec.md §4.7/§4.8: walking a filesystem tree into chunk/file/
// directory/snapshot objects, and reconstructing (or inspecting) that
// graph back out. This file defines the fixed-width wire layouts those
// objects use, grounded on original_source/src/rekord/types.hh's
// rk_ChunkEntry (44 bytes), rk_FileEntry header (76 bytes), and
// rk_SnapshotHeader (536 bytes).
package snapshot

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/rekord-project/rekord/oid"
)

const (
	chunkRefSize  = 44
	dirEntryFixed = 76

	snapshotNameSize   = 512
	snapshotHeaderSize = snapshotNameSize + 8 + 8 + 8 // name + ctime + logical + stored
)

// EntryKind mirrors spec.md §3's directory-entry "kind" field.
type EntryKind int16

const (
	KindDirectory EntryKind = 0
	KindFile      EntryKind = 1
	KindLink      EntryKind = 2
	KindUnknown   EntryKind = -1
)

func (k EntryKind) String() string {
	switch k {
	case KindDirectory:
		return "Directory"
	case KindFile:
		return "File"
	case KindLink:
		return "Link"
	default:
		return "Unknown"
	}
}

const (
	flagStated   uint16 = 1 << 0
	flagReadable uint16 = 1 << 1
)

// ChunkRef is one 44-byte chunk reference inside a File object's
// plaintext.
type ChunkRef struct {
	Offset int64
	Length uint32
	OID    oid.ID
}

func encodeChunkRef(buf []byte, c ChunkRef) {
	binary.LittleEndian.PutUint64(buf[0:8], uint64(c.Offset))
	binary.LittleEndian.PutUint32(buf[8:12], c.Length)
	copy(buf[12:44], c.OID[:])
}

func decodeChunkRef(buf []byte) (ChunkRef, error) {
	id, err := oid.FromBytes(buf[12:44])
	if err != nil {
		return ChunkRef{}, err
	}
	return ChunkRef{
		Offset: int64(binary.LittleEndian.Uint64(buf[0:8])),
		Length: binary.LittleEndian.Uint32(buf[8:12]),
		OID:    id,
	}, nil
}

// EncodeFile serializes a File object's plaintext: the chunk reference
// table followed by the 8-byte little-endian total length trailer
// (spec.md §3). refs must already be in strictly increasing offset
// order; the caller (the writer) guarantees this by construction.
func EncodeFile(refs []ChunkRef, totalLength uint64) []byte {
	buf := make([]byte, len(refs)*chunkRefSize+8)
	for i, ref := range refs {
		encodeChunkRef(buf[i*chunkRefSize:], ref)
	}
	binary.LittleEndian.PutUint64(buf[len(refs)*chunkRefSize:], totalLength)
	return buf
}

// DecodeFile parses a File object's plaintext, validating the offset
// ordering invariant from spec.md §3.
func DecodeFile(data []byte) ([]ChunkRef, uint64, error) {
	if len(data) < 8 {
		return nil, 0, fmt.Errorf("snapshot: file object too short (%d bytes)", len(data))
	}
	body := data[:len(data)-8]
	if len(body)%chunkRefSize != 0 {
		return nil, 0, fmt.Errorf("snapshot: file object body is not a multiple of %d bytes", chunkRefSize)
	}

	n := len(body) / chunkRefSize
	refs := make([]ChunkRef, n)
	var wantOffset int64
	for i := 0; i < n; i++ {
		ref, err := decodeChunkRef(body[i*chunkRefSize:])
		if err != nil {
			return nil, 0, err
		}
		if ref.Offset != wantOffset {
			return nil, 0, fmt.Errorf("snapshot: chunk %d offset %d, want %d", i, ref.Offset, wantOffset)
		}
		wantOffset += int64(ref.Length)
		refs[i] = ref
	}

	total := binary.LittleEndian.Uint64(data[len(data)-8:])
	if int64(total) != wantOffset {
		return nil, 0, fmt.Errorf("snapshot: file total length %d does not match chunk sum %d", total, wantOffset)
	}
	return refs, total, nil
}

// DirEntry is one directory-entry record, shared by Directory and
// Snapshot objects (spec.md §3).
type DirEntry struct {
	Child     oid.ID
	Stated    bool
	Readable  bool
	Kind      EntryKind
	Mtime     int64
	Birthtime int64
	UID       uint32
	GID       uint32
	Mode      uint32
	Size      uint64
	Name      string
	Xattrs    map[string]string // empty unless PutSettings.CaptureXattrs is set (SPEC_FULL §3.1)
}

func encodeXattrs(x map[string]string) ([]byte, error) {
	if len(x) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(x); err != nil {
		return nil, fmt.Errorf("snapshot: encode xattrs: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeXattrs(data []byte) (map[string]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var x map[string]string
	if err := msgpack.Unmarshal(data, &x); err != nil {
		return nil, fmt.Errorf("snapshot: decode xattrs: %w", err)
	}
	return x, nil
}

func encodeDirEntry(e DirEntry) ([]byte, error) {
	nameBytes := []byte(e.Name)
	if len(nameBytes) > 0xFFFF {
		return nil, fmt.Errorf("snapshot: entry name too long (%d bytes)", len(nameBytes))
	}
	xattrBytes, err := encodeXattrs(e.Xattrs)
	if err != nil {
		return nil, err
	}
	if len(xattrBytes) > 0xFFFF {
		return nil, fmt.Errorf("snapshot: xattr blob too long (%d bytes)", len(xattrBytes))
	}

	var flags uint16
	if e.Stated {
		flags |= flagStated
	}
	if e.Readable {
		flags |= flagReadable
	}

	buf := make([]byte, dirEntryFixed+len(nameBytes)+len(xattrBytes))
	copy(buf[0:32], e.Child[:])
	binary.LittleEndian.PutUint16(buf[32:34], flags)
	binary.LittleEndian.PutUint16(buf[34:36], uint16(int16(e.Kind)))
	binary.LittleEndian.PutUint16(buf[36:38], uint16(len(nameBytes)))
	binary.LittleEndian.PutUint16(buf[38:40], uint16(len(xattrBytes)))
	binary.LittleEndian.PutUint64(buf[40:48], uint64(e.Mtime))
	binary.LittleEndian.PutUint64(buf[48:56], uint64(e.Birthtime))
	binary.LittleEndian.PutUint32(buf[56:60], e.UID)
	binary.LittleEndian.PutUint32(buf[60:64], e.GID)
	binary.LittleEndian.PutUint32(buf[64:68], e.Mode)
	binary.LittleEndian.PutUint64(buf[68:76], e.Size)
	copy(buf[dirEntryFixed:], nameBytes)
	copy(buf[dirEntryFixed+len(nameBytes):], xattrBytes)
	return buf, nil
}

// decodeDirEntry parses one entry from the head of buf, returning the
// entry and the number of bytes it consumed.
func decodeDirEntry(buf []byte) (DirEntry, int, error) {
	if len(buf) < dirEntryFixed {
		return DirEntry{}, 0, fmt.Errorf("snapshot: truncated directory entry")
	}

	id, err := oid.FromBytes(buf[0:32])
	if err != nil {
		return DirEntry{}, 0, err
	}
	flags := binary.LittleEndian.Uint16(buf[32:34])
	kind := EntryKind(int16(binary.LittleEndian.Uint16(buf[34:36])))
	nameLen := int(binary.LittleEndian.Uint16(buf[36:38]))
	xattrLen := int(binary.LittleEndian.Uint16(buf[38:40]))

	total := dirEntryFixed + nameLen + xattrLen
	if len(buf) < total {
		return DirEntry{}, 0, fmt.Errorf("snapshot: truncated directory entry body")
	}

	name := string(buf[dirEntryFixed : dirEntryFixed+nameLen])
	xattrs, err := decodeXattrs(buf[dirEntryFixed+nameLen : total])
	if err != nil {
		return DirEntry{}, 0, err
	}

	e := DirEntry{
		Child:     id,
		Stated:    flags&flagStated != 0,
		Readable:  flags&flagReadable != 0,
		Kind:      kind,
		Mtime:     int64(binary.LittleEndian.Uint64(buf[40:48])),
		Birthtime: int64(binary.LittleEndian.Uint64(buf[48:56])),
		UID:       binary.LittleEndian.Uint32(buf[56:60]),
		GID:       binary.LittleEndian.Uint32(buf[60:64]),
		Mode:      binary.LittleEndian.Uint32(buf[64:68]),
		Size:      binary.LittleEndian.Uint64(buf[68:76]),
		Name:      name,
		Xattrs:    xattrs,
	}
	return e, total, nil
}

// EncodeDirectory serializes a Directory object's plaintext: entries in
// the order given, followed by the 8-byte cumulative-length trailer.
func EncodeDirectory(entries []DirEntry, cumulativeLength uint64) ([]byte, error) {
	var buf []byte
	for _, e := range entries {
		enc, err := encodeDirEntry(e)
		if err != nil {
			return nil, err
		}
		buf = append(buf, enc...)
	}
	trailer := make([]byte, 8)
	binary.LittleEndian.PutUint64(trailer, cumulativeLength)
	return append(buf, trailer...), nil
}

// DecodeDirectory parses a Directory object's plaintext.
func DecodeDirectory(data []byte) ([]DirEntry, uint64, error) {
	if len(data) < 8 {
		return nil, 0, fmt.Errorf("snapshot: directory object too short")
	}
	body := data[:len(data)-8]

	var entries []DirEntry
	for len(body) > 0 {
		e, n, err := decodeDirEntry(body)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
		body = body[n:]
	}

	cumulative := binary.LittleEndian.Uint64(data[len(data)-8:])
	return entries, cumulative, nil
}

// SnapshotHeader is the fixed 536-byte header at the start of a
// Snapshot object's plaintext.
type SnapshotHeader struct {
	Name         string // zero-padded to 512 bytes on the wire; longer names are rejected
	CreatedAt    int64  // unix seconds
	LogicalBytes int64
	StoredBytes  int64
}

func encodeSnapshotHeader(h SnapshotHeader) ([]byte, error) {
	nameBytes := []byte(h.Name)
	if len(nameBytes) > snapshotNameSize {
		return nil, fmt.Errorf("snapshot: name too long (%d bytes, max %d)", len(nameBytes), snapshotNameSize)
	}

	buf := make([]byte, snapshotHeaderSize)
	copy(buf[0:snapshotNameSize], nameBytes)
	binary.LittleEndian.PutUint64(buf[snapshotNameSize:snapshotNameSize+8], uint64(h.CreatedAt))
	binary.LittleEndian.PutUint64(buf[snapshotNameSize+8:snapshotNameSize+16], uint64(h.LogicalBytes))
	binary.LittleEndian.PutUint64(buf[snapshotNameSize+16:snapshotNameSize+24], uint64(h.StoredBytes))
	return buf, nil
}

func decodeSnapshotHeader(buf []byte) (SnapshotHeader, error) {
	if len(buf) < snapshotHeaderSize {
		return SnapshotHeader{}, fmt.Errorf("snapshot: truncated snapshot header")
	}

	nameEnd := 0
	for nameEnd < snapshotNameSize && buf[nameEnd] != 0 {
		nameEnd++
	}

	return SnapshotHeader{
		Name:         string(buf[0:nameEnd]),
		CreatedAt:    int64(binary.LittleEndian.Uint64(buf[snapshotNameSize : snapshotNameSize+8])),
		LogicalBytes: int64(binary.LittleEndian.Uint64(buf[snapshotNameSize+8 : snapshotNameSize+16])),
		StoredBytes:  int64(binary.LittleEndian.Uint64(buf[snapshotNameSize+16 : snapshotNameSize+24])),
	}, nil
}

// EncodeSnapshot serializes a Snapshot object's plaintext: header, root
// directory entries, then the same 8-byte cumulative trailer Directory
// objects use (spec.md §3).
func EncodeSnapshot(header SnapshotHeader, roots []DirEntry, cumulativeLength uint64) ([]byte, error) {
	head, err := encodeSnapshotHeader(header)
	if err != nil {
		return nil, err
	}
	body, err := EncodeDirectory(roots, cumulativeLength)
	if err != nil {
		return nil, err
	}
	return append(head, body...), nil
}

// DecodeSnapshot parses a Snapshot object's plaintext.
func DecodeSnapshot(data []byte) (SnapshotHeader, []DirEntry, uint64, error) {
	if len(data) < snapshotHeaderSize {
		return SnapshotHeader{}, nil, 0, fmt.Errorf("snapshot: truncated snapshot object")
	}
	header, err := decodeSnapshotHeader(data[:snapshotHeaderSize])
	if err != nil {
		return SnapshotHeader{}, nil, 0, err
	}
	roots, cumulative, err := DecodeDirectory(data[snapshotHeaderSize:])
	if err != nil {
		return SnapshotHeader{}, nil, 0, err
	}
	return header, roots, cumulative, nil
}

// sortEntriesByName orders directory entries by name, the order the
// writer's os.ReadDir-based walk already produces. No code in the
// package calls it.
func sortEntriesByName(entries []DirEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
}
