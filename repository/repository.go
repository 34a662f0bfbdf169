// Package repository implements the façade (spec.md §4.5, "C5") that the
// snapshot writer and reader use to reach the store: opening picks and
// configures one of the three backends, unlocks the keyring, and from
// then on every object read/write goes through ReadObject/WriteObject/
// WriteTag/ListTags rather than touching the backend directly.
//
// Grounded on the teacher's clients/go/client.go (a single façade type
// constructed by Dial/DialTLS, holding mutex-guarded session state) and
// original_source's rk_Disk (disk.cc), whose OpenRepository/ReadObject/
// WriteObject/WriteTag/ListTags methods this package's operations mirror.
package repository

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/rekord-project/rekord"
	"github.com/rekord-project/rekord/backend"
	"github.com/rekord-project/rekord/backend/local"
	"github.com/rekord-project/rekord/backend/s3"
	"github.com/rekord-project/rekord/backend/sftp"
	"github.com/rekord-project/rekord/cache"
	"github.com/rekord-project/rekord/config"
	"github.com/rekord-project/rekord/keyring"
	"github.com/rekord-project/rekord/object"
	"github.com/rekord-project/rekord/oid"
)

// Repository is the opened handle a writer or reader operates against.
type Repository struct {
	store backend.Backend
	cache *cache.Cache

	mode      keyring.Mode
	publicKey [32]byte
	secretKey [32]byte // zero when Mode == WriteOnly

	threads int
}

// Mode reports whether this handle can decrypt existing objects
// (ReadWrite) or only produce new ones (WriteOnly).
func (r *Repository) Mode() keyring.Mode { return r.mode }

// PublicKey returns the repository's public key, which doubles as the
// BLAKE3 keying salt for object identifiers (spec.md §3).
func (r *Repository) PublicKey() [32]byte { return r.publicKey }

// Threads returns the configured worker-pool width (spec.md §4.9).
func (r *Repository) Threads() int { return r.threads }

// Cache returns the repository's metadata cache (C6), opened alongside
// the backend so the writer can use it without a second lookup.
func (r *Repository) Cache() *cache.Cache { return r.cache }

// Create initializes a brand-new repository: it lays out the backend
// (for local targets — S3 and SFTP have no directory skeleton to
// pre-create, per spec.md §4.4's "virtual" layout note) and writes fresh
// full/write key slots. It returns the generated passwords' corresponding
// public key so callers (the CLI's `init` command) can report it.
func Create(cfg config.Config, fullPassword, writePassword string) ([32]byte, error) {
	store, err := openOrInitBackend(cfg, true)
	if err != nil {
		return [32]byte{}, rekord.NewError("repository.Create", rekord.KindBackend, err)
	}
	defer store.Close()

	slots, err := keyring.Create(fullPassword, writePassword)
	if err != nil {
		return [32]byte{}, err
	}

	ctx := context.Background()
	if err := writeSlot(ctx, store, "full", slots.Full); err != nil {
		return [32]byte{}, err
	}
	if err := writeSlot(ctx, store, "write", slots.Write); err != nil {
		return [32]byte{}, err
	}

	return slots.PublicKey, nil
}

func writeSlot(ctx context.Context, store backend.Backend, slot string, data []byte) error {
	path := backend.KeyPath(slot)
	if err := store.Write(ctx, path, int64(len(data)), bytes.NewReader(data)); err != nil {
		return rekord.NewError("repository.Create", rekord.KindBackend, err)
	}
	return nil
}

// Open parses cfg, connects to the backend, and unlocks the keyring
// under password: the "full" slot is tried first (granting ReadWrite),
// then "write" (granting WriteOnly), matching spec.md §4.5.
func Open(ctx context.Context, cfg config.Config, password string) (*Repository, error) {
	store, err := openOrInitBackend(cfg, false)
	if err != nil {
		return nil, rekord.NewError("repository.Open", rekord.KindBackend, err)
	}

	unlocked, err := unlockKeyring(ctx, store, password)
	if err != nil {
		store.Close()
		return nil, err
	}

	threads := cfg.Threads
	if threads <= 0 {
		threads = 4
	}

	mdCache, err := cache.Open(unlocked.PublicKey)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &Repository{
		store:     store,
		cache:     mdCache,
		mode:      unlocked.Mode,
		publicKey: unlocked.PublicKey,
		secretKey: unlocked.SecretKey,
		threads:   threads,
	}, nil
}

func unlockKeyring(ctx context.Context, store backend.Backend, password string) (keyring.Unlocked, error) {
	if full, err := readSlot(ctx, store, "full"); err == nil {
		if u, uerr := keyring.Unlock(full, password, keyring.ReadWrite); uerr == nil {
			return u, nil
		}
	}
	if write, err := readSlot(ctx, store, "write"); err == nil {
		if u, uerr := keyring.Unlock(write, password, keyring.WriteOnly); uerr == nil {
			return u, nil
		}
	}
	return keyring.Unlocked{}, rekord.NewError("repository.Open", rekord.KindAuth,
		fmt.Errorf("wrong password, or no readable key slot"))
}

func readSlot(ctx context.Context, store backend.Backend, slot string) ([]byte, error) {
	rc, err := store.Read(ctx, backend.KeyPath(slot))
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func openOrInitBackend(cfg config.Config, create bool) (backend.Backend, error) {
	switch cfg.Scheme {
	case config.SchemeLocal:
		if create {
			return local.Init(cfg.Path)
		}
		return local.Open(cfg.Path)

	case config.SchemeS3:
		scheme := "https"
		if !cfg.S3UseTLS {
			scheme = "http"
		}
		return s3.Open(s3.Config{
			Scheme:    scheme,
			Host:      cfg.S3Host,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessID:  cfg.S3AccessID,
			AccessKey: cfg.S3AccessKey,
		})

	case config.SchemeSFTP:
		var key []byte
		if cfg.SSHKeyFile != "" {
			data, err := os.ReadFile(cfg.SSHKeyFile)
			if err != nil {
				return nil, fmt.Errorf("repository: read SSH key file: %w", err)
			}
			key = data
		}
		return sftp.Open(sftp.Config{
			Host:       cfg.SSHHost,
			Port:       cfg.SSHPort,
			User:       cfg.SSHUser,
			Path:       cfg.SSHPath,
			Password:   cfg.SSHPassword,
			PrivateKey: key,
			PoolSize:   cfg.Threads,
		})

	default:
		return nil, fmt.Errorf("repository: unsupported scheme %q", cfg.Scheme)
	}
}

// ReadObject fetches and decodes the object named by id. It verifies
// the envelope's authenticity but does not recompute id from the
// plaintext — callers that need that extra guarantee call
// object.DeriveOID themselves (spec.md §4.5).
func (r *Repository) ReadObject(ctx context.Context, id oid.ID) (object.Type, []byte, error) {
	if r.mode != keyring.ReadWrite {
		return 0, nil, rekord.NewError("repository.ReadObject", rekord.KindAuth,
			fmt.Errorf("repository is write-only"))
	}

	rc, err := r.store.Read(ctx, backend.BlobPath(id))
	if err != nil {
		if err == backend.ErrNotExist {
			return 0, nil, rekord.NewError("repository.ReadObject", rekord.KindCorrupt,
				fmt.Errorf("object %s not found", id))
		}
		return 0, nil, rekord.NewError("repository.ReadObject", rekord.KindBackend, err)
	}
	defer rc.Close()

	typ, plaintext, err := object.Decode(rc, r.publicKey, r.secretKey)
	if err != nil {
		switch err {
		case object.ErrWrongKey:
			return 0, nil, rekord.NewError("repository.ReadObject", rekord.KindAuth, err)
		default:
			return 0, nil, rekord.NewError("repository.ReadObject", rekord.KindCorrupt, err)
		}
	}
	return typ, plaintext, nil
}

// WriteObject encodes plaintext under type typ and stores it at id's
// blob path. If an object already exists there, the write is a no-op
// (spec.md §3 invariant 2; §4.4's backend.Write contract) and
// WriteObject returns 0. The known-object cache (§4.6) is consulted
// first and updated on a successful write, so repeated writes of
// popular content (and subsequent HasObject probes) need not round-trip
// to the backend.
func (r *Repository) WriteObject(ctx context.Context, id oid.ID, typ object.Type, plaintext []byte) (int64, error) {
	path := backend.BlobPath(id)

	if known, err := r.cache.KnownObject(ctx, id); err == nil && known {
		return 0, nil
	}

	exists, err := r.store.Exists(ctx, path)
	if err != nil {
		return 0, rekord.NewError("repository.WriteObject", rekord.KindBackend, err)
	}
	if exists {
		_ = r.cache.MarkObject(ctx, id)
		return 0, nil
	}

	envelope, err := object.EncodeBytes(typ, r.publicKey, plaintext)
	if err != nil {
		return 0, rekord.NewError("repository.WriteObject", rekord.KindCorrupt, err)
	}

	if err := r.store.Write(ctx, path, int64(len(envelope)), bytes.NewReader(envelope)); err != nil {
		return 0, rekord.NewError("repository.WriteObject", rekord.KindBackend, err)
	}
	_ = r.cache.MarkObject(ctx, id)
	return int64(len(envelope)), nil
}

// HasObject reports whether id is already stored.
func (r *Repository) HasObject(ctx context.Context, id oid.ID) (bool, error) {
	if known, err := r.cache.KnownObject(ctx, id); err == nil && known {
		return true, nil
	}

	exists, err := r.store.Exists(ctx, backend.BlobPath(id))
	if err != nil {
		return false, rekord.NewError("repository.HasObject", rekord.KindBackend, err)
	}
	if exists {
		_ = r.cache.MarkObject(ctx, id)
	}
	return exists, nil
}

// WriteTag seals id (a snapshot OID) to the repository's public key and
// writes it under a random tag filename, retrying up to 1000 times on a
// name collision (spec.md §4.5). The name is 32 hex characters from 16
// crypto/rand bytes, widened from the original's 8-char token.
func (r *Repository) WriteTag(ctx context.Context, id oid.ID) (int64, error) {
	sealed, err := object.SealBytes(id[:], r.publicKey)
	if err != nil {
		return 0, rekord.NewError("repository.WriteTag", rekord.KindCorrupt, err)
	}

	const maxAttempts = 1000
	for attempt := 0; attempt < maxAttempts; attempt++ {
		name, err := randomTagName()
		if err != nil {
			return 0, rekord.NewError("repository.WriteTag", rekord.KindBackend, err)
		}
		path := backend.TagPath(name)

		exists, err := r.store.Exists(ctx, path)
		if err != nil {
			return 0, rekord.NewError("repository.WriteTag", rekord.KindBackend, err)
		}
		if exists {
			continue
		}

		if err := r.store.Write(ctx, path, int64(len(sealed)), bytes.NewReader(sealed)); err != nil {
			return 0, rekord.NewError("repository.WriteTag", rekord.KindBackend, err)
		}
		return int64(len(sealed)), nil
	}

	return 0, rekord.NewError("repository.WriteTag", rekord.KindBackend,
		fmt.Errorf("exhausted %d random tag names", maxAttempts))
}

// ListTags lists every tag, unseals each to recover the snapshot OID it
// names. Malformed or unsealable tags are skipped rather than failing
// the whole listing (spec.md §4.5); no warning is emitted for them.
func (r *Repository) ListTags(ctx context.Context) ([]oid.ID, error) {
	paths, err := r.store.List(ctx, backend.TagPrefix)
	if err != nil {
		return nil, rekord.NewError("repository.ListTags", rekord.KindBackend, err)
	}

	ids := make([]oid.ID, 0, len(paths))
	for _, path := range paths {
		id, ok := r.readTag(ctx, path)
		if ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *Repository) readTag(ctx context.Context, path string) (oid.ID, bool) {
	rc, err := r.store.Read(ctx, path)
	if err != nil {
		return oid.ID{}, false
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return oid.ID{}, false
	}

	plain, err := object.OpenBytes(data, r.publicKey, r.secretKey)
	if err != nil {
		return oid.ID{}, false
	}

	id, err := oid.FromBytes(plain)
	if err != nil {
		return oid.ID{}, false
	}
	return id, true
}

// Close releases the backend and cache handles.
func (r *Repository) Close() error {
	cacheErr := r.cache.Close()
	storeErr := r.store.Close()
	if storeErr != nil {
		return storeErr
	}
	return cacheErr
}

func randomTagName() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}

