// Package keyring implements the repository's password-unlockable key
// slots (spec.md §3 "Keyring"): a long-lived Curve25519 keypair, wrapped
// under a password-derived key and persisted under keys/<slot>. No
// separate symmetric master keys are generated or stored.
//
// The slot layout is this engine's own design — original_source's
// equivalent key-initialization routine was filtered out of the
// retrieval pack (only disk.cc's calls into it survive) — built to the
// two-slot contract spec.md §3/§4.5 describes: "full" unwraps to both
// halves of the repository keypair (read+write), "write" unwraps only
// the public half (write-only). Password derivation follows the
// Argon2id pattern used throughout the pack's encryption_service.go
// (other_examples), composed with golang.org/x/crypto/nacl/secretbox
// for the wrapping itself, matching libsodium's crypto_secretbox used
// alongside crypto_box elsewhere in this engine.
//
// Slot blobs are opaque []byte values: this package never touches the
// filesystem directly, since keys/full and keys/write are backend
// objects like any other (spec.md §4.4's layout puts them alongside
// blobs/ and tags/) and must be readable from S3 or SFTP roots too. The
// repository package owns moving bytes in and out of the backend; this
// package only wraps and unwraps what's inside them.
package keyring

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/rekord-project/rekord"
)

const (
	saltSize = 16

	// Argon2id parameters. Chosen for an interactive unlock (a human
	// typing a password at `rekord get`), not for a one-off KDF cost
	// amortized across millions of operations.
	argonTime    = 3
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
	argonKeyLen  = 32
)

// Mode reports which capability a successfully unlocked slot grants.
type Mode int

const (
	// ReadWrite is granted by the "full" slot: both public and secret
	// halves of the repository keypair are available.
	ReadWrite Mode = iota
	// WriteOnly is granted by the "write" slot: only the public half is
	// available, so objects can be sealed but never opened.
	WriteOnly
)

func (m Mode) String() string {
	if m == ReadWrite {
		return "ReadWrite"
	}
	return "WriteOnly"
}

// Unlocked is the material recovered from a successfully opened slot.
type Unlocked struct {
	Mode      Mode
	PublicKey [32]byte
	SecretKey [32]byte // zero when Mode == WriteOnly
}

// slotFile is the on-disk JSON form of one keys/<slot> blob.
type slotFile struct {
	Salt      []byte `json:"salt"`
	Nonce     []byte `json:"nonce"`
	Sealed    []byte `json:"sealed"`
	PublicKey []byte `json:"public_key"`
}

// payload is what gets sealed inside the "full" slot; the "write" slot
// seals a payload with SecretKey left as the zero value.
type payload struct {
	PublicKey [32]byte
	SecretKey [32]byte
}

// Slots is the pair of blobs Create produces, ready to be written at
// keys/full and keys/write respectively.
type Slots struct {
	PublicKey [32]byte
	Full      []byte
	Write     []byte
}

// Create generates a fresh Curve25519 keypair and returns the full/write
// slot blobs, wrapped under fullPassword and writePassword respectively.
func Create(fullPassword, writePassword string) (Slots, error) {
	pub, sec, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return Slots{}, rekord.NewError("keyring.Create", rekord.KindConfig, err)
	}

	full, err := marshalSlot(fullPassword, payload{PublicKey: *pub, SecretKey: *sec}, pub[:])
	if err != nil {
		return Slots{}, err
	}
	write, err := marshalSlot(writePassword, payload{PublicKey: *pub}, pub[:])
	if err != nil {
		return Slots{}, err
	}

	return Slots{PublicKey: *pub, Full: full, Write: write}, nil
}

// Unlock attempts to unwrap one slot blob under password, reporting mode
// on success. Callers implement spec.md §4.5's "full first, then write"
// policy by calling Unlock on the keys/full blob and falling back to the
// keys/write blob if that fails with rekord.KindAuth.
func Unlock(data []byte, password string, mode Mode) (Unlocked, error) {
	var sf slotFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return Unlocked{}, rekord.NewError("keyring.Unlock", rekord.KindCorrupt, err)
	}
	if len(sf.Salt) != saltSize || len(sf.Nonce) != 24 {
		return Unlocked{}, rekord.NewError("keyring.Unlock", rekord.KindCorrupt,
			fmt.Errorf("malformed slot blob"))
	}

	key := deriveKey(password, sf.Salt)
	var nonce [24]byte
	copy(nonce[:], sf.Nonce)

	plain, ok := secretbox.Open(nil, sf.Sealed, &nonce, &key)
	if !ok {
		return Unlocked{}, rekord.NewError("keyring.Unlock", rekord.KindAuth,
			fmt.Errorf("wrong password"))
	}

	var p payload
	if err := json.Unmarshal(plain, &p); err != nil {
		return Unlocked{}, rekord.NewError("keyring.Unlock", rekord.KindCorrupt, err)
	}

	return Unlocked{Mode: mode, PublicKey: p.PublicKey, SecretKey: p.SecretKey}, nil
}

func marshalSlot(password string, p payload, pub []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, rekord.NewError("keyring.marshalSlot", rekord.KindConfig, err)
	}

	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, rekord.NewError("keyring.marshalSlot", rekord.KindConfig, err)
	}

	key := deriveKey(password, salt)
	plain, err := json.Marshal(p)
	if err != nil {
		return nil, rekord.NewError("keyring.marshalSlot", rekord.KindConfig, err)
	}

	sealed := secretbox.Seal(nil, plain, &nonce, &key)

	sf := slotFile{Salt: salt, Nonce: nonce[:], Sealed: sealed, PublicKey: pub}
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return nil, rekord.NewError("keyring.marshalSlot", rekord.KindConfig, err)
	}
	return data, nil
}

func deriveKey(password string, salt []byte) [32]byte {
	derived := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	var key [32]byte
	copy(key[:], derived)
	return key
}
