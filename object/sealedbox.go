package object

import (
	"crypto/rand"
	"fmt"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/nacl/box"
)

// sealOverhead is the number of bytes a sealed box adds on top of the
// plaintext: a 32-byte ephemeral public key plus the 16-byte Poly1305 tag
// from the underlying NaCl box, matching libsodium's crypto_box_SEALBYTES.
const sealOverhead = 32 + box.Overhead

// sealAnonymous implements the "sealed box" construction: anonymous
// public-key encryption of a small payload to a recipient, with no
// sender identity or shared state beyond the recipient's public key.
//
// This composes two primitives already in the dependency graph
// (golang.org/x/crypto/nacl/box for the authenticated-encryption box,
// and BLAKE3 for nonce derivation) the same way libsodium's
// crypto_box_seal composes X25519+XSalsa20-Poly1305 with BLAKE2b; we use
// BLAKE3 instead of BLAKE2b purely because BLAKE3 is already a
// dependency of this module and the nonce-derivation hash is not a
// security-relevant choice (any collision-resistant keyless hash works),
// whereas the box construction itself is unchanged.
// SealBytes seals an arbitrary small payload to recipientPub. It is the
// same sealed-box construction Encode uses to seal an object's 32-byte
// symmetric key, exposed for callers (tag writing) that seal a bare OID
// rather than a full envelope.
func SealBytes(message []byte, recipientPub [32]byte) ([]byte, error) {
	return sealAnonymous(message, recipientPub)
}

// OpenBytes reverses SealBytes.
func OpenBytes(sealed []byte, recipientPub, recipientSec [32]byte) ([]byte, error) {
	return openAnonymous(sealed, recipientPub, recipientSec)
}

func sealAnonymous(message []byte, recipientPub [32]byte) ([]byte, error) {
	ephPub, ephSec, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("object: generate ephemeral key: %w", err)
	}

	nonce := sealNonce(*ephPub, recipientPub)
	sealed := make([]byte, 0, len(ephPub)+len(message)+box.Overhead)
	sealed = append(sealed, ephPub[:]...)
	sealed = box.Seal(sealed, message, &nonce, &recipientPub, ephSec)
	return sealed, nil
}

// openAnonymous reverses sealAnonymous given the recipient's own keypair.
func openAnonymous(sealed []byte, recipientPub, recipientSec [32]byte) ([]byte, error) {
	if len(sealed) < 32+box.Overhead {
		return nil, fmt.Errorf("object: sealed box too short (%d bytes)", len(sealed))
	}

	var ephPub [32]byte
	copy(ephPub[:], sealed[:32])
	ciphertext := sealed[32:]

	nonce := sealNonce(ephPub, recipientPub)
	message, ok := box.Open(nil, ciphertext, &nonce, &ephPub, &recipientSec)
	if !ok {
		return nil, ErrWrongKey
	}
	return message, nil
}

// sealNonce derives a deterministic 24-byte nonce from the two public
// keys involved, so a sealed box never needs to transmit its nonce
// out-of-band (mirroring libsodium's crypto_box_seal nonce derivation).
func sealNonce(ephPub, recipientPub [32]byte) [24]byte {
	h := blake3.New()
	_, _ = h.Write(ephPub[:])
	_, _ = h.Write(recipientPub[:])
	sum := h.Sum(nil)

	var nonce [24]byte
	copy(nonce[:], sum[:24])
	return nonce
}
