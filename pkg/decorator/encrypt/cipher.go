package encrypt

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the size in bytes of every symmetric key used by the decorator.
const KeySize = 32

// ContentVersion is the format byte prepended to every encrypted file. It is
// authenticated as additional data.
const ContentVersion byte = 0x01

// ContentOverhead is the per-file size overhead: 1 (version) + 24 (nonce) +
// 16 (Poly1305 tag).
const ContentOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// HKDF info strings, one per derived key. Changing any of these invalidates
// all data encrypted under that key.
var (
	hkdfInfoName    = []byte("fsfacade.encrypt.name.v1")
	hkdfInfoNameIV  = []byte("fsfacade.encrypt.name-iv.v1")
	hkdfInfoContent = []byte("fsfacade.encrypt.content.v1")
)

var nameEncoding = base64.RawURLEncoding

// errUndecryptable is returned when a stored name or blob was not produced
// with the current keys.
var errUndecryptable = errors.New("ciphertext cannot be decrypted with this key")

// keySet holds the keys derived from the passphrase.
type keySet struct {
	name    []byte
	nameIV  []byte
	content []byte
}

// deriveMasterKey stretches the passphrase with Argon2id.
func deriveMasterKey(passphrase string, salt []byte, params KDFParams) []byte {
	return argon2.IDKey([]byte(passphrase), salt, params.Time, params.MemoryKiB, params.Threads, KeySize)
}

func deriveKeySet(master []byte) (*keySet, error) {
	var ks keySet
	for _, k := range []struct {
		info []byte
		dst  *[]byte
	}{
		{hkdfInfoName, &ks.name},
		{hkdfInfoNameIV, &ks.nameIV},
		{hkdfInfoContent, &ks.content},
	} {
		key, err := deriveKey(master, k.info)
		if err != nil {
			return nil, err
		}
		*k.dst = key
	}
	return &ks, nil
}

func deriveKey(inputKeyMaterial, info []byte) ([]byte, error) {
	reader := hkdf.New(sha256.New, inputKeyMaterial, nil, info)
	derived := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		return nil, fmt.Errorf("HKDF key derivation failed: %w", err)
	}
	return derived, nil
}

// ============================================================================
// Names
// ============================================================================

// syntheticNonce derives the nonce of a name from its plaintext, which makes
// name encryption deterministic.
func (ks *keySet) syntheticNonce(plaintext string) []byte {
	hasher, err := blake3.NewKeyed(ks.nameIV)
	if err != nil {
		panic("encrypt: BLAKE3 keyed hash initialization failed (key must be 32 bytes): " + err.Error())
	}
	_, _ = hasher.Write([]byte(plaintext))
	sum := hasher.Sum(nil)
	return sum[:chacha20poly1305.NonceSizeX]
}

// encryptName maps a plaintext segment to its ciphertext segment. The same
// plaintext always yields the same ciphertext; the encoding never contains
// a path separator.
func (ks *keySet) encryptName(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(ks.name)
	if err != nil {
		return "", fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}
	nonce := ks.syntheticNonce(plaintext)

	out := make([]byte, len(nonce), len(nonce)+len(plaintext)+aead.Overhead())
	copy(out, nonce)
	out = aead.Seal(out, nonce, []byte(plaintext), nil)
	return nameEncoding.EncodeToString(out), nil
}

// decryptName reverses encryptName.
func (ks *keySet) decryptName(ciphertext string) (string, error) {
	raw, err := nameEncoding.DecodeString(ciphertext)
	if err != nil || len(raw) < chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return "", errUndecryptable
	}
	aead, err := chacha20poly1305.NewX(ks.name)
	if err != nil {
		return "", fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	nonce := raw[:chacha20poly1305.NonceSizeX]
	plaintext, err := aead.Open(nil, nonce, raw[chacha20poly1305.NonceSizeX:], nil)
	if err != nil {
		return "", errUndecryptable
	}
	if string(ks.syntheticNonce(string(plaintext))) != string(nonce) {
		return "", errUndecryptable
	}
	return string(plaintext), nil
}

// ============================================================================
// Content
// ============================================================================

// sealContent encrypts file content under a fresh random nonce:
//
//	[Version: 1 byte] [Nonce: 24 bytes] [Ciphertext+Tag: N+16 bytes]
func (ks *keySet) sealContent(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(ks.content)
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generating random nonce: %w", err)
	}

	out := make([]byte, 1+len(nonce), 1+len(nonce)+len(plaintext)+aead.Overhead())
	out[0] = ContentVersion
	copy(out[1:], nonce[:])
	return aead.Seal(out, nonce[:], plaintext, out[:1]), nil
}

// openContent decrypts a blob produced by sealContent.
func (ks *keySet) openContent(blob []byte) ([]byte, error) {
	if len(blob) < ContentOverhead {
		return nil, fmt.Errorf("encrypted content is %d bytes, minimum is %d: %w", len(blob), ContentOverhead, errUndecryptable)
	}
	if blob[0] != ContentVersion {
		return nil, fmt.Errorf("encrypted content version %d is not supported: %w", blob[0], errUndecryptable)
	}

	aead, err := chacha20poly1305.NewX(ks.content)
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}
	nonce := blob[1 : 1+chacha20poly1305.NonceSizeX]
	plaintext, err := aead.Open(nil, nonce, blob[1+chacha20poly1305.NonceSizeX:], blob[:1])
	if err != nil {
		return nil, errUndecryptable
	}
	return plaintext, nil
}
