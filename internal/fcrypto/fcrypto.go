// Package fcrypto implements the client-side cryptography described in
// spec.md §4.1: PBKDF2 key derivation, AES-256-GCM chunk encryption, the
// versioned metadata envelope, filename HMAC hashing, and an incremental
// file hasher. The AEAD construction follows the shape of
// kenchrcum-s3-encryption-gateway's internal/crypto/chunked.go, adapted
// to use a fresh random IV per operation (spec.md forbids IV derivation
// or reuse, unlike that gateway's counter-derived chunk IVs).
package fcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"github.com/CrispStrobe/filen-cli-go/internal/ferrors"
	"github.com/CrispStrobe/filen-cli-go/internal/model"
)

const (
	pbkdf2Iterations = 200_000
	pbkdf2KeyLen     = 64 // 32 bytes master key + 32 bytes auth token
	gcmNonceSize     = 12
	gcmTagSize       = 16
)

// DeriveKeys runs PBKDF2-HMAC-SHA512 over secret/salt and splits the
// 64-byte output into a 256-bit master key and a 256-bit backend auth
// token, per spec.md §4.1.
func DeriveKeys(secret, salt []byte) (masterKey model.MasterKey, authToken [32]byte) {
	out := pbkdf2.Key(secret, salt, pbkdf2Iterations, pbkdf2KeyLen, sha512.New)
	copy(masterKey[:], out[:32])
	copy(authToken[:], out[32:64])
	return masterKey, authToken
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// EncryptChunk returns iv‖ciphertext‖tag for plaintext under key (a raw
// 32-byte AES-256 key). The IV is drawn fresh from crypto/rand every
// call, so it must never be reused by the caller.
func EncryptChunk(key []byte, plaintext []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, ferrors.New(ferrors.Fatal, "fcrypto.EncryptChunk", err)
	}
	iv := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, ferrors.New(ferrors.Fatal, "fcrypto.EncryptChunk", err)
	}
	out := make([]byte, 0, len(iv)+len(plaintext)+gcmTagSize)
	out = append(out, iv...)
	out = aead.Seal(out, iv, plaintext, nil)
	return out, nil
}

// DecryptChunk reverses EncryptChunk. An authentication tag failure is
// reported as ferrors.CryptoAuth, per spec.md §4.4's "rejecting any auth
// failure as corrupt_chunk" requirement (the transfer engine maps this
// further to corrupt_chunk for the download path; DecryptChunk itself
// only knows that the tag didn't verify).
func DecryptChunk(key []byte, blob []byte) ([]byte, error) {
	if len(blob) < gcmNonceSize+gcmTagSize {
		return nil, ferrors.New(ferrors.CryptoAuth, "fcrypto.DecryptChunk", fmt.Errorf("blob too short: %d bytes", len(blob)))
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, ferrors.New(ferrors.Fatal, "fcrypto.DecryptChunk", err)
	}
	iv, ciphertext := blob[:gcmNonceSize], blob[gcmNonceSize:]
	plaintext, err := aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, ferrors.New(ferrors.CryptoAuth, "fcrypto.DecryptChunk", err)
	}
	return plaintext, nil
}

// WrapMetadata encrypts json under key and returns the "002" envelope
// string: the literal version prefix followed by base64(iv‖ciphertext‖tag).
func WrapMetadata(key []byte, plaintextJSON []byte) (string, error) {
	blob, err := EncryptChunk(key, plaintextJSON)
	if err != nil {
		return "", err
	}
	return model.EnvelopeVersion + base64.StdEncoding.EncodeToString(blob), nil
}

// UnwrapMetadata reverses WrapMetadata. Envelopes whose version prefix is
// not "002" are rejected as ferrors.CryptoVersion.
func UnwrapMetadata(key []byte, envelope string) ([]byte, error) {
	if len(envelope) < len(model.EnvelopeVersion) {
		return nil, ferrors.New(ferrors.CryptoVersion, "fcrypto.UnwrapMetadata", fmt.Errorf("envelope too short"))
	}
	version, rest := envelope[:len(model.EnvelopeVersion)], envelope[len(model.EnvelopeVersion):]
	if version != model.EnvelopeVersion {
		return nil, ferrors.New(ferrors.CryptoVersion, "fcrypto.UnwrapMetadata", fmt.Errorf("unrecognized envelope version %q", version))
	}
	blob, err := base64.StdEncoding.DecodeString(rest)
	if err != nil {
		return nil, ferrors.New(ferrors.CryptoVersion, "fcrypto.UnwrapMetadata", err)
	}
	return DecryptChunk(key, blob)
}

// HashName computes the HMAC-SHA-256 used to look up a node server-side
// by name, keyed by UTF-8(hex(masterKey) + email). It is never used for
// authorization, only for server-side lookup, per spec.md §4.1.
func HashName(masterKey model.MasterKey, email, name string) string {
	key := []byte(hex.EncodeToString(masterKey[:]) + email)
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(name))
	return hex.EncodeToString(mac.Sum(nil))
}

// FileHasher incrementally computes the SHA-512 of a file's plaintext,
// one chunk at a time. It is deliberately not serializable: spec.md §4.4
// and §9 require resume to rebuild hasher state by re-reading plaintext
// chunks from disk rather than persisting opaque hasher internals.
type FileHasher struct {
	h hash.Hash
}

// NewFileHasher returns a fresh, empty hasher.
func NewFileHasher() *FileHasher {
	return &FileHasher{h: sha512.New()}
}

// Write feeds one chunk's plaintext into the running hash.
func (f *FileHasher) Write(p []byte) {
	f.h.Write(p) //nolint:errcheck // hash.Hash.Write never errors
}

// SumHex returns the hex-encoded SHA-512 digest of everything written so
// far. It does not reset the hasher.
func (f *FileHasher) SumHex() string {
	return hex.EncodeToString(f.h.Sum(nil))
}
