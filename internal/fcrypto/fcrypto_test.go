package fcrypto

import (
	"crypto/rand"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CrispStrobe/filen-cli-go/internal/ferrors"
)

func TestDeriveKeysDeterministic(t *testing.T) {
	mk1, at1 := DeriveKeys([]byte("hunter2"), []byte("salt"))
	mk2, at2 := DeriveKeys([]byte("hunter2"), []byte("salt"))
	assert.Equal(t, mk1, mk2)
	assert.Equal(t, at1, at2)

	mk3, _ := DeriveKeys([]byte("hunter2"), []byte("other-salt"))
	assert.NotEqual(t, mk1, mk3)
}

func TestEncryptDecryptChunkRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	plaintext := []byte("the quick brown fox jumps over the lazy dog")
	blob, err := EncryptChunk(key, plaintext)
	require.NoError(t, err)

	got, err := DecryptChunk(key, blob)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestEncryptChunkNeverRepeatsIV(t *testing.T) {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		blob, err := EncryptChunk(key, []byte("same plaintext every time"))
		require.NoError(t, err)
		iv := string(blob[:gcmNonceSize])
		assert.False(t, seen[iv], "IV reused")
		seen[iv] = true
	}
}

func TestDecryptChunkTamperedTagFailsAsCryptoAuth(t *testing.T) {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	blob, err := EncryptChunk(key, []byte("payload"))
	require.NoError(t, err)
	blob[len(blob)-1] ^= 0xFF // flip a bit in the tag

	_, err = DecryptChunk(key, blob)
	require.Error(t, err)
	kind, ok := ferrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, ferrors.CryptoAuth, kind)
}

func TestWrapUnwrapMetadataRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	type payload struct {
		Name string `json:"name"`
	}
	for _, name := range []string{"plain.txt", "héllo wörld.pdf", "日本語.png", "emoji😀.bin"} {
		j, err := json.Marshal(payload{Name: name})
		require.NoError(t, err)

		envelope, err := WrapMetadata(key, j)
		require.NoError(t, err)
		require.Equal(t, "002", envelope[:3])

		got, err := UnwrapMetadata(key, envelope)
		require.NoError(t, err)
		assert.JSONEq(t, string(j), string(got))
	}
}

func TestUnwrapMetadataRejectsUnknownVersion(t *testing.T) {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	envelope, err := WrapMetadata(key, []byte(`{}`))
	require.NoError(t, err)
	tampered := "003" + envelope[3:]

	_, err = UnwrapMetadata(key, tampered)
	require.Error(t, err)
	kind, ok := ferrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, ferrors.CryptoVersion, kind)
}

func TestHashNameIsDeterministicNotAuthorization(t *testing.T) {
	mk, _ := DeriveKeys([]byte("secret"), []byte("salt"))
	h1 := HashName(mk, "user@example.com", "report.pdf")
	h2 := HashName(mk, "user@example.com", "report.pdf")
	assert.Equal(t, h1, h2)

	h3 := HashName(mk, "other@example.com", "report.pdf")
	assert.NotEqual(t, h1, h3)
}

func TestFileHasherIncremental(t *testing.T) {
	full := NewFileHasher()
	full.Write([]byte("hello world"))
	want := full.SumHex()

	incremental := NewFileHasher()
	incremental.Write([]byte("hello "))
	incremental.Write([]byte("world"))
	assert.Equal(t, want, incremental.SumHex())
}
