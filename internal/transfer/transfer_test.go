package transfer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CrispStrobe/filen-cli-go/internal/backend"
	"github.com/CrispStrobe/filen-cli-go/internal/fcrypto"
	"github.com/CrispStrobe/filen-cli-go/internal/ferrors"
	"github.com/CrispStrobe/filen-cli-go/internal/model"
)

type fakeBackend struct {
	fileID     uuid.UUID
	uploadKey  string
	chunks     map[int][]byte
	failPutAt  int
	failGetAt  int
	corruptGet int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{fileID: uuid.New(), uploadKey: "uk", chunks: map[int][]byte{}, failPutAt: -1, failGetAt: -1, corruptGet: -1}
}

func (f *fakeBackend) BeginUpload(_ context.Context, _ uuid.UUID, _ string) (backend.BeginUploadResponse, error) {
	return backend.BeginUploadResponse{FileUUID: f.fileID, UploadKey: f.uploadKey, Region: "r1", Bucket: "b1"}, nil
}

func (f *fakeBackend) PutChunk(_ context.Context, _ string, _, _ string, _ uuid.UUID, index int, ciphertext []byte) error {
	if index == f.failPutAt {
		return ferrors.New(ferrors.Transient, "fake.PutChunk", assert.AnError)
	}
	f.chunks[index] = ciphertext
	return nil
}

func (f *fakeBackend) FinishUpload(_ context.Context, _ uuid.UUID, _, _, _ string) error {
	return nil
}

func (f *fakeBackend) GetChunk(_ context.Context, _, _ string, _ uuid.UUID, index int) ([]byte, error) {
	if index == f.failGetAt {
		return nil, ferrors.New(ferrors.Transient, "fake.GetChunk", assert.AnError)
	}
	blob := f.chunks[index]
	if index == f.corruptGet {
		corrupted := append([]byte(nil), blob...)
		corrupted[len(corrupted)-1] ^= 0xFF
		return corrupted, nil
	}
	return blob, nil
}

type plaintextEncrypter struct{}

func (plaintextEncrypter) EncryptName(name string) (string, error) { return name, nil }

func writeTempFile(t *testing.T, size int) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "in.bin")
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestUploadFileSmallSingleChunk(t *testing.T) {
	be := newFakeBackend()
	path := writeTempFile(t, 100)
	task := &model.Task{LocalPath: path, LastChunk: -1}

	err := UploadFile(context.Background(), be, task, UploadOptions{
		LocalPath: path, RemoteName: "in.bin", NameEncrypter: plaintextEncrypter{},
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, task.Status)
	assert.Equal(t, 0, task.LastChunk)
	assert.Len(t, be.chunks, 1)
}

func TestUploadFileMultiChunkAndResume(t *testing.T) {
	size := int(3.5 * ChunkSize)
	path := writeTempFile(t, size)

	be := newFakeBackend()
	be.failPutAt = 2 // fail on the third chunk
	task := &model.Task{LocalPath: path, LastChunk: -1}

	err := UploadFile(context.Background(), be, task, UploadOptions{
		LocalPath: path, RemoteName: "big.bin", NameEncrypter: plaintextEncrypter{},
	})
	require.Error(t, err)
	assert.Equal(t, 1, task.LastChunk) // chunks 0,1 committed before the failure
	assert.NotEqual(t, model.StatusCompleted, task.Status)

	// Resume: no more induced failures, should finish without re-sending
	// the already-committed chunks.
	be.failPutAt = -1
	err = UploadFile(context.Background(), be, task, UploadOptions{
		LocalPath: path, RemoteName: "big.bin", NameEncrypter: plaintextEncrypter{},
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, task.Status)
	assert.Len(t, be.chunks, ChunkCount(int64(size)))
}

func TestUploadFileCancellation(t *testing.T) {
	size := 3 * ChunkSize
	path := writeTempFile(t, size)
	be := newFakeBackend()
	task := &model.Task{LocalPath: path, LastChunk: -1}

	calls := 0
	cancel := func() bool {
		calls++
		return calls > 1 // let the first chunk through, then stop
	}
	err := UploadFile(context.Background(), be, task, UploadOptions{
		LocalPath: path, RemoteName: "c.bin", NameEncrypter: plaintextEncrypter{}, Cancel: cancel,
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusInterrupted, task.Status)
	assert.Equal(t, 0, task.LastChunk)
}

func TestDownloadFileRoundTripAndVerify(t *testing.T) {
	size := int(2.25 * ChunkSize)
	srcPath := writeTempFile(t, size)
	srcData, err := os.ReadFile(srcPath)
	require.NoError(t, err)

	var key [32]byte
	copy(key[:], []byte("01234567890123456789012345678901"))
	hasher := fcrypto.NewFileHasher()
	be := newFakeBackend()
	count := ChunkCount(int64(size))
	for i := 0; i < count; i++ {
		start := i * ChunkSize
		end := start + ChunkSize
		if end > len(srcData) {
			end = len(srcData)
		}
		hasher.Write(srcData[start:end])
		ct, err := fcrypto.EncryptChunk(key[:], srcData[start:end])
		require.NoError(t, err)
		be.chunks[i] = ct
	}
	expectedHash := hasher.SumHex()

	dstPath := filepath.Join(t.TempDir(), "out.bin")
	task := &model.Task{LocalPath: dstPath, LastChunk: -1}
	err = DownloadFile(context.Background(), be, task, DownloadOptions{
		LocalPath: dstPath, FileID: be.fileID, ChunkCount: count, ContentKey: key, ExpectedHash: expectedHash,
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, task.Status)

	gotData, err := os.ReadFile(dstPath)
	require.NoError(t, err)
	assert.Equal(t, srcData, gotData)
}

func TestDownloadFileCorruptChunkDoesNotVerify(t *testing.T) {
	size := ChunkSize
	srcPath := writeTempFile(t, size)
	srcData, err := os.ReadFile(srcPath)
	require.NoError(t, err)

	var key [32]byte
	copy(key[:], []byte("01234567890123456789012345678901"))
	be := newFakeBackend()
	ct, err := fcrypto.EncryptChunk(key[:], srcData)
	require.NoError(t, err)
	be.chunks[0] = ct
	be.corruptGet = 0

	dstPath := filepath.Join(t.TempDir(), "out.bin")
	task := &model.Task{LocalPath: dstPath, LastChunk: -1}
	err = DownloadFile(context.Background(), be, task, DownloadOptions{
		LocalPath: dstPath, FileID: be.fileID, ChunkCount: 1, ContentKey: key,
	})
	require.Error(t, err)
	kind, _ := ferrors.KindOf(err)
	assert.Equal(t, ferrors.CorruptChunk, kind)
	assert.Equal(t, model.StatusErrorCorruptChunk, task.Status)
}

func TestDownloadFileResumesFromLastChunk(t *testing.T) {
	size := 2 * ChunkSize
	srcPath := writeTempFile(t, size)
	srcData, err := os.ReadFile(srcPath)
	require.NoError(t, err)

	var key [32]byte
	copy(key[:], []byte("01234567890123456789012345678901"))
	be := newFakeBackend()
	for i := 0; i < 2; i++ {
		start := i * ChunkSize
		ct, err := fcrypto.EncryptChunk(key[:], srcData[start:start+ChunkSize])
		require.NoError(t, err)
		be.chunks[i] = ct
	}

	dstPath := filepath.Join(t.TempDir(), "out.bin")
	// Pre-populate the destination with chunk 0 already written, as a
	// prior interrupted run would have left it.
	require.NoError(t, os.WriteFile(dstPath, srcData[:ChunkSize], 0o644))
	task := &model.Task{LocalPath: dstPath, LastChunk: 0}

	getCalls := map[int]int{}
	be.failGetAt = -1
	wrapped := &countingBackend{fakeBackend: be, calls: getCalls}
	err = DownloadFile(context.Background(), wrapped, task, DownloadOptions{
		LocalPath: dstPath, FileID: be.fileID, ChunkCount: 2, ContentKey: key,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, getCalls[0], "chunk 0 must not be re-fetched on resume")
	assert.Equal(t, 1, getCalls[1])

	gotData, err := os.ReadFile(dstPath)
	require.NoError(t, err)
	assert.Equal(t, srcData, gotData)
}

type countingBackend struct {
	*fakeBackend
	calls map[int]int
}

func (c *countingBackend) GetChunk(ctx context.Context, region, bucket string, fileID uuid.UUID, index int) ([]byte, error) {
	c.calls[index]++
	return c.fakeBackend.GetChunk(ctx, region, bucket, fileID, index)
}
