package batch

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CrispStrobe/filen-cli-go/internal/backend"
	"github.com/CrispStrobe/filen-cli-go/internal/cache"
	"github.com/CrispStrobe/filen-cli-go/internal/fcrypto"
	"github.com/CrispStrobe/filen-cli-go/internal/journal"
	"github.com/CrispStrobe/filen-cli-go/internal/logging"
	"github.com/CrispStrobe/filen-cli-go/internal/model"
	"github.com/CrispStrobe/filen-cli-go/internal/resolver"
)

func TestMatchesFiltersExcludeWinsOverInclude(t *testing.T) {
	assert.True(t, MatchesFilters("a.txt", nil, nil))
	assert.True(t, MatchesFilters("a.txt", []string{"*.txt"}, nil))
	assert.False(t, MatchesFilters("a.txt", []string{"*.txt"}, []string{"*.txt"}))
	assert.False(t, MatchesFilters("a.log", []string{"*.txt"}, nil))
}

func TestResolveConflictPolicies(t *testing.T) {
	now := time.Now()
	older := now.Add(-time.Hour)

	assert.Equal(t, proceed, resolveConflict(model.ConflictSkip, false, now, time.Time{}))
	assert.Equal(t, skipExists, resolveConflict(model.ConflictSkip, true, now, older))
	assert.Equal(t, proceed, resolveConflict(model.ConflictOverwrite, true, now, older))
	assert.Equal(t, proceed, resolveConflict(model.ConflictNewer, true, now, older))
	assert.Equal(t, skipNotNewer, resolveConflict(model.ConflictNewer, true, older, now))
}

func TestEnumerateLocalStableOrderAndFiltering(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.log"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "c.txt"), []byte("x"), 0o644))

	files, err := EnumerateLocal(dir, []string{"*.txt"}, nil)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "b.txt", files[0].RelPath)
	assert.Equal(t, "sub/c.txt", files[1].RelPath)
}

// A subdirectory whose name sorts before a sibling file (here "a" < "z.txt")
// must still be descended into only after every file at that same level has
// been listed, per spec.md §4.5 step 3's "files before subdirectories"
// ordering. A naive flat sort over full relative paths would instead put
// "a/nested.txt" first.
func TestEnumerateLocalListsFilesBeforeSubdirectoriesAtSameLevel(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "a"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a", "nested.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "z.txt"), []byte("x"), 0o644))

	files, err := EnumerateLocal(dir, nil, nil)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "z.txt", files[0].RelPath)
	assert.Equal(t, "a/nested.txt", files[1].RelPath)
}

func TestEnumerateRemoteListsFilesBeforeSubdirectoriesAtSameLevel(t *testing.T) {
	root := uuid.New()
	folderA := uuid.New()
	be := newFakeOrchestratorBackend()

	contentKey := make([]byte, 32)
	var zeroMasterKey model.MasterKey
	fileEnvelope := func(name string) string {
		fm := model.FileMetadata{Name: name, Size: 1, KeyHex: hex.EncodeToString(contentKey)}
		fmJSON, err := json.Marshal(fm)
		require.NoError(t, err)
		env, err := fcrypto.WrapMetadata(zeroMasterKey[:], fmJSON)
		require.NoError(t, err)
		return env
	}

	be.children[root] = []backend.RawNode{
		{UUID: folderA, ParentUUID: root, IsFolder: true, NameEnvelope: "a", Timestamp: time.Now().UnixMilli()},
		{UUID: uuid.New(), ParentUUID: root, IsFolder: false, NameEnvelope: "z.txt", MetadataEnvelope: fileEnvelope("z.txt"), Timestamp: time.Now().UnixMilli()},
	}
	be.children[folderA] = []backend.RawNode{
		{UUID: uuid.New(), ParentUUID: folderA, IsFolder: false, NameEnvelope: "nested.txt", MetadataEnvelope: fileEnvelope("nested.txt"), Timestamp: time.Now().UnixMilli()},
	}

	r := resolver.New(be, cache.New(), zeroMasterKey, root, plaintextCodec{})
	rootNode := model.Node{ID: root, Kind: model.KindFolder}

	files, err := EnumerateRemote(context.Background(), r, rootNode, "/src", nil, nil)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "z.txt", files[0].RelPath)
	assert.Equal(t, "a/nested.txt", files[1].RelPath)
}

// --- Orchestrator fakes ----------------------------------------------------

type plaintextCodec struct{}

func (plaintextCodec) DecryptName(envelope string, _ []byte) (string, error) { return envelope, nil }
func (plaintextCodec) EncryptName(name string, _ []byte) (string, error)     { return name, nil }

type fakeOrchestratorBackend struct {
	children map[uuid.UUID][]backend.RawNode
	chunks   map[uuid.UUID]map[int][]byte
	trashed  []uuid.UUID
}

func newFakeOrchestratorBackend() *fakeOrchestratorBackend {
	return &fakeOrchestratorBackend{
		children: map[uuid.UUID][]backend.RawNode{},
		chunks:   map[uuid.UUID]map[int][]byte{},
	}
}

func (f *fakeOrchestratorBackend) Trash(_ context.Context, id uuid.UUID) error {
	f.trashed = append(f.trashed, id)
	return nil
}

func (f *fakeOrchestratorBackend) ListDirectory(_ context.Context, folderID uuid.UUID) ([]backend.RawNode, error) {
	return f.children[folderID], nil
}

func (f *fakeOrchestratorBackend) CreateFolder(_ context.Context, parentID uuid.UUID, nameEnvelope string) (uuid.UUID, error) {
	id := uuid.New()
	f.children[parentID] = append(f.children[parentID], backend.RawNode{
		UUID: id, ParentUUID: parentID, IsFolder: true, NameEnvelope: nameEnvelope, Timestamp: time.Now().UnixMilli(),
	})
	return id, nil
}

func (f *fakeOrchestratorBackend) GetFileInfo(_ context.Context, fileID uuid.UUID) (backend.RawNode, error) {
	return backend.RawNode{UUID: fileID}, nil
}

func (f *fakeOrchestratorBackend) BeginUpload(_ context.Context, parentID uuid.UUID, nameEnvelope string) (backend.BeginUploadResponse, error) {
	id := uuid.New()
	f.chunks[id] = map[int][]byte{}
	return backend.BeginUploadResponse{FileUUID: id, UploadKey: "uk", Region: "r", Bucket: "b"}, nil
}

func (f *fakeOrchestratorBackend) PutChunk(_ context.Context, _ string, _, _ string, fileID uuid.UUID, index int, ciphertext []byte) error {
	f.chunks[fileID][index] = ciphertext
	return nil
}

func (f *fakeOrchestratorBackend) FinishUpload(_ context.Context, _ uuid.UUID, _, _, _ string) error {
	return nil
}

func (f *fakeOrchestratorBackend) GetChunk(_ context.Context, _, _ string, fileID uuid.UUID, index int) ([]byte, error) {
	return f.chunks[fileID][index], nil
}

func newOrchestrator(t *testing.T) (*Orchestrator, *fakeOrchestratorBackend, model.Identifier) {
	t.Helper()
	root := uuid.New()
	be := newFakeOrchestratorBackend()
	r := resolver.New(be, cache.New(), model.MasterKey{}, root, plaintextCodec{})
	return &Orchestrator{Backend: be, Resolver: r, Codec: plaintextCodec{}}, be, root
}

func TestRunUploadCompletesAndDeletesJournal(t *testing.T) {
	o, _, _ := newOrchestrator(t)
	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "f.txt"), []byte("hello world"), 0o644))
	journalDir := t.TempDir()

	result, err := o.RunUpload(context.Background(), []string{srcDir}, model.ParsePath("/dest"), Options{
		JournalBaseDir: journalDir,
		ConflictPolicy: model.ConflictOverwrite,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Done)
	assert.Equal(t, 0, result.ExitCode())

	batchID := journal.ComputeBatchID(model.OpUpload, []string{srcDir}, "/dest")
	_, err = os.Stat(journal.Path(journalDir, batchID))
	assert.True(t, os.IsNotExist(err), "journal must be deleted once the batch is all-terminal")
}

func TestRunUploadWritesPerBatchJobLog(t *testing.T) {
	o, _, _ := newOrchestrator(t)
	o.Log = logging.New("info")
	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "f.txt"), []byte("hello world"), 0o644))
	journalDir := t.TempDir()
	logDir := t.TempDir()

	_, err := o.RunUpload(context.Background(), []string{srcDir}, model.ParsePath("/dest"), Options{
		JournalBaseDir: journalDir,
		ConflictPolicy: model.ConflictOverwrite,
		LogDir:         logDir,
	})
	require.NoError(t, err)

	batchID := journal.ComputeBatchID(model.OpUpload, []string{srcDir}, "/dest")
	data, err := os.ReadFile(filepath.Join(logDir, batchID+".log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), batchID)
	assert.Contains(t, string(data), "/dest/f.txt")
}

func TestRunUploadResumesFromExistingJournal(t *testing.T) {
	o, be, _ := newOrchestrator(t)
	srcDir := t.TempDir()
	filePath := filepath.Join(srcDir, "f.txt")
	require.NoError(t, os.WriteFile(filePath, make([]byte, 10), 0o644))
	journalDir := t.TempDir()

	batchID := journal.ComputeBatchID(model.OpUpload, []string{srcDir}, "/dest")
	fileID := uuid.New()
	be.chunks[fileID] = map[int][]byte{0: []byte("already-sent")}
	pre := journal.New(model.OpUpload, []string{srcDir}, "/dest", []model.Task{
		{LocalPath: filePath, RemotePath: "/dest/f.txt", Status: model.StatusActive, FileID: fileID, LastChunk: 0},
	})
	require.Equal(t, batchID, pre.BatchID)
	require.NoError(t, journal.Save(journal.Path(journalDir, batchID), pre))

	result, err := o.RunUpload(context.Background(), []string{srcDir}, model.ParsePath("/dest"), Options{
		JournalBaseDir: journalDir,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Done)
	// The pre-existing FileID must have been reused rather than a second
	// begin-upload minting a new one.
	require.Len(t, be.chunks, 1)
}

func TestRunUploadSkipExistsConflictPolicy(t *testing.T) {
	o, _, root := newOrchestrator(t)
	be := o.Backend.(*fakeOrchestratorBackend)
	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "f.txt"), []byte("data"), 0o644))

	existingID := uuid.New()
	contentKey := make([]byte, 32)
	fm := model.FileMetadata{Name: "f.txt", Size: 4, KeyHex: hex.EncodeToString(contentKey)}
	fmJSON, err := json.Marshal(fm)
	require.NoError(t, err)
	var zeroMasterKey model.MasterKey
	envelope, err := fcrypto.WrapMetadata(zeroMasterKey[:], fmJSON)
	require.NoError(t, err)
	be.children[root] = []backend.RawNode{
		{UUID: existingID, ParentUUID: root, IsFolder: false, NameEnvelope: "f.txt", MetadataEnvelope: envelope, Timestamp: time.Now().UnixMilli()},
	}

	result, err := o.RunUpload(context.Background(), []string{srcDir}, model.Path{}, Options{
		JournalBaseDir: t.TempDir(),
		ConflictPolicy: model.ConflictSkip,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 0, result.Done)
}

func TestRunUploadOverwriteTrashesExistingRemoteNode(t *testing.T) {
	o, _, root := newOrchestrator(t)
	be := o.Backend.(*fakeOrchestratorBackend)
	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "f.txt"), []byte("new contents"), 0o644))

	existingID := uuid.New()
	contentKey := make([]byte, 32)
	fm := model.FileMetadata{Name: "f.txt", Size: 4, KeyHex: hex.EncodeToString(contentKey)}
	fmJSON, err := json.Marshal(fm)
	require.NoError(t, err)
	var zeroMasterKey model.MasterKey
	envelope, err := fcrypto.WrapMetadata(zeroMasterKey[:], fmJSON)
	require.NoError(t, err)
	be.children[root] = []backend.RawNode{
		{UUID: existingID, ParentUUID: root, IsFolder: false, NameEnvelope: "f.txt", MetadataEnvelope: envelope, Timestamp: time.Now().UnixMilli()},
	}

	result, err := o.RunUpload(context.Background(), []string{srcDir}, model.Path{}, Options{
		JournalBaseDir: t.TempDir(),
		ConflictPolicy: model.ConflictOverwrite,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Done)
	assert.Contains(t, be.trashed, existingID, "overwrite must trash the node it replaces")
}
