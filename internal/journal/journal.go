// Package journal implements the crash-safe batch journal of spec.md
// §4.5: a JSON file written with the write-temp-then-rename discipline so
// a crash mid-write never leaves a torn file behind, the same durability
// idiom the pack uses pervasively for config/state files (e.g.
// kenchrcum-s3-encryption-gateway's config writer). azcopy solves the
// equivalent "resume a large job after a crash" problem with mmap'd
// binary job-plan files (jobsAdmin/init.go, azcopy/jobsResume.go); this
// spec's scale (one file per batch, not per-chunk-indexed binary records)
// calls for a plain JSON document instead, so the mmap machinery is not
// carried over.
package journal

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/CrispStrobe/filen-cli-go/internal/ferrors"
	"github.com/CrispStrobe/filen-cli-go/internal/model"
)

// ComputeBatchID derives the stable identifier spec.md §4.5 assigns to a
// batch: the first 16 hex characters of sha1(operation‖sort(sources)‖target),
// with sources sorted and joined by "\x00" so no source path can collide
// with the separator and the same set of sources in a different CLI-arg
// order still resumes the same batch.
func ComputeBatchID(op model.Operation, sources []string, target string) string {
	sorted := make([]string, len(sources))
	copy(sorted, sources)
	sort.Strings(sorted)

	h := sha1.New()
	h.Write([]byte(op))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(sorted, "\x00")))
	h.Write([]byte{0})
	h.Write([]byte(target))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum)[:16]
}

// Dir returns the directory batch journals live in under base (normally
// the client's config directory).
func Dir(base string) string {
	return filepath.Join(base, "batch_states")
}

// Path returns the on-disk path for a batch's journal file.
func Path(base, batchID string) string {
	return filepath.Join(Dir(base), batchID+".json")
}

// New builds a fresh journal for a batch about to start.
func New(op model.Operation, sources []string, target string, tasks []model.Task) *model.BatchJournal {
	now := time.Now()
	return &model.BatchJournal{
		BatchID:   ComputeBatchID(op, sources, target),
		Operation: op,
		Source:    sources,
		Target:    target,
		CreatedAt: now,
		UpdatedAt: now,
		Tasks:     tasks,
	}
}

// Load reads and parses a journal file. A missing file is reported as
// ferrors.NotFound so callers can distinguish "no journal to resume" from
// a genuine read/parse failure.
func Load(path string) (*model.BatchJournal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ferrors.New(ferrors.NotFound, "journal.Load", err)
		}
		return nil, ferrors.New(ferrors.IO, "journal.Load", err)
	}
	var j model.BatchJournal
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, ferrors.New(ferrors.Fatal, "journal.Load", err)
	}
	return &j, nil
}

// Save persists j to path using write-temp-then-rename: the new content
// lands in a sibling ".tmp" file first and is only renamed into place
// once fully flushed, so a crash mid-write leaves the previous, valid
// journal intact rather than a truncated one.
func Save(path string, j *model.BatchJournal) error {
	j.UpdatedAt = time.Now()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return ferrors.New(ferrors.IO, "journal.Save", err)
	}
	data, err := json.MarshalIndent(j, "", "  ")
	if err != nil {
		return ferrors.New(ferrors.Fatal, "journal.Save", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return ferrors.New(ferrors.IO, "journal.Save", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return ferrors.New(ferrors.IO, "journal.Save", err)
	}
	return nil
}

// Delete removes a batch's journal file. Called once every task in the
// batch has reached a terminal state, per spec.md §4.5. A missing file is
// not an error: deletion is idempotent.
func Delete(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return ferrors.New(ferrors.IO, "journal.Delete", err)
	}
	return nil
}

// List returns the batch IDs of every journal currently on disk under
// base, for a "list in-progress batches" CLI verb.
func List(base string) ([]string, error) {
	entries, err := os.ReadDir(Dir(base))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, ferrors.New(ferrors.IO, "journal.List", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && strings.HasSuffix(name, ".json") {
			ids = append(ids, strings.TrimSuffix(name, ".json"))
		}
	}
	return ids, nil
}
