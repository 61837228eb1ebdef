// Package model holds the shared data types of the Filen core: nodes,
// paths, keys, envelopes, and the batch journal. Nothing in this package
// talks to the network or the filesystem.
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Identifier is the backend's opaque 128-bit handle for a file or folder.
type Identifier = uuid.UUID

// NilIdentifier is the zero value, used to mean "no parent" (root).
var NilIdentifier = uuid.Nil

// NodeKind distinguishes files from folders.
type NodeKind int

const (
	KindFile NodeKind = iota
	KindFolder
)

// FileLocation is the server-assigned region/bucket tuple a file's chunks
// live in. Only meaningful for files.
type FileLocation struct {
	Region string
	Bucket string
}

// Node is either a file or a folder in the backend's identifier-addressed
// tree. Files carry the extra fields named in spec.md §3; folders leave
// them zero.
type Node struct {
	ID         Identifier
	ParentID   Identifier // NilIdentifier for root
	Name       string     // plaintext, recovered by decrypting the metadata envelope
	Kind       NodeKind
	ModifiedAt time.Time
	Trashed    bool

	// File-only fields.
	Size       int64
	ChunkCount int
	ContentKey [32]byte
	Version    string
	Location   FileLocation
	FileHashHex string // hex SHA-512 recorded at upload time, files only
}

// IsFile reports whether this node is a file.
func (n Node) IsFile() bool { return n.Kind == KindFile }

// Path is a slash-separated sequence of plaintext name components rooted
// at "/". Components are matched case-sensitively and may not contain '/'
// or NUL.
type Path struct {
	segments []string
}

// ParsePath trims leading and trailing slashes from a human path and
// splits the rest into segments without validating them. An interior
// empty segment (double slash) or a NUL byte is rejected later by the
// resolver, which fails such a path with ferrors.InvalidPath.
func ParsePath(p string) Path {
	p = strings.Trim(p, "/")
	if p == "" {
		return Path{}
	}
	return Path{segments: strings.Split(p, "/")}
}

// Segments returns the path's components in root-to-leaf order.
func (p Path) Segments() []string { return p.segments }

// String renders the path in canonical slash-separated form.
func (p Path) String() string {
	return "/" + strings.Join(p.segments, "/")
}

// Join appends a single name component.
func (p Path) Join(name string) Path {
	out := make([]string, len(p.segments)+1)
	copy(out, p.segments)
	out[len(p.segments)] = name
	return Path{segments: out}
}

// Parent returns the path with its last segment removed, and that last
// segment. Calling Parent on the root path returns the root path and "".
func (p Path) Parent() (Path, string) {
	if len(p.segments) == 0 {
		return p, ""
	}
	return Path{segments: p.segments[:len(p.segments)-1]}, p.segments[len(p.segments)-1]
}

// MasterKey is the user's 256-bit root key. It never leaves the process
// and is used only to wrap/unwrap per-file content keys and to key the
// filename HMAC.
type MasterKey [32]byte

// EnvelopeVersion is the only metadata envelope format this client
// produces or accepts.
const EnvelopeVersion = "002"

// FileMetadata is the plaintext payload carried inside a file's metadata
// envelope.
type FileMetadata struct {
	Name         string `json:"name"`
	Size         int64  `json:"size"`
	Mime         string `json:"mime"`
	KeyHex       string `json:"key"`
	LastModified int64  `json:"lastModified"` // ms since epoch
	HashHex      string `json:"hash"`         // hex SHA-512
}

// DirectoryCacheEntry is a cached folder listing.
type DirectoryCacheEntry struct {
	FolderID  Identifier
	Path      string
	Children  []Node
	FetchedAt time.Time
}

// Operation identifies which side of a batch is being driven.
type Operation string

const (
	OpUpload   Operation = "upload"
	OpDownload Operation = "download"
)

// ConflictPolicy controls how the orchestrator treats a pre-existing
// counterpart on the destination side.
type ConflictPolicy string

const (
	ConflictSkip      ConflictPolicy = "skip"
	ConflictOverwrite ConflictPolicy = "overwrite"
	ConflictNewer     ConflictPolicy = "newer"
)

// TaskStatus is the set of states a Task may occupy. A value read from a
// journal is decoded verbatim: a string that matches none of the
// constants below is kept as it is and is not mapped to
// StatusErrorFatal.
type TaskStatus string

const (
	StatusPending     TaskStatus = "pending"
	StatusActive      TaskStatus = "active"
	StatusInterrupted TaskStatus = "interrupted"
	StatusCompleted   TaskStatus = "completed"

	StatusSkippedExists    TaskStatus = "skipped_exists"
	StatusSkippedNotNewer  TaskStatus = "skipped_not_newer"

	StatusErrorAuth         TaskStatus = "error_auth"
	StatusErrorNotFound     TaskStatus = "error_not_found"
	StatusErrorAmbiguous    TaskStatus = "error_ambiguous"
	StatusErrorConflict     TaskStatus = "error_conflict"
	StatusErrorRateLimited  TaskStatus = "error_rate_limited"
	StatusErrorTransient    TaskStatus = "error_transient"
	StatusErrorFatal        TaskStatus = "error_fatal"
	StatusErrorCryptoVer    TaskStatus = "error_crypto_version"
	StatusErrorCryptoAuth   TaskStatus = "error_crypto_auth"
	StatusErrorCorruptChunk TaskStatus = "error_corrupt_chunk"
	StatusErrorHash         TaskStatus = "error_hash_mismatch"
	StatusErrorInvalidPath  TaskStatus = "error_invalid_path"
	StatusErrorIO           TaskStatus = "error_io"
	StatusErrorCanceled     TaskStatus = "error_canceled"
)

// IsTerminal reports whether status requires no further action: the task
// is done (completed or skipped) or waiting for an explicit user retry
// (error_*, which the orchestrator never auto-resets mid-batch).
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusSkippedExists, StatusSkippedNotNewer:
		return true
	}
	return strings.HasPrefix(string(s), "error_")
}

// IsSkipped reports whether status is one of the skipped_* variants.
func (s TaskStatus) IsSkipped() bool {
	return strings.HasPrefix(string(s), "skipped_")
}

// IsError reports whether status is one of the error_* variants.
func (s TaskStatus) IsError() bool {
	return strings.HasPrefix(string(s), "error_")
}

// Task is a single file's worth of work within a batch.
type Task struct {
	LocalPath  string     `json:"localPath"`
	RemotePath string     `json:"remotePath"`
	Status     TaskStatus `json:"status"`

	FileID   Identifier `json:"fileId,omitempty"`
	ParentID Identifier `json:"parentId,omitempty"`

	// ReplacesID is the identifier of a pre-existing remote counterpart
	// this upload's conflict policy chose to overwrite. Uploads always
	// create a fresh file node (transfer.UploadFile never reuses an
	// existing FileID for a brand new task), so the old node has to be
	// trashed explicitly once the new one is committed.
	ReplacesID Identifier `json:"replacesId,omitempty"`

	Size       int64 `json:"size"`
	ChunkCount int    `json:"chunkCount"`
	LastChunk  int    `json:"lastChunk"` // -1 means none committed

	ErrorDetail string `json:"errorDetail,omitempty"`
}

// BatchJournal is the persistent record of one batch invocation.
type BatchJournal struct {
	BatchID   string    `json:"batchId"`
	Operation Operation `json:"operation"`
	Source    []string  `json:"source"`
	Target    string    `json:"target"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Tasks     []Task    `json:"tasks"`
}

// AllTerminal reports whether every task in the journal is terminal.
func (j *BatchJournal) AllTerminal() bool {
	for _, t := range j.Tasks {
		if !t.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// HasErrors reports whether any task ended in an error_* state.
func (j *BatchJournal) HasErrors() bool {
	for _, t := range j.Tasks {
		if t.Status.IsError() {
			return true
		}
	}
	return false
}
