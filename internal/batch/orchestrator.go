// Package batch implements the batch orchestrator of spec.md §4.5:
// enumeration, glob filtering, conflict-policy resolution, the crash-safe
// resume journal, and a bounded worker pool with single-writer journal
// discipline. The resume concept is grounded on azcopy's job/job-part
// lifecycle (jobsAdmin/init.go's ResumeJobOrder, azcopy/jobsResume.go) —
// "a deterministic job ID lets a second invocation with the same
// arguments pick up where the first left off" — scaled down from
// azcopy's per-job-part binary plan files to the single JSON journal
// internal/journal persists.
package batch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/CrispStrobe/filen-cli-go/internal/backend"
	"github.com/CrispStrobe/filen-cli-go/internal/ferrors"
	"github.com/CrispStrobe/filen-cli-go/internal/journal"
	"github.com/CrispStrobe/filen-cli-go/internal/logging"
	"github.com/CrispStrobe/filen-cli-go/internal/model"
	"github.com/CrispStrobe/filen-cli-go/internal/resolver"
	"github.com/CrispStrobe/filen-cli-go/internal/transfer"
)

// Backend is the full surface the orchestrator drives: resolving/creating
// remote folders, the chunked transfer operations, and trashing a node an
// overwrite conflict replaces.
type Backend interface {
	resolver.Backend
	transfer.Backend
	GetFileInfo(ctx context.Context, fileID model.Identifier) (backend.RawNode, error)
	Trash(ctx context.Context, id model.Identifier) error
}

// nameEncrypterAdapter adapts a resolver.NameEnvelopeCodec (which takes a
// per-file content key) to transfer.NameEnvelopeEncrypter (which doesn't
// need one, since file names are wrapped under the master key, not the
// content key, per spec.md §4.1).
type nameEncrypterAdapter struct {
	codec resolver.NameEnvelopeCodec
}

func (a nameEncrypterAdapter) EncryptName(name string) (string, error) {
	return a.codec.EncryptName(name, nil)
}

// Options shared by both directions of a batch.
type Options struct {
	Include           []string
	Exclude           []string
	ConflictPolicy    model.ConflictPolicy
	Concurrency       int // bounded per-file worker pool; 1 means single-task-at-a-time
	PreserveTimestamp bool
	JournalBaseDir    string
	LogDir            string // if set and Orchestrator.Log is non-nil, a per-batch job log is written here
	Progress          func(task *model.Task, bytesDone, bytesTotal int64)
	Cancel            func() bool
}

func (o Options) concurrency() int {
	if o.Concurrency < 1 {
		return 1
	}
	return o.Concurrency
}

// Result summarizes the outcome of a completed (or partially completed)
// batch for the CLI layer's exit-code and reporting contract (spec.md
// §6).
type Result struct {
	Journal    *model.BatchJournal
	Total      int
	Done       int
	Skipped    int
	Errors     int
	AuthErr    bool // any task ended error_auth
	OtherErr   bool // any task ended on an error kind other than auth/transient/rate_limited
	NetworkErr bool // any task ended error_transient or error_rate_limited
}

// ExitCode implements spec.md §6's exit-code contract: 0 all succeeded, 3
// any task failed on auth, 1 any other task-level error (spec.md §6's
// "lowest-numbered class that applies" puts generic partial failure ahead
// of network exhaustion when both occur in the same batch), 4 a task
// exhausted its transient/rate-limited retries and nothing worse
// happened, 2 (invalid usage) is assigned by the CLI layer before a batch
// ever runs.
func (r Result) ExitCode() int {
	switch {
	case r.AuthErr:
		return 3
	case r.OtherErr:
		return 1
	case r.NetworkErr:
		return 4
	default:
		return 0
	}
}

// Orchestrator drives one or more batches against a single backend and
// resolver.
type Orchestrator struct {
	Backend  Backend
	Resolver *resolver.Resolver
	Codec    resolver.NameEnvelopeCodec
	Log      *logrus.Logger
}

// jobLogger opens a per-batch job logger when both o.Log and opts.LogDir
// are set, mirroring azcopy's one-log-file-per-job convention. The
// returned close func is a no-op when no logger was opened, so callers can
// always defer it unconditionally.
func (o *Orchestrator) jobLogger(batchID string, opts Options) (*logrus.Entry, func() error) {
	if o.Log == nil || opts.LogDir == "" {
		return nil, func() error { return nil }
	}
	entry, closeFn, err := logging.JobLogger(o.Log, opts.LogDir, batchID)
	if err != nil {
		o.Log.WithError(err).Warn("could not open per-batch job log")
		return nil, func() error { return nil }
	}
	return entry, closeFn
}

// RunUpload uploads sources (files or directories) to targetPath.
func (o *Orchestrator) RunUpload(ctx context.Context, sources []string, targetPath model.Path, opts Options) (Result, error) {
	batchID := journal.ComputeBatchID(model.OpUpload, sources, targetPath.String())
	path := journal.Path(opts.JournalBaseDir, batchID)

	jobLog, closeLog := o.jobLogger(batchID, opts)
	defer closeLog()

	j, resumed, err := loadOrCreate(path, func() (*model.BatchJournal, error) {
		return o.buildUploadJournal(ctx, sources, targetPath, opts)
	})
	if err != nil {
		return Result{}, err
	}
	if jobLog != nil {
		jobLog.WithField("resumed", resumed).Infof("upload batch started: %d task(s)", len(j.Tasks))
	}

	encrypter := nameEncrypterAdapter{o.Codec}
	targetNode, err := o.Resolver.EnsureFolder(ctx, targetPath)
	if err != nil {
		return Result{}, err
	}
	persist := makePersist(path, j)

	process := func(ctx context.Context, task *model.Task) error {
		if err := transfer.UploadFile(ctx, o.Backend, task, transfer.UploadOptions{
			LocalPath:         task.LocalPath,
			ParentID:          targetNode.ID,
			RemoteName:        baseName(task.RemotePath),
			PreserveTimestamp: opts.PreserveTimestamp,
			NameEncrypter:     encrypter,
			Progress: func(done, total int64) {
				if opts.Progress != nil {
					opts.Progress(task, done, total)
				}
			},
			Persist: persist,
			Cancel:  opts.Cancel,
		}); err != nil {
			if jobLog != nil {
				jobLog.WithFields(logging.TaskFields(task.RemotePath, task.LastChunk)).WithError(err).Warn("upload task failed")
			}
			return err
		}
		// spec.md §4.5 step 4: an overwrite replaces the remote file by
		// creating a new node then trashing the old one, once the new
		// upload is safely committed.
		if task.ReplacesID != model.NilIdentifier {
			_ = o.Backend.Trash(ctx, task.ReplacesID)
			o.Resolver.Invalidate(targetNode.ID, "")
		}
		if jobLog != nil {
			jobLog.WithFields(logging.TaskFields(task.RemotePath, task.LastChunk)).Info("upload task completed")
		}
		return nil
	}

	result, err := runBatch(ctx, path, j, opts.concurrency(), process)
	if jobLog != nil {
		jobLog.Infof("upload batch finished: %d done, %d skipped, %d errors", result.Done, result.Skipped, result.Errors)
	}
	return result, err
}

// RunDownload downloads sources (remote paths, files or folders) into
// targetDir on the local filesystem.
func (o *Orchestrator) RunDownload(ctx context.Context, sources []string, targetDir string, opts Options) (Result, error) {
	batchID := journal.ComputeBatchID(model.OpDownload, sources, targetDir)
	path := journal.Path(opts.JournalBaseDir, batchID)

	jobLog, closeLog := o.jobLogger(batchID, opts)
	defer closeLog()

	j, resumed, err := loadOrCreate(path, func() (*model.BatchJournal, error) {
		return o.buildDownloadJournal(ctx, sources, targetDir, opts)
	})
	if err != nil {
		return Result{}, err
	}
	if jobLog != nil {
		jobLog.WithField("resumed", resumed).Infof("download batch started: %d task(s)", len(j.Tasks))
	}

	byRemotePath := make(map[string]model.Node)
	for _, src := range sources {
		res, err := o.Resolver.Resolve(ctx, model.ParsePath(src), false)
		if err != nil {
			continue
		}
		collectRemoteNodes(ctx, o.Resolver, res.Node, src, byRemotePath)
	}
	persist := makePersist(path, j)

	process := func(ctx context.Context, task *model.Task) error {
		node, ok := byRemotePath[task.RemotePath]
		if !ok {
			return ferrors.New(ferrors.NotFound, "batch.RunDownload", nil)
		}
		err := transfer.DownloadFile(ctx, o.Backend, task, transfer.DownloadOptions{
			LocalPath:    task.LocalPath,
			FileID:       node.ID,
			Region:       node.Location.Region,
			Bucket:       node.Location.Bucket,
			ChunkCount:   node.ChunkCount,
			ContentKey:   node.ContentKey,
			ExpectedHash: node.FileHashHex,
			ModTime:      node.ModifiedAt,
			Preserve:     opts.PreserveTimestamp,
			Progress: func(done, total int64) {
				if opts.Progress != nil {
					opts.Progress(task, done, total)
				}
			},
			Persist: persist,
			Cancel:  opts.Cancel,
		})
		markCorrupt(task, err)
		if jobLog != nil {
			fields := jobLog.WithFields(logging.TaskFields(task.RemotePath, task.LastChunk))
			if err != nil {
				fields.WithError(err).Warn("download task failed")
			} else {
				fields.Info("download task completed")
			}
		}
		return err
	}

	result, err := runBatch(ctx, path, j, opts.concurrency(), process)
	if jobLog != nil {
		jobLog.Infof("download batch finished: %d done, %d skipped, %d errors", result.Done, result.Skipped, result.Errors)
	}
	return result, err
}

func collectRemoteNodes(ctx context.Context, r *resolver.Resolver, node model.Node, relRoot string, out map[string]model.Node) {
	if node.IsFile() {
		out[relRoot] = node
		return
	}
	children, err := r.List(ctx, node.ID, relRoot)
	if err != nil {
		return
	}
	for _, child := range children {
		if child.Trashed {
			continue
		}
		collectRemoteNodes(ctx, r, child, relRoot+"/"+child.Name, out)
	}
}

func (o *Orchestrator) buildUploadJournal(ctx context.Context, sources []string, targetPath model.Path, opts Options) (*model.BatchJournal, error) {
	var tasks []model.Task
	for _, src := range sources {
		files, err := EnumerateLocal(src, opts.Include, opts.Exclude)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			remotePath := model.ParsePath(targetPath.String() + "/" + f.RelPath).String()
			task := model.Task{LocalPath: f.AbsPath, RemotePath: remotePath, Status: model.StatusPending, LastChunk: -1}

			info, statErr := os.Stat(f.AbsPath)
			existing, resolveErr := o.Resolver.Resolve(ctx, model.ParsePath(remotePath), false)
			destExists := resolveErr == nil
			var destModTime time.Time
			if destExists {
				destModTime = existing.Node.ModifiedAt
			}
			var srcModTime time.Time
			if statErr == nil {
				srcModTime = info.ModTime()
			}
			switch resolveConflict(opts.ConflictPolicy, destExists, srcModTime, destModTime) {
			case skipExists:
				task.Status = model.StatusSkippedExists
			case skipNotNewer:
				task.Status = model.StatusSkippedNotNewer
			case proceed:
				if destExists {
					task.ReplacesID = existing.Node.ID
				}
			}
			tasks = append(tasks, task)
		}
	}
	return journal.New(model.OpUpload, sources, targetPath.String(), tasks), nil
}

func (o *Orchestrator) buildDownloadJournal(ctx context.Context, sources []string, targetDir string, opts Options) (*model.BatchJournal, error) {
	var tasks []model.Task
	for _, src := range sources {
		res, err := o.Resolver.Resolve(ctx, model.ParsePath(src), false)
		if err != nil {
			return nil, err
		}
		files, err := EnumerateRemote(ctx, o.Resolver, res.Node, src, opts.Include, opts.Exclude)
		if err != nil {
			return nil, err
		}
		for _, rf := range files {
			localPath := joinLocal(targetDir, rf.RelPath)
			remotePath := src + "/" + rf.RelPath
			if res.Node.IsFile() {
				remotePath = src
			}
			task := model.Task{LocalPath: localPath, RemotePath: remotePath, Status: model.StatusPending, LastChunk: -1}

			info, statErr := os.Stat(localPath)
			destExists := statErr == nil
			var destModTime time.Time
			if destExists {
				destModTime = info.ModTime()
			}
			switch resolveConflict(opts.ConflictPolicy, destExists, rf.Node.ModifiedAt, destModTime) {
			case skipExists:
				task.Status = model.StatusSkippedExists
			case skipNotNewer:
				task.Status = model.StatusSkippedNotNewer
			}
			tasks = append(tasks, task)
		}
	}
	return journal.New(model.OpDownload, sources, targetDir, tasks), nil
}

// loadOrCreate implements spec.md §4.5's resume-mode detection: if a
// journal already exists at path (same batch ID, i.e. identical
// operation/sources/target), its tasks and their LastChunk progress are
// reused verbatim instead of re-enumerating.
func loadOrCreate(path string, build func() (*model.BatchJournal, error)) (*model.BatchJournal, bool, error) {
	j, err := journal.Load(path)
	if err == nil {
		return j, true, nil
	}
	if kind, _ := ferrors.KindOf(err); kind != ferrors.NotFound {
		return nil, false, err
	}
	j, err = build()
	if err != nil {
		return nil, false, err
	}
	if err := journal.Save(path, j); err != nil {
		return nil, false, err
	}
	return j, false, nil
}

// makePersist returns a transfer.PersistFunc that writes the whole
// journal under mu, satisfying spec.md §4.5's single-writer requirement
// even when multiple tasks are in flight concurrently.
func makePersist(path string, j *model.BatchJournal) transfer.PersistFunc {
	var mu sync.Mutex
	return func(task *model.Task) error {
		mu.Lock()
		defer mu.Unlock()
		return journal.Save(path, j)
	}
}

// runBatch drives every non-terminal task in j through process, bounded
// to concurrency workers, then deletes the journal once every task has
// reached a terminal state. An auth failure stops any further task from
// starting; tasks already in flight finish, and the journal is kept.
func runBatch(ctx context.Context, path string, j *model.BatchJournal, concurrency int, process func(context.Context, *model.Task) error) (Result, error) {
	sem := make(chan struct{}, concurrency)
	abort := make(chan struct{})
	var abortOnce sync.Once
	var wg sync.WaitGroup

loop:
	for i := range j.Tasks {
		if j.Tasks[i].Status.IsTerminal() {
			continue
		}
		sem <- struct{}{}
		select {
		case <-abort:
			<-sem
			break loop
		default:
		}
		task := &j.Tasks[i]
		wg.Add(1)
		go func(t *model.Task) {
			defer wg.Done()
			defer func() { <-sem }()
			// errors are recorded on the task itself via its terminal status
			if err := process(ctx, t); err != nil {
				if kind, _ := ferrors.KindOf(err); kind == ferrors.Auth {
					abortOnce.Do(func() { close(abort) })
				}
			}
		}(task)
	}
	wg.Wait()

	if j.AllTerminal() {
		_ = journal.Delete(path)
	}

	return summarize(j), nil
}

func summarize(j *model.BatchJournal) Result {
	r := Result{Journal: j, Total: len(j.Tasks)}
	for _, t := range j.Tasks {
		switch {
		case t.Status == model.StatusCompleted:
			r.Done++
		case t.Status.IsSkipped():
			r.Skipped++
		case t.Status.IsError():
			r.Errors++
			switch t.Status {
			case model.StatusErrorAuth:
				r.AuthErr = true
			case model.StatusErrorTransient, model.StatusErrorRateLimited:
				r.NetworkErr = true
			default:
				r.OtherErr = true
			}
		}
	}
	return r
}

// markCorrupt implements spec.md §7's "crypto_auth during download ...
// leaves the partially written file for inspection with a .corrupt
// suffix": any download error that reflects damaged ciphertext or a
// content mismatch renames the local file rather than leaving it under
// its real name, where a later retry might mistake it for a good copy.
func markCorrupt(task *model.Task, err error) {
	if err == nil {
		return
	}
	kind, ok := ferrors.KindOf(err)
	if !ok {
		return
	}
	switch kind {
	case ferrors.CryptoAuth, ferrors.CorruptChunk, ferrors.HashMismatch:
		_ = os.Rename(task.LocalPath, task.LocalPath+".corrupt")
	}
}

func baseName(remotePath string) string {
	p := model.ParsePath(remotePath)
	_, name := p.Parent()
	return name
}

func joinLocal(dir, relPath string) string {
	return filepath.Join(dir, filepath.FromSlash(relPath))
}
