package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/CrispStrobe/filen-cli-go/internal/batch"
	"github.com/CrispStrobe/filen-cli-go/internal/cliutil"
	"github.com/CrispStrobe/filen-cli-go/internal/fcrypto"
	"github.com/CrispStrobe/filen-cli-go/internal/ferrors"
	"github.com/CrispStrobe/filen-cli-go/internal/journal"
	"github.com/CrispStrobe/filen-cli-go/internal/model"
	"github.com/CrispStrobe/filen-cli-go/internal/transfer"
)

var (
	flagInclude     []string
	flagExclude     []string
	flagPreserve    bool
	flagConcurrency int
)

var uploadCmd = &cobra.Command{
	Use:   "upload <source...> <remote-target>",
	Short: "Upload one or more local files or directories to a remote folder",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return wrapErr(err)
		}
		sources, target := args[:len(args)-1], args[len(args)-1]
		if err := requireRecursiveForDirs(sources); err != nil {
			return wrapErr(err)
		}

		var bar cliutil.PhaseBar
		opts := s.batchOptions(journal.Dir(s.dir), flagInclude, flagExclude, flagConcurrency, flagPreserve)
		opts.Progress = func(task *model.Task, done, total int64) {
			bar.Update(task.RemotePath, done, total)
		}
		result, err := s.orch.RunUpload(cmd.Context(), sources, model.ParsePath(target), opts)
		bar.Finish()
		if err != nil {
			return wrapErr(err)
		}
		reportBatch(result)
		os.Exit(result.ExitCode())
		return nil
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download <remote-source...> <local-target-dir>",
	Short: "Download one or more remote files or folders into a local directory",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return wrapErr(err)
		}
		sources, target := args[:len(args)-1], args[len(args)-1]
		for _, src := range sources {
			res, err := s.resolver.Resolve(cmd.Context(), model.ParsePath(src), false)
			if err == nil && !res.Node.IsFile() && !flagRecursive {
				return usageErr("%s is a folder; pass -r/--recursive to upload/download directories", src)
			}
		}

		var bar cliutil.PhaseBar
		opts := s.batchOptions(journal.Dir(s.dir), flagInclude, flagExclude, flagConcurrency, flagPreserve)
		opts.Progress = func(task *model.Task, done, total int64) {
			bar.Update(task.RemotePath, done, total)
		}
		result, err := s.orch.RunDownload(cmd.Context(), sources, target, opts)
		bar.Finish()
		if err != nil {
			return wrapErr(err)
		}
		reportBatch(result)
		os.Exit(result.ExitCode())
		return nil
	},
}

// downloadPathCmd downloads exactly one remote file straight to an
// explicit local path, bypassing the batch orchestrator and its journal
// entirely: a single untracked transfer for the "just get me this one
// file, named exactly this" case, as distinct from download's batch/
// resume semantics.
var downloadPathCmd = &cobra.Command{
	Use:   "download-path <remote-file> <local-file>",
	Short: "Download a single remote file to an explicit local path, with no resume journal",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return wrapErr(err)
		}
		res, err := s.resolver.Resolve(cmd.Context(), model.ParsePath(args[0]), true)
		if err != nil {
			return wrapErr(err)
		}
		if !res.Node.IsFile() {
			return usageErr("%s is a folder; use download for folders", args[0])
		}

		task := &model.Task{LocalPath: args[1], RemotePath: args[0], Status: model.StatusPending, LastChunk: -1}
		var bar cliutil.PhaseBar
		err = transfer.DownloadFile(cmd.Context(), s.client, task, transfer.DownloadOptions{
			LocalPath:    args[1],
			FileID:       res.Node.ID,
			Region:       res.Node.Location.Region,
			Bucket:       res.Node.Location.Bucket,
			ChunkCount:   res.Node.ChunkCount,
			ContentKey:   res.Node.ContentKey,
			ExpectedHash: res.Node.FileHashHex,
			ModTime:      res.Node.ModifiedAt,
			Preserve:     flagPreserve,
			Progress:     func(done, total int64) { bar.Update(args[0], done, total) },
		})
		bar.Finish()
		if err != nil {
			if kind, ok := ferrors.KindOf(err); ok {
				switch kind {
				case ferrors.CryptoAuth, ferrors.CorruptChunk, ferrors.HashMismatch:
					_ = os.Rename(args[1], args[1]+".corrupt")
				}
			}
			return wrapErr(err)
		}
		cliutil.Success("downloaded %s", args[1])
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <remote-file> <local-file>",
	Short: "Recompute a local file's hash and compare it against the server-recorded hash",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return wrapErr(err)
		}
		res, err := s.resolver.Resolve(cmd.Context(), model.ParsePath(args[0]), true)
		if err != nil {
			return wrapErr(err)
		}
		localHash, err := hashLocalFile(args[1])
		if err != nil {
			return wrapErr(err)
		}
		if localHash != res.Node.FileHashHex {
			cliutil.Error("hash mismatch: local=%s remote=%s", localHash, res.Node.FileHashHex)
			os.Exit(1)
		}
		cliutil.Success("verified: hashes match")
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{uploadCmd, downloadCmd} {
		c.Flags().StringSliceVar(&flagInclude, "include", nil, "glob patterns to include (default: everything)")
		c.Flags().StringSliceVar(&flagExclude, "exclude", nil, "glob patterns to exclude (wins over --include)")
		c.Flags().BoolVarP(&flagPreserve, "preserve", "p", true, "preserve modification timestamps")
		c.Flags().IntVar(&flagConcurrency, "concurrency", 1, "number of files transferred concurrently")
		c.Flags().BoolVarP(&flagRecursive, "recursive", "r", false, "allow directory sources")
	}
	downloadPathCmd.Flags().BoolVarP(&flagPreserve, "preserve", "p", true, "preserve modification timestamps")
}

func requireRecursiveForDirs(sources []string) error {
	for _, src := range sources {
		info, err := os.Stat(src)
		if err != nil {
			continue // let the orchestrator's own enumeration report the I/O error
		}
		if info.IsDir() && !flagRecursive {
			return usageErr("%s is a directory; pass -r/--recursive to upload/download directories", src)
		}
	}
	return nil
}

func hashLocalFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := fcrypto.NewFileHasher()
	buf := make([]byte, 1<<20)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err != nil {
			break
		}
	}
	return h.SumHex(), nil
}

func reportBatch(r batch.Result) {
	fmt.Fprintf(os.Stderr, "%d total, %d done, %d skipped, %d errors\n", r.Total, r.Done, r.Skipped, r.Errors)
	if r.Journal == nil {
		return
	}
	for _, t := range r.Journal.Tasks {
		if t.Status.IsError() {
			cliutil.Error("%s: %s", t.RemotePath, t.Status)
		}
	}
}
