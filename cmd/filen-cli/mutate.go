package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/CrispStrobe/filen-cli-go/internal/cliutil"
	"github.com/CrispStrobe/filen-cli-go/internal/model"
	"github.com/CrispStrobe/filen-cli-go/internal/transfer"
)

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <path>",
	Short: "Create a remote folder, and any missing parent folders",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return wrapErr(err)
		}
		node, err := s.resolver.EnsureFolder(cmd.Context(), model.ParsePath(args[0]))
		if err != nil {
			return wrapErr(err)
		}
		cliutil.Success("created %s (%s)", args[0], node.ID)
		return nil
	},
}

var mvCmd = &cobra.Command{
	Use:   "mv <source> <destination-folder>",
	Short: "Move a node into a different parent folder",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return wrapErr(err)
		}
		src, err := s.resolver.Resolve(cmd.Context(), model.ParsePath(args[0]), true)
		if err != nil {
			return wrapErr(err)
		}
		dst, err := s.resolver.EnsureFolder(cmd.Context(), model.ParsePath(args[1]))
		if err != nil {
			return wrapErr(err)
		}
		if err := s.client.Move(cmd.Context(), src.Node.ID, dst.ID); err != nil {
			return wrapErr(err)
		}
		s.resolver.Invalidate(src.Node.ParentID, "")
		s.resolver.Invalidate(dst.ID, args[1])
		cliutil.Success("moved %s -> %s", args[0], args[1])
		return nil
	},
}

var renameCmd = &cobra.Command{
	Use:   "rename <path> <new-name>",
	Short: "Rename a node in place",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return wrapErr(err)
		}
		node, err := s.resolver.Resolve(cmd.Context(), model.ParsePath(args[0]), true)
		if err != nil {
			return wrapErr(err)
		}
		nameEnvelope, err := s.orch.Codec.EncryptName(args[1], nil)
		if err != nil {
			return wrapErr(err)
		}
		if err := s.client.Rename(cmd.Context(), node.Node.ID, nameEnvelope); err != nil {
			return wrapErr(err)
		}
		s.resolver.Invalidate(node.Node.ParentID, "")
		cliutil.Success("renamed %s -> %s", args[0], args[1])
		return nil
	},
}

// cpCmd duplicates a remote file under a new path. The backend exposes no
// server-side copy endpoint (spec.md §6 lists move/rename but not copy),
// so a copy is composed client-side from the two primitives that already
// exist: download the plaintext to a scratch file, then upload it again
// under the destination name, exactly as a user would do by hand.
var cpCmd = &cobra.Command{
	Use:   "cp <source-file> <destination-folder>",
	Short: "Copy a remote file into a different folder (composed as download+upload)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return wrapErr(err)
		}
		src, err := s.resolver.Resolve(cmd.Context(), model.ParsePath(args[0]), true)
		if err != nil {
			return wrapErr(err)
		}
		if !src.Node.IsFile() {
			return usageErr("%s is a folder; cp only copies files", args[0])
		}

		tmp, err := os.CreateTemp("", "filen-cli-cp-*")
		if err != nil {
			return wrapErr(err)
		}
		tmpPath := tmp.Name()
		tmp.Close()
		defer os.Remove(tmpPath)

		dlTask := &model.Task{LocalPath: tmpPath, RemotePath: args[0], Status: model.StatusPending, LastChunk: -1}
		if err := transfer.DownloadFile(cmd.Context(), s.client, dlTask, transfer.DownloadOptions{
			LocalPath:    tmpPath,
			FileID:       src.Node.ID,
			Region:       src.Node.Location.Region,
			Bucket:       src.Node.Location.Bucket,
			ChunkCount:   src.Node.ChunkCount,
			ContentKey:   src.Node.ContentKey,
			ExpectedHash: src.Node.FileHashHex,
		}); err != nil {
			return wrapErr(err)
		}

		dstFolder, err := s.resolver.EnsureFolder(cmd.Context(), model.ParsePath(args[1]))
		if err != nil {
			return wrapErr(err)
		}
		ulTask := &model.Task{LocalPath: tmpPath, RemotePath: args[1] + "/" + src.Node.Name, Status: model.StatusPending, LastChunk: -1}
		if err := transfer.UploadFile(cmd.Context(), s.client, ulTask, transfer.UploadOptions{
			LocalPath:     tmpPath,
			ParentID:      dstFolder.ID,
			RemoteName:    src.Node.Name,
			NameEncrypter: nameEncrypter{s.orch.Codec},
		}); err != nil {
			return wrapErr(err)
		}
		s.resolver.Invalidate(dstFolder.ID, args[1])
		cliutil.Success("copied %s -> %s", args[0], args[1])
		return nil
	},
}

// nameEncrypter adapts a resolver.NameEnvelopeCodec to
// transfer.NameEnvelopeEncrypter for the one-off uploads cp issues
// outside the batch orchestrator (which has its own private copy of this
// same adapter for its batch uploads).
type nameEncrypter struct {
	codec interface {
		EncryptName(name string, contentKey []byte) (string, error)
	}
}

func (n nameEncrypter) EncryptName(name string) (string, error) {
	return n.codec.EncryptName(name, nil)
}
