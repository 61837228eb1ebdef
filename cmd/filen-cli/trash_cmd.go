package main

import (
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/CrispStrobe/filen-cli-go/internal/backend"
	"github.com/CrispStrobe/filen-cli-go/internal/cliutil"
	"github.com/CrispStrobe/filen-cli-go/internal/model"
)

var trashCmd = &cobra.Command{
	Use:   "trash <path>",
	Short: "Move a remote node to the trash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return wrapErr(err)
		}
		res, err := s.resolver.Resolve(cmd.Context(), model.ParsePath(args[0]), true)
		if err != nil {
			return wrapErr(err)
		}
		if err := s.client.Trash(cmd.Context(), res.Node.ID); err != nil {
			return wrapErr(err)
		}
		s.resolver.Invalidate(res.Node.ParentID, "")
		cliutil.Success("trashed %s", args[0])
		return nil
	},
}

var deletePathCmd = &cobra.Command{
	Use:   "delete-path <path>",
	Short: "Permanently delete a remote node (irreversible, bypasses the trash)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return wrapErr(err)
		}
		res, err := s.resolver.Resolve(cmd.Context(), model.ParsePath(args[0]), true)
		if err != nil {
			return wrapErr(err)
		}
		if err := s.client.Delete(cmd.Context(), res.Node.ID); err != nil {
			return wrapErr(err)
		}
		s.resolver.Invalidate(res.Node.ParentID, "")
		cliutil.Success("deleted %s", args[0])
		return nil
	},
}

var listTrashCmd = &cobra.Command{
	Use:   "list-trash",
	Short: "List items currently in the trash",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return wrapErr(err)
		}
		raw, err := s.client.ListTrash(cmd.Context())
		if err != nil {
			return wrapErr(err)
		}
		for _, rn := range raw {
			name, err := decryptTrashedName(s, rn)
			if err != nil {
				cliutil.Warn("%s: %v", rn.UUID, err)
				continue
			}
			fmt.Printf("%s  %s\n", rn.UUID, name)
		}
		return nil
	},
}

var restoreUUIDCmd = &cobra.Command{
	Use:   "restore-uuid <uuid>",
	Short: "Restore a trashed node by its backend identifier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return wrapErr(err)
		}
		id, err := uuid.Parse(args[0])
		if err != nil {
			return usageErr("%q is not a valid uuid", args[0])
		}
		if err := s.client.Restore(cmd.Context(), id); err != nil {
			return wrapErr(err)
		}
		cliutil.Success("restored %s", args[0])
		return nil
	},
}

// restorePathCmd restores a trashed node by its plaintext name. Unlike the
// live tree, the trash has no parent-relative path to resolve against
// (list-trash returns a flat set of nodes), so the match is by basename
// against the decrypted name of every currently trashed node, applying the
// same ambiguity rule resolve uses for the live tree.
var restorePathCmd = &cobra.Command{
	Use:   "restore-path <name>",
	Short: "Restore a trashed node by matching its name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return wrapErr(err)
		}
		target := path.Base(strings.TrimRight(args[0], "/"))

		raw, err := s.client.ListTrash(cmd.Context())
		if err != nil {
			return wrapErr(err)
		}
		var matches []uuid.UUID
		for _, rn := range raw {
			name, err := decryptTrashedName(s, rn)
			if err != nil {
				continue
			}
			if name == target {
				matches = append(matches, rn.UUID)
			}
		}
		switch len(matches) {
		case 0:
			return usageErr("no trashed item named %q", target)
		case 1:
			if err := s.client.Restore(cmd.Context(), matches[0]); err != nil {
				return wrapErr(err)
			}
			cliutil.Success("restored %s (%s)", target, matches[0])
			return nil
		default:
			return usageErr("%d trashed items named %q; use restore-uuid with one of their identifiers", len(matches), target)
		}
	},
}

func decryptTrashedName(s *session, rn backend.RawNode) (string, error) {
	return s.orch.Codec.DecryptName(rn.NameEnvelope, nil)
}
