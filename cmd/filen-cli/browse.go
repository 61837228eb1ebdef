package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/CrispStrobe/filen-cli-go/internal/model"
)

var (
	flagLong      bool
	flagUUIDs     bool
	flagMaxDepth  int
	flagRecursive bool
)

var lsCmd = &cobra.Command{
	Use:   "ls [path]",
	Short: "List the contents of a remote folder",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return wrapErr(err)
		}
		path := remoteArg(args)
		folderID := s.resolver2Root()
		if path.String() != "/" {
			res, err := s.resolver.Resolve(cmd.Context(), path, true)
			if err != nil {
				return wrapErr(err)
			}
			folderID = res.Node.ID
		}
		children, err := s.resolver.List(cmd.Context(), folderID, path.String())
		if err != nil {
			return wrapErr(err)
		}
		for _, c := range children {
			printNode(c)
		}
		return nil
	},
}

var treeCmd = &cobra.Command{
	Use:   "tree [path]",
	Short: "Recursively list a remote folder up to --maxdepth",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return wrapErr(err)
		}
		path := remoteArg(args)
		root := s.resolver2Root()
		if path.String() != "/" {
			res, err := s.resolver.Resolve(cmd.Context(), path, true)
			if err != nil {
				return wrapErr(err)
			}
			root = res.Node.ID
		}
		return wrapErr(walkTree(cmd.Context(), s, root, path.String(), 0))
	},
}

var findCmd = &cobra.Command{
	Use:   "find <name-substring> [path]",
	Short: "Recursively search for nodes whose name contains the given substring",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return wrapErr(err)
		}
		needle := strings.ToLower(args[0])
		path := model.Path{}
		if len(args) == 2 {
			path = model.ParsePath(args[1])
		}
		root := s.resolver2Root()
		if path.String() != "/" && len(path.Segments()) > 0 {
			res, err := s.resolver.Resolve(cmd.Context(), path, true)
			if err != nil {
				return wrapErr(err)
			}
			root = res.Node.ID
		}
		return wrapErr(findUnder(cmd.Context(), s, root, path.String(), needle))
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <path>",
	Short: "Resolve a path to its backend identifier, failing on ambiguity",
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
		fmt.Println(res.Node.ID.String())
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{lsCmd, treeCmd} {
		c.Flags().BoolVarP(&flagLong, "long", "l", false, "show size and modification time")
	}
	for _, c := range []*cobra.Command{lsCmd, treeCmd, findCmd} {
		c.Flags().BoolVar(&flagUUIDs, "uuids", false, "show backend identifiers instead of relying on names alone")
	}
	treeCmd.Flags().IntVar(&flagMaxDepth, "maxdepth", -1, "maximum recursion depth (-1 = unlimited)")
}

// resolver2Root is a small accessor so browse.go doesn't need to know
// that the account root is the nil identifier (spec.md §3's "or null for
// root").
func (s *session) resolver2Root() model.Identifier {
	return model.NilIdentifier
}

func remoteArg(args []string) model.Path {
	if len(args) == 0 {
		return model.Path{}
	}
	return model.ParsePath(args[0])
}

func printNode(n model.Node) {
	kind := "file"
	if n.Kind == model.KindFolder {
		kind = "dir"
	}
	if flagLong {
		fmt.Printf("%-4s %12d %s  %s", kind, n.Size, n.ModifiedAt.Format("2006-01-02 15:04"), n.Name)
	} else {
		fmt.Print(n.Name)
	}
	if flagUUIDs {
		fmt.Printf("  %s", n.ID.String())
	}
	fmt.Println()
}

func walkTree(ctx context.Context, s *session, folderID model.Identifier, pathStr string, depth int) error {
	if flagMaxDepth >= 0 && depth > flagMaxDepth {
		return nil
	}
	children, err := s.resolver.List(ctx, folderID, pathStr)
	if err != nil {
		return err
	}
	for _, c := range children {
		if c.Trashed {
			continue
		}
		fmt.Print(strings.Repeat("  ", depth))
		printNode(c)
		if c.Kind == model.KindFolder {
			if err := walkTree(ctx, s, c.ID, pathStr+"/"+c.Name, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func findUnder(ctx context.Context, s *session, folderID model.Identifier, pathStr, needle string) error {
	children, err := s.resolver.List(ctx, folderID, pathStr)
	if err != nil {
		return err
	}
	for _, c := range children {
		if c.Trashed {
			continue
		}
		full := pathStr + "/" + c.Name
		if strings.Contains(strings.ToLower(c.Name), needle) {
			if flagUUIDs {
				fmt.Printf("%s  %s\n", full, c.ID.String())
			} else {
				fmt.Println(full)
			}
		}
		if c.Kind == model.KindFolder {
			if err := findUnder(ctx, s, c.ID, full, needle); err != nil {
				return err
			}
		}
	}
	return nil
}
