package batch

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/CrispStrobe/filen-cli-go/internal/ferrors"
	"github.com/CrispStrobe/filen-cli-go/internal/model"
	"github.com/CrispStrobe/filen-cli-go/internal/resolver"
)

// LocalFile is one file discovered while walking an upload source.
type LocalFile struct {
	AbsPath string
	RelPath string // slash-separated, relative to the source root
}

// EnumerateLocal walks root (a file or a directory) and returns every
// regular file beneath it in spec.md §4.5 step 3's order: lexicographic
// per directory, with files listed before the subdirectories of that same
// directory are descended into. A flat sort over full relative paths
// would instead interleave by path spelling (e.g. visiting "a/nested.txt"
// before a sibling "z.txt", since 'a' < 'z'), so each directory level is
// walked and sorted independently.
func EnumerateLocal(root string, include, exclude []string) ([]LocalFile, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, ferrors.New(ferrors.IO, "batch.EnumerateLocal", err)
	}
	if !info.IsDir() {
		name := filepath.Base(root)
		if !MatchesFilters(name, include, exclude) {
			return nil, nil
		}
		return []LocalFile{{AbsPath: root, RelPath: name}}, nil
	}

	var files []LocalFile
	if err := walkLocalDir(root, "", include, exclude, &files); err != nil {
		return nil, ferrors.New(ferrors.IO, "batch.EnumerateLocal", err)
	}
	return files, nil
}

func walkLocalDir(dirPath, relPrefix string, include, exclude []string, out *[]LocalFile) error {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var subdirs []os.DirEntry
	for _, e := range entries {
		if e.IsDir() {
			subdirs = append(subdirs, e)
			continue
		}
		rel := relPrefix + e.Name()
		if !MatchesFilters(rel, include, exclude) {
			continue
		}
		*out = append(*out, LocalFile{AbsPath: filepath.Join(dirPath, e.Name()), RelPath: rel})
	}
	for _, d := range subdirs {
		if err := walkLocalDir(filepath.Join(dirPath, d.Name()), relPrefix+d.Name()+"/", include, exclude, out); err != nil {
			return err
		}
	}
	return nil
}

// RemoteFile is one file discovered while walking a download source.
type RemoteFile struct {
	Node    model.Node
	RelPath string // slash-separated, relative to the source root
}

// EnumerateRemote walks the resolved tree rooted at root, returning every
// file beneath it (root itself if it is already a file), in the cached
// directory listings' order normalized to a stable lexicographic sort.
func EnumerateRemote(ctx context.Context, r *resolver.Resolver, root model.Node, rootPath string, include, exclude []string) ([]RemoteFile, error) {
	if root.IsFile() {
		name := root.Name
		if !MatchesFilters(name, include, exclude) {
			return nil, nil
		}
		return []RemoteFile{{Node: root, RelPath: name}}, nil
	}

	var out []RemoteFile
	var walk func(folder model.Node, prefix, canonicalPath string) error
	walk = func(folder model.Node, prefix, canonicalPath string) error {
		children, err := r.List(ctx, folder.ID, canonicalPath)
		if err != nil {
			return err
		}
		// spec.md §4.5 step 3: lexicographic per directory, files before
		// the subdirectories of that same directory — sort the two groups
		// independently rather than merging them into one Name sort, or a
		// subdirectory whose name sorts earlier would be descended into
		// before a sibling file is ever listed.
		var sortedFiles, sortedDirs []model.Node
		for _, child := range children {
			if child.Trashed {
				continue
			}
			if child.IsFile() {
				sortedFiles = append(sortedFiles, child)
			} else {
				sortedDirs = append(sortedDirs, child)
			}
		}
		sort.Slice(sortedFiles, func(i, j int) bool { return sortedFiles[i].Name < sortedFiles[j].Name })
		sort.Slice(sortedDirs, func(i, j int) bool { return sortedDirs[i].Name < sortedDirs[j].Name })

		for _, child := range sortedFiles {
			rel := prefix + child.Name
			if MatchesFilters(rel, include, exclude) {
				out = append(out, RemoteFile{Node: child, RelPath: rel})
			}
		}
		for _, child := range sortedDirs {
			rel := prefix + child.Name
			childCanonical := canonicalPath + "/" + child.Name
			if err := walk(child, rel+"/", childCanonical); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(root, "", strings.TrimSuffix(rootPath, "/")); err != nil {
		return nil, err
	}
	return out, nil
}
