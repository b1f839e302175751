package provision

import (
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
)

// FindByName walks root depth-first and returns the first regular file whose
// base name is in names. Unreadable directories are skipped.
func FindByName(root string, names []string) (string, bool) {
	stack := []string{root}
	for len(stack) > 0 {
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		var subdirs []string
		for _, e := range entries {
			p := filepath.Join(dir, e.Name())
			if e.IsDir() {
				subdirs = append(subdirs, p)
				continue
			}
			if e.Type().IsRegular() && slices.Contains(names, e.Name()) {
				return p, true
			}
		}
		// Push in reverse so the lexically first subdirectory is visited next.
		for i := len(subdirs) - 1; i >= 0; i-- {
			stack = append(stack, subdirs[i])
		}
	}
	return "", false
}

// listTree returns every path below root relative to root, sorted, one per
// line. It is used to explain a failed executable search.
func listTree(root string) string {
	var paths []string
	_ = filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil || p == root {
			return nil
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			rel = p
		}
		if d.IsDir() {
			rel += string(filepath.Separator)
		}
		paths = append(paths, rel)
		return nil
	})
	if len(paths) == 0 {
		return "(empty)"
	}
	sort.Strings(paths)
	return strings.Join(paths, "\n")
}
