package builder

import (
	"os"
	"path/filepath"
)

// tree is the set of relative paths (files and directories) under root, as
// produced by walk. Used to diff the working prefix before and after the
// install phase (§4.10 step 6).
type tree struct {
	files map[string]bool
	dirs  map[string]bool
}

func walk(root string) (tree, error) {
	t := tree{files: make(map[string]bool), dirs: make(map[string]bool)}
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if info.IsDir() {
			t.dirs[rel] = true
		} else {
			t.files[rel] = true
		}
		return nil
	})
	return t, err
}

// diff returns the files and dirs present in after but not in before.
func diff(before, after tree) (newFiles, newDirs []string) {
	for f := range after.files {
		if !before.files[f] {
			newFiles = append(newFiles, f)
		}
	}
	for d := range after.dirs {
		if !before.dirs[d] {
			newDirs = append(newDirs, d)
		}
	}
	return newFiles, newDirs
}
