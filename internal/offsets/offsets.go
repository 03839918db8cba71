// Package offsets implements the Path-Offset Finder (§4.9): scans every
// file of a just-built install prefix for occurrences of the build-time
// install directory, classifying each occurrence as a text, binary, or
// sub-binary (shared-terminator) entry so the Relocator can later rewrite
// them in place.
//
// Grounded on the teacher's use of golang.org/x/exp/mmap in
// internal/install/install.go (mmap.Open to read built files) and the
// byte-scanning idiom of internal/build/shlibdeps.go
// (scan file content for markers without an intermediate line-oriented
// parse).
package offsets

import (
	"bytes"
	"os"
	"path/filepath"

	"golang.org/x/exp/mmap"

	"github.com/xpkg/xpkg/internal/archive"
	"github.com/xpkg/xpkg/internal/xpkgerr"
)

// RecompileExtensions lists file extensions whose occurrences are recorded
// as recompile-on-install rather than byte-patched (§4.9, §13): compiled
// bytecode is rebuilt at install time instead of relocated in place.
var RecompileExtensions = map[string]bool{
	".pyc": true,
	".pyo": true,
}

// Find scans every file under root (paths relative to root, as relpath)
// for occurrences of installDir, producing the archive.OffsetTable and the
// recompile-on-install subset (§4.9).
//
// files deduplicates by inode before scanning (hard-link aware): pass the
// result of DedupByInode if the caller has not already deduplicated.
func Find(root, installDir string, files []string) (archive.OffsetTable, []string, error) {
	table := archive.OffsetTable{InstallDir: installDir}
	var recompile []string

	needle := []byte(installDir)
	for _, relpath := range files {
		ext := filepath.Ext(relpath)
		abs := filepath.Join(root, relpath)

		if RecompileExtensions[ext] {
			content, err := os.ReadFile(abs)
			if err != nil {
				return table, nil, &xpkgerr.Io{Msg: "reading " + abs, Err: err}
			}
			if bytes.Contains(content, needle) {
				recompile = append(recompile, relpath)
			}
			continue
		}

		occurrences, nulCount, err := scan(abs, needle)
		if err != nil {
			return table, nil, err
		}
		if len(occurrences) == 0 {
			continue
		}

		if nulCount == 0 {
			if table.TextFiles == nil {
				table.TextFiles = make(map[string][]int64)
			}
			table.TextFiles[relpath] = occurrences
			continue
		}

		binEntries, subGroups, err := classifyBinary(abs, needle, occurrences)
		if err != nil {
			return table, nil, err
		}
		if len(binEntries) > 0 {
			if table.BinaryFiles == nil {
				table.BinaryFiles = make(map[string][]int64)
			}
			table.BinaryFiles[relpath] = binEntries
		}
		if len(subGroups) > 0 {
			if table.SubBinaryFiles == nil {
				table.SubBinaryFiles = make(map[string][][]int64)
			}
			table.SubBinaryFiles[relpath] = subGroups
		}
	}
	return table, recompile, nil
}

// scan opens path via mmap, copies its whole content into a byte slice, and
// returns every offset where needle occurs, plus the total NUL byte count.
func scan(path string, needle []byte) ([]int64, int, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, 0, &xpkgerr.Io{Msg: "mmap " + path, Err: err}
	}
	defer r.Close()

	content := make([]byte, r.Len())
	if _, err := r.ReadAt(content, 0); err != nil {
		return nil, 0, &xpkgerr.Io{Msg: "reading " + path, Err: err}
	}

	var offsets []int64
	for i := 0; ; {
		idx := bytes.Index(content[i:], needle)
		if idx < 0 {
			break
		}
		offsets = append(offsets, int64(i+idx))
		i += idx + 1
	}
	if len(offsets) == 0 {
		return nil, 0, nil
	}
	return offsets, bytes.Count(content, []byte{0}), nil
}

// classifyBinary re-reads content (offsets came from scan) to determine,
// for each occurrence, whether it terminates exactly at the install dir's
// length (an exact binary entry) or is a prefix of a longer C string
// (grouped into a sub-binary entry sharing that string's NUL terminator),
// per §4.9's classification rule.
func classifyBinary(path string, needle []byte, occurrences []int64) ([]int64, [][]int64, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, nil, &xpkgerr.Io{Msg: "mmap " + path, Err: err}
	}
	defer r.Close()
	content := make([]byte, r.Len())
	if _, err := r.ReadAt(content, 0); err != nil {
		return nil, nil, &xpkgerr.Io{Msg: "reading " + path, Err: err}
	}

	var binEntries []int64
	groups := make(map[int64][]int64) // null_off -> occurrences sharing it
	var groupOrder []int64

	for _, o := range occurrences {
		searchFrom := o + int64(len(needle))
		nullOff := nextNUL(content, searchFrom)
		if nullOff < 0 {
			// No terminating NUL at all: not a valid C string occurrence;
			// the spec does not define this case explicitly, so it is
			// treated like an exact binary entry (best-effort, matches
			// "occurrence of install_dir" literally).
			binEntries = append(binEntries, o)
			continue
		}
		if nullOff == searchFrom {
			binEntries = append(binEntries, o)
			continue
		}
		if _, ok := groups[nullOff]; !ok {
			groupOrder = append(groupOrder, nullOff)
		}
		groups[nullOff] = append(groups[nullOff], o)
	}

	var subGroups [][]int64
	for _, nullOff := range groupOrder {
		group := append([]int64{}, groups[nullOff]...)
		group = append(group, nullOff)
		subGroups = append(subGroups, group)
	}
	return binEntries, subGroups, nil
}

func nextNUL(content []byte, from int64) int64 {
	if from < 0 || from > int64(len(content)) {
		return -1
	}
	idx := bytes.IndexByte(content[from:], 0)
	if idx < 0 {
		return -1
	}
	return from + int64(idx)
}

// DedupByInode filters files down to one relpath per unique (dev, inode)
// pair rooted at root, so hard-linked files are only scanned once (§4.9).
func DedupByInode(root string, files []string) ([]string, error) {
	seen := make(map[inodeKey]bool)
	var out []string
	for _, relpath := range files {
		fi, err := os.Lstat(filepath.Join(root, relpath))
		if err != nil {
			return nil, &xpkgerr.Io{Msg: "stat " + relpath, Err: err}
		}
		if !fi.Mode().IsRegular() {
			out = append(out, relpath)
			continue
		}
		key, ok := inodeOf(fi)
		if !ok {
			out = append(out, relpath)
			continue
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, relpath)
	}
	return out, nil
}
