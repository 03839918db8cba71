package builder

import (
	"regexp"
	"strings"

	"github.com/xpkg/xpkg/internal/archive"
	"github.com/xpkg/xpkg/internal/recipe"
	"github.com/xpkg/xpkg/internal/xpkgerr"
)

// outputAssignment is one sub-output's resulting file/dir set and offset
// subset, ready to become an archive.Manifest.
type outputAssignment struct {
	Record recipe.OutputRecord
	Files  []string
	Dirs   []string
}

// assignOutputs implements §4.10 step 8: match each non-catch-all
// sub-output's Files regex list (full-match) against the remaining file
// set, assign matched files to it plus any of its declared Dirs (§3) and
// any directory that is a prefix of one of its matched files, and send
// everything left over to the catch-all — kept at its own topological
// position in records rather than forced last.
func assignOutputs(records []recipe.OutputRecord, files, dirs []string) ([]outputAssignment, error) {
	remainingFiles := make(map[string]bool, len(files))
	for _, f := range files {
		remainingFiles[f] = true
	}
	remainingDirs := make(map[string]bool, len(dirs))
	for _, d := range dirs {
		remainingDirs[d] = true
	}

	assignments := make([]outputAssignment, len(records))
	catchAllIdx := -1

	for i, rec := range records {
		if rec.CatchAll {
			catchAllIdx = i
			continue
		}
		patterns := make([]*regexp.Regexp, len(rec.Files))
		for j, p := range rec.Files {
			re, err := regexp.Compile("^(?:" + p + ")$")
			if err != nil {
				return nil, &xpkgerr.BadRecipe{Msg: "sub-output " + rec.Name + ": invalid files regex " + p, Err: err}
			}
			patterns[j] = re
		}

		var matched []string
		for f := range remainingFiles {
			if matchesAny(patterns, f) {
				matched = append(matched, f)
				delete(remainingFiles, f)
			}
		}

		assignments[i] = outputAssignment{Record: rec, Files: matched, Dirs: claimDirs(rec.Dirs, matched, remainingDirs)}
	}

	if catchAllIdx == -1 {
		return nil, &xpkgerr.BadRecipe{Msg: "no catch-all sub-output to receive remaining files"}
	}
	catchAll := records[catchAllIdx]
	leftoverDirs := claimDirs(catchAll.Dirs, nil, remainingDirs)
	for d := range remainingDirs {
		leftoverDirs = append(leftoverDirs, d)
	}
	var leftoverFiles []string
	for f := range remainingFiles {
		leftoverFiles = append(leftoverFiles, f)
	}
	assignments[catchAllIdx] = outputAssignment{Record: catchAll, Files: leftoverFiles, Dirs: leftoverDirs}

	return assignments, nil
}

// claimDirs removes a sub-output's explicitly declared dirs (§3) and any
// remaining directory that is a prefix of one of its matched files from
// remainingDirs, returning everything it now owns.
func claimDirs(declared []string, matched []string, remainingDirs map[string]bool) []string {
	var owned []string
	for _, d := range declared {
		if remainingDirs[d] {
			owned = append(owned, d)
			delete(remainingDirs, d)
		}
	}
	for d := range remainingDirs {
		for _, f := range matched {
			if strings.HasPrefix(f, d+"/") {
				owned = append(owned, d)
				delete(remainingDirs, d)
				break
			}
		}
	}
	return owned
}

func matchesAny(patterns []*regexp.Regexp, s string) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// subsetOffsets restricts a full offset table to only the entries whose
// relpath is in files (§4.10 step 8: "each output's offset table contains
// only those entries whose relpath falls in its file set").
func subsetOffsets(full archive.OffsetTable, files []string) archive.OffsetTable {
	set := make(map[string]bool, len(files))
	for _, f := range files {
		set[f] = true
	}
	out := archive.OffsetTable{InstallDir: full.InstallDir}
	for relpath, offs := range full.TextFiles {
		if set[relpath] {
			if out.TextFiles == nil {
				out.TextFiles = make(map[string][]int64)
			}
			out.TextFiles[relpath] = offs
		}
	}
	for relpath, offs := range full.BinaryFiles {
		if set[relpath] {
			if out.BinaryFiles == nil {
				out.BinaryFiles = make(map[string][]int64)
			}
			out.BinaryFiles[relpath] = offs
		}
	}
	for relpath, groups := range full.SubBinaryFiles {
		if set[relpath] {
			if out.SubBinaryFiles == nil {
				out.SubBinaryFiles = make(map[string][][]int64)
			}
			out.SubBinaryFiles[relpath] = groups
		}
	}
	return out
}
