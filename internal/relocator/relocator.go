// Package relocator implements the Relocator/Installer (§4.11): extracts
// an XPA's payload into a target prefix and rewrites every recorded
// occurrence of the build-time install directory to the target prefix:
// length-preserving for binary and sub-binary entries, a plain replace
// (which may change the file length) for text entries.
//
// Grounded on the teacher's internal/install/install.go for the
// extract-then-fix-up shape (unpackDir extracts, then permission bits are
// restored with os.Chmod the way text_files rewriting here must restore
// the original mode after an ensure-writable step) and on
// golang.org/x/sys/unix for POSIX mode bit twiddling, mirroring the
// teacher's own unix.Flistxattr/unix.Setrlimit use elsewhere in the build
// pipeline.
package relocator

import (
	"bytes"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/xpkg/xpkg/internal/archive"
	"github.com/xpkg/xpkg/internal/xpkgerr"
)

// Install extracts xpa's payload into target and rewrites every recorded
// install-path occurrence from the build-time install_dir to target,
// per §4.11.
func Install(xpa *archive.XPA, target string) error {
	if err := xpa.ExtractTo(target); err != nil {
		return err
	}

	old := xpa.Manifest.InstallPathOffsets.InstallDir
	if old == "" {
		return nil // nothing recorded: package never embedded its own prefix
	}
	if len(target) > len(old) {
		return &xpkgerr.Relocation{Msg: "target prefix " + target + " longer than build prefix " + old}
	}

	table := xpa.Manifest.InstallPathOffsets
	for relpath, offs := range table.TextFiles {
		if err := rewriteText(filepath.Join(target, relpath), old, target, offs); err != nil {
			return err
		}
	}
	for relpath, offs := range table.BinaryFiles {
		if err := rewriteBinary(filepath.Join(target, relpath), old, target, offs); err != nil {
			return err
		}
	}
	for relpath, groups := range table.SubBinaryFiles {
		if err := rewriteSubBinary(filepath.Join(target, relpath), old, target, groups); err != nil {
			return err
		}
	}
	return nil
}

// withWritable ensures path is user-writable for the duration of fn,
// restoring the original mode afterward (§4.11 step 2).
func withWritable(path string, fn func() error) error {
	fi, err := os.Stat(path)
	if err != nil {
		return &xpkgerr.Io{Msg: "stat " + path, Err: err}
	}
	origPerm := uint32(fi.Mode().Perm())
	if origPerm&0200 == 0 {
		if err := unix.Chmod(path, origPerm|0200); err != nil {
			return &xpkgerr.Io{Msg: "chmod " + path, Err: err}
		}
		defer unix.Chmod(path, origPerm)
	}
	return fn()
}

func rewriteText(path, old, new string, offsets []int64) error {
	if len(offsets) == 0 {
		return nil
	}
	return withWritable(path, func() error {
		content, err := os.ReadFile(path)
		if err != nil {
			return &xpkgerr.Io{Msg: "reading " + path, Err: err}
		}
		rewritten := bytes.ReplaceAll(content, []byte(old), []byte(new))
		if err := os.WriteFile(path, rewritten, 0); err != nil {
			return &xpkgerr.Io{Msg: "writing " + path, Err: err}
		}
		return nil
	})
}

func rewriteBinary(path, old, new string, offsets []int64) error {
	if len(offsets) == 0 {
		return nil
	}
	oldTerm := append([]byte(old), 0)
	newPad := append([]byte(new), make([]byte, len(oldTerm)-len(new))...)

	return withWritable(path, func() error {
		fi, err := os.Stat(path)
		if err != nil {
			return &xpkgerr.Io{Msg: "stat " + path, Err: err}
		}
		origSize := fi.Size()

		content, err := os.ReadFile(path)
		if err != nil {
			return &xpkgerr.Io{Msg: "reading " + path, Err: err}
		}
		rewritten := bytes.ReplaceAll(content, oldTerm, newPad)
		if int64(len(rewritten)) != origSize {
			return &xpkgerr.Relocation{Msg: path + ": length changed during binary rewrite"}
		}
		if err := os.WriteFile(path, rewritten, 0); err != nil {
			return &xpkgerr.Io{Msg: "writing " + path, Err: err}
		}
		return nil
	})
}

func rewriteSubBinary(path, old, new string, groups [][]int64) error {
	if len(groups) == 0 {
		return nil
	}
	return withWritable(path, func() error {
		fi, err := os.Stat(path)
		if err != nil {
			return &xpkgerr.Io{Msg: "stat " + path, Err: err}
		}
		origSize := fi.Size()

		content, err := os.ReadFile(path)
		if err != nil {
			return &xpkgerr.Io{Msg: "reading " + path, Err: err}
		}

		for _, group := range groups {
			if len(group) < 2 {
				continue
			}
			o1 := group[0]
			nullOff := group[len(group)-1]
			if nullOff < o1 || nullOff > int64(len(content)) {
				return &xpkgerr.Relocation{Msg: path + ": invalid sub-binary group offsets"}
			}
			window := content[o1:nullOff]
			replaced := bytes.ReplaceAll(window, []byte(old), []byte(new))
			if len(replaced) > len(window) {
				return &xpkgerr.Relocation{Msg: path + ": sub-binary replacement overflows window"}
			}
			padded := append(replaced, make([]byte, len(window)-len(replaced))...)
			copy(content[o1:nullOff], padded)
		}

		if int64(len(content)) != origSize {
			return &xpkgerr.Relocation{Msg: path + ": length changed during sub-binary rewrite"}
		}
		if err := os.WriteFile(path, content, 0); err != nil {
			return &xpkgerr.Io{Msg: "writing " + path, Err: err}
		}
		return nil
	})
}
