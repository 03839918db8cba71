package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"

	"github.com/xpkg/xpkg/internal/xpkgerr"
)

const (
	manifestMember = "xpkg.yml"
	payloadMember  = "files.tar.gz"
)

// XPA is a handle on an opened archive: the manifest has been read eagerly;
// the file payload is streamed on demand via ExtractTo (§4.4).
type XPA struct {
	Path     string
	Manifest Manifest
}

// Open reads only the manifest member of the archive at path, per §4.4: the
// payload is left on disk to be streamed later.
func Open(path string) (*XPA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &xpkgerr.Io{Msg: "opening archive " + path, Err: err}
	}
	defer f.Close()

	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &xpkgerr.BadRecipe{Msg: "reading archive " + path, Err: err}
		}
		if hdr.Name != manifestMember {
			continue
		}
		b, err := io.ReadAll(tr)
		if err != nil {
			return nil, &xpkgerr.Io{Msg: "reading manifest", Err: err}
		}
		manifest, err := unmarshalManifest(b)
		if err != nil {
			return nil, &xpkgerr.BadRecipe{Msg: "parsing manifest of " + path, Err: err}
		}
		return &XPA{Path: path, Manifest: manifest}, nil
	}
	return nil, &xpkgerr.BadRecipe{Msg: path + ": missing " + manifestMember}
}

// ExtractTo streams the inner files.tar.gz payload into destDir, preserving
// file modes and symlinks. It does not consult or validate the manifest;
// callers that need the offset table should read it from a.Manifest.
func (a *XPA) ExtractTo(destDir string) error {
	f, err := os.Open(a.Path)
	if err != nil {
		return &xpkgerr.Io{Msg: "opening archive " + a.Path, Err: err}
	}
	defer f.Close()

	outer := tar.NewReader(f)
	for {
		hdr, err := outer.Next()
		if err == io.EOF {
			return &xpkgerr.BadRecipe{Msg: a.Path + ": missing " + payloadMember}
		}
		if err != nil {
			return &xpkgerr.Io{Msg: "reading outer archive", Err: err}
		}
		if hdr.Name != payloadMember {
			continue
		}
		return extractInner(outer, destDir)
	}
}

func extractInner(r io.Reader, destDir string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return &xpkgerr.BadRecipe{Msg: "opening inner payload gzip stream", Err: err}
	}
	defer gz.Close()

	inner := tar.NewReader(gz)
	for {
		hdr, err := inner.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &xpkgerr.Io{Msg: "reading inner payload", Err: err}
		}
		dest := filepath.Join(destDir, hdr.Name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, os.FileMode(hdr.Mode)); err != nil {
				return &xpkgerr.Io{Msg: "creating directory " + dest, Err: err}
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
				return &xpkgerr.Io{Msg: "creating parent of " + dest, Err: err}
			}
			os.Remove(dest)
			if err := os.Symlink(hdr.Linkname, dest); err != nil {
				return &xpkgerr.Io{Msg: "symlinking " + dest, Err: err}
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
				return &xpkgerr.Io{Msg: "creating parent of " + dest, Err: err}
			}
			out, err := os.OpenFile(dest, os.O_RDWR|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return &xpkgerr.Io{Msg: "creating " + dest, Err: err}
			}
			if _, err := io.Copy(out, inner); err != nil {
				out.Close()
				return &xpkgerr.Io{Msg: "writing " + dest, Err: err}
			}
			if err := out.Close(); err != nil {
				return &xpkgerr.Io{Msg: "closing " + dest, Err: err}
			}
		default:
			// links, devices, fifos: not expected in a relocatable package
			// payload; skip rather than fail the whole install.
		}
	}
}

// FileEntry is one file to be packaged by Write, supplied by the caller in
// place of an os.DirEntry walk so that the Package Builder can hand in
// exactly the new-file set it computed (§4.10 step 6).
type FileEntry struct {
	// RelPath is the path relative to the install prefix.
	RelPath string
	// AbsPath is the file's current location on disk.
	AbsPath string
	// LinkTarget is set for symlinks; AbsPath is ignored in that case.
	LinkTarget string
}

// Write composes path as an XPA: an uncompressed outer tar containing
// xpkg.yml followed by a gzip-compressed inner tar of files, each member
// path relative to the install prefix (§4.4, §6).
func Write(path string, manifest Manifest, files []FileEntry) (err error) {
	tmpPath := path + ".tmp"
	out, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return &xpkgerr.Io{Msg: "creating archive " + tmpPath, Err: err}
	}
	defer func() {
		out.Close()
		if err != nil {
			os.Remove(tmpPath)
		}
	}()

	outerTw := tar.NewWriter(out)

	manifestBytes, merr := marshalManifest(manifest)
	if merr != nil {
		return &xpkgerr.BadRecipe{Msg: "marshaling manifest", Err: merr}
	}
	if err := outerTw.WriteHeader(&tar.Header{
		Name: manifestMember,
		Mode: 0644,
		Size: int64(len(manifestBytes)),
	}); err != nil {
		return &xpkgerr.Io{Msg: "writing manifest header", Err: err}
	}
	if _, err := outerTw.Write(manifestBytes); err != nil {
		return &xpkgerr.Io{Msg: "writing manifest", Err: err}
	}

	payload, err := buildPayload(files)
	if err != nil {
		return err
	}
	if err := outerTw.WriteHeader(&tar.Header{
		Name: payloadMember,
		Mode: 0644,
		Size: int64(len(payload)),
	}); err != nil {
		return &xpkgerr.Io{Msg: "writing payload header", Err: err}
	}
	if _, err := outerTw.Write(payload); err != nil {
		return &xpkgerr.Io{Msg: "writing payload", Err: err}
	}
	if err := outerTw.Close(); err != nil {
		return &xpkgerr.Io{Msg: "closing outer archive", Err: err}
	}
	if err := out.Close(); err != nil {
		return &xpkgerr.Io{Msg: "closing archive file", Err: err}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return &xpkgerr.Io{Msg: "renaming archive into place", Err: err}
	}
	return nil
}

func buildPayload(files []FileEntry) ([]byte, error) {
	var buf countingBuffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for _, f := range files {
		if f.LinkTarget != "" {
			if err := tw.WriteHeader(&tar.Header{
				Name:     f.RelPath,
				Typeflag: tar.TypeSymlink,
				Linkname: f.LinkTarget,
				Mode:     0777,
			}); err != nil {
				return nil, &xpkgerr.Io{Msg: "writing symlink header for " + f.RelPath, Err: err}
			}
			continue
		}

		fi, err := os.Lstat(f.AbsPath)
		if err != nil {
			return nil, &xpkgerr.Io{Msg: "stat " + f.AbsPath, Err: err}
		}
		if fi.IsDir() {
			if err := tw.WriteHeader(&tar.Header{
				Name:     f.RelPath + "/",
				Typeflag: tar.TypeDir,
				Mode:     int64(fi.Mode().Perm()),
			}); err != nil {
				return nil, &xpkgerr.Io{Msg: "writing dir header for " + f.RelPath, Err: err}
			}
			continue
		}

		in, err := os.Open(f.AbsPath)
		if err != nil {
			return nil, &xpkgerr.Io{Msg: "opening " + f.AbsPath, Err: err}
		}
		if err := tw.WriteHeader(&tar.Header{
			Name:     f.RelPath,
			Typeflag: tar.TypeReg,
			Mode:     int64(fi.Mode().Perm()),
			Size:     fi.Size(),
		}); err != nil {
			in.Close()
			return nil, &xpkgerr.Io{Msg: "writing header for " + f.RelPath, Err: err}
		}
		if _, err := io.Copy(tw, in); err != nil {
			in.Close()
			return nil, &xpkgerr.Io{Msg: "copying " + f.AbsPath, Err: err}
		}
		in.Close()
	}

	if err := tw.Close(); err != nil {
		return nil, &xpkgerr.Io{Msg: "closing inner tar", Err: err}
	}
	if err := gz.Close(); err != nil {
		return nil, &xpkgerr.Io{Msg: "closing inner gzip", Err: err}
	}
	return buf.Bytes(), nil
}

// countingBuffer is a minimal io.Writer sink; kept distinct from
// bytes.Buffer only to make the payload-building call site read as
// intentionally in-memory (small relocatable packages, not multi-GB blobs).
type countingBuffer struct {
	b []byte
}

func (c *countingBuffer) Write(p []byte) (int, error) {
	c.b = append(c.b, p...)
	return len(p), nil
}

func (c *countingBuffer) Bytes() []byte { return c.b }

// ValidateManifest checks that every file and every dir listed in m exists
// under root. It does not check that each listed dir is an ancestor of a
// listed file.
func ValidateManifest(m Manifest, root string) error {
	fileSet := make(map[string]bool, len(m.Files))
	for _, f := range m.Files {
		fileSet[f] = true
		if _, err := os.Stat(filepath.Join(root, f)); err != nil {
			return &xpkgerr.Integrity{Msg: fmt.Sprintf("manifest lists file %q missing from payload", f), Err: err}
		}
	}
	for _, d := range m.Dirs {
		if _, err := os.Stat(filepath.Join(root, d)); err != nil {
			return &xpkgerr.Integrity{Msg: fmt.Sprintf("manifest lists dir %q missing from payload", d), Err: err}
		}
	}
	return nil
}
