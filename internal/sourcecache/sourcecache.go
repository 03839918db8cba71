// Package sourcecache implements the content-addressed source cache (§4.2):
// fetched source files are named "<algo>-<hex>" under a process-wide cache
// root and re-verified against that hash on every use. Grounded on the
// teacher's internal/repo.Reader for HTTP fetch idiom and on
// github.com/google/renameio for the rename-into-place discipline its
// internal/install package uses for the hook-install path.
package sourcecache

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio"
	"golang.org/x/xerrors"

	"github.com/xpkg/xpkg/internal/xpkgerr"
)

// Cache is a content-addressed store of fetched sources.
type Cache struct {
	// Root is the directory under which source files are stored, named
	// "<algo>-<hex>".
	Root string

	// Client is used for http(s):// fetches. Defaults to http.DefaultClient.
	Client *http.Client
}

// DefaultRoot returns the default cache root, "~/.xpkg/cache", overridable
// via the "local-cache" environment variable (§6).
func DefaultRoot() string {
	if root := os.Getenv("local-cache"); root != "" {
		return root
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".xpkg", "cache")
}

// New returns a Cache rooted at root. If root is empty, DefaultRoot() is
// used.
func New(root string) *Cache {
	if root == "" {
		root = DefaultRoot()
	}
	return &Cache{Root: root, Client: http.DefaultClient}
}

func newHash(algo string) (hash.Hash, error) {
	switch algo {
	case "md5":
		return md5.New(), nil
	case "sha1":
		return sha1.New(), nil
	case "sha224":
		return sha256.New224(), nil
	case "sha256":
		return sha256.New(), nil
	case "sha384":
		return sha512.New384(), nil
	case "sha512":
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", algo)
	}
}

// ParseHashSpec splits "<algo>-<hex>" into its components. hex may be empty
// (§4.2: "if hex is empty, download first, then hash").
func ParseHashSpec(spec string) (algo, hexDigest string, err error) {
	idx := strings.IndexByte(spec, '-')
	if idx < 0 {
		return "", "", fmt.Errorf("malformed hash spec %q: missing '-'", spec)
	}
	algo = spec[:idx]
	hexDigest = spec[idx+1:]
	if _, err := newHash(algo); err != nil {
		return "", "", err
	}
	return algo, hexDigest, nil
}

func (c *Cache) path(algo, hexDigest string) string {
	return filepath.Join(c.Root, algo+"-"+hexDigest)
}

// Fetch resolves hashSpec ("<algo>-<hex>") by either returning the cached
// path (after re-verifying its hash) or downloading from url, verifying the
// download, and renaming it into place.
func (c *Cache) Fetch(hashSpec, url string) (string, error) {
	algo, hexDigest, err := ParseHashSpec(hashSpec)
	if err != nil {
		return "", &xpkgerr.BadRecipe{Msg: "source cache", Err: err}
	}

	if hexDigest != "" {
		p := c.path(algo, hexDigest)
		if ok, verr := c.verify(p, algo, hexDigest); verr == nil && ok {
			return p, nil
		}
		// Either missing or mismatched: re-download below.
	}

	if err := os.MkdirAll(c.Root, 0755); err != nil {
		return "", &xpkgerr.Io{Msg: "creating cache root", Err: err}
	}

	if hexDigest != "" {
		// The final name is already known: download straight into place with
		// renameio's rename-into-place discipline.
		final := c.path(algo, hexDigest)
		gotDigest, err := c.download(url, algo, final)
		if err != nil {
			return "", err
		}
		if gotDigest != hexDigest {
			os.Remove(final)
			return "", &xpkgerr.Integrity{Msg: fmt.Sprintf("%s: expected %s, got %s", url, hexDigest, gotDigest)}
		}
		return final, nil
	}

	// Unknown hash: download to a scratch name first, then rename into place
	// once the digest is known (§4.2: "if hex is empty, download first, then
	// hash, then rename to <algo>-<computed>").
	scratch := filepath.Join(c.Root, fmt.Sprintf(".download-%d", os.Getpid()))
	gotDigest, err := c.download(url, algo, scratch)
	if err != nil {
		return "", err
	}
	final := c.path(algo, gotDigest)
	if err := os.Rename(scratch, final); err != nil {
		return "", &xpkgerr.Io{Msg: "renaming into place", Err: err}
	}
	return final, nil
}

// verify recomputes the hash of the file at path and compares it against
// hexDigest.
func (c *Cache) verify(path, algo, hexDigest string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, &xpkgerr.Io{Msg: "opening cached source", Err: err}
	}
	defer f.Close()

	h, err := newHash(algo)
	if err != nil {
		return false, err
	}
	if _, err := io.Copy(h, f); err != nil {
		return false, &xpkgerr.Io{Msg: "hashing cached source", Err: err}
	}
	want, err := hex.DecodeString(hexDigest)
	if err != nil {
		return false, &xpkgerr.BadRecipe{Msg: "malformed hex digest", Err: err}
	}
	return hmac.Equal(h.Sum(nil), want), nil
}

// download fetches url (http(s):// or a local path) to dest using
// renameio's rename-into-place discipline, retrying once on transient
// network failure per §7, and returns the hex digest of the content
// written.
func (c *Cache) download(url, algo, dest string) (digest string, err error) {
	tmp, err := renameio.TempFile(c.Root, dest)
	if err != nil {
		return "", &xpkgerr.Io{Msg: "creating temp file", Err: err}
	}
	defer tmp.Cleanup()

	h, herr := newHash(algo)
	if herr != nil {
		return "", herr
	}

	fetchOnce := func() error {
		rc, ferr := c.open(url)
		if ferr != nil {
			return ferr
		}
		defer rc.Close()
		h.Reset()
		if werr := tmp.Truncate(0); werr != nil {
			return werr
		}
		if _, werr := tmp.Seek(0, io.SeekStart); werr != nil {
			return werr
		}
		if _, werr := io.Copy(io.MultiWriter(tmp, h), rc); werr != nil {
			return werr
		}
		return nil
	}

	if err := fetchOnce(); err != nil {
		// Transient network failures get one retry before surfacing as Io
		// (§7 propagation policy).
		time.Sleep(200 * time.Millisecond)
		if err2 := fetchOnce(); err2 != nil {
			return "", &xpkgerr.Io{Msg: fmt.Sprintf("fetching %s", url), Err: err2}
		}
	}

	if err := tmp.CloseAtomicallyReplace(); err != nil {
		return "", &xpkgerr.Io{Msg: "closing temp file", Err: err}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (c *Cache) open(url string) (io.ReadCloser, error) {
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		resp, err := c.Client.Get(url)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, xerrors.Errorf("%s: HTTP status %v", url, resp.Status)
		}
		return resp.Body, nil
	}
	if strings.HasPrefix(url, "file://") {
		url = strings.TrimPrefix(url, "file://")
	}
	return os.Open(url)
}
