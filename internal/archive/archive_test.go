package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestWriteOpenExtractRoundTrip(t *testing.T) {
	dir := t.TempDir()

	binPath := filepath.Join(dir, "hello")
	if err := os.WriteFile(binPath, []byte("#!/bin/sh\necho hello\n"), 0755); err != nil {
		t.Fatal(err)
	}

	manifest := Manifest{
		Name:    "hello",
		Version: "1.0.0",
		Dirs:    []string{"bin"},
		Files:   []string{"bin/hello"},
		InstallPathOffsets: OffsetTable{
			InstallDir: "/ro/hello-1.0.0",
		},
	}
	files := []FileEntry{
		{RelPath: "bin", AbsPath: filepath.Join(dir, "bindir")},
		{RelPath: "bin/hello", AbsPath: binPath},
		{RelPath: "bin/hello-link", LinkTarget: "hello"},
	}
	// bin directory entry needs to exist on disk for os.Lstat in buildPayload.
	if err := os.Mkdir(filepath.Join(dir, "bindir"), 0755); err != nil {
		t.Fatal(err)
	}

	archivePath := filepath.Join(dir, "hello_1.0.0_amd64_dynamic_linux.xpa")
	if err := Write(archivePath, manifest, files); err != nil {
		t.Fatalf("Write() = %v", err)
	}

	xpa, err := Open(archivePath)
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}
	if diff := cmp.Diff(manifest, xpa.Manifest); diff != "" {
		t.Errorf("manifest mismatch (-want +got):\n%s", diff)
	}

	destDir := t.TempDir()
	if err := xpa.ExtractTo(destDir); err != nil {
		t.Fatalf("ExtractTo() = %v", err)
	}
	got, err := os.ReadFile(filepath.Join(destDir, "bin", "hello"))
	if err != nil {
		t.Fatalf("reading extracted file: %v", err)
	}
	if string(got) != "#!/bin/sh\necho hello\n" {
		t.Errorf("extracted content mismatch: %q", got)
	}
	link, err := os.Readlink(filepath.Join(destDir, "bin", "hello-link"))
	if err != nil {
		t.Fatalf("reading extracted symlink: %v", err)
	}
	if link != "hello" {
		t.Errorf("symlink target = %q, want hello", link)
	}

	if err := ValidateManifest(manifest, destDir); err != nil {
		t.Errorf("ValidateManifest() = %v", err)
	}
}

func TestWriteEmptyPackage(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "empty.xpa")
	if err := Write(archivePath, Manifest{Name: "x", Version: "1"}, nil); err != nil {
		t.Fatal(err)
	}
	xpa, err := Open(archivePath)
	if err != nil {
		t.Fatalf("Open() of empty-payload archive = %v", err)
	}
	if xpa.Manifest.Name != "x" {
		t.Errorf("got name %q, want x", xpa.Manifest.Name)
	}
}

func TestOpenNonexistent(t *testing.T) {
	if _, err := Open("/nonexistent/path.xpa"); err == nil {
		t.Fatal("expected error opening nonexistent archive")
	}
}
