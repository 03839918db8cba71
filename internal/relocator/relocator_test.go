package relocator

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/xpkg/xpkg/internal/archive"
)

func TestInstallTextRewrite(t *testing.T) {
	target := filepath.Join(t.TempDir(), "ro", "hello")
	old := target + "-1.0.0"
	new := target
	dir := t.TempDir()
	manifest := archive.Manifest{
		Name:    "hello",
		Version: "1.0.0",
		Files:   []string{"bin/hello"},
		InstallPathOffsets: archive.OffsetTable{
			InstallDir: old,
			TextFiles:  map[string][]int64{"bin/hello": {15}},
		},
	}
	content := "#!/bin/sh\nexec " + old + "/bin/hello-real\n"
	archivePath := filepath.Join(dir, "hello.xpa")
	if err := archive.Write(archivePath, manifest, []archive.FileEntry{
		{RelPath: "bin", AbsPath: mustMkdir(t, dir, "bin")},
		{RelPath: "bin/hello", AbsPath: mustWrite(t, dir, "hello", content)},
	}); err != nil {
		t.Fatal(err)
	}

	xpa, err := archive.Open(archivePath)
	if err != nil {
		t.Fatal(err)
	}

	if err := Install(xpa, target); err != nil {
		t.Fatalf("Install() = %v", err)
	}

	got, err := os.ReadFile(filepath.Join(target, "bin", "hello"))
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(got, []byte(old)) {
		t.Errorf("rewritten content still contains old prefix: %q", got)
	}
	if !bytes.Contains(got, []byte(new)) {
		t.Errorf("rewritten content missing new prefix: %q", got)
	}
}

func TestInstallBinaryExactRewrite(t *testing.T) {
	target := filepath.Join(t.TempDir(), "ro", "h")
	old := target + "ello-1.0.0"
	new := target // shorter, leaves room for NUL padding
	dir := t.TempDir()

	var content []byte
	content = append(content, 0x7f, 0x45, 0x4c, 0x46)
	content = append(content, []byte(old)...)
	content = append(content, 0)
	content = append(content, []byte("trailer")...)
	origLen := len(content)

	manifest := archive.Manifest{
		Name:    "hello",
		Version: "1.0.0",
		Files:   []string{"bin/hello"},
		InstallPathOffsets: archive.OffsetTable{
			InstallDir:  old,
			BinaryFiles: map[string][]int64{"bin/hello": {4}},
		},
	}
	archivePath := filepath.Join(dir, "hello.xpa")
	if err := archive.Write(archivePath, manifest, []archive.FileEntry{
		{RelPath: "bin", AbsPath: mustMkdir(t, dir, "bin")},
		{RelPath: "bin/hello", AbsPath: mustWriteBytes(t, dir, "hellobin", content)},
	}); err != nil {
		t.Fatal(err)
	}

	xpa, err := archive.Open(archivePath)
	if err != nil {
		t.Fatal(err)
	}
	if err := Install(xpa, target); err != nil {
		t.Fatalf("Install() = %v", err)
	}
	got, err := os.ReadFile(filepath.Join(target, "bin", "hello"))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != origLen {
		t.Errorf("length changed: got %d, want %d", len(got), origLen)
	}
	if !bytes.Contains(got[:len(got)-len("trailer")], []byte(new)) {
		t.Errorf("rewritten content missing new prefix: %q", got)
	}
}

func mustMkdir(t *testing.T, base, name string) string {
	t.Helper()
	p := filepath.Join(base, "payload", name)
	if err := os.MkdirAll(p, 0755); err != nil {
		t.Fatal(err)
	}
	return p
}

func mustWrite(t *testing.T, base, name, content string) string {
	t.Helper()
	return mustWriteBytes(t, base, name, []byte(content))
}

func mustWriteBytes(t *testing.T, base, name string, content []byte) string {
	t.Helper()
	p := filepath.Join(base, "payload-"+name)
	if err := os.WriteFile(p, content, 0755); err != nil {
		t.Fatal(err)
	}
	return p
}
