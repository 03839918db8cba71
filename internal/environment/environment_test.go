package environment

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/xpkg/xpkg/internal/index"
	"github.com/xpkg/xpkg/internal/installdb"
)

func writeTarball(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	content := []byte("#!/bin/sh\necho hello\n")
	if err := tw.WriteHeader(&tar.Header{Name: "hello-1.0.0/hello.sh", Mode: 0755, Size: int64(len(content))}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
}

func writeXPD(t *testing.T, dir string) string {
	t.Helper()
	writeTarball(t, filepath.Join(dir, "hello-1.0.0.tar.gz"))
	xpdPath := filepath.Join(dir, "hello.xpd")
	content := `name: hello
version: "1.0.0"
files:
  sha256-stub:
    url: ./hello-1.0.0.tar.gz
install:
  - mkdir -p %(prefix)s/bin && cp hello.sh %(prefix)s/bin/hello
`
	if err := os.WriteFile(xpdPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return xpdPath
}

func TestInitRejectsDoubleInit(t *testing.T) {
	prefix := t.TempDir()
	if _, err := Init(prefix, "test", "host"); err != nil {
		t.Fatalf("Init() = %v", err)
	}
	if _, err := Init(prefix, "test", "host"); err == nil {
		t.Error("second Init() on the same prefix should fail")
	}
}

func TestInstallFromXPDPath(t *testing.T) {
	prefix := t.TempDir()
	if _, err := Init(prefix, "test", "host"); err != nil {
		t.Fatalf("Init() = %v", err)
	}
	env, err := Open(prefix, []index.Source{})
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}

	srcDir := t.TempDir()
	xpdPath := writeXPD(t, srcDir)

	if err := env.Install(context.Background(), xpdPath); err != nil {
		t.Fatalf("Install() = %v", err)
	}

	if _, err := os.Stat(filepath.Join(prefix, "bin", "hello")); err != nil {
		t.Errorf("expected installed file: %v", err)
	}

	rec, err := env.DB.GetWithFiles("hello")
	if err != nil {
		t.Fatalf("GetWithFiles() = %v", err)
	}
	if rec.Version != "1.0.0" {
		t.Errorf("installed version = %q, want 1.0.0", rec.Version)
	}

	infoRec, err := env.Info("hello", false)
	if err != nil {
		t.Fatalf("Info() = %v", err)
	}
	if infoRec.Name != "hello" {
		t.Errorf("Info().Name = %q, want hello", infoRec.Name)
	}

	if err := env.Remove("hello"); err != nil {
		t.Fatalf("Remove() = %v", err)
	}
	if _, err := os.Stat(filepath.Join(prefix, "bin", "hello")); !os.IsNotExist(err) {
		t.Errorf("expected bin/hello removed, stat err = %v", err)
	}
	if _, err := env.DB.Get("hello"); err == nil {
		t.Error("expected hello removed from install db")
	}
}

func TestRemoveBlockedByRdepends(t *testing.T) {
	prefix := t.TempDir()
	if _, err := Init(prefix, "test", "host"); err != nil {
		t.Fatalf("Init() = %v", err)
	}
	env, err := Open(prefix, []index.Source{})
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}

	srcDir := t.TempDir()
	xpdPath := writeXPD(t, srcDir)
	if err := env.Install(context.Background(), xpdPath); err != nil {
		t.Fatalf("Install() = %v", err)
	}

	// Inject a dependent record directly into the install db to exercise
	// the rdepends guard without needing a second buildable recipe.
	rec := installdb.Record{
		BaseRecord: installdb.BaseRecord{
			Name:         "needs-hello",
			Version:      "1.0.0",
			Dependencies: []string{"hello"},
		},
	}
	if err := env.DB.MarkInstalled("needs-hello", rec); err != nil {
		t.Fatalf("MarkInstalled() = %v", err)
	}

	if err := env.Remove("hello"); err == nil {
		t.Error("Remove() on a package with rdepends should fail")
	}
}
