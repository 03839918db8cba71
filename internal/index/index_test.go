package index

import (
	"os"
	"path/filepath"
	"testing"
)

func writeXPD(t *testing.T, dir, filename, name, version string) {
	t.Helper()
	content := "name: " + name + "\nversion: " + version + "\n"
	if err := os.WriteFile(filepath.Join(dir, filename), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLookupLatestVersion(t *testing.T) {
	dir := t.TempDir()
	writeXPD(t, dir, "hello-1.xpd", "hello", "1.0.0")
	writeXPD(t, dir, "hello-2.xpd", "hello", "1.9.0")
	writeXPD(t, dir, "hello-3.xpd", "hello", "1.10.0")

	idx, err := New([]Source{{Kind: Tree, Path: dir}})
	if err != nil {
		t.Fatal(err)
	}
	loc, err := idx.Lookup("hello", "")
	if err != nil {
		t.Fatal(err)
	}
	if loc.Version != "1.10.0" {
		t.Errorf("Lookup latest = %q, want 1.10.0", loc.Version)
	}
}

func TestLookupExactVersion(t *testing.T) {
	dir := t.TempDir()
	writeXPD(t, dir, "hello-1.xpd", "hello", "1.0.0")
	writeXPD(t, dir, "hello-2.xpd", "hello", "2.0.0")

	idx, err := New([]Source{{Kind: Tree, Path: dir}})
	if err != nil {
		t.Fatal(err)
	}
	loc, err := idx.Lookup("hello", "1.0.0")
	if err != nil {
		t.Fatal(err)
	}
	if loc.Version != "1.0.0" {
		t.Errorf("Lookup exact = %q, want 1.0.0", loc.Version)
	}

	if _, err := idx.Lookup("hello", "9.9.9"); err == nil {
		t.Fatal("expected NotFound for unknown version")
	}
}

func TestLookupSourcePriority(t *testing.T) {
	repoDir := t.TempDir()
	treeDir := t.TempDir()
	writeXPD(t, treeDir, "hello.xpd", "hello", "1.0.0")
	if err := os.WriteFile(filepath.Join(repoDir, "hello_1.0.0_amd64_dynamic_linux.xpa"), []byte("stub"), 0644); err != nil {
		t.Fatal(err)
	}

	idx, err := New([]Source{
		{Kind: Repo, Path: repoDir},
		{Kind: Tree, Path: treeDir},
	})
	if err != nil {
		t.Fatal(err)
	}
	loc, err := idx.Lookup("hello", "1.0.0")
	if err != nil {
		t.Fatal(err)
	}
	if loc.Kind != Repo {
		t.Errorf("expected repo source to win priority, got %v", loc.Kind)
	}
}

func TestRescanPicksUpNewFile(t *testing.T) {
	dir := t.TempDir()
	idx, err := New([]Source{{Kind: Tree, Path: dir}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := idx.Lookup("hello", ""); err == nil {
		t.Fatal("expected NotFound before file exists")
	}
	writeXPD(t, dir, "hello.xpd", "hello", "1.0.0")
	if err := idx.Rescan(); err != nil {
		t.Fatal(err)
	}
	if _, err := idx.Lookup("hello", ""); err != nil {
		t.Fatalf("Lookup after rescan: %v", err)
	}
}

func TestNamesAndVersions(t *testing.T) {
	dir := t.TempDir()
	writeXPD(t, dir, "a.xpd", "alpha", "1.0.0")
	writeXPD(t, dir, "b.xpd", "beta", "2.0.0")

	idx, err := New([]Source{{Kind: Tree, Path: dir}})
	if err != nil {
		t.Fatal(err)
	}
	names := idx.Names()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "beta" {
		t.Errorf("Names() = %v", names)
	}
	if vs := idx.Versions("alpha"); len(vs) != 1 || vs[0] != "1.0.0" {
		t.Errorf("Versions(alpha) = %v", vs)
	}
}
