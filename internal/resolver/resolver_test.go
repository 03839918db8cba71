package resolver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/xpkg/xpkg/internal/archive"
	"github.com/xpkg/xpkg/internal/index"
	"github.com/xpkg/xpkg/internal/installdb"
	"github.com/xpkg/xpkg/internal/toolset"
)

type fakeDB struct {
	installed map[string]installdb.BaseRecord
}

func (f fakeDB) Get(name string) (installdb.BaseRecord, error) {
	rec, ok := f.installed[name]
	if !ok {
		return installdb.BaseRecord{}, os.ErrNotExist
	}
	return rec, nil
}

func writeXPD(t *testing.T, dir, filename, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, filename), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestResolveLinearChain(t *testing.T) {
	dir := t.TempDir()
	writeXPD(t, dir, "libc.xpd", "name: libc\nversion: 1.0.0\n")
	writeXPD(t, dir, "libgreet.xpd", "name: libgreet\nversion: 1.0.0\ndependencies: [libc]\n")

	idx, err := index.New([]index.Source{{Kind: index.Tree, Path: dir}})
	if err != nil {
		t.Fatal(err)
	}
	r := New(idx, fakeDB{installed: map[string]installdb.BaseRecord{}}, toolset.Default())
	out, err := r.Resolve(index.Locator{Name: "hello"}, []string{"libgreet"}, nil)
	if err != nil {
		t.Fatalf("Resolve() = %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d resolved packages, want 2: %+v", len(out), out)
	}
	if out[0].Name != "libc" || out[1].Name != "libgreet" {
		t.Errorf("order = %v, want [libc libgreet]", []string{out[0].Name, out[1].Name})
	}
}

func TestResolveCycleIsFatal(t *testing.T) {
	dir := t.TempDir()
	writeXPD(t, dir, "a.xpd", "name: a\nversion: 1.0.0\ndependencies: [b]\n")
	writeXPD(t, dir, "b.xpd", "name: b\nversion: 1.0.0\ndependencies: [a]\n")

	idx, err := index.New([]index.Source{{Kind: index.Tree, Path: dir}})
	if err != nil {
		t.Fatal(err)
	}
	r := New(idx, fakeDB{installed: map[string]installdb.BaseRecord{}}, toolset.Default())
	if _, err := r.Resolve(index.Locator{Name: "root"}, []string{"a"}, nil); err == nil {
		t.Fatal("expected DependencyCycle error")
	}
}

func TestResolveConflict(t *testing.T) {
	dir := t.TempDir()
	writeXPD(t, dir, "libc.xpd", "name: libc\nversion: 2.0.0\n")

	idx, err := index.New([]index.Source{{Kind: index.Tree, Path: dir}})
	if err != nil {
		t.Fatal(err)
	}
	db := fakeDB{installed: map[string]installdb.BaseRecord{
		"libc": {Name: "libc", Version: "1.0.0"},
	}}
	r := New(idx, db, toolset.Default())
	if _, err := r.Resolve(index.Locator{Name: "root"}, []string{"libc"}, nil); err == nil {
		t.Fatal("expected Conflict error")
	}
}

func TestResolveSelfDependencyIsCycleNotPanic(t *testing.T) {
	dir := t.TempDir()
	writeXPD(t, dir, "a.xpd", "name: a\nversion: 1.0.0\ndependencies: [a]\n")

	idx, err := index.New([]index.Source{{Kind: index.Tree, Path: dir}})
	if err != nil {
		t.Fatal(err)
	}
	r := New(idx, fakeDB{installed: map[string]installdb.BaseRecord{}}, toolset.Default())
	if _, err := r.Resolve(index.Locator{Name: "root"}, []string{"a"}, nil); err == nil {
		t.Fatal("expected DependencyCycle error, got nil")
	}
}

func TestResolveExpandsRepoManifestDependencies(t *testing.T) {
	dir := t.TempDir()
	writeXPD(t, dir, "libc.xpd", "name: libc\nversion: 1.0.0\n")

	archivePath := filepath.Join(dir, "libgreet_1.0.0_amd64_dynamic_linux.xpa")
	if err := archive.Write(archivePath, archive.Manifest{
		Name:         "libgreet",
		Version:      "1.0.0",
		Dependencies: []string{"libc"},
	}, nil); err != nil {
		t.Fatal(err)
	}

	idx, err := index.New([]index.Source{
		{Kind: index.Tree, Path: dir},
		{Kind: index.Repo, Path: dir},
	})
	if err != nil {
		t.Fatal(err)
	}
	r := New(idx, fakeDB{installed: map[string]installdb.BaseRecord{}}, toolset.Default())
	out, err := r.Resolve(index.Locator{Name: "hello"}, []string{"libgreet"}, nil)
	if err != nil {
		t.Fatalf("Resolve() = %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d resolved packages, want 2 (libc pulled in from libgreet's archive manifest): %+v", len(out), out)
	}
	if out[0].Name != "libc" || out[1].Name != "libgreet" {
		t.Errorf("order = %v, want [libc libgreet]", []string{out[0].Name, out[1].Name})
	}
}

func TestResolveToolsetIndirectBuildDep(t *testing.T) {
	dir := t.TempDir()
	writeXPD(t, dir, "gcc.xpd", "name: gcc\nversion: 9.0.0\n")

	idx, err := index.New([]index.Source{{Kind: index.Tree, Path: dir}})
	if err != nil {
		t.Fatal(err)
	}
	ts := toolset.Toolset{Roles: map[string]string{"c-compiler": "gcc"}}
	r := New(idx, fakeDB{installed: map[string]installdb.BaseRecord{}}, ts)
	out, err := r.Resolve(index.Locator{Name: "root"}, nil, []string{"tl:c-compiler"})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].Name != "gcc" {
		t.Errorf("got %+v, want [gcc]", out)
	}
}
