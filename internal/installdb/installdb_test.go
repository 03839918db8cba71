package installdb

import (
	"path/filepath"
	"testing"
)

func TestMarkInstalledGetRemove(t *testing.T) {
	root := filepath.Join(t.TempDir(), "db")
	db, err := Open(root)
	if err != nil {
		t.Fatal(err)
	}

	rec := Record{
		BaseRecord: BaseRecord{
			Name:         "hello",
			Version:      "1.0.0",
			Dependencies: []string{"libgreet"},
			Dirs:         []string{"bin"},
		},
		FileInfo: FileInfo{
			Files: []string{"bin/hello"},
		},
	}
	if err := db.MarkInstalled("hello", rec); err != nil {
		t.Fatalf("MarkInstalled() = %v", err)
	}

	got, err := db.Get("hello")
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != "1.0.0" {
		t.Errorf("Get().Version = %q, want 1.0.0", got.Version)
	}

	withFiles, err := db.GetWithFiles("hello")
	if err != nil {
		t.Fatal(err)
	}
	if len(withFiles.Files) != 1 || withFiles.Files[0] != "bin/hello" {
		t.Errorf("GetWithFiles().Files = %v", withFiles.Files)
	}

	if n := db.DirRefcount("bin"); n != 1 {
		t.Errorf("DirRefcount(bin) = %d, want 1", n)
	}
	if owner, ok := db.OwnerOfPath("bin/hello"); !ok || owner != "hello" {
		t.Errorf("OwnerOfPath(bin/hello) = %q, %v", owner, ok)
	}

	if err := db.MarkRemoved("hello"); err != nil {
		t.Fatalf("MarkRemoved() = %v", err)
	}
	if _, err := db.Get("hello"); err == nil {
		t.Fatal("expected NotFound after MarkRemoved")
	}
	if n := db.DirRefcount("bin"); n != 0 {
		t.Errorf("DirRefcount(bin) after remove = %d, want 0", n)
	}
}

func TestGetRdepends(t *testing.T) {
	root := filepath.Join(t.TempDir(), "db")
	db, err := Open(root)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.MarkInstalled("libgreet", Record{BaseRecord: BaseRecord{Name: "libgreet", Version: "1.0.0"}}); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkInstalled("hello", Record{BaseRecord: BaseRecord{Name: "hello", Version: "1.0.0", Dependencies: []string{"libgreet==1.0.0"}}}); err != nil {
		t.Fatal(err)
	}
	rdeps := db.GetRdepends("libgreet")
	if len(rdeps) != 1 || rdeps[0] != "hello" {
		t.Errorf("GetRdepends(libgreet) = %v, want [hello]", rdeps)
	}
}

func TestReopenPersistsRecords(t *testing.T) {
	root := filepath.Join(t.TempDir(), "db")
	db, err := Open(root)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.MarkInstalled("hello", Record{BaseRecord: BaseRecord{Name: "hello", Version: "1.0.0"}}); err != nil {
		t.Fatal(err)
	}
	reopened, err := Open(root)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reopened.Get("hello"); err != nil {
		t.Fatalf("Get() after reopen = %v", err)
	}
}
