package offsets

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFindTextFile(t *testing.T) {
	root := t.TempDir()
	installDir := "/ro/hello-1.0.0"
	content := "#!/bin/sh\nexec " + installDir + "/bin/hello-real \"$@\"\n"
	if err := os.WriteFile(filepath.Join(root, "wrapper"), []byte(content), 0755); err != nil {
		t.Fatal(err)
	}

	table, recompile, err := Find(root, installDir, []string{"wrapper"})
	if err != nil {
		t.Fatal(err)
	}
	if len(recompile) != 0 {
		t.Errorf("unexpected recompile entries: %v", recompile)
	}
	offs, ok := table.TextFiles["wrapper"]
	if !ok || len(offs) != 1 {
		t.Fatalf("TextFiles[wrapper] = %v, ok=%v", offs, ok)
	}
	wantOffset := int64(len("#!/bin/sh\nexec "))
	if offs[0] != wantOffset {
		t.Errorf("offset = %d, want %d", offs[0], wantOffset)
	}
}

func TestFindBinaryExactString(t *testing.T) {
	root := t.TempDir()
	installDir := "/ro/hello-1.0.0"
	var content []byte
	content = append(content, 0x7f, 0x45, 0x4c, 0x46) // fake ELF magic
	content = append(content, []byte(installDir)...)
	content = append(content, 0)
	content = append(content, []byte("trailing")...)

	if err := os.WriteFile(filepath.Join(root, "bin"), content, 0755); err != nil {
		t.Fatal(err)
	}

	table, _, err := Find(root, installDir, []string{"bin"})
	if err != nil {
		t.Fatal(err)
	}
	offs, ok := table.BinaryFiles["bin"]
	if !ok || len(offs) != 1 {
		t.Fatalf("BinaryFiles[bin] = %v, ok=%v", offs, ok)
	}
	if offs[0] != 4 {
		t.Errorf("offset = %d, want 4", offs[0])
	}
}

func TestFindSubBinaryGroup(t *testing.T) {
	root := t.TempDir()
	installDir := "/ro/hello-1.0.0"
	// install_dir followed by "/share/data" then a NUL: a longer C string.
	var content []byte
	content = append(content, []byte(installDir)...)
	content = append(content, []byte("/share/data")...)
	content = append(content, 0)

	if err := os.WriteFile(filepath.Join(root, "data.bin"), content, 0644); err != nil {
		t.Fatal(err)
	}

	table, _, err := Find(root, installDir, []string{"data.bin"})
	if err != nil {
		t.Fatal(err)
	}
	groups, ok := table.SubBinaryFiles["data.bin"]
	if !ok || len(groups) != 1 {
		t.Fatalf("SubBinaryFiles[data.bin] = %v, ok=%v", groups, ok)
	}
	group := groups[0]
	if len(group) != 2 {
		t.Fatalf("group = %v, want 2 elements (offset, null_off)", group)
	}
	if group[0] != 0 {
		t.Errorf("occurrence offset = %d, want 0", group[0])
	}
	wantNullOff := int64(len(installDir) + len("/share/data"))
	if group[1] != wantNullOff {
		t.Errorf("null offset = %d, want %d", group[1], wantNullOff)
	}
}

func TestFindNoOccurrenceSkipped(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "unrelated"), []byte("nothing interesting"), 0644); err != nil {
		t.Fatal(err)
	}
	table, _, err := Find(root, "/ro/hello-1.0.0", []string{"unrelated"})
	if err != nil {
		t.Fatal(err)
	}
	if !table.Empty() {
		t.Errorf("expected empty table, got %+v", table)
	}
}

func TestRecompileOnInstall(t *testing.T) {
	root := t.TempDir()
	installDir := "/ro/py-3.0.0"
	if err := os.WriteFile(filepath.Join(root, "module.pyc"), []byte(installDir+"/lib/module.py"), 0644); err != nil {
		t.Fatal(err)
	}
	table, recompile, err := Find(root, installDir, []string{"module.pyc"})
	if err != nil {
		t.Fatal(err)
	}
	if len(recompile) != 1 || recompile[0] != "module.pyc" {
		t.Errorf("recompile = %v, want [module.pyc]", recompile)
	}
	if !table.Empty() {
		t.Errorf("pyc occurrence should not appear in offset tables, got %+v", table)
	}
}

func TestDedupByInode(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "real")
	if err := os.WriteFile(target, []byte("data"), 0644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(root, "hardlink")
	if err := os.Link(target, link); err != nil {
		t.Skipf("hardlinks unsupported in this environment: %v", err)
	}
	out, err := DedupByInode(root, []string{"real", "hardlink"})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Errorf("DedupByInode = %v, want 1 entry", out)
	}
}
