package xpkg

import (
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseVersion(t *testing.T) {
	for _, tt := range []struct {
		version string
		want    Version
	}{
		{
			version: "1.0.0",
			want:    Version{Upstream: "1.0.0"},
		},
		{
			version: "2:1.0.0",
			want:    Version{Epoch: 2, Upstream: "1.0.0"},
		},
		{
			version: "1.0.0-3",
			want:    Version{Upstream: "1.0.0", Release: "3"},
		},
		{
			version: "1:1.0.0-3",
			want:    Version{Epoch: 1, Upstream: "1.0.0", Release: "3"},
		},
		{
			version: "3.0~beta1",
			want:    Version{Upstream: "3.0~beta1"},
		},
		{
			version: "v0.0.0-20180314180146-1d60e4601c6f",
			want:    Version{Upstream: "v0.0.0-20180314180146", Release: "1d60e4601c6f"},
		},
	} {
		tt := tt
		t.Run(tt.version, func(t *testing.T) {
			got := ParseVersion(tt.version)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseVersion(%q) mismatch (-want +got):\n%s", tt.version, diff)
			}
		})
	}
}

func TestVersionCompareTilde(t *testing.T) {
	versions := []string{"3.0~beta1", "3.0", "3.0~rc1", "3.0-2"}
	want := []string{"3.0~beta1", "3.0~rc1", "3.0", "3.0-2"}

	got := SortVersions(versions)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("SortVersions() mismatch (-want +got):\n%s", diff)
	}
}

func TestVersionCompareNumeric(t *testing.T) {
	versions := []string{"1.10", "1.9", "1.2"}
	want := []string{"1.2", "1.9", "1.10"}
	got := SortVersions(versions)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("SortVersions() mismatch (-want +got):\n%s", diff)
	}
}

func TestVersionCompareEpoch(t *testing.T) {
	a := ParseVersion("2:1.0.0")
	b := ParseVersion("1:9.9.9")
	if !b.Less(a) {
		t.Errorf("expected 1:9.9.9 < 2:1.0.0")
	}
}

func TestVersionCompareTotalOrder(t *testing.T) {
	// A handful of versions in deliberately shuffled order; Compare must
	// induce a consistent total order regardless of input order.
	in := []string{"1.0.0-2", "1.0.0-10", "1.0.0", "1.0.0~rc1", "0:1.0.0-1"}
	got := SortVersions(in)
	if !sort.SliceIsSorted(got, func(i, j int) bool {
		return ParseVersion(got[i]).Less(ParseVersion(got[j]))
	}) {
		t.Errorf("SortVersions result not self-consistent: %v", got)
	}
}

func TestArchiveFilenameRoundTrip(t *testing.T) {
	fn := ArchiveFilename("hello", "1.0.0-3", "amd64", "glibc", "linux")
	const want = "hello_1.0.0-3_amd64_glibc_linux.xpa"
	if fn != want {
		t.Errorf("ArchiveFilename() = %q, want %q", fn, want)
	}
	name, version, arch, linkage, kernel, ok := ParseArchiveFilename(fn)
	if !ok {
		t.Fatalf("ParseArchiveFilename(%q) failed", fn)
	}
	if name != "hello" || version != "1.0.0-3" || arch != "amd64" || linkage != "glibc" || kernel != "linux" {
		t.Errorf("ParseArchiveFilename() = %q %q %q %q %q", name, version, arch, linkage, kernel)
	}
}
