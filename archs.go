package xpkg

import (
	"fmt"
	"strings"
)

// Architectures contains one entry for each architecture identifier this
// module knows how to build and name archives for.
var Architectures = map[string]bool{
	"amd64": true,
	"i686":  true,
	"arm64": true,
}

// Linkages names the C library linkage an archive was built against.
var Linkages = map[string]bool{
	"glibc": true,
	"musl":  true,
}

// Kernels names the kernel an archive targets.
var Kernels = map[string]bool{
	"linux": true,
}

// ArchiveFilename builds the canonical XPA filename for name/version built
// for arch/linkage/kernel, per the wire format in §6:
// "<name>_<version>_<arch>_<linkage>_<kernel>.xpa".
func ArchiveFilename(name, version, arch, linkage, kernel string) string {
	return fmt.Sprintf("%s_%s_%s_%s_%s.xpa",
		strings.ToLower(name), strings.ToLower(version),
		strings.ToLower(arch), strings.ToLower(linkage), strings.ToLower(kernel))
}

// ParseArchiveFilename splits an XPA filename produced by ArchiveFilename
// back into its components. It returns ok=false if filename is not shaped
// like a well-formed archive name.
func ParseArchiveFilename(filename string) (name, version, arch, linkage, kernel string, ok bool) {
	base := strings.TrimSuffix(filename, ".xpa")
	if base == filename {
		return "", "", "", "", "", false
	}
	parts := strings.Split(base, "_")
	if len(parts) != 5 {
		return "", "", "", "", "", false
	}
	return parts[0], parts[1], parts[2], parts[3], parts[4], true
}
