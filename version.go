package xpkg

import (
	"sort"
	"strconv"
	"strings"
)

// Version is a parsed Debian-style package version: [epoch:]upstream[-release].
//
// Epoch defaults to 0 when absent. Release defaults to the empty string when
// absent; it is compared by the same run rules as any other release, so it
// sorts before "1" or "a", equal to "0", and after "~1".
type Version struct {
	Epoch    int64
	Upstream string
	Release  string
}

// String reassembles the canonical textual form of v.
func (v Version) String() string {
	var b strings.Builder
	if v.Epoch != 0 {
		b.WriteString(strconv.FormatInt(v.Epoch, 10))
		b.WriteByte(':')
	}
	b.WriteString(v.Upstream)
	if v.Release != "" {
		b.WriteByte('-')
		b.WriteString(v.Release)
	}
	return b.String()
}

// releaseRunes are the characters a release suffix may be built from.
func isReleaseRune(r rune) bool {
	return r == '+' || r == '.' || r == '~' ||
		(r >= '0' && r <= '9') ||
		(r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z')
}

// ParseVersion parses the Debian-style version scheme described in the
// package manager's versioning rules: an optional leading "epoch:" (a run of
// digits immediately followed by a colon, defaulting to 0), an upstream
// component, and an optional trailing "-release" (the longest trailing run
// over [A-Za-z0-9+.~] preceded by a hyphen).
func ParseVersion(s string) Version {
	var v Version

	rest := s
	if idx := strings.IndexByte(rest, ':'); idx > -1 {
		digits := rest[:idx]
		allDigits := digits != ""
		for _, r := range digits {
			if r < '0' || r > '9' {
				allDigits = false
				break
			}
		}
		if allDigits {
			epoch, err := strconv.ParseInt(digits, 10, 64)
			if err == nil {
				v.Epoch = epoch
				rest = rest[idx+1:]
			}
		}
	}

	// Find the longest trailing run over the release alphabet that is
	// preceded by '-'; everything before that hyphen is upstream.
	end := len(rest)
	start := end
	for start > 0 && isReleaseRune(rune(rest[start-1])) {
		start--
	}
	if start > 0 && start < end && rest[start-1] == '-' {
		v.Upstream = rest[:start-1]
		v.Release = rest[start:]
	} else {
		v.Upstream = rest
	}
	return v
}

// runeClass classifies a byte for the purposes of version-part comparison:
// '~' sorts before everything, the empty class (end of string) sorts next,
// letters sort next, and any other printable character sorts last.
func runeClass(b byte) int {
	switch {
	case b == '~':
		return 0
	case (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z'):
		return 2
	default:
		return 3
	}
}

// compareNonDigit compares two non-digit runs using the rule
// '~' < empty < letters < other printable, byte by byte.
func compareNonDigit(a, b string) int {
	for i := 0; i < len(a) || i < len(b); i++ {
		var ca, cb byte
		var present bool
		classA, classB := 1, 1 // "empty" class
		if i < len(a) {
			ca = a[i]
			classA = runeClass(ca)
			present = true
		}
		if i < len(b) {
			cb = b[i]
			classB = runeClass(cb)
		}
		_ = present
		if classA != classB {
			if classA < classB {
				return -1
			}
			return 1
		}
		if ca != cb {
			if ca < cb {
				return -1
			}
			return 1
		}
	}
	return 0
}

// splitRuns splits s into alternating non-digit/digit runs. The first run
// is a digit run when s starts with a digit; compareParts pads that case
// with an empty leading non-digit run.
func splitRuns(s string) []string {
	var runs []string
	i := 0
	for i < len(s) {
		start := i
		isDigit := s[i] >= '0' && s[i] <= '9'
		for i < len(s) && (s[i] >= '0' && s[i] <= '9') == isDigit {
			i++
		}
		runs = append(runs, s[start:i])
	}
	return runs
}

// compareParts implements the alternating non-digit/digit comparison used
// for both the upstream and release components.
func compareParts(a, b string) int {
	ra := splitRuns(a)
	rb := splitRuns(b)
	// Make both begin with a non-digit run: pad with an empty leading run
	// if the first byte happens to be a digit.
	if len(ra) > 0 && ra[0] != "" && ra[0][0] >= '0' && ra[0][0] <= '9' {
		ra = append([]string{""}, ra...)
	}
	if len(rb) > 0 && rb[0] != "" && rb[0][0] >= '0' && rb[0][0] <= '9' {
		rb = append([]string{""}, rb...)
	}
	for i := 0; i < len(ra) || i < len(rb); i++ {
		var pa, pb string
		if i < len(ra) {
			pa = ra[i]
		}
		if i < len(rb) {
			pb = rb[i]
		}
		isDigitRun := i%2 == 1
		if isDigitRun {
			na, _ := strconv.ParseInt(strings.TrimLeft(pa, "0"), 10, 64)
			nb, _ := strconv.ParseInt(strings.TrimLeft(pb, "0"), 10, 64)
			if pa != "" && strings.TrimLeft(pa, "0") == "" {
				na = 0
			}
			if pb != "" && strings.TrimLeft(pb, "0") == "" {
				nb = 0
			}
			if na != nb {
				if na < nb {
					return -1
				}
				return 1
			}
		} else {
			if c := compareNonDigit(pa, pb); c != 0 {
				return c
			}
		}
	}
	return 0
}

// Compare returns -1, 0, or 1 as v orders before, equal to, or after other.
func (v Version) Compare(other Version) int {
	if v.Epoch != other.Epoch {
		if v.Epoch < other.Epoch {
			return -1
		}
		return 1
	}
	if c := compareParts(v.Upstream, other.Upstream); c != 0 {
		return c
	}
	return compareParts(v.Release, other.Release)
}

// Less reports whether v orders strictly before other. It is suitable for
// use with sort.Slice.
func (v Version) Less(other Version) bool {
	return v.Compare(other) < 0
}

// SortVersions sorts a slice of version strings ascending according to the
// total order defined by Compare, returning a new slice.
func SortVersions(versions []string) []string {
	out := make([]string, len(versions))
	copy(out, versions)
	sort.Slice(out, func(i, j int) bool {
		return ParseVersion(out[i]).Less(ParseVersion(out[j]))
	})
	return out
}
