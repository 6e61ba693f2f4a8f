package overlay

import (
	"regexp"
	"strconv"
	"strings"
)

// Package versions look like 1.2.3b_rc1-r2: dotted numeric segments, an
// optional trailing letter, optional _alpha/_beta/_pre/_rc/_p suffixes and
// an optional -rN revision.
var (
	versionRe = regexp.MustCompile(`^(\d+(?:\.\d+)*)([a-z])?((?:_(?:alpha|beta|pre|rc|p)\d*)*)(?:-r(\d+))?$`)
	suffixRe  = regexp.MustCompile(`_(alpha|beta|pre|rc|p)(\d*)`)
)

// suffixRank orders version suffixes below (negative) or above (positive)
// the suffix-less release.
var suffixRank = map[string]int{
	"alpha": -4,
	"beta":  -3,
	"pre":   -2,
	"rc":    -1,
	"p":     1,
}

type versionSuffix struct {
	rank int
	num  uint64
}

type parsedVersion struct {
	segments []uint64
	letter   byte
	suffixes []versionSuffix
	revision uint64
}

// CompareVersions orders two package version strings, returning a negative
// number, zero or a positive number as a sorts before, equal to or after b.
// Strings that do not parse as package versions fall back to a plain string
// comparison so the order stays total.
func CompareVersions(a, b string) int {
	pa, okA := parseVersion(a)
	pb, okB := parseVersion(b)
	if !okA || !okB {
		return strings.Compare(a, b)
	}
	return pa.compare(pb)
}

func parseVersion(v string) (parsedVersion, bool) {
	m := versionRe.FindStringSubmatch(v)
	if m == nil {
		return parsedVersion{}, false
	}

	var p parsedVersion
	for _, seg := range strings.Split(m[1], ".") {
		n, err := strconv.ParseUint(seg, 10, 64)
		if err != nil {
			return parsedVersion{}, false
		}
		p.segments = append(p.segments, n)
	}
	if m[2] != "" {
		p.letter = m[2][0]
	}
	for _, s := range suffixRe.FindAllStringSubmatch(m[3], -1) {
		suffix := versionSuffix{rank: suffixRank[s[1]]}
		if s[2] != "" {
			n, err := strconv.ParseUint(s[2], 10, 64)
			if err != nil {
				return parsedVersion{}, false
			}
			suffix.num = n
		}
		p.suffixes = append(p.suffixes, suffix)
	}
	if m[4] != "" {
		n, err := strconv.ParseUint(m[4], 10, 64)
		if err != nil {
			return parsedVersion{}, false
		}
		p.revision = n
	}
	return p, true
}

func (p parsedVersion) compare(o parsedVersion) int {
	// missing numeric segments count as zero, so 1.2 == 1.2.0
	for i := 0; i < len(p.segments) || i < len(o.segments); i++ {
		var x, y uint64
		if i < len(p.segments) {
			x = p.segments[i]
		}
		if i < len(o.segments) {
			y = o.segments[i]
		}
		if c := compareUint(x, y); c != 0 {
			return c
		}
	}

	// no letter sorts before any letter: 1.0 < 1.0a < 1.0b
	if c := compareUint(uint64(p.letter), uint64(o.letter)); c != 0 {
		return c
	}

	// a missing suffix ranks as the plain release, so _rc1 < "" < _p1
	for i := 0; i < len(p.suffixes) || i < len(o.suffixes); i++ {
		var x, y versionSuffix
		if i < len(p.suffixes) {
			x = p.suffixes[i]
		}
		if i < len(o.suffixes) {
			y = o.suffixes[i]
		}
		if x.rank != y.rank {
			if x.rank < y.rank {
				return -1
			}
			return 1
		}
		if c := compareUint(x.num, y.num); c != 0 {
			return c
		}
	}

	return compareUint(p.revision, o.revision)
}

func compareUint(x, y uint64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}
