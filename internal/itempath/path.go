// Package itempath normalizes and manipulates absolute repository paths.
//
// A normalized path always starts with "/", never contains "//", has no "."
// or ".." segments, no trailing slash (except the root itself), and every
// segment matches the name grammar:
//
//	segment := [prefix ":"] localName ["[" index "]"]
//
// Segments are NFC-normalized. A same-name-sibling index of 1 is implicit and
// dropped, so "/a[1]/b" and "/a/b" normalize to the same path.
package itempath

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/crepo/internal/repoerr"
)

// Root is the path of the root node.
const Root = "/"

// invalidNameChars may not appear in a prefix or local name.
const invalidNameChars = "/:[]|*"

var identifierPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// IsIdentifier reports whether s has the 8-4-4-4-12 hex shape of a node
// identifier.
func IsIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

// Normalize returns the normalized form of p.
//
// A missing leading slash is added. "." segments and empty segments are
// dropped and ".." removes the preceding segment. Climbing above the root or
// a segment that violates the name grammar fails with InvalidPath.
//
// Normalize is idempotent.
func Normalize(p string) (string, error) {
	p = norm.NFC.String(p)

	segments := make([]string, 0, strings.Count(p, "/")+1)
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(segments) == 0 {
				return "", repoerr.At(repoerr.CodeInvalidPath, "normalize", p, "path climbs above root")
			}
			segments = segments[:len(segments)-1]
			continue
		}

		canonical, err := canonicalSegment(seg)
		if err != nil {
			return "", repoerr.At(repoerr.CodeInvalidPath, "normalize", p, "%s", err.Error())
		}
		segments = append(segments, canonical)
	}

	return Root + strings.Join(segments, "/"), nil
}

// MustNormalize is Normalize for paths known to be valid. It panics on error.
func MustNormalize(p string) string {
	n, err := Normalize(p)
	if err != nil {
		panic(err)
	}
	return n
}

// Join resolves rel against base and normalizes the result. An absolute rel
// ignores base.
func Join(base, rel string) (string, error) {
	if strings.HasPrefix(rel, "/") {
		return Normalize(rel)
	}
	if base == "" {
		base = Root
	}
	return Normalize(base + "/" + rel)
}

// Parent returns the parent path of a normalized path. The parent of the
// root is the root.
func Parent(p string) string {
	i := strings.LastIndexByte(p, '/')
	if i <= 0 {
		return Root
	}
	return p[:i]
}

// Name returns the last segment of a normalized path, including any
// same-name-sibling index. The root has the empty name.
func Name(p string) string {
	if p == Root {
		return ""
	}
	return p[strings.LastIndexByte(p, '/')+1:]
}

// Split returns the parent path and the last segment.
func Split(p string) (parent, name string) {
	return Parent(p), Name(p)
}

// Depth returns the number of segments in a normalized path. The root has
// depth 0.
func Depth(p string) int {
	if p == Root {
		return 0
	}
	return strings.Count(p, "/")
}

// Child appends name to a normalized parent path.
func Child(parent, name string) string {
	if parent == Root {
		return Root + name
	}
	return parent + "/" + name
}

// IsDescendant reports whether p lies strictly below ancestor. Matching is
// done on segment boundaries: "/a/bb" is not a descendant of "/a/b".
func IsDescendant(p, ancestor string) bool {
	if ancestor == Root {
		return p != Root && strings.HasPrefix(p, Root)
	}
	return strings.HasPrefix(p, ancestor+"/")
}

// IsSelfOrDescendant reports whether p equals ancestor or lies below it.
func IsSelfOrDescendant(p, ancestor string) bool {
	return p == ancestor || IsDescendant(p, ancestor)
}

// Rebase rewrites p from the subtree rooted at from to the subtree rooted at
// to. It reports false, and returns p unchanged, when p is not from or one of
// its descendants.
func Rebase(p, from, to string) (string, bool) {
	if p == from {
		return to, true
	}
	if !IsDescendant(p, from) {
		return p, false
	}
	rest := p
	if from != Root {
		rest = strings.TrimPrefix(p, from)
	}
	if to == Root {
		return rest, true
	}
	return to + rest, true
}

// SplitName separates a segment into its name and same-name-sibling index.
// The index defaults to 1.
func SplitName(segment string) (name string, index int) {
	open := strings.IndexByte(segment, '[')
	if open < 0 || !strings.HasSuffix(segment, "]") {
		return segment, 1
	}
	n, err := strconv.Atoi(segment[open+1 : len(segment)-1])
	if err != nil {
		return segment, 1
	}
	return segment[:open], n
}

// LocalName strips the namespace prefix from a name.
func LocalName(name string) string {
	if i := strings.IndexByte(name, ':'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// ValidateName checks a single item name (no index) against the name grammar.
func ValidateName(name string) error {
	if err := validateQualifiedName(name); err != nil {
		return repoerr.At(repoerr.CodeInvalidPath, "validateName", name, "%s", err.Error())
	}
	return nil
}

type grammarError string

func (e grammarError) Error() string { return string(e) }

// canonicalSegment validates seg and strips a redundant "[1]" index.
func canonicalSegment(seg string) (string, error) {
	name := seg
	if open := strings.IndexByte(seg, '['); open >= 0 {
		if !strings.HasSuffix(seg, "]") {
			return "", grammarError("unterminated index in segment " + strconv.Quote(seg))
		}
		digits := seg[open+1 : len(seg)-1]
		n, err := strconv.Atoi(digits)
		if err != nil || n < 1 || digits[0] == '0' {
			return "", grammarError("invalid index in segment " + strconv.Quote(seg))
		}
		name = seg[:open]
		if err := validateQualifiedName(name); err != nil {
			return "", err
		}
		if n == 1 {
			return name, nil
		}
		return name + "[" + strconv.Itoa(n) + "]", nil
	}

	if err := validateQualifiedName(name); err != nil {
		return "", err
	}
	return name, nil
}

func validateQualifiedName(name string) error {
	if name == "" {
		return grammarError("empty name")
	}
	if !utf8.ValidString(name) {
		return grammarError("invalid UTF-8 in " + strconv.Quote(name))
	}
	local := name
	if i := strings.IndexByte(name, ':'); i >= 0 {
		prefix := name[:i]
		local = name[i+1:]
		if prefix == "" {
			return grammarError("empty prefix in " + strconv.Quote(name))
		}
		if strings.ContainsAny(prefix, invalidNameChars) || strings.IndexFunc(prefix, unicode.IsSpace) >= 0 {
			return grammarError("invalid prefix in " + strconv.Quote(name))
		}
	}
	if local == "" || local == "." || local == ".." {
		return grammarError("invalid local name in " + strconv.Quote(name))
	}
	if strings.ContainsAny(local, invalidNameChars) {
		return grammarError("illegal character in " + strconv.Quote(name))
	}
	if strings.IndexFunc(local, unicode.IsControl) >= 0 {
		return grammarError("control character in " + strconv.Quote(name))
	}
	r := []rune(local)
	if unicode.IsSpace(r[0]) || unicode.IsSpace(r[len(r)-1]) {
		return grammarError("leading or trailing whitespace in " + strconv.Quote(name))
	}
	return nil
}
