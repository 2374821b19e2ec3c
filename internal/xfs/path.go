package xfs

import (
	"regexp"
	"strings"
)

var multiSlash = regexp.MustCompile(`/+`)

// NormalizePath collapses repeated "/" and ensures remote paths always
// use POSIX separators. "a//b/" normalises to "/a/b".
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = multiSlash.ReplaceAllString(p, "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

// JoinPath normalises base then appends child, collapsing any slashes
// introduced at the seam.
func JoinPath(base, child string) string {
	base = NormalizePath(base)
	child = strings.TrimPrefix(child, "/")
	if child == "" {
		return base
	}
	if base == "/" {
		return NormalizePath("/" + child)
	}
	return NormalizePath(base + "/" + child)
}

// ToObjectKey strips the leading "/" a normalised path carries, for
// backends (S3) that address by key rather than path.
func ToObjectKey(p string) string {
	return strings.TrimPrefix(NormalizePath(p), "/")
}
