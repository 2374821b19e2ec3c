package xfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePath(t *testing.T) {
	for _, tc := range []struct {
		in, want string
	}{
		{"a//b/", "/a/b"},
		{"/a/b", "/a/b"},
		{"", "/"},
		{"/", "/"},
		{"a\\b", "/a/b"},
		{"///a///b///", "/a/b"},
	} {
		assert.Equal(t, tc.want, NormalizePath(tc.in), tc.in)
	}
}

func TestJoinPath(t *testing.T) {
	assert.Equal(t, "/a/b/c", JoinPath("a//b/", "/c"))
	assert.Equal(t, "/a/b/c", JoinPath("/a/b", "c"))
	assert.Equal(t, "/c", JoinPath("/", "c"))
	assert.Equal(t, "/a", JoinPath("/a", ""))
}

func TestToObjectKey(t *testing.T) {
	assert.Equal(t, "a/b", ToObjectKey("/a/b"))
	assert.Equal(t, "", ToObjectKey("/"))
}
