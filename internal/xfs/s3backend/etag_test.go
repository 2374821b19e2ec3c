package s3backend

import (
	"crypto/md5"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultipartMD5SinglePartMatchesPlainMD5(t *testing.T) {
	data := []byte("hello macscp")
	m := newMultipartMD5(5 * 1024 * 1024)
	_, err := m.Write(data)
	require.NoError(t, err)

	sum := md5.Sum(data)
	assert.Equal(t, hex.EncodeToString(sum[:]), m.etag())
}

func TestMultipartMD5MultiplePartsAppendsPartCount(t *testing.T) {
	partSize := 8
	m := newMultipartMD5(partSize)

	part1 := []byte("AAAAAAAA") // exactly one part
	part2 := []byte("BBBB")     // partial second part
	_, err := m.Write(part1)
	require.NoError(t, err)
	_, err = m.Write(part2)
	require.NoError(t, err)

	tag := m.etag()
	assert.Contains(t, tag, "-2")

	h1 := md5.Sum(part1)
	h2 := md5.Sum(part2)
	finalInput := append(append([]byte{}, h1[:]...), h2[:]...)
	expectedSum := md5.Sum(finalInput)
	assert.Equal(t, hex.EncodeToString(expectedSum[:])+"-2", tag)
}

func TestMultipartMD5WriteAcrossPartBoundaryInOneCall(t *testing.T) {
	partSize := 4
	m := newMultipartMD5(partSize)
	// A single Write spanning exactly two full parts plus a partial third.
	data := []byte("AAAA" + "BBBB" + "C")
	_, err := m.Write(data)
	require.NoError(t, err)

	tag := m.etag()
	assert.Contains(t, tag, "-3")
}

func TestMultipartMD5ExactMultipleOfPartSizeHasNoTrailingPartial(t *testing.T) {
	partSize := 4
	m := newMultipartMD5(partSize)
	data := []byte("AAAABBBB")
	_, err := m.Write(data)
	require.NoError(t, err)

	assert.Contains(t, m.etag(), "-2")
}
