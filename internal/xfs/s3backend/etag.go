package s3backend

import (
	"crypto/md5"
	"encoding"
	"encoding/hex"
	"hash"
	"strconv"
)

// multipartMD5 computes the ETag S3 reports for a multipart upload: MD5
// each part, then MD5 the concatenation of those part digests, hyphenated
// with the part count. A single-part upload (or any write shorter than
// partSize) reports a bare hex MD5 with no suffix, matching what S3
// itself returns for a non-multipart PUT.
type multipartMD5 struct {
	partSizeHashed int
	partsCount     int
	partSize       int
	digest         hash.Hash
	finalDigest    hash.Hash
}

func newMultipartMD5(partSize int) *multipartMD5 {
	return &multipartMD5{partSize: partSize, digest: md5.New()}
}

func (m *multipartMD5) final() hash.Hash {
	if m.finalDigest == nil {
		m.finalDigest = md5.New()
	}
	return m.finalDigest
}

func (m *multipartMD5) partsWritten() int {
	if m.partSizeHashed == 0 {
		return m.partsCount
	}
	return m.partsCount + 1
}

// Write feeds len(p) bytes of upload body through the per-part MD5,
// rolling over to a new part digest every partSize bytes. A full part
// is closed only once a byte of the next part arrives, so a body of
// exactly one part still hashes as a single plain MD5.
func (m *multipartMD5) Write(p []byte) (int, error) {
	if m.partSize == 0 {
		return m.digest.Write(p)
	}
	written := 0
	for len(p) > 0 {
		if m.partSizeHashed == m.partSize {
			m.final().Write(m.digest.Sum(nil))
			m.partsCount++
			m.digest = md5.New()
			m.partSizeHashed = 0
		}
		remaining := m.partSize - m.partSizeHashed
		chunk := p
		if len(chunk) > remaining {
			chunk = chunk[:remaining]
		}
		n, _ := m.digest.Write(chunk)
		written += n
		m.partSizeHashed += n
		p = p[n:]
	}
	return written, nil
}

// sum returns the final digest bytes, cloning the in-progress final
// digest so a later Write can still extend it.
func (m *multipartMD5) sum() []byte {
	if m.partSize == 0 || m.partsCount == 0 {
		return m.digest.Sum(nil)
	}
	if m.partSizeHashed == 0 {
		return m.final().Sum(nil)
	}
	marshaled, _ := m.final().(encoding.BinaryMarshaler).MarshalBinary()
	clone := md5.New()
	_ = clone.(encoding.BinaryUnmarshaler).UnmarshalBinary(marshaled)
	clone.Write(m.digest.Sum(nil))
	return clone.Sum(nil)
}

// etag renders the digest the way S3 reports it in the ETag header:
// quote-free hex, hyphenated with the part count for multipart uploads.
func (m *multipartMD5) etag() string {
	sum := hex.EncodeToString(m.sum())
	if parts := m.partsWritten(); parts > 1 {
		return sum + "-" + strconv.Itoa(parts)
	}
	return sum
}
