package cryptostore

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStoreIsLocked(t *testing.T) {
	s := New()
	assert.True(t, s.Locked())
}

func TestSetUnlocksAndClearRelocks(t *testing.T) {
	s := New()
	s.Set("hunter2")
	assert.False(t, s.Locked())
	s.Clear()
	assert.True(t, s.Locked())
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	s := New()
	s.Set("hunter2")

	blob, err := s.Encrypt("s3cr3t-password")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(blob, ":"))

	plaintext, err := s.Decrypt(blob)
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t-password", plaintext)
}

func TestEncryptWhileLockedReturnsKindLocked(t *testing.T) {
	s := New()
	_, err := s.Encrypt("whatever")
	require.Error(t, err)
	var cerr *Error
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, KindLocked, cerr.Kind)
}

func TestDecryptMalformedBlobPassesThroughAsLegacyPlaintext(t *testing.T) {
	s := New()
	s.Set("hunter2")

	plaintext, err := s.Decrypt("not-an-encrypted-blob")
	require.NoError(t, err)
	assert.Equal(t, "not-an-encrypted-blob", plaintext)

	plaintext, err = s.Decrypt("aa:bb")
	require.NoError(t, err)
	assert.Equal(t, "aa:bb", plaintext)
}

func TestDecryptTamperedTagReturnsKindAuthTagMismatch(t *testing.T) {
	s := New()
	s.Set("hunter2")

	blob, err := s.Encrypt("payload")
	require.NoError(t, err)

	parts := strings.Split(blob, ":")
	require.Len(t, parts, 3)
	// Flip the last hex digit of the tag so it no longer authenticates.
	tag := []byte(parts[1])
	if tag[len(tag)-1] == '0' {
		tag[len(tag)-1] = '1'
	} else {
		tag[len(tag)-1] = '0'
	}
	tampered := strings.Join([]string{parts[0], string(tag), parts[2]}, ":")

	_, err = s.Decrypt(tampered)
	require.Error(t, err)
	var cerr *Error
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, KindAuthTagMismatch, cerr.Kind)
}

func TestDecryptWithWrongPassphraseFails(t *testing.T) {
	s := New()
	s.Set("correct-passphrase")
	blob, err := s.Encrypt("payload")
	require.NoError(t, err)

	other := New()
	other.Set("wrong-passphrase")
	_, err = other.Decrypt(blob)
	require.Error(t, err)
	var cerr *Error
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, KindAuthTagMismatch, cerr.Kind)
}

func TestRotateReencryptsUnderNewPassphrase(t *testing.T) {
	old := New()
	old.Set("old-pass")
	blob, err := old.Encrypt("my-secret")
	require.NoError(t, err)

	rotated, err := Rotate("old-pass", "new-pass", []string{blob})
	require.NoError(t, err)
	require.Len(t, rotated, 1)

	fresh := New()
	fresh.Set("new-pass")
	plaintext, err := fresh.Decrypt(rotated[0])
	require.NoError(t, err)
	assert.Equal(t, "my-secret", plaintext)

	// The old passphrase no longer opens the rotated blob.
	stale := New()
	stale.Set("old-pass")
	_, err = stale.Decrypt(rotated[0])
	require.Error(t, err)
}
