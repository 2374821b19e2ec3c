package sftpbackend

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maponyatp/macscp/internal/xfs"
)

func TestClassifyFileErrNotFound(t *testing.T) {
	err := classifyFileErr(os.ErrNotExist)
	assert.Equal(t, xfs.KindNotFound, xfs.KindOf(err))
}

func TestClassifyFileErrFallsBackToProtocol(t *testing.T) {
	err := classifyFileErr(errors.New("something unexpected"))
	assert.Equal(t, xfs.KindProtocol, xfs.KindOf(err))
}

func TestBuildAuthMethodsRequiresAMode(t *testing.T) {
	_, err := buildAuthMethods(Config{Host: "example.com", User: "bob"})
	require.Error(t, err)
}

func TestBuildAuthMethodsPassword(t *testing.T) {
	methods, err := buildAuthMethods(Config{Host: "example.com", User: "bob", Password: "hunter2"})
	require.NoError(t, err)
	assert.Len(t, methods, 1)
}

func TestBuildAuthMethodsKeyFileMissing(t *testing.T) {
	_, err := buildAuthMethods(Config{Host: "example.com", User: "bob", KeyFile: "/nonexistent/key"})
	require.Error(t, err)
}

func TestLockDirSerialisesSamePath(t *testing.T) {
	b := New(Config{Host: "example.com", User: "bob"})
	b.lockDir("/a")
	done := make(chan struct{})
	go func() {
		b.lockDir("/a")
		close(done)
		b.unlockDir("/a")
	}()
	select {
	case <-done:
		t.Fatal("second lockDir on same path returned before first unlockDir")
	default:
	}
	b.unlockDir("/a")
	<-done
}
