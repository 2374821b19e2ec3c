package ftpbackend

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/maponyatp/macscp/internal/xfs"
)

func TestProtocolReflectsExplicitFlag(t *testing.T) {
	assert.Equal(t, xfs.ProtocolFTP, New(Config{Host: "h"}).Protocol())
	assert.Equal(t, xfs.ProtocolFTPS, New(Config{Host: "h", Explicit: true}).Protocol())
}

func TestTLSConfigNilForPlainFTP(t *testing.T) {
	b := New(Config{Host: "h"})
	assert.Nil(t, b.tlsConfig())
}

func TestTLSConfigInsecureByDefault(t *testing.T) {
	b := New(Config{Host: "h", Explicit: true})
	cfg := b.tlsConfig()
	require := assert.New(t)
	require.NotNil(cfg)
	require.True(cfg.InsecureSkipVerify)
}

func TestTLSConfigStrictModeVerifies(t *testing.T) {
	b := New(Config{Host: "h", Explicit: true, StrictTLS: true})
	cfg := b.tlsConfig()
	assert.False(t, cfg.InsecureSkipVerify)
}

func TestConnNotConnectedWithoutConnect(t *testing.T) {
	b := New(Config{Host: "h"})
	_, err := b.conn()
	assert.ErrorIs(t, err, xfs.ErrNotConnected)
}

func TestMkdirAllNoopOnRoot(t *testing.T) {
	b := New(Config{Host: "h"})
	assert.NoError(t, b.mkdirAll(nil, "/"))
	assert.NoError(t, b.mkdirAll(nil, ""))
}

func TestExecAndShellUnsupported(t *testing.T) {
	b := New(Config{Host: "h"})
	_, err := b.ExecCommand(nil, "ls")
	assert.ErrorIs(t, err, xfs.ErrUnsupported)
	_, err = b.SpawnShell(nil, 24, 80)
	assert.ErrorIs(t, err, xfs.ErrUnsupported)
}
