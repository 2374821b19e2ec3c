package s3backend

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/stretchr/testify/assert"

	"github.com/maponyatp/macscp/internal/xfs"
)

func TestClassifyErrMapsKnownCodes(t *testing.T) {
	cases := map[string]xfs.Kind{
		"NoSuchKey":             xfs.KindNotFound,
		"NoSuchBucket":          xfs.KindNotFound,
		"AccessDenied":          xfs.KindPermission,
		"InvalidAccessKeyId":    xfs.KindAuthFailed,
		"SignatureDoesNotMatch": xfs.KindAuthFailed,
		"RequestTimeout":        xfs.KindNetworkDropped,
	}
	for code, want := range cases {
		err := classifyErr(awserr.New(code, "boom", nil))
		assert.Equal(t, want, xfs.KindOf(err), code)
	}
}

func TestClassifyErrFallsBackToProtocol(t *testing.T) {
	err := classifyErr(awserr.New("SomeWeirdCode", "boom", nil))
	assert.Equal(t, xfs.KindProtocol, xfs.KindOf(err))
}

func TestConnNotConnectedWithoutConnect(t *testing.T) {
	b := New(Config{Bucket: "test"})
	_, err := b.conn()
	assert.ErrorIs(t, err, xfs.ErrNotConnected)
}

func TestProgressReaderSignalsResetOnceThenClears(t *testing.T) {
	var resets []bool
	pr := &progressReader{
		r:      strings.NewReader("hello world"),
		ctx:    context.Background(),
		cancel: xfs.NewCancelToken(),
		total:  11,
		reset:  true,
		progress: func(transferred, chunk, total int64, reset bool) {
			resets = append(resets, reset)
		},
	}
	buf := make([]byte, 4)
	_, err := pr.Read(buf)
	assert.NoError(t, err)
	_, err = pr.Read(buf)
	assert.NoError(t, err)
	assert.Equal(t, []bool{true, false}, resets)
}

func TestProgressReaderStopsOnCancel(t *testing.T) {
	cancel := xfs.NewCancelToken()
	cancel.Cancel()
	pr := &progressReader{r: strings.NewReader("hello"), ctx: context.Background(), cancel: cancel}
	n, err := pr.Read(make([]byte, 4))
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)
	assert.True(t, pr.cancelled)
}
