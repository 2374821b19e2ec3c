package xfs

import "time"

// DirectoryEntry is one listing row. Listing order is not promised;
// callers sort if they need a stable order.
type DirectoryEntry struct {
	Name       string
	IsDir      bool
	Size       int64
	ModifiedAt time.Time
}

// RemoteStat describes a single remote path.
type RemoteStat struct {
	Size       int64
	ModTime    time.Time
	IsDir      bool
	IsRegular  bool
}

// ProgressFunc reports transfer progress. total is 0 when the size isn't
// known up front. reset is true the one time a backend that cannot truly
// resume (S3 uploads) restarts accounting from zero mid-transfer.
type ProgressFunc func(transferred, chunk, total int64, reset bool)

// CancelToken is a cooperative cancellation signal passed into every
// long-running backend call. A zero value is never cancelled.
type CancelToken struct {
	ch chan struct{}
}

// NewCancelToken returns a token that is not yet cancelled.
func NewCancelToken() *CancelToken {
	return &CancelToken{ch: make(chan struct{})}
}

// Cancel fires the token. Safe to call more than once.
func (c *CancelToken) Cancel() {
	select {
	case <-c.ch:
	default:
		close(c.ch)
	}
}

// Done returns a channel closed once Cancel has been called.
func (c *CancelToken) Done() <-chan struct{} {
	if c == nil {
		return nil
	}
	return c.ch
}

// Cancelled reports whether Cancel has fired.
func (c *CancelToken) Cancelled() bool {
	if c == nil {
		return false
	}
	select {
	case <-c.ch:
		return true
	default:
		return false
	}
}

// Direction of a transfer task.
type Direction string

const (
	Upload   Direction = "upload"
	Download Direction = "download"
)

// Protocol tags the four supported backends.
type Protocol string

const (
	ProtocolSFTP Protocol = "sftp"
	ProtocolFTP  Protocol = "ftp"
	ProtocolFTPS Protocol = "ftps"
	ProtocolS3   Protocol = "s3"
)
