// Package sftpbackend implements the xfs.Backend capability set over
// SSH/SFTP using github.com/pkg/sftp, adapted from the teacher's
// connection-pooling sftp backend.
package sftpbackend

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/pkg/sftp"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/maponyatp/macscp/internal/xfs"
)

var log = logrus.WithField("pkg", "sftpbackend")

const dirBit = 0x4000

// Backend is the SFTP implementation of xfs.Backend. Metadata calls
// (list, stat, small read/write) share one *sftp.Client; shell and exec
// open their own sessions on the shared SSH connection; every bulk
// transfer opens its own *sftp.Client so concurrent transfers never
// queue behind each other's packets.
type Backend struct {
	cfg       Config
	sshConfig *ssh.ClientConfig

	mu        sync.Mutex
	sshClient *sftp.Client
	conn      *ssh.Client

	dirLocksMu sync.Mutex
	dirLocks   map[string]chan struct{}
}

// New builds an unconnected backend from cfg. Call Connect before use.
func New(cfg Config) *Backend {
	if cfg.Port == "" {
		cfg.Port = "22"
	}
	return &Backend{cfg: cfg, dirLocks: make(map[string]chan struct{})}
}

// lockDir serialises mkdirAll calls against the same remote path so
// concurrent recursive uploads don't race to create the same directory
// twice. Each path gets its own channel-as-ticket: a goroutine that
// finds one already held waits on it to close, then retries.
func (b *Backend) lockDir(dir string) {
	b.dirLocksMu.Lock()
	for {
		ch, held := b.dirLocks[dir]
		if !held {
			break
		}
		b.dirLocksMu.Unlock()
		<-ch
		b.dirLocksMu.Lock()
	}
	b.dirLocks[dir] = make(chan struct{})
	b.dirLocksMu.Unlock()
}

func (b *Backend) unlockDir(dir string) {
	b.dirLocksMu.Lock()
	ch, held := b.dirLocks[dir]
	if !held {
		b.dirLocksMu.Unlock()
		panic("sftpbackend: unlockDir before lockDir for " + dir)
	}
	close(ch)
	delete(b.dirLocks, dir)
	b.dirLocksMu.Unlock()
}

func (b *Backend) Protocol() xfs.Protocol { return xfs.ProtocolSFTP }

func (b *Backend) Connect(ctx context.Context) error {
	methods, err := buildAuthMethods(b.cfg)
	if err != nil {
		return xfs.New(xfs.KindAuthFailed, "building auth methods", err)
	}
	sshConfig := &ssh.ClientConfig{
		User:            b.cfg.User,
		Auth:            methods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         30 * time.Second,
	}
	addr := net.JoinHostPort(b.cfg.Host, b.cfg.Port)
	conn, err := ssh.Dial("tcp", addr, sshConfig)
	if err != nil {
		return classifyDialErr(err)
	}
	client, err := sftp.NewClient(conn)
	if err != nil {
		_ = conn.Close()
		return xfs.New(xfs.KindProtocol, "sftp handshake failed", err)
	}
	b.mu.Lock()
	b.conn = conn
	b.sshClient = client
	b.sshConfig = sshConfig
	b.mu.Unlock()
	log.WithField("host", b.cfg.Host).Info("connected")
	return nil
}

func classifyDialErr(err error) error {
	msg := err.Error()
	switch {
	case containsAny(msg, "unable to authenticate", "permission denied", "auth"):
		return xfs.New(xfs.KindAuthFailed, "ssh authentication failed", err)
	case containsAny(msg, "no such host", "network is unreachable", "connection refused", "i/o timeout"):
		return xfs.New(xfs.KindNetworkUnreachable, "ssh dial failed", err)
	default:
		return xfs.New(xfs.KindProtocol, "ssh dial failed", err)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) && indexOf(s, sub) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func (b *Backend) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var errs []error
	if b.sshClient != nil {
		if err := b.sshClient.Close(); err != nil {
			errs = append(errs, err)
		}
		b.sshClient = nil
	}
	if b.conn != nil {
		if err := b.conn.Close(); err != nil {
			errs = append(errs, err)
		}
		b.conn = nil
	}
	if len(errs) > 0 {
		return xfs.New(xfs.KindInternal, "disconnect", errs[0])
	}
	return nil
}

func (b *Backend) client() (*sftp.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sshClient == nil {
		return nil, xfs.ErrNotConnected
	}
	return b.sshClient, nil
}

// bulkClient opens a fresh *sftp.Client over the existing SSH
// connection for a long-running transfer, so it doesn't share
// sequence numbers with metadata calls or other transfers in flight.
func (b *Backend) bulkClient() (*sftp.Client, error) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return nil, xfs.ErrNotConnected
	}
	c, err := sftp.NewClient(conn)
	if err != nil {
		return nil, xfs.New(xfs.KindProtocol, "opening bulk sftp channel", err)
	}
	return c, nil
}

func (b *Backend) List(ctx context.Context, remotePath string) ([]xfs.DirectoryEntry, error) {
	c, err := b.client()
	if err != nil {
		return nil, err
	}
	dir := remotePath
	if dir == "" {
		dir = "."
	}
	infos, err := c.ReadDir(dir)
	if err != nil {
		return nil, classifyFileErr(err)
	}
	entries := make([]xfs.DirectoryEntry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, xfs.DirectoryEntry{
			Name:       info.Name(),
			IsDir:      info.IsDir() || info.Mode()&dirBit != 0,
			Size:       info.Size(),
			ModifiedAt: info.ModTime().UTC(),
		})
	}
	return entries, nil
}

func (b *Backend) Stat(ctx context.Context, remotePath string) (xfs.RemoteStat, error) {
	c, err := b.client()
	if err != nil {
		return xfs.RemoteStat{}, err
	}
	info, err := c.Stat(remotePath)
	if err != nil {
		return xfs.RemoteStat{}, classifyFileErr(err)
	}
	return xfs.RemoteStat{
		Size:      info.Size(),
		ModTime:   info.ModTime().UTC(),
		IsDir:     info.IsDir(),
		IsRegular: info.Mode().IsRegular(),
	}, nil
}

func classifyFileErr(err error) error {
	if os.IsNotExist(err) {
		return xfs.New(xfs.KindNotFound, "remote path not found", err)
	}
	if statusErr, ok := err.(*sftp.StatusError); ok && statusErr.Code == 3 {
		return xfs.New(xfs.KindPermission, "sftp permission denied", err)
	}
	if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.ErrUnexpectedEOF) {
		return xfs.New(xfs.KindNetworkDropped, "connection dropped mid-transfer", err)
	}
	return xfs.New(xfs.KindProtocol, "sftp operation failed", err)
}

func (b *Backend) mkdirAll(c *sftp.Client, dir string) error {
	b.lockDir(dir)
	defer b.unlockDir(dir)
	if dir == "" || dir == "." || dir == "/" {
		return nil
	}
	if info, err := c.Stat(dir); err == nil && info.IsDir() {
		return nil
	}
	if err := b.mkdirAll(c, path.Dir(dir)); err != nil {
		return err
	}
	err := c.Mkdir(dir)
	if err != nil && !os.IsExist(err) {
		return classifyFileErr(err)
	}
	return nil
}

func (b *Backend) Get(ctx context.Context, remotePath, localPath string, cancel *xfs.CancelToken) error {
	return b.GetWithProgress(ctx, remotePath, localPath, 0, cancel, nil)
}

func (b *Backend) Put(ctx context.Context, localPath, remotePath string, cancel *xfs.CancelToken) error {
	return b.PutWithProgress(ctx, localPath, remotePath, 0, cancel, nil)
}

func (b *Backend) GetWithProgress(ctx context.Context, remotePath, localPath string, offset int64, cancel *xfs.CancelToken, progress xfs.ProgressFunc) error {
	bc, err := b.bulkClient()
	if err != nil {
		return err
	}
	defer func() { _ = bc.Close() }()

	info, err := bc.Stat(remotePath)
	if err != nil {
		return classifyFileErr(err)
	}
	if info.IsDir() {
		return b.getDir(ctx, bc, remotePath, localPath, cancel, progress)
	}

	remote, err := bc.Open(remotePath)
	if err != nil {
		return classifyFileErr(err)
	}
	defer func() { _ = remote.Close() }()

	flags := os.O_WRONLY | os.O_CREATE
	if offset > 0 {
		flags |= os.O_APPEND
		if _, err := remote.Seek(offset, io.SeekStart); err != nil {
			return xfs.New(xfs.KindInternal, "seeking remote read offset", err)
		}
	} else {
		flags |= os.O_TRUNC
	}
	local, err := os.OpenFile(localPath, flags, 0o644)
	if err != nil {
		return xfs.New(xfs.KindInternal, "opening local file", err)
	}
	defer func() { _ = local.Close() }()

	return copyWithProgress(ctx, local, remote, offset, info.Size(), cancel, progress, false)
}

func (b *Backend) getDir(ctx context.Context, bc *sftp.Client, remotePath, localPath string, cancel *xfs.CancelToken, progress xfs.ProgressFunc) error {
	if err := os.MkdirAll(localPath, 0o755); err != nil {
		return xfs.New(xfs.KindInternal, "creating local directory", err)
	}
	infos, err := bc.ReadDir(remotePath)
	if err != nil {
		return classifyFileErr(err)
	}
	for _, info := range infos {
		if cancel.Cancelled() {
			return xfs.ErrCancelled
		}
		childRemote := path.Join(remotePath, info.Name())
		childLocal := path.Join(localPath, info.Name())
		if info.IsDir() {
			if err := b.getDir(ctx, bc, childRemote, childLocal, cancel, progress); err != nil {
				return err
			}
			continue
		}
		if err := b.GetWithProgress(ctx, childRemote, childLocal, 0, cancel, progress); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) PutWithProgress(ctx context.Context, localPath, remotePath string, offset int64, cancel *xfs.CancelToken, progress xfs.ProgressFunc) error {
	bc, err := b.bulkClient()
	if err != nil {
		return err
	}
	defer func() { _ = bc.Close() }()

	localInfo, err := os.Stat(localPath)
	if err != nil {
		return xfs.New(xfs.KindInternal, "statting local path", err)
	}
	if localInfo.IsDir() {
		return b.putDir(ctx, bc, localPath, remotePath, cancel, progress)
	}

	if err := b.mkdirAll(bc, path.Dir(remotePath)); err != nil {
		return err
	}
	flags := os.O_WRONLY | os.O_CREATE
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	remote, err := bc.OpenFile(remotePath, flags)
	if err != nil {
		return classifyFileErr(err)
	}
	defer func() { _ = remote.Close() }()

	local, err := os.Open(localPath)
	if err != nil {
		return xfs.New(xfs.KindInternal, "opening local file", err)
	}
	defer func() { _ = local.Close() }()
	if offset > 0 {
		if _, err := local.Seek(offset, io.SeekStart); err != nil {
			return xfs.New(xfs.KindInternal, "seeking local read offset", err)
		}
	}

	return copyWithProgress(ctx, remote, local, offset, localInfo.Size(), cancel, progress, false)
}

func (b *Backend) putDir(ctx context.Context, bc *sftp.Client, localPath, remotePath string, cancel *xfs.CancelToken, progress xfs.ProgressFunc) error {
	if err := b.mkdirAll(bc, remotePath); err != nil {
		return err
	}
	entries, err := os.ReadDir(localPath)
	if err != nil {
		return xfs.New(xfs.KindInternal, "listing local directory", err)
	}
	for _, entry := range entries {
		if cancel.Cancelled() {
			return xfs.ErrCancelled
		}
		childLocal := path.Join(localPath, entry.Name())
		childRemote := path.Join(remotePath, entry.Name())
		if entry.IsDir() {
			if err := b.putDir(ctx, bc, childLocal, childRemote, cancel, progress); err != nil {
				return err
			}
			continue
		}
		if err := b.PutWithProgress(ctx, childLocal, childRemote, 0, cancel, progress); err != nil {
			return err
		}
	}
	return nil
}

// copyWithProgress streams src to dst, honouring cancel and reporting
// progress in chunks. startTransferred is the byte count already on
// disk before this call (the resume offset); total is the full file
// size, 0 if unknown.
func copyWithProgress(ctx context.Context, dst io.Writer, src io.Reader, startTransferred, total int64, cancel *xfs.CancelToken, progress xfs.ProgressFunc, reset bool) error {
	buf := make([]byte, 256*1024)
	transferred := startTransferred
	for {
		select {
		case <-cancel.Done():
			return xfs.ErrCancelled
		case <-ctx.Done():
			return xfs.New(xfs.KindCancelled, "context cancelled", ctx.Err())
		default:
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return xfs.New(xfs.KindNetworkDropped, "write failed mid-transfer", err)
			}
			transferred += int64(n)
			if progress != nil {
				progress(transferred, int64(n), total, reset)
				reset = false
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return xfs.New(xfs.KindNetworkDropped, "read failed mid-transfer", readErr)
		}
	}
}

func (b *Backend) ReadFile(ctx context.Context, remotePath string) ([]byte, error) {
	c, err := b.client()
	if err != nil {
		return nil, err
	}
	f, err := c.Open(remotePath)
	if err != nil {
		return nil, classifyFileErr(err)
	}
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, xfs.New(xfs.KindNetworkDropped, "reading remote file", err)
	}
	return data, nil
}

func (b *Backend) WriteFile(ctx context.Context, remotePath string, data []byte) error {
	c, err := b.client()
	if err != nil {
		return err
	}
	if err := b.mkdirAll(c, path.Dir(remotePath)); err != nil {
		return err
	}
	f, err := c.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return classifyFileErr(err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Write(data); err != nil {
		return xfs.New(xfs.KindNetworkDropped, "writing remote file", err)
	}
	return nil
}

func (b *Backend) ReadBuffer(ctx context.Context, remotePath string, maxBytes int64) ([]byte, error) {
	c, err := b.client()
	if err != nil {
		return nil, err
	}
	info, err := c.Stat(remotePath)
	if err != nil {
		return nil, classifyFileErr(err)
	}
	if info.Size() > maxBytes {
		return nil, xfs.Newf(xfs.KindInternal, "file size %d exceeds cap %d", info.Size(), maxBytes)
	}
	return b.ReadFile(ctx, remotePath)
}

func (b *Backend) ExecCommand(ctx context.Context, command string) ([]byte, error) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return nil, xfs.ErrNotConnected
	}
	session, err := conn.NewSession()
	if err != nil {
		return nil, xfs.New(xfs.KindProtocol, "opening exec session", err)
	}
	defer func() { _ = session.Close() }()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if err := session.Run(command); err != nil {
		return nil, xfs.New(xfs.KindProtocol, "command failed: "+stderr.String(), err)
	}
	return stdout.Bytes(), nil
}

func (b *Backend) SpawnShell(ctx context.Context, rows, cols int) (xfs.ShellChannel, error) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return nil, xfs.ErrNotConnected
	}
	return spawnShell(conn, rows, cols)
}
