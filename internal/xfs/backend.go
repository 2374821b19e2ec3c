package xfs

import "context"

// Backend is the uniform capability set every protocol implementation
// exposes. Operations a backend cannot perform (ExecCommand on S3,
// SpawnShell outside sftp) return ErrUnsupported rather than being
// absent at the type level, so the dispatcher can route uniformly and
// only fail at call time.
type Backend interface {
	// Protocol identifies which wire implementation this is.
	Protocol() Protocol

	// Connect establishes the backend's transport. Called at most once
	// per instance; callers pass a freshly built Backend to each
	// Dispatcher.Connect.
	Connect(ctx context.Context) error

	// Disconnect tears the transport down. Idempotent.
	Disconnect() error

	List(ctx context.Context, remotePath string) ([]DirectoryEntry, error)
	Stat(ctx context.Context, remotePath string) (RemoteStat, error)

	Get(ctx context.Context, remotePath, localPath string, cancel *CancelToken) error
	Put(ctx context.Context, localPath, remotePath string, cancel *CancelToken) error

	// GetWithProgress/PutWithProgress additionally support resuming from
	// a byte offset. A backend that cannot honour offset on upload (S3)
	// must ignore it, restart from zero, and report reset=true on the
	// first progress callback.
	GetWithProgress(ctx context.Context, remotePath, localPath string, offset int64, cancel *CancelToken, progress ProgressFunc) error
	PutWithProgress(ctx context.Context, localPath, remotePath string, offset int64, cancel *CancelToken, progress ProgressFunc) error

	ReadFile(ctx context.Context, remotePath string) ([]byte, error)
	WriteFile(ctx context.Context, remotePath string, data []byte) error

	// ReadBuffer is a size-capped binary whole-file read; the caller is
	// responsible for enforcing the cap before it reaches IPC.
	ReadBuffer(ctx context.Context, remotePath string, maxBytes int64) ([]byte, error)

	// ExecCommand runs a synchronous remote command (shell-family only).
	ExecCommand(ctx context.Context, command string) ([]byte, error)

	// SpawnShell opens an interactive channel (shell-family only). Wiring
	// the channel into a PTY multiplexer is outside this package.
	SpawnShell(ctx context.Context, rows, cols int) (ShellChannel, error)
}

// ShellChannel is the opaque capability a shell-family backend exposes
// for interactive sessions. The presentation-layer PTY multiplexer that
// drives it is out of scope here.
type ShellChannel interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Resize(rows, cols int) error
	Close() error
}
