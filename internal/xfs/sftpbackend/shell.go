package sftpbackend

import (
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
)

// shellChannel wraps an interactive SSH session in PTY mode. It
// implements xfs.ShellChannel; the PTY multiplexing UI that drives it
// lives outside this package.
type shellChannel struct {
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
}

func spawnShell(client *ssh.Client, rows, cols int) (*shellChannel, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, errors.Wrap(err, "spawn_shell: new session failed")
	}
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty("xterm-256color", rows, cols, modes); err != nil {
		_ = session.Close()
		return nil, errors.Wrap(err, "spawn_shell: request pty failed")
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		_ = session.Close()
		return nil, errors.Wrap(err, "spawn_shell: stdin pipe failed")
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		_ = session.Close()
		return nil, errors.Wrap(err, "spawn_shell: stdout pipe failed")
	}
	if err := session.Shell(); err != nil {
		_ = session.Close()
		return nil, errors.Wrap(err, "spawn_shell: start shell failed")
	}
	return &shellChannel{session: session, stdin: stdin, stdout: stdout}, nil
}

func (s *shellChannel) Read(p []byte) (int, error)  { return s.stdout.Read(p) }
func (s *shellChannel) Write(p []byte) (int, error) { return s.stdin.Write(p) }

func (s *shellChannel) Resize(rows, cols int) error {
	return s.session.WindowChange(rows, cols)
}

func (s *shellChannel) Close() error {
	return s.session.Close()
}
