package sftpbackend

import (
	"os"

	"github.com/pkg/errors"
	sshagent "github.com/xanzy/ssh-agent"
	"golang.org/x/crypto/ssh"
)

// Config describes how to connect and authenticate. Exactly one of
// Password, KeyFile, or UseAgent should be set, matching the profile
// invariant in spec §3 (authentication mode is non-empty and exclusive
// for shell-family protocols).
type Config struct {
	Host string
	Port string // default "22"
	User string

	Password string // plaintext, already revealed from the vault

	KeyFile       string
	KeyPassphrase string // plaintext passphrase for KeyFile, if encrypted

	UseAgent bool
}

// buildAuthMethods resolves the auth priority from spec §6: agent,
// then private key (optionally passphrase-protected), then password.
func buildAuthMethods(cfg Config) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if cfg.UseAgent {
		agentClient, _, err := sshagent.New()
		if err != nil {
			return nil, errors.Wrap(err, "couldn't connect to ssh-agent")
		}
		signers, err := agentClient.Signers()
		if err != nil {
			return nil, errors.Wrap(err, "couldn't read ssh-agent signers")
		}
		methods = append(methods, ssh.PublicKeys(signers...))
		return methods, nil
	}

	if cfg.KeyFile != "" {
		key, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read private key file")
		}
		var signer ssh.Signer
		if cfg.KeyPassphrase == "" {
			signer, err = ssh.ParsePrivateKey(key)
		} else {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(cfg.KeyPassphrase))
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse private key file")
		}
		methods = append(methods, ssh.PublicKeys(signer))
		return methods, nil
	}

	if cfg.Password != "" {
		methods = append(methods, ssh.Password(cfg.Password))
		return methods, nil
	}

	return nil, errors.New("sftp: no authentication mode configured")
}
