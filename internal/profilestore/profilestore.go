// Package profilestore loads and saves named connection profiles,
// protecting secret fields at rest through internal/cryptostore. Its
// JSON-array-on-disk shape and atomic temp-file-then-rename save follow
// the same persistence idiom internal/queue uses for transfers.json.
package profilestore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/maponyatp/macscp/internal/cryptostore"
)

// Protocol identifies which backend a profile connects through.
type Protocol string

const (
	ProtocolSFTP Protocol = "sftp"
	ProtocolFTP  Protocol = "ftp"
	ProtocolFTPS Protocol = "ftps"
	ProtocolS3   Protocol = "s3"
)

func (p Protocol) cloud() bool {
	return p == ProtocolS3
}

// AuthMode identifies how a shell-family profile authenticates.
type AuthMode string

const (
	AuthPassword AuthMode = "password"
	AuthKey      AuthMode = "key"
	AuthAgent    AuthMode = "agent"
)

// Profile is a stored connection target. Password, KeyPassphrase, and
// SecretAccessKey hold cryptostore blobs on disk (or legacy plaintext,
// which Decrypt passes through unchanged) and cleartext in memory only
// after Load decrypts them while the vault is unlocked (cryptostore.Store.Set).
type Profile struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Protocol Protocol `json:"protocol"`

	// Shell-family fields (sftp, ftp, ftps).
	Host          string   `json:"host,omitempty"`
	Port          int      `json:"port,omitempty"`
	Username      string   `json:"username,omitempty"`
	AuthMode      AuthMode `json:"authMode,omitempty"`
	Password      string   `json:"password,omitempty"`
	KeyPath       string   `json:"keyPath,omitempty"`
	KeyPassphrase string   `json:"keyPassphrase,omitempty"`

	// Cloud fields (s3).
	AccessKeyID     string `json:"accessKeyId,omitempty"`
	SecretAccessKey string `json:"secretAccessKey,omitempty"`
	Region          string `json:"region,omitempty"`
	Bucket          string `json:"bucket,omitempty"`
	Endpoint        string `json:"endpoint,omitempty"`

	FolderLabel      string `json:"folderLabel,omitempty"`
	Favourite        bool   `json:"favourite,omitempty"`
	InitialRemoteDir string `json:"initialRemoteDir,omitempty"`
}

func defaultPort(p Protocol) int {
	switch p {
	case ProtocolSFTP:
		return 22
	case ProtocolFTP, ProtocolFTPS:
		return 21
	default:
		return 0
	}
}

// Validate enforces the spec §3 invariants: port in range, an
// authentication mode for shell-family protocols, a bucket for cloud.
func (p *Profile) Validate() error {
	if p.Port == 0 {
		p.Port = defaultPort(p.Protocol)
	}
	if !p.Protocol.cloud() {
		if p.Port < 1 || p.Port > 65535 {
			return errors.Errorf("profile %q: port %d out of range [1, 65535]", p.Name, p.Port)
		}
		if p.AuthMode == "" {
			return errors.Errorf("profile %q: authentication mode is required", p.Name)
		}
	} else {
		if p.Bucket == "" {
			return errors.Errorf("profile %q: bucket is required for s3 profiles", p.Name)
		}
	}
	return nil
}

// Store is the on-disk profile list, guarded against concurrent access
// within one process. Cross-process concurrency is not a design goal:
// saves are last-writer-wins, matching the single desktop-session
// assumption the rest of this module makes.
type Store struct {
	path   string
	vault  *cryptostore.Store
	mu     sync.Mutex
	loaded []Profile
}

// New returns a Store backed by path, decrypting/encrypting secret
// fields through vault whenever it is unlocked.
func New(path string, vault *cryptostore.Store) *Store {
	return &Store{path: path, vault: vault}
}

// Load reads every stored profile, decrypting secret fields if vault is
// unlocked. A missing file is not an error; it yields an empty list.
func (s *Store) Load() ([]Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.loaded = nil
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading profiles.json")
	}
	var profiles []Profile
	if err := json.Unmarshal(data, &profiles); err != nil {
		return nil, errors.Wrap(err, "parsing profiles.json")
	}

	out := make([]Profile, len(profiles))
	for i, p := range profiles {
		if !s.vault.Locked() {
			p.Password = s.decryptField(p.Password)
			p.KeyPassphrase = s.decryptField(p.KeyPassphrase)
			p.SecretAccessKey = s.decryptField(p.SecretAccessKey)
		}
		out[i] = p
	}
	s.loaded = profiles // keep encrypted form for later saves
	return out, nil
}

// decryptField returns blob's plaintext, or blob itself unchanged if
// decryption fails (wrong passphrase, tampered tag). A failed decrypt
// must never blank a secret field: the caller still holds the original
// ciphertext and can retry decryption, or persist it back unchanged via
// Upsert, once the correct passphrase unlocks the vault.
func (s *Store) decryptField(blob string) string {
	if blob == "" {
		return ""
	}
	plaintext, err := s.vault.Decrypt(blob)
	if err != nil {
		return blob
	}
	return plaintext
}

// Upsert validates profile, assigns it an ID if it has none, encrypts
// its secret fields if the vault is unlocked, and writes the full list
// back to disk.
func (s *Store) Upsert(profile Profile) (Profile, error) {
	if profile.ID == "" {
		profile.ID = uuid.NewString()
	}
	if err := profile.Validate(); err != nil {
		return Profile{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := profile
	if !s.vault.Locked() {
		var err error
		if stored.Password, err = s.encryptField(profile.Password); err != nil {
			return Profile{}, err
		}
		if stored.KeyPassphrase, err = s.encryptField(profile.KeyPassphrase); err != nil {
			return Profile{}, err
		}
		if stored.SecretAccessKey, err = s.encryptField(profile.SecretAccessKey); err != nil {
			return Profile{}, err
		}
	}

	replaced := false
	for i, existing := range s.loaded {
		if existing.ID == stored.ID {
			s.loaded[i] = stored
			replaced = true
			break
		}
	}
	if !replaced {
		s.loaded = append(s.loaded, stored)
	}

	if err := s.persistLocked(); err != nil {
		return Profile{}, err
	}
	return profile, nil
}

func (s *Store) encryptField(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	return s.vault.Encrypt(plaintext)
}

// Delete removes the profile with the given id, if present.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.loaded[:0]
	for _, p := range s.loaded {
		if p.ID != id {
			out = append(out, p)
		}
	}
	s.loaded = out
	return s.persistLocked()
}

func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.loaded, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshalling profiles.json")
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "creating profile store directory")
	}
	tmp, err := os.CreateTemp(dir, "profiles-*.json.tmp")
	if err != nil {
		return errors.Wrap(err, "creating temp profiles file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "writing temp profiles file")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "closing temp profiles file")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "renaming temp profiles file into place")
	}
	return nil
}
