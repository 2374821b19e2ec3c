// Package settings loads and saves the application-level preferences
// record, using the same read-at-startup/write-on-save shape as
// internal/profilestore but without any secret fields to protect.
package settings

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Theme is the UI color scheme preference.
type Theme string

const (
	ThemeSystem Theme = "system"
	ThemeDark   Theme = "dark"
	ThemeLight  Theme = "light"
)

// Settings holds the spec §3 preference fields.
type Settings struct {
	Theme            Theme  `json:"theme"`
	ShowHidden       bool   `json:"showHidden"`
	DefaultLocalPath string `json:"defaultLocalPath"`
	ConfirmOnDelete  bool   `json:"confirmOnDelete"`
}

// Default returns the preference set a fresh install starts with.
func Default() Settings {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Settings{
		Theme:            ThemeSystem,
		ShowHidden:       false,
		DefaultLocalPath: home,
		ConfirmOnDelete:  true,
	}
}

// Load reads settings.json at path, falling back to Default() if the
// file does not exist yet.
func Load(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return Settings{}, errors.Wrap(err, "reading settings.json")
	}
	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, errors.Wrap(err, "parsing settings.json")
	}
	return s, nil
}

// Save writes s to path via a temp-file-then-rename so a crash mid-write
// never leaves a truncated settings.json behind.
func Save(path string, s Settings) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshalling settings.json")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "creating settings directory")
	}
	tmp, err := os.CreateTemp(dir, "settings-*.json.tmp")
	if err != nil {
		return errors.Wrap(err, "creating temp settings file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "writing temp settings file")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "closing temp settings file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "renaming temp settings file into place")
	}
	return nil
}
