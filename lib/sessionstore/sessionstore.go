// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sessionstore persists the single authenticated session record
// across restarts.
//
// The record is a small JSON document at a well-known path, written
// owner-only (0600 in a 0700 directory). An absent, unreadable, or
// malformed record loads as "no session": the worst outcome of a bad
// file is a login prompt, never a startup failure. Optionally the
// record is sealed with age to an X25519 identity kept in a separate
// key file.
package sessionstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/parley/lib/ref"
	"github.com/bureau-foundation/parley/lib/sealed"
	"github.com/bureau-foundation/parley/lib/secret"
)

// Session is the persisted login. The JSON field names are the on-disk
// format and must not change.
type Session struct {
	ServerURL   string       `json:"serverUrl"`
	AccessToken string       `json:"accessToken"`
	UserID      ref.UserID   `json:"userId"`
	DeviceID    ref.DeviceID `json:"deviceId"`
}

// Validate reports the first missing required field.
func (s *Session) Validate() error {
	switch {
	case s.ServerURL == "":
		return errors.New("missing serverUrl")
	case s.AccessToken == "":
		return errors.New("missing accessToken")
	case s.UserID.IsZero():
		return errors.New("missing userId")
	}
	return nil
}

// Store loads, saves, and clears the persisted session.
type Store interface {
	// Load returns the persisted session, or nil if there is none or
	// it cannot be read.
	Load() *Session

	// Save replaces the persisted session.
	Save(session *Session) error

	// Clear removes the persisted session. Clearing an absent session
	// is not an error.
	Clear() error
}

// Config configures a FileStore.
type Config struct {
	// Path is the session file. Empty means DefaultPath().
	Path string

	// SealIdentityFile, when set, enables sealing. It names a file
	// holding an age X25519 private key; Save generates one there if
	// the file does not exist.
	SealIdentityFile string

	// Logger receives warnings about unreadable records. Nil means
	// slog.Default().
	Logger *slog.Logger
}

// FileStore is the Store used in production.
type FileStore struct {
	path         string
	identityPath string
	logger       *slog.Logger
}

// New creates a FileStore. Nothing touches the filesystem until the
// first Load or Save.
func New(config Config) *FileStore {
	path := config.Path
	if path == "" {
		path = DefaultPath()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{
		path:         path,
		identityPath: config.SealIdentityFile,
		logger:       logger.With("session_file", path),
	}
}

// Path returns the session file path.
func (s *FileStore) Path() string { return s.path }

// DefaultPath returns $PARLEY_SESSION_FILE if set, else
// $XDG_CONFIG_HOME/parley/session.json, else
// ~/.config/parley/session.json.
func DefaultPath() string {
	if override := os.Getenv("PARLEY_SESSION_FILE"); override != "" {
		return override
	}
	return filepath.Join(ConfigDirectory(), "session.json")
}

// ConfigDirectory returns the parley configuration directory.
func ConfigDirectory() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "parley")
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "parley")
}

// Load implements Store.
func (s *FileStore) Load() *Session {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		s.logger.Warn("session file unreadable, ignoring", "error", err)
		return nil
	}

	if isSealed(data) {
		plaintext, err := s.open(data)
		if err != nil {
			s.logger.Warn("sealed session could not be opened, ignoring", "error", err)
			return nil
		}
		defer plaintext.Close()
		data = plaintext.Bytes()
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		s.logger.Warn("session file malformed, ignoring", "error", err)
		return nil
	}
	if err := session.Validate(); err != nil {
		s.logger.Warn("session file incomplete, ignoring", "error", err)
		return nil
	}
	return &session
}

// Save implements Store. The file is replaced atomically.
func (s *FileStore) Save(session *Session) error {
	if session == nil {
		return errors.New("sessionstore: nil session")
	}
	if err := session.Validate(); err != nil {
		return fmt.Errorf("sessionstore: %w", err)
	}
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("sessionstore: marshaling session: %w", err)
	}
	data = append(data, '\n')

	if s.identityPath != "" {
		recipient, err := s.recipient()
		if err != nil {
			return err
		}
		sealedData, err := sealed.Seal(data, recipient)
		secret.Zero(data)
		if err != nil {
			return fmt.Errorf("sessionstore: %w", err)
		}
		data = sealedData
	}
	return writeFileAtomic(s.path, data)
}

// Clear implements Store.
func (s *FileStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("sessionstore: removing %s: %w", s.path, err)
	}
	return nil
}

func isSealed(data []byte) bool {
	return bytes.HasPrefix(bytes.TrimSpace(data), []byte("-----BEGIN AGE ENCRYPTED FILE-----"))
}

func (s *FileStore) open(data []byte) (*secret.Buffer, error) {
	if s.identityPath == "" {
		return nil, errors.New("session is sealed but no identity file is configured")
	}
	privateKey, err := readIdentity(s.identityPath)
	if err != nil {
		return nil, err
	}
	defer privateKey.Close()
	return sealed.Open(data, privateKey)
}

// recipient returns the public key for the configured identity,
// generating and storing a new identity if none exists yet.
func (s *FileStore) recipient() (string, error) {
	privateKey, err := readIdentity(s.identityPath)
	if err == nil {
		defer privateKey.Close()
		return sealed.PublicKeyOf(privateKey)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		return "", fmt.Errorf("sessionstore: %w", err)
	}
	defer keypair.Close()
	keyData := append(bytes.Clone(keypair.PrivateKey.Bytes()), '\n')
	defer secret.Zero(keyData)
	if err := writeFileAtomic(s.identityPath, keyData); err != nil {
		return "", err
	}
	s.logger.Info("generated session sealing identity", "identity_file", s.identityPath)
	return keypair.PublicKey, nil
}

func readIdentity(path string) (*secret.Buffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: reading identity %s: %w", path, err)
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("sessionstore: identity %s is empty", path)
	}
	buffer, err := secret.NewFromBytes(trimmed)
	secret.Zero(data)
	return buffer, err
}

// writeFileAtomic writes data to path with mode 0600, creating the
// parent directory with mode 0700.
func writeFileAtomic(path string, data []byte) error {
	directory := filepath.Dir(path)
	if err := os.MkdirAll(directory, 0o700); err != nil {
		return fmt.Errorf("sessionstore: creating %s: %w", directory, err)
	}
	temporary, err := os.CreateTemp(directory, ".session-*")
	if err != nil {
		return fmt.Errorf("sessionstore: creating temporary file: %w", err)
	}
	temporaryPath := temporary.Name()
	defer os.Remove(temporaryPath)

	if err := temporary.Chmod(0o600); err != nil {
		temporary.Close()
		return fmt.Errorf("sessionstore: chmod %s: %w", temporaryPath, err)
	}
	if _, err := temporary.Write(data); err != nil {
		temporary.Close()
		return fmt.Errorf("sessionstore: writing %s: %w", temporaryPath, err)
	}
	if err := temporary.Close(); err != nil {
		return fmt.Errorf("sessionstore: closing %s: %w", temporaryPath, err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		return fmt.Errorf("sessionstore: replacing %s: %w", path, err)
	}
	return nil
}
