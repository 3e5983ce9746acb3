// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package synccache stores the client's last sync snapshot between runs
// so the next start can resume from a sync token instead of performing
// a full initial sync.
//
// The snapshot is opaque bytes to this package. On disk it is
// compressed, then sealed with XChaCha20-Poly1305 under a key derived
// (HKDF-SHA256) from the session's access token, so a cache left behind
// by a revoked or different session cannot be read. Files are named by
// a keyed BLAKE3 hash of homeserver and user ID and never reveal either.
//
// File layout:
//
//	version (1) | compression (1) | plaintext size (4, big endian) |
//	nonce (24) | ciphertext+tag
//
// The header bytes are authenticated as associated data.
package synccache

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/bureau-foundation/parley/lib/ref"
	"github.com/bureau-foundation/parley/lib/secret"
)

const (
	formatVersion byte = 1
	headerSize         = 1 + 1 + 4
	keySize            = chacha20poly1305.KeySize
)

var (
	hkdfInfo     = []byte("parley.synccache.key.v1")
	fileNameKey  = blake3.Sum256([]byte("parley.synccache.filename.v1"))
	errNoSession = errors.New("synccache: homeserver, user ID, and access token are required")
)

// Config configures a Cache.
type Config struct {
	// Directory holds cache files. Empty means DefaultDirectory().
	Directory string

	// Compression is applied before encryption.
	Compression Compression

	// Logger; nil means slog.Default().
	Logger *slog.Logger
}

// Cache is the snapshot file for one (homeserver, user) pair.
type Cache struct {
	path        string
	compression Compression
	identity    [32]byte
	key         *secret.Buffer
	logger      *slog.Logger
}

// DefaultDirectory returns $XDG_CACHE_HOME/parley, else
// ~/.cache/parley.
func DefaultDirectory() string {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "parley-cache")
		}
		base = filepath.Join(home, ".cache")
	}
	return filepath.Join(base, "parley")
}

// New opens the cache for a session. The access token is borrowed only
// for key derivation. Close releases the derived key.
func New(config Config, homeserver string, userID ref.UserID, accessToken *secret.Buffer) (*Cache, error) {
	if homeserver == "" || userID.IsZero() || accessToken == nil || accessToken.Len() == 0 {
		return nil, errNoSession
	}
	directory := config.Directory
	if directory == "" {
		directory = DefaultDirectory()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	hasher, err := blake3.NewKeyed(fileNameKey[:])
	if err != nil {
		return nil, fmt.Errorf("synccache: %w", err)
	}
	hasher.WriteString(homeserver)
	hasher.Write([]byte{0})
	hasher.WriteString(userID.String())
	var identity [32]byte
	copy(identity[:], hasher.Sum(nil))

	key, err := deriveKey(accessToken.Bytes(), identity[:])
	if err != nil {
		return nil, err
	}

	return &Cache{
		path:        filepath.Join(directory, hex.EncodeToString(identity[:16])+".cache"),
		compression: config.Compression,
		identity:    identity,
		key:         key,
		logger:      logger,
	}, nil
}

func deriveKey(accessToken, salt []byte) (*secret.Buffer, error) {
	material := make([]byte, keySize)
	reader := hkdf.New(sha256.New, accessToken, salt, hkdfInfo)
	if _, err := io.ReadFull(reader, material); err != nil {
		return nil, fmt.Errorf("synccache: deriving key: %w", err)
	}
	key, err := secret.NewFromBytes(material)
	if err != nil {
		return nil, fmt.Errorf("synccache: protecting key: %w", err)
	}
	return key, nil
}

// Path returns the cache file path.
func (c *Cache) Path() string { return c.path }

// Close releases the derived key.
func (c *Cache) Close() error { return c.key.Close() }

// Save replaces the cached snapshot.
func (c *Cache) Save(snapshot []byte) error {
	if len(snapshot) > math.MaxUint32 {
		return fmt.Errorf("synccache: snapshot of %d bytes is too large", len(snapshot))
	}
	payload, used, err := compress(snapshot, c.compression)
	if err != nil {
		return err
	}

	aead, err := chacha20poly1305.NewX(c.key.Bytes())
	if err != nil {
		return fmt.Errorf("synccache: cipher: %w", err)
	}
	output := make([]byte, headerSize+aead.NonceSize(), headerSize+aead.NonceSize()+len(payload)+aead.Overhead())
	output[0] = formatVersion
	output[1] = byte(used)
	binary.BigEndian.PutUint32(output[2:headerSize], uint32(len(snapshot)))
	nonce := output[headerSize:]
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("synccache: nonce: %w", err)
	}
	output = aead.Seal(output, nonce, payload, c.associatedData(output[:headerSize]))

	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return fmt.Errorf("synccache: creating directory: %w", err)
	}
	temporary := c.path + ".tmp"
	if err := os.WriteFile(temporary, output, 0o600); err != nil {
		return fmt.Errorf("synccache: writing %s: %w", temporary, err)
	}
	if err := os.Rename(temporary, c.path); err != nil {
		os.Remove(temporary)
		return fmt.Errorf("synccache: replacing %s: %w", c.path, err)
	}
	c.logger.Debug("saved sync snapshot",
		"path", c.path,
		"size", len(snapshot),
		"stored", len(output),
		"compression", used.String(),
	)
	return nil
}

// Load returns the cached snapshot, or nil with no error when there is
// no cache. A file that fails to decode is reported as an error; the
// caller should Clear it and start fresh.
func (c *Cache) Load() ([]byte, error) {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("synccache: reading %s: %w", c.path, err)
	}

	aead, err := chacha20poly1305.NewX(c.key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("synccache: cipher: %w", err)
	}
	if len(data) < headerSize+aead.NonceSize()+aead.Overhead() {
		return nil, fmt.Errorf("synccache: %s is truncated (%d bytes)", c.path, len(data))
	}
	if data[0] != formatVersion {
		return nil, fmt.Errorf("synccache: %s has format version %d, want %d", c.path, data[0], formatVersion)
	}
	header := data[:headerSize]
	nonce := data[headerSize : headerSize+aead.NonceSize()]
	payload, err := aead.Open(nil, nonce, data[headerSize+aead.NonceSize():], c.associatedData(header))
	if err != nil {
		return nil, fmt.Errorf("synccache: %s does not belong to this session: %w", c.path, err)
	}
	size := int(binary.BigEndian.Uint32(header[2:]))
	return decompress(payload, Compression(header[1]), size)
}

// Clear deletes the cache file. A missing file is not an error.
func (c *Cache) Clear() error {
	if err := os.Remove(c.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("synccache: removing %s: %w", c.path, err)
	}
	return nil
}

func (c *Cache) associatedData(header []byte) []byte {
	associated := make([]byte, 0, len(header)+len(c.identity))
	associated = append(associated, header...)
	return append(associated, c.identity[:]...)
}
