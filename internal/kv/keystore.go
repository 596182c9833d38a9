package kv

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	apperrors "github.com/alexjbarnes/fieldsync/internal/errors"
)

// Keystore is the platform-backed secret store that holds the install
// secret outside the secure store itself. Get returns an error wrapping
// ErrSecretNotFound when nothing is stored under the service id.
type Keystore interface {
	Get(ctx context.Context, service string) ([]byte, error)
	Set(ctx context.Context, service string, secret []byte) error
}

// FileKeystore keeps one 0600 file per service id in a 0700 directory,
// separate from the data directory.
type FileKeystore struct {
	dir string
}

// NewFileKeystore returns a keystore rooted at dir. The directory is
// created on first Set.
func NewFileKeystore(dir string) *FileKeystore {
	return &FileKeystore{dir: dir}
}

func (k *FileKeystore) path(service string) string {
	return filepath.Join(k.dir, hex.EncodeToString([]byte(service))+".key")
}

// Get reads the secret for service.
func (k *FileKeystore) Get(ctx context.Context, service string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(k.path(service))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", service, apperrors.ErrSecretNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("reading secret: %w", err)
	}

	return data, nil
}

// Set writes the secret for service, replacing it atomically.
func (k *FileKeystore) Set(ctx context.Context, service string, secret []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.MkdirAll(k.dir, dataDirPerm); err != nil {
		return fmt.Errorf("creating keystore directory: %w", err)
	}

	tmp, err := os.CreateTemp(k.dir, ".secret-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(dataFilePerm); err != nil {
		tmp.Close()
		return fmt.Errorf("setting secret permissions: %w", err)
	}

	if _, err := tmp.Write(secret); err != nil {
		tmp.Close()
		return fmt.Errorf("writing secret: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing secret file: %w", err)
	}

	if err := os.Rename(tmpName, k.path(service)); err != nil {
		return fmt.Errorf("storing secret: %w", err)
	}

	return nil
}

// MemoryKeystore is an in-process Keystore for tests and ephemeral runs.
type MemoryKeystore struct {
	mu      sync.Mutex
	secrets map[string][]byte
}

// NewMemoryKeystore returns an empty MemoryKeystore.
func NewMemoryKeystore() *MemoryKeystore {
	return &MemoryKeystore{secrets: make(map[string][]byte)}
}

// Get returns a copy of the stored secret.
func (k *MemoryKeystore) Get(_ context.Context, service string) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	s, ok := k.secrets[service]
	if !ok {
		return nil, fmt.Errorf("%s: %w", service, apperrors.ErrSecretNotFound)
	}

	return append([]byte(nil), s...), nil
}

// Set stores a copy of secret.
func (k *MemoryKeystore) Set(_ context.Context, service string, secret []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.secrets[service] = append([]byte(nil), secret...)

	return nil
}

// Delete removes the secret, as when the platform wipes its keystore.
func (k *MemoryKeystore) Delete(service string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	delete(k.secrets, service)
}
