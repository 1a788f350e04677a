package client

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/peterbourgon/diskv"
)

// Keys used in the durable backup.
const (
	BackupTokenKey = "backup_token"
	SessionKey     = "auth-storage"
	LegacyTokenKey = "auth_token"
)

// ErrKeyNotFound is returned by Backup.Read when the key has never been written or was erased.
var ErrKeyNotFound = errors.New("key not found")

// Backup is the durable key/value area that outlives the process.
type Backup interface {
	Read(key string) ([]byte, error)
	Write(key string, value []byte) error
	Erase(key string) error
}

var (
	_ Backup = (*DiskBackup)(nil)
	_ Backup = (*MemoryBackup)(nil)
)

// DiskBackup stores one file per key under a private directory.
type DiskBackup struct {
	d *diskv.Diskv
}

// NewDiskBackup opens (creating if needed) a backup rooted at dir.
// Files are written atomically through a temp dir on the same filesystem.
func NewDiskBackup(dir string) (*DiskBackup, error) {
	tmp := filepath.Join(dir, ".tmp")
	if err := os.MkdirAll(tmp, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	return &DiskBackup{
		d: diskv.New(diskv.Options{
			BasePath:     dir,
			TempDir:      tmp,
			CacheSizeMax: 0,
			PathPerm:     0o700,
			FilePerm:     0o600,
		}),
	}, nil
}

func (b *DiskBackup) Read(key string) ([]byte, error) {
	val, err := b.d.Read(key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return val, nil
}

func (b *DiskBackup) Write(key string, value []byte) error {
	if err := b.d.Write(key, value); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Erase removes key. Erasing a missing key is not an error.
func (b *DiskBackup) Erase(key string) error {
	if err := b.d.Erase(key); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to erase %s: %w", key, err)
	}
	return nil
}

// MemoryBackup keeps entries in process memory. Used when no session
// directory is configured and in tests.
type MemoryBackup struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemoryBackup creates an empty in-memory backup.
func NewMemoryBackup() *MemoryBackup {
	return &MemoryBackup{entries: make(map[string][]byte)}
}

func (b *MemoryBackup) Read(key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	val, ok := b.entries[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), val...), nil
}

func (b *MemoryBackup) Write(key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[key] = append([]byte(nil), value...)
	return nil
}

func (b *MemoryBackup) Erase(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.entries, key)
	return nil
}
