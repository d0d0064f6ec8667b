package persist

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"pkt.systems/kryptograf"
	"pkt.systems/kryptograf/keymgmt"
	"pkt.systems/pslog"
)

// KV is the durable keyed storage the session store writes through.
// Deleting a key removes it entirely, so restart logic can distinguish
// "never set" from "empty".
type KV interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, value []byte) error
	Delete(key string) error
}

// MemKV is an in-memory KV for tests and ephemeral sessions.
type MemKV struct {
	mu    sync.Mutex
	items map[string][]byte
}

// NewMemKV constructs an empty in-memory KV.
func NewMemKV() *MemKV {
	return &MemKV{items: make(map[string][]byte)}
}

// Get returns the stored value for key.
func (m *MemKV) Get(key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

// Put stores value under key.
func (m *MemKV) Put(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = append([]byte(nil), value...)
	return nil
}

// Delete removes key.
func (m *MemKV) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

// Keys returns the stored key names, for tests.
func (m *MemKV) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.items))
	for key := range m.items {
		keys = append(keys, key)
	}
	return keys
}

const keyStoreFile = "keystore.kg"

// FileKV stores one encrypted file per key under a directory. Values
// are conversation metadata, so they are sealed at rest with a DEK per
// key minted from the directory's root key.
type FileKV struct {
	dir string
	log pslog.Logger
}

// NewFileKV constructs a file-backed KV rooted at dir.
func NewFileKV(dir string, logger pslog.Logger) (*FileKV, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if logger != nil {
		logger = logger.With("state_dir", dir)
	}
	return &FileKV{dir: dir, log: logger}, nil
}

// Get decrypts and returns the value stored for key.
func (f *FileKV) Get(key string) ([]byte, bool, error) {
	path := f.pathForKey(key)
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		if f.log != nil {
			f.log.Warn("kv get failed", "key", key, "err", err)
		}
		return nil, false, err
	}
	defer func() { _ = file.Close() }()
	material, root, err := f.materialForKey(key)
	if err != nil {
		return nil, false, err
	}
	kg := kryptograf.New(root)
	reader, err := kg.DecryptReader(file, material)
	if err != nil {
		if f.log != nil {
			f.log.Warn("kv get failed", "key", key, "err", err)
		}
		return nil, false, err
	}
	defer func() { _ = reader.Close() }()
	value, err := io.ReadAll(reader)
	if err != nil {
		if f.log != nil {
			f.log.Warn("kv get failed", "key", key, "err", err)
		}
		return nil, false, err
	}
	return value, true, nil
}

// Put encrypts and stores value under key, atomically.
func (f *FileKV) Put(key string, value []byte) error {
	material, root, err := f.materialForKey(key)
	if err != nil {
		return err
	}
	kg := kryptograf.New(root)
	tmp, err := os.CreateTemp(f.dir, "kv-*.enc")
	if err != nil {
		if f.log != nil {
			f.log.Warn("kv put failed", "key", key, "err", err)
		}
		return err
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}
	if err := tmp.Chmod(0o600); err != nil {
		cleanup()
		return err
	}
	writer, err := kg.EncryptWriter(tmp, material)
	if err != nil {
		cleanup()
		return err
	}
	if _, err := io.Copy(writer, bytes.NewReader(value)); err != nil {
		_ = writer.Close()
		cleanup()
		return err
	}
	if err := writer.Close(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, f.pathForKey(key)); err != nil {
		_ = os.Remove(tmpPath)
		if f.log != nil {
			f.log.Warn("kv put failed", "key", key, "err", err)
		}
		return err
	}
	return nil
}

// Delete removes key. Missing keys are not an error.
func (f *FileKV) Delete(key string) error {
	err := os.Remove(f.pathForKey(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		if f.log != nil {
			f.log.Warn("kv delete failed", "key", key, "err", err)
		}
		return err
	}
	return nil
}

func (f *FileKV) materialForKey(key string) (keymgmt.Material, keymgmt.RootKey, error) {
	store, err := keymgmt.LoadProto(filepath.Join(f.dir, keyStoreFile))
	if err != nil {
		if f.log != nil {
			f.log.Warn("kv key store load failed", "key", key, "err", err)
		}
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	root, err := store.EnsureRootKey()
	if err != nil {
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	name := "session-" + sanitize(key)
	material, err := store.EnsureDescriptor(name, root, []byte(name))
	if err != nil {
		if f.log != nil {
			f.log.Warn("kv key material ensure failed", "key", key, "err", err)
		}
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	if err := store.Commit(); err != nil {
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	return material, root, nil
}

func (f *FileKV) pathForKey(key string) string {
	name := sanitize(key)
	if name == "" {
		name = "unknown"
	}
	return filepath.Join(f.dir, name+".enc")
}

func sanitize(value string) string {
	var b strings.Builder
	for _, r := range value {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('_')
	}
	return b.String()
}
