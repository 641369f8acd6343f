package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

const (
	lockName = ".lock"
	seqName  = ".seq.json"

	permDir  os.FileMode = 0o700
	permFile os.FileMode = 0o600
)

// FileStore is a SharedStore kept as JSON files in one directory: one file
// per key, one metadata file and a sequence counter. Every operation holds
// an exclusive flock on the directory's lock file for its whole
// read-modify-write, so several processes can share the directory.
type FileStore struct {
	dir    string
	logger *zap.Logger
}

type keyFile struct {
	Items []Item `json:"items"`
}

type seqFile struct {
	Next int64 `json:"next"`
}

// OpenFile opens (creating if needed) a file store rooted at dir.
func OpenFile(dir string, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, permDir); err != nil {
		return nil, unavailable("OpenFile", err)
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// withLock runs fn while holding the directory lock.
func (s *FileStore) withLock(ctx context.Context, fn func() error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(s.dir, lockName), os.O_RDWR|os.O_CREATE, permFile)
	if err != nil {
		return fmt.Errorf("open lock: %w", err)
	}
	defer f.Close()

	if err := lockFile(f); err != nil {
		return fmt.Errorf("lock: %w", err)
	}
	defer func() {
		if uerr := unlockFile(f); uerr != nil && err == nil {
			err = fmt.Errorf("unlock: %w", uerr)
		}
	}()
	return fn()
}

// AppendCapped appends items to key and keeps the newest cap.
func (s *FileStore) AppendCapped(ctx context.Context, key string, items []json.RawMessage, cap int) (int, error) {
	if err := validateAppend(key, items, cap); err != nil {
		return 0, fmt.Errorf("AppendCapped: %w", err)
	}

	var n int
	err := s.withLock(ctx, func() error {
		kf, err := s.readKey(key)
		if err != nil {
			return err
		}
		if len(items) > 0 {
			seq, err := s.reserve(len(items))
			if err != nil {
				return err
			}
			for _, it := range items {
				kf.Items = append(kf.Items, Item{Seq: seq, Payload: it})
				seq++
			}
			if over := len(kf.Items) - cap; over > 0 {
				kf.Items = kf.Items[over:]
			}
			if err := writeJSON(s.path(key), kf); err != nil {
				return err
			}
		}
		n = len(kf.Items)
		return nil
	})
	if err != nil {
		return 0, s.wrap("AppendCapped", err)
	}
	return n, nil
}

// Read returns every item under key, oldest first.
func (s *FileStore) Read(ctx context.Context, key string) ([]Item, error) {
	if err := ValidateKey(key); err != nil {
		return nil, fmt.Errorf("Read: %w", err)
	}
	var items []Item
	err := s.withLock(ctx, func() error {
		kf, err := s.readKey(key)
		items = kf.Items
		return err
	})
	if err != nil {
		return nil, s.wrap("Read", err)
	}
	return items, nil
}

// Count returns the number of items under key.
func (s *FileStore) Count(ctx context.Context, key string) (int, error) {
	items, err := s.Read(ctx, key)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// Clear removes every item under key.
func (s *FileStore) Clear(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return fmt.Errorf("Clear: %w", err)
	}
	err := s.withLock(ctx, func() error {
		if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	})
	if err != nil {
		return s.wrap("Clear", err)
	}
	return nil
}

// Discard removes items under key up to and including throughSeq.
func (s *FileStore) Discard(ctx context.Context, key string, throughSeq int64) (int, error) {
	if err := ValidateKey(key); err != nil {
		return 0, fmt.Errorf("Discard: %w", err)
	}
	var removed int
	err := s.withLock(ctx, func() error {
		kf, err := s.readKey(key)
		if err != nil {
			return err
		}
		keep := kf.Items[:0]
		for _, it := range kf.Items {
			if it.Seq > throughSeq {
				keep = append(keep, it)
			}
		}
		removed = len(kf.Items) - len(keep)
		if removed == 0 {
			return nil
		}
		kf.Items = keep
		return writeJSON(s.path(key), kf)
	})
	if err != nil {
		return 0, s.wrap("Discard", err)
	}
	return removed, nil
}

// WriteMetadata overwrites the metadata record.
func (s *FileStore) WriteMetadata(ctx context.Context, m *Metadata) error {
	if m == nil {
		return errors.New("WriteMetadata: nil metadata")
	}
	err := s.withLock(ctx, func() error {
		return writeJSON(s.path(MetadataKey), m)
	})
	if err != nil {
		return s.wrap("WriteMetadata", err)
	}
	return nil
}

// ReadMetadata returns the metadata record, or nil if none was written.
func (s *FileStore) ReadMetadata(ctx context.Context) (*Metadata, error) {
	var m *Metadata
	err := s.withLock(ctx, func() error {
		var err error
		m, err = s.readMetadata()
		return err
	})
	if err != nil {
		return nil, s.wrap("ReadMetadata", err)
	}
	return m, nil
}

// RecountMetadata counts keys and rewrites the metadata while holding the
// directory lock.
func (s *FileStore) RecountMetadata(ctx context.Context, keys []string, update RecountFunc) error {
	for _, key := range keys {
		if err := ValidateKey(key); err != nil {
			return fmt.Errorf("RecountMetadata: %w", err)
		}
	}
	err := s.withLock(ctx, func() error {
		prev, err := s.readMetadata()
		if err != nil {
			return err
		}
		counts := make(map[string]int, len(keys))
		for _, key := range keys {
			kf, err := s.readKey(key)
			if err != nil {
				return err
			}
			counts[key] = len(kf.Items)
		}
		m := update(prev, counts)
		if m == nil {
			return nil
		}
		return writeJSON(s.path(MetadataKey), m)
	})
	if err != nil {
		return s.wrap("RecountMetadata", err)
	}
	return nil
}

func (s *FileStore) readMetadata() (*Metadata, error) {
	data, err := os.ReadFile(s.path(MetadataKey))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m := &Metadata{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrSerialization, err)
	}
	return m, nil
}

// Close is a no-op; the file store holds no open handles between calls.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) readKey(key string) (keyFile, error) {
	var kf keyFile
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return kf, nil
	}
	if err != nil {
		return kf, err
	}
	if err := json.Unmarshal(data, &kf); err != nil {
		return kf, fmt.Errorf("%w: %s: %v", ErrSerialization, key, err)
	}
	return kf, nil
}

// reserve hands out n sequence numbers. The counter lives in its own file so
// sequence numbers survive Clear and are never reused.
func (s *FileStore) reserve(n int) (int64, error) {
	sf := seqFile{Next: 1}
	data, err := os.ReadFile(filepath.Join(s.dir, seqName))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return 0, err
	default:
		if err := json.Unmarshal(data, &sf); err != nil {
			return 0, fmt.Errorf("%w: sequence: %v", ErrSerialization, err)
		}
	}
	first := sf.Next
	sf.Next += int64(n)
	if err := writeJSON(filepath.Join(s.dir, seqName), sf); err != nil {
		return 0, err
	}
	return first, nil
}

func (s *FileStore) wrap(op string, err error) error {
	if errors.Is(err, ErrSerialization) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.logger.Warn("file store operation failed", zap.String("op", op), zap.String("dir", s.dir), zap.Error(err))
	return unavailable(op, err)
}

// writeJSON writes v to path atomically: temp file, fsync, rename.
func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	tmp := path + ".tmp." + randomSuffix()
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, permFile)
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func randomSuffix() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
