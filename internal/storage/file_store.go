package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const fileExt = ".hm"

// FileStore хранит каждую запись в отдельном файле каталога basePath.
// Имя файла: base64url(key) + ".hm", поэтому ключи с ':' допустимы на любой ФС.
type FileStore struct {
	basePath string
	mu       sync.RWMutex
}

// NewFileStore создаёт файловое хранилище в basePath/heightmaps
func NewFileStore(basePath string) (*FileStore, error) {
	dir := filepath.Join(basePath, "heightmaps")
	// Создаём директорию если её нет
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию %s: %w", dir, err)
	}
	return &FileStore{basePath: dir}, nil
}

// Path возвращает каталог с файлами записей
func (s *FileStore) Path() string {
	return s.basePath
}

func (s *FileStore) filename(key string) string {
	return filepath.Join(s.basePath, base64.RawURLEncoding.EncodeToString([]byte(key))+fileExt)
}

func (s *FileStore) read(key string) ([]byte, error) {
	data, err := os.ReadFile(s.filename(key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения %s: %w", key, err)
	}
	return data, nil
}

// write пишет во временный файл и переименовывает его, чтобы читатели
// никогда не видели частично записанную карту.
func (s *FileStore) write(key string, value []byte) error {
	filename := s.filename(key)
	tmp, err := os.CreateTemp(s.basePath, ".tmp-*")
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		return fmt.Errorf("ошибка записи %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("ошибка записи %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), filename); err != nil {
		return fmt.Errorf("ошибка записи файла %s: %w", filename, err)
	}
	return nil
}

func (s *FileStore) Load(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read(key)
}

func (s *FileStore) Store(ctx context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(key, value)
}

func (s *FileStore) BatchLoad(ctx context.Context, keys []string) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string][]byte, len(keys))
	for _, k := range keys {
		data, err := s.read(k)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		result[k] = data
	}
	return result, nil
}

func (s *FileStore) BatchStore(ctx context.Context, items map[string][]byte) error {
	for k := range items {
		if err := validateKey(k); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range items {
		if err := s.write(k, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.filename(key))
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	return err
}

func (s *FileStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	err := filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != fileExt {
			return nil
		}
		raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSuffix(d.Name(), fileExt))
		if err != nil {
			return nil // чужой файл
		}
		if key := string(raw); strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// Close ничего не делает: файлы не держатся открытыми.
func (s *FileStore) Close() error {
	return nil
}
