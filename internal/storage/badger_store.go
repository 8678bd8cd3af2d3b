package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v3"
)

// BadgerStore хранит карты высот во встроенной BadgerDB.
type BadgerStore struct {
	db      *badger.DB
	dbPath  string
	mutex   sync.RWMutex
	isReady bool
}

// NewBadgerStore открывает (или создаёт) базу в dataPath/heightmaps.
func NewBadgerStore(dataPath string) (*BadgerStore, error) {
	dbPath := filepath.Join(dataPath, "heightmaps")
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	return &BadgerStore{
		db:      db,
		dbPath:  dbPath,
		isReady: true,
	}, nil
}

// Path возвращает каталог базы.
func (s *BadgerStore) Path() string {
	return s.dbPath
}

// Close закрывает хранилище данных
func (s *BadgerStore) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isReady {
		return nil
	}

	s.isReady = false
	return s.db.Close()
}

func (s *BadgerStore) ready(ctx context.Context) error {
	if !s.isReady {
		return fmt.Errorf("хранилище не готово")
	}
	return ctx.Err()
}

// Load загружает значение по ключу.
func (s *BadgerStore) Load(ctx context.Context, key string) ([]byte, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения %s из BadgerDB: %w", key, err)
	}
	return data, nil
}

// Store сохраняет значение.
func (s *BadgerStore) Store(ctx context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if err := s.ready(ctx); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}
	return nil
}

// BatchLoad загружает несколько ключей в одной транзакции чтения.
func (s *BadgerStore) BatchLoad(ctx context.Context, keys []string) (map[string][]byte, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	result := make(map[string][]byte, len(keys))
	err := s.db.View(func(txn *badger.Txn) error {
		for _, key := range keys {
			item, err := txn.Get([]byte(key))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			result[key] = value
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка пакетного чтения BadgerDB: %w", err)
	}
	return result, nil
}

// BatchStore сохраняет записи через WriteBatch.
func (s *BadgerStore) BatchStore(ctx context.Context, items map[string][]byte) error {
	if len(items) == 0 {
		return nil // Нечего сохранять
	}
	for key := range items {
		if err := validateKey(key); err != nil {
			return err
		}
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if err := s.ready(ctx); err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for key, value := range items {
		if err := wb.Set([]byte(key), value); err != nil {
			return fmt.Errorf("ошибка пакетной записи %s: %w", key, err)
		}
	}
	return wb.Flush()
}

// Delete удаляет ключ.
func (s *BadgerStore) Delete(ctx context.Context, key string) error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if err := s.ready(ctx); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(key)); err != nil {
			return err
		}
		return txn.Delete([]byte(key))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("ошибка удаления %s из BadgerDB: %w", key, err)
	}
	return nil
}

// Keys перечисляет ключи с префиксом без чтения значений.
func (s *BadgerStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка перечисления ключей BadgerDB: %w", err)
	}

	sort.Strings(keys)
	return keys, nil
}
