package storage

import (
	"context"
	"errors"
	"strings"
)

// KeyPrefix пространство имён ключей карт высот в хранилищах.
const KeyPrefix = "heightmap:"

// ErrNotFound возвращается, если ключ отсутствует в хранилище.
var ErrNotFound = errors.New("storage: key not found")

// Store определяет постоянное хранилище закодированных карт высот.
// Все реализации удовлетворяют cache.ColdStorage, поэтому могут служить
// источником read-through для горячего кеша.
type Store interface {
	// Load загружает значение. Возвращает ErrNotFound, если ключа нет.
	Load(ctx context.Context, key string) ([]byte, error)

	// Store сохраняет значение, перезаписывая существующее.
	Store(ctx context.Context, key string, value []byte) error

	// BatchLoad загружает несколько ключей. Отсутствующие ключи пропускаются.
	BatchLoad(ctx context.Context, keys []string) (map[string][]byte, error)

	// BatchStore сохраняет несколько записей одной операцией.
	BatchStore(ctx context.Context, items map[string][]byte) error

	// Delete удаляет ключ. Возвращает ErrNotFound, если ключа нет.
	Delete(ctx context.Context, key string) error

	// Keys возвращает отсортированные ключи с заданным префиксом.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Close закрывает хранилище.
	Close() error
}

// HeightmapKey возвращает ключ хранилища для карты с идентификатором id.
func HeightmapKey(id string) string {
	return KeyPrefix + id
}

// HeightmapID извлекает идентификатор из ключа хранилища.
func HeightmapID(key string) (string, bool) {
	if !strings.HasPrefix(key, KeyPrefix) || len(key) == len(KeyPrefix) {
		return "", false
	}
	return key[len(KeyPrefix):], true
}

func validateKey(key string) error {
	if key == "" {
		return errors.New("storage: empty key")
	}
	return nil
}
