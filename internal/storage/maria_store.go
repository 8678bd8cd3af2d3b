package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
)

// MariaStore реализует Store для MariaDB/MySQL.
// Использует таблицу heightmaps (k, v) с LONGBLOB значениями.
type MariaStore struct {
	db *sql.DB
}

// NewMariaStore подключается к базе и создаёт таблицу при необходимости.
//
// Параметры:
//
//	dsn - строка подключения к базе данных (user:pass@tcp(host:port)/dbname)
func NewMariaStore(dsn string) (*MariaStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}

	// Проверяем соединение
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось проверить соединение с MariaDB: %w", err)
	}

	return newMariaStoreWithDB(db)
}

func newMariaStoreWithDB(db *sql.DB) (*MariaStore, error) {
	s := &MariaStore{db: db}
	if err := s.createTable(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось создать таблицу: %w", err)
	}
	return s, nil
}

// createTable создает таблицу heightmaps, если она не существует.
func (s *MariaStore) createTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS heightmaps (
			k          VARCHAR(191) PRIMARY KEY,
			v          LONGBLOB     NOT NULL,
			updated_at TIMESTAMP    DEFAULT CURRENT_TIMESTAMP
			           ON UPDATE    CURRENT_TIMESTAMP
		) ENGINE=InnoDB
	`

	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("ошибка создания таблицы heightmaps: %w", err)
	}
	return nil
}

// Load загружает значение по ключу.
func (s *MariaStore) Load(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT v FROM heightmaps WHERE k = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки %s: %w", key, err)
	}
	return value, nil
}

// Store сохраняет значение.
// Использует INSERT ... ON DUPLICATE KEY UPDATE для перезаписи.
func (s *MariaStore) Store(ctx context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}

	query := `
		INSERT INTO heightmaps (k, v) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE v = VALUES(v), updated_at = CURRENT_TIMESTAMP
	`
	if _, err := s.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("ошибка сохранения %s: %w", key, err)
	}
	return nil
}

// BatchLoad загружает несколько ключей одним запросом IN (...).
func (s *MariaStore) BatchLoad(ctx context.Context, keys []string) (map[string][]byte, error) {
	result := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]interface{}, len(keys))
	for i, k := range keys {
		args[i] = k
	}

	rows, err := s.db.QueryContext(ctx, `SELECT k, v FROM heightmaps WHERE k IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка пакетной загрузки: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k string
		var v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("ошибка чтения строки: %w", err)
		}
		result[k] = v
	}
	return result, rows.Err()
}

// BatchStore сохраняет записи в одной транзакции.
func (s *MariaStore) BatchStore(ctx context.Context, items map[string][]byte) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback() // Откатываем, если не будет Commit

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO heightmaps (k, v) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE v = VALUES(v), updated_at = CURRENT_TIMESTAMP
	`)
	if err != nil {
		return fmt.Errorf("ошибка подготовки запроса: %w", err)
	}
	defer stmt.Close()

	for k, v := range items {
		if err := validateKey(k); err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, k, v); err != nil {
			return fmt.Errorf("ошибка сохранения %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

// Delete удаляет ключ.
func (s *MariaStore) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM heightmaps WHERE k = ?`, key)
	if err != nil {
		return fmt.Errorf("ошибка удаления %s: %w", key, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Keys возвращает ключи с префиксом в порядке возрастания.
func (s *MariaStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT k FROM heightmaps WHERE k LIKE ? ORDER BY k`, escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("ошибка перечисления ключей: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Close закрывает соединение с базой данных.
func (s *MariaStore) Close() error {
	return s.db.Close()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
