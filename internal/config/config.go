package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/annel0/terrain/internal/heightmap"
	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации сервиса генерации рельефа.
type Config struct {
	Generator GeneratorConfig `yaml:"generator"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Cache     CacheConfig     `yaml:"cache"`
	EventBus  EventBusConfig  `yaml:"eventbus"`
	Auth      AuthConfig      `yaml:"auth"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// GeneratorConfig задаёт значения по умолчанию и ограничения генерации.
type GeneratorConfig struct {
	DefaultSize      int     `yaml:"default_size"`
	DefaultRoughness float64 `yaml:"default_roughness"`
	DefaultH         float64 `yaml:"default_h"`
	MinSize          int     `yaml:"min_size"`
	MaxSize          int     `yaml:"max_size"`
}

type ServerConfig struct {
	RESTPort        int           `yaml:"rest_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig выбирает постоянное хранилище: badger, file, maria или memory.
type StorageConfig struct {
	Backend  string `yaml:"backend"`
	Path     string `yaml:"path"`
	MariaDSN string `yaml:"maria_dsn"`
}

type CacheConfig struct {
	Enabled       bool          `yaml:"enabled"`
	RedisURL      string        `yaml:"redis_url"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	TTL           time.Duration `yaml:"ttl"`
}

type EventBusConfig struct {
	Enabled   bool   `yaml:"enabled"`
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
}

// AuthConfig включает JWT для изменяющих запросов, если задан секрет.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

type LoggingConfig struct {
	Level     string `yaml:"level"`
	FileLevel string `yaml:"file_level"`
	Dir       string `yaml:"dir"`
}

// Default возвращает конфигурацию, работающую без внешних сервисов.
func Default() *Config {
	return &Config{
		Generator: GeneratorConfig{
			DefaultSize:      heightmap.DefaultSize,
			DefaultRoughness: heightmap.DefaultRoughness,
			DefaultH:         heightmap.DefaultH,
			MinSize:          1<<4 + 1,
			MaxSize:          1<<10 + 1,
		},
		Server: ServerConfig{
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Backend: "memory",
			Path:    "data",
		},
		Cache: CacheConfig{
			RedisURL: "localhost:6379",
			TTL:      10 * time.Minute,
		},
		EventBus: EventBusConfig{
			URL:       "nats://127.0.0.1:4222",
			Stream:    "TERRAIN",
			Retention: 24,
		},
		Auth: AuthConfig{
			Issuer: "terrain",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "terrain",
		},
		Logging: LoggingConfig{
			Level:     "info",
			FileLevel: "debug",
			Dir:       "logs",
		},
	}
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "TERRAIN_REST_PORT", 8088)
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	// Если порт задан в конфиге и больше 0, используем его
	if configPort > 0 {
		return configPort
	}

	// Пробуем прочитать из environment variable
	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	// Используем дефолтное значение
	return defaultPort
}

// Validate проверяет согласованность настроек генератора и хранилища.
func (c *Config) Validate() error {
	g := c.Generator
	for name, size := range map[string]int{"default_size": g.DefaultSize, "min_size": g.MinSize, "max_size": g.MaxSize} {
		if !heightmap.ValidSize(size) {
			return fmt.Errorf("generator.%s: %w", name, &heightmap.InvalidSizeError{Size: size})
		}
	}
	if g.MinSize > g.MaxSize {
		return fmt.Errorf("generator.min_size %d больше max_size %d", g.MinSize, g.MaxSize)
	}
	if g.DefaultSize < g.MinSize || g.DefaultSize > g.MaxSize {
		return fmt.Errorf("generator.default_size %d вне диапазона [%d, %d]", g.DefaultSize, g.MinSize, g.MaxSize)
	}
	if g.DefaultRoughness < 0 {
		return fmt.Errorf("generator.default_roughness должен быть неотрицательным")
	}
	if g.DefaultH <= 0 {
		return fmt.Errorf("generator.default_h должен быть положительным")
	}

	switch c.Storage.Backend {
	case "memory", "badger", "file":
	case "maria":
		if c.Storage.MariaDSN == "" {
			return fmt.Errorf("storage.maria_dsn обязателен для backend maria")
		}
	default:
		return fmt.Errorf("неизвестный storage.backend %q", c.Storage.Backend)
	}

	return nil
}

// Load читает YAML файл конфигурации поверх значений по умолчанию.
// Если path == "", пытается прочитать путь из ENV TERRAIN_CONFIG;
// без файла возвращает Default().
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("TERRAIN_CONFIG")
		if path == "" {
			return cfg, nil // конфиг не задан, используем дефолты
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
