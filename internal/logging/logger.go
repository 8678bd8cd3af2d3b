package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LogLevel определяет уровни логирования
type LogLevel int

const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
)

// String возвращает строковое представление уровня логирования
func (l LogLevel) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel разбирает уровень из конфигурации ("debug", "INFO", ...)
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return TRACE, nil
	case "DEBUG":
		return DEBUG, nil
	case "INFO", "":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	default:
		return INFO, fmt.Errorf("unknown log level %q", s)
	}
}

// Logger представляет логгер компонента: консоль + опциональный файл
type Logger struct {
	component     string
	consoleLogger *log.Logger
	fileLogger    *log.Logger
	file          *os.File

	mu              sync.RWMutex
	minConsoleLevel LogLevel
	minFileLevel    LogLevel
}

// Каталог для файлов логов
var logDir = "logs"

// SetLogDir задаёт каталог для файлов логов новых логгеров
func SetLogDir(dir string) {
	logDir = dir
}

// NewLogger создаёт логгер компонента с записью в консоль и в файл
// logs/<component>_<timestamp>.log
func NewLogger(component string) (*Logger, error) {
	// Создаем директорию для логов
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("ошибка создания директории %s: %w", logDir, err)
	}

	// Создаем файл для логов с временной меткой
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	filename := filepath.Join(logDir, fmt.Sprintf("%s_%s.log", component, timestamp))

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания файла логов: %w", err)
	}

	return &Logger{
		component:       component,
		consoleLogger:   log.New(os.Stdout, "", log.LstdFlags),
		fileLogger:      log.New(file, "", log.LstdFlags|log.Lmicroseconds),
		file:            file,
		minConsoleLevel: INFO,
		minFileLevel:    DEBUG,
	}, nil
}

// NewConsoleLogger создаёт логгер без файла, пишущий в w
func NewConsoleLogger(component string, w io.Writer, minLevel LogLevel) *Logger {
	return &Logger{
		component:       component,
		consoleLogger:   log.New(w, "", log.LstdFlags),
		minConsoleLevel: minLevel,
		minFileLevel:    ERROR,
	}
}

// Component возвращает имя компонента
func (l *Logger) Component() string {
	return l.component
}

// SetLevels меняет пороги вывода
func (l *Logger) SetLevels(consoleLevel, fileLevel LogLevel) {
	l.mu.Lock()
	l.minConsoleLevel = consoleLevel
	l.minFileLevel = fileLevel
	l.mu.Unlock()
}

// Close закрывает файл логов
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.fileLogger = nil
	return err
}

// Trace логирует сообщение уровня TRACE
func (l *Logger) Trace(format string, args ...interface{}) {
	l.logMessage(TRACE, format, args...)
}

// Debug логирует сообщение уровня DEBUG
func (l *Logger) Debug(format string, args ...interface{}) {
	l.logMessage(DEBUG, format, args...)
}

// Info логирует сообщение уровня INFO
func (l *Logger) Info(format string, args ...interface{}) {
	l.logMessage(INFO, format, args...)
}

// Warn логирует сообщение уровня WARN
func (l *Logger) Warn(format string, args ...interface{}) {
	l.logMessage(WARN, format, args...)
}

// Error логирует сообщение уровня ERROR
func (l *Logger) Error(format string, args ...interface{}) {
	l.logMessage(ERROR, format, args...)
}

// logMessage внутренняя функция для логирования
func (l *Logger) logMessage(level LogLevel, format string, args ...interface{}) {
	if l == nil {
		return
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if level < l.minConsoleLevel && (l.fileLogger == nil || level < l.minFileLevel) {
		return
	}

	message := fmt.Sprintf("[%s] [%s] %s", level.String(), l.component, fmt.Sprintf(format, args...))

	if l.fileLogger != nil && level >= l.minFileLevel {
		l.fileLogger.Println(message)
	}

	if level >= l.minConsoleLevel {
		l.consoleLogger.Println(message)
	}
}

// Глобальный логгер процесса. До InitDefaultLogger пишет только в консоль.
var (
	defaultMu     sync.RWMutex
	defaultLogger = NewConsoleLogger("default", os.Stdout, INFO)
)

// InitDefaultLogger инициализирует глобальный логгер с файлом
func InitDefaultLogger(component string) error {
	logger, err := NewLogger(component)
	if err != nil {
		return err
	}

	SetDefaultLogger(logger)
	return nil
}

// SetDefaultLogger подменяет глобальный логгер
func SetDefaultLogger(logger *Logger) {
	defaultMu.Lock()
	defaultLogger = logger
	defaultMu.Unlock()
}

// Default возвращает глобальный логгер
func Default() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// CloseDefaultLogger закрывает файл глобального логгера
func CloseDefaultLogger() {
	_ = Default().Close()
}

// Trace логирует сообщение уровня TRACE в глобальный логгер
func Trace(format string, args ...interface{}) {
	Default().logMessage(TRACE, format, args...)
}

// Debug логирует сообщение уровня DEBUG в глобальный логгер
func Debug(format string, args ...interface{}) {
	Default().logMessage(DEBUG, format, args...)
}

// Info логирует сообщение уровня INFO в глобальный логгер
func Info(format string, args ...interface{}) {
	Default().logMessage(INFO, format, args...)
}

// Warn логирует сообщение уровня WARN в глобальный логгер
func Warn(format string, args ...interface{}) {
	Default().logMessage(WARN, format, args...)
}

// Error логирует сообщение уровня ERROR в глобальный логгер
func Error(format string, args ...interface{}) {
	Default().logMessage(ERROR, format, args...)
}

// LogGeneration логирует завершение генерации карты высот
func LogGeneration(logger *Logger, id string, size int, seed int64, elapsed time.Duration) {
	logger.Info("Heightmap %s generated: size=%d seed=%d in %v", id, size, seed, elapsed)
}

// LogPass логирует один проход diamond-square
func LogPass(logger *Logger, id string, pass, step, cells int, amplitude, maxPerturbation float64) {
	logger.Trace("Heightmap %s pass %d: step=%d cells=%d amplitude=%.6f max=%.6f",
		id, pass, step, cells, amplitude, maxPerturbation)
}
