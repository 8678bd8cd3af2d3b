package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]LogLevel{
		"trace": TRACE, "DEBUG": DEBUG, "": INFO, " info ": INFO, "warning": WARN, "Error": ERROR,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestConsoleLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewConsoleLogger("generator", &buf, INFO)

	logger.Debug("скрытое сообщение")
	logger.Info("size=%d", 513)
	logger.Error("boom")

	out := buf.String()
	assert.NotContains(t, out, "скрытое")
	assert.Contains(t, out, "[INFO] [generator] size=513")
	assert.Contains(t, out, "[ERROR] [generator] boom")

	buf.Reset()
	logger.SetLevels(TRACE, ERROR)
	logger.Trace("pass %d", 3)
	assert.Contains(t, buf.String(), "[TRACE] [generator] pass 3")
}

func TestNewLogger_WritesFile(t *testing.T) {
	dir := t.TempDir()
	SetLogDir(dir)
	defer SetLogDir("logs")

	logger, err := NewLogger("storage")
	require.NoError(t, err)
	logger.SetLevels(ERROR, DEBUG)

	logger.Debug("badger opened at %s", "/tmp/x")
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close(), "повторное закрытие безопасно")

	files, err := filepath.Glob(filepath.Join(dir, "storage_*.log"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "[DEBUG] [storage] badger opened at /tmp/x")

	// После закрытия логгер продолжает писать в консоль без паники
	logger.Error("after close")
}

func TestDefaultLogger(t *testing.T) {
	var buf bytes.Buffer
	prev := Default()
	SetDefaultLogger(NewConsoleLogger("server", &buf, DEBUG))
	defer SetDefaultLogger(prev)

	Debug("debug %d", 1)
	Info("info")
	Warn("warn")
	Trace("trace")

	out := buf.String()
	assert.Contains(t, out, "[DEBUG] [server] debug 1")
	assert.Contains(t, out, "[WARN] [server] warn")
	assert.NotContains(t, out, "trace")
}

func TestLoggerManager(t *testing.T) {
	lm := NewLoggerManager(true)

	a, err := lm.GetLogger("api")
	require.NoError(t, err)
	b, err := lm.GetLogger("api")
	require.NoError(t, err)
	assert.Same(t, a, b)

	lm.MustGetLogger("cache")
	assert.Equal(t, []string{"api", "cache"}, lm.ListComponents())

	require.NoError(t, lm.SetLogLevel("api", DEBUG, DEBUG))
	assert.Error(t, lm.SetLogLevel("missing", DEBUG, DEBUG))

	require.NoError(t, lm.CloseAll())
	assert.Empty(t, lm.ListComponents())
}
