package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
	return dir
}

func TestInitStdoutPathCreatesNoDirectory(t *testing.T) {
	dir := chdirTemp(t)

	// "stdout" 是标准输出别名，不能被当成目录名
	Init("info", "json", "stdout")
	_, err := os.Stat(filepath.Join(dir, "stdout"))
	assert.True(t, os.IsNotExist(err))

	Init("info", "json", "")
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestInitDirectoryPathCreatesLogFile(t *testing.T) {
	dir := chdirTemp(t)

	Init("info", "json", "logs")
	Info("初始化日志测试")
	Sync()

	_, err := os.Stat(filepath.Join(dir, "logs", "app.log"))
	assert.NoError(t, err)
}
