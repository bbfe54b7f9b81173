package assets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func newTestInjector() *Injector {
	logger, _ := test.NewNullLogger()
	return NewInjector(logger)
}

func TestInject_ReplacesWholeTreeAndCopiesCompat(t *testing.T) {
	dir := t.TempDir()
	content := filepath.Join(dir, "game")
	assetsDir := filepath.Join(dir, "decompiled", "assets")

	writeFile(t, filepath.Join(content, DataFile), "xp3-bytes")
	writeFile(t, filepath.Join(content, "video", "op.mpg"), "mpg")
	writeFile(t, filepath.Join(assetsDir, "stale.txt"), "old")
	writeFile(t, filepath.Join(assetsDir, "video", "stale.mpg"), "old")

	res, err := newTestInjector().Inject(content, assetsDir)
	require.NoError(t, err)
	assert.True(t, res.CompatCopied)

	assert.NoFileExists(t, filepath.Join(assetsDir, "stale.txt"))
	assert.NoFileExists(t, filepath.Join(assetsDir, "video", "stale.mpg"))
	assert.FileExists(t, filepath.Join(assetsDir, "video", "op.mpg"))

	data, err := os.ReadFile(filepath.Join(assetsDir, DataFile))
	require.NoError(t, err)
	companion, err := os.ReadFile(filepath.Join(assetsDir, CompanionFile))
	require.NoError(t, err)
	assert.Equal(t, data, companion)

	// 源目录不应被修改
	assert.NoFileExists(t, filepath.Join(content, CompanionFile))
}

func TestInject_NeverOverwritesCompanion(t *testing.T) {
	dir := t.TempDir()
	content := filepath.Join(dir, "game")
	writeFile(t, filepath.Join(content, DataFile), "xp3")
	writeFile(t, filepath.Join(content, CompanionFile), "original")

	assetsDir := filepath.Join(dir, "assets")
	res, err := newTestInjector().Inject(content, assetsDir)
	require.NoError(t, err)
	assert.False(t, res.CompatCopied)

	data, err := os.ReadFile(filepath.Join(assetsDir, CompanionFile))
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
}

func TestInject_NoDataFile(t *testing.T) {
	dir := t.TempDir()
	content := filepath.Join(dir, "game")
	writeFile(t, filepath.Join(content, "startup.tjs"), "tjs")

	assetsDir := filepath.Join(dir, "assets")
	res, err := newTestInjector().Inject(content, assetsDir)
	require.NoError(t, err)
	assert.False(t, res.CompatCopied)
	assert.NoFileExists(t, filepath.Join(assetsDir, CompanionFile))
}

func TestInject_MissingContentDir(t *testing.T) {
	dir := t.TempDir()
	_, err := newTestInjector().Inject(filepath.Join(dir, "nope"), filepath.Join(dir, "assets"))
	assert.Error(t, err)
}
