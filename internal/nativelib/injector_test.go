package nativelib

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiridroid/kiridroid-go/internal/archive"
)

func writeZip(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("AndroidManifest.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte("m"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func cache(t *testing.T, dir string) map[string]string {
	t.Helper()
	c := map[string]string{
		"armeabi-v7a": filepath.Join(dir, "libc++_shared", "32", LibraryName),
		"arm64-v8a":   filepath.Join(dir, "libc++_shared", "64", LibraryName),
	}
	for _, p := range c {
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte("ELF"), 0644))
	}
	return c
}

// noopEditor 不写入任何内容
type noopEditor struct{}

func (noopEditor) Apply(context.Context, string, []archive.Entry) error { return nil }

func TestInject(t *testing.T) {
	dir := t.TempDir()
	apk := filepath.Join(dir, "rebuilt.apk")
	writeZip(t, apk)

	logger, _ := test.NewNullLogger()
	inj := NewInjector(cache(t, dir), archive.NewDirectEditor(logger), logger)
	require.NoError(t, inj.Inject(context.Background(), apk))

	names, err := archive.Entries(apk)
	require.NoError(t, err)
	assert.Contains(t, names, "lib/armeabi-v7a/libc++_shared.so")
	assert.Contains(t, names, "lib/arm64-v8a/libc++_shared.so")
	assert.Contains(t, names, "AndroidManifest.xml")
}

func TestInject_MissingCacheBeforeRewrite(t *testing.T) {
	dir := t.TempDir()
	apk := filepath.Join(dir, "rebuilt.apk")
	writeZip(t, apk)
	before, err := os.ReadFile(apk)
	require.NoError(t, err)

	c := cache(t, dir)
	require.NoError(t, os.Remove(c["arm64-v8a"]))

	logger, _ := test.NewNullLogger()
	err = NewInjector(c, archive.NewDirectEditor(logger), logger).Inject(context.Background(), apk)

	var missing *MissingError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "arm64-v8a", missing.ABI)

	after, err := os.ReadFile(apk)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestInject_VerifiesEntries(t *testing.T) {
	dir := t.TempDir()
	apk := filepath.Join(dir, "rebuilt.apk")
	writeZip(t, apk)

	logger, _ := test.NewNullLogger()
	err := NewInjector(cache(t, dir), noopEditor{}, logger).Inject(context.Background(), apk)

	var integrity *IntegrityError
	assert.True(t, errors.As(err, &integrity))
}

func TestEntryName(t *testing.T) {
	assert.Equal(t, "lib/arm64-v8a/libc++_shared.so", EntryName("arm64-v8a"))
}
