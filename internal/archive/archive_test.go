package archive

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(files[name]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func readZip(t *testing.T, path string) map[string]string {
	t.Helper()
	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	out := make(map[string]string)
	for _, f := range r.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		out[f.Name] = string(data)
	}
	return out
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestExtractAndPack(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.zip")
	writeZip(t, src, map[string]string{
		"AndroidManifest.xml": "<manifest/>",
		"res/a.txt":           "a",
	})

	out := filepath.Join(dir, "out")
	require.NoError(t, Extract(src, out))

	data, err := os.ReadFile(filepath.Join(out, "res", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "a", string(data))

	packed := filepath.Join(dir, "packed.zip")
	require.NoError(t, Pack(out, packed))

	// 目录内容位于归档根部
	got := readZip(t, packed)
	assert.Equal(t, "<manifest/>", got["AndroidManifest.xml"])
	assert.Equal(t, "a", got["res/a.txt"])
}

func TestExtractMatching(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "base.apk")
	writeZip(t, src, map[string]string{
		"classes.dex":      "dex1",
		"classes2.dex":     "dex2",
		"lib/x86/foo.so":   "so",
		"assets/data.xp3":  "data",
	})

	out := filepath.Join(dir, "out")
	names, err := ExtractMatching(src, out, func(name string) bool {
		return strings.HasSuffix(name, ".dex")
	})
	require.NoError(t, err)
	sort.Strings(names)
	assert.Equal(t, []string{"classes.dex", "classes2.dex"}, names)

	assert.FileExists(t, filepath.Join(out, "classes2.dex"))
	assert.NoFileExists(t, filepath.Join(out, "lib", "x86", "foo.so"))
}

func TestExtractMatching_NestedEntries(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "base.apk")
	writeZip(t, src, map[string]string{
		"classes.dex":                    "dex1",
		"lib/arm64-v8a/libc++_shared.so": "so64",
		"lib/armeabi-v7a/libmain.so":     "so32",
	})

	out := filepath.Join(dir, "out")
	names, err := ExtractMatching(src, out, func(name string) bool {
		return strings.HasPrefix(name, "lib/")
	})
	require.NoError(t, err)
	sort.Strings(names)
	assert.Equal(t, []string{"lib/arm64-v8a/libc++_shared.so", "lib/armeabi-v7a/libmain.so"}, names)

	data, err := os.ReadFile(filepath.Join(out, "lib", "arm64-v8a", "libc++_shared.so"))
	require.NoError(t, err)
	assert.Equal(t, "so64", string(data))
	assert.NoFileExists(t, filepath.Join(out, "classes.dex"))
}

func TestReplaceDir_RemovesStaleFiles(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "new.txt"), []byte("new"), 0644))
	require.NoError(t, os.MkdirAll(dst, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dst, "stale.txt"), []byte("old"), 0644))

	require.NoError(t, ReplaceDir(src, dst))

	assert.NoFileExists(t, filepath.Join(dst, "stale.txt"))
	assert.FileExists(t, filepath.Join(dst, "sub", "new.txt"))
}

func TestCopyFile_CreatesParents(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0644))

	dst := filepath.Join(dir, "deep", "er", "b.txt")
	require.NoError(t, CopyFile(src, dst))
	assert.FileExists(t, dst)
}

func TestCheckIntegrity(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.zip")
	writeZip(t, good, map[string]string{"a": strings.Repeat("x", 1024)})
	assert.NoError(t, CheckIntegrity(good))

	bad := filepath.Join(dir, "bad.zip")
	require.NoError(t, os.WriteFile(bad, []byte("not a zip"), 0644))
	assert.ErrorIs(t, CheckIntegrity(bad), ErrCorrupt)

	assert.ErrorIs(t, CheckIntegrity(filepath.Join(dir, "missing.zip")), ErrCorrupt)
}

func TestCheckIntegrity_DetectsCRCMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stored.zip")

	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.CreateHeader(&zip.FileHeader{Name: "a.txt", Method: zip.Store})
	require.NoError(t, err)
	_, err = w.Write([]byte("hello world"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	// 篡改未压缩的数据
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	idx := strings.Index(string(data), "hello world")
	require.True(t, idx > 0)
	data[idx] = 'J'
	require.NoError(t, os.WriteFile(path, data, 0644))

	assert.ErrorIs(t, CheckIntegrity(path), ErrCorrupt)
}

func testEditor(t *testing.T, editor Editor) {
	dir := t.TempDir()
	apk := filepath.Join(dir, "rebuilt.apk")
	writeZip(t, apk, map[string]string{
		"AndroidManifest.xml": "manifest",
		"classes.dex":         "stale",
		"res/icon.png":        "png",
	})

	dex := filepath.Join(dir, "classes.dex")
	lib := filepath.Join(dir, "libc++_shared.so")
	require.NoError(t, os.WriteFile(dex, []byte("fresh"), 0644))
	require.NoError(t, os.WriteFile(lib, []byte("elf"), 0644))

	err := editor.Apply(context.Background(), apk, []Entry{
		{Name: "classes.dex", Source: dex},
		{Name: "lib/arm64-v8a/libc++_shared.so", Source: lib},
	})
	require.NoError(t, err)

	got := readZip(t, apk)
	assert.Equal(t, "fresh", got["classes.dex"])
	assert.Equal(t, "elf", got["lib/arm64-v8a/libc++_shared.so"])
	assert.Equal(t, "manifest", got["AndroidManifest.xml"])
	assert.Equal(t, "png", got["res/icon.png"])
	assert.NoError(t, CheckIntegrity(apk))
	assert.NoFileExists(t, apk+".tmp")
}

func TestDirectEditor_Apply(t *testing.T) {
	testEditor(t, NewDirectEditor(quietLogger()))
}

func TestStagingEditor_Apply(t *testing.T) {
	testEditor(t, NewStagingEditor(nil, t.TempDir(), quietLogger()))
}

func TestDirectEditor_MissingSourceKeepsOriginal(t *testing.T) {
	dir := t.TempDir()
	apk := filepath.Join(dir, "rebuilt.apk")
	writeZip(t, apk, map[string]string{"classes.dex": "orig"})

	err := NewDirectEditor(quietLogger()).Apply(context.Background(), apk, []Entry{
		{Name: "lib/x/y.so", Source: filepath.Join(dir, "missing.so")},
	})
	assert.Error(t, err)

	assert.Equal(t, "orig", readZip(t, apk)["classes.dex"])
	assert.NoFileExists(t, apk+".tmp")
}

func TestEntries(t *testing.T) {
	dir := t.TempDir()
	apk := filepath.Join(dir, "a.zip")
	writeZip(t, apk, map[string]string{"a": "1", "b/c": "2"})

	names, err := Entries(apk)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b/c"}, names)
}
