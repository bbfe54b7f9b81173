package nativelib

import (
	"context"
	"fmt"
	"os"
	"path"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/kiridroid/kiridroid-go/internal/archive"
)

// LibraryName 每个 ABI 目录中注入的共享库
const LibraryName = "libc++_shared.so"

// DefaultCache 本地缓存的 libc++_shared.so
var DefaultCache = map[string]string{
	"armeabi-v7a": "libc++_shared/32/libc++_shared.so",
	"arm64-v8a":   "libc++_shared/64/libc++_shared.so",
}

// MissingError 缓存中缺少某个 ABI 的库
type MissingError struct {
	ABI  string
	Path string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("%s for %s not found: %s", LibraryName, e.ABI, e.Path)
}

// IntegrityError 写入后归档中仍缺少条目
type IntegrityError struct {
	Entry string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s missing from rebuilt archive after injection", e.Entry)
}

// Injector 把各 ABI 的 libc++_shared.so 写入 lib/<abi>/
type Injector struct {
	cache  map[string]string
	editor archive.Editor
	logger *logrus.Logger
}

func NewInjector(cache map[string]string, editor archive.Editor, logger *logrus.Logger) *Injector {
	if len(cache) == 0 {
		cache = DefaultCache
	}
	return &Injector{cache: cache, editor: editor, logger: logger}
}

func (i *Injector) abis() []string {
	abis := make([]string, 0, len(i.cache))
	for abi := range i.cache {
		abis = append(abis, abi)
	}
	sort.Strings(abis)
	return abis
}

// EntryName 归档内路径
func EntryName(abi string) string {
	return path.Join("lib", abi, LibraryName)
}

// Check 改写归档前检查缓存文件
func (i *Injector) Check() error {
	for _, abi := range i.abis() {
		src := i.cache[abi]
		if info, err := os.Stat(src); err != nil || info.IsDir() {
			return &MissingError{ABI: abi, Path: src}
		}
	}
	return nil
}

func (i *Injector) Inject(ctx context.Context, rebuiltAPK string) error {
	if err := i.Check(); err != nil {
		return err
	}

	abis := i.abis()
	entries := make([]archive.Entry, 0, len(abis))
	for _, abi := range abis {
		entries = append(entries, archive.Entry{Name: EntryName(abi), Source: i.cache[abi]})
	}

	if err := i.editor.Apply(ctx, rebuiltAPK, entries); err != nil {
		return fmt.Errorf("failed to write native libraries into %s: %w", rebuiltAPK, err)
	}

	names, err := archive.Entries(rebuiltAPK)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", rebuiltAPK, err)
	}
	present := make(map[string]bool, len(names))
	for _, n := range names {
		present[n] = true
	}
	for _, abi := range abis {
		if !present[EntryName(abi)] {
			return &IntegrityError{Entry: EntryName(abi)}
		}
	}

	i.logger.WithField("abis", abis).Info("Native libraries injected")
	return nil
}
