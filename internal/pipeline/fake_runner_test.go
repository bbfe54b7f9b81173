package pipeline

import (
	"archive/zip"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kiridroid/kiridroid-go/internal/archive"
	"github.com/kiridroid/kiridroid-go/internal/icon"
	"github.com/kiridroid/kiridroid-go/internal/toolchain"
)

const decompiledManifest = `<?xml version="1.0" encoding="utf-8" standalone="no"?><manifest xmlns:android="http://schemas.android.com/apk/res/android" package="org.tvp.kirikiri2">
    <application android:icon="@drawable/ic_launcher" android:label="@string/app_name">
        <activity android:name="org.tvp.kirikiri2.MainActivity">
        </activity>
    </application>
</manifest>
`

// fakeRunner 模拟 apktool、7z、apksigner、keytool 的行为
type fakeRunner struct {
	mu    sync.Mutex
	calls []toolchain.Command

	// 反编译出的密度目录
	buckets []string
	// "apktool d" -> 退出码
	fail map[string]int
	// 每次调用前执行
	hook func(cmd toolchain.Command) error
	// 签名失败时留下半个文件
	partial bool
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{buckets: icon.Buckets, fail: map[string]int{}}
}

func (f *fakeRunner) Calls() []toolchain.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]toolchain.Command(nil), f.calls...)
}

// Names 每次调用的简称，如 "apktool d"
func (f *fakeRunner) Names() []string {
	var names []string
	for _, c := range f.Calls() {
		names = append(names, name(c))
	}
	return names
}

func name(c toolchain.Command) string {
	if c.Tool == "apktool" {
		for _, a := range c.Args {
			if a == "d" || a == "b" {
				return "apktool " + a
			}
		}
		return "apktool version"
	}
	return c.Tool
}

func argAfter(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func (f *fakeRunner) Run(ctx context.Context, c toolchain.Command) (*toolchain.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()

	if f.hook != nil {
		if err := f.hook(c); err != nil {
			return nil, err
		}
	}

	n := name(c)
	if code, ok := f.fail[n]; ok {
		if n == "apksigner" && f.partial {
			os.WriteFile(argAfter(c.Args, "--out"), []byte("PK-partial"), 0644)
		}
		return &toolchain.Result{ExitCode: code, Stderr: []byte(n + " failed")}, nil
	}

	var err error
	switch n {
	case "keytool":
		err = os.WriteFile(argAfter(c.Args, "-keystore"), []byte("jks"), 0644)
	case "apktool d":
		err = f.decode(argAfter(c.Args, "-o"))
	case "apktool b":
		dir := c.Args[len(c.Args)-3]
		err = archive.Pack(dir, argAfter(c.Args, "-o"))
	case "7z":
		err = archive.Pack(c.Dir, c.Args[2])
	case "apksigner":
		in := c.Args[len(c.Args)-1]
		err = archive.CopyFile(in, argAfter(c.Args, "--out"))
	case "apktool version":
		return &toolchain.Result{Stdout: []byte("2.11.1\n")}, nil
	default:
		return nil, &toolchain.LaunchError{Tool: c.Tool, Path: c.Path, Err: fmt.Errorf("unknown tool")}
	}
	if err != nil {
		return nil, err
	}
	return &toolchain.Result{Stdout: []byte("I: " + n + " ok")}, nil
}

func (f *fakeRunner) decode(out string) error {
	if err := os.RemoveAll(out); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(out, "assets"), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(out, "AndroidManifest.xml"), []byte(decompiledManifest), 0644); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(out, "assets", "stale.dat"), []byte("stale"), 0644); err != nil {
		return err
	}
	for _, b := range f.buckets {
		p := filepath.Join(out, "res", b, icon.PlaceholderName)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return err
		}
		if err := writePNG(p, 48, 48); err != nil {
			return err
		}
	}
	return nil
}

func writePNG(path string, w, h int) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return png.Encode(file, image.NewRGBA(image.Rect(0, 0, w, h)))
}

func writeBaseAPK(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, content := range map[string]string{
		"AndroidManifest.xml": "binary-manifest",
		"classes.dex":         "dex\n035 main",
		"classes2.dex":        "dex\n035 second",
		"resources.arsc":      "arsc",
	} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}
