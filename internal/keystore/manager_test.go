package keystore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kiridroid/kiridroid-go/internal/config"
	"github.com/kiridroid/kiridroid-go/internal/toolchain"
)

// MockGenerator 模拟 keytool，调用时创建 keystore 文件
type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) GenerateKey(ctx context.Context, opts toolchain.KeyOptions) (*toolchain.Result, error) {
	args := m.Called(ctx, opts)
	if args.Error(1) == nil {
		os.WriteFile(opts.Keystore, []byte("jks"), 0644)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*toolchain.Result), args.Error(1)
}

func TestEnsure_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "testkey.jks")
	gen := new(MockGenerator)
	gen.On("GenerateKey", mock.Anything, mock.MatchedBy(func(o toolchain.KeyOptions) bool {
		return o.Keystore == path && o.Alias == "testkey" && o.DName == DefaultDName && len(o.Password) >= 32
	})).Return(&toolchain.Result{}, nil).Once()

	logger, _ := test.NewNullLogger()
	m := NewManager(path, "", &GeneratedProvider{Alias: "testkey"}, gen, logger)

	require.NoError(t, m.Ensure(context.Background()))
	require.NoError(t, m.Ensure(context.Background()))

	gen.AssertNumberOfCalls(t, "GenerateKey", 1)
	assert.FileExists(t, path)
}

func TestEnsure_GeneratedSecretPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "testkey.jks")
	gen := new(MockGenerator)
	gen.On("GenerateKey", mock.Anything, mock.Anything).Return(&toolchain.Result{}, nil).Once()

	logger, _ := test.NewNullLogger()
	m := NewManager(path, "", &GeneratedProvider{}, gen, logger)
	require.NoError(t, m.Ensure(context.Background()))

	used := gen.Calls[0].Arguments.Get(1).(toolchain.KeyOptions).Password
	creds, err := m.Credentials()
	require.NoError(t, err)
	assert.Equal(t, used, creds.Password)
	assert.NotEqual(t, LegacyPassword, creds.Password)

	if runtime.GOOS != "windows" {
		info, err := os.Stat(SecretPath(path))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}
}

func TestEnsure_UserModeNeverGenerates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mine.jks")
	gen := new(MockGenerator)

	logger, _ := test.NewNullLogger()
	m := NewManager(path, "", &UserProvider{Alias: "me", Password: "pw"}, gen, logger)

	err := m.Ensure(context.Background())
	var missing *toolchain.MissingError
	require.True(t, errors.As(err, &missing))
	gen.AssertNotCalled(t, "GenerateKey", mock.Anything, mock.Anything)
}

func TestEnsure_KeytoolFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "testkey.jks")
	gen := new(MockGenerator)
	toolErr := &toolchain.ToolError{Tool: "keytool", ExitCode: 1}
	gen.On("GenerateKey", mock.Anything, mock.Anything).Return(nil, toolErr)

	logger, _ := test.NewNullLogger()
	m := NewManager(path, "", LegacyProvider{}, gen, logger)

	err := m.Ensure(context.Background())
	assert.ErrorIs(t, err, toolErr)
	assert.NoFileExists(t, path)
}

func TestGeneratedProvider_MissingSecretForExistingKeystore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.jks")
	_, err := (&GeneratedProvider{}).Credentials(path, false)
	assert.ErrorIs(t, err, ErrNoSecret)
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(config.KeystoreConfig{Mode: "generated", Alias: "a"})
	require.NoError(t, err)
	assert.IsType(t, &GeneratedProvider{}, p)

	p, err = NewProvider(config.KeystoreConfig{Mode: "legacy"})
	require.NoError(t, err)
	creds, err := p.Credentials("x", false)
	require.NoError(t, err)
	assert.Equal(t, Credentials{Alias: "testkey", Password: "123456"}, creds)

	_, err = NewProvider(config.KeystoreConfig{Mode: "user"})
	assert.ErrorIs(t, err, ErrNoSecret)

	p, err = NewProvider(config.KeystoreConfig{Mode: "user", Alias: "me", Password: "pw"})
	require.NoError(t, err)
	assert.False(t, p.CanGenerate())

	_, err = NewProvider(config.KeystoreConfig{Mode: "other"})
	assert.Error(t, err)
}
