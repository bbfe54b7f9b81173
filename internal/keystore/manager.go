package keystore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/kiridroid/kiridroid-go/internal/toolchain"
)

// DefaultDName keytool -dname
const DefaultDName = "CN=Test,OU=Test,O=Test,L=Test,ST=Test,C=CN"

// KeyGenerator keytool -genkeypair
type KeyGenerator interface {
	GenerateKey(ctx context.Context, opts toolchain.KeyOptions) (*toolchain.Result, error)
}

// Manager 确保签名用的 keystore 存在
type Manager struct {
	path      string
	dname     string
	provider  SecretProvider
	generator KeyGenerator
	logger    *logrus.Logger
}

func NewManager(path, dname string, provider SecretProvider, generator KeyGenerator, logger *logrus.Logger) *Manager {
	if dname == "" {
		dname = DefaultDName
	}
	return &Manager{
		path:      path,
		dname:     dname,
		provider:  provider,
		generator: generator,
		logger:    logger,
	}
}

func (m *Manager) Path() string {
	return m.path
}

// Exists keystore 文件是否存在
func (m *Manager) Exists() bool {
	info, err := os.Stat(m.path)
	return err == nil && !info.IsDir()
}

// Ensure 已存在时不做任何事，否则调用 keytool 生成
func (m *Manager) Ensure(ctx context.Context) error {
	if m.Exists() {
		return nil
	}
	if !m.provider.CanGenerate() {
		return &toolchain.MissingError{What: "keystore", Path: m.path}
	}

	creds, err := m.provider.Credentials(m.path, true)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(m.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create keystore dir: %w", err)
		}
	}

	m.logger.WithFields(logrus.Fields{
		"keystore": m.path,
		"alias":    creds.Alias,
	}).Info("Generating keystore")

	if _, err := m.generator.GenerateKey(ctx, toolchain.KeyOptions{
		Keystore: m.path,
		Alias:    creds.Alias,
		Password: creds.Password,
		DName:    m.dname,
	}); err != nil {
		return err
	}

	if !m.Exists() {
		return fmt.Errorf("keytool did not create %s", m.path)
	}
	return nil
}

// Credentials 签名时使用的凭据
func (m *Manager) Credentials() (Credentials, error) {
	return m.provider.Credentials(m.path, false)
}
