package keystore

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/kiridroid/kiridroid-go/internal/config"
)

// 凭据来源
const (
	ModeGenerated = "generated" // 随机密码，保存在 <keystore>.secret
	ModeUser      = "user"      // 用户提供的 keystore 和密码
	ModeLegacy    = "legacy"    // 旧版固定凭据 testkey / 123456
)

const (
	LegacyAlias    = "testkey"
	LegacyPassword = "123456"

	secretSuffix = ".secret"
	secretBytes  = 24
)

// ErrNoSecret 找不到 keystore 对应的密码
var ErrNoSecret = errors.New("keystore secret not available")

// Credentials 签名凭据
type Credentials struct {
	Alias    string
	Password string
}

// SecretProvider 提供 keystore 的别名和密码
type SecretProvider interface {
	// Credentials create 为 true 时表示即将生成新的 keystore
	Credentials(keystorePath string, create bool) (Credentials, error)
	// CanGenerate keystore 不存在时是否允许生成
	CanGenerate() bool
}

// NewProvider 按配置的模式创建
func NewProvider(cfg config.KeystoreConfig) (SecretProvider, error) {
	switch strings.ToLower(cfg.Mode) {
	case "", ModeGenerated:
		return &GeneratedProvider{Alias: cfg.Alias}, nil
	case ModeUser:
		if cfg.Password == "" {
			return nil, fmt.Errorf("%w: keystore.password (or KIRIDROID_KEYSTORE_PASSWORD) is required in user mode", ErrNoSecret)
		}
		return &UserProvider{Alias: cfg.Alias, Password: cfg.Password}, nil
	case ModeLegacy:
		return LegacyProvider{}, nil
	default:
		return nil, fmt.Errorf("unknown keystore mode %q", cfg.Mode)
	}
}

// GeneratedProvider 首次生成随机密码并以 0600 权限保存
type GeneratedProvider struct {
	Alias string
}

// SecretPath 密码文件路径
func SecretPath(keystorePath string) string {
	return keystorePath + secretSuffix
}

func (p *GeneratedProvider) alias() string {
	if p.Alias == "" {
		return LegacyAlias
	}
	return p.Alias
}

func (p *GeneratedProvider) CanGenerate() bool { return true }

func (p *GeneratedProvider) Credentials(keystorePath string, create bool) (Credentials, error) {
	path := SecretPath(keystorePath)

	data, err := os.ReadFile(path)
	if err == nil {
		pw := strings.TrimSpace(string(data))
		if pw == "" {
			return Credentials{}, fmt.Errorf("%w: %s is empty", ErrNoSecret, path)
		}
		return Credentials{Alias: p.alias(), Password: pw}, nil
	}
	if !os.IsNotExist(err) {
		return Credentials{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if !create {
		return Credentials{}, fmt.Errorf("%w: %s not found", ErrNoSecret, path)
	}

	pw, err := randomPassword()
	if err != nil {
		return Credentials{}, err
	}
	if err := os.WriteFile(path, []byte(pw+"\n"), 0600); err != nil {
		return Credentials{}, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return Credentials{Alias: p.alias(), Password: pw}, nil
}

func randomPassword() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate keystore password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// UserProvider 用户自带 keystore，不会生成
type UserProvider struct {
	Alias    string
	Password string
}

func (p *UserProvider) CanGenerate() bool { return false }

func (p *UserProvider) Credentials(string, bool) (Credentials, error) {
	return Credentials{Alias: p.Alias, Password: p.Password}, nil
}

// LegacyProvider 兼容旧版本生成的 testkey.jks
type LegacyProvider struct{}

func (LegacyProvider) CanGenerate() bool { return true }

func (LegacyProvider) Credentials(string, bool) (Credentials, error) {
	return Credentials{Alias: LegacyAlias, Password: LegacyPassword}, nil
}
