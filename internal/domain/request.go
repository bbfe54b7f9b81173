package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidRequest 构建请求字段不合法
var ErrInvalidRequest = errors.New("invalid build request")

// packageIDPattern Android 包名：至少两段，每段以字母开头
var packageIDPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*(\.[A-Za-z][A-Za-z0-9_]*)+$`)

// BuildRequest 一次打包所需的全部输入
type BuildRequest struct {
	ContentDir string `json:"content_dir"`
	IconFile   string `json:"icon_file"`
	PackageID  string `json:"package_id"`
	AppName    string `json:"app_name"`
	Locale     string `json:"locale,omitempty"`
}

// Validate 校验字段（不检查文件是否存在，存在性由流水线在开始前检查）
func (r BuildRequest) Validate() error {
	var missing []string
	if strings.TrimSpace(r.ContentDir) == "" {
		missing = append(missing, "content_dir")
	}
	if strings.TrimSpace(r.IconFile) == "" {
		missing = append(missing, "icon_file")
	}
	if strings.TrimSpace(r.PackageID) == "" {
		missing = append(missing, "package_id")
	}
	if strings.TrimSpace(r.AppName) == "" {
		missing = append(missing, "app_name")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}

	if !packageIDPattern.MatchString(r.PackageID) {
		return fmt.Errorf("%w: package_id %q is not a reverse-domain identifier", ErrInvalidRequest, r.PackageID)
	}

	// app_name 会作为输出文件名的一部分
	if strings.ContainsAny(r.AppName, `/\:*?"<>|`) || strings.Contains(r.AppName, "..") {
		return fmt.Errorf("%w: app_name %q cannot be used as a file name", ErrInvalidRequest, r.AppName)
	}

	return nil
}

// SignedFileName 签名后 APK 的文件名
func (r BuildRequest) SignedFileName() string {
	return r.AppName + "_signed.apk"
}
