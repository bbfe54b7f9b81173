package verify

import (
	"archive/zip"
	"fmt"
	"sort"
	"strings"

	"github.com/shogo82148/androidbinary/apk"
	"github.com/sirupsen/logrus"
)

// Identity 从签名后的 APK 中读回的信息
type Identity struct {
	PackageName   string
	Label         string
	Architectures []string
}

// MismatchError 读回的值与请求不一致
type MismatchError struct {
	Field string
	Want  string
	Got   string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("signed archive %s is %q, want %q", e.Field, e.Got, e.Want)
}

// Verifier 解析二进制 AndroidManifest.xml 检查包名和名称
type Verifier struct {
	logger *logrus.Logger
}

func NewVerifier(logger *logrus.Logger) *Verifier {
	return &Verifier{logger: logger}
}

// Inspect 读取包名、名称和 lib/ 下的 ABI
func (v *Verifier) Inspect(path string) (Identity, error) {
	pkg, err := apk.OpenFile(path)
	if err != nil {
		return Identity{}, fmt.Errorf("failed to open APK: %w", err)
	}
	defer pkg.Close()

	id := Identity{PackageName: pkg.PackageName()}
	if label, err := pkg.Label(nil); err == nil {
		id.Label = label
	}
	id.Architectures = architectures(path)
	return id, nil
}

// Verify 包名和名称必须与请求一致
func (v *Verifier) Verify(path, packageID, appName string) (Identity, error) {
	id, err := v.Inspect(path)
	if err != nil {
		return id, err
	}

	v.logger.WithFields(logrus.Fields{
		"package": id.PackageName,
		"label":   id.Label,
		"abis":    id.Architectures,
	}).Debug("Signed archive identity")

	if id.PackageName != packageID {
		return id, &MismatchError{Field: "package", Want: packageID, Got: id.PackageName}
	}
	if id.Label != appName {
		return id, &MismatchError{Field: "label", Want: appName, Got: id.Label}
	}
	return id, nil
}

func architectures(path string) []string {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil
	}
	defer r.Close()

	set := make(map[string]struct{})
	for _, f := range r.File {
		if strings.HasPrefix(f.Name, "lib/") {
			parts := strings.Split(f.Name, "/")
			if len(parts) >= 3 && parts[1] != "" {
				set[parts[1]] = struct{}{}
			}
		}
	}

	abis := make([]string, 0, len(set))
	for abi := range set {
		abis = append(abis, abi)
	}
	sort.Strings(abis)
	return abis
}
