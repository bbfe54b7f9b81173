package manifest

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
)

// DefaultEntryActivity 运行时的入口 Activity
const DefaultEntryActivity = "org.tvp.kirikiri2.KR2Activity"

// Strictness 规则未命中时的处理方式
type Strictness string

const (
	StrictnessWarn Strictness = "warn" // 记录警告，继续
	StrictnessFail Strictness = "fail" // 返回 ErrPatternMissing
)

// 规则名称
const (
	RulePackage    = "package"
	RuleLabel      = "label"
	RuleActivity   = "activity"
	RuleNativeLibs = "extract_native_libs"
)

// ErrPatternMissing fail 模式下有规则未命中
var ErrPatternMissing = errors.New("manifest pattern missing")

// PatchError 读写 manifest 失败
type PatchError struct {
	Path string
	Err  error
}

func (e *PatchError) Error() string {
	return fmt.Sprintf("failed to patch manifest %s: %v", e.Path, e.Err)
}

func (e *PatchError) Unwrap() error {
	return e.Err
}

var (
	packageAttr    = regexp.MustCompile(`(^|\s)package="[^"]*"`)
	labelAttr      = regexp.MustCompile(`android:label="[^"]*"`)
	nameAttr       = regexp.MustCompile(`android:name="[^"]*"`)
	nativeLibsAttr = regexp.MustCompile(`android:extractNativeLibs="[^"]*"`)
	activityTag    = regexp.MustCompile(`<activity(\s|>|$)`)
	applicationTag = regexp.MustCompile(`<application(\s|>|$)`)
)

// Report 各规则命中的行数
type Report struct {
	PackageLines     int
	LabelLines       int
	ActivityReplaced bool
	ApplicationLines int
}

// Missing 未命中的规则
func (r Report) Missing() []string {
	var missing []string
	if r.PackageLines == 0 {
		missing = append(missing, RulePackage)
	}
	if r.LabelLines == 0 {
		missing = append(missing, RuleLabel)
	}
	if !r.ActivityReplaced {
		missing = append(missing, RuleActivity)
	}
	if r.ApplicationLines == 0 {
		missing = append(missing, RuleNativeLibs)
	}
	return missing
}

// Patcher 逐行修改 apktool 反编译出的 AndroidManifest.xml
type Patcher struct {
	entryActivity string
	strictness    Strictness
	logger        *logrus.Logger
}

func NewPatcher(entryActivity string, strictness Strictness, logger *logrus.Logger) *Patcher {
	if entryActivity == "" {
		entryActivity = DefaultEntryActivity
	}
	if strictness != StrictnessFail {
		strictness = StrictnessWarn
	}
	return &Patcher{entryActivity: entryActivity, strictness: strictness, logger: logger}
}

// Patch 原地修改 manifest
func (p *Patcher) Patch(path, packageID, appName string) (Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Report{}, &PatchError{Path: path, Err: err}
	}

	out, report := p.PatchText(string(data), packageID, appName)

	missing := report.Missing()
	if len(missing) > 0 {
		entry := p.logger.WithFields(logrus.Fields{
			"manifest": path,
			"missing":  strings.Join(missing, ","),
		})
		// fail 模式下不写回，保持原文件
		if p.strictness == StrictnessFail {
			entry.Error("Manifest patterns missing")
			return report, fmt.Errorf("%w: %s", ErrPatternMissing, strings.Join(missing, ", "))
		}
		entry.Warn("Manifest patterns missing, rules skipped")
	}

	info, err := os.Stat(path)
	if err != nil {
		return report, &PatchError{Path: path, Err: err}
	}
	if err := os.WriteFile(path, []byte(out), info.Mode().Perm()); err != nil {
		return report, &PatchError{Path: path, Err: err}
	}

	return report, nil
}

// PatchText 对文本执行全部规则，保留原有换行符
func (p *Patcher) PatchText(text, packageID, appName string) (string, Report) {
	var report Report
	packageID = attrValue(packageID)
	appName = attrValue(appName)
	activity := attrValue(p.entryActivity)
	lines := strings.SplitAfter(text, "\n")

	for i, raw := range lines {
		line, eol := splitEOL(raw)

		if packageAttr.MatchString(line) {
			line = packageAttr.ReplaceAllString(line, `${1}package="`+escapeRepl(packageID)+`"`)
			report.PackageLines++
		}

		if labelAttr.MatchString(line) {
			line = labelAttr.ReplaceAllLiteralString(line, `android:label="`+appName+`"`)
			report.LabelLines++
		}

		if !report.ActivityReplaced && activityTag.MatchString(line) && nameAttr.MatchString(line) {
			loc := nameAttr.FindStringIndex(line)
			line = line[:loc[0]] + `android:name="` + activity + `"` + line[loc[1]:]
			report.ActivityReplaced = true
		}

		if applicationTag.MatchString(line) {
			line = forceExtractNativeLibs(line)
			report.ApplicationLines++
		}

		lines[i] = line + eol
	}

	return strings.Join(lines, ""), report
}

func forceExtractNativeLibs(line string) string {
	const attr = `android:extractNativeLibs="true"`

	if nativeLibsAttr.MatchString(line) {
		return nativeLibsAttr.ReplaceAllLiteralString(line, attr)
	}

	start := applicationTag.FindStringIndex(line)[0]
	rest := line[start:]

	if gt := strings.Index(rest, ">"); gt >= 0 {
		at := start + gt
		if gt > 0 && rest[gt-1] == '/' {
			at--
		}
		head := strings.TrimRight(line[:at], " \t")
		return head + " " + attr + line[at:]
	}

	// 标签延续到下一行
	at := start + len("<application")
	return line[:at] + " " + attr + line[at:]
}

func splitEOL(s string) (string, string) {
	switch {
	case strings.HasSuffix(s, "\r\n"):
		return s[:len(s)-2], "\r\n"
	case strings.HasSuffix(s, "\n"):
		return s[:len(s)-1], "\n"
	}
	return s, ""
}

// attrValue 转义为可以放进双引号属性值的文本
func attrValue(s string) string {
	var buf bytes.Buffer
	xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

func escapeRepl(s string) string {
	return strings.ReplaceAll(s, "$", "$$")
}
