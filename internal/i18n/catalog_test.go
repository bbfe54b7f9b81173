package i18n

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/text/language"
)

func TestMatch(t *testing.T) {
	assert.Equal(t, language.English, Match("en"))
	assert.Equal(t, language.Korean, Match("ko-KR"))
	assert.Equal(t, language.Spanish, Match("es-MX"))
	assert.Equal(t, language.Chinese, Match("zh-CN"))
	assert.Equal(t, language.English, Match(""))
	assert.Equal(t, language.English, Match("not a locale!"))
}

func TestPrinter_Status(t *testing.T) {
	c := New()
	assert.Equal(t, "Decompiling APK...", c.Printer("en").Status("decompile"))
	assert.Equal(t, "Descompilando APK...", c.Printer("es").Status("decompile"))
	assert.Equal(t, "APK 디컴파일 중...", c.Printer("ko").Status("decompile"))
	assert.Equal(t, "正在反编译 APK...", c.Printer("zh").Status("decompile"))
}

func TestPrinter_Failed(t *testing.T) {
	c := New()
	msg := c.Printer("en").Failed("decompile", "tool_failure")
	assert.Equal(t, "Decompilation failed: the external tool reported an error", msg)
}

func TestPrinter_Succeeded(t *testing.T) {
	msg := New().Printer("ko").Succeeded("/out/TestGame_signed.apk")
	assert.True(t, strings.HasSuffix(msg, "/out/TestGame_signed.apk"))
	assert.Contains(t, msg, "APK 패키징 완료!")
}

// 每种语言的键集合相同
func TestCatalog_KeysComplete(t *testing.T) {
	keys := func(tag language.Tag) map[string]bool {
		m := make(map[string]bool)
		for _, e := range messages[tag] {
			m[e.key] = true
		}
		return m
	}
	want := keys(language.English)
	for _, tag := range Supported {
		assert.Equal(t, want, keys(tag), tag.String())
	}
}
