package i18n

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Supported 支持的语言，第一个为默认
var Supported = []language.Tag{
	language.English,
	language.Spanish,
	language.Korean,
	language.Chinese,
}

var matcher = language.NewMatcher(Supported)

// 消息键
const (
	KeySucceeded    = "succeeded"  // 参数：APK 路径
	KeyFailed       = "failed"     // 参数：阶段描述、原因
	KeyUnexpected   = "unexpected" // 参数：原因
	KeyKindPrefix   = "kind."      // kind.<failure kind>
	KeyStatusPrefix = "status."    // status.<phase>
	KeyPhasePrefix  = "phase."     // phase.<phase>，失败消息中的阶段名
)

type entry struct {
	key string
	msg string
}

var messages = map[language.Tag][]entry{
	language.English: {
		{"status.keystore", "Creating keystore..."},
		{"status.decompile", "Decompiling APK..."},
		{"status.assets", "Copying game assets..."},
		{"status.icon", "Replacing icons..."},
		{"status.manifest", "Changing package and app name..."},
		{"status.rebuild", "Rebuilding APK..."},
		{"status.dex", "Restoring DEX files..."},
		{"status.native_libs", "Adding libc++_shared.so..."},
		{"status.validate", "Checking rebuilt APK..."},
		{"status.sign", "Signing APK..."},
		{"status.verify", "Verifying signed APK..."},
		{"status.done", "Done!"},

		{"phase.preflight", "Preparation"},
		{"phase.keystore", "Keystore creation"},
		{"phase.decompile", "Decompilation"},
		{"phase.assets", "Asset copy"},
		{"phase.icon", "Icon replacement"},
		{"phase.manifest", "Manifest patch"},
		{"phase.rebuild", "Rebuild"},
		{"phase.dex", "DEX copy"},
		{"phase.native_libs", "libc++_shared.so processing"},
		{"phase.validate", "Rebuilt APK check"},
		{"phase.sign", "Signing"},
		{"phase.verify", "APK verification"},

		{"kind.missing_prerequisite", "a required tool or file is missing"},
		{"kind.tool_failure", "the external tool reported an error"},
		{"kind.integrity", "the archive is missing, too small or damaged"},
		{"kind.io", "a file operation failed"},
		{"kind.invalid_request", "the request is incomplete or invalid"},
		{"kind.internal", "an unexpected error occurred"},

		{KeySucceeded, "APK packaging complete!\nFile: %s"},
		{KeyFailed, "%s failed: %s"},
		{KeyUnexpected, "An error occurred: %s"},
	},
	language.Spanish: {
		{"status.keystore", "Creando keystore..."},
		{"status.decompile", "Descompilando APK..."},
		{"status.assets", "Copiando recursos del juego..."},
		{"status.icon", "Reemplazando iconos..."},
		{"status.manifest", "Cambiando nombre de paquete y app..."},
		{"status.rebuild", "Reconstruyendo APK..."},
		{"status.dex", "Restaurando archivos DEX..."},
		{"status.native_libs", "Añadiendo libc++_shared.so..."},
		{"status.validate", "Comprobando APK reconstruido..."},
		{"status.sign", "Firmando APK..."},
		{"status.verify", "Verificando APK firmado..."},
		{"status.done", "¡Listo!"},

		{"phase.preflight", "La preparación"},
		{"phase.keystore", "La creación del keystore"},
		{"phase.decompile", "La descompilación"},
		{"phase.assets", "La copia de recursos"},
		{"phase.icon", "El reemplazo del icono"},
		{"phase.manifest", "La modificación del manifiesto"},
		{"phase.rebuild", "La reconstrucción"},
		{"phase.dex", "La copia de DEX"},
		{"phase.native_libs", "El procesamiento de libc++_shared.so"},
		{"phase.validate", "La comprobación del APK reconstruido"},
		{"phase.sign", "La firma"},
		{"phase.verify", "La verificación del APK"},

		{"kind.missing_prerequisite", "falta una herramienta o archivo necesario"},
		{"kind.tool_failure", "la herramienta externa devolvió un error"},
		{"kind.integrity", "el archivo falta, es demasiado pequeño o está dañado"},
		{"kind.io", "falló una operación de archivo"},
		{"kind.invalid_request", "la solicitud está incompleta o no es válida"},
		{"kind.internal", "ocurrió un error inesperado"},

		{KeySucceeded, "¡Empaquetado APK completado!\nArchivo: %s"},
		{KeyFailed, "%s falló: %s"},
		{KeyUnexpected, "Ocurrió un error: %s"},
	},
	language.Korean: {
		{"status.keystore", "키스토어 생성 중..."},
		{"status.decompile", "APK 디컴파일 중..."},
		{"status.assets", "게임 리소스 복사 중..."},
		{"status.icon", "아이콘 교체 중..."},
		{"status.manifest", "패키지명 및 앱 이름 수정 중..."},
		{"status.rebuild", "APK 재패키징 중..."},
		{"status.dex", "DEX 복원 중..."},
		{"status.native_libs", "libc++_shared.so 추가 중..."},
		{"status.validate", "재패키징 APK 확인 중..."},
		{"status.sign", "APK 서명 중..."},
		{"status.verify", "서명된 APK 검사 중..."},
		{"status.done", "완료!"},

		{"phase.preflight", "준비"},
		{"phase.keystore", "키스토어 생성"},
		{"phase.decompile", "디컴파일"},
		{"phase.assets", "리소스 복사"},
		{"phase.icon", "아이콘 교체"},
		{"phase.manifest", "매니페스트 수정"},
		{"phase.rebuild", "재패키징"},
		{"phase.dex", "DEX 복사"},
		{"phase.native_libs", "libc++_shared.so 처리"},
		{"phase.validate", "재패키징 APK 확인"},
		{"phase.sign", "서명"},
		{"phase.verify", "APK 검사"},

		{"kind.missing_prerequisite", "필요한 도구나 파일이 없습니다"},
		{"kind.tool_failure", "외부 도구가 오류를 반환했습니다"},
		{"kind.integrity", "파일이 없거나 너무 작거나 손상되었습니다"},
		{"kind.io", "파일 작업에 실패했습니다"},
		{"kind.invalid_request", "요청이 불완전하거나 잘못되었습니다"},
		{"kind.internal", "예상치 못한 오류가 발생했습니다"},

		{KeySucceeded, "APK 패키징 완료!\n파일 위치: %s"},
		{KeyFailed, "%s 실패: %s"},
		{KeyUnexpected, "예외 발생: %s"},
	},
	language.Chinese: {
		{"status.keystore", "正在创建密钥库..."},
		{"status.decompile", "正在反编译 APK..."},
		{"status.assets", "正在复制游戏资源..."},
		{"status.icon", "正在替换图标..."},
		{"status.manifest", "正在修改包名和应用名..."},
		{"status.rebuild", "正在重新打包 APK..."},
		{"status.dex", "正在恢复 DEX..."},
		{"status.native_libs", "正在添加 libc++_shared.so..."},
		{"status.validate", "正在检查重新打包的 APK..."},
		{"status.sign", "正在签名 APK..."},
		{"status.verify", "正在校验已签名的 APK..."},
		{"status.done", "完成！"},

		{"phase.preflight", "准备"},
		{"phase.keystore", "创建密钥库"},
		{"phase.decompile", "反编译"},
		{"phase.assets", "复制资源"},
		{"phase.icon", "替换图标"},
		{"phase.manifest", "修改清单"},
		{"phase.rebuild", "重新打包"},
		{"phase.dex", "复制 DEX"},
		{"phase.native_libs", "处理 libc++_shared.so"},
		{"phase.validate", "检查重新打包的 APK"},
		{"phase.sign", "签名"},
		{"phase.verify", "校验 APK"},

		{"kind.missing_prerequisite", "缺少必需的工具或文件"},
		{"kind.tool_failure", "外部工具返回错误"},
		{"kind.integrity", "文件缺失、过小或已损坏"},
		{"kind.io", "文件操作失败"},
		{"kind.invalid_request", "请求不完整或无效"},
		{"kind.internal", "发生未预期的错误"},

		{KeySucceeded, "APK 打包完成！\n文件：%s"},
		{KeyFailed, "%s失败：%s"},
		{KeyUnexpected, "发生错误：%s"},
	},
}

// Catalog 各语言的消息
type Catalog struct {
	builder *catalog.Builder
}

func New() *Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for tag, entries := range messages {
		for _, e := range entries {
			// 消息均为合法格式，SetString 不会失败
			_ = b.SetString(tag, e.key, e.msg)
		}
	}
	return &Catalog{builder: b}
}

// Match 把 "ko"、"zh-CN"、"es_MX" 等匹配到支持的语言，无法识别时为英文
func Match(locale string) language.Tag {
	tag, err := language.Parse(locale)
	if err != nil {
		return language.English
	}
	_, idx, conf := matcher.Match(tag)
	if conf == language.No {
		return language.English
	}
	return Supported[idx]
}

// Printer 某种语言的消息输出
type Printer struct {
	p *message.Printer
}

func (c *Catalog) Printer(locale string) *Printer {
	return &Printer{p: message.NewPrinter(Match(locale), message.Catalog(c.builder))}
}

// Status 阶段开始时的状态文字
func (p *Printer) Status(phase string) string {
	return p.p.Sprintf(KeyStatusPrefix + phase)
}

// Failed 简短的失败提示
func (p *Printer) Failed(phase, kind string) string {
	return p.p.Sprintf(KeyFailed, p.p.Sprintf(KeyPhasePrefix+phase), p.p.Sprintf(KeyKindPrefix+kind))
}

func (p *Printer) Succeeded(path string) string {
	return p.p.Sprintf(KeySucceeded, path)
}

func (p *Printer) Unexpected(reason string) string {
	return p.p.Sprintf(KeyUnexpected, reason)
}
