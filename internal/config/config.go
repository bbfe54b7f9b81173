package config

import (
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Toolchain  ToolchainConfig   `mapstructure:"toolchain"`
	Paths      PathsConfig       `mapstructure:"paths"`
	NativeLibs map[string]string `mapstructure:"native_libs"` // ABI -> 缓存中的 libc++_shared.so
	Keystore   KeystoreConfig    `mapstructure:"keystore"`
	Pipeline   PipelineConfig    `mapstructure:"pipeline"`
	Locale     string            `mapstructure:"locale"`
	Server     ServerConfig      `mapstructure:"server"`
	Database   DatabaseConfig    `mapstructure:"database"`
	RabbitMQ   RabbitMQConfig    `mapstructure:"rabbitmq"`
	Worker     WorkerConfig      `mapstructure:"worker"`
	Watcher    WatcherConfig     `mapstructure:"watcher"`
	Log        LogConfig         `mapstructure:"log"`
}

// ToolchainConfig 外部工具路径（显式传入，不修改进程环境变量）
type ToolchainConfig struct {
	JavaHome      string `mapstructure:"java_home"`
	JavaBin       string `mapstructure:"java_bin"` // 为空时使用 java_home/bin/java
	ApktoolJar    string `mapstructure:"apktool_jar"`
	BuildToolsDir string `mapstructure:"build_tools_dir"`
	ArchiverBin   string `mapstructure:"archiver_bin"` // 7z，为空时使用进程内 zip
	KeytoolBin    string `mapstructure:"keytool_bin"`
	MaxHeap       string `mapstructure:"max_heap"` // -Xmx 参数，默认 4g
}

type PathsConfig struct {
	BaseAPK   string `mapstructure:"base_apk"`
	OutputDir string `mapstructure:"output_dir"`
	WorkDir   string `mapstructure:"work_dir"` // 临时目录根，为空时使用系统临时目录
}

type KeystoreConfig struct {
	Path     string `mapstructure:"path"`
	Alias    string `mapstructure:"alias"`
	Mode     string `mapstructure:"mode"` // generated, user, legacy
	Password string `mapstructure:"password"`
	DName    string `mapstructure:"dname"`
}

type PipelineConfig struct {
	EntryActivity      string `mapstructure:"entry_activity"`
	ManifestStrictness string `mapstructure:"manifest_strictness"` // warn, fail
	ArchiveMode        string `mapstructure:"archive_mode"`        // direct, staging
	MinRebuiltSize     int64  `mapstructure:"min_rebuilt_size"`    // bytes
	VerifyIdentity     bool   `mapstructure:"verify_identity"`
	OpenOutput         bool   `mapstructure:"open_output"`
	Cue                bool   `mapstructure:"cue"`
	SoundDir           string `mapstructure:"sound_dir"` // finish.wav、error.wav 所在目录
}

type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	Mode     string `mapstructure:"mode"`      // debug, release
	APIToken string `mapstructure:"api_token"` // 为空时不认证
}

type DatabaseConfig struct {
	Type     string `mapstructure:"type"` // mysql, sqlite
	Path     string `mapstructure:"path"` // sqlite 文件
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"db_name"`
}

type RabbitMQConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	VHost    string `mapstructure:"vhost"`
	Queue    string `mapstructure:"queue"`
}

type WorkerConfig struct {
	QueueSize int `mapstructure:"queue_size"` // 等待执行的构建数量上限
}

// WatcherConfig 收件箱目录监控（*.json 构建请求）
type WatcherConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
	File   string `mapstructure:"file"`   // 追加写入的事件日志
}

// setDefaults 默认值与原始打包工具保持一致
func setDefaults(v *viper.Viper) {
	v.SetDefault("toolchain.java_home", "openjdk-21.0.7.6-hotspot")
	v.SetDefault("toolchain.apktool_jar", "apktool_2.11.1.jar")
	v.SetDefault("toolchain.build_tools_dir", "build-tools")
	v.SetDefault("toolchain.keytool_bin", "keytool")
	v.SetDefault("toolchain.max_heap", "4g")

	v.SetDefault("paths.base_apk", "Kirikiroid2_1.3.9.apk")
	v.SetDefault("paths.output_dir", "output")

	v.SetDefault("native_libs", map[string]string{
		"armeabi-v7a": "libc++_shared/32/libc++_shared.so",
		"arm64-v8a":   "libc++_shared/64/libc++_shared.so",
	})

	v.SetDefault("keystore.path", "testkey.jks")
	v.SetDefault("keystore.alias", "testkey")
	v.SetDefault("keystore.mode", "generated")
	v.SetDefault("keystore.dname", "CN=Test,OU=Test,O=Test,L=Test,ST=Test,C=CN")

	v.SetDefault("pipeline.entry_activity", "org.tvp.kirikiri2.KR2Activity")
	v.SetDefault("pipeline.manifest_strictness", "warn")
	v.SetDefault("pipeline.archive_mode", "direct")
	v.SetDefault("pipeline.min_rebuilt_size", 1000000)
	v.SetDefault("pipeline.verify_identity", true)
	v.SetDefault("pipeline.open_output", true)
	v.SetDefault("pipeline.cue", true)
	v.SetDefault("pipeline.sound_dir", ".")

	v.SetDefault("locale", "en")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.path", "./data/builds.db")

	v.SetDefault("rabbitmq.port", 5672)
	v.SetDefault("rabbitmq.vhost", "/")
	v.SetDefault("rabbitmq.queue", "kiridroid_builds")

	v.SetDefault("worker.queue_size", 16)

	v.SetDefault("watcher.dir", "./inbox")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "log.txt")
}

// Load 加载配置；path 为空时只使用默认值和环境变量
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// 环境变量覆盖（KIRIDROID_PIPELINE_ARCHIVE_MODE 等）
	v.SetEnvPrefix("KIRIDROID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 敏感信息只从环境变量读取
	v.BindEnv("keystore.password", "KIRIDROID_KEYSTORE_PASSWORD")
	v.BindEnv("database.password", "KIRIDROID_DB_PASSWORD", "MYSQL_PASS")
	v.BindEnv("rabbitmq.password", "KIRIDROID_RABBITMQ_PASSWORD", "RABBITMQ_PASS")
	v.BindEnv("server.api_token", "KIRIDROID_API_TOKEN")

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
