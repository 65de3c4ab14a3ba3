package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述服务运行时行为：监听端口、日志、缓存目录与保留策略。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoragePath     string   `mapstructure:"StoragePath"`
	RetentionAge    Duration `mapstructure:"RetentionAge"`
	CleanupInterval Duration `mapstructure:"CleanupInterval"`
	AllowedOrigins  []string `mapstructure:"AllowedOrigins"`
}

// ExtractorConfig 决定如何调用外部提取器（yt-dlp）以及产出的音频格式。
type ExtractorConfig struct {
	ExtractorPath            string   `mapstructure:"ExtractorPath"`
	ExtractorTimeout         Duration `mapstructure:"ExtractorTimeout"`
	MaxConcurrentExtractions int      `mapstructure:"MaxConcurrentExtractions"`
	DefaultFormat            string   `mapstructure:"DefaultFormat"`
	AudioFormat              string   `mapstructure:"AudioFormat"`
	AudioQuality             string   `mapstructure:"AudioQuality"`
	SourceURL                string   `mapstructure:"SourceURL"`
	MetadataMaxBytes         int64    `mapstructure:"MetadataMaxBytes"`
}

// Config 是 TOML 文件 + 环境变量映射的整体结构，所有字段均位于顶层。
type Config struct {
	Global    GlobalConfig    `mapstructure:",squash"`
	Extractor ExtractorConfig `mapstructure:",squash"`
}

// SourceURLFor 根据模板生成提取器使用的完整来源地址。
func (e ExtractorConfig) SourceURLFor(key string) string {
	return fmt.Sprintf(e.SourceURL, key)
}

// OriginsSummary 输出 CORS 白名单摘要，供启动日志使用。
func (g GlobalConfig) OriginsSummary() string {
	if len(g.AllowedOrigins) == 0 {
		return "none"
	}
	return strings.Join(g.AllowedOrigins, ",")
}
