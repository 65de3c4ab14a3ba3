package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix 是所有环境变量覆盖项的统一前缀，例如 AUDIOHUB_LISTENPORT。
const EnvPrefix = "AUDIOHUB"

var defaultAllowedOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
	"capacitor://localhost",
	"ionic://localhost",
}

// Load 读取可选的 TOML 配置文件，叠加环境变量覆盖，并注入默认值与校验逻辑。
// path 为空时仅使用默认值与环境变量。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	bindEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置失败: %w", err)
		}
	}

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyExtractorDefaults(&cfg.Extractor)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 3000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./downloads")
	v.SetDefault("RetentionAge", "24h")
	v.SetDefault("CleanupInterval", "0s")
	v.SetDefault("AllowedOrigins", defaultAllowedOrigins)

	v.SetDefault("ExtractorPath", "yt-dlp")
	v.SetDefault("ExtractorTimeout", "10m")
	v.SetDefault("MaxConcurrentExtractions", 0)
	v.SetDefault("DefaultFormat", "bestaudio")
	v.SetDefault("AudioFormat", "mp3")
	v.SetDefault("AudioQuality", "0")
	v.SetDefault("SourceURL", "https://www.youtube.com/watch?v=%s")
	v.SetDefault("MetadataMaxBytes", 10*1024*1024)
}

// bindEnv 为每个配置键绑定 AUDIOHUB_<KEY> 环境变量；ListenPort 额外兼容 PORT。
func bindEnv(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		envName := EnvPrefix + "_" + strings.ToUpper(key)
		if key == "listenport" {
			_ = v.BindEnv(key, envName, "PORT")
			continue
		}
		_ = v.BindEnv(key, envName)
	}
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 3000
	}
	if g.RetentionAge.DurationValue() == 0 {
		g.RetentionAge = Duration(24 * time.Hour)
	}
	if g.CleanupInterval.DurationValue() < 0 {
		g.CleanupInterval = Duration(0)
	}
	g.LogLevel = strings.ToLower(strings.TrimSpace(g.LogLevel))
	origins := g.AllowedOrigins[:0]
	for _, origin := range g.AllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	g.AllowedOrigins = origins
}

func applyExtractorDefaults(e *ExtractorConfig) {
	if strings.TrimSpace(e.ExtractorPath) == "" {
		e.ExtractorPath = "yt-dlp"
	}
	if strings.TrimSpace(e.DefaultFormat) == "" {
		e.DefaultFormat = "bestaudio"
	}
	e.AudioFormat = strings.ToLower(strings.TrimSpace(e.AudioFormat))
	if e.AudioFormat == "" {
		e.AudioFormat = "mp3"
	}
	if e.MetadataMaxBytes == 0 {
		e.MetadataMaxBytes = 10 * 1024 * 1024
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			v = strings.TrimSpace(v)
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
