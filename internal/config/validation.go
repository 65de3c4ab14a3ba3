package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/audiohub/internal/content"
	"github.com/any-hub/audiohub/internal/extractor"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("ListenPort", "必须在 1-65535")
	}
	if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
		return newFieldError("LogLevel", "无法识别的日志级别: "+g.LogLevel)
	}
	if g.StoragePath == "" {
		return newFieldError("StoragePath", "不能为空")
	}
	if g.RetentionAge.DurationValue() <= 0 {
		return newFieldError("RetentionAge", "必须大于 0")
	}
	for _, origin := range g.AllowedOrigins {
		if err := validateOrigin(origin); err != nil {
			return fmt.Errorf("%s: %w", listField("AllowedOrigins", origin), err)
		}
	}

	e := c.Extractor
	if e.ExtractorPath == "" {
		return newFieldError("ExtractorPath", "不能为空")
	}
	if e.ExtractorTimeout.DurationValue() < 0 {
		return newFieldError("ExtractorTimeout", "不能为负数")
	}
	if e.MaxConcurrentExtractions < 0 {
		return newFieldError("MaxConcurrentExtractions", "不能为负数")
	}
	if _, err := content.ParseFormat(e.DefaultFormat); err != nil {
		return newFieldError("DefaultFormat", err.Error())
	}
	if _, ok := extractor.LookupProfile(e.AudioFormat); !ok {
		return newFieldError("AudioFormat", "仅支持 "+strings.Join(extractor.ProfileNames(), "|"))
	}
	if strings.Count(e.SourceURL, "%s") != 1 {
		return newFieldError("SourceURL", "必须包含且仅包含一个 %s 占位符")
	}
	if err := validateSourceURL(e.SourceURLFor("placeholder")); err != nil {
		return fmt.Errorf("SourceURL: %w", err)
	}
	if e.MetadataMaxBytes <= 0 {
		return newFieldError("MetadataMaxBytes", "必须大于 0")
	}

	return nil
}

func validateOrigin(origin string) error {
	if origin == "*" {
		return errors.New("携带凭证时不允许通配 Origin")
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("Origin 需要包含 scheme 与 host: %s", origin)
	}
	return nil
}

func validateSourceURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("缺少 Host: %s", raw)
	}
	return nil
}
