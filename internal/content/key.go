// Package content 定义外部媒体标识（内容键）与格式提示的类型及校验规则。
// 任何内容键在参与文件路径或外部进程参数拼接前都必须经过 ParseKey 校验。
package content

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// DefaultFormat 是未指定 format 查询参数时传递给提取器的格式选择器。
const DefaultFormat = "bestaudio"

var (
	// ErrInvalidKey 表示内容键包含不允许的字符或长度越界。
	ErrInvalidKey = errors.New("invalid content key")
	// ErrInvalidFormat 表示格式提示无法安全地传递给提取器。
	ErrInvalidFormat = errors.New("invalid format hint")
)

var (
	keyPattern    = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	formatPattern = regexp.MustCompile(`^[A-Za-z0-9+/*\[\]<>=!?:._,-]+$`)

	validate = newValidator()
)

// Key 是外部内容（视频）标识，校验通过后可直接用作文件名。
type Key string

// Format 是传递给提取器的格式选择器，例如 bestaudio 或 140。
type Format string

func (k Key) String() string { return string(k) }

func (f Format) String() string { return string(f) }

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("contentkey", func(fl validator.FieldLevel) bool {
		return keyPattern.MatchString(fl.Field().String())
	})
	v.RegisterValidation("formathint", func(fl validator.FieldLevel) bool {
		value := fl.Field().String()
		return formatPattern.MatchString(value) && !strings.HasPrefix(value, "-")
	})
	return v
}

// ParseKey 校验原始字符串并返回内容键，拒绝路径穿越与参数注入字符。
func ParseKey(raw string) (Key, error) {
	raw = strings.TrimSpace(raw)
	if err := validate.Var(raw, "required,max=64,contentkey"); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, raw)
	}
	return Key(raw), nil
}

// ParseFormat 校验格式提示，空值回退到 DefaultFormat。
func ParseFormat(raw string) (Format, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Format(DefaultFormat), nil
	}
	if err := validate.Var(raw, "max=128,formathint"); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidFormat, raw)
	}
	return Format(raw), nil
}

// ParseFormatOr 与 ParseFormat 相同，但空值回退到给定的默认格式。
func ParseFormatOr(raw string, fallback Format) (Format, error) {
	if strings.TrimSpace(raw) == "" && fallback != "" {
		return fallback, nil
	}
	return ParseFormat(raw)
}
