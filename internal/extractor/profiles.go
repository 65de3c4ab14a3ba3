package extractor

import (
	"sort"
	"strings"
)

// Profile 描述一种 --audio-format 输出：落盘扩展名与响应 Content-Type。
type Profile struct {
	Name string
	Ext  string
	MIME string
}

var profiles = map[string]Profile{
	"mp3":    {Name: "mp3", Ext: "mp3", MIME: "audio/mpeg"},
	"m4a":    {Name: "m4a", Ext: "m4a", MIME: "audio/mp4"},
	"opus":   {Name: "opus", Ext: "opus", MIME: "audio/ogg"},
	"vorbis": {Name: "vorbis", Ext: "ogg", MIME: "audio/ogg"},
	"flac":   {Name: "flac", Ext: "flac", MIME: "audio/flac"},
	"wav":    {Name: "wav", Ext: "wav", MIME: "audio/wav"},
	"aac":    {Name: "aac", Ext: "aac", MIME: "audio/aac"},
}

// 源站原始格式扩展名到 MIME 的映射，仅用于 /info 元数据展示。
var sourceMIME = map[string]string{
	"m4a":  "audio/mp4",
	"mp4":  "audio/mp4",
	"webm": "audio/webm",
	"weba": "audio/webm",
	"mp3":  "audio/mpeg",
	"opus": "audio/ogg",
	"ogg":  "audio/ogg",
	"flac": "audio/flac",
	"wav":  "audio/wav",
	"aac":  "audio/aac",
}

// LookupProfile 按名称（大小写不敏感）查找音频输出配置。
func LookupProfile(name string) (Profile, bool) {
	p, ok := profiles[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// ProfileNames 返回排序后的受支持格式名称。
func ProfileNames() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func mimeForExt(ext string) string {
	return sourceMIME[strings.ToLower(ext)]
}
