package extractor

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Info 是 /info 接口返回的元数据视图。
type Info struct {
	VideoID      string        `json:"videoId"`
	Title        string        `json:"title"`
	Channel      string        `json:"channel"`
	Duration     *float64      `json:"duration"`
	Thumbnail    string        `json:"thumbnail"`
	AudioFormats []AudioFormat `json:"audioFormats"`
	BestAudio    *AudioFormat  `json:"bestAudio"`
}

// AudioFormat 描述一个纯音频格式候选。
type AudioFormat struct {
	FormatID string   `json:"formatId"`
	Quality  *float64 `json:"quality"`
	Bitrate  *float64 `json:"bitrate"`
	Filesize *int64   `json:"filesize"`
	MimeType string   `json:"mimeType,omitempty"`
}

type rawInfo struct {
	ID        string      `json:"id"`
	Title     string      `json:"title"`
	Uploader  string      `json:"uploader"`
	Channel   string      `json:"channel"`
	Duration  *float64    `json:"duration"`
	Thumbnail string      `json:"thumbnail"`
	Formats   []rawFormat `json:"formats"`
}

type rawFormat struct {
	FormatID       string   `json:"format_id"`
	Ext            string   `json:"ext"`
	ACodec         string   `json:"acodec"`
	VCodec         string   `json:"vcodec"`
	ABR            *float64 `json:"abr"`
	TBR            *float64 `json:"tbr"`
	Quality        *float64 `json:"quality"`
	Filesize       *float64 `json:"filesize"`
	FilesizeApprox *float64 `json:"filesize_approx"`
}

// ParseInfo 解析 --dump-json 输出：只保留有音轨且无视频轨的格式，按码率降序排列。
func ParseInfo(videoID string, data []byte) (*Info, error) {
	var raw rawInfo
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMetadata, err)
	}

	channel := raw.Uploader
	if channel == "" {
		channel = raw.Channel
	}
	info := &Info{
		VideoID:      videoID,
		Title:        raw.Title,
		Channel:      channel,
		Duration:     raw.Duration,
		Thumbnail:    raw.Thumbnail,
		AudioFormats: make([]AudioFormat, 0, len(raw.Formats)),
	}

	for _, f := range raw.Formats {
		if !isAudioOnly(f) {
			continue
		}
		info.AudioFormats = append(info.AudioFormats, AudioFormat{
			FormatID: f.FormatID,
			Quality:  f.Quality,
			Bitrate:  bitrateOf(f),
			Filesize: sizeOf(f),
			MimeType: mimeForExt(f.Ext),
		})
	}

	sort.SliceStable(info.AudioFormats, func(i, j int) bool {
		return bitrateValue(info.AudioFormats[i].Bitrate) > bitrateValue(info.AudioFormats[j].Bitrate)
	})
	if len(info.AudioFormats) > 0 {
		best := info.AudioFormats[0]
		info.BestAudio = &best
	}
	return info, nil
}

func isAudioOnly(f rawFormat) bool {
	if f.ACodec == "" || f.ACodec == "none" {
		return false
	}
	return f.VCodec == "" || f.VCodec == "none"
}

func bitrateOf(f rawFormat) *float64 {
	if f.ABR != nil {
		return f.ABR
	}
	return f.TBR
}

func bitrateValue(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func sizeOf(f rawFormat) *int64 {
	src := f.Filesize
	if src == nil {
		src = f.FilesizeApprox
	}
	if src == nil {
		return nil
	}
	size := int64(*src)
	return &size
}
