// Package extractor 封装外部 yt-dlp 进程：元数据查询与音频下载。
// 进程以 argv 切片启动，不经过 shell，内容键与格式在进入本包之前已完成校验。
package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/any-hub/audiohub/internal/content"
)

const stderrTailLimit = 4 << 10

var (
	// ErrUnavailable 表示提取器可执行文件缺失或无法启动。
	ErrUnavailable = errors.New("extractor unavailable")
	// ErrMalformedMetadata 表示 --dump-json 输出无法解析。
	ErrMalformedMetadata = errors.New("malformed extractor metadata")
	// ErrMetadataTooLarge 表示元数据输出超过 MetadataMaxBytes。
	ErrMetadataTooLarge = errors.New("extractor metadata too large")
	// ErrNoOutput 表示进程成功退出但没有产出可用文件。
	ErrNoOutput = errors.New("extractor produced no output")
	// ErrUnexpectedOutput 表示产出文件不是媒体内容。
	ErrUnexpectedOutput = errors.New("extractor produced non-media output")
)

// Request 描述一次提取调用。
type Request struct {
	Key    content.Key
	Format content.Format
}

// Downloader 把音频写入 outputDir 并返回产出文件路径。
type Downloader interface {
	Download(ctx context.Context, req Request, outputDir string) (string, error)
}

// MetadataSource 返回内容键对应的元数据。
type MetadataSource interface {
	Metadata(ctx context.Context, key content.Key) (*Info, error)
}

// Extractor 组合下载与元数据能力。
type Extractor interface {
	Downloader
	MetadataSource
}

// Options 控制 yt-dlp 调用参数。
type Options struct {
	BinPath          string
	SourceURL        string
	AudioFormat      string
	AudioQuality     string
	MetadataMaxBytes int64
}

// YTDLP 通过本地 yt-dlp 可执行文件实现 Extractor。
type YTDLP struct {
	opts    Options
	profile Profile
}

// New 校验音频格式并构建 YTDLP。
func New(opts Options) (*YTDLP, error) {
	profile, ok := LookupProfile(opts.AudioFormat)
	if !ok {
		return nil, fmt.Errorf("unsupported audio format %q", opts.AudioFormat)
	}
	if strings.TrimSpace(opts.BinPath) == "" {
		opts.BinPath = "yt-dlp"
	}
	if strings.Count(opts.SourceURL, "%s") != 1 {
		return nil, fmt.Errorf("source url template must contain exactly one %%s: %q", opts.SourceURL)
	}
	if opts.AudioQuality == "" {
		opts.AudioQuality = "0"
	}
	if opts.MetadataMaxBytes <= 0 {
		opts.MetadataMaxBytes = 10 << 20
	}
	return &YTDLP{opts: opts, profile: profile}, nil
}

// Profile 返回当前输出格式配置。
func (y *YTDLP) Profile() Profile {
	return y.profile
}

// CheckInstallation 在 PATH 中定位 yt-dlp，返回解析后的绝对路径。
func (y *YTDLP) CheckInstallation() (string, error) {
	path, err := exec.LookPath(y.opts.BinPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return path, nil
}

// Metadata 执行 --dump-json 并解析结果。
func (y *YTDLP) Metadata(ctx context.Context, key content.Key) (*Info, error) {
	stdout := &cappedBuffer{limit: y.opts.MetadataMaxBytes}
	if err := y.run(ctx, y.metadataArgs(key), stdout); err != nil {
		return nil, err
	}
	if stdout.overflow {
		return nil, fmt.Errorf("%w: limit %d bytes", ErrMetadataTooLarge, y.opts.MetadataMaxBytes)
	}
	return ParseInfo(key.String(), stdout.buf.Bytes())
}

// Download 把音频提取到 outputDir/<key>.<ext>。
func (y *YTDLP) Download(ctx context.Context, req Request, outputDir string) (string, error) {
	if err := y.run(ctx, y.downloadArgs(req, outputDir), nil); err != nil {
		return "", err
	}

	produced := filepath.Join(outputDir, req.Key.String()+"."+y.profile.Ext)
	info, err := os.Stat(produced)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNoOutput, filepath.Base(produced))
		}
		return "", err
	}
	if !info.Mode().IsRegular() || info.Size() == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoOutput, filepath.Base(produced))
	}

	detected, err := mimetype.DetectFile(produced)
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(detected.String(), "text/") {
		return "", fmt.Errorf("%w: detected %s", ErrUnexpectedOutput, detected.String())
	}
	return produced, nil
}

func (y *YTDLP) sourceURL(key content.Key) string {
	return fmt.Sprintf(y.opts.SourceURL, key.String())
}

func (y *YTDLP) metadataArgs(key content.Key) []string {
	return []string{"--dump-json", "--no-playlist", "--", y.sourceURL(key)}
}

func (y *YTDLP) downloadArgs(req Request, outputDir string) []string {
	format := req.Format
	if format == "" {
		format = content.DefaultFormat
	}
	return []string{
		"-f", format.String(),
		"-o", filepath.Join(outputDir, req.Key.String()+".%(ext)s"),
		"--no-playlist",
		"--no-mtime",
		"--no-progress",
		"--extract-audio",
		"--audio-format", y.profile.Name,
		"--audio-quality", y.opts.AudioQuality,
		"--", y.sourceURL(req.Key),
	}
}

// run 启动进程并等待退出；stdout 为 nil 时丢弃标准输出。
func (y *YTDLP) run(ctx context.Context, args []string, stdout *cappedBuffer) error {
	cmd := exec.CommandContext(ctx, y.opts.BinPath, args...)
	stderr := &cappedBuffer{limit: stderrTailLimit}
	if stdout != nil {
		cmd.Stdout = stdout
	}
	cmd.Stderr = stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("yt-dlp interrupted: %w", ctxErr)
	}
	if msg := strings.TrimSpace(stderr.buf.String()); msg != "" {
		return fmt.Errorf("yt-dlp failed: %w: %s", err, lastLine(msg))
	}
	return fmt.Errorf("yt-dlp failed: %w", err)
}

// cappedBuffer 最多保留 limit 字节，超出部分丢弃并记录溢出，
// 避免子进程因管道写满而阻塞。
type cappedBuffer struct {
	buf      bytes.Buffer
	limit    int64
	overflow bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	remaining := b.limit - int64(b.buf.Len())
	if remaining <= 0 {
		b.overflow = b.overflow || len(p) > 0
		return len(p), nil
	}
	if int64(len(p)) > remaining {
		b.buf.Write(p[:remaining])
		b.overflow = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func lastLine(msg string) string {
	if idx := strings.LastIndexByte(msg, '\n'); idx >= 0 {
		return strings.TrimSpace(msg[idx+1:])
	}
	return msg
}
