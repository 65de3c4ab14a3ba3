package main

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestLoggingFallbackToStdout(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root 用户不受目录权限限制")
	}
	dir := t.TempDir()
	blocked := filepath.Join(dir, "blocked")
	if err := os.Mkdir(blocked, 0o755); err != nil {
		t.Fatalf("创建目录失败: %v", err)
	}
	if err := os.Chmod(blocked, 0o000); err != nil {
		t.Fatalf("设置目录权限失败: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(blocked, 0o755) })

	logPath := filepath.Join(blocked, "sub", "audiohub.log")
	configPath := writeConfigFile(t, fmt.Sprintf(`
LogLevel = "info"
LogFilePath = "%s"
StoragePath = "%s"
ListenPort = 5000
`, logPath, filepath.Join(dir, "storage")))

	outBuf, _ := useBufferWriters(t)
	code := run(cliOptions{configPath: configPath, checkOnly: true})
	if code != 0 {
		t.Fatalf("日志 fallback 不应导致失败，得到 %d", code)
	}
	t.Log(outBuf.String())
}

func TestLoggingWritesRotatingFile(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "logs", "audiohub.log")
	configPath := writeConfigFile(t, fmt.Sprintf(`
LogLevel = "info"
LogFilePath = "%s"
StoragePath = "%s"
`, logPath, filepath.Join(dir, "storage")))

	useBufferWriters(t)
	if code := run(cliOptions{configPath: configPath, checkOnly: true}); code != 0 {
		t.Fatalf("期望退出码 0，得到 %d", code)
	}
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("读取日志文件失败: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("日志文件不应为空")
	}
}
