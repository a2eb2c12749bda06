package util

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// ReadTextFileContent 智能读取文本文件内容，自动处理UTF-8和GBK编码
// 返回的内容保证是UTF-8编码的字符串。
func ReadTextFileContent(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	if bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}) {
		return string(bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})), nil
	}

	if utf8.Valid(data) {
		return string(data), nil
	}

	gbkReader := transform.NewReader(bytes.NewReader(data), simplifiedchinese.GBK.NewDecoder())
	decodedData, err := io.ReadAll(gbkReader)
	if err != nil {
		return "", fmt.Errorf("failed to decode %s as GBK: %w", filepath.Base(path), err)
	}

	return string(decodedData), nil
}

// ReadLines 读取文本文件并返回去掉空行和 # 注释后的各行
func ReadLines(path string) ([]string, error) {
	content, err := ReadTextFileContent(path)
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// SanitizeFileName 清理文件名，移除不适用于文件路径的字符
func SanitizeFileName(name string) string {
	// Windows/Linux通用不推荐的字符，斜杠也一并移除
	invalidChars := []string{"\\", "/", ":", "*", "?", "\"", "<", ">", "|"}
	for _, char := range invalidChars {
		name = strings.ReplaceAll(name, char, "")
	}
	// 移除文件名首尾空格和连续空格
	name = strings.TrimSpace(name)
	name = strings.Join(strings.Fields(name), " ") // 将多个空格替换为一个空格
	return name
}

// FormatSize 将字节数转换为人类可读的格式 (KB, MB, GB)
func FormatSize(size int64) string {
	units := []string{"B", "KB", "MB", "GB", "TB"}
	value := float64(size)
	for i := range units {
		if value < 1024 || i == len(units)-1 {
			return fmt.Sprintf("%.2f%s", value, units[i])
		}
		value /= 1024
	}
	return "0B"
}

// IsDirectory 辅助函数，检查路径是否为目录
func IsDirectory(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// IsAudioFile 辅助函数，判断文件是否为音频文件
func IsAudioFile(filePath string) bool {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".flac", ".mp3", ".m4a", ".wav", ".ogg":
		return true
	default:
		return false
	}
}

// IsPartialDownload 判断文件是否为未完成的下载
func IsPartialDownload(filePath string) bool {
	return strings.HasSuffix(filePath, ".part")
}
