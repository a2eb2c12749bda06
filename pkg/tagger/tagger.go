package tagger

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yleoer/musicapi/pkg/track"
)

// Writer 把歌曲信息写入已下载的音频文件
type Writer interface {
	Write(ctx context.Context, path string, meta *track.Metadata) error
}

// Tagger 按扩展名选择写入方式：mp3 用 ID3v2，flac 用 Vorbis comment，其余交给 ffmpeg
type Tagger struct {
	httpClient *http.Client
	ffmpegPath string
	logger     *log.Logger
}

// NewTagger 创建 Tagger，coverTimeout 用于下载封面
func NewTagger(ffmpegPath string, coverTimeout time.Duration, logger *log.Logger) *Tagger {
	return &Tagger{
		httpClient: &http.Client{Timeout: coverTimeout},
		ffmpegPath: ffmpegPath,
		logger:     logger,
	}
}

func (t *Tagger) Write(ctx context.Context, path string, meta *track.Metadata) error {
	if err := ctx.Err(); err != nil {
		return &MetadataError{Message: "context cancelled", Original: err}
	}
	if meta == nil {
		return &MetadataError{Message: "no metadata for " + filepath.Base(path)}
	}
	if _, err := os.Stat(path); err != nil {
		return &MetadataError{Message: "file not found: " + filepath.Base(path), Original: err}
	}

	// 封面每次调用只下载一次
	var cover *coverArt
	if meta.CoverURL != "" {
		c, err := t.fetchCover(ctx, meta.CoverURL)
		if err != nil {
			t.logger.Printf("  -> WARN: cover download failed for %s: %v", filepath.Base(path), err)
		} else {
			cover = c
		}
	}

	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		err = t.writeMP3(path, meta, cover)
	case ".flac":
		err = t.writeFLAC(path, meta, cover)
	default:
		err = t.writeWithFFmpeg(ctx, path, meta)
	}
	if err != nil {
		return err
	}
	t.logger.Printf("  -> Tags written: %s", filepath.Base(path))
	return nil
}

type coverArt struct {
	data []byte
	mime string
}

func (t *Tagger) fetchCover(ctx context.Context, coverURL string) (*coverArt, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, coverURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download cover art: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download cover art: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read cover art: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty cover art")
	}
	return &coverArt{data: data, mime: detectMIME(data)}, nil
}

func detectMIME(data []byte) string {
	if len(data) > 4 && data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	return "image/jpeg"
}

// trackString 返回 "n/total"，total 未知时只返回 n
func trackString(n, total int) string {
	if n <= 0 {
		return ""
	}
	if total > 0 {
		return fmt.Sprintf("%d/%d", n, total)
	}
	return fmt.Sprintf("%d", n)
}

func intString(n int) string {
	if n <= 0 {
		return ""
	}
	return fmt.Sprintf("%d", n)
}
