package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// PartSuffix 是下载中的临时文件后缀，成功后重命名为目标文件
const PartSuffix = ".part"

// Options 控制重试和超时
type Options struct {
	Retries int           // 最大尝试次数
	Backoff time.Duration // 两次尝试之间的固定间隔
	Timeout time.Duration // 单次尝试的超时
}

// Downloader 把远端文件流式写到磁盘
type Downloader struct {
	httpClient *http.Client
	opts       Options
	logger     *log.Logger
}

// New 创建一个新的 Downloader 实例
func New(opts Options, logger *log.Logger) *Downloader {
	if opts.Retries < 1 {
		opts.Retries = 1
	}
	return &Downloader{
		httpClient: &http.Client{},
		opts:       opts,
		logger:     logger,
	}
}

// Download 下载 url 到 dest，返回写入的字节数。
// 文件先写到 dest.part，完整写完后才重命名；最终失败时删除残留文件。
// 日志和错误中不会出现 rawURL。
func (d *Downloader) Download(ctx context.Context, rawURL, dest string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return 0, &DownloadError{Message: "create destination directory", Attempts: 0, Original: err}
	}
	name := filepath.Base(dest)

	var lastErr error
	attempts := 0
retry:
	for attempts < d.opts.Retries {
		attempts++
		n, err := d.attempt(ctx, rawURL, dest)
		if err == nil {
			return n, nil
		}
		lastErr = err
		d.logger.Printf("  -> WARN: Download attempt %d/%d failed for %s: %v", attempts, d.opts.Retries, name, err)
		if attempts == d.opts.Retries {
			break
		}
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			break retry
		case <-time.After(d.opts.Backoff):
		}
	}

	_ = os.Remove(dest + PartSuffix)
	return 0, &DownloadError{Message: "failed to download " + name, Attempts: attempts, Original: lastErr}
}

func (d *Downloader) attempt(ctx context.Context, rawURL, dest string) (int64, error) {
	if d.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", unwrapURLError(err))
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		// *url.Error 会带上地址，这里只保留底层原因
		return 0, fmt.Errorf("request failed: %w", unwrapURLError(err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	part := dest + PartSuffix
	f, err := os.Create(part)
	if err != nil {
		return 0, fmt.Errorf("create partial file: %w", err)
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && resp.ContentLength > 0 && n != resp.ContentLength {
		err = fmt.Errorf("short body: got %d of %d bytes", n, resp.ContentLength)
	}
	if err != nil {
		_ = os.Remove(part)
		return 0, fmt.Errorf("write body: %w", unwrapURLError(err))
	}
	if err := os.Rename(part, dest); err != nil {
		_ = os.Remove(part)
		return 0, fmt.Errorf("rename partial file: %w", err)
	}
	return n, nil
}

func unwrapURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}
	return err
}
