package downloader

import "fmt"

// DownloadError 表示重试耗尽后的下载失败
type DownloadError struct {
	Message  string
	Attempts int
	Original error
}

func (e *DownloadError) Error() string {
	if e.Original != nil {
		return fmt.Sprintf("download error: %s after %d attempts: %v", e.Message, e.Attempts, e.Original)
	}
	return fmt.Sprintf("download error: %s after %d attempts", e.Message, e.Attempts)
}

func (e *DownloadError) Unwrap() error {
	return e.Original
}
