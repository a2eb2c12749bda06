package tagger

import "fmt"

// MetadataError 表示写入标签失败，对下载流程而言不是致命错误
type MetadataError struct {
	Message  string
	Original error
}

func (e *MetadataError) Error() string {
	if e.Original != nil {
		return fmt.Sprintf("metadata error: %s: %v", e.Message, e.Original)
	}
	return fmt.Sprintf("metadata error: %s", e.Message)
}

func (e *MetadataError) Unwrap() error {
	return e.Original
}
