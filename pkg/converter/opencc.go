package converter

import (
	"fmt"
	"log"
	"sync"

	"github.com/liuzl/gocc"
)

// openCCConverter 是 TextConverter 的一个实现
type openCCConverter struct {
	mu        sync.Mutex
	converter *gocc.OpenCC
	logger    *log.Logger
}

// NewOpenCCConverter 初始化并返回一个 OpenCC 转换器实例
func NewOpenCCConverter(logger *log.Logger) (TextConverter, error) {
	// 初始化转换器：t2s.json 代表 Traditional Chinese to Simplified Chinese
	converter, err := gocc.New("t2s")
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenCC converter: %w", err)
	}
	logger.Println("OpenCC converter (t2s) initialized.")
	return &openCCConverter{converter: converter, logger: logger}, nil
}

// TradToSim 将繁体中文转换为简体。后台下载任务会并发调用，这里加锁保护内部状态。
func (c *openCCConverter) TradToSim(text string) string {
	if c.converter == nil || text == "" {
		return text
	}
	c.mu.Lock()
	out, err := c.converter.Convert(text)
	c.mu.Unlock()
	if err != nil {
		c.logger.Printf("WARN: Failed to convert text '%s' from Traditional to Simplified: %v", text, err)
		return text // 在转换失败时返回原文
	}
	return out
}
