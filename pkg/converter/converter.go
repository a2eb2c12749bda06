package converter

// TextConverter 定义文本转换器接口
type TextConverter interface {
	TradToSim(text string) string // 将繁体中文转换为简体
}

// Passthrough 原样返回文本，用于未启用 OpenCC 的场景和测试
type Passthrough struct{}

func (Passthrough) TradToSim(text string) string { return text }
