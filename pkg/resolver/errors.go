package resolver

import (
	"errors"
	"fmt"
)

// ErrNoVariant 表示平台没有给出可播放的地址
var ErrNoVariant = errors.New("no playable variant")

// Failure 表示一次平台调用失败：网络错误、非 200 状态、响应格式不对或鉴权失败
type Failure struct {
	Platform string
	Op       string
	Message  string
	Original error
}

func (e *Failure) Error() string {
	if e.Original != nil {
		return fmt.Sprintf("%s %s failed: %s: %v", e.Platform, e.Op, e.Message, e.Original)
	}
	return fmt.Sprintf("%s %s failed: %s", e.Platform, e.Op, e.Message)
}

func (e *Failure) Unwrap() error {
	return e.Original
}

// Fail 构造一个 Failure
func Fail(platform, op, message string, original error) *Failure {
	return &Failure{Platform: platform, Op: op, Message: message, Original: original}
}

// NoVariant 构造一个包装了 ErrNoVariant 的 Failure
func NoVariant(platform string, tier fmt.Stringer) *Failure {
	return &Failure{Platform: platform, Op: "variant", Message: "no url for " + tier.String(), Original: ErrNoVariant}
}
