package service

import (
	"errors"
	"net/http"

	"github.com/yleoer/musicapi/pkg/resolver"
)

var (
	// ErrBadKeyword 表示关键词不是 "歌手 - 歌名" 格式
	ErrBadKeyword = errors.New("keyword must look like 'Artist - Title'")
	// ErrNotFound 表示远端或本地都没有找到
	ErrNotFound = errors.New("not found")
)

// Result 是返回给调用方的结构化结果，失败时 Message 是可读的原因
type Result struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// OK 包装成功结果
func OK(data interface{}) Result {
	return Result{Code: http.StatusOK, Message: "成功", Data: data}
}

// Accepted 表示任务已经进入后台队列
func Accepted(message string) Result {
	return Result{Code: http.StatusAccepted, Message: "任务已接受", Data: map[string]string{"message": message}}
}

// FromError 把错误转换为结果，不会暴露堆栈
func FromError(err error) Result {
	var failure *resolver.Failure
	switch {
	case errors.Is(err, ErrBadKeyword):
		return Result{Code: http.StatusBadRequest, Message: err.Error()}
	case errors.Is(err, ErrNotFound), errors.Is(err, resolver.ErrNoVariant):
		return Result{Code: http.StatusNotFound, Message: err.Error()}
	case errors.As(err, &failure):
		return Result{Code: http.StatusBadGateway, Message: failure.Error()}
	default:
		return Result{Code: http.StatusInternalServerError, Message: err.Error()}
	}
}
