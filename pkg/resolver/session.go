package resolver

import (
	"net/http"
	"strings"
	"sync/atomic"
)

// Credentials 是一个平台的登录信息，创建后不再修改
type Credentials struct {
	Cookies      map[string]string
	UIN          string
	Key          string
	RefreshToken string
}

// ParseCookie 把 "a=1; b=2" 形式的 Cookie 字符串解析成 map
func ParseCookie(text string) map[string]string {
	cookies := make(map[string]string)
	for _, item := range strings.Split(strings.TrimSpace(text), ";") {
		k, v, ok := strings.Cut(item, "=")
		if !ok {
			continue
		}
		cookies[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return cookies
}

// Session 保存当前生效的凭据，刷新时整体替换
type Session struct {
	creds atomic.Pointer[Credentials]
}

func NewSession(c Credentials) *Session {
	s := &Session{}
	s.Swap(c)
	return s
}

// Load 返回当前凭据，调用方不能修改返回值中的 map
func (s *Session) Load() *Credentials {
	if c := s.creds.Load(); c != nil {
		return c
	}
	return &Credentials{}
}

// Swap 替换凭据
func (s *Session) Swap(c Credentials) {
	cookies := make(map[string]string, len(c.Cookies))
	for k, v := range c.Cookies {
		cookies[k] = v
	}
	c.Cookies = cookies
	s.creds.Store(&c)
}

// Apply 把 Cookie 写入请求
func (s *Session) Apply(req *http.Request) {
	for k, v := range s.Load().Cookies {
		req.AddCookie(&http.Cookie{Name: k, Value: v})
	}
}
