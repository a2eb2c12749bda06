package netease

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/yleoer/musicapi/pkg/resolver"
)

const Platform = "netease"

const (
	userAgent = "Mozilla/5.0 (Windows NT 10.0; WOW64) AppleWebKit/537.36 (KHTML, like Gecko) Safari/537.36 Chrome/91.0.4472.164 NeteaseMusicDesktop/8.9.75"

	apiHost    = "https://interface3.music.163.com"
	searchHost = "https://interface.music.163.com"
	webHost    = "https://music.163.com"

	songURLPath     = "/eapi/song/enhance/player/url/v1"
	songDetailPath  = "/api/v3/song/detail"
	lyricPath       = "/api/song/lyric"
	searchPath      = "/eapi/cloudsearch/pc"
	playlistPath    = "/api/v6/playlist/detail"
	albumDetailPath = "/eapi/album/v3/detail"
)

var defaultHeader = map[string]string{"os": "pc", "appver": "8.9.75", "osver": "", "deviceId": "pyncm!"}

// Client 是网易云音乐的 Resolver 实现
type Client struct {
	apiBase    string
	searchBase string
	webBase    string
	httpClient *http.Client
	session    *resolver.Session
	logger     *log.Logger

	mu     sync.Mutex
	albums map[string]*albumDetail // 专辑详情缓存，只缓存成功的结果
}

// NewClient 创建一个新的 Client 实例，baseURL 为空时使用官方域名
func NewClient(baseURL string, timeout time.Duration, session *resolver.Session, logger *log.Logger) *Client {
	c := &Client{
		apiBase:    apiHost,
		searchBase: searchHost,
		webBase:    webHost,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		session: session,
		logger:  logger,
		albums:  make(map[string]*albumDetail),
	}
	if baseURL != "" {
		baseURL = strings.TrimRight(baseURL, "/")
		c.apiBase, c.searchBase, c.webBase = baseURL, baseURL, baseURL
	}
	return c
}

func (c *Client) Platform() string { return Platform }

// postForm 发送普通表单请求
func (c *Client) postForm(ctx context.Context, op, rawURL string, form url.Values) ([]byte, error) {
	return c.do(ctx, op, rawURL, form, false)
}

// postEapi 加密请求体后发送，响应可能是明文 JSON 也可能是加密数据
func (c *Client) postEapi(ctx context.Context, op, rawURL string, payload any) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, resolver.Fail(Platform, op, "invalid url", err)
	}
	params, err := encryptParams(strings.Replace(u.Path, "/eapi/", "/api/", 1), payload)
	if err != nil {
		return nil, resolver.Fail(Platform, op, "encrypt request", err)
	}
	return c.do(ctx, op, rawURL, url.Values{"params": {params}}, true)
}

func (c *Client) do(ctx context.Context, op, rawURL string, form url.Values, eapi bool) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, resolver.Fail(Platform, op, "build request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)
	c.session.Apply(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, resolver.Fail(Platform, op, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, resolver.Fail(Platform, op, fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resolver.Fail(Platform, op, "read response", err)
	}
	if len(body) == 0 {
		return nil, resolver.Fail(Platform, op, "empty response", nil)
	}
	if json.Valid(body) {
		return body, nil
	}
	if !eapi {
		return nil, resolver.Fail(Platform, op, "malformed response", nil)
	}
	plain, err := decryptResponse(body)
	if err != nil {
		return nil, resolver.Fail(Platform, op, "malformed response", err)
	}
	if !json.Valid(plain) {
		return nil, resolver.Fail(Platform, op, "malformed response", nil)
	}
	return plain, nil
}

// checkCode 检查响应中的业务状态码
func checkCode(op string, body []byte) error {
	if code := gjson.GetBytes(body, "code"); code.Exists() && code.Int() != 200 {
		return resolver.Fail(Platform, op, fmt.Sprintf("api returned code %d", code.Int()), nil)
	}
	return nil
}

func requestHeader() string {
	h := make(map[string]string, len(defaultHeader)+1)
	for k, v := range defaultHeader {
		h[k] = v
	}
	h["requestId"] = fmt.Sprintf("%d", 20000000+time.Now().UnixNano()%10000000)
	b, _ := json.Marshal(h)
	return string(b)
}
