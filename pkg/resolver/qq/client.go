package qq

import (
	"bytes"
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

const Platform = "qq"

const (
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

	musicuHost = "https://u.y.qq.com"
	legacyHost = "https://c.y.qq.com"
	loginHost  = "https://u6.y.qq.com"

	musicuPath     = "/cgi-bin/musicu.fcg"
	loginPath      = "/cgi-bin/musics.fcg"
	singleSongPath = "/v8/fcg-bin/fcg_play_single_song.fcg"
	albumInfoPath  = "/v8/fcg-bin/fcg_v8_album_info_cp.fcg"
	playlistPath   = "/v8/fcg-bin/fcg_v8_playlist_cp.fcg"

	defaultStreamHost = "https://isure.stream.qqmusic.qq.com/"
)

var comm = map[string]any{"cv": 4747474, "ct": 24, "format": "json", "platform": "yqq.json"}

// Client 是 QQ 音乐的 Resolver 实现
type Client struct {
	musicuBase string
	legacyBase string
	loginBase  string
	httpClient *http.Client
	session    *resolver.Session
	logger     *log.Logger

	mu     sync.Mutex
	albums map[string]*albumDetail
}

// NewClient 创建一个新的 Client 实例，baseURL 为空时使用官方域名
func NewClient(baseURL string, timeout time.Duration, session *resolver.Session, logger *log.Logger) *Client {
	c := &Client{
		musicuBase: musicuHost,
		legacyBase: legacyHost,
		loginBase:  loginHost,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		session: session,
		logger:  logger,
		albums:  make(map[string]*albumDetail),
	}
	if baseURL != "" {
		baseURL = strings.TrimRight(baseURL, "/")
		c.musicuBase, c.legacyBase, c.loginBase = baseURL, baseURL, baseURL
	}
	return c
}

func (c *Client) Platform() string { return Platform }

// CredentialsFrom 根据 uin 和 musickey 构造请求需要的 Cookie
func CredentialsFrom(uin, musicKey, refreshToken string) resolver.Credentials {
	creds := resolver.Credentials{UIN: uin, Key: musicKey, RefreshToken: refreshToken, Cookies: map[string]string{}}
	if uin != "" {
		creds.Cookies["uin"] = uin
	}
	if musicKey != "" {
		creds.Cookies["qqmusic_key"] = musicKey
		creds.Cookies["qm_keyst"] = musicKey
	}
	return creds
}

func (c *Client) uin() string {
	if uin := c.session.Load().UIN; uin != "" {
		return uin
	}
	return "0"
}

// call 调用 musicu.fcg 上的单个模块方法，返回 req_1.data
func (c *Client) call(ctx context.Context, op, module, method string, param map[string]any) (gjson.Result, error) {
	payload := map[string]any{
		"comm":  comm,
		"req_1": map[string]any{"module": module, "method": method, "param": param},
	}
	body, err := c.postJSON(ctx, op, c.musicuBase+musicuPath, payload, nil)
	if err != nil {
		return gjson.Result{}, err
	}
	if code := gjson.GetBytes(body, "code").Int(); code != 0 {
		return gjson.Result{}, resolver.Fail(Platform, op, fmt.Sprintf("api returned code %d", code), nil)
	}
	if code := gjson.GetBytes(body, "req_1.code").Int(); code != 0 {
		return gjson.Result{}, resolver.Fail(Platform, op, fmt.Sprintf("%s returned code %d", method, code), nil)
	}
	return gjson.GetBytes(body, "req_1.data"), nil
}

func (c *Client) postJSON(ctx context.Context, op, rawURL string, payload any, header http.Header) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, resolver.Fail(Platform, op, "encode request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(data))
	if err != nil {
		return nil, resolver.Fail(Platform, op, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	return c.do(op, req)
}

// get 请求旧版 fcg 接口，兼容 JSONP 包裹的响应
func (c *Client) get(ctx context.Context, op, rawURL string, params url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, resolver.Fail(Platform, op, "build request", err)
	}
	body, err := c.do(op, req)
	if err != nil {
		return nil, err
	}
	if code := gjson.GetBytes(body, "code").Int(); code != 0 {
		return nil, resolver.Fail(Platform, op, fmt.Sprintf("api returned code %d", code), nil)
	}
	return body, nil
}

func (c *Client) do(op string, req *http.Request) ([]byte, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Referer", "https://y.qq.com/")
		req.Header.Set("Origin", "https://y.qq.com/")
	}
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
	body = bytes.TrimSpace(body)
	if bytes.HasPrefix(body, []byte("callback(")) && bytes.HasSuffix(body, []byte(")")) {
		body = body[len("callback(") : len(body)-1]
	}
	if !gjson.ValidBytes(body) {
		return nil, resolver.Fail(Platform, op, "malformed response", nil)
	}
	return body, nil
}
