package qq

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/yleoer/musicapi/pkg/resolver"
)

// Refresher 定期调用登录接口续期 musickey，并把新凭据写回 Session 和凭据文件
type Refresher struct {
	client  *Client
	persist func(resolver.Credentials) error
	logger  *log.Logger
}

// NewRefresher 创建 Refresher，persist 为 nil 时只更新内存中的 Session
func NewRefresher(client *Client, persist func(resolver.Credentials) error, logger *log.Logger) *Refresher {
	return &Refresher{client: client, persist: persist, logger: logger}
}

// Refresh 执行一次续期
func (r *Refresher) Refresh(ctx context.Context) error {
	creds := r.client.session.Load()
	if creds.UIN == "" || creds.Key == "" {
		return resolver.Fail(Platform, "refresh", "uin or qqmusic_key not configured", nil)
	}
	r.logger.Printf("Refreshing QQ Music credentials for account %s...", creds.UIN)

	loginType := "1"
	if strings.HasPrefix(creds.Key, "Q_H_L") {
		loginType = "2"
	}
	payload := map[string]any{
		"comm": map[string]string{
			"fPersonality": "0",
			"tmeLoginType": loginType,
			"qq":           creds.UIN,
			"authst":       creds.Key,
			"ct":           "11",
			"cv":           "12080008",
			"v":            "12080008",
			"tmeAppID":     "qqmusic",
		},
		"req1": map[string]any{
			"module": "music.login.LoginServer",
			"method": "Login",
			"param": map[string]string{
				"str_musicid":   creds.UIN,
				"musickey":      creds.Key,
				"refresh_token": creds.RefreshToken,
			},
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return resolver.Fail(Platform, "refresh", "encode request", err)
	}

	// 签名针对的是实际发送的请求体，所以直接发送 RawMessage
	header := http.Header{"User-Agent": {"okhttp/3.14.9"}}
	body, err := r.client.postJSON(ctx, "refresh", r.client.loginBase+loginPath+"?sign="+sign(string(data)), json.RawMessage(data), header)
	if err != nil {
		return err
	}
	if code := gjson.GetBytes(body, "req1.code").Int(); code != 0 {
		return resolver.Fail(Platform, "refresh", fmt.Sprintf("login returned code %d", code), nil)
	}

	result := gjson.GetBytes(body, "req1.data")
	uin := creds.UIN
	if v := result.Get("musicid"); v.Exists() && v.String() != "" && v.String() != "0" {
		uin = v.String()
	}
	key := creds.Key
	if v := result.Get("musickey").String(); v != "" {
		key = v
	}
	token := creds.RefreshToken
	if v := result.Get("refresh_token").String(); v != "" {
		token = v
	}
	next := CredentialsFrom(uin, key, token)
	r.client.session.Swap(next)
	r.logger.Printf("QQ Music credentials refreshed for account %s.", uin)

	if r.persist != nil {
		if err := r.persist(next); err != nil {
			return fmt.Errorf("credentials refreshed but not saved: %w", err)
		}
	}
	return nil
}
