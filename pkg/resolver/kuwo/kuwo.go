package kuwo

import (
	"bytes"
	"context"
	"crypto/des"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/yleoer/musicapi/pkg/resolver"
	"github.com/yleoer/musicapi/pkg/track"
)

const Platform = "kuwo"

const (
	userAgent = "okhttp/3.10.0"

	searchHost = "http://search.kuwo.cn"
	mobiHost   = "http://mobi.kuwo.cn"
	antiHost   = "http://antiserver.kuwo.cn"
	h5Host     = "http://m.kuwo.cn"

	searchPath   = "/r.s"
	mobiPath     = "/mobi.s"
	antiPath     = "/anti.s"
	songInfoPath = "/newh5/singles/songinfoandlrc"

	convertParams = "corp=kuwo&source=kwplayer_ar_5.1.0.0_B_jiakong_vh.apk&p2p=1&type=convert_url2&sig=0"
)

var (
	desKey     = []byte("ylzsxkwm")
	urlPattern = regexp.MustCompile(`http[^\s$"]+`)
)

// 请求各档位时使用的 format 和 br 参数
var tierFormats = map[track.Tier]string{
	track.TierMaster: "format=flac|mp3&br=2000kflac",
	track.TierFlac:   "format=flac|mp3&br=2000kflac",
	track.Tier320:    "format=mp3&br=320kmp3",
	track.Tier128:    "format=mp3&br=128kmp3",
}

// Client 是酷我音乐的 Resolver 实现，不支持歌单和专辑
type Client struct {
	searchBase string
	mobiBase   string
	antiBase   string
	h5Base     string
	httpClient *http.Client
	logger     *log.Logger
}

// NewClient 创建一个新的 Client 实例，baseURL 为空时使用官方域名
func NewClient(baseURL string, timeout time.Duration, logger *log.Logger) *Client {
	c := &Client{
		searchBase: searchHost,
		mobiBase:   mobiHost,
		antiBase:   antiHost,
		h5Base:     h5Host,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
	if baseURL != "" {
		baseURL = strings.TrimRight(baseURL, "/")
		c.searchBase, c.mobiBase, c.antiBase, c.h5Base = baseURL, baseURL, baseURL, baseURL
	}
	return c
}

func (c *Client) Platform() string { return Platform }

// Search 综合搜索单曲
func (c *Client) Search(ctx context.Context, keyword, album string, limit int) ([]track.Candidate, error) {
	params := url.Values{
		"correct": {"1"}, "vipver": {"1"}, "stype": {"comprehensive"}, "encoding": {"utf8"},
		"rformat": {"json"}, "mobi": {"1"}, "show_copyright_off": {"1"}, "searchapi": {"6"},
		"all": {keyword}, "rn": {strconv.Itoa(limit)},
	}
	body, err := c.get(ctx, "search", c.searchBase+searchPath+"?"+params.Encode())
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, resolver.Fail(Platform, "search", "malformed response", nil)
	}

	var out []track.Candidate
	for _, song := range gjson.GetBytes(body, "content.1.musicpage.abslist").Array() {
		rid := song.Get("MUSICRID").String()
		id := rid[strings.LastIndex(rid, "_")+1:]
		if id == "" {
			continue
		}
		albumName := song.Get("ALBUM").String()
		if album != "" && !strings.Contains(strings.ToLower(albumName), strings.ToLower(album)) {
			continue
		}
		out = append(out, track.Candidate{
			Ref:        track.Ref{Platform: Platform, ID: id},
			Name:       song.Get("SONGNAME").String(),
			Artist:     track.NormalizeArtists(song.Get("ARTIST").String()),
			Album:      albumName,
			DurationMs: song.Get("DURATION").Int() * 1000,
		})
	}
	return out, nil
}

// ResolveMetadata 通过 H5 接口获取歌曲信息和逐行歌词
func (c *Client) ResolveMetadata(ctx context.Context, ref track.Ref) (*track.Metadata, error) {
	body, err := c.get(ctx, "metadata", c.h5Base+songInfoPath+"?"+url.Values{"musicId": {ref.ID}}.Encode())
	if err != nil {
		return nil, err
	}
	info := gjson.GetBytes(body, "data.songinfo")
	if !info.Exists() || info.Get("songName").String() == "" {
		return nil, resolver.Fail(Platform, "metadata", "song not found: "+ref.ID, nil)
	}
	meta := &track.Metadata{
		Ref:         ref,
		Name:        info.Get("songName").String(),
		Album:       info.Get("album").String(),
		CoverURL:    info.Get("pic").String(),
		DurationMs:  info.Get("duration").Int() * 1000,
		ReleaseDate: info.Get("releaseDate").String(),
	}
	if artists := track.NormalizeArtists(info.Get("artist").String()); artists != "" {
		meta.Artists = strings.Split(artists, track.ArtistSeparator)
	}
	if _, err := time.Parse("2006-01-02", meta.ReleaseDate); err != nil {
		meta.ReleaseDate = ""
	}
	meta.AlbumArtist = meta.ArtistString()

	var lrc strings.Builder
	for _, line := range gjson.GetBytes(body, "data.lrclist").Array() {
		secs := line.Get("time").Float()
		fmt.Fprintf(&lrc, "[%02d:%05.2f]%s\n", int(secs)/60, secs-float64(int(secs)/60*60), line.Get("lineLyric").String())
	}
	meta.Lyric = lrc.String()
	return meta, nil
}

// ResolveVariant 请求加密的 convert_url2 接口，失败时退回 anti.s。
// 实际档位由响应中的 format 和 bitrate 推断，酷我没有 master。
func (c *Client) ResolveVariant(ctx context.Context, ref track.Ref, tier track.Tier) (*track.Variant, error) {
	formats, ok := tierFormats[tier]
	if !ok {
		return nil, resolver.Fail(Platform, "variant", "unsupported tier "+tier.String(), nil)
	}
	query, err := desEncrypt(convertParams + "&" + formats + "&rid=" + ref.ID)
	if err != nil {
		return nil, resolver.Fail(Platform, "variant", "encrypt request", err)
	}
	body, err := c.get(ctx, "variant", c.mobiBase+mobiPath+"?f=kuwo&q="+query)
	if err == nil {
		if v := parseConvertResponse(string(body)); v != nil {
			v.Requested = tier
			return v, nil
		}
	} else {
		c.logger.Printf("  -> WARN: Kuwo convert_url2 failed for %s, trying fallback: %v", ref.ID, err)
	}

	format := "mp3"
	if tier == track.TierFlac || tier == track.TierMaster {
		format = "flac|mp3"
	}
	params := url.Values{"type": {"convert_url"}, "format": {format}, "response": {"url"}, "rid": {"MUSIC_" + ref.ID}}
	body, err = c.get(ctx, "variant", c.antiBase+antiPath+"?"+params.Encode())
	if err != nil {
		return nil, err
	}
	u := strings.TrimSpace(string(body))
	if !strings.HasPrefix(u, "http") {
		return nil, resolver.NoVariant(Platform, tier)
	}
	// anti.s 只返回地址，档位按扩展名推断。mp3 没有码率信息，记为 128，这是下限
	v := parseConvertResponse("url=" + u)
	if v == nil {
		return nil, resolver.NoVariant(Platform, tier)
	}
	v.Requested = tier
	return v, nil
}

// parseConvertResponse 解析 "format=flac\nbitrate=2000\nurl=http://..." 形式的响应
func parseConvertResponse(text string) *track.Variant {
	fields := make(map[string]string)
	for _, line := range strings.Split(text, "\n") {
		if k, v, ok := strings.Cut(strings.TrimSpace(line), "="); ok {
			fields[k] = v
		}
	}
	u := fields["url"]
	if !strings.HasPrefix(u, "http") {
		u = urlPattern.FindString(text)
	}
	if u == "" {
		return nil
	}
	format := strings.ToLower(fields["format"])
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(pathExt(u)), ".")
	}
	bitrate, _ := strconv.Atoi(fields["bitrate"])

	v := &track.Variant{Level: format, URL: u, Ext: track.NormalizeExt(format)}
	switch {
	case format == "flac":
		v.Actual = track.TierFlac
	case bitrate >= 320:
		v.Actual = track.Tier320
	case format == "mp3":
		v.Actual = track.Tier128
	default:
		v.Actual = track.Tier(format)
	}
	if v.Ext == "" {
		v.Ext = ".mp3"
	}
	return v
}

func pathExt(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	if i := strings.LastIndex(u.Path, "."); i >= 0 {
		return u.Path[i:]
	}
	return ""
}

func (c *Client) get(ctx context.Context, op, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, resolver.Fail(Platform, op, "build request", err)
	}
	req.Header.Set("User-Agent", userAgent)
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
	return body, nil
}

// desEncrypt DES-ECB 加密并输出小写十六进制
func desEncrypt(text string) (string, error) {
	block, err := des.NewCipher(desKey)
	if err != nil {
		return "", err
	}
	bs := block.BlockSize()
	padding := bs - len(text)%bs
	data := append([]byte(text), bytes.Repeat([]byte{byte(padding)}, padding)...)
	out := make([]byte, len(data))
	for i := 0; i < len(data); i += bs {
		block.Encrypt(out[i:i+bs], data[i:i+bs])
	}
	return hex.EncodeToString(out), nil
}
