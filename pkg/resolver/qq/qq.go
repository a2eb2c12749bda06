package qq

import (
	"context"
	"encoding/base64"
	"fmt"
	"math/rand"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/yleoer/musicapi/pkg/resolver"
	"github.com/yleoer/musicapi/pkg/track"
)

// 各音质对应的文件名前缀和扩展名
var fileTypes = map[track.Tier]struct {
	prefix string
	ext    string
}{
	track.Tier128:    {"M500", ".mp3"},
	track.Tier320:    {"M800", ".mp3"},
	track.TierFlac:   {"F000", ".flac"},
	track.TierMaster: {"AI00", ".flac"},
}

type albumDetail struct {
	Name     string
	Singer   string
	Company  string
	Genre    string
	Date     string
	SongRefs []track.Ref
}

// ResolveMetadata 获取歌曲详情、歌词和专辑信息
func (c *Client) ResolveMetadata(ctx context.Context, ref track.Ref) (*track.Metadata, error) {
	ref, err := c.resolveIDs(ctx, ref)
	if err != nil {
		return nil, err
	}
	data, err := c.call(ctx, "metadata", "music.pf_song_detail_svr", "get_song_detail", map[string]any{"song_mid": ref.MID})
	if err != nil {
		return nil, err
	}
	info := data.Get("track_info")
	if info.Get("name").String() == "" {
		return nil, resolver.Fail(Platform, "metadata", "song not found: "+ref.MID, nil)
	}

	// info 是 [{title: 作词, content: [{value: ...}]}] 形式的附加信息
	extra := make(map[string]string)
	for _, item := range data.Get("info").Array() {
		var values []string
		for _, v := range item.Get("content.#.value").Array() {
			values = append(values, v.String())
		}
		if len(values) > 0 {
			extra[item.Get("title").String()] = strings.Join(values, ";")
		}
	}

	albumMID := info.Get("album.mid").String()
	meta := &track.Metadata{
		Ref:         ref,
		Name:        info.Get("name").String(),
		Album:       info.Get("album.name").String(),
		DurationMs:  info.Get("interval").Int() * 1000,
		TrackNumber: int(info.Get("index_album").Int()),
		Genre:       extra["歌曲流派"],
		Credits: track.Credits{
			Lyricist: extra["作词"],
			Composer: extra["作曲"],
			Arranger: extra["编曲"],
			BPM:      int(info.Get("bpm").Float() + 0.5),
		},
	}
	if cd := info.Get("index_cd"); cd.Exists() {
		meta.DiscNumber = int(cd.Int()) + 1
	}
	if albumMID != "" {
		meta.CoverURL = "https://y.qq.com/music/photo_new/T002R800x800M000" + albumMID + ".jpg"
	}
	for _, s := range info.Get("singer.#.name").Array() {
		meta.Artists = append(meta.Artists, s.String())
	}

	meta.Lyric, meta.TransLyric = c.lyrics(ctx, ref.ID)

	if album := c.album(ctx, albumMID); album != nil {
		meta.AlbumArtist = album.Singer
		meta.Publisher = album.Company
		if meta.Genre == "" {
			meta.Genre = album.Genre
		}
		if _, err := time.Parse("2006-01-02", album.Date); err == nil {
			meta.ReleaseDate = album.Date
		}
		meta.TrackTotal = len(album.SongRefs)
	}
	if meta.AlbumArtist == "" {
		meta.AlbumArtist = meta.ArtistString()
	}
	return meta, nil
}

// ResolveVariant 从请求的档位开始向下逐级请求 vkey，返回服务器第一个给出地址的档位
func (c *Client) ResolveVariant(ctx context.Context, ref track.Ref, tier track.Tier) (*track.Variant, error) {
	ladder := track.DownwardFallback(tier)
	if len(ladder) == 0 {
		return nil, resolver.Fail(Platform, "variant", "unsupported tier "+tier.String(), nil)
	}
	ref, err := c.resolveIDs(ctx, ref)
	if err != nil {
		return nil, err
	}
	guid := strconv.Itoa(1000000000 + rand.Intn(900000000))
	for _, t := range ladder {
		u, err := c.vkeyURL(ctx, ref.MID, t, guid)
		if err != nil {
			return nil, err
		}
		if u == "" {
			continue
		}
		ft := fileTypes[t]
		return &track.Variant{Requested: tier, Actual: t, Level: ft.prefix, URL: u, Ext: ft.ext}, nil
	}
	return nil, resolver.NoVariant(Platform, tier)
}

// Search 使用桌面端搜索接口
func (c *Client) Search(ctx context.Context, keyword, album string, limit int) ([]track.Candidate, error) {
	data, err := c.call(ctx, "search", "music.search.SearchCgiService", "DoSearchForQQMusicDesktop",
		map[string]any{"num_per_page": limit, "page_num": 1, "query": keyword, "search_type": 0})
	if err != nil {
		return nil, err
	}
	var out []track.Candidate
	for _, song := range data.Get("body.song.list").Array() {
		albumName := song.Get("album.name").String()
		if album != "" && !strings.Contains(strings.ToLower(albumName), strings.ToLower(album)) {
			continue
		}
		var singers []string
		for _, s := range song.Get("singer.#.name").Array() {
			singers = append(singers, s.String())
		}
		out = append(out, track.Candidate{
			Ref:        track.Ref{Platform: Platform, ID: song.Get("id").String(), MID: song.Get("mid").String()},
			Name:       song.Get("name").String(),
			Artist:     track.JoinArtists(singers),
			Album:      albumName,
			DurationMs: song.Get("interval").Int() * 1000,
		})
	}
	return out, nil
}

// PlaylistTracks 获取歌单中全部歌曲的 ID
func (c *Client) PlaylistTracks(ctx context.Context, id string) (*track.Listing, error) {
	params := url.Values{"id": {id}, "tpl": {"wk"}, "format": {"json"}, "outCharset": {"utf-8"}, "new_format": {"1"}, "platform": {"mac"}}
	body, err := c.get(ctx, "playlist", c.legacyBase+playlistPath, params)
	if err != nil {
		return nil, err
	}
	pl := gjson.GetBytes(body, "data.cdlist.0")
	if !pl.Exists() {
		return nil, resolver.Fail(Platform, "playlist", "playlist not found: "+id, nil)
	}
	listing := &track.Listing{Name: pl.Get("dissname").String()}
	for _, sid := range strings.Split(pl.Get("songids").String(), ",") {
		if _, err := strconv.ParseInt(strings.TrimSpace(sid), 10, 64); err != nil {
			continue
		}
		listing.Refs = append(listing.Refs, track.Ref{Platform: Platform, ID: strings.TrimSpace(sid)})
	}
	return listing, nil
}

// AlbumTracks 获取专辑中全部歌曲
func (c *Client) AlbumTracks(ctx context.Context, mid string) (*track.Listing, error) {
	album, err := c.fetchAlbum(ctx, mid)
	if err != nil {
		return nil, err
	}
	return &track.Listing{Name: album.Name, Refs: album.SongRefs}, nil
}

// resolveIDs 补全 songid 和 songmid，歌词接口需要前者，其余接口需要后者
func (c *Client) resolveIDs(ctx context.Context, ref track.Ref) (track.Ref, error) {
	if ref.ID != "" && ref.MID != "" {
		return ref, nil
	}
	params := url.Values{"platform": {"yqq"}, "format": {"json"}, "outCharset": {"utf-8"}}
	switch {
	case ref.ID != "":
		params.Set("songid", ref.ID)
	case ref.MID != "":
		params.Set("songmid", ref.MID)
	default:
		return ref, resolver.Fail(Platform, "resolve", "neither songid nor songmid given", nil)
	}
	body, err := c.get(ctx, "resolve", c.legacyBase+singleSongPath, params)
	if err != nil {
		return ref, err
	}
	song := gjson.GetBytes(body, "data.0")
	if song.Get("mid").String() == "" {
		return ref, resolver.Fail(Platform, "resolve", "song not found: "+ref.String(), nil)
	}
	ref.Platform = Platform
	ref.ID = song.Get("id").String()
	ref.MID = song.Get("mid").String()
	return ref, nil
}

// vkeyURL 请求单个音质的播放地址，服务器不给时返回空字符串
func (c *Client) vkeyURL(ctx context.Context, mid string, tier track.Tier, guid string) (string, error) {
	ft := fileTypes[tier]
	uin := c.uin()
	data, err := c.call(ctx, "variant", "vkey.GetVkeyServer", "CgiGetVkey", map[string]any{
		"filename":  []string{ft.prefix + mid + mid + ft.ext},
		"guid":      guid,
		"songmid":   []string{mid},
		"songtype":  []int{0},
		"uin":       uin,
		"loginflag": 1,
		"platform":  "20",
	})
	if err != nil {
		return "", err
	}
	purl := data.Get("midurlinfo.0.purl").String()
	if purl == "" {
		return "", nil
	}
	host := defaultStreamHost
	for _, sip := range data.Get("sip").Array() {
		if strings.Contains(sip.String(), "pv.music") {
			host = sip.String()
			break
		}
	}
	return host + purl, nil
}

// lyrics 获取 base64 编码的原文和翻译歌词，失败时返回空字符串
func (c *Client) lyrics(ctx context.Context, songID string) (string, string) {
	id, err := strconv.ParseInt(songID, 10, 64)
	if err != nil {
		return "", ""
	}
	data, err := c.call(ctx, "lyric", "music.musichallSong.PlayLyricInfo", "GetPlayLyricInfo",
		map[string]any{"songID": id, "trans": 1, "roma": 1})
	if err != nil {
		c.logger.Printf("  -> WARN: Failed to fetch lyrics for %s: %v", songID, err)
		return "", ""
	}
	return decodeLyric(data.Get("lyric").String()), decodeLyric(data.Get("trans").String())
}

func decodeLyric(s string) string {
	if s == "" {
		return ""
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return ""
	}
	return strings.ToValidUTF8(string(b), "")
}

// album 返回缓存的专辑详情，获取失败返回 nil 且不再重试
func (c *Client) album(ctx context.Context, mid string) *albumDetail {
	if mid == "" {
		return nil
	}
	c.mu.Lock()
	cached, ok := c.albums[mid]
	c.mu.Unlock()
	if ok {
		return cached
	}
	album, err := c.fetchAlbum(ctx, mid)
	if err != nil {
		c.logger.Printf("  -> WARN: Failed to fetch album %s: %v", mid, err)
	}
	c.mu.Lock()
	c.albums[mid] = album
	c.mu.Unlock()
	return album
}

func (c *Client) fetchAlbum(ctx context.Context, mid string) (*albumDetail, error) {
	params := url.Values{"albummid": {mid}, "format": {"json"}, "outCharset": {"utf-8"}}
	body, err := c.get(ctx, "album", c.legacyBase+albumInfoPath, params)
	if err != nil {
		return nil, err
	}
	data := gjson.GetBytes(body, "data")
	if !data.Exists() {
		return nil, resolver.Fail(Platform, "album", fmt.Sprintf("album not found: %s", mid), nil)
	}
	detail := &albumDetail{
		Name:    data.Get("name").String(),
		Singer:  data.Get("singername").String(),
		Company: data.Get("company").String(),
		Genre:   data.Get("genre").String(),
		Date:    data.Get("aDate").String(),
	}
	for _, s := range data.Get("list").Array() {
		detail.SongRefs = append(detail.SongRefs, track.Ref{
			Platform: Platform,
			ID:       s.Get("songid").String(),
			MID:      s.Get("songmid").String(),
		})
	}
	return detail, nil
}
