package netease

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/yleoer/musicapi/pkg/resolver"
	"github.com/yleoer/musicapi/pkg/track"
)

// 网易云音质名与音质档位的对应关系
var levelTiers = map[string]track.Tier{
	"standard": track.Tier128,
	"exhigh":   track.Tier320,
	"lossless": track.TierFlac,
	"hires":    "hires",
	"jyeffect": "jyeffect",
	"sky":      "sky",
	"jymaster": track.TierMaster,
}

var tierLevels = func() map[track.Tier]string {
	m := make(map[track.Tier]string, len(levelTiers))
	for level, tier := range levelTiers {
		m[tier] = level
	}
	return m
}()

var chinaTime = time.FixedZone("CST", 8*3600)

type albumDetail struct {
	Name        string
	Artist      string
	Company     string
	PublishTime int64
	Size        int
	SongIDs     []string
}

// ResolveMetadata 获取歌曲详情、歌词，并用专辑接口补充专辑艺术家、发行商和发行日期
func (c *Client) ResolveMetadata(ctx context.Context, ref track.Ref) (*track.Metadata, error) {
	body, err := c.songDetail(ctx, ref.ID)
	if err != nil {
		return nil, err
	}
	song := gjson.GetBytes(body, "songs.0")
	if !song.Exists() || song.Get("name").String() == "" {
		return nil, resolver.Fail(Platform, "metadata", "song not found: "+ref.ID, nil)
	}

	meta := &track.Metadata{
		Ref:         ref,
		Name:        song.Get("name").String(),
		Album:       song.Get("al.name").String(),
		CoverURL:    song.Get("al.picUrl").String(),
		DurationMs:  song.Get("dt").Int(),
		TrackNumber: int(song.Get("no").Int()),
		DiscNumber:  atoi(song.Get("cd").String()),
	}
	for _, ar := range song.Get("ar.#.name").Array() {
		if name := ar.String(); name != "" {
			meta.Artists = append(meta.Artists, name)
		}
	}

	meta.Lyric, meta.TransLyric = c.lyrics(ctx, ref.ID)

	publishTime := song.Get("publishTime").Int()
	if album := c.album(ctx, song.Get("al.id").String()); album != nil {
		meta.AlbumArtist = album.Artist
		meta.Publisher = album.Company
		meta.TrackTotal = album.Size
		if album.PublishTime > 0 {
			publishTime = album.PublishTime
		}
	}
	if meta.AlbumArtist == "" {
		meta.AlbumArtist = meta.ArtistString()
	}
	if publishTime > 0 {
		meta.ReleaseDate = time.UnixMilli(publishTime).In(chinaTime).Format("2006-01-02")
	}
	return meta, nil
}

// ResolveVariant 请求指定音质的地址，Actual 由响应中的 level 决定
func (c *Client) ResolveVariant(ctx context.Context, ref track.Ref, tier track.Tier) (*track.Variant, error) {
	level, ok := tierLevels[tier]
	if !ok {
		return nil, resolver.Fail(Platform, "variant", "unsupported tier "+tier.String(), nil)
	}
	payload := map[string]any{
		"ids":        []string{ref.ID},
		"level":      level,
		"header":     requestHeader(),
		"encodeType": "flac",
	}
	switch level {
	case "hires":
		payload["encodeType"] = "hires"
	case "sky":
		payload["immerseType"] = "c51"
	case "jyeffect":
		if bizID := c.effectBizID(ctx, ref.ID); bizID != "" {
			payload["soundEffect"] = map[string]string{"type": "jyeffect", "bizId": bizID}
		}
	}

	body, err := c.postEapi(ctx, "variant", c.apiBase+songURLPath, payload)
	if err != nil {
		return nil, err
	}
	if err := checkCode("variant", body); err != nil {
		return nil, err
	}
	item := gjson.GetBytes(body, "data.0")
	if item.Get("url").String() == "" {
		return nil, resolver.NoVariant(Platform, tier)
	}
	actualLevel := item.Get("level").String()
	if actualLevel == "" {
		return nil, resolver.Fail(Platform, "variant", "response without level", nil)
	}
	actual, ok := levelTiers[actualLevel]
	if !ok {
		actual = track.Tier(actualLevel)
	}
	ext := item.Get("type").String()
	if ext == "" {
		ext = "mp3"
	}
	return &track.Variant{
		Requested: tier,
		Actual:    actual,
		Level:     actualLevel,
		URL:       item.Get("url").String(),
		Ext:       track.NormalizeExt(ext),
		Size:      item.Get("size").Int(),
	}, nil
}

// Search 使用 cloudsearch 搜索单曲
func (c *Client) Search(ctx context.Context, keyword, album string, limit int) ([]track.Candidate, error) {
	payload := map[string]any{"s": keyword, "type": 1, "limit": limit, "offset": 0}
	body, err := c.postEapi(ctx, "search", c.searchBase+searchPath, payload)
	if err != nil {
		return nil, err
	}
	if err := checkCode("search", body); err != nil {
		return nil, err
	}

	var out []track.Candidate
	for _, song := range gjson.GetBytes(body, "result.songs").Array() {
		albumName := song.Get("al.name").String()
		if album != "" && !strings.Contains(strings.ToLower(albumName), strings.ToLower(album)) {
			continue
		}
		var artists []string
		for _, ar := range song.Get("ar.#.name").Array() {
			artists = append(artists, ar.String())
		}
		out = append(out, track.Candidate{
			Ref:        track.Ref{Platform: Platform, ID: song.Get("id").String()},
			Name:       song.Get("name").String(),
			Artist:     track.JoinArtists(artists),
			Album:      albumName,
			DurationMs: song.Get("dt").Int(),
		})
	}
	return out, nil
}

// PlaylistTracks 获取歌单中全部歌曲的 ID
func (c *Client) PlaylistTracks(ctx context.Context, id string) (*track.Listing, error) {
	form := url.Values{"id": {id}, "n": {"100000"}, "s": {"0"}}
	body, err := c.postForm(ctx, "playlist", c.webBase+playlistPath, form)
	if err != nil {
		return nil, err
	}
	if err := checkCode("playlist", body); err != nil {
		return nil, err
	}
	listing := &track.Listing{Name: gjson.GetBytes(body, "playlist.name").String()}
	for _, tid := range gjson.GetBytes(body, "playlist.trackIds.#.id").Array() {
		listing.Refs = append(listing.Refs, track.Ref{Platform: Platform, ID: tid.String()})
	}
	return listing, nil
}

// AlbumTracks 获取专辑中全部歌曲的 ID
func (c *Client) AlbumTracks(ctx context.Context, id string) (*track.Listing, error) {
	album, err := c.fetchAlbum(ctx, id)
	if err != nil {
		return nil, err
	}
	listing := &track.Listing{Name: album.Name}
	for _, sid := range album.SongIDs {
		listing.Refs = append(listing.Refs, track.Ref{Platform: Platform, ID: sid})
	}
	return listing, nil
}

func (c *Client) songDetail(ctx context.Context, id string) ([]byte, error) {
	form := url.Values{"c": {`[{"id":` + strconv.Quote(id) + `,"v":0}]`}}
	body, err := c.postForm(ctx, "metadata", c.apiBase+songDetailPath, form)
	if err != nil {
		return nil, err
	}
	if err := checkCode("metadata", body); err != nil {
		return nil, err
	}
	return body, nil
}

// lyrics 获取原文和翻译歌词，失败时返回空字符串
func (c *Client) lyrics(ctx context.Context, id string) (string, string) {
	form := url.Values{"id": {id}, "cp": {"false"}, "tv": {"0"}, "lv": {"0"}, "rv": {"0"}, "kv": {"0"}}
	body, err := c.postForm(ctx, "lyric", c.apiBase+lyricPath, form)
	if err != nil {
		c.logger.Printf("  -> WARN: Failed to fetch lyrics for %s: %v", id, err)
		return "", ""
	}
	return gjson.GetBytes(body, "lrc.lyric").String(), gjson.GetBytes(body, "tlyric.lyric").String()
}

// effectBizID 从歌曲权限信息中取出鲸云音效需要的 bizId
func (c *Client) effectBizID(ctx context.Context, id string) string {
	body, err := c.songDetail(ctx, id)
	if err != nil {
		return ""
	}
	for _, p := range gjson.GetBytes(body, "privileges").Array() {
		for _, ci := range p.Get("chargeInfoList").Array() {
			if ci.Get("chargeType").Int() == 10 {
				return ci.Get("bizId").String()
			}
		}
	}
	return ""
}

// album 返回缓存的专辑详情，获取失败返回 nil，下次再请求
func (c *Client) album(ctx context.Context, id string) *albumDetail {
	if id == "" || id == "0" {
		return nil
	}
	c.mu.Lock()
	cached, ok := c.albums[id]
	c.mu.Unlock()
	if ok {
		return cached
	}
	album, err := c.fetchAlbum(ctx, id)
	if err != nil {
		c.logger.Printf("  -> WARN: Failed to fetch album %s: %v", id, err)
		return nil
	}
	c.mu.Lock()
	c.albums[id] = album
	c.mu.Unlock()
	return album
}

func (c *Client) fetchAlbum(ctx context.Context, id string) (*albumDetail, error) {
	key, err := cacheKey(map[string]string{"id": id, "e_r": "true"})
	if err != nil {
		return nil, resolver.Fail(Platform, "album", "build cache key", err)
	}
	payload := map[string]string{"id": id, "e_r": "true", "header": requestHeader()}
	body, err := c.postEapi(ctx, "album", c.webBase+albumDetailPath+"?cache_key="+url.QueryEscape(key), payload)
	if err != nil {
		return nil, err
	}
	if err := checkCode("album", body); err != nil {
		return nil, err
	}
	album := gjson.GetBytes(body, "album")
	if !album.Exists() {
		return nil, resolver.Fail(Platform, "album", "album not found: "+id, nil)
	}
	detail := &albumDetail{
		Name:        album.Get("name").String(),
		Artist:      album.Get("artist.name").String(),
		Company:     album.Get("company").String(),
		PublishTime: album.Get("publishTime").Int(),
		Size:        int(album.Get("size").Int()),
	}
	for _, sid := range gjson.GetBytes(body, "songs.#.id").Array() {
		detail.SongIDs = append(detail.SongIDs, sid.String())
	}
	return detail, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}
