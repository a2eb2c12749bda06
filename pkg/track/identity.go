package track

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/yleoer/musicapi/pkg/converter"
)

// ArtistSeparator 是 TrackIdentity 中统一使用的歌手分隔符
const ArtistSeparator = "、"

var artistSplitter = regexp.MustCompile(`\s*(?:;|；|/|、|&|,|，)\s*`)

// NormalizeArtists 把各种歌手分隔符统一成 ArtistSeparator
func NormalizeArtists(s string) string {
	parts := artistSplitter.Split(strings.TrimSpace(s), -1)
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			names = append(names, p)
		}
	}
	return strings.Join(names, ArtistSeparator)
}

// JoinArtists 将歌手列表拼成规范化的字符串
func JoinArtists(artists []string) string {
	return NormalizeArtists(strings.Join(artists, ArtistSeparator))
}

// Identity 由歌手列表和歌名生成本地库的查找键 "歌手1、歌手2 - 歌名"。
// 繁体会被转换为简体，tc 为 nil 时跳过转换。
func Identity(tc converter.TextConverter, artists []string, title string) string {
	return IdentityFromString(tc, JoinArtists(artists), title)
}

// IdentityFromString 与 Identity 相同，但歌手已经是单个字符串（例如来自音频标签）
func IdentityFromString(tc converter.TextConverter, artist, title string) string {
	key := fmt.Sprintf("%s - %s", NormalizeArtists(artist), strings.TrimSpace(title))
	if tc != nil {
		key = tc.TradToSim(key)
	}
	return key
}

// SplitKeyword 把 "歌手 - 歌名" 形式的关键词拆开并转为小写
func SplitKeyword(keyword string) (artist, title string, ok bool) {
	parts := strings.SplitN(keyword, " - ", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	artist = strings.ToLower(strings.TrimSpace(parts[0]))
	title = strings.ToLower(strings.TrimSpace(parts[1]))
	if artist == "" || title == "" {
		return "", "", false
	}
	return artist, title, true
}
