package track

import (
	"fmt"
	"strings"
)

// Ref 指向某个平台上的一首歌
type Ref struct {
	Platform string
	ID       string
	MID      string // QQ 音乐的 songmid，其他平台为空
}

func (r Ref) String() string {
	if r.MID != "" {
		return fmt.Sprintf("%s:%s(%s)", r.Platform, r.ID, r.MID)
	}
	return fmt.Sprintf("%s:%s", r.Platform, r.ID)
}

// Credits 扩展的创作人员信息，平台不提供时为零值
type Credits struct {
	Composer          string
	Lyricist          string
	Arranger          string
	Producer          string
	MixingEngineer    string
	MasteringEngineer string
	BPM               int
}

// Metadata 是远端平台返回的规范化歌曲信息，每首歌只获取一次
type Metadata struct {
	Ref         Ref
	Name        string
	Artists     []string
	Album       string
	AlbumArtist string
	CoverURL    string
	DurationMs  int64
	TrackNumber int
	TrackTotal  int
	DiscNumber  int
	Genre       string
	Publisher   string
	ReleaseDate string // YYYY-MM-DD
	Lyric       string
	TransLyric  string
	Credits     Credits
}

// ArtistString 返回用 ArtistSeparator 连接的歌手
func (m *Metadata) ArtistString() string {
	return JoinArtists(m.Artists)
}

// FullLyrics 合并原文歌词和翻译
func (m *Metadata) FullLyrics() string {
	if m.Lyric != "" && m.TransLyric != "" {
		return m.Lyric + "\n\n--- 翻译 ---\n\n" + m.TransLyric
	}
	return m.Lyric
}

// Variant 是向平台请求某个档位后得到的结果。Actual 才是文件实际的档位。
type Variant struct {
	Requested Tier
	Actual    Tier
	Level     string // 平台原始的音质名
	URL       string
	Ext       string
	Size      int64
}

// Candidate 是搜索结果中的一项
type Candidate struct {
	Ref        Ref
	Name       string
	Artist     string
	Album      string
	DurationMs int64
}

// Matches 判断候选是否满足：歌名完全一致且歌手包含目标歌手（均忽略大小写）
func (c Candidate) Matches(artist, title string) bool {
	return strings.ToLower(c.Name) == title && strings.Contains(strings.ToLower(c.Artist), artist)
}

// Listing 是歌单或专辑的曲目列表
type Listing struct {
	Name string
	Refs []Ref
}
