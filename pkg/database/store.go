package database

import (
	"context"
	"time"

	"github.com/yleoer/musicapi/pkg/track"
)

// Entry 是本地库中的一条歌曲记录，写入后不再修改
type Entry struct {
	ID         int64
	Identity   string // "歌手 - 歌名"
	Album      string
	Tier       track.Tier
	FilePath   string
	DurationMs int64
}

// PlaylistMapping 记录线上歌单与本地歌单的对应关系
type PlaylistMapping struct {
	Platform         string
	OnlinePlaylistID string
	LocalPlaylistID  string
	Name             string
	LastSyncTime     time.Time
}

// LibraryStore 定义本地音乐库索引接口
type LibraryStore interface {
	ExistingTiers(ctx context.Context, identity, album string) (track.TierSet, error) // 查询已有音质，album 非空时按专辑模糊匹配
	Record(ctx context.Context, e Entry) (bool, error)                              // 写入记录，file_path 重复时返回 false
	PathForID(ctx context.Context, id int64) (string, bool, error)                  // 根据 ID 查询文件路径
	Search(ctx context.Context, identity, album string, tier track.Tier) ([]Entry, error)
	List(ctx context.Context) ([]Entry, error)                           // 按 ID 倒序列出全部记录
	HasPath(ctx context.Context, path string) (bool, error)              // 文件是否已入库
	Delete(ctx context.Context, ids []int64) ([]Entry, error)             // 删除记录并返回被删除的条目
	UpsertPlaylistMapping(ctx context.Context, m PlaylistMapping) error  // 新增或更新歌单映射
	ListPlaylistMappings(ctx context.Context) ([]PlaylistMapping, error) // 列出全部歌单映射
	TouchPlaylistSync(ctx context.Context, platform, onlineID string, at time.Time) error
	Close() error // 关闭数据库连接
}
