package resolver

import (
	"context"

	"github.com/yleoer/musicapi/pkg/track"
)

// Resolver 定义一个音乐平台需要提供的能力
type Resolver interface {
	// Platform 返回平台名，例如 "netease"
	Platform() string
	// ResolveMetadata 获取歌曲的完整元数据
	ResolveMetadata(ctx context.Context, ref track.Ref) (*track.Metadata, error)
	// ResolveVariant 请求指定音质的播放地址。返回的 Actual 可能与请求的档位不同。
	ResolveVariant(ctx context.Context, ref track.Ref, tier track.Tier) (*track.Variant, error)
	// Search 按关键词搜索，album 非空时按专辑名子串过滤（忽略大小写）
	Search(ctx context.Context, keyword, album string, limit int) ([]track.Candidate, error)
}

// Lister 是支持歌单/专辑批量获取的平台额外实现的接口
type Lister interface {
	PlaylistTracks(ctx context.Context, id string) (*track.Listing, error)
	AlbumTracks(ctx context.Context, id string) (*track.Listing, error)
}

// Registry 按平台名查找 Resolver
type Registry map[string]Resolver

// NewRegistry 用给定的 Resolver 构造 Registry
func NewRegistry(resolvers ...Resolver) Registry {
	r := make(Registry, len(resolvers))
	for _, res := range resolvers {
		r[res.Platform()] = res
	}
	return r
}

// Get 返回平台对应的 Resolver
func (r Registry) Get(platform string) (Resolver, error) {
	res, ok := r[platform]
	if !ok {
		return nil, &Failure{Platform: platform, Op: "lookup", Message: "unsupported platform"}
	}
	return res, nil
}

// Lister 返回平台的 Lister，平台不支持时返回错误
func (r Registry) Lister(platform string) (Lister, error) {
	res, err := r.Get(platform)
	if err != nil {
		return nil, err
	}
	l, ok := res.(Lister)
	if !ok {
		return nil, &Failure{Platform: platform, Op: "lookup", Message: "playlist and album listing not supported"}
	}
	return l, nil
}
