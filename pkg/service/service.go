package service

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/yleoer/musicapi/pkg/batch"
	"github.com/yleoer/musicapi/pkg/converter"
	"github.com/yleoer/musicapi/pkg/database"
	"github.com/yleoer/musicapi/pkg/reconcile"
	"github.com/yleoer/musicapi/pkg/resolver"
	"github.com/yleoer/musicapi/pkg/scheduler"
	"github.com/yleoer/musicapi/pkg/track"
)

const searchLimit = 10

// Details 是单曲查询的返回内容
type Details struct {
	Identity string          `json:"identity"`
	Metadata *track.Metadata `json:"metadata"`
	Variant  *track.Variant  `json:"variant,omitempty"`
}

// Service 是对外的入口：查询立即返回，下载在后台进行
type Service struct {
	registry  resolver.Registry
	store     database.LibraryStore
	engine    batch.Reconciler
	runner    *batch.Runner
	pool      *scheduler.Pool
	converter converter.TextConverter
	downloads bool
	batches   sync.WaitGroup
	logger    *log.Logger
}

// New 创建 Service，downloads 为 false 时只查询不下载
func New(
	registry resolver.Registry,
	store database.LibraryStore,
	engine batch.Reconciler,
	runner *batch.Runner,
	pool *scheduler.Pool,
	tc converter.TextConverter,
	downloads bool,
	logger *log.Logger,
) *Service {
	return &Service{
		registry:  registry,
		store:     store,
		engine:    engine,
		runner:    runner,
		pool:      pool,
		converter: tc,
		downloads: downloads,
		logger:    logger,
	}
}

// Identity 返回元数据对应的本地库 identity
func (s *Service) Identity(meta *track.Metadata) string {
	return track.Identity(s.converter, meta.Artists, meta.Name)
}

// Details 获取元数据和指定档位的播放地址，并在后台对这首歌做一次对账
func (s *Service) Details(ctx context.Context, ref track.Ref, tier track.Tier) (*Details, error) {
	res, err := s.registry.Get(ref.Platform)
	if err != nil {
		return nil, err
	}
	meta, err := res.ResolveMetadata(ctx, ref)
	if err != nil {
		return nil, err
	}
	d := &Details{Identity: s.Identity(meta), Metadata: meta}

	if v, err := res.ResolveVariant(ctx, ref, tier); err != nil {
		s.logger.Printf("WARN: no %s url for %s: %v", tier, d.Identity, err)
	} else {
		d.Variant = v
	}

	if s.downloads {
		s.queueReconcile(res, reconcile.Request{Ref: ref, Identity: d.Identity, Metadata: meta})
	}
	return d, nil
}

func (s *Service) queueReconcile(res resolver.Resolver, req reconcile.Request) {
	// 后台任务不跟随调用方的 ctx
	err := s.pool.Submit(context.Background(), req.Identity, func(ctx context.Context) {
		report := s.engine.Reconcile(ctx, res, req)
		if report.Failed() {
			s.logger.Printf("WARN: background download for %s: %s", req.Identity, report)
		}
	})
	if err != nil {
		s.logger.Printf("ERROR: could not queue %s: %v", req.Identity, err)
	}
}

// SearchAndDetails 按 "歌手 - 歌名" 搜索，优先选择歌名完全一致且歌手包含目标歌手的结果。
// 先在指定专辑中找，再不限专辑，都没有精确匹配时使用第一个结果。
func (s *Service) SearchAndDetails(ctx context.Context, platform, keyword, album string, tier track.Tier) (*Details, error) {
	artist, title, ok := track.SplitKeyword(keyword)
	if !ok {
		return nil, ErrBadKeyword
	}
	res, err := s.registry.Get(platform)
	if err != nil {
		return nil, err
	}

	var fallback []track.Candidate
	if album != "" {
		cands, err := res.Search(ctx, keyword, album, searchLimit)
		if err != nil {
			return nil, err
		}
		if c, ok := pick(cands, artist, title); ok {
			return s.Details(ctx, c.Ref, tier)
		}
		s.logger.Printf("  -> No exact match in album '%s', searching all albums", album)
		fallback = cands
	}

	cands, err := res.Search(ctx, keyword, "", searchLimit)
	if err != nil {
		return nil, err
	}
	if c, ok := pick(cands, artist, title); ok {
		return s.Details(ctx, c.Ref, tier)
	}
	if len(fallback) == 0 {
		fallback = cands
	}
	if len(fallback) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, keyword)
	}
	s.logger.Printf("  -> No exact match for '%s', using first result %s - %s", keyword, fallback[0].Artist, fallback[0].Name)
	return s.Details(ctx, fallback[0].Ref, tier)
}

func pick(cands []track.Candidate, artist, title string) (track.Candidate, bool) {
	for _, c := range cands {
		if c.Matches(artist, title) {
			return c, true
		}
	}
	return track.Candidate{}, false
}

// LocalSearch 在本地库中按 "歌手 - 歌名" 查找，tier 为空时不限档位
func (s *Service) LocalSearch(ctx context.Context, keyword, album string, tier track.Tier) ([]database.Entry, error) {
	identity := s.converter.TradToSim(strings.TrimSpace(keyword))
	if parts := strings.SplitN(keyword, " - ", 2); len(parts) == 2 {
		identity = track.IdentityFromString(s.converter, parts[0], parts[1])
	}
	entries, err := s.store.Search(ctx, identity, album, tier)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: '%s' is not in the local library", ErrNotFound, keyword)
	}
	return entries, nil
}

// LocalPath 返回本地记录对应的文件路径
func (s *Service) LocalPath(ctx context.Context, id int64) (string, error) {
	path, ok, err := s.store.PathForID(ctx, id)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: song id %d", ErrNotFound, id)
	}
	return path, nil
}

// LocalList 列出本地库全部记录
func (s *Service) LocalList(ctx context.Context) ([]database.Entry, error) {
	return s.store.List(ctx)
}

// Delete 删除记录和对应的文件，文件删除失败只记日志
func (s *Service) Delete(ctx context.Context, ids []int64) ([]database.Entry, error) {
	deleted, err := s.store.Delete(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, e := range deleted {
		if err := os.Remove(e.FilePath); err != nil && !os.IsNotExist(err) {
			s.logger.Printf("WARN: could not remove %s: %v", e.FilePath, err)
		}
	}
	return deleted, nil
}

// QueuePlaylist 获取歌单曲目并在后台批量下载，结束后从返回的 channel 得到统计
func (s *Service) QueuePlaylist(ctx context.Context, platform, id string) (<-chan batch.Summary, error) {
	return s.queueListing(ctx, platform, id, true, func(l resolver.Lister) (*track.Listing, error) {
		return l.PlaylistTracks(ctx, id)
	})
}

// QueueAlbum 获取专辑曲目并在后台批量下载
func (s *Service) QueueAlbum(ctx context.Context, platform, id string) (<-chan batch.Summary, error) {
	return s.queueListing(ctx, platform, id, false, func(l resolver.Lister) (*track.Listing, error) {
		return l.AlbumTracks(ctx, id)
	})
}

// queueListing 中 playlist 为 true 时记录歌单映射，批量结束后更新同步时间
func (s *Service) queueListing(ctx context.Context, platform, id string, playlist bool, fetch func(resolver.Lister) (*track.Listing, error)) (<-chan batch.Summary, error) {
	res, err := s.registry.Get(platform)
	if err != nil {
		return nil, err
	}
	lister, err := s.registry.Lister(platform)
	if err != nil {
		return nil, err
	}
	listing, err := fetch(lister)
	if err != nil {
		return nil, err
	}
	if len(listing.Refs) == 0 {
		return nil, fmt.Errorf("%w: no tracks in %s %s", ErrNotFound, platform, id)
	}
	if listing.Name == "" {
		listing.Name = platform + " " + id
	}
	if playlist {
		m := database.PlaylistMapping{Platform: platform, OnlinePlaylistID: id, Name: listing.Name}
		if err := s.store.UpsertPlaylistMapping(ctx, m); err != nil {
			s.logger.Printf("WARN: could not record playlist mapping: %v", err)
			playlist = false
		}
	}

	done := make(chan batch.Summary, 1)
	s.batches.Add(1)
	go func() {
		defer s.batches.Done()
		summary := s.runner.Run(context.Background(), res, listing)
		if playlist {
			if err := s.store.TouchPlaylistSync(context.Background(), platform, id, time.Now()); err != nil {
				s.logger.Printf("WARN: %v", err)
			}
		}
		done <- summary
		close(done)
	}()
	s.logger.Printf("Queued '%s' (%d tracks) for background download", listing.Name, len(listing.Refs))
	return done, nil
}

// Playlists 列出下载过的线上歌单及最后同步时间
func (s *Service) Playlists(ctx context.Context) ([]database.PlaylistMapping, error) {
	return s.store.ListPlaylistMappings(ctx)
}

// Wait 等待所有后台批量任务和单曲任务结束
func (s *Service) Wait() {
	s.batches.Wait()
	s.pool.Wait()
}

// SearchAll 依次按关键字列表搜索下载，单条失败只计数不中断
func (s *Service) SearchAll(ctx context.Context, platform string, keywords []string, tier track.Tier) batch.Summary {
	summary := batch.Summary{Name: platform, Total: len(keywords)}
	for i, keyword := range keywords {
		if err := ctx.Err(); err != nil {
			s.logger.Printf("Import stopped after %d of %d keywords: %v", i, len(keywords), err)
			break
		}
		if _, err := s.SearchAndDetails(ctx, platform, keyword, "", tier); err != nil {
			s.logger.Printf("ERROR: '%s': %v", keyword, err)
			summary.Failed++
			continue
		}
		summary.Processed++
	}
	return summary
}
