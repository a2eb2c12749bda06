package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"

	"github.com/yleoer/musicapi/pkg/database"
	"github.com/yleoer/musicapi/pkg/tagger"
	"github.com/yleoer/musicapi/pkg/track"
	"github.com/yleoer/musicapi/pkg/util"
)

// ErrNotIndexed 表示文件已经落盘但没有写入本地库，下次对账时会被重新下载
var ErrNotIndexed = errors.New("downloaded file is not indexed")

// Fetcher 把 url 下载到 dest
type Fetcher interface {
	Download(ctx context.Context, rawURL, dest string) (int64, error)
}

// Directories 是主目录和存放 master 之外 flac 副本的次级目录
type Directories struct {
	Primary   string
	Secondary string
}

// Job 描述一次下载：谁、什么档位、放到哪
type Job struct {
	Identity    string
	Metadata    *track.Metadata
	Variant     *track.Variant
	Existing    track.TierSet // 对账前读到的本地档位
	ToSecondary bool          // 调用方明确要求放到次级目录
}

// Outcome 是一次下载的结果。Err 非空表示没有得到可用文件；
// Indexed 为 false 且 Err 为 ErrNotIndexed 时文件在磁盘上但不在库里。
type Outcome struct {
	Tier    track.Tier
	Path    string
	Size    int64
	Tagged  bool
	Indexed bool
	Err     error
}

// Pipeline 串起 放置 -> 下载 -> 写标签 -> 入库
type Pipeline struct {
	dirs    Directories
	fetcher Fetcher
	writer  tagger.Writer
	store   database.LibraryStore
	logger  *log.Logger
}

// New 创建 Pipeline，writer 可以为 nil 表示不写标签
func New(dirs Directories, fetcher Fetcher, writer tagger.Writer, store database.LibraryStore, logger *log.Logger) *Pipeline {
	return &Pipeline{dirs: dirs.absolute(), fetcher: fetcher, writer: writer, store: store, logger: logger}
}

// absolute 把目录转成绝对路径，和扫描器入库的路径保持一致
func (d Directories) absolute() Directories {
	for _, dir := range []*string{&d.Primary, &d.Secondary} {
		if *dir == "" {
			continue
		}
		if abs, err := filepath.Abs(*dir); err == nil {
			*dir = abs
		}
	}
	return d
}

// Place 返回文件的目标路径，档位一律取 Variant.Actual。
// flac 在本地已有同专辑 master 时放到次级目录，是否已有 master 在下载前重新查库。
func (p *Pipeline) Place(ctx context.Context, job Job) string {
	tier := job.Variant.Actual
	album := ""
	if job.Metadata != nil {
		album = job.Metadata.Album
	}
	dir := p.dirs.Primary
	if tier == track.TierFlac && (job.ToSecondary || p.masterExists(ctx, job, album)) {
		dir = p.dirs.Secondary
	}
	return filepath.Join(dir, track.FileName(job.Identity, album, tier, job.Variant.Ext))
}

func (p *Pipeline) masterExists(ctx context.Context, job Job, album string) bool {
	if job.Existing.Has(track.TierMaster) {
		return true
	}
	if p.store == nil {
		return false
	}
	tiers, err := p.store.ExistingTiers(ctx, job.Identity, album)
	if err != nil {
		p.logger.Printf("  -> WARN: could not check master for %s: %v", job.Identity, err)
		return false
	}
	return tiers.Has(track.TierMaster)
}

// Execute 执行一次下载。标签写入失败只记日志，入库对每次成功的下载只调用一次。
func (p *Pipeline) Execute(ctx context.Context, job Job) Outcome {
	tier := job.Variant.Actual
	out := Outcome{Tier: tier}
	if job.Variant.URL == "" {
		out.Err = fmt.Errorf("%s [%s]: empty url", job.Identity, tier)
		return out
	}

	dest := p.Place(ctx, job)
	p.logger.Printf("  -> Downloading %s [%s] to %s", job.Identity, tier, dest)
	size, err := p.fetcher.Download(ctx, job.Variant.URL, dest)
	if err != nil {
		p.logger.Printf("  -> ERROR: download failed for %s [%s]: %v", job.Identity, tier, err)
		out.Err = err
		return out
	}
	out.Path = dest
	out.Size = size

	if p.writer != nil && job.Metadata != nil {
		if err := p.writer.Write(ctx, dest, job.Metadata); err != nil {
			p.logger.Printf("  -> WARN: tagging failed for %s [%s]: %v", job.Identity, tier, err)
		} else {
			out.Tagged = true
		}
	}

	entry := database.Entry{
		Identity: job.Identity,
		Tier:     tier,
		FilePath: dest,
	}
	if job.Metadata != nil {
		entry.Album = job.Metadata.Album
		entry.DurationMs = job.Metadata.DurationMs
	}
	inserted, err := p.store.Record(ctx, entry)
	if err != nil {
		p.logger.Printf("  -> WARN: %s [%s] saved to %s but not indexed: %v", job.Identity, tier, dest, err)
		out.Err = fmt.Errorf("%w: %v", ErrNotIndexed, err)
		return out
	}
	if !inserted {
		p.logger.Printf("  -> %s already indexed, skipped insert", dest)
	}
	out.Indexed = true
	p.logger.Printf("  -> Saved %s [%s] (%s)", job.Identity, tier, util.FormatSize(size))
	return out
}
