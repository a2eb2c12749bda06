package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"
	"github.com/go-flac/go-flac"

	"github.com/yleoer/musicapi/pkg/converter"
	"github.com/yleoer/musicapi/pkg/database"
	"github.com/yleoer/musicapi/pkg/track"
	"github.com/yleoer/musicapi/pkg/util"
)

// Result 是一次扫描的统计
type Result struct {
	Seen    int // 目录中的音频文件数
	Added   int // 新写入本地库的
	Skipped int // 已在库中的
	Failed  int
}

func (r *Result) add(o Result) {
	r.Seen += o.Seen
	r.Added += o.Added
	r.Skipped += o.Skipped
	r.Failed += o.Failed
}

// LibraryScanner 扫描音乐目录，把还没有入库的音频文件写入本地库
type LibraryScanner struct {
	store     database.LibraryStore
	converter converter.TextConverter
	dirs      []string
	logger    *log.Logger
}

// NewLibraryScanner 创建一个新的 LibraryScanner 实例，dirs 一般是主目录和次级目录
func NewLibraryScanner(store database.LibraryStore, tc converter.TextConverter, logger *log.Logger, dirs ...string) *LibraryScanner {
	var unique []string
	seen := make(map[string]bool)
	for _, d := range dirs {
		if d != "" && !seen[d] {
			seen[d] = true
			unique = append(unique, d)
		}
	}
	return &LibraryScanner{store: store, converter: tc, dirs: unique, logger: logger}
}

// Dirs 返回要扫描的目录
func (s *LibraryScanner) Dirs() []string {
	return s.dirs
}

// ScanAll 依次扫描所有目录，不存在的目录跳过
func (s *LibraryScanner) ScanAll(ctx context.Context) (Result, error) {
	var total Result
	for _, dir := range s.dirs {
		if !util.IsDirectory(dir) {
			s.logger.Printf("WARN: directory %s does not exist, skipping", dir)
			continue
		}
		r, err := s.ScanDir(ctx, dir)
		total.add(r)
		if err != nil {
			return total, err
		}
	}
	s.logger.Printf("All directories scanned: %d new, %d already indexed, %d failed", total.Added, total.Skipped, total.Failed)
	return total, nil
}

// ScanDir 递归扫描一个目录
func (s *LibraryScanner) ScanDir(ctx context.Context, root string) (Result, error) {
	var res Result
	s.logger.Printf("Scanning directory: %s", root)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			s.logger.Printf("  -> WARN: %s: %v", path, err)
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !util.IsAudioFile(path) {
			return nil
		}
		res.Seen++

		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		indexed, err := s.store.HasPath(ctx, abs)
		if err != nil {
			return err
		}
		if indexed {
			res.Skipped++
			return nil
		}

		entry := s.Inspect(abs)
		inserted, err := s.store.Record(ctx, entry)
		if err != nil {
			s.logger.Printf("  -> ERROR: could not index %s: %v", abs, err)
			res.Failed++
			return nil
		}
		if inserted {
			res.Added++
			if res.Added%100 == 0 {
				s.logger.Printf("  -> %d new files indexed so far...", res.Added)
			}
		} else {
			res.Skipped++
		}
		return nil
	})
	s.logger.Printf("Directory %s scanned, %d new files", root, res.Added)
	return res, err
}

// Scan 满足 scheduler.ScanFunc
func (s *LibraryScanner) Scan(ctx context.Context, dir string) error {
	_, err := s.ScanDir(ctx, dir)
	return err
}

// Inspect 读取文件标签和音质。读不到标签时 identity 取文件名（去掉 " [M]"）。
func (s *LibraryScanner) Inspect(path string) database.Entry {
	entry := database.Entry{FilePath: path, Tier: detectTier(path)}

	artist, title, album, err := readTags(path)
	if err != nil {
		s.logger.Printf("  -> WARN: could not read tags from %s: %v", filepath.Base(path), err)
	}
	if artist != "" && title != "" {
		entry.Identity = track.IdentityFromString(s.converter, artist, title)
	} else {
		stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		entry.Identity = s.converter.TradToSim(strings.TrimSuffix(stem, track.MasterSuffix))
	}
	entry.Album = album
	entry.DurationMs = duration(path)
	return entry
}

func readTags(path string) (artist, title, album string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", "", err
	}
	defer f.Close()
	m, err := tag.ReadFrom(f)
	if err != nil {
		return "", "", "", err
	}
	return strings.TrimSpace(m.Artist()), strings.TrimSpace(m.Title()), strings.TrimSpace(m.Album()), nil
}

// detectTier 按文件名后缀、扩展名和 MP3 码率判断音质
func detectTier(path string) track.Tier {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	switch {
	case strings.HasSuffix(stem, track.MasterSuffix):
		return track.TierMaster
	case strings.EqualFold(filepath.Ext(path), ".flac"):
		return track.TierFlac
	case strings.EqualFold(filepath.Ext(path), ".mp3"):
		q, err := readMP3Quality(path)
		if err == nil && q.Bitrate > 256 {
			return track.Tier320
		}
		return track.Tier128
	default:
		return track.TierOther
	}
}

func duration(path string) int64 {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".flac":
		f, err := flac.ParseFile(path)
		if err != nil {
			return 0
		}
		info, err := f.GetStreamInfo()
		if err != nil || info.SampleRate == 0 {
			return 0
		}
		return info.SampleCount * 1000 / int64(info.SampleRate)
	case ".mp3":
		q, err := readMP3Quality(path)
		if err != nil {
			return 0
		}
		return q.DurationMs
	default:
		return 0
	}
}

func (r Result) String() string {
	return fmt.Sprintf("%d seen, %d added, %d skipped, %d failed", r.Seen, r.Added, r.Skipped, r.Failed)
}
