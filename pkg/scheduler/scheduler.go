package scheduler

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/yleoer/musicapi/pkg/util"
)

// ScanFunc 扫描一个目录并把新文件写入本地库
type ScanFunc func(ctx context.Context, dir string) error

// Options 控制扫描的延迟和文件稳定性检查
type Options struct {
	Debounce    time.Duration // 最后一次变动后等待多久再扫描
	QuietPeriod time.Duration // 文件大小和修改时间保持不变多久算稳定
	MaxWait     time.Duration // 稳定性检查的最长等待时间
}

// TaskScheduler 负责把目录变动合并成延迟扫描，扫描本身放到 Pool 里执行
type TaskScheduler struct {
	opts              Options
	pool              *Pool
	scan              ScanFunc
	logger            *log.Logger
	scanMutex         sync.Mutex // 同一时间只有一个扫描
	pendingScans      map[string]*time.Timer
	pendingScansMutex sync.Mutex // 保护 pendingScans 和 stopped
	stopped           bool
}

// NewTaskScheduler 创建一个新的 TaskScheduler 实例
func NewTaskScheduler(opts Options, pool *Pool, scan ScanFunc, logger *log.Logger) *TaskScheduler {
	if opts.QuietPeriod <= 0 {
		opts.QuietPeriod = opts.Debounce
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = 10 * opts.Debounce
	}
	return &TaskScheduler{
		opts:         opts,
		pool:         pool,
		scan:         scan,
		logger:       logger,
		pendingScans: make(map[string]*time.Timer),
	}
}

// TriggerScan 将一个目录添加到延迟扫描队列，重复触发会重置计时器
func (ts *TaskScheduler) TriggerScan(dirPath string) {
	ts.pendingScansMutex.Lock()
	defer ts.pendingScansMutex.Unlock()
	if ts.stopped {
		return
	}
	if timer, ok := ts.pendingScans[dirPath]; ok {
		timer.Stop()
	}
	timer := time.AfterFunc(ts.opts.Debounce, func() {
		ts.pendingScansMutex.Lock()
		stopped := ts.stopped
		delete(ts.pendingScans, dirPath)
		ts.pendingScansMutex.Unlock()
		if stopped {
			return
		}

		err := ts.pool.Submit(context.Background(), "scan "+dirPath, func(ctx context.Context) {
			ts.performScan(ctx, dirPath)
		})
		if err != nil {
			ts.logger.Printf("ERROR: Could not schedule scan for %s: %v", dirPath, err)
		}
	})
	ts.pendingScans[dirPath] = timer
	ts.logger.Printf("Scheduled scan for %s in %v", dirPath, ts.opts.Debounce)
}

// Pending 返回等待中的扫描数量
func (ts *TaskScheduler) Pending() int {
	ts.pendingScansMutex.Lock()
	defer ts.pendingScansMutex.Unlock()
	return len(ts.pendingScans)
}

// Stop 取消所有尚未开始的扫描，之后的触发和重新排期都被忽略
func (ts *TaskScheduler) Stop() {
	ts.pendingScansMutex.Lock()
	defer ts.pendingScansMutex.Unlock()
	ts.stopped = true
	for dir, timer := range ts.pendingScans {
		timer.Stop()
		delete(ts.pendingScans, dir)
	}
}

func (ts *TaskScheduler) performScan(ctx context.Context, dir string) {
	ts.scanMutex.Lock()
	defer ts.scanMutex.Unlock()
	ts.logger.Printf("-> Performing scan for changes in directory: %s", dir)
	if !ts.waitForFilesStability(ctx, dir) {
		ts.logger.Printf("  -> Files in %s are still changing. Rescheduling scan.", dir)
		ts.TriggerScan(dir)
		return
	}
	if err := ts.scan(ctx, dir); err != nil {
		ts.logger.Printf("ERROR: Error scanning directory %s: %v", dir, err)
	}
}

// waitForFilesStability 等待目录中的音频文件在 QuietPeriod 内不再变化，下载中的 .part 文件视为仍在变化
func (ts *TaskScheduler) waitForFilesStability(ctx context.Context, dir string) bool {
	if ts.opts.QuietPeriod <= 0 {
		return true
	}
	previous := make(map[string]fileInfo)
	quietSince := make(map[string]time.Time)
	start := time.Now()
	for time.Since(start) < ts.opts.MaxWait {
		now := time.Now()
		entries, err := os.ReadDir(dir)
		if err != nil {
			ts.logger.Printf("ERROR: Error reading directory %s for stability check: %v", dir, err)
			return false
		}
		quiet := true
		current := make(map[string]fileInfo)
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			if util.IsPartialDownload(path) {
				quiet = false
				continue
			}
			if !util.IsAudioFile(path) {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			cur := fileInfo{Size: info.Size(), ModTime: info.ModTime()}
			current[path] = cur
			if prev, ok := previous[path]; !ok || prev.Size != cur.Size || !prev.ModTime.Equal(cur.ModTime) {
				quietSince[path] = now
				quiet = false
			} else if now.Sub(quietSince[path]) < ts.opts.QuietPeriod {
				quiet = false
			}
		}
		previous = current
		if len(current) == 0 && quiet {
			return true
		}
		if quiet {
			ts.logger.Printf("  -> All audio files in %s are stable for at least %v.", dir, ts.opts.QuietPeriod)
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(ts.opts.QuietPeriod / 2):
		}
	}
	ts.logger.Printf("  -> Max wait time for stability exceeded for %s.", dir)
	return false
}

type fileInfo struct {
	Size    int64
	ModTime time.Time
}
