package batch

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yleoer/musicapi/pkg/reconcile"
	"github.com/yleoer/musicapi/pkg/resolver"
	"github.com/yleoer/musicapi/pkg/scheduler"
	"github.com/yleoer/musicapi/pkg/track"
)

// Summary 是一次批量下载的统计
type Summary struct {
	Name      string
	Total     int
	Processed int
	Failed    int
}

func (s Summary) String() string {
	return fmt.Sprintf("%s: %d tracks, %d processed, %d failed", s.Name, s.Total, s.Processed, s.Failed)
}

// Reconciler 对单首歌执行对账，reconcile.Engine 实现了它
type Reconciler interface {
	Reconcile(ctx context.Context, res resolver.Resolver, req reconcile.Request) *reconcile.Report
}

// IdentityFunc 根据元数据生成本地库使用的 identity
type IdentityFunc func(meta *track.Metadata) string

// Runner 逐首处理歌单或专辑，两次远端请求之间固定间隔
type Runner struct {
	engine   Reconciler
	pool     *scheduler.Pool
	identity IdentityFunc
	pacing   time.Duration
	logger   *log.Logger
}

// NewRunner 创建 Runner
func NewRunner(engine Reconciler, pool *scheduler.Pool, identity IdentityFunc, pacing time.Duration, logger *log.Logger) *Runner {
	return &Runner{engine: engine, pool: pool, identity: identity, pacing: pacing, logger: logger}
}

// Run 依次获取每首歌的元数据并把对账任务交给任务池，等全部任务结束后返回统计。
// 单首失败只计数，不会中断整批；ctx 结束时停止提交新的歌曲。
func (r *Runner) Run(ctx context.Context, res resolver.Resolver, listing *track.Listing) Summary {
	summary := Summary{Name: listing.Name, Total: len(listing.Refs)}
	r.logger.Printf("Batch '%s' started with %d tracks", listing.Name, len(listing.Refs))

	var (
		wg        sync.WaitGroup
		processed atomic.Int32
		failed    atomic.Int32
	)
	for i, ref := range listing.Refs {
		if i > 0 && !r.pause(ctx) {
			break
		}
		if ctx.Err() != nil {
			break
		}
		r.logger.Printf("[%d/%d] %s", i+1, len(listing.Refs), ref)

		meta, err := res.ResolveMetadata(ctx, ref)
		if err != nil {
			r.logger.Printf("  -> ERROR: metadata for %s: %v", ref, err)
			failed.Add(1)
			continue
		}
		req := reconcile.Request{Ref: ref, Identity: r.identity(meta), Metadata: meta}

		wg.Add(1)
		err = r.pool.Submit(ctx, req.Identity, func(taskCtx context.Context) {
			counted := false
			defer func() {
				// 任务 panic 时也要计为失败
				if !counted {
					failed.Add(1)
				}
				wg.Done()
			}()
			report := r.engine.Reconcile(taskCtx, res, req)
			counted = true
			if report.Failed() {
				failed.Add(1)
				return
			}
			processed.Add(1)
		})
		if err != nil {
			wg.Done()
			r.logger.Printf("  -> ERROR: could not queue %s: %v", req.Identity, err)
			failed.Add(1)
		}
	}
	wg.Wait()

	summary.Processed = int(processed.Load())
	summary.Failed = int(failed.Load())
	r.logger.Printf("Batch finished: %s", summary)
	return summary
}

func (r *Runner) pause(ctx context.Context) bool {
	if r.pacing <= 0 {
		return true
	}
	timer := time.NewTimer(r.pacing)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
