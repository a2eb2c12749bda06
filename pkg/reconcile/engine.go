package reconcile

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/yleoer/musicapi/pkg/database"
	"github.com/yleoer/musicapi/pkg/pipeline"
	"github.com/yleoer/musicapi/pkg/resolver"
	"github.com/yleoer/musicapi/pkg/track"
)

// Executor 执行一次下载，pipeline.Pipeline 实现了它
type Executor interface {
	Execute(ctx context.Context, job pipeline.Job) pipeline.Outcome
}

// Policy 是对账的可选行为
type Policy struct {
	// FlacWithMaster 为 true 时，冷启动拿到 master 后再下载一份 flac 到次级目录
	FlacWithMaster bool
}

// Request 是一首歌的对账请求，Metadata 由调用方事先获取
type Request struct {
	Ref      track.Ref
	Identity string
	Metadata *track.Metadata
}

func (r Request) album() string {
	if r.Metadata == nil {
		return ""
	}
	return r.Metadata.Album
}

// Engine 根据本地已有档位决定向平台请求什么、下载什么
type Engine struct {
	store  database.LibraryStore
	exec   Executor
	policy Policy
	group  singleflight.Group
	logger *log.Logger
}

// NewEngine 创建对账引擎
func NewEngine(store database.LibraryStore, exec Executor, policy Policy, logger *log.Logger) *Engine {
	return &Engine{store: store, exec: exec, policy: policy, logger: logger}
}

// Reconcile 对一首歌执行一次对账。同一 identity+album 的并发调用会合并为一次，共享同一份 Report。
func (e *Engine) Reconcile(ctx context.Context, res resolver.Resolver, req Request) *Report {
	key := req.Identity + "\x00" + track.NormalizeAlbum(req.album())
	v, _, shared := e.group.Do(key, func() (interface{}, error) {
		return e.run(ctx, res, req), nil
	})
	if shared {
		e.logger.Printf("  -> %s: joined an in-flight reconciliation", req.Identity)
	}
	return v.(*Report)
}

func (e *Engine) run(ctx context.Context, res resolver.Resolver, req Request) *Report {
	report := &Report{Identity: req.Identity, Album: req.album()}

	existing, err := e.store.ExistingTiers(ctx, req.Identity, req.album())
	if err != nil {
		report.Branch = BranchIndexFailed
		report.Err = fmt.Errorf("read local tiers: %w", err)
		e.logger.Printf("ERROR: %s: %v", req.Identity, report.Err)
		return report
	}
	report.Existing = existing
	e.logger.Printf("Reconciling %s, local tiers: %s", req.Identity, existing)

	switch {
	case existing.Has(track.TierMaster):
		report.Branch = BranchMaxed
		e.logger.Printf("  -> master already present, nothing to do")

	case existing.Has(track.TierFlac):
		// master 没拿到就结束，不回退到 flac 或更低
		report.Branch = BranchFromFlac
		p := e.probe(ctx, res, req, track.TierMaster)
		report.Probes = append(report.Probes, p)
		if p.Served() {
			report.Downloads = append(report.Downloads, e.save(ctx, req, existing, p.Variant, false))
		}

	case existing.Has(track.Tier320) || existing.Has(track.Tier128):
		report.Branch = BranchFromLossy
		e.upgradeFromLossy(ctx, res, req, existing, report)

	case existing.Empty():
		report.Branch = BranchColdStart
		e.coldStart(ctx, res, req, existing, report)

	default:
		report.Branch = BranchUnranked
		e.logger.Printf("  -> only unranked local copies, nothing to do")
	}

	e.logger.Printf("  -> Done: %s", report)
	return report
}

// upgradeFromLossy 并发请求 master 和 flac，两者互不影响。
// 下载按 master、flac 的顺序进行，flac 因此能看到刚入库的 master 并放到次级目录。
func (e *Engine) upgradeFromLossy(ctx context.Context, res resolver.Resolver, req Request, existing track.TierSet, report *Report) {
	tiers := []track.Tier{track.TierMaster, track.TierFlac}
	probes := make([]Probe, len(tiers))

	var g errgroup.Group
	for i, tier := range tiers {
		g.Go(func() error {
			probes[i] = e.probe(ctx, res, req, tier)
			return nil
		})
	}
	_ = g.Wait()

	report.Probes = append(report.Probes, probes...)
	for _, p := range probes {
		if p.Served() {
			report.Downloads = append(report.Downloads, e.save(ctx, req, existing, p.Variant, false))
		}
	}
}

func (e *Engine) coldStart(ctx context.Context, res resolver.Resolver, req Request, existing track.TierSet, report *Report) {
	p := e.probe(ctx, res, req, track.TierMaster)
	report.Probes = append(report.Probes, p)
	if !p.OK() {
		report.Err = fmt.Errorf("%w: %s", ErrNoPlayableVariant, req.Identity)
		if p.Err != nil {
			report.Err = fmt.Errorf("%w: %s: %v", ErrNoPlayableVariant, req.Identity, p.Err)
		}
		e.logger.Printf("  -> ERROR: nothing obtainable for %s", req.Identity)
		return
	}

	switch actual := p.Variant.Actual; actual {
	case track.TierMaster:
		report.Downloads = append(report.Downloads, e.save(ctx, req, existing, p.Variant, false))
		if !e.policy.FlacWithMaster {
			return
		}
		flac := e.probe(ctx, res, req, track.TierFlac)
		report.Probes = append(report.Probes, flac)
		if flac.Served() {
			report.Downloads = append(report.Downloads, e.save(ctx, req, existing, flac.Variant, true))
		}

	case track.Tier320, track.Tier128:
		e.logger.Printf("  -> only %s available", actual)
		report.Downloads = append(report.Downloads, e.save(ctx, req, existing, p.Variant, false))

	default:
		// 只额外请求一次 flac，不再重试 master
		e.logger.Printf("  -> master request returned %s, asking for flac", actual)
		flac := e.probe(ctx, res, req, track.TierFlac)
		report.Probes = append(report.Probes, flac)
		if flac.Served() {
			report.Downloads = append(report.Downloads, e.save(ctx, req, existing, flac.Variant, false))
		}
	}
}

func (e *Engine) probe(ctx context.Context, res resolver.Resolver, req Request, tier track.Tier) Probe {
	v, err := res.ResolveVariant(ctx, req.Ref, tier)
	p := Probe{Requested: tier, Variant: v, Err: err}
	switch {
	case err != nil:
		e.logger.Printf("  -> WARN: %s request failed: %v", tier, err)
	case !p.OK():
		e.logger.Printf("  -> WARN: %s request returned no url", tier)
	case !p.Served():
		e.logger.Printf("  -> requested %s, platform served %s", tier, v.Actual)
	}
	return p
}

func (e *Engine) save(ctx context.Context, req Request, existing track.TierSet, v *track.Variant, secondary bool) pipeline.Outcome {
	return e.exec.Execute(ctx, pipeline.Job{
		Identity:    req.Identity,
		Metadata:    req.Metadata,
		Variant:     v,
		Existing:    existing,
		ToSecondary: secondary,
	})
}
