package reconcile

import (
	"errors"
	"fmt"
	"strings"

	"github.com/yleoer/musicapi/pkg/pipeline"
	"github.com/yleoer/musicapi/pkg/track"
)

// ErrNoPlayableVariant 表示冷启动时连 master 请求都没有拿到任何可用地址
var ErrNoPlayableVariant = errors.New("no playable variant")

// Branch 是对账时走的分支
type Branch string

const (
	BranchMaxed       Branch = "master-present"    // 本地已有 master，什么都不做
	BranchFromFlac    Branch = "upgrade-from-flac" // 只尝试 master
	BranchFromLossy   Branch = "upgrade-from-lossy"
	BranchColdStart   Branch = "cold-start"
	BranchUnranked    Branch = "unranked" // 本地只有阶梯外的档位
	BranchIndexFailed Branch = "index-failed"
)

// Probe 是一次 ResolveVariant 调用的记录
type Probe struct {
	Requested track.Tier
	Variant   *track.Variant
	Err       error
}

// OK 判断这次请求是否拿到了可用地址
func (p Probe) OK() bool {
	return p.Err == nil && p.Variant != nil && p.Variant.URL != ""
}

// Served 判断平台返回的实际档位是否就是请求的档位
func (p Probe) Served() bool {
	return p.OK() && p.Variant.Actual == p.Requested
}

// Report 记录一次对账的全部经过
type Report struct {
	Identity  string
	Album     string
	Existing  track.TierSet
	Branch    Branch
	Probes    []Probe
	Downloads []pipeline.Outcome
	Err       error
}

// ResolverCalls 返回 ResolveVariant 的调用次数
func (r *Report) ResolverCalls() int {
	return len(r.Probes)
}

// Saved 返回成功落盘的档位，包括落盘但未入库的
func (r *Report) Saved() []track.Tier {
	var out []track.Tier
	for _, d := range r.Downloads {
		if d.Err == nil || errors.Is(d.Err, pipeline.ErrNotIndexed) {
			out = append(out, d.Tier)
		}
	}
	return out
}

// Failed 判断这次对账是否应计为失败：没拿到任何可用版本，或有下载失败
func (r *Report) Failed() bool {
	if r.Err != nil {
		return true
	}
	for _, d := range r.Downloads {
		if d.Err != nil && !errors.Is(d.Err, pipeline.ErrNotIndexed) {
			return true
		}
	}
	return false
}

func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s existing=%s branch=%s probes=%d", r.Identity, r.Existing, r.Branch, len(r.Probes))
	if saved := r.Saved(); len(saved) > 0 {
		fmt.Fprintf(&b, " saved=%v", saved)
	}
	if r.Err != nil {
		fmt.Fprintf(&b, " error=%v", r.Err)
	}
	return b.String()
}
