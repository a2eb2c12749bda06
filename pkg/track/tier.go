package track

import (
	"sort"
	"strings"
)

// Tier 表示音质档位
type Tier string

const (
	Tier128    Tier = "128"
	Tier320    Tier = "320"
	TierFlac   Tier = "flac"
	TierMaster Tier = "master"

	// TierOther 用于扫描器无法判断音质的本地文件
	TierOther Tier = "other"
)

// 音质阶梯，数值越大保真度越高。不在阶梯上的档位（平台特有的 hires、sky 等）rank 为 0。
var ladder = map[Tier]int{
	Tier128:    1,
	Tier320:    2,
	TierFlac:   3,
	TierMaster: 4,
}

// Ladder 按从低到高的顺序返回阶梯上的全部档位
func Ladder() []Tier {
	return []Tier{Tier128, Tier320, TierFlac, TierMaster}
}

// Rank 返回档位在阶梯上的位置，不在阶梯上返回 0
func (t Tier) Rank() int {
	return ladder[t]
}

// OnLadder 判断档位是否属于共享音质阶梯
func (t Tier) OnLadder() bool {
	return ladder[t] > 0
}

// IsLossy 判断是否为有损档位
func (t Tier) IsLossy() bool {
	return t == Tier128 || t == Tier320
}

func (t Tier) String() string {
	return string(t)
}

// ParseTier 解析阶梯档位名，大小写不敏感
func ParseTier(s string) (Tier, bool) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if t == TierOther {
		return t, true
	}
	return t, t.OnLadder()
}

// DownwardFallback 返回从 t 开始向下兼容查找的档位顺序
func DownwardFallback(t Tier) []Tier {
	if !t.OnLadder() {
		return nil
	}
	var out []Tier
	for r := t.Rank(); r >= 1; r-- {
		out = append(out, Ladder()[r-1])
	}
	return out
}

// TierSet 是档位集合，本地可能同时存在多个音质
type TierSet map[Tier]struct{}

func NewTierSet(tiers ...Tier) TierSet {
	s := make(TierSet, len(tiers))
	for _, t := range tiers {
		s.Add(t)
	}
	return s
}

func (s TierSet) Add(t Tier) {
	s[t] = struct{}{}
}

func (s TierSet) Has(t Tier) bool {
	_, ok := s[t]
	return ok
}

func (s TierSet) Empty() bool {
	return len(s) == 0
}

// ContainsAll 判断 s 是否为 other 的超集
func (s TierSet) ContainsAll(other TierSet) bool {
	for t := range other {
		if !s.Has(t) {
			return false
		}
	}
	return true
}

// Slice 按阶梯从低到高排序，非阶梯档位按名称排在最后
func (s TierSet) Slice() []Tier {
	out := make([]Tier, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := out[i].Rank(), out[j].Rank()
		if ri == 0 {
			ri = len(ladder) + 1
		}
		if rj == 0 {
			rj = len(ladder) + 1
		}
		if ri != rj {
			return ri < rj
		}
		return out[i] < out[j]
	})
	return out
}

func (s TierSet) String() string {
	parts := make([]string, 0, len(s))
	for _, t := range s.Slice() {
		parts = append(parts, string(t))
	}
	return "[" + strings.Join(parts, " ") + "]"
}
