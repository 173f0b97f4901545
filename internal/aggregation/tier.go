package aggregation

import (
	"fmt"
	"time"

	"github.com/enersight/energy-analytics/pkg/core"
)

// TierSpec 一个聚合层级的参数。层级之间构成有向无环依赖：
// Source为空的层级从原始读数计算，其余层级只从Source层级计算，绝不回扫原始数据。
type TierSpec struct {
	Name   core.TierName
	Bucket time.Duration
	// Refresh 刷新周期，每个层级独立调度
	Refresh time.Duration
	// Settle 沉降偏移。距now不足Settle的桶不刷新，容忍迟到的原始数据
	Settle time.Duration
	// Lookback 回看窗口。早于now-Lookback的桶视为已定稿，不再重算，
	// 因此单次刷新成本与历史总量无关
	Lookback time.Duration
	Source   core.TierName
}

// DefaultTiers 默认层级链：刻钟(原始)→小时→天
func DefaultTiers() []TierSpec {
	return []TierSpec{
		{
			Name:     core.TierQuarterHour,
			Bucket:   15 * time.Minute,
			Refresh:  5 * time.Minute,
			Settle:   5 * time.Minute,
			Lookback: 2 * time.Hour,
		},
		{
			Name:     core.TierHour,
			Bucket:   time.Hour,
			Refresh:  15 * time.Minute,
			Settle:   20 * time.Minute,
			Lookback: 6 * time.Hour,
			Source:   core.TierQuarterHour,
		},
		{
			Name:     core.TierDay,
			Bucket:   24 * time.Hour,
			Refresh:  time.Hour,
			Settle:   time.Hour,
			Lookback: 48 * time.Hour,
			Source:   core.TierHour,
		},
	}
}

// ValidateChain 校验层级链的结构约束：
// 恰好一个层级从原始读数计算；Source必须先于本层级声明；
// 桶宽必须是Source桶宽的整数倍（粗桶边界是细桶边界的精确粗化，不存在部分重叠）。
func ValidateChain(tiers []TierSpec) error {
	if len(tiers) == 0 {
		return fmt.Errorf("层级链不能为空")
	}

	seen := map[core.TierName]*TierSpec{}
	rawSourced := 0
	for i := range tiers {
		t := &tiers[i]
		if t.Bucket <= 0 {
			return fmt.Errorf("层级%s的桶宽必须为正", t.Name)
		}
		if t.Settle < 0 || t.Lookback <= t.Settle {
			return fmt.Errorf("层级%s的回看窗口必须大于沉降偏移", t.Name)
		}
		if _, ok := seen[t.Name]; ok {
			return fmt.Errorf("层级%s重复声明", t.Name)
		}

		if t.Source == "" {
			rawSourced++
		} else {
			src, ok := seen[t.Source]
			if !ok {
				return fmt.Errorf("层级%s的来源层级%s未在其之前声明", t.Name, t.Source)
			}
			if t.Bucket%src.Bucket != 0 {
				return fmt.Errorf("层级%s的桶宽%v不是来源层级%s桶宽%v的整数倍",
					t.Name, t.Bucket, src.Name, src.Bucket)
			}
			if t.Settle < src.Settle {
				return fmt.Errorf("层级%s的沉降偏移不能小于来源层级%s的", t.Name, src.Name)
			}
		}
		seen[t.Name] = t
	}

	if rawSourced != 1 {
		return fmt.Errorf("必须恰好有一个层级从原始读数计算，现在有%d个", rawSourced)
	}

	return nil
}

// Find 按名称取层级
func Find(tiers []TierSpec, name core.TierName) (TierSpec, bool) {
	for _, t := range tiers {
		if t.Name == name {
			return t, true
		}
	}
	return TierSpec{}, false
}

// BucketStart 返回时间戳所属桶的起点。全部按UTC对齐。
func (t TierSpec) BucketStart(ts time.Time) time.Time {
	return ts.UTC().Truncate(t.Bucket)
}

// RefreshWindow 返回本次刷新要重算的半开区间[start, end)。
// end对齐到now-Settle所在桶的起点，start对齐到now-Lookback所在桶的起点。
func (t TierSpec) RefreshWindow(now time.Time) (start, end time.Time) {
	start = t.BucketStart(now.Add(-t.Lookback))
	end = t.BucketStart(now.Add(-t.Settle))
	return start, end
}

// FinalBefore 返回定稿线：起点早于该时刻的桶不会再被重算
func (t TierSpec) FinalBefore(now time.Time) time.Time {
	return t.BucketStart(now.Add(-t.Lookback))
}
