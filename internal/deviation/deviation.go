package deviation

import (
	"math"
	"time"

	"github.com/enersight/energy-analytics/internal/baseline"
	"github.com/enersight/energy-analytics/pkg/core"
	"github.com/enersight/energy-analytics/pkg/server"
)

// 95%置信区间系数
const bandZ = 1.96

// Thresholds 合规等级阈值，按|偏差%|判定
type Thresholds struct {
	CompliantPct float64
	WarningPct   float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		CompliantPct: core.DefaultCompliantPct,
		WarningPct:   core.DefaultWarningPct,
	}
}

// Result 一个报告期的对比结果，尚未叠加累计趋势
type Result struct {
	Actual       float64
	Expected     float64
	Deviation    float64
	DeviationPct *float64
	BandLow      float64
	BandHigh     float64
	Significant  bool
	Grade        core.Grade
	// DaysUsed 实际参与对比的子桶数。特征不全的子桶从实际与预期两侧同时剔除，
	// 保证两边在同一数据范围上可比
	DaysUsed int
}

// Compare 把一个报告期按子桶(报告日)对比实际与预期。
// 预期值逐日用当日特征预测后求和，而不是对期均特征做一次预测，
// 避免把真实波动平均掉。
func Compare(days []*baseline.DayRow, m *baseline.Model, th Thresholds) (*Result, error) {
	if m == nil {
		return nil, server.NewValidationError("对比需要一个已训练的基线模型")
	}
	if th.CompliantPct <= 0 || th.WarningPct < th.CompliantPct {
		return nil, server.NewValidationError("等级阈值必须满足 0 < compliant <= warning")
	}

	actual, expected := 0.0, 0.0
	used := 0
	for _, day := range days {
		vector := map[string]float64{}
		complete := true
		for _, name := range m.Features {
			v, ok := baseline.ExtractByName(day, name)
			if !ok {
				complete = false
				break
			}
			vector[name] = v
		}
		if !complete {
			continue
		}
		pred, _, err := m.Predict(vector)
		if err != nil {
			return nil, err
		}
		actual += day.Consumption
		expected += pred
		used++
	}

	if used == 0 {
		return nil, server.NewInsufficientDataError(0, 1)
	}

	r := &Result{
		Actual:    actual,
		Expected:  expected,
		Deviation: actual - expected,
		DaysUsed:  used,
	}

	// 不确定带：预期 ± 1.96×RMSE×√天数。落在带外即统计显著，与百分比等级相互独立。
	band := bandZ * m.RMSE * math.Sqrt(float64(used))
	r.BandLow = expected - band
	r.BandHigh = expected + band
	r.Significant = actual < r.BandLow || actual > r.BandHigh

	if expected != 0 {
		pct := r.Deviation / expected * 100
		r.DeviationPct = &pct
	}
	r.Grade = GradeOf(r.DeviationPct, th)

	return r, nil
}

// GradeOf 等级是偏差%的纯函数：输入不变重算得到同一等级。
// 预期为0时偏差%无定义，等级为unknown。
func GradeOf(deviationPct *float64, th Thresholds) core.Grade {
	if deviationPct == nil {
		return core.GradeUnknown
	}
	abs := math.Abs(*deviationPct)
	switch {
	case abs <= th.CompliantPct:
		return core.GradeCompliant
	case abs <= th.WarningPct:
		return core.GradeWarning
	default:
		return core.GradeCritical
	}
}

// Cumulative 把历史已关闭报告期的偏差累加为趋势值。
// 只累计生效时刻晚于最近一次基线调整的报告期：登记调整即把趋势从那一刻起归零，
// 调整之前的走势保留在不可变的历史记录里。
func Cumulative(history []*server.PerformanceRecord, sinceAdjustment *time.Time, current float64) float64 {
	total := current
	for _, rec := range history {
		if sinceAdjustment != nil && rec.PeriodStart.Before(*sinceAdjustment) {
			continue
		}
		total += rec.Deviation
	}
	return total
}

// Drifting 判断是否存在持续性单向漂移：累计偏差超过单期典型偏差的倍数，
// 说明是趋势而不是单期噪声。typical通常取活跃模型的RMSE。
func Drifting(cumulative, typical float64, multiple float64) bool {
	if typical <= 0 {
		return false
	}
	return math.Abs(cumulative) > typical*multiple
}
