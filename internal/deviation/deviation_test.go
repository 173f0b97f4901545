package deviation

import (
	"testing"
	"time"

	"github.com/enersight/energy-analytics/internal/baseline"
	"github.com/enersight/energy-analytics/pkg/core"
	"github.com/enersight/energy-analytics/pkg/server"
	"github.com/stretchr/testify/assert"
)

var periodStart = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

// constModel 返回一个退化为常数预测的模型，便于精确控制预期值
func constModel(perDay float64, rmse float64) *baseline.Model {
	return &baseline.Model{
		Features:     []string{},
		Coefficients: []float64{},
		Intercept:    perDay,
		RMSE:         rmse,
		R2:           0.99,
		SampleCount:  60,
	}
}

func day(offset int, consumption float64) *baseline.DayRow {
	return &baseline.DayRow{
		BucketStart: periodStart.AddDate(0, 0, offset),
		Consumption: consumption,
		RateMean:    100,
		RateMax:     120,
	}
}

// 场景C：actual=1296.50，expected=1296.92 → 偏差-0.42，约-0.03%，等级compliant
func TestCompareScenarioC(t *testing.T) {
	m := constModel(1296.92, 5)
	result, err := Compare([]*baseline.DayRow{day(0, 1296.50)}, m, DefaultThresholds())
	assert.NoError(t, err)

	assert.InDelta(t, 1296.50, result.Actual, 1e-9)
	assert.InDelta(t, 1296.92, result.Expected, 1e-9)
	assert.InDelta(t, -0.42, result.Deviation, 1e-9)
	if assert.NotNil(t, result.DeviationPct) {
		assert.InDelta(t, -0.0324, *result.DeviationPct, 0.001)
	}
	assert.Equal(t, core.GradeCompliant, result.Grade)
	assert.False(t, result.Significant)
}

// 偏差符号一致性：actual > expected 时偏差%为正，反之为负
func TestCompareSignConsistency(t *testing.T) {
	m := constModel(100, 1)

	over, err := Compare([]*baseline.DayRow{day(0, 110)}, m, DefaultThresholds())
	assert.NoError(t, err)
	assert.Greater(t, over.Deviation, 0.0)
	assert.Greater(t, *over.DeviationPct, 0.0)

	under, err := Compare([]*baseline.DayRow{day(0, 90)}, m, DefaultThresholds())
	assert.NoError(t, err)
	assert.Less(t, under.Deviation, 0.0)
	assert.Less(t, *under.DeviationPct, 0.0)
}

// 等级阈值对|偏差%|单调：3%内compliant，5%内warning，超过critical
func TestGradeMonotonic(t *testing.T) {
	th := DefaultThresholds()
	cases := []struct {
		pct   float64
		grade core.Grade
	}{
		{0, core.GradeCompliant},
		{2.9, core.GradeCompliant},
		{-2.9, core.GradeCompliant},
		{3.0, core.GradeCompliant},
		{3.1, core.GradeWarning},
		{-4.9, core.GradeWarning},
		{5.0, core.GradeWarning},
		{5.1, core.GradeCritical},
		{-40, core.GradeCritical},
	}
	for _, c := range cases {
		pct := c.pct
		assert.Equal(t, c.grade, GradeOf(&pct, th), "pct=%f", c.pct)
	}
	assert.Equal(t, core.GradeUnknown, GradeOf(nil, th))

	// 幂等：同一输入重算同一等级
	pct := 4.2
	assert.Equal(t, GradeOf(&pct, th), GradeOf(&pct, th))
}

// 预期为0时偏差%无定义，等级unknown而不是除零
func TestCompareZeroExpected(t *testing.T) {
	m := constModel(0, 1)
	result, err := Compare([]*baseline.DayRow{day(0, 10)}, m, DefaultThresholds())
	assert.NoError(t, err)
	assert.Nil(t, result.DeviationPct)
	assert.Equal(t, core.GradeUnknown, result.Grade)
}

// 统计显著性与百分比等级相互独立：小百分比也可能落在95%带外
func TestCompareSignificance(t *testing.T) {
	m := constModel(10000, 1)
	result, err := Compare([]*baseline.DayRow{day(0, 10010)}, m, DefaultThresholds())
	assert.NoError(t, err)
	assert.Equal(t, core.GradeCompliant, result.Grade)
	assert.True(t, result.Significant)

	wide := constModel(10000, 100)
	result, err = Compare([]*baseline.DayRow{day(0, 10010)}, wide, DefaultThresholds())
	assert.NoError(t, err)
	assert.False(t, result.Significant)
}

// 特征不全的子桶从实际与预期两侧同时剔除
func TestCompareSkipsIncompleteDays(t *testing.T) {
	temp := 20.0
	m := &baseline.Model{
		Features:     []string{baseline.FeatureTemperatureMean},
		Coefficients: []float64{0},
		Intercept:    100,
		RMSE:         1,
	}

	complete := day(0, 100)
	complete.TemperatureMean = &temp
	missing := day(1, 9999)

	result, err := Compare([]*baseline.DayRow{complete, missing}, m, DefaultThresholds())
	assert.NoError(t, err)
	assert.Equal(t, 1, result.DaysUsed)
	assert.InDelta(t, 100, result.Actual, 1e-9)

	_, err = Compare([]*baseline.DayRow{missing}, m, DefaultThresholds())
	assert.Equal(t, server.ErrInsufficientData, server.KindOf(err))
}

func TestCompareValidation(t *testing.T) {
	_, err := Compare([]*baseline.DayRow{day(0, 1)}, nil, DefaultThresholds())
	assert.Equal(t, server.ErrValidation, server.KindOf(err))

	_, err = Compare([]*baseline.DayRow{day(0, 1)}, constModel(1, 1), Thresholds{CompliantPct: 5, WarningPct: 3})
	assert.Equal(t, server.ErrValidation, server.KindOf(err))
}

// 累计趋势：只累计最近一次基线调整之后的报告期
func TestCumulative(t *testing.T) {
	history := []*server.PerformanceRecord{
		{PeriodStart: periodStart, Deviation: 5},
		{PeriodStart: periodStart.AddDate(0, 0, 1), Deviation: 3},
		{PeriodStart: periodStart.AddDate(0, 0, 2), Deviation: -1},
	}

	assert.InDelta(t, 9.0, Cumulative(history, nil, 2), 1e-9)

	cut := periodStart.AddDate(0, 0, 2)
	assert.InDelta(t, 1.0, Cumulative(history, &cut, 2), 1e-9)

	// 调整晚于全部历史时趋势归零，只剩当期
	cut = periodStart.AddDate(0, 0, 10)
	assert.InDelta(t, 2.0, Cumulative(history, &cut, 2), 1e-9)
}

func TestDrifting(t *testing.T) {
	assert.True(t, Drifting(100, 10, 5))
	assert.True(t, Drifting(-100, 10, 5))
	assert.False(t, Drifting(30, 10, 5))
	assert.False(t, Drifting(100, 0, 5))
}
