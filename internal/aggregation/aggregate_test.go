package aggregation

import (
	"math"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/enersight/energy-analytics/pkg/core"
	"github.com/stretchr/testify/assert"
)

var testStart = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func makeReadings(r *rand.Rand, equipmentID uint, n int, interval time.Duration) []core.RawReading {
	readings := make([]core.RawReading, n)
	for i := 0; i < n; i++ {
		temp := 20 + r.Float64()*10
		pres := 2 + r.Float64()
		readings[i] = core.RawReading{
			EquipmentID: equipmentID,
			Timestamp:   testStart.Add(time.Duration(i) * interval),
			Rate:        50 + r.Float64()*100,
			Consumption: 1 + r.Float64()*5,
			Temperature: &temp,
			Pressure:    &pres,
			Throughput:  r.Float64() * 10,
			Production:  float64(r.Intn(5)),
		}
	}
	return readings
}

func quarterTier(t *testing.T) TierSpec {
	tier, ok := Find(DefaultTiers(), core.TierQuarterHour)
	assert.True(t, ok)
	return tier
}

func hourTier(t *testing.T) TierSpec {
	tier, ok := Find(DefaultTiers(), core.TierHour)
	assert.True(t, ok)
	return tier
}

func TestValidateChain(t *testing.T) {
	assert.NoError(t, ValidateChain(DefaultTiers()))

	// 空链
	assert.Error(t, ValidateChain(nil))

	// 来源层级声明在后
	bad := []TierSpec{
		{Name: "a", Bucket: time.Hour, Settle: time.Minute, Lookback: time.Hour, Source: "b"},
		{Name: "b", Bucket: 15 * time.Minute, Settle: time.Minute, Lookback: time.Hour},
	}
	assert.Error(t, ValidateChain(bad))

	// 桶宽不是整数倍
	bad = []TierSpec{
		{Name: "a", Bucket: 15 * time.Minute, Settle: time.Minute, Lookback: time.Hour},
		{Name: "b", Bucket: 40 * time.Minute, Settle: time.Minute, Lookback: time.Hour, Source: "a"},
	}
	assert.Error(t, ValidateChain(bad))

	// 两个层级都从原始读数计算
	bad = []TierSpec{
		{Name: "a", Bucket: 15 * time.Minute, Settle: time.Minute, Lookback: time.Hour},
		{Name: "b", Bucket: 30 * time.Minute, Settle: time.Minute, Lookback: time.Hour},
	}
	assert.Error(t, ValidateChain(bad))

	// 回看窗口不大于沉降偏移
	bad = []TierSpec{
		{Name: "a", Bucket: 15 * time.Minute, Settle: time.Hour, Lookback: time.Hour},
	}
	assert.Error(t, ValidateChain(bad))
}

func TestRefreshWindow(t *testing.T) {
	tier := quarterTier(t)
	now := time.Date(2024, 3, 1, 10, 7, 30, 0, time.UTC)
	start, end := tier.RefreshWindow(now)
	assert.Equal(t, time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), end)
	assert.Equal(t, start, tier.FinalBefore(now))
}

func TestAggregateRawIdempotent(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	readings := makeReadings(r, 7, 4*60, time.Minute)
	tier := quarterTier(t)
	end := testStart.Add(4 * time.Hour)

	first := AggregateRaw(tier, 7, readings, testStart, end)
	second := AggregateRaw(tier, 7, readings, testStart, end)
	assert.True(t, reflect.DeepEqual(first, second))

	assert.Equal(t, 16, len(first))
	for _, row := range first {
		assert.Equal(t, uint(15), row.Count)
		assert.Equal(t, core.TierQuarterHour, row.Tier)
		assert.True(t, row.RateMin <= row.RateMean && row.RateMean <= row.RateMax)
	}
}

func TestAggregateRawWindowBounds(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	readings := makeReadings(r, 1, 120, time.Minute)
	tier := quarterTier(t)

	// 窗口外的读数不参与
	rows := AggregateRaw(tier, 1, readings, testStart.Add(time.Hour), testStart.Add(90*time.Minute))
	assert.Equal(t, 2, len(rows))
	for _, row := range rows {
		assert.False(t, row.BucketStart.Before(testStart.Add(time.Hour)))
		assert.True(t, row.BucketStart.Before(testStart.Add(90*time.Minute)))
	}

	// 空输入不产出行
	assert.Equal(t, 0, len(AggregateRaw(tier, 1, nil, testStart, testStart.Add(time.Hour))))
}

// 粗化正确性：任何粗桶的聚合值都能由落在其中的细层级行直接重组得到。
// 用随机数据与随机切分窗口做性质测试。
func TestCoarsenCorrectness(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	readings := makeReadings(r, 9, 24*60, time.Minute)
	quarter := quarterTier(t)
	hour := hourTier(t)
	dayEnd := testStart.Add(24 * time.Hour)

	fine := AggregateRaw(quarter, 9, readings, testStart, dayEnd)
	coarse := Coarsen(hour, 9, fine, testStart, dayEnd)
	assert.Equal(t, 24, len(coarse))

	// 与直接从原始读数计算小时桶比对
	direct := AggregateRaw(hour, 9, readings, testStart, dayEnd)
	assert.Equal(t, len(direct), len(coarse))
	for i := range coarse {
		assert.Equal(t, direct[i].BucketStart, coarse[i].BucketStart)
		assert.Equal(t, direct[i].Count, coarse[i].Count)
		assert.InDelta(t, direct[i].Consumption, coarse[i].Consumption, 1e-9)
		assert.InDelta(t, direct[i].RateMean, coarse[i].RateMean, 1e-9)
		assert.InDelta(t, direct[i].RateMin, coarse[i].RateMin, 1e-9)
		assert.InDelta(t, direct[i].RateMax, coarse[i].RateMax, 1e-9)
		assert.InDelta(t, direct[i].ProductionSum, coarse[i].ProductionSum, 1e-9)
		assert.InDelta(t, direct[i].ThroughputSum, coarse[i].ThroughputSum, 1e-9)
		if assert.NotNil(t, coarse[i].TemperatureMean) {
			assert.InDelta(t, *direct[i].TemperatureMean, *coarse[i].TemperatureMean, 1e-9)
		}
	}

	// 随机切分：分两段粗化与一次粗化结果一致
	for trial := 0; trial < 20; trial++ {
		cut := testStart.Add(time.Duration(1+r.Intn(23)) * time.Hour)
		left := Coarsen(hour, 9, fine, testStart, cut)
		right := Coarsen(hour, 9, fine, cut, dayEnd)
		combined := append(append([]*core.Rollup{}, left...), right...)
		assert.Equal(t, len(coarse), len(combined))
		for i := range combined {
			assert.Equal(t, coarse[i].BucketStart, combined[i].BucketStart)
			assert.InDelta(t, coarse[i].Consumption, combined[i].Consumption, 1e-9)
			assert.Equal(t, coarse[i].Count, combined[i].Count)
		}
	}
}

func TestCoarsenMissingAux(t *testing.T) {
	quarter := quarterTier(t)
	hour := hourTier(t)

	// 全部读数都缺辅助通道时，粗化结果的辅助均值为nil
	readings := make([]core.RawReading, 60)
	for i := range readings {
		readings[i] = core.RawReading{
			EquipmentID: 3,
			Timestamp:   testStart.Add(time.Duration(i) * time.Minute),
			Rate:        100,
			Consumption: 2,
		}
	}
	fine := AggregateRaw(quarter, 3, readings, testStart, testStart.Add(time.Hour))
	coarse := Coarsen(hour, 3, fine, testStart, testStart.Add(time.Hour))
	assert.Equal(t, 1, len(coarse))
	assert.Nil(t, coarse[0].TemperatureMean)
	assert.Nil(t, coarse[0].PressureMean)
	assert.False(t, math.IsNaN(coarse[0].RateMean))
	assert.InDelta(t, 120, coarse[0].Consumption, 1e-9)
}
