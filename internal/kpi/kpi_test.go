package kpi

import (
	"testing"
	"time"

	"github.com/enersight/energy-analytics/pkg/core"
	"github.com/stretchr/testify/assert"
)

// 2024-06-03是周一
var monday = time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

func hourlyRows() []*core.Rollup {
	rows := make([]*core.Rollup, 24)
	for h := 0; h < 24; h++ {
		rate := 50.0
		if h >= 8 && h < 18 {
			rate = 150
		}
		rows[h] = &core.Rollup{
			Tier:          core.TierHour,
			EquipmentID:   1,
			BucketStart:   monday.Add(time.Duration(h) * time.Hour),
			Count:         60,
			Consumption:   rate, // 1小时按功率计能耗
			RateMean:      rate,
			RateMin:       rate * 0.8,
			RateMax:       rate * 1.2,
			ProductionSum: 10,
		}
	}
	return rows
}

func testTariff() *TariffTable {
	return &TariffTable{
		Rates: []TariffRate{
			// 工作日白天高峰价
			{DayFrom: 1, DayTo: 5, HourFrom: 8, HourTo: 17, Rate: 1.2},
			// 工作日夜间谷价
			{DayFrom: 1, DayTo: 5, HourFrom: 0, HourTo: 7, Rate: 0.4},
		},
		DefaultRate: 0.8,
	}
}

func TestRateAt(t *testing.T) {
	tariff := testTariff()
	assert.InDelta(t, 1.2, tariff.RateAt(monday.Add(9*time.Hour)), 1e-9)
	assert.InDelta(t, 0.4, tariff.RateAt(monday.Add(3*time.Hour)), 1e-9)
	// 周一18点后没有规则匹配，回落默认费率
	assert.InDelta(t, 0.8, tariff.RateAt(monday.Add(20*time.Hour)), 1e-9)
	// 周日不匹配工作日规则
	assert.InDelta(t, 0.8, tariff.RateAt(monday.AddDate(0, 0, -1).Add(9*time.Hour)), 1e-9)
}

func TestFactorAt(t *testing.T) {
	table := &EmissionTable{
		Factors: []EmissionFactor{
			{Region: "east", Factor: 0.5, From: monday, To: monday.AddDate(0, 1, 0)},
		},
		DefaultFactor: 0.7,
	}
	assert.InDelta(t, 0.5, table.FactorAt("east", monday.Add(time.Hour)), 1e-9)
	assert.InDelta(t, 0.7, table.FactorAt("west", monday.Add(time.Hour)), 1e-9)
	assert.InDelta(t, 0.7, table.FactorAt("east", monday.AddDate(0, 2, 0)), 1e-9)
}

func TestSpecificConsumption(t *testing.T) {
	v := SpecificConsumption(1000, 250)
	if assert.NotNil(t, v) {
		assert.InDelta(t, 4.0, *v, 1e-9)
	}
	// 产量为0时无定义
	assert.Nil(t, SpecificConsumption(1000, 0))
}

func TestPeakAndLoadFactor(t *testing.T) {
	rows := hourlyRows()
	assert.InDelta(t, 180, PeakDemand(rows), 1e-9) // 150*1.2

	// 平均功率 = (14*50 + 10*150)/24
	avg := (14*50.0 + 10*150.0) / 24
	assert.InDelta(t, avg/180, LoadFactor(rows), 1e-9)

	assert.Equal(t, 0.0, LoadFactor(nil))
	assert.Equal(t, 0.0, PeakDemand(nil))
}

func TestCost(t *testing.T) {
	rows := hourlyRows()
	tariff := testTariff()
	// 0-7点: 8小时*50*0.4; 8-17点: 10小时*150*1.2; 18-23点: 6小时*50*0.8
	want := 8*50*0.4 + 10*150*1.2 + 6*50*0.8
	assert.InDelta(t, want, Cost(rows, tariff), 1e-9)
}

func TestComputeBundle(t *testing.T) {
	rows := hourlyRows()
	tariff := testTariff()
	emission := &EmissionTable{DefaultFactor: 0.6}

	b := Compute(rows, tariff, emission, "east")
	total := 14*50.0 + 10*150.0
	assert.InDelta(t, total, b.TotalConsumption, 1e-9)
	assert.InDelta(t, 240, b.TotalProduction, 1e-9)
	if assert.NotNil(t, b.SpecificConsumption) {
		assert.InDelta(t, total/240, *b.SpecificConsumption, 1e-9)
	}
	assert.InDelta(t, PeakDemand(rows), b.PeakDemand, 1e-9)
	assert.InDelta(t, LoadFactor(rows), b.LoadFactor, 1e-9)
	assert.InDelta(t, Cost(rows, tariff), b.Cost, 1e-9)
	assert.InDelta(t, total*0.6, b.Emissions, 1e-9)

	// 空输入得到零值束
	empty := Compute(nil, tariff, emission, "east")
	assert.Equal(t, 0.0, empty.TotalConsumption)
	assert.Nil(t, empty.SpecificConsumption)
}
