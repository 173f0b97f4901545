package kpi

import (
	"time"

	"github.com/enersight/energy-analytics/pkg/core"
)

// TariffRate 一条分时电价规则。星期与小时区间均为闭区间，
// Weekday按time.Weekday取值（0为周日）。
type TariffRate struct {
	DayFrom  int
	DayTo    int
	HourFrom int
	HourTo   int
	Rate     float64
}

// TariffTable 时段价目表。没有规则匹配时回落到默认费率。
type TariffTable struct {
	Rates       []TariffRate
	DefaultRate float64
}

// RateAt 返回某时刻适用的费率，按规则声明顺序取第一条匹配
func (t *TariffTable) RateAt(ts time.Time) float64 {
	u := ts.UTC()
	day := int(u.Weekday())
	hour := u.Hour()
	for _, r := range t.Rates {
		if day >= r.DayFrom && day <= r.DayTo && hour >= r.HourFrom && hour <= r.HourTo {
			return r.Rate
		}
	}
	return t.DefaultRate
}

// EmissionFactor 区域与时间范围内适用的排放因子
type EmissionFactor struct {
	Region string
	Factor float64
	From   time.Time
	To     time.Time
}

// EmissionTable 排放因子表，区域与时刻都不匹配时回落到默认因子
type EmissionTable struct {
	Factors       []EmissionFactor
	DefaultFactor float64
}

func (e *EmissionTable) FactorAt(region string, ts time.Time) float64 {
	for _, f := range e.Factors {
		if f.Region != region {
			continue
		}
		if ts.Before(f.From) || !ts.Before(f.To) {
			continue
		}
		return f.Factor
	}
	return e.DefaultFactor
}

// SpecificConsumption 单耗：期内总能耗/总产量。产量为0时无定义，返回nil。
func SpecificConsumption(consumption, production float64) *float64 {
	if production == 0 {
		return nil
	}
	v := consumption / production
	return &v
}

// PeakDemand 峰值需量：期内最细功率层级的峰值最大值
func PeakDemand(rows []*core.Rollup) float64 {
	peak := 0.0
	for _, row := range rows {
		if row.RateMax > peak {
			peak = row.RateMax
		}
	}
	return peak
}

// LoadFactor 负荷率：期内平均功率/峰值功率，峰值为0时为0
func LoadFactor(rows []*core.Rollup) float64 {
	peak := PeakDemand(rows)
	if peak == 0 {
		return 0
	}
	var weight float64
	var count uint
	for _, row := range rows {
		weight += row.RateMean * float64(row.Count)
		count += row.Count
	}
	if count == 0 {
		return 0
	}
	return weight / float64(count) / peak
}

// Cost 能耗成本：逐子期(小时桶)累加 能耗×该时段适用费率
func Cost(hourly []*core.Rollup, tariff *TariffTable) float64 {
	total := 0.0
	for _, row := range hourly {
		total += row.Consumption * tariff.RateAt(row.BucketStart)
	}
	return total
}

// Emissions 排放量：逐子期累加 能耗×该时刻区域适用排放因子
func Emissions(hourly []*core.Rollup, emission *EmissionTable, region string) float64 {
	total := 0.0
	for _, row := range hourly {
		total += row.Consumption * emission.FactorAt(region, row.BucketStart)
	}
	return total
}

// Bundle 全部指标的一次性计算结果
type Bundle struct {
	TotalConsumption    float64
	TotalProduction     float64
	SpecificConsumption *float64
	PeakDemand          float64
	LoadFactor          float64
	Cost                float64
	Emissions           float64
}

// Compute 对同一批小时聚合行单次扫描得出全部指标，避免五个指标各扫一遍
func Compute(hourly []*core.Rollup, tariff *TariffTable, emission *EmissionTable, region string) *Bundle {
	b := &Bundle{}
	var rateWeight float64
	var count uint
	for _, row := range hourly {
		b.TotalConsumption += row.Consumption
		b.TotalProduction += row.ProductionSum
		if row.RateMax > b.PeakDemand {
			b.PeakDemand = row.RateMax
		}
		rateWeight += row.RateMean * float64(row.Count)
		count += row.Count
		b.Cost += row.Consumption * tariff.RateAt(row.BucketStart)
		b.Emissions += row.Consumption * emission.FactorAt(region, row.BucketStart)
	}
	if b.PeakDemand > 0 && count > 0 {
		b.LoadFactor = rateWeight / float64(count) / b.PeakDemand
	}
	b.SpecificConsumption = SpecificConsumption(b.TotalConsumption, b.TotalProduction)
	return b
}
