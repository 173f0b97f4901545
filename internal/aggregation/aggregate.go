package aggregation

import (
	"sort"
	"time"

	"github.com/enersight/energy-analytics/pkg/core"
)

// AggregateRaw 把一台设备在[start, end)内的原始读数聚合为本层级的桶。
// 同样的输入产出逐字节相同的输出：桶按时间升序排列，空桶不产出行。
// 重复投递的读数应在入库时按(设备, 时间戳)去重，这里假设输入已无重复。
func AggregateRaw(t TierSpec, equipmentID uint, readings []core.RawReading, start, end time.Time) []*core.Rollup {
	type acc struct {
		count       uint
		consumption float64
		rateSum     float64
		rateMin     float64
		rateMax     float64
		tempSum     float64
		tempCount   uint
		presSum     float64
		presCount   uint
		throughput  float64
		production  float64
	}

	buckets := map[time.Time]*acc{}
	for i := range readings {
		r := &readings[i]
		ts := r.Timestamp.UTC()
		if ts.Before(start) || !ts.Before(end) {
			continue
		}
		bs := t.BucketStart(ts)
		a, ok := buckets[bs]
		if !ok {
			a = &acc{rateMin: r.Rate, rateMax: r.Rate}
			buckets[bs] = a
		}
		a.count++
		a.consumption += r.Consumption
		a.rateSum += r.Rate
		if r.Rate < a.rateMin {
			a.rateMin = r.Rate
		}
		if r.Rate > a.rateMax {
			a.rateMax = r.Rate
		}
		if r.Temperature != nil {
			a.tempSum += *r.Temperature
			a.tempCount++
		}
		if r.Pressure != nil {
			a.presSum += *r.Pressure
			a.presCount++
		}
		a.throughput += r.Throughput
		a.production += r.Production
	}

	result := make([]*core.Rollup, 0, len(buckets))
	for bs, a := range buckets {
		row := &core.Rollup{
			Tier:          t.Name,
			EquipmentID:   equipmentID,
			BucketStart:   bs,
			Count:         a.count,
			Consumption:   a.consumption,
			RateMean:      a.rateSum / float64(a.count),
			RateMin:       a.rateMin,
			RateMax:       a.rateMax,
			ThroughputSum: a.throughput,
			ProductionSum: a.production,
		}
		if a.tempCount > 0 {
			v := a.tempSum / float64(a.tempCount)
			row.TemperatureMean = &v
		}
		if a.presCount > 0 {
			v := a.presSum / float64(a.presCount)
			row.PressureMean = &v
		}
		result = append(result, row)
	}

	sortRollups(result)
	return result
}

// Coarsen 把来源层级在[start, end)内的行粗化为本层级的桶。
// 合并规则：计数求和、能耗求和、最小取最小、最大取最大、均值按计数加权。
// 辅助通道均值同样按计数加权，只统计均值非nil的来源行。
func Coarsen(t TierSpec, equipmentID uint, fine []*core.Rollup, start, end time.Time) []*core.Rollup {
	type acc struct {
		count       uint
		consumption float64
		rateWeight  float64
		rateMin     float64
		rateMax     float64
		tempWeight  float64
		tempCount   uint
		presWeight  float64
		presCount   uint
		throughput  float64
		production  float64
	}

	buckets := map[time.Time]*acc{}
	for _, row := range fine {
		bs := row.BucketStart.UTC()
		if bs.Before(start) || !bs.Before(end) {
			continue
		}
		cb := t.BucketStart(bs)
		a, ok := buckets[cb]
		if !ok {
			a = &acc{rateMin: row.RateMin, rateMax: row.RateMax}
			buckets[cb] = a
		}
		a.count += row.Count
		a.consumption += row.Consumption
		a.rateWeight += row.RateMean * float64(row.Count)
		if row.RateMin < a.rateMin {
			a.rateMin = row.RateMin
		}
		if row.RateMax > a.rateMax {
			a.rateMax = row.RateMax
		}
		if row.TemperatureMean != nil {
			a.tempWeight += *row.TemperatureMean * float64(row.Count)
			a.tempCount += row.Count
		}
		if row.PressureMean != nil {
			a.presWeight += *row.PressureMean * float64(row.Count)
			a.presCount += row.Count
		}
		a.throughput += row.ThroughputSum
		a.production += row.ProductionSum
	}

	result := make([]*core.Rollup, 0, len(buckets))
	for bs, a := range buckets {
		if a.count == 0 {
			continue
		}
		row := &core.Rollup{
			Tier:          t.Name,
			EquipmentID:   equipmentID,
			BucketStart:   bs,
			Count:         a.count,
			Consumption:   a.consumption,
			RateMean:      a.rateWeight / float64(a.count),
			RateMin:       a.rateMin,
			RateMax:       a.rateMax,
			ThroughputSum: a.throughput,
			ProductionSum: a.production,
		}
		if a.tempCount > 0 {
			v := a.tempWeight / float64(a.tempCount)
			row.TemperatureMean = &v
		}
		if a.presCount > 0 {
			v := a.presWeight / float64(a.presCount)
			row.PressureMean = &v
		}
		result = append(result, row)
	}

	sortRollups(result)
	return result
}

func sortRollups(rows []*core.Rollup) {
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].BucketStart.Before(rows[j].BucketStart)
	})
}
