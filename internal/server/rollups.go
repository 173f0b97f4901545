package server

import (
	"sort"
	"time"

	"github.com/enersight/energy-analytics/internal/aggregation"
	"github.com/enersight/energy-analytics/internal/baseline"
	"github.com/enersight/energy-analytics/pkg/core"
	pkgserver "github.com/enersight/energy-analytics/pkg/server"
)

func (s *serverImpl) QueryRollups(q *pkgserver.RollupQuery) (*pkgserver.RollupResult, error) {
	tier, ok := aggregation.Find(s.tiers, q.Tier)
	if !ok {
		return nil, pkgserver.NewValidationError("未知的层级名%q", q.Tier)
	}
	if !q.Start.Before(q.End) {
		return nil, pkgserver.NewValidationError("查询区间颠倒，start=%v end=%v", q.Start, q.End)
	}
	if (q.EquipmentID == 0) == (q.GroupID == 0) {
		return nil, pkgserver.NewValidationError("EquipmentID与GroupID必须恰好指定一个")
	}

	ids := []uint{q.EquipmentID}
	if q.GroupID != 0 {
		group, err := s.dao.QueryGroup(q.GroupID)
		if err != nil {
			return nil, err
		}
		ids = group.EquipmentIDs
	}

	rows, err := s.dao.QueryRollups(tier.Name, ids, q.Start, q.End)
	if err != nil {
		return nil, err
	}

	result := &pkgserver.RollupResult{Rows: rows}
	// 区间尾部落在沉降窗口内时返回部分结果并打上stale标记，这不是错误
	settled := tier.BucketStart(time.Now().Add(-tier.Settle))
	if q.End.After(settled) {
		result.Stale = true
		result.StaleAfter = &settled
	}
	return result, nil
}

// loadDayRows 把一个组在[start, end)内的天层级聚合行按报告日跨设备汇总成特征行。
// 运行小时数按外部状态源的非运行区间扣除，是组内设备的平均值。
func (s *serverImpl) loadDayRows(group *core.Group, start, end time.Time) ([]*baseline.DayRow, error) {
	dayTier, _ := aggregation.Find(s.tiers, core.TierDay)
	rows, err := s.dao.QueryRollups(core.TierDay, group.EquipmentIDs, start, end)
	if err != nil {
		return nil, err
	}

	intervals, err := s.dao.QueryNonRunningIntervals(group.EquipmentIDs, start, end)
	if err != nil {
		return nil, err
	}

	byDay := map[int64]*dayAccum{}
	for _, r := range rows {
		key := r.BucketStart.Unix()
		acc, ok := byDay[key]
		if !ok {
			acc = &dayAccum{bucketStart: r.BucketStart}
			byDay[key] = acc
		}
		acc.add(r)
	}

	ret := make([]*baseline.DayRow, 0, len(byDay))
	for _, acc := range byDay {
		row := acc.row()
		row.HoursRunning = hoursRunning(acc.bucketStart, dayTier.Bucket, len(group.EquipmentIDs), intervals)
		ret = append(ret, row)
	}
	sortDayRows(ret)
	return ret, nil
}

type dayAccum struct {
	bucketStart time.Time
	count       uint
	consumption float64
	rateWeight  float64
	rateMax     float64
	production  float64
	throughput  float64
	tempWeight  float64
	tempCount   uint
	presWeight  float64
	presCount   uint
}

func (a *dayAccum) add(r *core.Rollup) {
	a.count += r.Count
	a.consumption += r.Consumption
	a.rateWeight += r.RateMean * float64(r.Count)
	if r.RateMax > a.rateMax {
		a.rateMax = r.RateMax
	}
	a.production += r.ProductionSum
	a.throughput += r.ThroughputSum
	if r.TemperatureMean != nil {
		a.tempWeight += *r.TemperatureMean * float64(r.Count)
		a.tempCount += r.Count
	}
	if r.PressureMean != nil {
		a.presWeight += *r.PressureMean * float64(r.Count)
		a.presCount += r.Count
	}
}

func (a *dayAccum) row() *baseline.DayRow {
	row := &baseline.DayRow{
		BucketStart:   a.bucketStart,
		Consumption:   a.consumption,
		RateMax:       a.rateMax,
		ProductionSum: a.production,
		ThroughputSum: a.throughput,
	}
	if a.count > 0 {
		row.RateMean = a.rateWeight / float64(a.count)
	}
	if a.tempCount > 0 {
		v := a.tempWeight / float64(a.tempCount)
		row.TemperatureMean = &v
	}
	if a.presCount > 0 {
		v := a.presWeight / float64(a.presCount)
		row.PressureMean = &v
	}
	return row
}

// hoursRunning 当日运行小时数。从全天小时数里扣除组内设备非运行区间
// 与当日的重叠，按设备数取平均。
func hoursRunning(dayStart time.Time, bucket time.Duration, numEquipment int, intervals []StateInterval) float64 {
	dayEnd := dayStart.Add(bucket)
	total := bucket.Hours()
	if numEquipment == 0 {
		return total
	}

	var downtime float64
	for _, iv := range intervals {
		start := iv.Start
		if start.Before(dayStart) {
			start = dayStart
		}
		end := iv.End
		if end.After(dayEnd) {
			end = dayEnd
		}
		if start.Before(end) {
			downtime += end.Sub(start).Hours()
		}
	}

	h := total - downtime/float64(numEquipment)
	if h < 0 {
		return 0
	}
	return h
}

func sortDayRows(rows []*baseline.DayRow) {
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].BucketStart.Before(rows[j].BucketStart)
	})
}
