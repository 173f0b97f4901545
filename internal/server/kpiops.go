package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/enersight/energy-analytics/internal/aggregation"
	"github.com/enersight/energy-analytics/internal/kpi"
	"github.com/enersight/energy-analytics/pkg/core"
	pkgserver "github.com/enersight/energy-analytics/pkg/server"
	"go.uber.org/zap"
)

// 已关闭报告期的KPI不再变化，缓存可以放久一点
const (
	kpiCacheTTL       = 5 * time.Minute
	kpiCacheClosedTTL = 24 * time.Hour
)

func kpiCacheKey(groupID uint, start, end time.Time) string {
	return fmt.Sprintf("kpi:%d:%d:%d", groupID, start.UTC().Unix(), end.UTC().Unix())
}

func (s *serverImpl) QueryKPI(groupID uint, periodStart, periodEnd time.Time) (*pkgserver.KPIBundle, error) {
	if !periodStart.Before(periodEnd) {
		return nil, pkgserver.NewValidationError("报告期颠倒，start=%v end=%v", periodStart, periodEnd)
	}

	ctx := context.Background()
	key := kpiCacheKey(groupID, periodStart, periodEnd)
	if s.kv != nil {
		if cached, err := s.kv.Get(ctx, key); err == nil {
			bundle := &pkgserver.KPIBundle{}
			if err := json.Unmarshal([]byte(cached), bundle); err == nil {
				return bundle, nil
			}
		} else if err != ErrCacheMiss {
			s.logger.Warn("kpi cache read failed", zap.Error(err))
		}
	}

	group, err := s.dao.QueryGroup(groupID)
	if err != nil {
		return nil, err
	}

	hourly, err := s.dao.QueryRollups(core.TierHour, group.EquipmentIDs, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}

	tariff, err := s.tariffTable(group)
	if err != nil {
		return nil, err
	}
	emission, err := s.emissionTable(group)
	if err != nil {
		return nil, err
	}

	b := kpi.Compute(hourly, tariff, emission, s.config.Region)

	hourTier, _ := aggregation.Find(s.tiers, core.TierHour)
	settled := hourTier.BucketStart(time.Now().Add(-hourTier.Settle))
	bundle := &pkgserver.KPIBundle{
		GroupID:             groupID,
		PeriodStart:         periodStart.UTC(),
		PeriodEnd:           periodEnd.UTC(),
		TotalConsumption:    b.TotalConsumption,
		TotalProduction:     b.TotalProduction,
		SpecificConsumption: b.SpecificConsumption,
		PeakDemand:          b.PeakDemand,
		LoadFactor:          b.LoadFactor,
		Cost:                b.Cost,
		Emissions:           b.Emissions,
		Stale:               periodEnd.After(settled),
	}

	if s.kv != nil {
		ttl := kpiCacheClosedTTL
		if bundle.Stale {
			ttl = kpiCacheTTL
		}
		if marshal, err := json.Marshal(bundle); err == nil {
			if err := s.kv.Set(ctx, key, string(marshal), ttl); err != nil {
				s.logger.Warn("kpi cache write failed", zap.Error(err))
			}
		}
	}
	return bundle, nil
}

// tariffTable 组所属能源种类的价目表。表为空时回落到配置的默认单价，
// 配置也没有时用能源种类自身的单位成本。
func (s *serverImpl) tariffTable(group *core.Group) (*kpi.TariffTable, error) {
	dos, err := s.dao.QueryTariffRates(group.Source.ID)
	if err != nil {
		return nil, err
	}

	table := &kpi.TariffTable{DefaultRate: s.config.DefaultTariff}
	if table.DefaultRate == 0 {
		table.DefaultRate = group.Source.UnitCost
	}
	for _, do := range dos {
		table.Rates = append(table.Rates, kpi.TariffRate{
			DayFrom:  do.DayFrom,
			DayTo:    do.DayTo,
			HourFrom: do.HourFrom,
			HourTo:   do.HourTo,
			Rate:     do.Rate,
		})
	}
	return table, nil
}

func (s *serverImpl) emissionTable(group *core.Group) (*kpi.EmissionTable, error) {
	dos, err := s.dao.QueryEmissionFactors(group.Source.ID)
	if err != nil {
		return nil, err
	}

	table := &kpi.EmissionTable{DefaultFactor: s.config.DefaultEmissionFactor}
	if table.DefaultFactor == 0 {
		table.DefaultFactor = group.Source.EmissionFactor
	}
	for _, do := range dos {
		table.Factors = append(table.Factors, kpi.EmissionFactor{
			Region: do.Region,
			Factor: do.Factor,
			From:   time.Unix(do.ValidFrom, 0).UTC(),
			To:     time.Unix(do.ValidTo, 0).UTC(),
		})
	}
	return table, nil
}
