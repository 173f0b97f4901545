package server

import (
	"context"
	"time"

	"github.com/enersight/energy-analytics/internal/aggregation"
	"github.com/enersight/energy-analytics/pkg/core"
	"go.uber.org/zap"
)

// refresher 周期性重算一个层级的刷新窗口。每个层级一个goroutine，
// 单个设备失败只记录日志，下个周期自然重试，不影响其他设备与层级。
func (s *serverImpl) refresher(ctx context.Context, tier aggregation.TierSpec) {
	ticker := time.NewTicker(tier.Refresh)
	defer ticker.Stop()

	s.refreshTier(tier)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshTier(tier)
		case <-s.executeRefresh[tier.Name]:
			s.refreshTier(tier)
		}
	}
}

func (s *serverImpl) refreshTier(tier aggregation.TierSpec) {
	now := time.Now()
	start, end := tier.RefreshWindow(now)
	if !start.Before(end) {
		return
	}

	log := s.logger.With(zap.String("tier", string(tier.Name)),
		zap.Time("start", start), zap.Time("end", end))

	ids, err := s.dao.AllEquipmentIDs()
	if err != nil {
		log.Error("listing equipment failed", zap.Error(err))
		return
	}

	refreshed := 0
	for _, eid := range ids {
		var rows []*core.Rollup
		if tier.Source == "" {
			readings, err := s.dao.QueryRawReadings(eid, start, end)
			if err != nil {
				log.Error("loading raw readings failed", zap.Uint("equipment", eid), zap.Error(err))
				continue
			}
			rows = aggregation.AggregateRaw(tier, eid, readings, start, end)
		} else {
			src, _ := aggregation.Find(s.tiers, tier.Source)
			fine, err := s.dao.QueryRollups(src.Name, []uint{eid}, start, end)
			if err != nil {
				log.Error("loading source rollups failed", zap.Uint("equipment", eid), zap.Error(err))
				continue
			}
			rows = aggregation.Coarsen(tier, eid, fine, start, end)
		}

		if err := s.dao.SaveRollups(tier.Name, eid, start, end, rows); err != nil {
			log.Error("saving rollups failed", zap.Uint("equipment", eid), zap.Error(err))
			continue
		}
		refreshed++
	}

	if err := s.dao.MarkRollupsFinal(tier.Name, tier.FinalBefore(now)); err != nil {
		log.Error("marking rollups final failed", zap.Error(err))
	}
	log.Debug("tier refreshed", zap.Int("equipment", refreshed))
}

// RefreshTier 异步触发一次层级刷新。未知层级名直接忽略。
func (s *serverImpl) RefreshTier(tier core.TierName) {
	ch, ok := s.executeRefresh[tier]
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
		// 正在刷新，无需排队
	}
}

// retentionPurger 每天删除保留期之外的原始读数。
// 只有当全部层级在保留线之前都已定稿时才删除，避免删掉还会被重算的输入。
func (s *serverImpl) retentionPurger(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.purgeRawReadings()
		}
	}
}

func (s *serverImpl) purgeRawReadings() {
	horizon := time.Now().UTC().AddDate(0, 0, -s.config.RetentionDays)

	for _, tier := range s.tiers {
		earliest, err := s.dao.EarliestNonFinalBucket(tier.Name)
		if err != nil {
			s.logger.Error("checking final watermark failed",
				zap.String("tier", string(tier.Name)), zap.Error(err))
			return
		}
		if earliest != nil && earliest.Before(horizon) {
			s.logger.Warn("retention purge skipped, tier not final past horizon",
				zap.String("tier", string(tier.Name)), zap.Time("earliest", *earliest))
			return
		}
	}

	if err := s.dao.RemoveRawReadingsBefore(horizon); err != nil {
		s.logger.Error("purging raw readings failed", zap.Error(err))
		return
	}
	s.logger.Info("raw readings purged", zap.Time("before", horizon))
}
