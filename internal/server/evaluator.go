package server

import (
	"time"

	"github.com/enersight/energy-analytics/internal/aggregation"
	"github.com/enersight/energy-analytics/internal/deviation"
	"github.com/enersight/energy-analytics/pkg/core"
	pkgserver "github.com/enersight/energy-analytics/pkg/server"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func (s *serverImpl) thresholds() deviation.Thresholds {
	return deviation.Thresholds{
		CompliantPct: s.config.CompliantPct,
		WarningPct:   s.config.WarningPct,
	}
}

func (s *serverImpl) Evaluate(groupID uint, periodStart, periodEnd time.Time) (*pkgserver.PerformanceRecord, error) {
	if !periodStart.Before(periodEnd) {
		return nil, pkgserver.NewValidationError("报告期颠倒，start=%v end=%v", periodStart, periodEnd)
	}

	// 已关闭的报告期生成后不再变化，直接返回存档
	existing, err := s.dao.QueryPerformanceRecordDO(groupID, periodStart)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Closed {
		return performanceRecordFromDO(existing), nil
	}

	group, err := s.dao.QueryGroup(groupID)
	if err != nil {
		return nil, err
	}
	modelDo, err := s.dao.QueryActiveModel(groupID)
	if err != nil {
		return nil, err
	}
	if modelDo == nil {
		return nil, pkgserver.NewNoActiveModelError(groupID)
	}
	model, err := modelFromDO(modelDo)
	if err != nil {
		return nil, err
	}

	days, err := s.loadDayRows(group, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}
	result, err := deviation.Compare(days, model, s.thresholds())
	if err != nil {
		return nil, err
	}

	// 偏差登记调整事件后累计趋势从生效时刻起归零
	var since *time.Time
	adj, err := s.dao.LatestAdjustment(groupID)
	if err != nil {
		return nil, err
	}
	if adj != nil {
		t := time.Unix(adj.EffectiveAt, 0).UTC()
		since = &t
	}
	history, err := s.dao.QueryPerformanceRecords(groupID, time.Unix(0, 0).UTC(), periodStart)
	if err != nil {
		return nil, err
	}

	dayTier, _ := aggregation.Find(s.tiers, core.TierDay)
	rec := &pkgserver.PerformanceRecord{
		GroupID:      groupID,
		PeriodStart:  periodStart.UTC(),
		PeriodEnd:    periodEnd.UTC(),
		Actual:       result.Actual,
		Expected:     result.Expected,
		Deviation:    result.Deviation,
		DeviationPct: result.DeviationPct,
		BandLow:      result.BandLow,
		BandHigh:     result.BandHigh,
		Significant:  result.Significant,
		Cumulative:   deviation.Cumulative(history, since, result.Deviation),
		Grade:        result.Grade,
		Closed:       !periodEnd.After(dayTier.FinalBefore(time.Now())),
	}
	if err := s.dao.SavePerformanceRecord(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *serverImpl) QueryPerformance(groupID uint, start, end time.Time) ([]*pkgserver.PerformanceRecord, error) {
	if !start.Before(end) {
		return nil, pkgserver.NewValidationError("查询区间颠倒，start=%v end=%v", start, end)
	}
	if _, err := s.dao.QueryGroup(groupID); err != nil {
		return nil, err
	}
	return s.dao.QueryPerformanceRecords(groupID, start, end)
}

func (s *serverImpl) RegisterAdjustment(groupID uint, effectiveAt time.Time, reason string) (*pkgserver.Adjustment, error) {
	if reason == "" {
		return nil, pkgserver.NewValidationError("调整事件必须注明原因")
	}
	if _, err := s.dao.QueryGroup(groupID); err != nil {
		return nil, err
	}

	do := &AdjustmentDO{
		AdjustmentID: uuid.New().String(),
		GroupID:      groupID,
		EffectiveAt:  effectiveAt.UTC().Unix(),
		Reason:       reason,
	}
	if err := s.dao.SaveAdjustment(do); err != nil {
		return nil, err
	}
	s.logger.Info("adjustment registered",
		zap.Uint("group", groupID), zap.Time("effectiveAt", effectiveAt), zap.String("reason", reason))

	return &pkgserver.Adjustment{
		ID:          do.AdjustmentID,
		GroupID:     groupID,
		EffectiveAt: effectiveAt.UTC(),
		Reason:      reason,
	}, nil
}
