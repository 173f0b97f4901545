package server

import (
	"context"
	"time"

	"github.com/enersight/energy-analytics/internal/anomaly"
	"github.com/enersight/energy-analytics/internal/baseline"
	"github.com/enersight/energy-analytics/pkg/core"
	pkgserver "github.com/enersight/energy-analytics/pkg/server"
	"go.uber.org/zap"
)

// 自动扫描的回看窗口
const sweepLookbackDays = 30

func (s *serverImpl) Detect(req *pkgserver.DetectRequest) ([]*pkgserver.Finding, error) {
	if !req.WindowStart.Before(req.WindowEnd) {
		return nil, pkgserver.NewValidationError("检测窗口颠倒，start=%v end=%v",
			req.WindowStart, req.WindowEnd)
	}
	contamination := req.Contamination
	if contamination == 0 {
		contamination = s.config.Contamination
	}

	group, err := s.dao.QueryGroup(req.GroupID)
	if err != nil {
		return nil, err
	}
	modelDo, err := s.dao.QueryActiveModel(req.GroupID)
	if err != nil {
		return nil, err
	}
	if modelDo == nil {
		return nil, pkgserver.NewNoActiveModelError(req.GroupID)
	}
	model, err := modelFromDO(modelDo)
	if err != nil {
		return nil, err
	}

	points, err := s.buildDetectPoints(group, model, req.WindowStart, req.WindowEnd)
	if err != nil {
		return nil, err
	}

	findings, err := anomaly.Detect(points, contamination, nil)
	if err != nil {
		return nil, err
	}
	if err := s.dao.UpsertFindings(findings); err != nil {
		return nil, err
	}
	s.logger.Info("anomaly detection finished",
		zap.Uint("group", group.ID), zap.Int("points", len(points)), zap.Int("findings", len(findings)))
	return findings, nil
}

// buildDetectPoints 为组内每台设备的每个报告日构造检测点。
// 组模型预测的是组日总量，按设备在窗口内的平均能耗份额摊到设备，
// 特征向量为[实际值, 实际值-预期值]。
func (s *serverImpl) buildDetectPoints(group *core.Group, model *baseline.Model, start, end time.Time) ([]*anomaly.Point, error) {
	rows, err := s.dao.QueryRollups(core.TierDay, group.EquipmentIDs, start, end)
	if err != nil {
		return nil, err
	}
	days, err := s.loadDayRows(group, start, end)
	if err != nil {
		return nil, err
	}

	// 组日预期
	expectedByDay := map[int64]float64{}
	for _, day := range days {
		vector := map[string]float64{}
		complete := true
		for _, name := range model.Features {
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
		expected, _, err := model.Predict(vector)
		if err != nil {
			return nil, err
		}
		expectedByDay[day.BucketStart.Unix()] = expected
	}

	// 设备能耗份额
	totals := map[uint]float64{}
	var groupTotal float64
	for _, r := range rows {
		totals[r.EquipmentID] += r.Consumption
		groupTotal += r.Consumption
	}

	points := make([]*anomaly.Point, 0, len(rows))
	for _, r := range rows {
		expected, ok := expectedByDay[r.BucketStart.Unix()]
		if !ok {
			continue
		}
		share := 1.0 / float64(len(group.EquipmentIDs))
		if groupTotal > 0 {
			share = totals[r.EquipmentID] / groupTotal
		}
		expected *= share
		points = append(points, &anomaly.Point{
			EquipmentID: r.EquipmentID,
			Timestamp:   r.BucketStart,
			Actual:      r.Consumption,
			Expected:    expected,
			Vector:      []float64{r.Consumption, r.Consumption - expected},
		})
	}
	return points, nil
}

func (s *serverImpl) QueryFindings(q *pkgserver.FindingQuery) ([]*pkgserver.Finding, error) {
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
	return s.dao.QueryFindings(ids, q.Start, q.End, q.Severity)
}

func (s *serverImpl) ResolveFinding(equipmentID uint, timestamp time.Time, metric string) error {
	if metric == "" {
		return pkgserver.NewValidationError("指标名不能为空")
	}
	return s.dao.ResolveFinding(equipmentID, timestamp, metric)
}

// sweeper 周期性对所有有活跃模型的组做一遍检测。
// 重跑只会更新既有记录的数值，处理状态不受影响。
func (s *serverImpl) sweeper(ctx context.Context) {
	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepAll()
		}
	}
}

func (s *serverImpl) sweepAll() {
	groups, err := s.dao.AllGroups()
	if err != nil {
		s.logger.Error("listing groups failed", zap.Error(err))
		return
	}

	end := time.Now().UTC().Truncate(24 * time.Hour)
	start := end.AddDate(0, 0, -sweepLookbackDays)
	for _, g := range groups {
		_, err := s.Detect(&pkgserver.DetectRequest{
			GroupID:     g.ID,
			WindowStart: start,
			WindowEnd:   end,
		})
		if err != nil {
			if pkgserver.KindOf(err) == pkgserver.ErrNoActiveModel {
				continue
			}
			s.logger.Error("sweep failed", zap.Uint("group", g.ID), zap.Error(err))
		}
	}
}
