package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/enersight/energy-analytics/internal/baseline"
	"github.com/enersight/energy-analytics/pkg/core"
	pkgserver "github.com/enersight/energy-analytics/pkg/server"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

func (s *serverImpl) Train(req *pkgserver.TrainRequest) (*pkgserver.ModelSummary, error) {
	if !req.WindowStart.Before(req.WindowEnd) {
		return nil, pkgserver.NewValidationError("训练窗口颠倒，start=%v end=%v",
			req.WindowStart, req.WindowEnd)
	}

	group, err := s.dao.QueryGroup(req.GroupID)
	if err != nil {
		return nil, err
	}

	catalog := baseline.DefaultCatalog()
	names := req.Features
	if len(names) == 0 {
		names = catalog.FeatureNames(group.Source.Name)
	}
	feats, err := catalog.Resolve(group.Source.Name, names)
	if err != nil {
		return nil, err
	}

	minSamples := req.MinSamples
	if minSamples <= 0 {
		minSamples = s.config.MinSamples
	}
	minR2 := req.MinR2
	if minR2 <= 0 {
		minR2 = s.config.MinR2
	}

	dayRows, err := s.loadDayRows(group, req.WindowStart, req.WindowEnd)
	if err != nil {
		return nil, err
	}
	dayRows = dropNonRunningDays(dayRows)

	result, err := baseline.Train(dayRows, feats, minSamples, minR2,
		baseline.FitOptions{NoIntercept: req.NoIntercept})
	if err != nil {
		return nil, err
	}

	do, err := modelToDO(group, result, req.WindowStart, req.WindowEnd)
	if err != nil {
		return nil, err
	}
	if err := s.dao.SaveBaselineModel(do, result.Active); err != nil {
		return nil, err
	}

	summary, err := modelSummaryFromDO(do)
	if err != nil {
		return nil, err
	}
	s.logger.Info("baseline trained",
		zap.Uint("group", group.ID), zap.Uint("version", do.Version),
		zap.Bool("active", do.Active), zap.Float64("r2", do.R2),
		zap.String("run", do.TrainingRunID))

	// 质量未达标时模型按非活跃保存，摘要与错误一起返回
	if !result.Active {
		return summary, pkgserver.NewQualityGateError(result.Model.R2, minR2)
	}
	return summary, nil
}

// dropNonRunningDays 剔除有维护、故障或离线区间的报告日。
// 空闲算作运行，低负荷日是基线应该学到的工况。
func dropNonRunningDays(rows []*baseline.DayRow) []*baseline.DayRow {
	ret := make([]*baseline.DayRow, 0, len(rows))
	for _, r := range rows {
		if r.HoursRunning >= 24 {
			ret = append(ret, r)
		}
	}
	return ret
}

func (s *serverImpl) ActiveModel(groupID uint) (*pkgserver.ModelSummary, error) {
	do, err := s.dao.QueryActiveModel(groupID)
	if err != nil {
		return nil, err
	}
	if do == nil {
		return nil, pkgserver.NewNoActiveModelError(groupID)
	}
	return modelSummaryFromDO(do)
}

func (s *serverImpl) Predict(groupID uint, features map[string]float64) (*pkgserver.Prediction, error) {
	do, err := s.dao.QueryActiveModel(groupID)
	if err != nil {
		return nil, err
	}
	if do == nil {
		return nil, pkgserver.NewNoActiveModelError(groupID)
	}

	model, err := modelFromDO(do)
	if err != nil {
		return nil, err
	}
	value, outOfRange, err := model.Predict(features)
	if err != nil {
		return nil, err
	}
	return &pkgserver.Prediction{
		GroupID:    groupID,
		Version:    do.Version,
		Value:      value,
		OutOfRange: outOfRange,
	}, nil
}

// retrainer 每天在配置的小时用活跃模型的特征与窗口长度自动重训，
// 窗口右端是昨天结束
func (s *serverImpl) retrainer(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(untilHour(time.Now(), s.config.TrainHour)):
			s.retrainAll()
		}
	}
}

func (s *serverImpl) retrainAll() {
	groups, err := s.dao.AllGroups()
	if err != nil {
		s.logger.Error("listing groups failed", zap.Error(err))
		return
	}
	for _, g := range groups {
		s.retrainGroup(g.ID)
	}
}

func (s *serverImpl) retrainGroup(groupID uint) {
	do, err := s.dao.QueryActiveModel(groupID)
	if err != nil {
		s.logger.Error("loading active model failed", zap.Uint("group", groupID), zap.Error(err))
		return
	}
	if do == nil {
		// 还没有人工训练过，自动重训不越俎代庖
		return
	}

	var features []string
	if err := json.Unmarshal([]byte(do.Features), &features); err != nil {
		s.logger.Error("decoding model features failed", zap.Uint("group", groupID), zap.Error(err))
		return
	}

	windowLen := time.Duration(do.WindowEnd-do.WindowStart) * time.Second
	end := time.Now().UTC().Truncate(24 * time.Hour)
	req := &pkgserver.TrainRequest{
		GroupID:     groupID,
		WindowStart: end.Add(-windowLen),
		WindowEnd:   end,
		Features:    features,
	}
	if _, err := s.Train(req); err != nil {
		if pkgserver.KindOf(err) == pkgserver.ErrQualityGate {
			s.logger.Warn("retrain quality below gate, previous model stays active",
				zap.Uint("group", groupID), zap.Error(err))
			return
		}
		s.logger.Error("retrain failed", zap.Uint("group", groupID), zap.Error(err))
	}
}

// untilHour 距下一个UTC整点hour的时长
func untilHour(now time.Time, hour int) time.Duration {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}

func modelToDO(group *core.Group, result *baseline.TrainResult, windowStart, windowEnd time.Time) (*BaselineModelDO, error) {
	features, err := json.Marshal(result.Model.Features)
	if err != nil {
		return nil, errors.Wrap(err, "序列化特征列表出错")
	}
	coefficients, err := json.Marshal(result.Model.Coefficients)
	if err != nil {
		return nil, errors.Wrap(err, "序列化系数出错")
	}

	return &BaselineModelDO{
		GroupID:        group.ID,
		SourceID:       group.Source.ID,
		Features:       string(features),
		Coefficients:   string(coefficients),
		Intercept:      result.Model.Intercept,
		WindowStart:    windowStart.UTC().Unix(),
		WindowEnd:      windowEnd.UTC().Unix(),
		SampleCount:    result.Model.SampleCount,
		R2:             result.Model.R2,
		RMSE:           result.Model.RMSE,
		MAE:            result.Model.MAE,
		InactiveReason: result.InactiveReason,
		TrainingRunID:  uuid.New().String(),
	}, nil
}

func modelFromDO(do *BaselineModelDO) (*baseline.Model, error) {
	m := &baseline.Model{
		Intercept:   do.Intercept,
		R2:          do.R2,
		RMSE:        do.RMSE,
		MAE:         do.MAE,
		SampleCount: do.SampleCount,
	}
	if err := json.Unmarshal([]byte(do.Features), &m.Features); err != nil {
		return nil, errors.Wrap(err, "解析特征列表出错")
	}
	if err := json.Unmarshal([]byte(do.Coefficients), &m.Coefficients); err != nil {
		return nil, errors.Wrap(err, "解析系数出错")
	}
	return m, nil
}

func modelSummaryFromDO(do *BaselineModelDO) (*pkgserver.ModelSummary, error) {
	m, err := modelFromDO(do)
	if err != nil {
		return nil, err
	}
	return &pkgserver.ModelSummary{
		GroupID:        do.GroupID,
		Version:        do.Version,
		Active:         do.Active,
		Features:       m.Features,
		Coefficients:   m.Coefficients,
		Intercept:      do.Intercept,
		R2:             do.R2,
		RMSE:           do.RMSE,
		MAE:            do.MAE,
		SampleCount:    do.SampleCount,
		WindowStart:    time.Unix(do.WindowStart, 0).UTC(),
		WindowEnd:      time.Unix(do.WindowEnd, 0).UTC(),
		InactiveReason: do.InactiveReason,
		TrainingRunID:  do.TrainingRunID,
	}, nil
}
