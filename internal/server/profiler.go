package server

import (
	"context"
	"time"

	"github.com/enersight/energy-analytics/internal/profile"
	"github.com/enersight/energy-analytics/pkg/core"
	pkgserver "github.com/enersight/energy-analytics/pkg/server"
	"go.uber.org/zap"
)

// profiler 每天在配置的小时对全部设备的日负荷形态重新聚类
func (s *serverImpl) profiler(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(untilHour(time.Now(), s.config.ProfileHour)):
			s.reprofile()
		}
	}
}

func (s *serverImpl) reprofile() {
	ids, err := s.dao.AllEquipmentIDs()
	if err != nil {
		s.logger.Error("listing equipment failed", zap.Error(err))
		return
	}
	if len(ids) == 0 {
		return
	}

	end := time.Now().UTC().Truncate(24 * time.Hour)
	start := end.AddDate(0, 0, -s.config.ProfileDays)
	hourly, err := s.dao.QueryRollups(core.TierHour, ids, start, end)
	if err != nil {
		s.logger.Error("loading hourly rollups failed", zap.Error(err))
		return
	}

	shapes := profile.BuildShapes(hourly)
	if uint(len(shapes)) < s.config.NumClass {
		s.logger.Warn("not enough shapes to cluster",
			zap.Int("shapes", len(shapes)), zap.Uint("numClass", s.config.NumClass))
		return
	}

	algorithm := profile.GetAlgorithm(profile.KMeans)
	centers, class := algorithm.Run(profile.ShapesToFloatArray(shapes), int(s.config.NumClass), nil)

	if err := s.dao.SaveProfileClasses(centers); err != nil {
		s.logger.Error("saving profile classes failed", zap.Error(err))
		return
	}
	for i, shape := range shapes {
		// 类别ID从1开始
		err := s.dao.SaveEquipmentProfile(shape.EquipmentID, uint(class[i]+1), shape.RateMax)
		if err != nil {
			s.logger.Error("saving equipment profile failed",
				zap.Uint("equipment", shape.EquipmentID), zap.Error(err))
		}
	}
	s.logger.Info("load profiles reclustered",
		zap.Int("equipment", len(shapes)), zap.Int("classes", len(centers)))
}

func (s *serverImpl) EquipmentProfile(equipmentID uint) (*pkgserver.ProfileAssignment, error) {
	do, err := s.dao.QueryEquipmentProfile(equipmentID)
	if err != nil {
		return nil, err
	}
	sections, err := s.dao.QueryProfileClass(do.ClassID)
	if err != nil {
		return nil, err
	}
	return &pkgserver.ProfileAssignment{
		EquipmentID: equipmentID,
		ClassID:     do.ClassID,
		Sections:    sections,
	}, nil
}
