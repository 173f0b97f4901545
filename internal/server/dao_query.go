package server

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/enersight/energy-analytics/pkg/core"
	pkgserver "github.com/enersight/energy-analytics/pkg/server"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

func (d *daoImpl) QueryGroup(groupID uint) (*core.Group, error) {
	groupDo := &GroupDO{}
	err := d.db.First(groupDo, groupID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, pkgserver.NewNotFoundError("组%d不存在", groupID)
	} else if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("查询组%d出错", groupID))
	}
	return d.buildGroup(groupDo)
}

func (d *daoImpl) AllGroups() ([]*core.Group, error) {
	var dos []*GroupDO
	if err := d.db.Find(&dos).Error; err != nil {
		return nil, errors.Wrap(err, "查询全部组出错")
	}
	ret := make([]*core.Group, 0, len(dos))
	for _, do := range dos {
		g, err := d.buildGroup(do)
		if err != nil {
			return nil, err
		}
		ret = append(ret, g)
	}
	return ret, nil
}

func (d *daoImpl) buildGroup(do *GroupDO) (*core.Group, error) {
	sourceDo := &EnergySourceDO{}
	err := d.db.First(sourceDo, do.SourceID).Error
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("查询组%d的能源种类出错", do.ID))
	}

	var members []*GroupEquipmentDO
	err = d.db.Where("group_id = ?", do.ID).Order("equipment_id").Find(&members).Error
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("查询组%d的成员出错", do.ID))
	}
	ids := make([]uint, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.EquipmentID)
	}

	return &core.Group{
		ID:   do.ID,
		Name: do.Name,
		Source: core.EnergySource{
			ID:             sourceDo.ID,
			Name:           sourceDo.Name,
			Unit:           sourceDo.Unit,
			UnitCost:       sourceDo.UnitCost,
			EmissionFactor: sourceDo.EmissionFactor,
		},
		EquipmentIDs: ids,
	}, nil
}

func (d *daoImpl) AllEquipmentIDs() ([]uint, error) {
	var ids []uint
	err := d.db.Model(&EquipmentDO{}).Order("id").Pluck("id", &ids).Error
	if err != nil {
		return nil, errors.Wrap(err, "查询设备列表出错")
	}
	return ids, nil
}

func (d *daoImpl) QueryRawReadings(equipmentID uint, start, end time.Time) ([]core.RawReading, error) {
	var dos []*RawReadingDO
	err := d.db.
		Where("equipment_id = ? AND timestamp >= ? AND timestamp < ?",
			equipmentID, start.UTC().Unix(), end.UTC().Unix()).
		Order("timestamp").Find(&dos).Error
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("查询设备%d原始读数出错", equipmentID))
	}

	ret := make([]core.RawReading, 0, len(dos))
	for _, do := range dos {
		ret = append(ret, core.RawReading{
			EquipmentID: do.EquipmentID,
			Timestamp:   time.Unix(do.Timestamp, 0).UTC(),
			Rate:        do.Rate,
			Consumption: do.Consumption,
			Temperature: do.Temperature,
			Pressure:    do.Pressure,
			Throughput:  do.Throughput,
			Production:  do.Production,
		})
	}
	return ret, nil
}

func (d *daoImpl) QueryRollups(tier core.TierName, equipmentIDs []uint, start, end time.Time) ([]*core.Rollup, error) {
	var dos []*RollupDO
	err := d.db.
		Where("tier = ? AND equipment_id IN ? AND bucket_start >= ? AND bucket_start < ?",
			string(tier), equipmentIDs, start.UTC().Unix(), end.UTC().Unix()).
		Order("bucket_start, equipment_id").Find(&dos).Error
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("查询层级%s聚合行出错", tier))
	}

	ret := make([]*core.Rollup, 0, len(dos))
	for _, do := range dos {
		ret = append(ret, &core.Rollup{
			Tier:            core.TierName(do.Tier),
			EquipmentID:     do.EquipmentID,
			BucketStart:     time.Unix(do.BucketStart, 0).UTC(),
			Count:           do.Count,
			Consumption:     do.Consumption,
			RateMean:        do.RateMean,
			RateMin:         do.RateMin,
			RateMax:         do.RateMax,
			TemperatureMean: do.TemperatureMean,
			PressureMean:    do.PressureMean,
			ThroughputSum:   do.ThroughputSum,
			ProductionSum:   do.ProductionSum,
			Final:           do.Final,
		})
	}
	return ret, nil
}

func (d *daoImpl) EarliestNonFinalBucket(tier core.TierName) (*time.Time, error) {
	var min sql.NullInt64
	err := d.db.Model(&RollupDO{}).
		Where("tier = ? AND final = ?", string(tier), false).
		Select("MIN(bucket_start)").Scan(&min).Error
	if err != nil {
		return nil, errors.Wrap(err, "查询未定稿桶出错")
	}
	if !min.Valid {
		return nil, nil
	}
	t := time.Unix(min.Int64, 0).UTC()
	return &t, nil
}

func (d *daoImpl) QueryActiveModel(groupID uint) (*BaselineModelDO, error) {
	do := &BaselineModelDO{}
	err := d.db.Where("group_id = ? AND active = ?", groupID, true).First(do).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("查询组%d活跃模型出错", groupID))
	}
	return do, nil
}

func (d *daoImpl) QueryModels(groupID uint) ([]*BaselineModelDO, error) {
	var dos []*BaselineModelDO
	err := d.db.Where("group_id = ?", groupID).Order("version").Find(&dos).Error
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("查询组%d模型历史出错", groupID))
	}
	return dos, nil
}

func (d *daoImpl) QueryPerformanceRecordDO(groupID uint, periodStart time.Time) (*PerformanceRecordDO, error) {
	do := &PerformanceRecordDO{}
	err := d.db.First(do, &PerformanceRecordDO{
		GroupID:     groupID,
		PeriodStart: periodStart.UTC().Unix(),
	}).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "查询性能记录出错")
	}
	return do, nil
}

func (d *daoImpl) QueryPerformanceRecords(groupID uint, start, end time.Time) ([]*pkgserver.PerformanceRecord, error) {
	var dos []*PerformanceRecordDO
	err := d.db.
		Where("group_id = ? AND period_start >= ? AND period_start < ?",
			groupID, start.UTC().Unix(), end.UTC().Unix()).
		Order("period_start").Find(&dos).Error
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("查询组%d性能记录出错", groupID))
	}

	ret := make([]*pkgserver.PerformanceRecord, 0, len(dos))
	for _, do := range dos {
		ret = append(ret, performanceRecordFromDO(do))
	}
	return ret, nil
}

func performanceRecordFromDO(do *PerformanceRecordDO) *pkgserver.PerformanceRecord {
	return &pkgserver.PerformanceRecord{
		GroupID:      do.GroupID,
		PeriodStart:  time.Unix(do.PeriodStart, 0).UTC(),
		PeriodEnd:    time.Unix(do.PeriodEnd, 0).UTC(),
		Actual:       do.Actual,
		Expected:     do.Expected,
		Deviation:    do.Deviation,
		DeviationPct: do.DeviationPct,
		BandLow:      do.BandLow,
		BandHigh:     do.BandHigh,
		Significant:  do.Significant,
		Cumulative:   do.Cumulative,
		Grade:        core.Grade(do.Grade),
		Closed:       do.Closed,
	}
}

func (d *daoImpl) LatestAdjustment(groupID uint) (*AdjustmentDO, error) {
	do := &AdjustmentDO{}
	err := d.db.Where("group_id = ?", groupID).Order("effective_at DESC").First(do).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("查询组%d调整事件出错", groupID))
	}
	return do, nil
}

func (d *daoImpl) QueryFindings(equipmentIDs []uint, start, end time.Time, severity core.Severity) ([]*pkgserver.Finding, error) {
	query := d.db.
		Where("equipment_id IN ? AND timestamp >= ? AND timestamp < ?",
			equipmentIDs, start.UTC().Unix(), end.UTC().Unix())
	if severity != "" {
		query = query.Where("severity = ?", string(severity))
	}

	var dos []*AnomalyFindingDO
	if err := query.Order("timestamp, equipment_id").Find(&dos).Error; err != nil {
		return nil, errors.Wrap(err, "查询异常记录出错")
	}

	ret := make([]*pkgserver.Finding, 0, len(dos))
	for _, do := range dos {
		ret = append(ret, &pkgserver.Finding{
			EquipmentID: do.EquipmentID,
			Timestamp:   time.Unix(do.Timestamp, 0).UTC(),
			Metric:      do.Metric,
			Actual:      do.Actual,
			Expected:    do.Expected,
			Deviation:   do.Deviation,
			Score:       do.Score,
			Severity:    core.Severity(do.Severity),
			State:       core.FindingState(do.State),
		})
	}
	return ret, nil
}

func (d *daoImpl) QueryNonRunningIntervals(equipmentIDs []uint, start, end time.Time) ([]StateInterval, error) {
	startTs := start.UTC().Unix()
	endTs := end.UTC().Unix()
	var dos []*EquipmentStateDO
	err := d.db.
		Where("equipment_id IN ? AND state IN ? AND start_at < ? AND (end_at IS NULL OR end_at > ?)",
			equipmentIDs,
			[]string{string(core.StateMaintenance), string(core.StateFault), string(core.StateOffline)},
			endTs, startTs).
		Order("start_at").Find(&dos).Error
	if err != nil {
		return nil, errors.Wrap(err, "查询设备状态区间出错")
	}

	ret := make([]StateInterval, 0, len(dos))
	for _, do := range dos {
		iv := StateInterval{
			EquipmentID: do.EquipmentID,
			State:       core.EquipmentState(do.State),
			Start:       time.Unix(do.StartAt, 0).UTC(),
			End:         end,
		}
		if do.EndAt != nil {
			iv.End = time.Unix(*do.EndAt, 0).UTC()
		}
		ret = append(ret, iv)
	}
	return ret, nil
}

func (d *daoImpl) QueryTariffRates(sourceID uint) ([]*TariffRateDO, error) {
	var dos []*TariffRateDO
	err := d.db.Where("source_id = ?", sourceID).Order("id").Find(&dos).Error
	if err != nil {
		return nil, errors.Wrap(err, "查询费率表出错")
	}
	return dos, nil
}

func (d *daoImpl) QueryEmissionFactors(sourceID uint) ([]*EmissionFactorDO, error) {
	var dos []*EmissionFactorDO
	err := d.db.Where("source_id = ?", sourceID).Order("id").Find(&dos).Error
	if err != nil {
		return nil, errors.Wrap(err, "查询排放因子表出错")
	}
	return dos, nil
}

func (d *daoImpl) QueryProfileClass(classID uint) ([]float32, error) {
	var dos []*ProfileSectionDO
	err := d.db.Where("id = ?", classID).Find(&dos).Error
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("查询形态类别%d出错", classID))
	}
	if len(dos) == 0 {
		return nil, pkgserver.NewNotFoundError("形态类别%d不存在", classID)
	}

	sort.Slice(dos, func(i, j int) bool {
		return dos[i].SectionNum < dos[j].SectionNum
	})
	sections := make([]float32, len(dos))
	for i, do := range dos {
		if uint(i) != do.SectionNum {
			return nil, fmt.Errorf("形态类别%d数据不完整，缺少第%d段", classID, i)
		}
		sections[i] = do.Value
	}
	return sections, nil
}

func (d *daoImpl) QueryEquipmentProfile(equipmentID uint) (*EquipmentProfileDO, error) {
	do := &EquipmentProfileDO{}
	err := d.db.First(do, &EquipmentProfileDO{EquipmentID: equipmentID}).Error
	if err == gorm.ErrRecordNotFound {
		return nil, pkgserver.NewNotFoundError("设备%d尚未归类", equipmentID)
	} else if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("查询设备%d形态出错", equipmentID))
	}
	return do, nil
}
