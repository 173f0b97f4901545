package server

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/enersight/energy-analytics/pkg/core"
	pkgserver "github.com/enersight/energy-analytics/pkg/server"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type UpdateDao interface {
	SaveEquipment(e *core.Equipment) (uint, error)
	SaveEnergySource(s *core.EnergySource) (uint, error)
	SaveGroup(name string, sourceID uint, equipmentIDs []uint) (uint, error)
	SetEquipmentState(equipmentID uint, state core.EquipmentState, at time.Time) error

	SaveAllRawReadings(arr []*core.RawReading) error
	// RemoveRawReadingsBefore 永久删除timestamp之前的原始读数。
	// 调用方必须先确认全部层级在该时刻前都已定稿，否则之后的补算会静默少计。
	RemoveRawReadingsBefore(timestamp time.Time) error

	SaveRollups(tier core.TierName, equipmentID uint, start, end time.Time, rows []*core.Rollup) error
	MarkRollupsFinal(tier core.TierName, before time.Time) error

	// SaveBaselineModel 保存一个新模型版本。activate为真时在同一事务内
	// 先取消同组旧活跃模型再落新行：不存在两个模型同时活跃的窗口。
	SaveBaselineModel(do *BaselineModelDO, activate bool) error

	SavePerformanceRecord(rec *pkgserver.PerformanceRecord) error
	SaveAdjustment(do *AdjustmentDO) error

	// UpsertFindings 按(设备, 时间, 指标)三元组upsert。已存在的记录只更新数值，
	// 处理状态保持不变：解决状态只由操作员动作修改。
	UpsertFindings(arr []*pkgserver.Finding) error
	ResolveFinding(equipmentID uint, timestamp time.Time, metric string) error

	SaveProfileClasses(classes [][]float32) error
	SaveEquipmentProfile(equipmentID, classID uint, rateMax float32) error

	SaveTariffRate(do *TariffRateDO) error
	SaveEmissionFactor(do *EmissionFactorDO) error
}

type QueryDao interface {
	QueryGroup(groupID uint) (*core.Group, error)
	AllGroups() ([]*core.Group, error)
	AllEquipmentIDs() ([]uint, error)

	QueryRawReadings(equipmentID uint, start, end time.Time) ([]core.RawReading, error)
	QueryRollups(tier core.TierName, equipmentIDs []uint, start, end time.Time) ([]*core.Rollup, error)
	// EarliestNonFinalBucket 返回层级最早的未定稿桶起点，全部定稿时为nil
	EarliestNonFinalBucket(tier core.TierName) (*time.Time, error)

	QueryActiveModel(groupID uint) (*BaselineModelDO, error)
	QueryModels(groupID uint) ([]*BaselineModelDO, error)

	QueryPerformanceRecordDO(groupID uint, periodStart time.Time) (*PerformanceRecordDO, error)
	QueryPerformanceRecords(groupID uint, start, end time.Time) ([]*pkgserver.PerformanceRecord, error)
	LatestAdjustment(groupID uint) (*AdjustmentDO, error)

	QueryFindings(equipmentIDs []uint, start, end time.Time, severity core.Severity) ([]*pkgserver.Finding, error)

	QueryNonRunningIntervals(equipmentIDs []uint, start, end time.Time) ([]StateInterval, error)

	QueryTariffRates(sourceID uint) ([]*TariffRateDO, error)
	QueryEmissionFactors(sourceID uint) ([]*EmissionFactorDO, error)

	QueryProfileClass(classID uint) ([]float32, error)
	QueryEquipmentProfile(equipmentID uint) (*EquipmentProfileDO, error)
}

type Dao interface {
	DB() *gorm.DB
	UpdateDao
	QueryDao
}

// StateInterval 一段非运行状态区间
type StateInterval struct {
	EquipmentID uint
	State       core.EquipmentState
	Start       time.Time
	End         time.Time
}

type daoImpl struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ Dao = &daoImpl{}

func NewDao(host string, log *zap.Logger) (Dao, error) {
	user := os.Getenv("MYSQL_USER")
	if user == "" {
		user = "root"
	}
	password := os.Getenv("MYSQL_PASSWORD")
	if password == "" {
		password = "energy"
	}
	databaseURL := fmt.Sprintf("%s:%s@tcp(%s)/energy?charset=utf8mb4&parseTime=True&loc=UTC",
		user, password, host)
	db, err := gorm.Open(mysql.Open(databaseURL), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "连接数据库错误")
	}

	err = db.AutoMigrate(
		&EquipmentDO{}, &EnergySourceDO{}, &GroupDO{}, &GroupEquipmentDO{},
		&EquipmentStateDO{}, &RawReadingDO{}, &RollupDO{},
		&BaselineModelDO{}, &PerformanceRecordDO{}, &AdjustmentDO{},
		&AnomalyFindingDO{}, &TariffRateDO{}, &EmissionFactorDO{},
		&ProfileSectionDO{}, &EquipmentProfileDO{},
	)
	if err != nil {
		return nil, errors.Wrap(err, "创建表格时出现异常")
	}

	return &daoImpl{db: db, logger: log.Named("dao")}, nil
}

func (d *daoImpl) DB() *gorm.DB {
	return d.db
}

func (d *daoImpl) SaveEquipment(e *core.Equipment) (uint, error) {
	do := &EquipmentDO{}
	err := d.db.First(do, &EquipmentDO{Name: e.Name}).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		return 0, errors.Wrap(err, "查询设备记录出错")
	}
	do.Name = e.Name
	do.RatedCapacity = e.RatedCapacity
	do.State = string(e.State)
	if err := d.db.Save(do).Error; err != nil {
		return 0, errors.Wrap(err, fmt.Sprintf("保存设备%s出错", e.Name))
	}
	return do.ID, nil
}

func (d *daoImpl) SaveEnergySource(s *core.EnergySource) (uint, error) {
	do := &EnergySourceDO{}
	err := d.db.First(do, &EnergySourceDO{Name: s.Name}).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		return 0, errors.Wrap(err, "查询能源种类出错")
	}
	do.Name = s.Name
	do.Unit = s.Unit
	do.UnitCost = s.UnitCost
	do.EmissionFactor = s.EmissionFactor
	if err := d.db.Save(do).Error; err != nil {
		return 0, errors.Wrap(err, fmt.Sprintf("保存能源种类%s出错", s.Name))
	}
	return do.ID, nil
}

func (d *daoImpl) SaveGroup(name string, sourceID uint, equipmentIDs []uint) (uint, error) {
	if len(equipmentIDs) == 0 {
		return 0, fmt.Errorf("组%s必须至少包含一台设备", name)
	}

	var groupID uint
	err := d.db.Transaction(func(tx *gorm.DB) error {
		do := &GroupDO{}
		err := tx.First(do, &GroupDO{Name: name}).Error
		if err != nil && err != gorm.ErrRecordNotFound {
			return err
		}
		do.Name = name
		do.SourceID = sourceID
		if err := tx.Save(do).Error; err != nil {
			return err
		}
		groupID = do.ID

		if err := tx.Unscoped().Where("group_id = ?", do.ID).Delete(&GroupEquipmentDO{}).Error; err != nil {
			return err
		}
		for _, eid := range equipmentIDs {
			if err := tx.Create(&GroupEquipmentDO{GroupID: do.ID, EquipmentID: eid}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, fmt.Sprintf("保存组%s出错", name))
	}
	return groupID, nil
}

func (d *daoImpl) SetEquipmentState(equipmentID uint, state core.EquipmentState, at time.Time) error {
	ts := at.UTC().Unix()
	return d.db.Transaction(func(tx *gorm.DB) error {
		// 关闭当前区间
		err := tx.Model(&EquipmentStateDO{}).
			Where("equipment_id = ? AND end_at IS NULL", equipmentID).
			Update("end_at", ts).Error
		if err != nil {
			return err
		}
		if err := tx.Create(&EquipmentStateDO{
			EquipmentID: equipmentID,
			State:       string(state),
			StartAt:     ts,
		}).Error; err != nil {
			return err
		}
		return tx.Model(&EquipmentDO{}).Where("id = ?", equipmentID).
			Update("state", string(state)).Error
	})
}

func (d *daoImpl) SaveAllRawReadings(arr []*core.RawReading) error {
	const maxOneRun = 5000

	newDo := make([]*RawReadingDO, 0, len(arr))
	for _, reading := range arr {
		ts := reading.Timestamp.UTC().Unix()
		do := &RawReadingDO{}
		err := d.db.First(do, &RawReadingDO{
			EquipmentID: reading.EquipmentID,
			Timestamp:   ts,
		}).Error
		if err == nil {
			// 采集边界保证至少一次投递，重复读数直接忽略
			continue
		} else if err != gorm.ErrRecordNotFound {
			return errors.Wrap(err, fmt.Sprintf("查询原始读数出错，设备%d，时间戳%d",
				reading.EquipmentID, ts))
		}

		newDo = append(newDo, &RawReadingDO{
			EquipmentID: reading.EquipmentID,
			Timestamp:   ts,
			Rate:        reading.Rate,
			Consumption: reading.Consumption,
			Temperature: reading.Temperature,
			Pressure:    reading.Pressure,
			Throughput:  reading.Throughput,
			Production:  reading.Production,
		})
	}

	if len(newDo) == 0 {
		return nil
	}
	d.logger.Debug("inserting raw readings", zap.Int("count", len(newDo)))

	for i := 0; i < len(newDo); i += maxOneRun {
		end := i + maxOneRun
		if end > len(newDo) {
			end = len(newDo)
		}
		if err := d.db.Create(newDo[i:end]).Error; err != nil {
			return errors.Wrap(err, "插入原始读数出错")
		}
	}
	return nil
}

func (d *daoImpl) RemoveRawReadingsBefore(timestamp time.Time) error {
	return d.db.Unscoped().Where("timestamp < ?", timestamp.UTC().Unix()).
		Delete(&RawReadingDO{}).Error
}

func (d *daoImpl) SaveRollups(tier core.TierName, equipmentID uint, start, end time.Time, rows []*core.Rollup) error {
	startTs := start.UTC().Unix()
	endTs := end.UTC().Unix()
	return d.db.Transaction(func(tx *gorm.DB) error {
		// 定稿的桶不再改写，刷新窗口按设计不会覆盖它们，这里再拦一道
		err := tx.Unscoped().
			Where("tier = ? AND equipment_id = ? AND bucket_start >= ? AND bucket_start < ? AND final = ?",
				string(tier), equipmentID, startTs, endTs, false).
			Delete(&RollupDO{}).Error
		if err != nil {
			return errors.Wrap(err, "删除旧聚合行出错")
		}

		for _, row := range rows {
			do := &RollupDO{
				Tier:            string(row.Tier),
				EquipmentID:     row.EquipmentID,
				BucketStart:     row.BucketStart.UTC().Unix(),
				Count:           row.Count,
				Consumption:     row.Consumption,
				RateMean:        row.RateMean,
				RateMin:         row.RateMin,
				RateMax:         row.RateMax,
				TemperatureMean: row.TemperatureMean,
				PressureMean:    row.PressureMean,
				ThroughputSum:   row.ThroughputSum,
				ProductionSum:   row.ProductionSum,
			}
			if err := tx.Create(do).Error; err != nil {
				return errors.Wrap(err, fmt.Sprintf("插入聚合行出错，层级%s，设备%d，桶%d",
					tier, equipmentID, do.BucketStart))
			}
		}
		return nil
	})
}

func (d *daoImpl) MarkRollupsFinal(tier core.TierName, before time.Time) error {
	return d.db.Model(&RollupDO{}).
		Where("tier = ? AND bucket_start < ? AND final = ?", string(tier), before.UTC().Unix(), false).
		Update("final", true).Error
}

func (d *daoImpl) SaveBaselineModel(do *BaselineModelDO, activate bool) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		var maxVersion sql.NullInt64
		err := tx.Model(&BaselineModelDO{}).
			Where("group_id = ?", do.GroupID).
			Select("MAX(version)").Scan(&maxVersion).Error
		if err != nil {
			return errors.Wrap(err, "查询模型版本出错")
		}
		do.Version = 1
		if maxVersion.Valid {
			do.Version = uint(maxVersion.Int64) + 1
		}

		if activate {
			// 同一事务内取消旧活跃模型再落新行
			err = tx.Model(&BaselineModelDO{}).
				Where("group_id = ? AND active = ?", do.GroupID, true).
				Update("active", false).Error
			if err != nil {
				return errors.Wrap(err, "取消旧活跃模型出错")
			}
		}
		do.Active = activate

		if err := tx.Create(do).Error; err != nil {
			return errors.Wrap(err, fmt.Sprintf("保存模型出错，组%d版本%d", do.GroupID, do.Version))
		}
		return nil
	})
}

func (d *daoImpl) SavePerformanceRecord(rec *pkgserver.PerformanceRecord) error {
	do := &PerformanceRecordDO{}
	err := d.db.First(do, &PerformanceRecordDO{
		GroupID:     rec.GroupID,
		PeriodStart: rec.PeriodStart.UTC().Unix(),
	}).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		return errors.Wrap(err, "查询性能记录出错")
	}

	do.GroupID = rec.GroupID
	do.PeriodStart = rec.PeriodStart.UTC().Unix()
	do.PeriodEnd = rec.PeriodEnd.UTC().Unix()
	do.Actual = rec.Actual
	do.Expected = rec.Expected
	do.Deviation = rec.Deviation
	do.DeviationPct = rec.DeviationPct
	do.BandLow = rec.BandLow
	do.BandHigh = rec.BandHigh
	do.Significant = rec.Significant
	do.Cumulative = rec.Cumulative
	do.Grade = string(rec.Grade)
	do.Closed = rec.Closed

	if err := d.db.Save(do).Error; err != nil {
		return errors.Wrap(err, fmt.Sprintf("保存性能记录出错，组%d期%d", do.GroupID, do.PeriodStart))
	}
	return nil
}

func (d *daoImpl) SaveAdjustment(do *AdjustmentDO) error {
	return d.db.Create(do).Error
}

func (d *daoImpl) UpsertFindings(arr []*pkgserver.Finding) error {
	for _, f := range arr {
		ts := f.Timestamp.UTC().Unix()
		do := &AnomalyFindingDO{}
		err := d.db.First(do, &AnomalyFindingDO{
			EquipmentID: f.EquipmentID,
			Timestamp:   ts,
			Metric:      f.Metric,
		}).Error
		if err != nil && err != gorm.ErrRecordNotFound {
			return errors.Wrap(err, fmt.Sprintf("查询异常记录出错，设备%d时间%d指标%s",
				f.EquipmentID, ts, f.Metric))
		}

		created := err == gorm.ErrRecordNotFound
		do.EquipmentID = f.EquipmentID
		do.Timestamp = ts
		do.Metric = f.Metric
		do.Actual = f.Actual
		do.Expected = f.Expected
		do.Deviation = f.Deviation
		do.Score = f.Score
		do.Severity = string(f.Severity)
		if created {
			do.State = string(core.FindingOpen)
		}

		if err := d.db.Save(do).Error; err != nil {
			return errors.Wrap(err, "保存异常记录出错")
		}
	}
	return nil
}

func (d *daoImpl) ResolveFinding(equipmentID uint, timestamp time.Time, metric string) error {
	result := d.db.Model(&AnomalyFindingDO{}).
		Where("equipment_id = ? AND timestamp = ? AND metric = ?",
			equipmentID, timestamp.UTC().Unix(), metric).
		Update("state", string(core.FindingResolved))
	if result.Error != nil {
		return errors.Wrap(result.Error, "更新异常记录状态出错")
	}
	if result.RowsAffected == 0 {
		return pkgserver.NewNotFoundError("不存在设备%d在%s的%s异常记录",
			equipmentID, timestamp.UTC().Format(time.RFC3339), metric)
	}
	return nil
}

func (d *daoImpl) SaveProfileClasses(classes [][]float32) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&ProfileSectionDO{}).Error; err != nil {
			return errors.Wrap(err, "删除旧形态类别出错")
		}
		for i, sections := range classes {
			for num, v := range sections {
				do := &ProfileSectionDO{
					ID:         uint(i + 1),
					SectionNum: uint(num),
					Value:      v,
				}
				if err := tx.Save(do).Error; err != nil {
					return errors.Wrap(err, fmt.Sprintf("保存形态类别%d出错", i+1))
				}
			}
		}
		return nil
	})
}

func (d *daoImpl) SaveEquipmentProfile(equipmentID, classID uint, rateMax float32) error {
	do := &EquipmentProfileDO{}
	err := d.db.First(do, &EquipmentProfileDO{EquipmentID: equipmentID}).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		return errors.Wrap(err, "查询设备形态出错")
	}
	do.EquipmentID = equipmentID
	do.ClassID = classID
	do.RateMax = rateMax
	return d.db.Save(do).Error
}

func (d *daoImpl) SaveTariffRate(do *TariffRateDO) error {
	return d.db.Create(do).Error
}

func (d *daoImpl) SaveEmissionFactor(do *EmissionFactorDO) error {
	return d.db.Create(do).Error
}
