package server

import (
	"time"

	"gorm.io/gorm"
)

// 数据库DO类型。时间戳一律存UTC的unix秒，避免驱动时区换算带来的桶边界漂移。

type EquipmentDO struct {
	gorm.Model
	Name          string `gorm:"uniqueIndex;type:VARCHAR(256)"`
	RatedCapacity float64
	State         string `gorm:"type:VARCHAR(32)"`
}

type EnergySourceDO struct {
	gorm.Model
	Name           string `gorm:"uniqueIndex;type:VARCHAR(64)"`
	Unit           string `gorm:"type:VARCHAR(32)"`
	UnitCost       float64
	EmissionFactor float64
}

type GroupDO struct {
	gorm.Model
	Name     string `gorm:"uniqueIndex;type:VARCHAR(256)"`
	SourceID uint   `gorm:"index"`
}

type GroupEquipmentDO struct {
	gorm.Model
	GroupID     uint `gorm:"uniqueIndex:group_member"`
	EquipmentID uint `gorm:"uniqueIndex:group_member"`
}

// EquipmentStateDO 外部状态源推送的设备状态区间。EndAt为nil表示当前区间。
type EquipmentStateDO struct {
	gorm.Model
	EquipmentID uint   `gorm:"index"`
	State       string `gorm:"type:VARCHAR(32)"`
	StartAt     int64
	EndAt       *int64
}

type RawReadingDO struct {
	gorm.Model
	EquipmentID uint  `gorm:"uniqueIndex:unique_reading"`
	Timestamp   int64 `gorm:"uniqueIndex:unique_reading"`
	Rate        float64
	Consumption float64
	Temperature *float64
	Pressure    *float64
	Throughput  float64
	Production  float64
}

type RollupDO struct {
	gorm.Model
	Tier            string `gorm:"uniqueIndex:unique_rollup;type:VARCHAR(32)"`
	EquipmentID     uint   `gorm:"uniqueIndex:unique_rollup"`
	BucketStart     int64  `gorm:"uniqueIndex:unique_rollup"`
	Count           uint
	Consumption     float64
	RateMean        float64
	RateMin         float64
	RateMax         float64
	TemperatureMean *float64
	PressureMean    *float64
	ThroughputSum   float64
	ProductionSum   float64
	Final           bool `gorm:"index"`
}

// BaselineModelDO 基线模型版本。同组版本号唯一，活跃标志同组至多一个为真，
// 版本切换在同一事务内完成。模型行从不删除，保留完整审计历史。
type BaselineModelDO struct {
	gorm.Model
	GroupID        uint   `gorm:"uniqueIndex:model_version"`
	Version        uint   `gorm:"uniqueIndex:model_version"`
	SourceID       uint   `gorm:"index"`
	Features       string `gorm:"type:TEXT"`
	Coefficients   string `gorm:"type:TEXT"`
	Intercept      float64
	WindowStart    int64
	WindowEnd      int64
	SampleCount    int
	R2             float64
	RMSE           float64
	MAE            float64
	Active         bool   `gorm:"index"`
	InactiveReason string `gorm:"type:VARCHAR(512)"`
	TrainingRunID  string `gorm:"type:VARCHAR(64)"`
}

type PerformanceRecordDO struct {
	gorm.Model
	GroupID      uint  `gorm:"uniqueIndex:unique_period"`
	PeriodStart  int64 `gorm:"uniqueIndex:unique_period"`
	PeriodEnd    int64
	Actual       float64
	Expected     float64
	Deviation    float64
	DeviationPct *float64
	BandLow      float64
	BandHigh     float64
	Significant  bool
	Cumulative   float64
	Grade        string `gorm:"type:VARCHAR(16)"`
	Closed       bool
}

type AdjustmentDO struct {
	gorm.Model
	AdjustmentID string `gorm:"uniqueIndex;type:VARCHAR(64)"`
	GroupID      uint   `gorm:"index"`
	EffectiveAt  int64
	Reason       string `gorm:"type:VARCHAR(512)"`
}

type AnomalyFindingDO struct {
	gorm.Model
	EquipmentID uint   `gorm:"uniqueIndex:unique_finding"`
	Timestamp   int64  `gorm:"uniqueIndex:unique_finding"`
	Metric      string `gorm:"uniqueIndex:unique_finding;type:VARCHAR(64)"`
	Actual      float64
	Expected    float64
	Deviation   float64
	Score       float64
	Severity    string `gorm:"type:VARCHAR(16);index"`
	State       string `gorm:"type:VARCHAR(16)"`
}

type TariffRateDO struct {
	gorm.Model
	SourceID uint `gorm:"index"`
	DayFrom  int
	DayTo    int
	HourFrom int
	HourTo   int
	Rate     float64
}

type EmissionFactorDO struct {
	gorm.Model
	SourceID  uint   `gorm:"index"`
	Region    string `gorm:"type:VARCHAR(64)"`
	Factor    float64
	ValidFrom int64
	ValidTo   int64
}

// ProfileSectionDO 负荷形态类别中心曲线的一个小时段
type ProfileSectionDO struct {
	ID         uint `gorm:"primarykey"`
	SectionNum uint `gorm:"primarykey"`
	Value      float32
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type EquipmentProfileDO struct {
	gorm.Model
	EquipmentID uint `gorm:"uniqueIndex"`
	ClassID     uint
	RateMax     float32
}
