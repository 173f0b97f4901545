package core

import "time"

// TierName 聚合层级名称。各层级从细到粗形成链，粗层级只从下一级细层级计算。
type TierName string

const (
	TierQuarterHour = TierName("quarter_hour")
	TierHour        = TierName("hour")
	TierDay         = TierName("day")
)

// Grade 合规等级。由偏差百分比唯一确定。
type Grade string

const (
	GradeCompliant = Grade("compliant")
	GradeWarning   = Grade("warning")
	GradeCritical  = Grade("critical")
	// GradeUnknown 预期值为0时无法计算偏差百分比，等级未知
	GradeUnknown = Grade("unknown")
)

// Severity 异常严重程度。与偏差等级共用一套统计带划分。
type Severity string

const (
	SeverityInfo     = Severity("info")
	SeverityWarning  = Severity("warning")
	SeverityCritical = Severity("critical")
)

// FindingState 异常记录的处理状态。只有状态字段可变，由外部操作员设置。
type FindingState string

const (
	FindingOpen     = FindingState("open")
	FindingResolved = FindingState("resolved")
)

// EquipmentState 设备运行状态，来自外部状态源，用于训练数据筛选
type EquipmentState string

const (
	StateRunning     = EquipmentState("running")
	StateIdle        = EquipmentState("idle")
	StateMaintenance = EquipmentState("maintenance")
	StateFault       = EquipmentState("fault")
	StateOffline     = EquipmentState("offline")
)

// 领域默认阈值
const (
	DefaultCompliantPct  = 3.0
	DefaultWarningPct    = 5.0
	DefaultMinR2         = 0.80
	DefaultContamination = 0.10
	DefaultRetentionDays = 90
)

// RawReading 一条原始读数。由采集边界写入，之后不再修改。
// Consumption为本条读数覆盖区间内的能耗增量，Rate为瞬时功率。
type RawReading struct {
	EquipmentID uint
	Timestamp   time.Time
	Rate        float64
	Consumption float64
	Temperature *float64
	Pressure    *float64
	Throughput  float64
	Production  float64
}

// Rollup 一个(层级, 设备, 时间桶)的聚合行。
// Count为桶内吸收的原始读数条数，粗层级为细层级Count之和。
type Rollup struct {
	Tier        TierName
	EquipmentID uint
	BucketStart time.Time
	Count       uint
	Consumption float64
	RateMean    float64
	RateMin     float64
	RateMax     float64
	// 辅助通道均值。桶内一条有效读数都没有时为nil，训练时整行剔除而不是补值
	TemperatureMean *float64
	PressureMean    *float64
	ThroughputSum   float64
	ProductionSum   float64
	// Final 表示桶已过回看窗口，之后不再重算
	Final bool
}

// Equipment 被监控的一台设备
type Equipment struct {
	ID            uint
	Name          string
	RatedCapacity float64
	State         EquipmentState
}

// EnergySource 能源种类。同一设备可同时在多个能源种类下被监控，各自独立建模。
type EnergySource struct {
	ID             uint
	Name           string
	Unit           string
	UnitCost       float64
	EmissionFactor float64
}

// Group 重点用能单元(SUG)。一个Group只对应一个能源种类，至少包含一台设备，
// 是基线训练与合规报告的最小单位。
type Group struct {
	ID           uint
	Name         string
	Source       EnergySource
	EquipmentIDs []uint
}
