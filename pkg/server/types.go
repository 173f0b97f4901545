package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/enersight/energy-analytics/pkg/core"
)

// RollupQuery 按设备或按组查询聚合行。EquipmentID与GroupID二选一。
type RollupQuery struct {
	EquipmentID uint          `json:"equipmentId,omitempty"`
	GroupID     uint          `json:"groupId,omitempty"`
	Tier        core.TierName `json:"tier"`
	Start       time.Time     `json:"start"`
	End         time.Time     `json:"end"`
}

// RollupResult 查询结果。请求区间尾部落在沉降窗口内时Stale为true，
// StaleAfter之后的行仍是临时数据，属于部分结果而不是错误。
type RollupResult struct {
	Rows       []*core.Rollup `json:"rows"`
	Stale      bool           `json:"stale"`
	StaleAfter *time.Time     `json:"staleAfter,omitempty"`
}

// TrainRequest 触发一次基线训练
type TrainRequest struct {
	GroupID     uint      `json:"groupId"`
	WindowStart time.Time `json:"windowStart"`
	WindowEnd   time.Time `json:"windowEnd"`
	Features    []string  `json:"features"`
	MinSamples  int       `json:"minSamples"`
	MinR2       float64   `json:"minR2"`
	NoIntercept bool      `json:"noIntercept,omitempty"`
}

// ModelSummary 一个基线模型版本的摘要
type ModelSummary struct {
	GroupID        uint      `json:"groupId"`
	Version        uint      `json:"version"`
	Active         bool      `json:"active"`
	Features       []string  `json:"features"`
	Coefficients   []float64 `json:"coefficients"`
	Intercept      float64   `json:"intercept"`
	R2             float64   `json:"r2"`
	RMSE           float64   `json:"rmse"`
	MAE            float64   `json:"mae"`
	SampleCount    int       `json:"sampleCount"`
	WindowStart    time.Time `json:"windowStart"`
	WindowEnd      time.Time `json:"windowEnd"`
	InactiveReason string    `json:"inactiveReason,omitempty"`
	TrainingRunID  string    `json:"trainingRunId"`
}

// Formula 返回模型的可读公式，例如 y = 1.25*production_sum + 0.80*temperature_mean + 17.20
func (m *ModelSummary) Formula() string {
	b := strings.Builder{}
	b.WriteString("y = ")
	for i, f := range m.Features {
		if i > 0 {
			b.WriteString(" + ")
		}
		b.WriteString(fmt.Sprintf("%.4f*%s", m.Coefficients[i], f))
	}
	if m.Intercept != 0 || len(m.Features) == 0 {
		b.WriteString(fmt.Sprintf(" + %.4f", m.Intercept))
	}
	return b.String()
}

// Prediction 用当前活跃模型做的一次预测。
// 特征向量超出典型工况时模型可能外推出负值，此时OutOfRange为true，由调用方决定如何处置。
type Prediction struct {
	GroupID    uint    `json:"groupId"`
	Version    uint    `json:"version"`
	Value      float64 `json:"value"`
	OutOfRange bool    `json:"outOfRange"`
}

// PerformanceRecord 一个(组, 报告期)的实际与预期对比。
// 已关闭的报告期生成后不再变化，进行中的报告期可重新生成。
type PerformanceRecord struct {
	GroupID      uint       `json:"groupId"`
	PeriodStart  time.Time  `json:"periodStart"`
	PeriodEnd    time.Time  `json:"periodEnd"`
	Actual       float64    `json:"actual"`
	Expected     float64    `json:"expected"`
	Deviation    float64    `json:"deviation"`
	DeviationPct *float64   `json:"deviationPct,omitempty"`
	BandLow      float64    `json:"bandLow"`
	BandHigh     float64    `json:"bandHigh"`
	Significant  bool       `json:"significant"`
	Cumulative   float64    `json:"cumulative"`
	Grade        core.Grade `json:"grade"`
	Closed       bool       `json:"closed"`
}

// DetectRequest 触发一次异常检测
type DetectRequest struct {
	GroupID       uint      `json:"groupId"`
	WindowStart   time.Time `json:"windowStart"`
	WindowEnd     time.Time `json:"windowEnd"`
	Contamination float64   `json:"contamination"`
}

// Finding 一条异常记录，按(设备, 时间, 指标)唯一
type Finding struct {
	EquipmentID uint              `json:"equipmentId"`
	Timestamp   time.Time         `json:"timestamp"`
	Metric      string            `json:"metric"`
	Actual      float64           `json:"actual"`
	Expected    float64           `json:"expected"`
	Deviation   float64           `json:"deviation"`
	Score       float64           `json:"score"`
	Severity    core.Severity     `json:"severity"`
	State       core.FindingState `json:"state"`
}

// FindingQuery 查询异常记录。EquipmentID与GroupID二选一，Severity为空表示全部。
type FindingQuery struct {
	EquipmentID uint          `json:"equipmentId,omitempty"`
	GroupID     uint          `json:"groupId,omitempty"`
	Start       time.Time     `json:"start"`
	End         time.Time     `json:"end"`
	Severity    core.Severity `json:"severity,omitempty"`
}

// KPIBundle 一个组在一个报告期内的全部指标，一次扫描得出
type KPIBundle struct {
	GroupID             uint      `json:"groupId"`
	PeriodStart         time.Time `json:"periodStart"`
	PeriodEnd           time.Time `json:"periodEnd"`
	TotalConsumption    float64   `json:"totalConsumption"`
	TotalProduction     float64   `json:"totalProduction"`
	SpecificConsumption *float64  `json:"specificConsumption,omitempty"`
	PeakDemand          float64   `json:"peakDemand"`
	LoadFactor          float64   `json:"loadFactor"`
	Cost                float64   `json:"cost"`
	Emissions           float64   `json:"emissions"`
	Stale               bool      `json:"stale"`
}

// Adjustment 基线调整事件（设备升级、工艺变更等）。
// 只能显式登记，绝不从偏差数据反推；登记后累计偏差趋势从生效时刻起归零。
type Adjustment struct {
	ID          string    `json:"id"`
	GroupID     uint      `json:"groupId"`
	EffectiveAt time.Time `json:"effectiveAt"`
	Reason      string    `json:"reason"`
}

// ProfileAssignment 设备的日负荷形态归类结果
type ProfileAssignment struct {
	EquipmentID uint      `json:"equipmentId"`
	ClassID     uint      `json:"classId"`
	Sections    []float32 `json:"sections"`
}

// API 对外提供的查询与触发接口。表示层、报表生成器与助手都通过本接口访问。
type API interface {
	QueryRollups(q *RollupQuery) (*RollupResult, error)

	Train(req *TrainRequest) (*ModelSummary, error)
	ActiveModel(groupID uint) (*ModelSummary, error)
	Predict(groupID uint, features map[string]float64) (*Prediction, error)

	Evaluate(groupID uint, periodStart, periodEnd time.Time) (*PerformanceRecord, error)
	QueryPerformance(groupID uint, start, end time.Time) ([]*PerformanceRecord, error)
	RegisterAdjustment(groupID uint, effectiveAt time.Time, reason string) (*Adjustment, error)

	Detect(req *DetectRequest) ([]*Finding, error)
	QueryFindings(q *FindingQuery) ([]*Finding, error)
	ResolveFinding(equipmentID uint, timestamp time.Time, metric string) error

	QueryKPI(groupID uint, periodStart, periodEnd time.Time) (*KPIBundle, error)

	EquipmentProfile(equipmentID uint) (*ProfileAssignment, error)

	// RefreshTier 异步触发一次指定层级的刷新
	RefreshTier(tier core.TierName)
}
