package anomaly

import (
	"math"
	"sort"
	"time"

	"github.com/enersight/energy-analytics/pkg/core"
	"github.com/enersight/energy-analytics/pkg/server"
)

// MetricDailyConsumption 当前检测的指标：设备的日能耗
const MetricDailyConsumption = "daily_consumption"

// Point 一个(设备, 子窗口)的检测输入。
// Vector是隔离森林的特征向量：实际指标值加上相对活跃基线的带符号偏差，
// 检测的是"在给定预期负荷下的异常"，而不只是绝对数值上的异常。
type Point struct {
	EquipmentID uint
	Timestamp   time.Time
	Actual      float64
	Expected    float64
	Vector      []float64
}

// Detect 对一批点做离群打分并产出异常记录。
// contamination为预期离群比例（默认0.10），控制灵敏度；
// 严重程度按分值的σ带划分，与偏差等级共用一套口径：
// 2σ内info，2σ到3σ为warning，3σ以上critical。
//
// 输出按(设备, 时间, 指标)唯一，由调用方以upsert语义落库：
// 对同一窗口重跑不会产生重复记录。
func Detect(points []*Point, contamination float64, algCtx *IForestContext) ([]*server.Finding, error) {
	if contamination <= 0 || contamination >= 1 {
		return nil, server.NewValidationError("contamination必须在(0,1)内，现在为%f", contamination)
	}
	if len(points) == 0 {
		return nil, nil
	}

	data := make([][]float64, len(points))
	for i, p := range points {
		data[i] = p.Vector
	}

	alg := GetAlgorithm(IsolationForest)
	scores := alg.Score(data, algCtx)

	// 分值的均值与标准差用于σ带
	mean, std := meanStd(scores)

	// 取分值最高的contamination比例为离群
	sorted := append([]float64{}, scores...)
	sort.Float64s(sorted)
	cutIdx := int(math.Ceil(float64(len(sorted)) * (1 - contamination)))
	if cutIdx >= len(sorted) {
		cutIdx = len(sorted) - 1
	}
	cutoff := sorted[cutIdx]

	findings := make([]*server.Finding, 0)
	for i, p := range points {
		if scores[i] < cutoff {
			continue
		}
		findings = append(findings, &server.Finding{
			EquipmentID: p.EquipmentID,
			Timestamp:   p.Timestamp,
			Metric:      MetricDailyConsumption,
			Actual:      p.Actual,
			Expected:    p.Expected,
			Deviation:   p.Actual - p.Expected,
			Score:       scores[i],
			Severity:    severityOf(scores[i], mean, std),
			State:       core.FindingOpen,
		})
	}

	return findings, nil
}

func severityOf(score, mean, std float64) core.Severity {
	if std <= 0 {
		return core.SeverityInfo
	}
	z := (score - mean) / std
	switch {
	case z > 3:
		return core.SeverityCritical
	case z > 2:
		return core.SeverityWarning
	default:
		return core.SeverityInfo
	}
}

func meanStd(values []float64) (mean, std float64) {
	n := float64(len(values))
	for _, v := range values {
		mean += v
	}
	mean /= n
	for _, v := range values {
		std += (v - mean) * (v - mean)
	}
	std = math.Sqrt(std / n)
	return mean, std
}
