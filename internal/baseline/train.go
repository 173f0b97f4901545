package baseline

import (
	"github.com/enersight/energy-analytics/pkg/server"
)

// TrainResult 一次训练的产出。质量未达标时模型也会返回，
// Active为false并附原因，由调用方按非活跃落库保留审计记录。
type TrainResult struct {
	Model          *Model
	Active         bool
	InactiveReason string
}

// Train 完整的训练流程：剔除缺失特征的行、样本数闸门、拟合、质量闸门。
//
// 样本不足返回InsufficientDataError并附实际与要求数量，此时不产生模型；
// 拟合质量低于minR2时模型保留但标记非活跃。
func Train(rows []*DayRow, feats []Feature, minSamples int, minR2 float64, opts FitOptions) (*TrainResult, error) {
	if minSamples <= 0 {
		return nil, server.NewValidationError("minSamples必须为正，现在为%d", minSamples)
	}
	if minR2 < 0 || minR2 > 1 {
		return nil, server.NewValidationError("minR2必须在0到1之间，现在为%f", minR2)
	}

	// 缺失值的行剔除，不补值
	x := make([][]float64, 0, len(rows))
	y := make([]float64, 0, len(rows))
	for _, row := range rows {
		v, ok := Vector(feats, row)
		if !ok {
			continue
		}
		x = append(x, v)
		y = append(y, row.Consumption)
	}

	if len(x) < minSamples {
		return nil, server.NewInsufficientDataError(len(x), minSamples)
	}

	m, err := Fit(x, y, feats, opts)
	if err != nil {
		return nil, err
	}

	result := &TrainResult{Model: m, Active: true}
	if m.R2 < minR2 {
		gateErr := server.NewQualityGateError(m.R2, minR2)
		result.Active = false
		result.InactiveReason = gateErr.Detail
	}

	return result, nil
}
