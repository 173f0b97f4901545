package baseline

import (
	"math"

	"github.com/enersight/energy-analytics/pkg/server"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Model 一个已拟合的线性基线：特征向量到预期能耗的映射
type Model struct {
	Features     []string
	Coefficients []float64
	Intercept    float64
	R2           float64
	RMSE         float64
	MAE          float64
	SampleCount  int
}

// FitOptions 拟合选项。默认带截距。
type FitOptions struct {
	NoIntercept bool
}

// Fit 最小二乘拟合：每桶总能耗对特征向量回归。
// X的解通过QR分解得到，系数顺序与feats一致。
func Fit(rows [][]float64, y []float64, feats []Feature, opts FitOptions) (*Model, error) {
	n := len(rows)
	if n == 0 || n != len(y) {
		return nil, server.NewValidationError("拟合输入为空或X与y长度不一致")
	}
	p := len(feats)
	cols := p
	if !opts.NoIntercept {
		cols++
	}
	if n < cols {
		return nil, server.NewInsufficientDataError(n, cols)
	}

	x := mat.NewDense(n, cols, nil)
	yv := mat.NewDense(n, 1, nil)
	for i, row := range rows {
		for j := 0; j < p; j++ {
			x.Set(i, j, row[j])
		}
		if !opts.NoIntercept {
			x.Set(i, p, 1)
		}
		yv.Set(i, 0, y[i])
	}

	var beta mat.Dense
	if err := beta.Solve(x, yv); err != nil {
		return nil, errors.Wrap(err, "最小二乘求解失败，设计矩阵可能奇异")
	}

	m := &Model{
		Features:     make([]string, p),
		Coefficients: make([]float64, p),
		SampleCount:  n,
	}
	for j := 0; j < p; j++ {
		m.Features[j] = feats[j].Name
		m.Coefficients[j] = beta.At(j, 0)
	}
	if !opts.NoIntercept {
		m.Intercept = beta.At(p, 0)
	}

	m.computeQuality(rows, y)
	return m, nil
}

// computeQuality 计算R²、RMSE、MAE
func (m *Model) computeQuality(rows [][]float64, y []float64) {
	n := float64(len(y))
	mean := 0.0
	for _, v := range y {
		mean += v
	}
	mean /= n

	ssRes, ssTot, absSum := 0.0, 0.0, 0.0
	for i, row := range rows {
		pred := m.predictVector(row)
		d := y[i] - pred
		ssRes += d * d
		ssTot += (y[i] - mean) * (y[i] - mean)
		absSum += math.Abs(d)
	}

	if ssTot > 0 {
		m.R2 = 1 - ssRes/ssTot
	} else {
		// y无方差时拟合退化，质量按0记，由质量闸门拦下
		m.R2 = 0
	}
	m.RMSE = math.Sqrt(ssRes / n)
	m.MAE = absSum / n
}

func (m *Model) predictVector(row []float64) float64 {
	v := m.Intercept
	for j, c := range m.Coefficients {
		v += c * row[j]
	}
	return v
}

// Predict 按名称取特征值计算预期能耗。缺少模型需要的特征立即报错。
// 预测值没有强制下界：向量超出典型工况时可能得到负值，OutOfRange置位由调用方处置。
func (m *Model) Predict(features map[string]float64) (value float64, outOfRange bool, err error) {
	row := make([]float64, len(m.Features))
	for j, name := range m.Features {
		v, ok := features[name]
		if !ok {
			return 0, false, server.NewValidationError("预测缺少模型特征%q", name)
		}
		row[j] = v
	}
	value = m.predictVector(row)
	return value, value < 0, nil
}
