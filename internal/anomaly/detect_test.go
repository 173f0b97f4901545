package anomaly

import (
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/enersight/energy-analytics/pkg/server"
	"github.com/stretchr/testify/assert"
)

var windowStart = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

// makePoints 生成n个正常点加若干明显离群点
func makePoints(r *rand.Rand, n int, outliers int) []*Point {
	points := make([]*Point, 0, n+outliers)
	for i := 0; i < n; i++ {
		actual := 1000 + r.NormFloat64()*20
		points = append(points, &Point{
			EquipmentID: uint(i%4 + 1),
			Timestamp:   windowStart.AddDate(0, 0, i),
			Actual:      actual,
			Expected:    1000,
			Vector:      []float64{actual, 100 + r.NormFloat64()*5, 50 + r.NormFloat64()*2, actual - 1000},
		})
	}
	for i := 0; i < outliers; i++ {
		actual := 5000 + r.NormFloat64()*100
		points = append(points, &Point{
			EquipmentID: 9,
			Timestamp:   windowStart.AddDate(0, 0, n+i),
			Actual:      actual,
			Expected:    1000,
			Vector:      []float64{actual, 400, 0, actual - 1000},
		})
	}
	return points
}

func TestIForestSeparatesOutliers(t *testing.T) {
	r := rand.New(rand.NewSource(5))
	points := makePoints(r, 100, 5)
	data := make([][]float64, len(points))
	for i, p := range points {
		data[i] = p.Vector
	}

	alg := GetAlgorithm(IsolationForest)
	scores := alg.Score(data, &IForestContext{Seed: 5})
	assert.Equal(t, len(points), len(scores))

	// 离群点（最后5个）的平均分值应明显高于正常点
	normalMean, outlierMean := 0.0, 0.0
	for i, s := range scores {
		assert.True(t, s > 0 && s < 1)
		if i < 100 {
			normalMean += s
		} else {
			outlierMean += s
		}
	}
	normalMean /= 100
	outlierMean /= 5
	assert.Greater(t, outlierMean, normalMean+0.1)
}

func TestIForestDeterministic(t *testing.T) {
	r := rand.New(rand.NewSource(6))
	points := makePoints(r, 50, 2)
	data := make([][]float64, len(points))
	for i, p := range points {
		data[i] = p.Vector
	}

	alg := GetAlgorithm(IsolationForest)
	first := alg.Score(data, &IForestContext{Seed: 99})
	second := alg.Score(data, &IForestContext{Seed: 99})
	assert.True(t, reflect.DeepEqual(first, second))
}

func TestGetAlgorithmUnknown(t *testing.T) {
	assert.Nil(t, GetAlgorithm("dbscan"))
}

func TestDetectFlagsOutliers(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	points := makePoints(r, 100, 5)

	findings, err := Detect(points, 0.10, &IForestContext{Seed: 7})
	assert.NoError(t, err)
	assert.NotEmpty(t, findings)
	// contamination=0.10最多标出约10%的点
	assert.LessOrEqual(t, len(findings), 12)

	// 全部5个构造的离群点都应在列
	flagged := map[time.Time]*server.Finding{}
	for _, f := range findings {
		flagged[f.Timestamp] = f
	}
	for i := 0; i < 5; i++ {
		f, ok := flagged[windowStart.AddDate(0, 0, 100+i)]
		if assert.True(t, ok, "离群点%d未被标出", i) {
			assert.Equal(t, uint(9), f.EquipmentID)
			assert.Equal(t, MetricDailyConsumption, f.Metric)
			assert.InDelta(t, f.Actual-f.Expected, f.Deviation, 1e-9)
			assert.Greater(t, f.Deviation, 0.0)
		}
	}
}

// 对同一窗口重跑产出完全一致的记录，配合(设备,时间,指标)upsert不会产生重复
func TestDetectIdempotent(t *testing.T) {
	r := rand.New(rand.NewSource(8))
	points := makePoints(r, 80, 4)

	first, err := Detect(points, 0.10, &IForestContext{Seed: 3})
	assert.NoError(t, err)
	second, err := Detect(points, 0.10, &IForestContext{Seed: 3})
	assert.NoError(t, err)
	assert.True(t, reflect.DeepEqual(first, second))

	// 键唯一
	seen := map[string]struct{}{}
	for _, f := range first {
		key := f.Timestamp.String() + f.Metric + string(rune(f.EquipmentID))
		_, dup := seen[key]
		assert.False(t, dup)
		seen[key] = struct{}{}
	}
}

func TestDetectValidation(t *testing.T) {
	_, err := Detect(nil, 0, nil)
	assert.Equal(t, server.ErrValidation, server.KindOf(err))
	_, err = Detect(nil, 1.5, nil)
	assert.Equal(t, server.ErrValidation, server.KindOf(err))

	findings, err := Detect(nil, 0.1, nil)
	assert.NoError(t, err)
	assert.Empty(t, findings)
}

func TestSeverityBands(t *testing.T) {
	assert.Equal(t, "info", string(severityOf(0.5, 0.5, 0.1)))
	assert.Equal(t, "warning", string(severityOf(0.75, 0.5, 0.1)))
	assert.Equal(t, "critical", string(severityOf(0.9, 0.5, 0.1)))
	// 分值无方差时一律info
	assert.Equal(t, "info", string(severityOf(0.9, 0.5, 0)))
}
