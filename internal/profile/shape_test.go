package profile

import (
	"testing"
	"time"

	"github.com/enersight/energy-analytics/pkg/core"
	"github.com/stretchr/testify/assert"
)

var dayStart = time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

// 两班倒形态与全天平稳形态各一台设备，跨两天数据
func makeHourly() []*core.Rollup {
	rows := make([]*core.Rollup, 0, 96)
	for d := 0; d < 2; d++ {
		for h := 0; h < 24; h++ {
			shift := 20.0
			if h >= 6 && h < 22 {
				shift = 200
			}
			rows = append(rows, &core.Rollup{
				Tier:        core.TierHour,
				EquipmentID: 1,
				BucketStart: dayStart.AddDate(0, 0, d).Add(time.Duration(h) * time.Hour),
				Count:       60,
				RateMean:    shift,
				RateMax:     210,
			})
			rows = append(rows, &core.Rollup{
				Tier:        core.TierHour,
				EquipmentID: 2,
				BucketStart: dayStart.AddDate(0, 0, d).Add(time.Duration(h) * time.Hour),
				Count:       60,
				RateMean:    100,
				RateMax:     100,
			})
		}
	}
	return rows
}

func TestBuildShapes(t *testing.T) {
	shapes := BuildShapes(makeHourly())
	assert.Equal(t, 2, len(shapes))
	assert.Equal(t, uint(1), shapes[0].EquipmentID)
	assert.Equal(t, uint(2), shapes[1].EquipmentID)

	// 两班倒设备：白班段约200/210，夜间段约20/210
	assert.InDelta(t, 200.0/210, float64(shapes[0].Sections[12]), 1e-5)
	assert.InDelta(t, 20.0/210, float64(shapes[0].Sections[2]), 1e-5)
	assert.InDelta(t, 210, float64(shapes[0].RateMax), 1e-5)

	// 平稳设备全段为1
	for h := 0; h < NumSections; h++ {
		assert.InDelta(t, 1.0, float64(shapes[1].Sections[h]), 1e-5)
	}

	assert.Empty(t, BuildShapes(nil))
}

func TestBuildShapesSparseHours(t *testing.T) {
	rows := []*core.Rollup{
		{EquipmentID: 5, BucketStart: dayStart.Add(3 * time.Hour), Count: 60, RateMean: 50, RateMax: 100},
	}
	shapes := BuildShapes(rows)
	assert.Equal(t, 1, len(shapes))
	assert.InDelta(t, 0.5, float64(shapes[0].Sections[3]), 1e-5)
	// 无数据的小时段记0
	assert.Equal(t, float32(0), shapes[0].Sections[4])
}

func TestClusterShapes(t *testing.T) {
	shapes := BuildShapes(makeHourly())
	data := ShapesToFloatArray(shapes)

	alg := GetAlgorithm(KMeans)
	assert.NotNil(t, alg)
	centers, class := alg.Run(data, 2, &KMeansContext{Round: 10})

	assert.Equal(t, 2, len(centers))
	assert.Equal(t, 2, len(class))
	// 两种形态分属不同类
	assert.NotEqual(t, class[0], class[1])

	classes := CentersToClasses(centers)
	assert.Equal(t, uint(1), classes[0].ClassID)
	assert.Equal(t, NumSections, len(classes[0].Sections))
}

func TestGetAlgorithmUnknown(t *testing.T) {
	assert.Nil(t, GetAlgorithm("hierarchical"))
}
