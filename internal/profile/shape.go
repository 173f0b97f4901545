package profile

import (
	"sort"

	"github.com/enersight/energy-analytics/pkg/core"
)

// NumSections 日负荷形态的小时段数
const NumSections = 24

// Shape 一台设备的日负荷形态：按小时段平均后用峰值归一化的功率曲线。
// RateMax保留真实峰值，归一化曲线为1时的实际功率即为该值。
type Shape struct {
	EquipmentID uint
	Sections    []float32
	RateMax     float32
}

// Class 一个负荷形态类别的中心曲线
type Class struct {
	ClassID  uint
	Sections []float32
}

// BuildShapes 把若干天的小时聚合行折叠成每台设备一条日负荷形态。
// 同一小时段跨天按读数数加权平均；整段无数据记0；输出按设备ID升序。
func BuildShapes(hourly []*core.Rollup) []*Shape {
	type acc struct {
		weight [NumSections]float64
		count  [NumSections]uint
		max    float64
	}

	byEquipment := map[uint]*acc{}
	for _, row := range hourly {
		a, ok := byEquipment[row.EquipmentID]
		if !ok {
			a = &acc{}
			byEquipment[row.EquipmentID] = a
		}
		h := row.BucketStart.UTC().Hour()
		a.weight[h] += row.RateMean * float64(row.Count)
		a.count[h] += row.Count
		if row.RateMax > a.max {
			a.max = row.RateMax
		}
	}

	result := make([]*Shape, 0, len(byEquipment))
	for id, a := range byEquipment {
		s := &Shape{
			EquipmentID: id,
			Sections:    make([]float32, NumSections),
			RateMax:     float32(a.max),
		}
		for h := 0; h < NumSections; h++ {
			if a.count[h] == 0 || a.max == 0 {
				continue
			}
			s.Sections[h] = float32(a.weight[h] / float64(a.count[h]) / a.max)
		}
		result = append(result, s)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].EquipmentID < result[j].EquipmentID
	})
	return result
}

// ShapesToFloatArray 转为聚类算法输入
func ShapesToFloatArray(shapes []*Shape) [][]float32 {
	data := make([][]float32, len(shapes))
	for i, s := range shapes {
		data[i] = s.Sections
	}
	return data
}

// CentersToClasses 把聚类中心转为类别记录，类别ID从1开始
func CentersToClasses(centers [][]float32) []*Class {
	result := make([]*Class, len(centers))
	for i, center := range centers {
		result[i] = &Class{
			ClassID:  uint(i + 1),
			Sections: center,
		}
	}
	return result
}
