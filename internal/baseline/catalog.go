package baseline

import (
	"time"

	"github.com/enersight/energy-analytics/pkg/server"
)

// DayRow 一个组在一个报告日内跨设备汇总后的特征行，由天层级聚合行构建。
// 辅助通道缺失时对应指针为nil，训练时整行剔除，不做补值。
type DayRow struct {
	BucketStart     time.Time
	Consumption     float64
	RateMean        float64
	RateMax         float64
	ProductionSum   float64
	TemperatureMean *float64
	PressureMean    *float64
	ThroughputSum   float64
	// HoursRunning 当日运行小时数，按外部状态源的非运行区间扣除
	HoursRunning float64
}

// Feature 一个可识别的派生特征。Extract第二个返回值为false表示本行缺失该特征。
type Feature struct {
	Name        string
	Description string
	Extract     func(*DayRow) (float64, bool)
}

// Catalog 每个能源种类各自的特征名册。训练请求里的特征名先在名册中校验，
// 未识别的名称在任何数据扫描之前直接报错，而不是悄悄丢弃。
type Catalog struct {
	bySource map[string][]Feature
}

const (
	FeatureProductionSum   = "production_sum"
	FeatureThroughputSum   = "throughput_sum"
	FeatureTemperatureMean = "temperature_mean"
	FeaturePressureMean    = "pressure_mean"
	FeatureRateMean        = "rate_mean"
	FeatureHoursRunning    = "hours_running"
	FeatureDayOfWeek       = "day_of_week"
)

func commonFeatures() []Feature {
	return []Feature{
		{
			Name:        FeatureProductionSum,
			Description: "当日产量计数",
			Extract:     func(r *DayRow) (float64, bool) { return r.ProductionSum, true },
		},
		{
			Name:        FeatureThroughputSum,
			Description: "当日物料通过量",
			Extract:     func(r *DayRow) (float64, bool) { return r.ThroughputSum, true },
		},
		{
			Name:        FeatureTemperatureMean,
			Description: "当日环境温度均值",
			Extract: func(r *DayRow) (float64, bool) {
				if r.TemperatureMean == nil {
					return 0, false
				}
				return *r.TemperatureMean, true
			},
		},
		{
			Name:        FeatureRateMean,
			Description: "当日平均负荷",
			Extract:     func(r *DayRow) (float64, bool) { return r.RateMean, true },
		},
		{
			Name:        FeatureHoursRunning,
			Description: "当日运行小时数",
			Extract:     func(r *DayRow) (float64, bool) { return r.HoursRunning, true },
		},
		{
			Name:        FeatureDayOfWeek,
			Description: "星期几（0为周日）",
			Extract:     func(r *DayRow) (float64, bool) { return float64(r.BucketStart.UTC().Weekday()), true },
		},
	}
}

// DefaultCatalog 内置名册。电力源没有压力特征，气动源有。
func DefaultCatalog() *Catalog {
	pressure := Feature{
		Name:        FeaturePressureMean,
		Description: "当日管网压力均值",
		Extract: func(r *DayRow) (float64, bool) {
			if r.PressureMean == nil {
				return 0, false
			}
			return *r.PressureMean, true
		},
	}

	c := &Catalog{bySource: map[string][]Feature{}}
	c.bySource["electrical"] = commonFeatures()
	c.bySource["thermal"] = append(commonFeatures(), pressure)
	c.bySource["pneumatic"] = append(commonFeatures(), pressure)
	return c
}

// FeatureNames 返回某能源种类全部可用特征名。未登记的种类回落到公共特征。
func (c *Catalog) FeatureNames(source string) []string {
	feats := c.features(source)
	names := make([]string, len(feats))
	for i, f := range feats {
		names[i] = f.Name
	}
	return names
}

func (c *Catalog) features(source string) []Feature {
	if feats, ok := c.bySource[source]; ok {
		return feats
	}
	return commonFeatures()
}

// Resolve 把请求的特征名解析为特征定义。任何一个名称未识别都立即失败，
// 错误中回显该名称与全部可用名称。
func (c *Catalog) Resolve(source string, names []string) ([]Feature, error) {
	if len(names) == 0 {
		return nil, server.NewValidationError("特征列表不能为空")
	}

	available := c.features(source)
	index := map[string]Feature{}
	for _, f := range available {
		index[f.Name] = f
	}

	result := make([]Feature, 0, len(names))
	seen := map[string]struct{}{}
	for _, name := range names {
		f, ok := index[name]
		if !ok {
			return nil, server.NewUnknownFeatureError(name, c.FeatureNames(source))
		}
		if _, dup := seen[name]; dup {
			return nil, server.NewValidationError("特征%q重复出现", name)
		}
		seen[name] = struct{}{}
		result = append(result, f)
	}

	return result, nil
}

// ExtractByName 在全部已知特征中按名称抽取一行的值。
// 预测路径（偏差对比、异常检测）用它从已训练模型的特征名还原向量。
func ExtractByName(row *DayRow, name string) (float64, bool) {
	for _, f := range allFeatures() {
		if f.Name == name {
			return f.Extract(row)
		}
	}
	return 0, false
}

func allFeatures() []Feature {
	return append(commonFeatures(), Feature{
		Name: FeaturePressureMean,
		Extract: func(r *DayRow) (float64, bool) {
			if r.PressureMean == nil {
				return 0, false
			}
			return *r.PressureMean, true
		},
	})
}

// Vector 按特征定义抽取一行的特征向量。任一特征缺失返回false，整行剔除。
func Vector(feats []Feature, row *DayRow) ([]float64, bool) {
	v := make([]float64, len(feats))
	for i, f := range feats {
		val, ok := f.Extract(row)
		if !ok {
			return nil, false
		}
		v[i] = val
	}
	return v, true
}
