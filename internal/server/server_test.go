package server

import (
	"testing"
	"time"

	"github.com/enersight/energy-analytics/internal/aggregation"
	"github.com/enersight/energy-analytics/pkg/core"
	pkgserver "github.com/enersight/energy-analytics/pkg/server"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func testConfig() *ServerConfig {
	config := &ServerConfig{
		Port:       2000,
		MysqlHost:  testMysqlHost(),
		MinSamples: 14,
		NumClass:   DefaultNumClass,
	}
	if err := config.Complete(); err != nil {
		panic(err)
	}
	return config
}

func testServer(t *testing.T) (*serverImpl, Dao) {
	dao := testDao(t)
	wipeTables(t, dao)

	s := &serverImpl{
		config: testConfig(),
		dao:    dao,
		kv:     newFakeKVStore(),
		logger: zap.NewNop(),
		tiers:  aggregation.DefaultTiers(),
	}
	return s, dao
}

func TestServerConfigComplete(t *testing.T) {
	config := &ServerConfig{Port: 80, MinSamples: 14, NumClass: 8, MysqlHost: "localhost:3306"}
	assert.Error(t, config.Complete())

	config.Port = 2000
	assert.NoError(t, config.Complete())
	assert.Equal(t, core.DefaultMinR2, config.MinR2)
	assert.Equal(t, core.DefaultContamination, config.Contamination)
	assert.Equal(t, core.DefaultRetentionDays, config.RetentionDays)

	config.WarningPct = 1.0
	assert.Error(t, config.Complete())
}

func TestQueryRollupsStaleFlag(t *testing.T) {
	s, dao := testServer(t)

	now := time.Now().UTC()
	old := now.Add(-48 * time.Hour).Truncate(time.Hour)
	rows := []*core.Rollup{
		{Tier: core.TierHour, EquipmentID: 1, BucketStart: old, Count: 60, Consumption: 5},
	}
	assert.NoError(t, dao.SaveRollups(core.TierHour, 1, old, old.Add(time.Hour), rows))

	/*
		完全落在沉降线之前的查询不带stale标记
	*/
	result, err := s.QueryRollups(&pkgserver.RollupQuery{
		EquipmentID: 1,
		Tier:        core.TierHour,
		Start:       old,
		End:         old.Add(2 * time.Hour),
	})
	assert.NoError(t, err)
	assert.False(t, result.Stale)
	assert.Len(t, result.Rows, 1)

	/*
		区间延伸到沉降窗口内时结果是部分的，带stale标记而不是报错
	*/
	result, err = s.QueryRollups(&pkgserver.RollupQuery{
		EquipmentID: 1,
		Tier:        core.TierHour,
		Start:       old,
		End:         now,
	})
	assert.NoError(t, err)
	assert.True(t, result.Stale)
	assert.NotNil(t, result.StaleAfter)
}

func TestQueryRollupsValidation(t *testing.T) {
	s, _ := testServer(t)

	now := time.Now()
	_, err := s.QueryRollups(&pkgserver.RollupQuery{
		EquipmentID: 1, Tier: "weekly", Start: now.Add(-time.Hour), End: now,
	})
	apiErr, ok := pkgserver.AsError(err)
	if assert.True(t, ok) {
		assert.Equal(t, pkgserver.ErrValidation, apiErr.Kind)
	}

	_, err = s.QueryRollups(&pkgserver.RollupQuery{
		EquipmentID: 1, Tier: core.TierHour, Start: now, End: now.Add(-time.Hour),
	})
	assert.Error(t, err)

	_, err = s.QueryRollups(&pkgserver.RollupQuery{
		EquipmentID: 1, GroupID: 1, Tier: core.TierHour, Start: now.Add(-time.Hour), End: now,
	})
	assert.Error(t, err)
}

func TestLoadDayRows(t *testing.T) {
	s, dao := testServer(t)

	sourceID, err := dao.SaveEnergySource(&core.EnergySource{Name: "electrical", Unit: "kWh"})
	assert.NoError(t, err)
	eq1, _ := dao.SaveEquipment(&core.Equipment{Name: "press-1", State: core.StateRunning})
	eq2, _ := dao.SaveEquipment(&core.Equipment{Name: "press-2", State: core.StateRunning})
	groupID, err := dao.SaveGroup("press-line", sourceID, []uint{eq1, eq2})
	assert.NoError(t, err)

	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	temp1, temp2 := 40.0, 60.0
	assert.NoError(t, dao.SaveRollups(core.TierDay, eq1, day, day.Add(24*time.Hour), []*core.Rollup{{
		Tier: core.TierDay, EquipmentID: eq1, BucketStart: day,
		Count: 96, Consumption: 100, RateMean: 10, RateMax: 20,
		TemperatureMean: &temp1, ProductionSum: 500,
	}}))
	assert.NoError(t, dao.SaveRollups(core.TierDay, eq2, day, day.Add(24*time.Hour), []*core.Rollup{{
		Tier: core.TierDay, EquipmentID: eq2, BucketStart: day,
		Count: 96, Consumption: 200, RateMean: 20, RateMax: 35,
		TemperatureMean: &temp2, ProductionSum: 700,
	}}))

	/*
		eq2当天有6小时维护
	*/
	assert.NoError(t, dao.SetEquipmentState(eq2, core.StateMaintenance, day.Add(6*time.Hour)))
	assert.NoError(t, dao.SetEquipmentState(eq2, core.StateRunning, day.Add(12*time.Hour)))

	group, err := dao.QueryGroup(groupID)
	assert.NoError(t, err)

	rows, err := s.loadDayRows(group, day, day.Add(24*time.Hour))
	assert.NoError(t, err)
	if !assert.Len(t, rows, 1) {
		return
	}

	row := rows[0]
	assert.Equal(t, 300.0, row.Consumption)
	assert.Equal(t, 35.0, row.RateMax)
	assert.Equal(t, 1200.0, row.ProductionSum)
	// 读数数相同，功率均值为两台的简单平均
	assert.InDelta(t, 15.0, row.RateMean, 1e-9)
	if assert.NotNil(t, row.TemperatureMean) {
		assert.InDelta(t, 50.0, *row.TemperatureMean, 1e-9)
	}
	// 两台设备共6小时停机，平摊后当日运行21小时
	assert.InDelta(t, 21.0, row.HoursRunning, 1e-9)
}

func TestEvaluateClosedPeriodImmutable(t *testing.T) {
	s, dao := testServer(t)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	stored := &pkgserver.PerformanceRecord{
		GroupID:     1,
		PeriodStart: start,
		PeriodEnd:   end,
		Actual:      1296.50,
		Expected:    1296.92,
		Deviation:   -0.42,
		Grade:       core.GradeCompliant,
		Closed:      true,
	}
	assert.NoError(t, dao.SavePerformanceRecord(stored))

	/*
		已关闭的报告期直接返回存档，连活跃模型都不需要
	*/
	rec, err := s.Evaluate(1, start, end)
	assert.NoError(t, err)
	assert.Equal(t, 1296.50, rec.Actual)
	assert.Equal(t, -0.42, rec.Deviation)
	assert.True(t, rec.Closed)
}

func TestEvaluateWithoutActiveModel(t *testing.T) {
	s, dao := testServer(t)

	sourceID, _ := dao.SaveEnergySource(&core.EnergySource{Name: "electrical", Unit: "kWh"})
	eq, _ := dao.SaveEquipment(&core.Equipment{Name: "fan-1", State: core.StateRunning})
	groupID, err := dao.SaveGroup("fans", sourceID, []uint{eq})
	assert.NoError(t, err)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err = s.Evaluate(groupID, start, start.AddDate(0, 1, 0))
	assert.Equal(t, pkgserver.ErrNoActiveModel, pkgserver.KindOf(err))
}

func TestQueryKPIUsesCache(t *testing.T) {
	s, dao := testServer(t)

	sourceID, _ := dao.SaveEnergySource(&core.EnergySource{Name: "electrical", Unit: "kWh", UnitCost: 0.5})
	eq, _ := dao.SaveEquipment(&core.Equipment{Name: "oven-1", State: core.StateRunning})
	groupID, err := dao.SaveGroup("ovens", sourceID, []uint{eq})
	assert.NoError(t, err)

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	rows := make([]*core.Rollup, 0, 24)
	for i := 0; i < 24; i++ {
		rows = append(rows, &core.Rollup{
			Tier: core.TierHour, EquipmentID: eq, BucketStart: start.Add(time.Duration(i) * time.Hour),
			Count: 60, Consumption: 10, RateMean: 10, RateMax: 12, ProductionSum: 50,
		})
	}
	assert.NoError(t, dao.SaveRollups(core.TierHour, eq, start, end, rows))

	bundle, err := s.QueryKPI(groupID, start, end)
	assert.NoError(t, err)
	assert.Equal(t, 240.0, bundle.TotalConsumption)
	assert.Equal(t, 1200.0, bundle.TotalProduction)
	// 价目表为空时回落到能源种类单位成本
	assert.InDelta(t, 120.0, bundle.Cost, 1e-9)
	if assert.NotNil(t, bundle.SpecificConsumption) {
		assert.InDelta(t, 0.2, *bundle.SpecificConsumption, 1e-9)
	}

	/*
		第二次查询命中缓存，底层数据删掉也返回同样结果
	*/
	assert.NoError(t, dao.DB().Where("1 = 1").Delete(&RollupDO{}).Error)
	cached, err := s.QueryKPI(groupID, start, end)
	assert.NoError(t, err)
	assert.Equal(t, bundle.TotalConsumption, cached.TotalConsumption)
}

func TestRegisterAdjustmentValidation(t *testing.T) {
	s, dao := testServer(t)

	sourceID, _ := dao.SaveEnergySource(&core.EnergySource{Name: "electrical", Unit: "kWh"})
	eq, _ := dao.SaveEquipment(&core.Equipment{Name: "mill-1", State: core.StateRunning})
	groupID, _ := dao.SaveGroup("mills", sourceID, []uint{eq})

	_, err := s.RegisterAdjustment(groupID, time.Now(), "")
	assert.Equal(t, pkgserver.ErrValidation, pkgserver.KindOf(err))

	adj, err := s.RegisterAdjustment(groupID, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), "更换电机")
	assert.NoError(t, err)
	assert.NotEmpty(t, adj.ID)

	latest, err := dao.LatestAdjustment(groupID)
	assert.NoError(t, err)
	if assert.NotNil(t, latest) {
		assert.Equal(t, adj.ID, latest.AdjustmentID)
	}
}
