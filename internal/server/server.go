package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/enersight/energy-analytics/internal/aggregation"
	"github.com/enersight/energy-analytics/internal/logger"
	"github.com/enersight/energy-analytics/pkg/core"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	DefaultPort          = 2000
	DefaultTrainHour     = 2
	DefaultProfileHour   = 3
	DefaultSweepInterval = 6 * time.Hour
	DefaultNumClass      = 8
	DefaultProfileDays   = 14
)

type ServerConfig struct {
	Port      uint16 // 本服务器监听端口
	MysqlHost string
	RedisAddr string // 为空时关闭缓存

	RetentionDays int           // 原始读数保留天数
	TrainHour     int           // 每日自动重训的小时（UTC）
	ProfileHour   int           // 每日负荷形态重聚类的小时（UTC）
	SweepInterval time.Duration // 异常检测扫描周期
	ProfileDays   int           // 形态聚类回看天数
	NumClass      uint          // 形态类别数量

	MinSamples    int     // 训练最小样本数
	MinR2         float64 // 活跃模型的最低拟合质量
	Contamination float64 // 异常检测污染率
	CompliantPct  float64 // 合规阈值（百分比）
	WarningPct    float64 // 警告阈值（百分比）

	DefaultTariff         float64 // 费率表未命中时的单价
	DefaultEmissionFactor float64 // 排放因子表未命中时的因子
	Region                string  // 排放因子匹配的区域

	LogLevel  string
	LogFormat string
}

func (s ServerConfig) String() string {
	marshal, _ := json.Marshal(s)
	return string(marshal)
}

func (config *ServerConfig) Complete() error {
	if config.Port < 1024 {
		return fmt.Errorf("端口号应该在1024到65535之间，现在为%d", config.Port)
	}
	if config.MysqlHost == "" {
		config.MysqlHost = fmt.Sprintf("%s:%s",
			os.Getenv("MYSQL_SERVICE_HOST"), os.Getenv("MYSQL_SERVICE_PORT"))
	}

	if config.RetentionDays <= 0 {
		config.RetentionDays = core.DefaultRetentionDays
	}
	if config.TrainHour < 0 || config.TrainHour > 23 {
		return fmt.Errorf("重训小时应该在0到23之间，现在为%d", config.TrainHour)
	}
	if config.ProfileHour < 0 || config.ProfileHour > 23 {
		return fmt.Errorf("重聚类小时应该在0到23之间，现在为%d", config.ProfileHour)
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultSweepInterval
	}
	if config.ProfileDays <= 0 {
		config.ProfileDays = DefaultProfileDays
	}
	if config.NumClass == 0 {
		return fmt.Errorf("形态类别数目不能为0")
	}

	if config.MinSamples <= 0 {
		return fmt.Errorf("训练最小样本数不能为%d", config.MinSamples)
	}
	if config.MinR2 <= 0 {
		config.MinR2 = core.DefaultMinR2
	}
	if config.Contamination <= 0 {
		config.Contamination = core.DefaultContamination
	}
	if config.Contamination >= 1 {
		return fmt.Errorf("污染率应该在0到1之间，现在为%f", config.Contamination)
	}
	if config.CompliantPct <= 0 {
		config.CompliantPct = core.DefaultCompliantPct
	}
	if config.WarningPct <= 0 {
		config.WarningPct = core.DefaultWarningPct
	}
	if config.WarningPct < config.CompliantPct {
		return fmt.Errorf("警告阈值%f不能低于合规阈值%f", config.WarningPct, config.CompliantPct)
	}

	return nil
}

type Server interface {
	Start() error
}

func NewServer(config *ServerConfig) (Server, error) {
	if err := config.Complete(); err != nil {
		return nil, err
	}

	log, err := logger.New(config.LogLevel, config.LogFormat, "analytics-server")
	if err != nil {
		return nil, err
	}

	dao, err := NewDao(config.MysqlHost, log)
	if err != nil {
		return nil, err
	}

	tiers := aggregation.DefaultTiers()
	if err := aggregation.ValidateChain(tiers); err != nil {
		return nil, errors.Wrap(err, "层级链配置不合法")
	}

	var kv KVStore
	if config.RedisAddr != "" {
		kv = NewRedisKVStore(config.RedisAddr)
	}

	s := &serverImpl{
		config:         config,
		dao:            dao,
		kv:             kv,
		logger:         log,
		tiers:          tiers,
		executeRefresh: make(map[core.TierName]chan struct{}, len(tiers)),
	}
	for _, t := range tiers {
		s.executeRefresh[t.Name] = make(chan struct{})
	}
	return s, nil
}

type serverImpl struct {
	config *ServerConfig
	dao    Dao
	kv     KVStore
	logger *zap.Logger
	tiers  []aggregation.TierSpec

	executeRefresh map[core.TierName]chan struct{}
}

func (s *serverImpl) Start() error {
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.logger.Info("server starting", zap.String("config", s.config.String()))

	for _, t := range s.tiers {
		go s.refresher(rootCtx, t)
	}
	go s.retentionPurger(rootCtx)
	go s.retrainer(rootCtx)
	go s.sweeper(rootCtx)
	go s.profiler(rootCtx)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Port),
		Handler: s.buildRouter(),
	}
	errCh := make(chan error)
	go func() {
		err := server.ListenAndServe()
		if err == http.ErrServerClosed {
			err = nil
		}
		errCh <- err
	}()

	termSigChan := make(chan os.Signal, 1)
	signal.Notify(termSigChan, syscall.SIGTERM, syscall.SIGINT)

	<-termSigChan
	s.logger.Info("shutdown signal received")
	if err := server.Shutdown(rootCtx); err != nil {
		return errors.Wrap(err, "关闭HTTP服务器失败")
	}
	cancel()

	if err := <-errCh; err != nil {
		return errors.Wrap(err, "HTTP关闭出现错误")
	}
	return nil
}
