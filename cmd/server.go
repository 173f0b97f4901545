/*
Copyright © 2020 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"time"

	"github.com/enersight/energy-analytics/internal/server"
	"github.com/enersight/energy-analytics/pkg/core"
	"github.com/spf13/cobra"
)

const (
	FlagPort           = "port"
	FlagMysqlHost      = "mysql-host"
	FlagRedisAddr      = "redis-addr"
	FlagRetentionDays  = "retention-days"
	FlagTrainHour      = "train-hour"
	FlagProfileHour    = "profile-hour"
	FlagSweepInterval  = "sweep-interval"
	FlagProfileDays    = "profile-days"
	FlagNumClass       = "class"
	FlagMinSamples     = "min-samples"
	FlagMinR2          = "min-r2"
	FlagContamination  = "contamination"
	FlagCompliantPct   = "compliant-pct"
	FlagWarningPct     = "warning-pct"
	FlagDefaultTariff  = "default-tariff"
	FlagEmissionFactor = "default-emission-factor"
	FlagRegion         = "region"
	FlagLogLevel       = "log-level"
	FlagLogFormat      = "log-format"
)

var (
	port           uint16
	mysqlHost      string
	redisAddr      string
	retentionDays  int
	trainHour      int
	profileHour    int
	sweepInterval  time.Duration
	profileDays    int
	numClass       uint
	minSamples     int
	minR2          float64
	contamination  float64
	compliantPct   float64
	warningPct     float64
	defaultTariff  float64
	emissionFactor float64
	region         string
	logLevel       string
	logFormat      string
)

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "能耗分析服务器",
	Long: "本服务器持续把采集边界写入的原始读数按刻钟、小时、天三个层级聚合，\n" +
		"每天定时（通过train-hour设置）重训各个重点用能单元的能耗基线，\n" +
		"周期性（通过sweep-interval设置）对设备日能耗做异常检测，\n" +
		"并通过HTTP接口提供聚合查询、偏差评级、KPI与负荷形态归类结果。\n",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := server.NewServer(&server.ServerConfig{
			Port:                  port,
			MysqlHost:             mysqlHost,
			RedisAddr:             redisAddr,
			RetentionDays:         retentionDays,
			TrainHour:             trainHour,
			ProfileHour:           profileHour,
			SweepInterval:         sweepInterval,
			ProfileDays:           profileDays,
			NumClass:              numClass,
			MinSamples:            minSamples,
			MinR2:                 minR2,
			Contamination:         contamination,
			CompliantPct:          compliantPct,
			WarningPct:            warningPct,
			DefaultTariff:         defaultTariff,
			DefaultEmissionFactor: emissionFactor,
			Region:                region,
			LogLevel:              logLevel,
			LogFormat:             logFormat,
		})
		if err != nil {
			return err
		}

		return s.Start()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().Uint16VarP(&port, FlagPort, "p", server.DefaultPort,
		"服务端口号")
	serverCmd.Flags().StringVar(&mysqlHost, FlagMysqlHost, "",
		"Mysql服务器主机端口，格式为：host:port。若为空，则读取环境变量MYSQL_SERVICE_HOST与MYSQL_SERVICE_PORT取得")
	serverCmd.Flags().StringVar(&redisAddr, FlagRedisAddr, "",
		"Redis地址，格式为：host:port。若为空，则关闭查询缓存")
	serverCmd.Flags().IntVar(&retentionDays, FlagRetentionDays, core.DefaultRetentionDays,
		"原始读数保留天数，所有层级定稿后才会删除")
	serverCmd.Flags().IntVarP(&trainHour, FlagTrainHour, "t", server.DefaultTrainHour,
		"每天定时重训基线的UTC小时")
	serverCmd.Flags().IntVar(&profileHour, FlagProfileHour, server.DefaultProfileHour,
		"每天定时重聚类负荷形态的UTC小时")
	serverCmd.Flags().DurationVar(&sweepInterval, FlagSweepInterval, server.DefaultSweepInterval,
		"异常检测扫描周期")
	serverCmd.Flags().IntVar(&profileDays, FlagProfileDays, server.DefaultProfileDays,
		"负荷形态聚类的回看天数")
	serverCmd.Flags().UintVarP(&numClass, FlagNumClass, "c", server.DefaultNumClass,
		"负荷形态类别数量")
	serverCmd.Flags().IntVar(&minSamples, FlagMinSamples, 14,
		"基线训练的最小样本数")
	serverCmd.Flags().Float64Var(&minR2, FlagMinR2, core.DefaultMinR2,
		"模型激活要求的最低R²，低于该值的模型按非活跃保存")
	serverCmd.Flags().Float64Var(&contamination, FlagContamination, core.DefaultContamination,
		"异常检测的预期离群比例，取值在0到1之间")
	serverCmd.Flags().Float64Var(&compliantPct, FlagCompliantPct, core.DefaultCompliantPct,
		"合规等级阈值，|偏差%|不超过该值为compliant")
	serverCmd.Flags().Float64Var(&warningPct, FlagWarningPct, core.DefaultWarningPct,
		"警告等级阈值，|偏差%|不超过该值为warning，超过为critical")
	serverCmd.Flags().Float64Var(&defaultTariff, FlagDefaultTariff, 0,
		"价目表未命中时的默认单价。为0时使用能源种类自身的单位成本")
	serverCmd.Flags().Float64Var(&emissionFactor, FlagEmissionFactor, 0,
		"排放因子表未命中时的默认因子。为0时使用能源种类自身的排放因子")
	serverCmd.Flags().StringVar(&region, FlagRegion, "",
		"排放因子匹配使用的区域名")
	serverCmd.Flags().StringVar(&logLevel, FlagLogLevel, "info",
		"日志级别：debug、info、warn、error")
	serverCmd.Flags().StringVar(&logFormat, FlagLogFormat, "json",
		"日志格式：json或console")
}
