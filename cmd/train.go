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
	"fmt"
	"time"

	"github.com/enersight/energy-analytics/pkg/client"
	"github.com/enersight/energy-analytics/pkg/server"
	"github.com/spf13/cobra"
)

const (
	FlagServerUrl   = "server-url"
	FlagGroup       = "group"
	FlagWindowStart = "window-start"
	FlagWindowEnd   = "window-end"
	FlagFeatures    = "features"
	FlagNoIntercept = "no-intercept"
)

var (
	serverUrl   string
	groupID     uint
	windowStart string
	windowEnd   string
	features    []string
	noIntercept bool
)

// trainCmd represents the train command
var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "触发一次基线训练",
	Long: "向一个已运行的服务器发起训练请求。窗口内每个报告日构成一个样本，\n" +
		"样本不足或拟合质量未达标时会输出结构化错误。\n",
	RunE: func(cmd *cobra.Command, args []string) error {
		start, err := time.Parse(time.RFC3339, windowStart)
		if err != nil {
			return fmt.Errorf("window-start不是合法的RFC3339时间: %v", err)
		}
		end, err := time.Parse(time.RFC3339, windowEnd)
		if err != nil {
			return fmt.Errorf("window-end不是合法的RFC3339时间: %v", err)
		}

		api := client.NewApiClient(serverUrl)
		summary, err := api.Train(&server.TrainRequest{
			GroupID:     groupID,
			WindowStart: start,
			WindowEnd:   end,
			Features:    features,
			NoIntercept: noIntercept,
		})
		if err != nil {
			return err
		}

		fmt.Printf("组%d版本%d：%s\n", summary.GroupID, summary.Version, summary.Formula())
		fmt.Printf("R²=%.4f RMSE=%.4f MAE=%.4f 样本数=%d 活跃=%v\n",
			summary.R2, summary.RMSE, summary.MAE, summary.SampleCount, summary.Active)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(trainCmd)

	trainCmd.Flags().StringVarP(&serverUrl, FlagServerUrl, "s", "",
		"服务器地址。若为空，则使用集群内默认地址")
	trainCmd.Flags().UintVarP(&groupID, FlagGroup, "g", 0,
		"重点用能单元的组ID")
	trainCmd.Flags().StringVar(&windowStart, FlagWindowStart, "",
		"训练窗口起点，RFC3339格式")
	trainCmd.Flags().StringVar(&windowEnd, FlagWindowEnd, "",
		"训练窗口终点，RFC3339格式")
	trainCmd.Flags().StringSliceVarP(&features, FlagFeatures, "f", nil,
		"特征名列表。若为空，则使用该能源种类的全部可用特征")
	trainCmd.Flags().BoolVar(&noIntercept, FlagNoIntercept, false,
		"不带截距拟合")

	_ = trainCmd.MarkFlagRequired(FlagGroup)
	_ = trainCmd.MarkFlagRequired(FlagWindowStart)
	_ = trainCmd.MarkFlagRequired(FlagWindowEnd)
}
