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

var detectContamination float64

// detectCmd represents the detect command
var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "触发一次异常检测",
	Long: "对一个组在指定窗口内的设备日能耗做离群检测，并输出产生的异常记录。\n" +
		"对同一窗口重跑只会更新既有记录，不会产生重复。\n",
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
		findings, err := api.Detect(&server.DetectRequest{
			GroupID:       groupID,
			WindowStart:   start,
			WindowEnd:     end,
			Contamination: detectContamination,
		})
		if err != nil {
			return err
		}

		for _, f := range findings {
			fmt.Printf("%s 设备%d %s 实际=%.2f 预期=%.2f 分值=%.3f %s\n",
				f.Timestamp.Format("2006-01-02"), f.EquipmentID, f.Metric,
				f.Actual, f.Expected, f.Score, f.Severity)
		}
		fmt.Printf("共%d条异常记录\n", len(findings))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(detectCmd)

	detectCmd.Flags().StringVarP(&serverUrl, FlagServerUrl, "s", "",
		"服务器地址。若为空，则使用集群内默认地址")
	detectCmd.Flags().UintVarP(&groupID, FlagGroup, "g", 0,
		"重点用能单元的组ID")
	detectCmd.Flags().StringVar(&windowStart, FlagWindowStart, "",
		"检测窗口起点，RFC3339格式")
	detectCmd.Flags().StringVar(&windowEnd, FlagWindowEnd, "",
		"检测窗口终点，RFC3339格式")
	detectCmd.Flags().Float64Var(&detectContamination, FlagContamination, 0,
		"预期离群比例。为0时使用服务器配置")

	_ = detectCmd.MarkFlagRequired(FlagGroup)
	_ = detectCmd.MarkFlagRequired(FlagWindowStart)
	_ = detectCmd.MarkFlagRequired(FlagWindowEnd)
}
