// Copyright 2025 The respd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/packetd/respd/common"
	"github.com/packetd/respd/confengine"
	"github.com/packetd/respd/controller"
	"github.com/packetd/respd/internal/sigs"
	"github.com/packetd/respd/logger"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the RESP key/value server",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}

		ctr, err := controller.New(cfg, common.BuildInfo{
			Version: version,
			GitHash: gitHash,
			Time:    buildTime,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create controller: %v\n", err)
			os.Exit(1)
		}
		if err := ctr.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to start controller: %v\n", err)
			os.Exit(1)
		}

		var reloadTotal int
		for {
			select {
			case <-sigs.Terminate():
				if err := ctr.Stop(); err != nil {
					logger.Warnf("controller stopped with error: %v", err)
				}
				return

			case <-sigs.Reload():
				reloadTotal++

				// 需要重新加载配置文件 reload 失败则保持原配置运行
				cfg, err := loadConfig()
				if err != nil {
					fmt.Fprintf(os.Stderr, "failed to load config (count=%d): %v\n", reloadTotal, err)
					continue
				}

				start := time.Now()
				if err := ctr.Reload(cfg); err != nil {
					logger.Errorf("failed to reload config: %v", err)
				}
				logger.Infof("reload (count=%d) take %s", reloadTotal, time.Since(start))
			}
		}
	},
	Example: "# respd server --config respd.yaml",
}

var configPath string

// loadConfig 读取配置文件 未指定路径时使用内置默认配置 指定的文件不存在时返回错误
func loadConfig() (*confengine.Config, error) {
	if configPath == "" {
		return confengine.LoadContent(defaultConfig())
	}
	if _, err := os.Stat(configPath); err != nil {
		return nil, err
	}
	return confengine.LoadConfigPath(configPath)
}

func defaultConfig() []byte {
	return []byte(`
server:
  address: "0.0.0.0:6379"

logger:
  stdout: true
`)
}

func init() {
	serverCmd.Flags().StringVar(&configPath, "config", "", "Configuration file path")
	rootCmd.AddCommand(serverCmd)
}
