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

package controller

import (
	"github.com/hashicorp/go-multierror"

	"github.com/packetd/respd/aof"
	"github.com/packetd/respd/command"
	"github.com/packetd/respd/common"
	"github.com/packetd/respd/confengine"
	"github.com/packetd/respd/logger"
	"github.com/packetd/respd/server"
	"github.com/packetd/respd/storage"
)

// StorageConfig 键空间与回收任务配置
type StorageConfig struct {
	Shards  int                   `config:"shards"`
	Sweeper storage.SweeperConfig `config:"sweeper"`
}

// Controller 负责组装并管理所有组件的生命周期
//
// 组件依赖关系为 store ← dispatcher ← server 以及独立运行的 sweeper
// aof 和 admin 均为可选组件 未启用时保持空指针
type Controller struct {
	buildInfo common.BuildInfo

	store    *storage.Store
	sweeper  *storage.Sweeper
	appender *aof.Appender
	svr      *server.Server
	admin    *adminServer
}

func setupLogger(conf *confengine.Config) error {
	var opts logger.Options
	if err := conf.UnpackChild("logger", &opts); err != nil {
		return err
	}

	if opts.Filename == "" {
		opts.Filename = "respd.log"
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 10
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 7
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = 100
	}

	logger.SetOptions(opts)
	return nil
}

// New 创建并返回 Controller 实例
func New(conf *confengine.Config, buildInfo common.BuildInfo) (*Controller, error) {
	if err := setupLogger(conf); err != nil {
		return nil, err
	}

	var storageConf StorageConfig
	if err := conf.UnpackChild("storage", &storageConf); err != nil {
		return nil, err
	}
	store := storage.New(storage.Config{Shards: storageConf.Shards})
	sweeper := storage.NewSweeper(store, storageConf.Sweeper)

	var aofConf aof.Config
	if err := conf.UnpackChild("aof", &aofConf); err != nil {
		return nil, err
	}

	var appender *aof.Appender
	var observer command.Observer
	if aofConf.Enabled {
		var err error
		appender, err = aof.New(aofConf)
		if err != nil {
			return nil, err
		}
		observer = appender
		logger.Infof("aof enabled, path=%s fsync=%s", aofConf.GetPath(), aofConf.GetFsync())
	}

	var serverConf server.Config
	if err := conf.UnpackChild("server", &serverConf); err != nil {
		return nil, err
	}
	svr := server.New(serverConf, command.New(store, observer))

	c := &Controller{
		buildInfo: buildInfo,
		store:     store,
		sweeper:   sweeper,
		appender:  appender,
		svr:       svr,
	}

	admin, err := newAdminServer(conf, c)
	if err != nil {
		return nil, err
	}
	c.admin = admin
	return c, nil
}

// Start 启动所有组件 监听地址绑定失败视为致命错误
func (c *Controller) Start() error {
	if err := c.svr.Listen(); err != nil {
		return err
	}

	go c.svr.Serve()
	c.sweeper.Start()
	if c.admin != nil {
		c.admin.Start()
	}
	return nil
}

// Stop 依次停止所有组件并聚合各自的关闭错误
func (c *Controller) Stop() error {
	var errs *multierror.Error

	errs = multierror.Append(errs, c.svr.Close())
	c.sweeper.Stop()

	if c.admin != nil {
		errs = multierror.Append(errs, c.admin.Close())
	}
	if c.appender != nil {
		errs = multierror.Append(errs, c.appender.Close())
	}
	return errs.ErrorOrNil()
}

// Reload 重载配置 仅日志配置支持热更新 其余配置为启动期配置
func (c *Controller) Reload(conf *confengine.Config) error {
	return setupLogger(conf)
}
