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

package aof

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/packetd/respd/internal/rescue"
	"github.com/packetd/respd/logger"
)

// Fsync 落盘策略
const (
	FsyncAlways   = "always"
	FsyncEverySec = "everysec"
	FsyncNo       = "no"
)

type Config struct {
	Enabled bool   `config:"enabled"`
	Path    string `config:"path"`
	Fsync   string `config:"fsync"`
}

func (c Config) GetPath() string {
	if c.Path == "" {
		return "respd.aof"
	}
	return c.Path
}

func (c Config) GetFsync() string {
	switch c.Fsync {
	case FsyncAlways, FsyncEverySec, FsyncNo:
		return c.Fsync
	}
	return FsyncEverySec
}

// Appender 追加式写日志 即命令分发器的写侧观察者
//
// 接收写命令的原始 RESP 帧字节并按执行顺序落盘 不负责回放
// 追加以互斥锁串行 Fsync 策略决定数据可丢失的窗口大小
type Appender struct {
	mu     sync.Mutex
	f      *os.File
	config Config
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New 创建并返回 Appender 实例
//
// 文件以追加模式打开 everysec 策略会启动一个后台刷盘循环
func New(conf Config) (*Appender, error) {
	f, err := os.OpenFile(conf.GetPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open aof file")
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Appender{
		f:      f,
		config: conf,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	if conf.GetFsync() == FsyncEverySec {
		go func() {
			defer rescue.HandleCrash()
			defer close(a.done)
			a.syncLoop()
		}()
	} else {
		close(a.done)
	}
	return a, nil
}

// Append 实现 command.Observer 接口 写入失败仅记录日志
//
// 观察者不在命令执行的关键路径上报告错误 键空间状态始终是权威的
func (a *Appender) Append(raw []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, err := a.f.Write(raw); err != nil {
		logger.Errorf("aof append failed: %v", err)
		return
	}
	if a.config.GetFsync() == FsyncAlways {
		if err := a.f.Sync(); err != nil {
			logger.Errorf("aof fsync failed: %v", err)
		}
	}
}

func (a *Appender) syncLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.mu.Lock()
			if err := a.f.Sync(); err != nil {
				logger.Errorf("aof fsync failed: %v", err)
			}
			a.mu.Unlock()

		case <-a.ctx.Done():
			return
		}
	}
}

// Close 停止刷盘循环 执行最后一次 Sync 并关闭文件
func (a *Appender) Close() error {
	a.cancel()
	<-a.done

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.f.Sync(); err != nil {
		logger.Warnf("aof final fsync failed: %v", err)
	}
	return a.f.Close()
}
