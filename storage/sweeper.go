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

package storage

import (
	"context"
	"math/rand"
	"time"

	"github.com/packetd/respd/internal/rescue"
	"github.com/packetd/respd/logger"
)

const (
	defaultSweepInterval = 100 * time.Millisecond
	defaultSweepSamples  = 20
)

type SweeperConfig struct {
	Interval time.Duration `config:"interval"`
	Samples  int           `config:"samples"`
}

func (c SweeperConfig) GetInterval() time.Duration {
	if c.Interval <= 0 {
		return defaultSweepInterval
	}
	return c.Interval
}

func (c SweeperConfig) GetSamples() int {
	if c.Samples <= 0 {
		return defaultSweepSamples
	}
	return c.Samples
}

// Sweeper 周期性的主动过期回收任务
//
// 每一轮从携带过期时间的 key 集合中无放回地随机采样至多 Samples 个
// 逐一删除其中已过期者 若本轮过期比例超过 1/4 则立刻开始下一轮不再休眠
// 过期压力大时回收速度随之自适应加快
//
// 删除走 Store 的取锁路径 与用户命令遵循相同的互斥纪律
// 惰性过期保证了读的正确性 Sweeper 仅负责尽快回收内存
type Sweeper struct {
	store  *Store
	config SweeperConfig
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper 创建并返回 Sweeper 实例
func NewSweeper(store *Store, conf SweeperConfig) *Sweeper {
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		store:  store,
		config: conf,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Start 启动后台回收循环
func (s *Sweeper) Start() {
	go func() {
		defer rescue.HandleCrash()
		defer close(s.done)
		s.loop()
	}()
}

// Stop 停止回收循环并等待其退出
func (s *Sweeper) Stop() {
	s.cancel()
	<-s.done
}

func (s *Sweeper) loop() {
	interval := s.config.GetInterval()
	logger.Infof("sweeper started, interval=%s samples=%d", interval, s.config.GetSamples())

	for {
		deleted, sampled := s.sweepOnce()
		if deleted > 0 {
			logger.Debugf("sweeper reclaimed %d/%d sampled keys", deleted, sampled)
		}

		// 本轮采样中过期比例超过 1/4 说明堆积明显 立刻继续
		if sampled > 0 && deleted*4 > sampled {
			continue
		}

		select {
		case <-time.After(interval):
		case <-s.ctx.Done():
			return
		}
	}
}

// sweepOnce 执行一轮采样回收 返回删除数与采样数
func (s *Sweeper) sweepOnce() (int, int) {
	sweeperRunsTotal.Inc()

	candidates := s.store.VolatileKeys()
	if len(candidates) == 0 {
		return 0, 0
	}

	sampled := s.config.GetSamples()
	if sampled > len(candidates) {
		sampled = len(candidates)
	}

	now := time.Now()
	var deleted int
	for _, idx := range rand.Perm(len(candidates))[:sampled] {
		if s.store.RemoveExpired(candidates[idx], now) {
			deleted++
		}
	}
	return deleted, sampled
}
