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
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/packetd/respd/protocol/resp"
)

func TestSweepOnce(t *testing.T) {
	store := newTestStore()
	sweeper := NewSweeper(store, SweeperConfig{Samples: 20})

	// 无候选集合
	deleted, sampled := sweeper.sweepOnce()
	assert.Equal(t, 0, deleted)
	assert.Equal(t, 0, sampled)

	for i := 0; i < 10; i++ {
		store.Set("dead"+strconv.Itoa(i), "v", time.Now().Add(-time.Second))
	}
	store.Set("alive", "v", time.Now().Add(time.Hour))
	store.Set("forever", "v", time.Time{})

	deleted, sampled = sweeper.sweepOnce()
	assert.Equal(t, 10, deleted)
	assert.Equal(t, 11, sampled)

	// 不携带过期时间的条目和未到期条目不受影响
	assert.Equal(t, 2, store.Len())
	assert.Equal(t, resp.NewBulkString("v"), store.Get("alive"))
	assert.Equal(t, resp.NewBulkString("v"), store.Get("forever"))
}

func TestSweepOnceSampleBound(t *testing.T) {
	store := newTestStore()
	sweeper := NewSweeper(store, SweeperConfig{Samples: 20})

	for i := 0; i < 100; i++ {
		store.Set("dead"+strconv.Itoa(i), "v", time.Now().Add(-time.Second))
	}

	// 单轮至多采样 Samples 个
	deleted, sampled := sweeper.sweepOnce()
	assert.Equal(t, 20, sampled)
	assert.Equal(t, 20, deleted)
	assert.Equal(t, 80, store.Len())
}

func TestSweeperReclaimsAll(t *testing.T) {
	store := newTestStore()

	// TTL 梯度分布 验证多轮采样后全部物理回收
	for i := 0; i < 10; i++ {
		ttl := time.Duration(i%5+1) * 10 * time.Millisecond
		store.Set("key"+strconv.Itoa(i), "v", time.Now().Add(ttl))
	}

	sweeper := NewSweeper(store, SweeperConfig{Interval: 5 * time.Millisecond, Samples: 4})
	sweeper.Start()
	defer sweeper.Stop()

	// 多个周期后 sweeper 独立完成物理回收 任何内部枚举都看不到残留
	// 注意此处不先行 Get 避免惰性过期抢先删除
	assert.Eventually(t, func() bool {
		return store.Len() == 0 && len(store.VolatileKeys()) == 0
	}, time.Second, 10*time.Millisecond)

	for i := 0; i < 10; i++ {
		assert.Equal(t, resp.NewNullBulkString(), store.Get("key"+strconv.Itoa(i)))
	}
}

func TestSweeperStop(t *testing.T) {
	store := newTestStore()
	sweeper := NewSweeper(store, SweeperConfig{Interval: 5 * time.Millisecond})
	sweeper.Start()
	sweeper.Stop()

	// Stop 返回后循环必定已经退出 再次写入不会被回收
	store.Set("k", "v", time.Now().Add(-time.Second))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, store.Len())
}
