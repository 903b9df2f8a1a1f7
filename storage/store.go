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
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/packetd/respd/protocol/resp"
)

const (
	defaultShards = 16
)

var (
	wrongTypeError  = resp.NewError("WRONGTYPE Operation against a key holding the wrong kind of value")
	notIntegerError = resp.NewError("value is not an integer or out of range")
	okStatus        = resp.NewSimpleString("OK")
)

type Config struct {
	Shards int `config:"shards"`
}

func (c Config) GetShards() int {
	if c.Shards <= 0 {
		return defaultShards
	}
	return c.Shards
}

// Store 键空间引擎
//
// 键空间按 xxhash 分为多个 shard 每个 shard 持有独立的互斥锁
// 单 key 命令在其所属 shard 的锁内完成【类型检查+读写】的完整序列
// 多 key 命令 (EXISTS) 逐 key 取锁 每个 key 观察到各自的一致时间点
// sweeper 走同一套取锁路径 与普通命令遵循相同的互斥纪律
type Store struct {
	shards []*shard
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*Value
}

// New 创建并返回 Store 实例
func New(conf Config) *Store {
	n := conf.GetShards()
	shards := make([]*shard, 0, n)
	for i := 0; i < n; i++ {
		shards = append(shards, &shard{
			entries: make(map[string]*Value),
		})
	}
	return &Store{shards: shards}
}

func (s *Store) shardOf(key string) *shard {
	return s.shards[xxhash.Sum64String(key)%uint64(len(s.shards))]
}

// getAlive 取出 key 对应的未过期条目 过期条目就地删除
//
// 任何读路径观察到过期条目都必须表现得如同 key 不存在
// 且在返回前将其从映射中移除 调用方需持有 shard 锁
func (sd *shard) getAlive(key string, now time.Time) (*Value, bool) {
	v, ok := sd.entries[key]
	if !ok {
		return nil, false
	}
	if v.expired(now) {
		delete(sd.entries, key)
		expiredKeysTotal.WithLabelValues("lazy").Inc()
		return nil, false
	}
	return v, true
}

// Set 写入字符串值 无条件覆盖任何既有条目及其类型
//
// expireAt 为零值表示不过期 过期时间允许位于过去 此时条目对读路径立即不可见
func (s *Store) Set(key, data string, expireAt time.Time) *resp.Frame {
	sd := s.shardOf(key)
	sd.mu.Lock()
	defer sd.mu.Unlock()

	sd.entries[key] = newStringValue(data, expireAt)
	return okStatus
}

// Get 读取字符串值
func (s *Store) Get(key string) *resp.Frame {
	sd := s.shardOf(key)
	sd.mu.Lock()
	defer sd.mu.Unlock()

	v, ok := sd.getAlive(key, time.Now())
	if !ok {
		return resp.NewNullBulkString()
	}
	if v.kind != KindString {
		return wrongTypeError
	}
	return resp.NewBulkString(v.data)
}

// IncrBy 对字符串值执行带符号的整数增减 INCR/DECR 分别传入 ±1
//
// key 不存在时以 delta 作为初始值创建 既有值必须是可选正负号加纯数字的十进制
// 增减保留原有的过期时间
func (s *Store) IncrBy(key string, delta int64) *resp.Frame {
	sd := s.shardOf(key)
	sd.mu.Lock()
	defer sd.mu.Unlock()

	v, ok := sd.getAlive(key, time.Now())
	if !ok {
		sd.entries[key] = newStringValue(strconv.FormatInt(delta, 10), time.Time{})
		return resp.NewInteger(delta)
	}
	if v.kind != KindString {
		return wrongTypeError
	}

	n, err := strconv.ParseInt(v.data, 10, 64)
	if err != nil {
		return notIntegerError
	}
	if (delta > 0 && n > math.MaxInt64-delta) || (delta < 0 && n < math.MinInt64-delta) {
		return notIntegerError
	}

	n += delta
	v.data = strconv.FormatInt(n, 10)
	return resp.NewInteger(n)
}

// Exists 统计给定 key 列表中当前存在的个数 同一 key 出现多次则计算多次
//
// 过期条目视为不存在 并在扫描过程中就地删除
func (s *Store) Exists(keys []string) *resp.Frame {
	var count int64
	for _, key := range keys {
		sd := s.shardOf(key)
		sd.mu.Lock()
		if _, ok := sd.getAlive(key, time.Now()); ok {
			count++
		}
		sd.mu.Unlock()
	}
	return resp.NewInteger(count)
}

// LPush 向列表头部依次插入元素 最后一个参数最终位于表头
//
// key 不存在时创建新列表 key 持有字符串时返回 WRONGTYPE
func (s *Store) LPush(key string, vals []string) *resp.Frame {
	sd := s.shardOf(key)
	sd.mu.Lock()
	defer sd.mu.Unlock()

	v, ok := sd.getAlive(key, time.Now())
	if !ok {
		v = newListValue()
		sd.entries[key] = v
	}
	if v.kind != KindList {
		return wrongTypeError
	}

	for _, val := range vals {
		v.items = append([]string{val}, v.items...)
	}
	return resp.NewInteger(int64(len(v.items)))
}

// RPush 向列表尾部依次追加元素
func (s *Store) RPush(key string, vals []string) *resp.Frame {
	sd := s.shardOf(key)
	sd.mu.Lock()
	defer sd.mu.Unlock()

	v, ok := sd.getAlive(key, time.Now())
	if !ok {
		v = newListValue()
		sd.entries[key] = v
	}
	if v.kind != KindList {
		return wrongTypeError
	}

	v.items = append(v.items, vals...)
	return resp.NewInteger(int64(len(v.items)))
}

// LRange 读取列表 [start, stop] 闭区间内的元素
//
// 负数索引从表尾折算 start 截断至 [0, L] stop 截断至 [-1, L-1]
// key 不存在返回空数组 区间为空同样返回空数组
func (s *Store) LRange(key string, start, stop int64) *resp.Frame {
	sd := s.shardOf(key)
	sd.mu.Lock()
	defer sd.mu.Unlock()

	v, ok := sd.getAlive(key, time.Now())
	if !ok {
		return resp.NewArray()
	}
	if v.kind != KindList {
		return wrongTypeError
	}

	length := int64(len(v.items))
	if start < 0 {
		start += length
		if start < 0 {
			start = 0
		}
	}
	if stop < 0 {
		stop += length
	}
	if start > length {
		start = length
	}
	if stop > length-1 {
		stop = length - 1
	}
	if start > stop {
		return resp.NewArray()
	}

	elems := make([]*resp.Frame, 0, stop-start+1)
	for _, item := range v.items[start : stop+1] {
		elems = append(elems, resp.NewBulkString(item))
	}
	return resp.NewArray(elems...)
}

// Len 返回当前键空间的条目总数 含逻辑上已过期但尚未回收的条目
func (s *Store) Len() int {
	var total int
	for _, sd := range s.shards {
		sd.mu.Lock()
		total += len(sd.entries)
		sd.mu.Unlock()
	}
	return total
}

// ShardLens 返回每个 shard 的条目数
func (s *Store) ShardLens() []int {
	lens := make([]int, 0, len(s.shards))
	for _, sd := range s.shards {
		sd.mu.Lock()
		lens = append(lens, len(sd.entries))
		sd.mu.Unlock()
	}
	return lens
}

// Keys 采样返回至多 limit 个 key 仅用于管理接口的观测
func (s *Store) Keys(limit int) []string {
	keys := make([]string, 0, limit)
	for _, sd := range s.shards {
		sd.mu.Lock()
		for key := range sd.entries {
			if len(keys) >= limit {
				sd.mu.Unlock()
				return keys
			}
			keys = append(keys, key)
		}
		sd.mu.Unlock()
	}
	return keys
}

// VolatileKeys 返回所有携带过期时间的字符串 key 即 sweeper 的候选集合
func (s *Store) VolatileKeys() []string {
	var keys []string
	for _, sd := range s.shards {
		sd.mu.Lock()
		for key, v := range sd.entries {
			if v.volatile() {
				keys = append(keys, key)
			}
		}
		sd.mu.Unlock()
	}
	return keys
}

// RemoveExpired 删除 now 时刻已过期的条目 删除成功返回 true
func (s *Store) RemoveExpired(key string, now time.Time) bool {
	sd := s.shardOf(key)
	sd.mu.Lock()
	defer sd.mu.Unlock()

	v, ok := sd.entries[key]
	if !ok || !v.expired(now) {
		return false
	}
	delete(sd.entries, key)
	expiredKeysTotal.WithLabelValues("sweeper").Inc()
	return true
}
