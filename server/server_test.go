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

package server

import (
	"context"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetd/respd/command"
	"github.com/packetd/respd/storage"
)

func startTestServer(t *testing.T) string {
	t.Helper()

	store := storage.New(storage.Config{})
	sweeper := storage.NewSweeper(store, storage.SweeperConfig{Interval: 10 * time.Millisecond})
	sweeper.Start()

	svr := New(Config{Address: "127.0.0.1:0"}, command.New(store, nil))
	require.NoError(t, svr.Listen())
	go svr.Serve()

	t.Cleanup(func() {
		svr.Close()
		sweeper.Stop()
	})
	return svr.Addr().String()
}

func dialRaw(t *testing.T, addr string) net.Conn {
	t.Helper()
	nc, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { nc.Close() })
	return nc
}

// readBytes 读取恰好 n 个字节 测试中的响应长度均为已知
func readBytes(t *testing.T, nc net.Conn, n int) string {
	t.Helper()
	nc.SetReadDeadline(time.Now().Add(3 * time.Second))
	b := make([]byte, n)
	_, err := io.ReadFull(nc, b)
	require.NoError(t, err)
	return string(b)
}

func roundTrip(t *testing.T, nc net.Conn, request, want string) {
	t.Helper()
	_, err := nc.Write([]byte(request))
	require.NoError(t, err)
	assert.Equal(t, want, readBytes(t, nc, len(want)))
}

func TestServerScenarios(t *testing.T) {
	addr := startTestServer(t)
	nc := dialRaw(t, addr)

	roundTrip(t, nc, "*1\r\n$4\r\nPING\r\n", "+PONG\r\n")

	roundTrip(t, nc, "*3\r\n$3\r\nSET\r\n$3\r\nfoo\r\n$3\r\nbar\r\n", "+OK\r\n")
	roundTrip(t, nc, "*2\r\n$3\r\nGET\r\n$3\r\nfoo\r\n", "$3\r\nbar\r\n")

	roundTrip(t, nc, "*2\r\n$4\r\nINCR\r\n$1\r\nc\r\n", ":1\r\n")
	roundTrip(t, nc, "*2\r\n$4\r\nINCR\r\n$1\r\nc\r\n", ":2\r\n")
	roundTrip(t, nc, "*2\r\n$4\r\nINCR\r\n$1\r\nc\r\n", ":3\r\n")

	roundTrip(t, nc, "*4\r\n$5\r\nLPUSH\r\n$1\r\nL\r\n$1\r\na\r\n$1\r\nb\r\n", ":2\r\n")
	roundTrip(t, nc, "*4\r\n$6\r\nLRANGE\r\n$1\r\nL\r\n$1\r\n0\r\n$2\r\n-1\r\n", "*2\r\n$1\r\nb\r\n$1\r\na\r\n")

	// 字符串 key 上的列表操作
	roundTrip(t, nc, "*4\r\n$6\r\nLRANGE\r\n$3\r\nfoo\r\n$1\r\n0\r\n$2\r\n-1\r\n",
		"-WRONGTYPE Operation against a key holding the wrong kind of value\r\n")
}

func TestServerKeyExpiry(t *testing.T) {
	addr := startTestServer(t)
	nc := dialRaw(t, addr)

	roundTrip(t, nc, "*5\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\nv\r\n$2\r\nPX\r\n$2\r\n80\r\n", "+OK\r\n")
	roundTrip(t, nc, "*2\r\n$3\r\nGET\r\n$1\r\nk\r\n", "$1\r\nv\r\n")

	time.Sleep(150 * time.Millisecond)
	roundTrip(t, nc, "*2\r\n$3\r\nGET\r\n$1\r\nk\r\n", "$-1\r\n")
}

func TestServerFragmentedRequest(t *testing.T) {
	addr := startTestServer(t)
	nc := dialRaw(t, addr)

	// 单个请求被切成任意小块到达 解析器要能够拼接还原
	payload := "*2\r\n$4\r\nECHO\r\n$5\r\nhello\r\n"
	for i := 0; i < len(payload); i += 3 {
		end := i + 3
		if end > len(payload) {
			end = len(payload)
		}
		_, err := nc.Write([]byte(payload[i:end]))
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, "$5\r\nhello\r\n", readBytes(t, nc, 11))
}

func TestServerPipelinedRequests(t *testing.T) {
	addr := startTestServer(t)
	nc := dialRaw(t, addr)

	// 单次写入包含多个请求 响应按请求顺序逐个返回
	roundTrip(t, nc, "*1\r\n$4\r\nPING\r\n*1\r\n$4\r\nPING\r\n*2\r\n$4\r\nINCR\r\n$1\r\nx\r\n",
		"+PONG\r\n+PONG\r\n:1\r\n")
}

func TestServerProtocolErrorClosesConn(t *testing.T) {
	addr := startTestServer(t)
	nc := dialRaw(t, addr)

	_, err := nc.Write([]byte("hello\r\n"))
	require.NoError(t, err)

	nc.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, err = nc.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)

	// 服务整体不受影响
	nc2 := dialRaw(t, addr)
	roundTrip(t, nc2, "*1\r\n$4\r\nPING\r\n", "+PONG\r\n")
}

func TestServerUnknownCommandKeepsConn(t *testing.T) {
	addr := startTestServer(t)
	nc := dialRaw(t, addr)

	roundTrip(t, nc, "*1\r\n$7\r\nFLUSHDB\r\n", "-Invalid command\r\n")
	roundTrip(t, nc, "*1\r\n$4\r\nPING\r\n", "+PONG\r\n")
}

func TestServerConcurrentIncr(t *testing.T) {
	addr := startTestServer(t)

	const clients = 16
	const rounds = 50

	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			nc, err := net.Dial("tcp", addr)
			if err != nil {
				t.Error(err)
				return
			}
			defer nc.Close()
			for j := 0; j < rounds; j++ {
				if _, err := nc.Write([]byte("*2\r\n$4\r\nINCR\r\n$3\r\ncnt\r\n")); err != nil {
					t.Error(err)
					return
				}
				buf := make([]byte, 64)
				nc.SetReadDeadline(time.Now().Add(3 * time.Second))
				if _, err := nc.Read(buf); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	nc := dialRaw(t, addr)
	want := strconv.Itoa(clients * rounds)
	roundTrip(t, nc, "*2\r\n$3\r\nGET\r\n$3\r\ncnt\r\n",
		"$"+strconv.Itoa(len(want))+"\r\n"+want+"\r\n")
}

// TestServerWithRedisClient 使用标准 Redis 客户端驱动 校验协议互操作性
func TestServerWithRedisClient(t *testing.T) {
	addr := startTestServer(t)
	ctx := context.Background()

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	require.NoError(t, rdb.Ping(ctx).Err())

	require.NoError(t, rdb.Set(ctx, "foo", "bar", 0).Err())
	got, err := rdb.Get(ctx, "foo").Result()
	require.NoError(t, err)
	assert.Equal(t, "bar", got)

	_, err = rdb.Get(ctx, "missing").Result()
	assert.ErrorIs(t, err, redis.Nil)

	n, err := rdb.Incr(ctx, "counter").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = rdb.Decr(ctx, "counter").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = rdb.RPush(ctx, "list", "a", "b", "c").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	items, err := rdb.LRange(ctx, "list", 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, items)

	n, err = rdb.Exists(ctx, "foo", "list", "missing").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// 带过期时间的写入
	require.NoError(t, rdb.Set(ctx, "volatile", "v", 80*time.Millisecond).Err())
	time.Sleep(150 * time.Millisecond)
	_, err = rdb.Get(ctx, "volatile").Result()
	assert.ErrorIs(t, err, redis.Nil)
}
