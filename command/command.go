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

package command

import (
	"strconv"
	"strings"
	"time"

	"github.com/packetd/respd/common"
	"github.com/packetd/respd/protocol/resp"
	"github.com/packetd/respd/storage"
)

// Observer 写侧观察者 接收成功执行的写命令的原始入站帧字节
//
// 同一条链接上的追加顺序与命令的成功执行顺序一致
// 典型实现为 AOF 追加器 观察者不得修改传入的字节
type Observer interface {
	Append(raw []byte)
}

// handlerFunc 单个命令的处理函数 args 为去掉命令名后的参数帧
type handlerFunc func(d *Dispatcher, args []*resp.Frame) *resp.Frame

var handlers = map[string]handlerFunc{
	"COMMAND": handleCommand,
	"INFO":    handleInfo,
	"ECHO":    handleEcho,
	"PING":    handlePing,
	"SET":     handleSet,
	"GET":     handleGet,
	"INCR":    handleIncr,
	"DECR":    handleDecr,
	"EXISTS":  handleExists,
	"LPUSH":   handleLPush,
	"RPUSH":   handleRPush,
	"LRANGE":  handleLRange,
}

// mutating 标记会修改键空间的命令 仅这些命令会被转发给写侧观察者
var mutating = map[string]struct{}{
	"SET":   {},
	"INCR":  {},
	"DECR":  {},
	"LPUSH": {},
	"RPUSH": {},
}

// Dispatcher 命令分发器
//
// 分发器自身无状态 根据入站 Array 帧的首元素查表分发
// 参数合法性检查在此完成 任何异常都转换为 Errors 帧 绝不 panic
type Dispatcher struct {
	store    *storage.Store
	observer Observer
}

// New 创建并返回 Dispatcher 实例 observer 允许为空
func New(store *storage.Store, observer Observer) *Dispatcher {
	return &Dispatcher{
		store:    store,
		observer: observer,
	}
}

// Dispatch 处理单个入站帧并返回响应帧
//
// raw 为该帧在缓冲区中的原始字节 写命令成功执行后原样转发给观察者
func (d *Dispatcher) Dispatch(f *resp.Frame, raw []byte) *resp.Frame {
	if f.Type != resp.Array {
		return resp.NewError("Invalid frame type")
	}
	if f.Null || len(f.Elems) == 0 {
		return resp.NewError("Empty command")
	}

	text, ok := argText(f.Elems[0])
	if !ok {
		return resp.NewError("Invalid frame type")
	}

	name := strings.ToUpper(text)
	h, exist := handlers[name]
	if !exist {
		commandErrorsTotal.Inc()
		return resp.NewError("Invalid command")
	}
	commandsTotal.WithLabelValues(name).Inc()

	rsp := h(d, f.Elems[1:])
	if rsp.IsError() {
		commandErrorsTotal.Inc()
	} else if d.observer != nil {
		if _, yes := mutating[name]; yes {
			d.observer.Append(raw)
		}
	}
	return rsp
}

// argText 提取参数帧携带的文本 客户端以 BulkStrings 数组发送命令
// 对 SimpleStrings / Integers 做宽松兼容 其余形态视为非法参数
func argText(f *resp.Frame) (string, bool) {
	switch f.Type {
	case resp.BulkStrings:
		if f.Null {
			return "", false
		}
		return f.Str, true
	case resp.SimpleStrings:
		return f.Str, true
	case resp.Integers:
		return strconv.FormatInt(f.Int, 10), true
	}
	return "", false
}

func argInt(f *resp.Frame) (int64, bool) {
	text, ok := argText(f)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func handleCommand(_ *Dispatcher, _ []*resp.Frame) *resp.Frame {
	return resp.NewBulkString("OK")
}

func handleInfo(_ *Dispatcher, args []*resp.Frame) *resp.Frame {
	if len(args) > 0 {
		if section, ok := argText(args[0]); ok && strings.EqualFold(section, "SERVER") {
			return resp.NewBulkString("# Server\nredis_version:" + common.Version + "\n")
		}
	}
	return resp.NewBulkString("")
}

func handleEcho(_ *Dispatcher, args []*resp.Frame) *resp.Frame {
	if len(args) < 1 {
		return resp.NewError("ECHO requires an argument")
	}

	parts := make([]string, 0, len(args))
	for _, arg := range args {
		text, ok := argText(arg)
		if !ok {
			return resp.NewError("Invalid argument type")
		}
		parts = append(parts, text)
	}
	return resp.NewBulkString(strings.Join(parts, " "))
}

func handlePing(_ *Dispatcher, args []*resp.Frame) *resp.Frame {
	if len(args) > 0 {
		if text, ok := argText(args[0]); ok {
			return resp.NewSimpleString(text)
		}
		return resp.NewError("Invalid argument type")
	}
	return resp.NewSimpleString("PONG")
}

func handleSet(d *Dispatcher, args []*resp.Frame) *resp.Frame {
	if len(args) != 2 && len(args) != 4 {
		return resp.NewError("SET requires a key and a value")
	}

	key, ok1 := argText(args[0])
	val, ok2 := argText(args[1])
	if !ok1 || !ok2 {
		return resp.NewError("Invalid argument type")
	}

	var expireAt time.Time
	if len(args) == 4 {
		opt, ok := argText(args[2])
		if !ok {
			return resp.NewError("Invalid argument type")
		}
		n, ok := argInt(args[3])
		if !ok {
			return resp.NewError("value is not an integer or out of range")
		}

		switch strings.ToUpper(opt) {
		case "EX":
			expireAt = time.Now().Add(time.Duration(n) * time.Second)
		case "PX":
			expireAt = time.Now().Add(time.Duration(n) * time.Millisecond)
		default:
			return resp.NewError("SET supports only the EX and PX options")
		}
	}
	return d.store.Set(key, val, expireAt)
}

func handleGet(d *Dispatcher, args []*resp.Frame) *resp.Frame {
	if len(args) != 1 {
		return resp.NewError("GET requires a key")
	}
	key, ok := argText(args[0])
	if !ok {
		return resp.NewError("Invalid argument type")
	}
	return d.store.Get(key)
}

func handleIncr(d *Dispatcher, args []*resp.Frame) *resp.Frame {
	if len(args) != 1 {
		return resp.NewError("INCR requires a key")
	}
	key, ok := argText(args[0])
	if !ok {
		return resp.NewError("Invalid argument type")
	}
	return d.store.IncrBy(key, 1)
}

func handleDecr(d *Dispatcher, args []*resp.Frame) *resp.Frame {
	if len(args) != 1 {
		return resp.NewError("DECR requires a key")
	}
	key, ok := argText(args[0])
	if !ok {
		return resp.NewError("Invalid argument type")
	}
	return d.store.IncrBy(key, -1)
}

func handleExists(d *Dispatcher, args []*resp.Frame) *resp.Frame {
	if len(args) < 1 {
		return resp.NewError("EXISTS requires at least one key")
	}

	keys := make([]string, 0, len(args))
	for _, arg := range args {
		key, ok := argText(arg)
		if !ok {
			return resp.NewError("Invalid argument type")
		}
		keys = append(keys, key)
	}
	return d.store.Exists(keys)
}

func handleLPush(d *Dispatcher, args []*resp.Frame) *resp.Frame {
	key, vals, errFrame := keyWithValues(args, "LPUSH")
	if errFrame != nil {
		return errFrame
	}
	return d.store.LPush(key, vals)
}

func handleRPush(d *Dispatcher, args []*resp.Frame) *resp.Frame {
	key, vals, errFrame := keyWithValues(args, "RPUSH")
	if errFrame != nil {
		return errFrame
	}
	return d.store.RPush(key, vals)
}

func keyWithValues(args []*resp.Frame, name string) (string, []string, *resp.Frame) {
	if len(args) < 2 {
		return "", nil, resp.NewError(name + " requires a key and at least one value")
	}

	key, ok := argText(args[0])
	if !ok {
		return "", nil, resp.NewError("Invalid argument type")
	}

	vals := make([]string, 0, len(args)-1)
	for _, arg := range args[1:] {
		val, yes := argText(arg)
		if !yes {
			return "", nil, resp.NewError("Invalid argument type")
		}
		vals = append(vals, val)
	}
	return key, vals, nil
}

func handleLRange(d *Dispatcher, args []*resp.Frame) *resp.Frame {
	if len(args) != 3 {
		return resp.NewError("LRANGE requires a key, start and stop")
	}

	key, ok := argText(args[0])
	if !ok {
		return resp.NewError("Invalid argument type")
	}
	start, ok1 := argInt(args[1])
	stop, ok2 := argInt(args[2])
	if !ok1 || !ok2 {
		return resp.NewError("value is not an integer or out of range")
	}
	return d.store.LRange(key, start, stop)
}
