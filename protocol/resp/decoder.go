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

package resp

import (
	"bytes"
	"strconv"

	"github.com/pkg/errors"
)

func newError(format string, args ...any) error {
	format = "resp/decoder: " + format
	return errors.Errorf(format, args...)
}

var (
	errInvalidBytes = newError("invalid bytes")
	errDecodeN      = newError("decode NField failed")
	errUnterminated = newError("unterminated BulkStrings payload")
)

// Decode 尝试从 b 头部解析出一个完整的 Frame
//
// TCP 层的数据已经被切割 即不保证单次 Read 可以拿到完整的请求数据
// 因此调用方持有一个只增的读缓冲 反复喂给 Decode 并根据三种返回形态推进
//
//   - (frame, n, nil): 头部 n 个字节构成了恰好一个完整 Frame 消费掉这 n 个字节
//   - (nil, 0, nil):   数据尚不完整 等待更多字节后重试 不消费任何字节
//   - (nil, 0, err):   字节流不是合法的 RESP 调用方应当直接关闭链接 不尝试重新同步
//
// RESP 2.0 中数据的类型依赖于首字节
//
//   - 单行字符串 (SimpleStrings): 首字节是 "+"
//   - 错误 (Errors): 首字节是 "-"
//   - 整型 (Integers): 首字节是 ":"
//   - 多行字符串 (BulkStrings): 首字节是 "$"
//   - 数组 (Arrays): 首字节是 "*"
//
// RESP 在 Redis 中作为一个请求-响应协议以如下方式使用
//
//   - 客户端以 BulkStrings 类型数组的方式发送命令给服务器端
//   - 服务器端根据命令的具体实现返回某一种 RESP 数据类型
//
// +-----------------+                      +-----------------+
// |     Client      |                      |      Server     |
// +-----------------+                      +-----------------+
// | *2\r\n          |  ----------------->  |                 |
// | $3\r\n          |                      |                 |
// | GET\r\n         |                      |                 |
// | $4\r\n          |                      |                 |
// | key1\r\n        |                      |                 |
// |                 |  <-----------------  | $6\r\n          |
// |                 |                      | value1\r\n      |
// +-----------------+                      +-----------------+
//
// Array 的解析是整进整出的 任何一个子元素不完整则整个 Array 视为不完整
// 且不消费任何字节 下一轮从头重新解析 这保证了消费进度永远对齐 Frame 边界
func Decode(b []byte) (*Frame, int, error) {
	if len(b) == 0 {
		return nil, 0, nil
	}

	switch b[0] {
	case '+', '-', ':', '$', '*':
	default:
		return nil, 0, errInvalidBytes
	}

	end := bytes.Index(b, charCRLF)
	if end < 0 {
		return nil, 0, nil
	}

	switch b[0] {
	case '+':
		return NewSimpleString(string(b[1:end])), end + 2, nil

	case '-':
		return NewError(string(b[1:end])), end + 2, nil

	case ':':
		// 整数有效值需要在有符号 64 位整数范围内
		n, err := strconv.ParseInt(string(b[1:end]), 10, 64)
		if err != nil {
			return nil, 0, errDecodeN
		}
		return NewInteger(n), end + 2, nil

	case '$':
		return decodeBulkString(b, end)

	case '*':
		return decodeArray(b, end)
	}
	return nil, 0, errInvalidBytes
}

// decodeBulkString 解析 BulkStrings
//
// "$6\r\nfoobar\r\n" 前缀长度已知 需要消费恰好 length 个负载字节加上结尾 CRLF
// "$-1\r\n" 表示 null 除 -1 以外的负长度均为协议错误
func decodeBulkString(b []byte, end int) (*Frame, int, error) {
	length, err := decodeNField(b[1:end])
	if err != nil {
		return nil, 0, errDecodeN
	}
	if length == -1 {
		return NewNullBulkString(), end + 2, nil
	}
	if length < 0 {
		return nil, 0, errDecodeN
	}

	consumed := end + 2 + length + 2
	if len(b) < consumed {
		return nil, 0, nil
	}

	// 负载长度已知且字节充足 结尾必须恰好是 CRLF
	if !bytes.Equal(b[end+2+length:consumed], charCRLF) {
		return nil, 0, errUnterminated
	}
	return NewBulkString(string(b[end+2 : end+2+length])), consumed, nil
}

// decodeArray 递归解析 Array
//
// "*5\r\n" 以 [*] 为首字符 接着是表示数组中元素个数的十进制数 最后以 CRLF 结尾
// 数组的元素可以是任意的 RESP 数据类型 包括数组本身 即嵌套数组
func decodeArray(b []byte, end int) (*Frame, int, error) {
	n, err := decodeNField(b[1:end])
	if err != nil {
		return nil, 0, errDecodeN
	}
	if n == -1 {
		return NewNullArray(), end + 2, nil
	}
	if n < 0 {
		return nil, 0, errDecodeN
	}

	cursor := end + 2
	elems := make([]*Frame, 0, n)
	for i := 0; i < n; i++ {
		elem, consumed, err := Decode(b[cursor:])
		if err != nil {
			return nil, 0, err
		}
		if elem == nil {
			return nil, 0, nil
		}
		elems = append(elems, elem)
		cursor += consumed
	}
	return NewArray(elems...), cursor, nil
}

// decodeNField 解析 N 即 BulkStrings 或者 Array 声明的长度
func decodeNField(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, errDecodeN
	}
	return strconv.Atoi(string(b))
}
