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
	"net"

	"github.com/google/uuid"
	"github.com/valyala/bytebufferpool"

	"github.com/packetd/respd/common"
	"github.com/packetd/respd/logger"
	"github.com/packetd/respd/protocol/resp"
)

// handleConn 单条链接的 读取-拼帧-派发-写回 循环
//
// 链接持有一个只增的读缓冲 r 为消费游标 每轮读取后尽可能多地解出完整帧
// 同一条链接上的响应顺序与请求顺序严格一致 跨链接不做任何顺序承诺
//
// 读写错误与对端关闭都以静默关闭本链接收场 不影响服务整体
// 协议错误不尝试重新同步 直接关闭链接
func (s *Server) handleConn(nc net.Conn) {
	defer nc.Close()

	id := uuid.NewString()
	connectedClients.Inc()
	connectionsTotal.Inc()
	defer connectedClients.Dec()
	logger.Debugf("conn (%s) established from %s", id, nc.RemoteAddr())

	var buf []byte
	var r int
	block := make([]byte, common.ReadWriteBlockSize)

	for {
		n, err := nc.Read(block)
		if err != nil {
			logger.Debugf("conn (%s) closed: %v", id, err)
			return
		}
		receivedBytes.Add(float64(n))
		buf = append(buf, block[:n]...)

		for r < len(buf) {
			frame, consumed, err := resp.Decode(buf[r:])
			if err != nil {
				protocolErrorsTotal.Inc()
				logger.Warnf("conn (%s) protocol error: %v", id, err)
				return
			}
			if frame == nil {
				break
			}

			raw := buf[r : r+consumed]
			r += consumed

			rsp := s.dispatcher.Dispatch(frame, raw)
			if err := writeFrame(nc, rsp); err != nil {
				logger.Debugf("conn (%s) write failed: %v", id, err)
				return
			}
		}

		// 压缩缓冲 已消费的前缀不再保留 避免缓冲随链接生命周期线性增长
		if r == len(buf) {
			buf = buf[:0]
		} else if r > 0 {
			buf = buf[:copy(buf, buf[r:])]
		}
		r = 0
	}
}

// writeFrame 编码并一次性写出响应 编码缓冲走对象池复用
func writeFrame(nc net.Conn, f *resp.Frame) error {
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)

	bb.B = f.Append(bb.B[:0])
	n, err := nc.Write(bb.B)
	if err != nil {
		return err
	}
	sentBytes.Add(float64(n))
	return nil
}
