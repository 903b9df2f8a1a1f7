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
	"net"
	"sync"

	"github.com/pkg/errors"

	"github.com/packetd/respd/command"
	"github.com/packetd/respd/internal/rescue"
	"github.com/packetd/respd/logger"
)

const defaultAddress = "0.0.0.0:6379"

type Config struct {
	Address string `config:"address"`
}

func (c Config) GetAddress() string {
	if c.Address == "" {
		return defaultAddress
	}
	return c.Address
}

// Server RESP 协议 TCP 服务
//
// 每条链接由独立的 goroutine 处理 链接之间互不阻塞
// 键空间的互斥交由 storage 层保证 Server 只负责搬运字节和派发命令
type Server struct {
	config     Config
	dispatcher *command.Dispatcher

	ln     net.Listener
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// New 创建并返回 Server 实例
func New(conf Config, dispatcher *command.Dispatcher) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		config:     conf,
		dispatcher: dispatcher,
		ctx:        ctx,
		cancel:     cancel,
		conns:      make(map[net.Conn]struct{}),
	}
}

// Listen 绑定监听地址 绑定失败是致命错误 交由调用方决定退出
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.config.GetAddress())
	if err != nil {
		return errors.Wrapf(err, "listen on %s", s.config.GetAddress())
	}
	s.ln = ln
	logger.Infof("server listening on %s", ln.Addr())
	return nil
}

// Addr 返回实际监听地址 需在 Listen 成功后调用
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Serve 持续接受新链接 直到监听器被关闭
func (s *Server) Serve() {
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Warnf("accept failed: %v", err)
			continue
		}

		s.trackConn(nc, true)
		s.wg.Add(1)
		go func() {
			defer rescue.HandleCrash()
			defer s.wg.Done()
			defer s.trackConn(nc, false)
			s.handleConn(nc)
		}()
	}
}

func (s *Server) trackConn(nc net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[nc] = struct{}{}
		return
	}
	delete(s.conns, nc)
}

// Close 关闭监听器与所有活跃链接 并等待处理协程退出
func (s *Server) Close() error {
	s.cancel()

	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}

	s.mu.Lock()
	for nc := range s.conns {
		nc.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}
